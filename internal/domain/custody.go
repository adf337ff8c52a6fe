package domain

import "context"

// TransferRequest asks the custody service to move funds out of Owner's
// account on the calling node into the target account. The request is
// authenticated as Owner, which may be a user or the market's escrow
// identity when paying out.
type TransferRequest struct {
	Owner  AccountID
	Amount Amount
	Target Account
}

// CustodyGateway is the external asset-custody service. Transfers are
// synchronous, balance-checked, and atomic per call; a returned error means
// no funds moved and the calling operation must abort.
type CustodyGateway interface {
	Transfer(ctx context.Context, req TransferRequest) error
}
