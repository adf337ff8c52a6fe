package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// AccountID identifies the owner of a custody balance: a user, the market
// owner, or the market's own escrow identity.
type AccountID = common.Address

// ParseAccountID parses a 0x-prefixed hex address into an AccountID.
func ParseAccountID(s string) (AccountID, error) {
	if !common.IsHexAddress(s) {
		return AccountID{}, fmt.Errorf("domain: invalid account id %q", s)
	}
	return common.HexToAddress(s), nil
}

// NodeID identifies a node in the host ledger network.
type NodeID string

// Account is a balance location: an owner's funds held on a specific node.
type Account struct {
	Node  NodeID
	Owner AccountID
}
