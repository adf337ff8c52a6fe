package domain

import (
	"context"

	"github.com/google/uuid"
)

// Envelope is an authenticated cross-node message carrying a bet to be
// recorded on the market's home node. The signature covers every field
// above it; the payload is trusted only after verification.
type Envelope struct {
	ID        uuid.UUID `json:"id"`
	Market    uuid.UUID `json:"market"`
	Origin    NodeID    `json:"origin"`
	Target    NodeID    `json:"target"`
	Owner     AccountID `json:"owner"`
	Outcome   Outcome   `json:"outcome"`
	Amount    Amount    `json:"amount"`
	SentAt    int64     `json:"sent_at"`
	Signature string    `json:"signature"`
}

// RelaySender delivers an envelope to its target node. Delivery reliability
// and exactly-once semantics are the transport's contract, not the sender's.
type RelaySender interface {
	Send(ctx context.Context, env Envelope) error
}

// RelayTransport is the raw node-to-node delivery substrate.
type RelayTransport interface {
	Publish(ctx context.Context, node NodeID, payload []byte) error
	// Subscribe returns a channel of raw payloads addressed to node. The
	// channel is closed when ctx is cancelled.
	Subscribe(ctx context.Context, node NodeID) (<-chan []byte, error)
}
