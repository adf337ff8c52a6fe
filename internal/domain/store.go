package domain

import (
	"context"

	"github.com/google/uuid"
)

// MarketStore persists the full state of a market instance with load/save
// semantics. Save replaces the stored state wholesale; the engine's
// serialized execution guarantees there is never a concurrent writer.
type MarketStore interface {
	Create(ctx context.Context, state *MarketState) error
	Load(ctx context.Context, id uuid.UUID) (*MarketState, error)
	Save(ctx context.Context, state *MarketState) error
}

// AuditStore records an append-only log of market operations.
type AuditStore interface {
	Log(ctx context.Context, market uuid.UUID, event string, detail map[string]any) error
}
