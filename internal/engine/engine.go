// Package engine implements the market state machine: bet intake (local and
// cross-node), resolution gating, payout computation, and cancellation.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/akindolabs/pulsemarket/internal/domain"
)

// Engine drives a single market instance. Every operation runs to completion
// against the store before the next one begins; the host guarantees
// single-writer, one-operation-at-a-time semantics, so the engine holds no
// locks. A custody rejection aborts the whole operation before any state is
// saved.
type Engine struct {
	node    domain.NodeID
	home    domain.NodeID
	market  uuid.UUID
	store   domain.MarketStore
	custody domain.CustodyGateway
	relay   domain.RelaySender
	audit   domain.AuditStore // optional
	now     func() time.Time
	logger  *slog.Logger
}

// Config bundles the engine's dependencies.
type Config struct {
	Node    domain.NodeID
	Home    domain.NodeID
	Market  uuid.UUID
	Store   domain.MarketStore
	Custody domain.CustodyGateway
	Relay   domain.RelaySender
	Audit   domain.AuditStore
	Now     func() time.Time
	Logger  *slog.Logger
}

// New creates an Engine. Now defaults to time.Now and Logger to
// slog.Default when unset.
func New(cfg Config) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		node:    cfg.Node,
		home:    cfg.Home,
		market:  cfg.Market,
		store:   cfg.Store,
		custody: cfg.Custody,
		relay:   cfg.Relay,
		audit:   cfg.Audit,
		now:     cfg.Now,
		logger:  cfg.Logger,
	}
}

// IsHomeNode reports whether this engine runs on the market's home node.
func (e *Engine) IsHomeNode() bool { return e.node == e.home }

// CreateMarket validates the instantiation parameters and persists a fresh
// Active market. The deadline must be strictly in the future.
func (e *Engine) CreateMarket(ctx context.Context, params domain.MarketParams) error {
	if !params.Deadline.After(e.now()) {
		return fmt.Errorf("engine: create market: %w", domain.ErrDeadlineInPast)
	}
	state := domain.NewMarketState(params)
	if err := e.store.Create(ctx, state); err != nil {
		return fmt.Errorf("engine: create market: %w", err)
	}
	e.logger.InfoContext(ctx, "engine: market created",
		slog.String("market_id", params.ID.String()),
		slog.String("question", params.Question),
		slog.Time("deadline", params.Deadline),
	)
	return nil
}

// PlaceBet escrows amount on outcome for owner. On the home node the funds
// move straight into escrow and the ledger is updated; on any other node the
// funds move to the owner's account on the home node and the bet travels
// there in a relay envelope, leaving local market state untouched.
func (e *Engine) PlaceBet(ctx context.Context, owner domain.AccountID, outcome domain.Outcome, amount domain.Amount) error {
	if !outcome.Valid() {
		return fmt.Errorf("engine: place bet: %w: %q", domain.ErrInvalidOutcome, outcome)
	}
	if amount.IsZero() {
		return fmt.Errorf("engine: place bet: %w", domain.ErrInvalidAmount)
	}

	if e.IsHomeNode() {
		return e.placeBetLocal(ctx, owner, outcome, amount)
	}
	return e.placeBetRelayed(ctx, owner, outcome, amount)
}

// placeBetLocal runs the direct path on the home node: pull the stake into
// escrow, then record it.
func (e *Engine) placeBetLocal(ctx context.Context, owner domain.AccountID, outcome domain.Outcome, amount domain.Amount) error {
	state, err := e.store.Load(ctx, e.market)
	if err != nil {
		return fmt.Errorf("engine: place bet: %w", err)
	}
	if !state.Status.IsActive() {
		return fmt.Errorf("engine: place bet: %w", domain.ErrNotActive)
	}

	// Funds first: if custody rejects, nothing has been staged.
	err = e.custody.Transfer(ctx, domain.TransferRequest{
		Owner:  owner,
		Amount: amount,
		Target: domain.Account{Node: e.node, Owner: state.Params.Escrow},
	})
	if err != nil {
		return fmt.Errorf("engine: place bet: escrow transfer: %w", err)
	}

	state.AddBet(owner, outcome, amount)
	if err := e.store.Save(ctx, state); err != nil {
		return fmt.Errorf("engine: place bet: %w", err)
	}

	e.logAudit(ctx, "bet_placed", map[string]any{
		"owner":   owner.Hex(),
		"outcome": string(outcome),
		"amount":  uint64(amount),
	})
	e.logger.InfoContext(ctx, "engine: bet placed",
		slog.String("owner", owner.Hex()),
		slog.String("outcome", string(outcome)),
		slog.Uint64("amount", uint64(amount)),
	)
	return nil
}

// placeBetRelayed runs the non-home path: move the stake to the owner's own
// account on the home node (ownership preserved in transit), then forward an
// authenticated envelope so the home node records the bet.
func (e *Engine) placeBetRelayed(ctx context.Context, owner domain.AccountID, outcome domain.Outcome, amount domain.Amount) error {
	state, err := e.store.Load(ctx, e.market)
	if err != nil {
		return fmt.Errorf("engine: place bet: %w", err)
	}
	if !state.Status.IsActive() {
		return fmt.Errorf("engine: place bet: %w", domain.ErrNotActive)
	}

	err = e.custody.Transfer(ctx, domain.TransferRequest{
		Owner:  owner,
		Amount: amount,
		Target: domain.Account{Node: e.home, Owner: owner},
	})
	if err != nil {
		return fmt.Errorf("engine: place bet: transfer to home node: %w", err)
	}

	env := domain.Envelope{
		ID:      uuid.New(),
		Market:  e.market,
		Origin:  e.node,
		Target:  e.home,
		Owner:   owner,
		Outcome: outcome,
		Amount:  amount,
		SentAt:  e.now().Unix(),
	}
	if err := e.relay.Send(ctx, env); err != nil {
		return fmt.Errorf("engine: place bet: relay: %w", err)
	}

	e.logger.InfoContext(ctx, "engine: bet relayed to home node",
		slog.String("owner", owner.Hex()),
		slog.String("outcome", string(outcome)),
		slog.Uint64("amount", uint64(amount)),
		slog.String("envelope_id", env.ID.String()),
	)
	return nil
}

// HandleEnvelope records a bet delivered by the cross-node relay. It runs
// the identical routine as a local bet: the funds were relocated to the
// owner's home-node account by the origin node, and are pulled into escrow
// here. The home-node assertion should always hold by construction of the
// delivery address; it guards against address confusion.
func (e *Engine) HandleEnvelope(ctx context.Context, env domain.Envelope) error {
	if !e.IsHomeNode() {
		return fmt.Errorf("engine: relay bet: %w", domain.ErrNotHomeNode)
	}
	if env.Market != e.market {
		return fmt.Errorf("engine: relay bet: %w: market %s", domain.ErrBadEnvelope, env.Market)
	}
	if !env.Outcome.Valid() {
		return fmt.Errorf("engine: relay bet: %w: %q", domain.ErrInvalidOutcome, env.Outcome)
	}
	if env.Amount.IsZero() {
		return fmt.Errorf("engine: relay bet: %w", domain.ErrInvalidAmount)
	}
	return e.placeBetLocal(ctx, env.Owner, env.Outcome, env.Amount)
}

// ResolveMarket flips an Active market to Resolved with the winning outcome.
// Only the market owner may resolve, and only once the deadline has passed;
// resolution at exactly the deadline succeeds. Terminal and one-way.
func (e *Engine) ResolveMarket(ctx context.Context, caller domain.AccountID, winning domain.Outcome) error {
	if !winning.Valid() {
		return fmt.Errorf("engine: resolve market: %w: %q", domain.ErrInvalidOutcome, winning)
	}

	state, err := e.store.Load(ctx, e.market)
	if err != nil {
		return fmt.Errorf("engine: resolve market: %w", err)
	}
	if caller != state.Params.Owner {
		return fmt.Errorf("engine: resolve market: %w", domain.ErrUnauthorized)
	}
	if !state.Status.IsActive() {
		return fmt.Errorf("engine: resolve market: %w", domain.ErrNotActive)
	}
	if e.now().Before(state.Params.Deadline) {
		return fmt.Errorf("engine: resolve market: %w", domain.ErrDeadlineNotReached)
	}

	state.Status = domain.StatusResolved(winning)
	if err := e.store.Save(ctx, state); err != nil {
		return fmt.Errorf("engine: resolve market: %w", err)
	}

	e.logAudit(ctx, "market_resolved", map[string]any{
		"winning_outcome": string(winning),
	})
	e.logger.InfoContext(ctx, "engine: market resolved",
		slog.String("winning_outcome", string(winning)),
	)
	return nil
}

// ClaimWinnings pays owner their stake plus a pro-rata share of the losing
// pool, then removes the ledger entry so a second claim fails. Pool totals
// are never touched after resolution; they exist only for the payout ratio.
func (e *Engine) ClaimWinnings(ctx context.Context, owner domain.AccountID) error {
	state, err := e.store.Load(ctx, e.market)
	if err != nil {
		return fmt.Errorf("engine: claim winnings: %w", err)
	}
	winning, ok := state.Status.Winner()
	if !ok {
		return fmt.Errorf("engine: claim winnings: %w", domain.ErrNotResolved)
	}

	ledger := state.Ledger(winning)
	bet := ledger[owner]
	if bet.IsZero() {
		return fmt.Errorf("engine: claim winnings: %w", domain.ErrNoWinningBet)
	}

	winnings := domain.Winnings(bet, state.Total(winning), state.Total(winning.Opposite()))

	err = e.custody.Transfer(ctx, domain.TransferRequest{
		Owner:  state.Params.Escrow,
		Amount: winnings,
		Target: domain.Account{Node: e.node, Owner: owner},
	})
	if err != nil {
		return fmt.Errorf("engine: claim winnings: payout transfer: %w", err)
	}

	delete(ledger, owner)
	if err := e.store.Save(ctx, state); err != nil {
		return fmt.Errorf("engine: claim winnings: %w", err)
	}

	e.logAudit(ctx, "winnings_claimed", map[string]any{
		"owner":    owner.Hex(),
		"bet":      uint64(bet),
		"winnings": uint64(winnings),
	})
	e.logger.InfoContext(ctx, "engine: winnings claimed",
		slog.String("owner", owner.Hex()),
		slog.Uint64("winnings", uint64(winnings)),
	)
	return nil
}

// CancelMarket refunds every stake on both sides and flips the market to
// Cancelled. Only the owner may cancel, at any time while Active, deadline
// or not. Each refunded entry is deleted and the state saved before the
// next transfer, so an interrupted cancellation can be re-run without
// double-paying anyone already cleared. Refund order is unspecified.
func (e *Engine) CancelMarket(ctx context.Context, caller domain.AccountID) error {
	state, err := e.store.Load(ctx, e.market)
	if err != nil {
		return fmt.Errorf("engine: cancel market: %w", err)
	}
	if caller != state.Params.Owner {
		return fmt.Errorf("engine: cancel market: %w", domain.ErrUnauthorized)
	}
	if !state.Status.IsActive() {
		return fmt.Errorf("engine: cancel market: %w", domain.ErrNotActive)
	}

	for _, outcome := range []domain.Outcome{domain.OutcomeYes, domain.OutcomeNo} {
		if err := e.refundLedger(ctx, state, outcome); err != nil {
			return fmt.Errorf("engine: cancel market: %w", err)
		}
	}

	state.Status = domain.StatusCancelled()
	if err := e.store.Save(ctx, state); err != nil {
		return fmt.Errorf("engine: cancel market: %w", err)
	}

	e.logAudit(ctx, "market_cancelled", nil)
	e.logger.InfoContext(ctx, "engine: market cancelled")
	return nil
}

// refundLedger returns every stake in the outcome's ledger to its owner,
// persisting after each refund.
func (e *Engine) refundLedger(ctx context.Context, state *domain.MarketState, outcome domain.Outcome) error {
	ledger := state.Ledger(outcome)
	for owner, amount := range ledger {
		err := e.custody.Transfer(ctx, domain.TransferRequest{
			Owner:  state.Params.Escrow,
			Amount: amount,
			Target: domain.Account{Node: e.node, Owner: owner},
		})
		if err != nil {
			return fmt.Errorf("refund %s to %s: %w", outcome, owner.Hex(), err)
		}
		delete(ledger, owner)
		if err := e.store.Save(ctx, state); err != nil {
			return fmt.Errorf("refund %s to %s: %w", outcome, owner.Hex(), err)
		}
		e.logAudit(ctx, "bet_refunded", map[string]any{
			"owner":   owner.Hex(),
			"outcome": string(outcome),
			"amount":  uint64(amount),
		})
	}
	return nil
}

// logAudit appends an audit entry when an audit store is configured. Audit
// failures do not abort the operation that triggered them.
func (e *Engine) logAudit(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, e.market, event, detail); err != nil {
		e.logger.WarnContext(ctx, "engine: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
