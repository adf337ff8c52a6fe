package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/akindolabs/pulsemarket/internal/domain"
	"github.com/akindolabs/pulsemarket/internal/store/memory"
)

const (
	homeNode   = domain.NodeID("node-home")
	remoteNode = domain.NodeID("node-remote")
)

func account(b byte) domain.AccountID {
	var a domain.AccountID
	a[len(a)-1] = b
	return a
}

var (
	marketOwner = account(0xAA)
	escrow      = account(0xEE)
	userA       = account(1)
	userB       = account(2)
	userC       = account(3)
)

// fakeCustody records transfer requests and can be told to reject the n-th
// call (1-based).
type fakeCustody struct {
	calls  []domain.TransferRequest
	failOn int
	err    error
}

func (f *fakeCustody) Transfer(_ context.Context, req domain.TransferRequest) error {
	if f.failOn > 0 && len(f.calls)+1 == f.failOn {
		if f.err != nil {
			return f.err
		}
		return errors.New("custody rejected")
	}
	f.calls = append(f.calls, req)
	return nil
}

// transfersTo sums the amounts transferred to owner's account on any node.
func (f *fakeCustody) transfersTo(owner domain.AccountID) domain.Amount {
	var sum domain.Amount
	for _, c := range f.calls {
		if c.Target.Owner == owner {
			sum = sum.SaturatingAdd(c.Amount)
		}
	}
	return sum
}

// fakeRelay records envelopes instead of delivering them.
type fakeRelay struct {
	sent []domain.Envelope
}

func (f *fakeRelay) Send(_ context.Context, env domain.Envelope) error {
	f.sent = append(f.sent, env)
	return nil
}

type testEnv struct {
	engine  *Engine
	store   *memory.MarketStore
	custody *fakeCustody
	relay   *fakeRelay
	now     *time.Time
	market  uuid.UUID
}

// newTestEnv creates an engine on the given node with a fresh market whose
// deadline is one hour out.
func newTestEnv(t *testing.T, node domain.NodeID) *testEnv {
	t.Helper()

	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	env := &testEnv{
		store:   memory.NewMarketStore(),
		custody: &fakeCustody{},
		relay:   &fakeRelay{},
		now:     &now,
		market:  uuid.New(),
	}

	env.engine = New(Config{
		Node:    node,
		Home:    homeNode,
		Market:  env.market,
		Store:   env.store,
		Custody: env.custody,
		Relay:   env.relay,
		Now:     func() time.Time { return *env.now },
	})

	params := domain.MarketParams{
		ID:       env.market,
		Owner:    marketOwner,
		Escrow:   escrow,
		Deadline: now.Add(time.Hour),
		Question: "Will it rain tomorrow?",
	}
	if err := env.engine.CreateMarket(context.Background(), params); err != nil {
		t.Fatalf("CreateMarket failed: %v", err)
	}
	return env
}

func (env *testEnv) advancePastDeadline() {
	*env.now = env.now.Add(2 * time.Hour)
}

func (env *testEnv) state(t *testing.T) *domain.MarketState {
	t.Helper()
	state, err := env.store.Load(context.Background(), env.market)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	return state
}

func (env *testEnv) mustResolve(t *testing.T, winning domain.Outcome) {
	t.Helper()
	env.advancePastDeadline()
	if err := env.engine.ResolveMarket(context.Background(), marketOwner, winning); err != nil {
		t.Fatalf("ResolveMarket failed: %v", err)
	}
}

func (env *testEnv) mustBet(t *testing.T, owner domain.AccountID, o domain.Outcome, amount domain.Amount) {
	t.Helper()
	if err := env.engine.PlaceBet(context.Background(), owner, o, amount); err != nil {
		t.Fatalf("PlaceBet(%s, %d) failed: %v", o, amount, err)
	}
}

func TestCreateMarketDeadlineInPast(t *testing.T) {
	env := newTestEnv(t, homeNode)

	params := domain.MarketParams{
		ID:       uuid.New(),
		Owner:    marketOwner,
		Escrow:   escrow,
		Deadline: *env.now, // not strictly in the future
		Question: "q",
	}
	err := env.engine.CreateMarket(context.Background(), params)
	if !errors.Is(err, domain.ErrDeadlineInPast) {
		t.Errorf("error = %v, want ErrDeadlineInPast", err)
	}
}

func TestPlaceBetZeroAmount(t *testing.T) {
	env := newTestEnv(t, homeNode)

	err := env.engine.PlaceBet(context.Background(), userA, domain.OutcomeYes, 0)
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("error = %v, want ErrInvalidAmount", err)
	}

	// Still fails after resolution, for the same reason.
	env.mustResolve(t, domain.OutcomeYes)
	err = env.engine.PlaceBet(context.Background(), userA, domain.OutcomeYes, 0)
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("error after resolve = %v, want ErrInvalidAmount", err)
	}
}

func TestPlaceBetInvalidOutcome(t *testing.T) {
	env := newTestEnv(t, homeNode)

	err := env.engine.PlaceBet(context.Background(), userA, domain.Outcome("maybe"), 10)
	if !errors.Is(err, domain.ErrInvalidOutcome) {
		t.Errorf("error = %v, want ErrInvalidOutcome", err)
	}
}

func TestPlaceBetHomeNode(t *testing.T) {
	env := newTestEnv(t, homeNode)

	env.mustBet(t, userA, domain.OutcomeYes, 100)
	env.mustBet(t, userA, domain.OutcomeYes, 25)
	env.mustBet(t, userB, domain.OutcomeNo, 50)

	state := env.state(t)
	if got := state.YesBets[userA]; got != 125 {
		t.Errorf("yes_bets[A] = %d, want 125", got)
	}
	if state.TotalYes != 125 || state.TotalNo != 50 {
		t.Errorf("totals = %d/%d, want 125/50", state.TotalYes, state.TotalNo)
	}

	// Every stake went straight into escrow, authenticated by its owner.
	if len(env.custody.calls) != 3 {
		t.Fatalf("custody calls = %d, want 3", len(env.custody.calls))
	}
	first := env.custody.calls[0]
	if first.Owner != userA || first.Target.Owner != escrow || first.Target.Node != homeNode {
		t.Errorf("unexpected escrow transfer: %+v", first)
	}

	// Nothing was relayed on the direct path.
	if len(env.relay.sent) != 0 {
		t.Errorf("relay envelopes = %d, want 0", len(env.relay.sent))
	}
}

func TestPlaceBetCustodyRejected(t *testing.T) {
	env := newTestEnv(t, homeNode)
	env.custody.failOn = 1

	err := env.engine.PlaceBet(context.Background(), userA, domain.OutcomeYes, 100)
	if err == nil {
		t.Fatal("expected error when custody rejects")
	}

	state := env.state(t)
	if len(state.YesBets) != 0 || state.TotalYes != 0 {
		t.Errorf("ledger mutated despite custody rejection: %+v", state.YesBets)
	}
}

func TestPlaceBetNotActive(t *testing.T) {
	env := newTestEnv(t, homeNode)
	env.mustResolve(t, domain.OutcomeYes)

	err := env.engine.PlaceBet(context.Background(), userA, domain.OutcomeYes, 10)
	if !errors.Is(err, domain.ErrNotActive) {
		t.Errorf("error = %v, want ErrNotActive", err)
	}
}

func TestPlaceBetRemoteNode(t *testing.T) {
	env := newTestEnv(t, remoteNode)

	env.mustBet(t, userC, domain.OutcomeNo, 20)

	// Funds moved to the owner's own account on the home node, not escrow.
	if len(env.custody.calls) != 1 {
		t.Fatalf("custody calls = %d, want 1", len(env.custody.calls))
	}
	call := env.custody.calls[0]
	if call.Owner != userC || call.Target.Node != homeNode || call.Target.Owner != userC {
		t.Errorf("transit transfer should preserve ownership: %+v", call)
	}

	// The bet travelled in an envelope addressed to the home node.
	if len(env.relay.sent) != 1 {
		t.Fatalf("relay envelopes = %d, want 1", len(env.relay.sent))
	}
	env2 := env.relay.sent[0]
	if env2.Target != homeNode || env2.Origin != remoteNode {
		t.Errorf("envelope addressing = %s -> %s", env2.Origin, env2.Target)
	}
	if env2.Owner != userC || env2.Outcome != domain.OutcomeNo || env2.Amount != 20 {
		t.Errorf("envelope payload = %+v", env2)
	}

	// The remote path mutates no local market state.
	state := env.state(t)
	if len(state.NoBets) != 0 || state.TotalNo != 0 {
		t.Errorf("remote node ledger mutated: %+v", state.NoBets)
	}
}

func TestHandleEnvelopeOnHomeNode(t *testing.T) {
	env := newTestEnv(t, homeNode)

	err := env.engine.HandleEnvelope(context.Background(), domain.Envelope{
		ID:      uuid.New(),
		Market:  env.market,
		Origin:  remoteNode,
		Target:  homeNode,
		Owner:   userC,
		Outcome: domain.OutcomeNo,
		Amount:  20,
	})
	if err != nil {
		t.Fatalf("HandleEnvelope failed: %v", err)
	}

	state := env.state(t)
	if got := state.NoBets[userC]; got != 20 {
		t.Errorf("no_bets[C] = %d, want 20", got)
	}
	if state.TotalNo != 20 {
		t.Errorf("total_no = %d, want 20", state.TotalNo)
	}

	// The relayed bet pulls the relocated funds from the owner's home-node
	// account into escrow, same as a local bet.
	if len(env.custody.calls) != 1 {
		t.Fatalf("custody calls = %d, want 1", len(env.custody.calls))
	}
	call := env.custody.calls[0]
	if call.Owner != userC || call.Target.Owner != escrow {
		t.Errorf("escrow pull = %+v", call)
	}
}

func TestHandleEnvelopeNotHomeNode(t *testing.T) {
	env := newTestEnv(t, remoteNode)

	err := env.engine.HandleEnvelope(context.Background(), domain.Envelope{
		ID:      uuid.New(),
		Market:  env.market,
		Target:  remoteNode,
		Owner:   userC,
		Outcome: domain.OutcomeNo,
		Amount:  20,
	})
	if !errors.Is(err, domain.ErrNotHomeNode) {
		t.Errorf("error = %v, want ErrNotHomeNode", err)
	}
}

func TestHandleEnvelopeWrongMarket(t *testing.T) {
	env := newTestEnv(t, homeNode)

	err := env.engine.HandleEnvelope(context.Background(), domain.Envelope{
		ID:      uuid.New(),
		Market:  uuid.New(),
		Target:  homeNode,
		Owner:   userC,
		Outcome: domain.OutcomeNo,
		Amount:  20,
	})
	if !errors.Is(err, domain.ErrBadEnvelope) {
		t.Errorf("error = %v, want ErrBadEnvelope", err)
	}
}

func TestResolveMarket(t *testing.T) {
	t.Run("unauthorized caller", func(t *testing.T) {
		env := newTestEnv(t, homeNode)
		env.advancePastDeadline()
		err := env.engine.ResolveMarket(context.Background(), userA, domain.OutcomeYes)
		if !errors.Is(err, domain.ErrUnauthorized) {
			t.Errorf("error = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("before deadline", func(t *testing.T) {
		env := newTestEnv(t, homeNode)
		err := env.engine.ResolveMarket(context.Background(), marketOwner, domain.OutcomeYes)
		if !errors.Is(err, domain.ErrDeadlineNotReached) {
			t.Errorf("error = %v, want ErrDeadlineNotReached", err)
		}
	})

	t.Run("at exactly the deadline", func(t *testing.T) {
		env := newTestEnv(t, homeNode)
		*env.now = env.state(t).Params.Deadline
		if err := env.engine.ResolveMarket(context.Background(), marketOwner, domain.OutcomeYes); err != nil {
			t.Fatalf("resolve at deadline failed: %v", err)
		}
		if w, ok := env.state(t).Status.Winner(); !ok || w != domain.OutcomeYes {
			t.Errorf("status = %s, want resolved:yes", env.state(t).Status)
		}
	})

	t.Run("double resolution", func(t *testing.T) {
		env := newTestEnv(t, homeNode)
		env.mustResolve(t, domain.OutcomeYes)
		err := env.engine.ResolveMarket(context.Background(), marketOwner, domain.OutcomeNo)
		if !errors.Is(err, domain.ErrNotActive) {
			t.Errorf("error = %v, want ErrNotActive", err)
		}
	})
}

// Create market, deadline now+1h. A bets 100 on Yes, B bets 50 on No.
// Past deadline, resolve Yes. A claims 150; B's claim fails; A's second
// claim fails.
func TestClaimScenario(t *testing.T) {
	env := newTestEnv(t, homeNode)
	env.mustBet(t, userA, domain.OutcomeYes, 100)
	env.mustBet(t, userB, domain.OutcomeNo, 50)
	env.mustResolve(t, domain.OutcomeYes)

	staked := len(env.custody.calls)

	if err := env.engine.ClaimWinnings(context.Background(), userA); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	payout := env.custody.calls[staked]
	if payout.Owner != escrow || payout.Target.Owner != userA || payout.Amount != 150 {
		t.Errorf("payout = %+v, want 150 from escrow to A", payout)
	}

	// Totals are historical and stay frozen after a claim.
	state := env.state(t)
	if state.TotalYes != 100 || state.TotalNo != 50 {
		t.Errorf("totals changed on claim: %d/%d", state.TotalYes, state.TotalNo)
	}
	if _, ok := state.YesBets[userA]; ok {
		t.Error("A's entry should be removed after claiming")
	}

	// B has no yes stake.
	if err := env.engine.ClaimWinnings(context.Background(), userB); !errors.Is(err, domain.ErrNoWinningBet) {
		t.Errorf("B's claim error = %v, want ErrNoWinningBet", err)
	}

	// A's entry is gone, so a second claim fails the same check.
	if err := env.engine.ClaimWinnings(context.Background(), userA); !errors.Is(err, domain.ErrNoWinningBet) {
		t.Errorf("A's second claim error = %v, want ErrNoWinningBet", err)
	}
}

func TestClaimBeforeResolution(t *testing.T) {
	env := newTestEnv(t, homeNode)
	env.mustBet(t, userA, domain.OutcomeYes, 100)

	err := env.engine.ClaimWinnings(context.Background(), userA)
	if !errors.Is(err, domain.ErrNotResolved) {
		t.Errorf("error = %v, want ErrNotResolved", err)
	}
}

func TestClaimAfterCancellation(t *testing.T) {
	env := newTestEnv(t, homeNode)
	env.mustBet(t, userA, domain.OutcomeYes, 100)
	if err := env.engine.CancelMarket(context.Background(), marketOwner); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	err := env.engine.ClaimWinnings(context.Background(), userA)
	if !errors.Is(err, domain.ErrNotResolved) {
		t.Errorf("error = %v, want ErrNotResolved", err)
	}
}

func TestClaimCustodyRejected(t *testing.T) {
	env := newTestEnv(t, homeNode)
	env.mustBet(t, userA, domain.OutcomeYes, 100)
	env.mustResolve(t, domain.OutcomeYes)

	env.custody.failOn = len(env.custody.calls) + 1
	if err := env.engine.ClaimWinnings(context.Background(), userA); err == nil {
		t.Fatal("expected error when payout transfer rejected")
	}

	// The entry survives, so the claim can be retried.
	if got := env.state(t).YesBets[userA]; got != 100 {
		t.Errorf("yes_bets[A] = %d, want 100 after failed payout", got)
	}
}

// Payouts with rounding dust never exceed the combined pools.
func TestClaimSumWithinPools(t *testing.T) {
	env := newTestEnv(t, homeNode)
	env.mustBet(t, userA, domain.OutcomeYes, 1)
	env.mustBet(t, userB, domain.OutcomeYes, 1)
	env.mustBet(t, userC, domain.OutcomeYes, 1)
	env.mustBet(t, account(4), domain.OutcomeNo, 100)
	env.mustResolve(t, domain.OutcomeYes)

	staked := len(env.custody.calls)
	for _, u := range []domain.AccountID{userA, userB, userC} {
		if err := env.engine.ClaimWinnings(context.Background(), u); err != nil {
			t.Fatalf("claim for %s failed: %v", u.Hex(), err)
		}
	}

	var paid domain.Amount
	for _, c := range env.custody.calls[staked:] {
		paid = paid.SaturatingAdd(c.Amount)
	}
	// Each winner gets 1 + floor(100*1/3) = 34; the remaining dust stays in
	// escrow forever.
	if paid != 102 {
		t.Errorf("total paid = %d, want 102", paid)
	}
	if paid > 103 {
		t.Errorf("over-issuance: paid %d from pools of 103", paid)
	}
}

// Create market, A bets 30 Yes, B bets 70 No. Owner cancels before the
// deadline. Both receive exactly their stake back, ledgers empty, status
// Cancelled, and every subsequent operation fails.
func TestCancelScenario(t *testing.T) {
	env := newTestEnv(t, homeNode)
	env.mustBet(t, userA, domain.OutcomeYes, 30)
	env.mustBet(t, userB, domain.OutcomeNo, 70)

	staked := len(env.custody.calls)
	if err := env.engine.CancelMarket(context.Background(), marketOwner); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	refunds := env.custody.calls[staked:]
	if len(refunds) != 2 {
		t.Fatalf("refund transfers = %d, want 2", len(refunds))
	}
	for _, r := range refunds {
		if r.Owner != escrow {
			t.Errorf("refund not paid from escrow: %+v", r)
		}
	}
	if got := env.custody.transfersTo(userA); got != 30 {
		t.Errorf("A refunds = %d, want 30", got)
	}
	if env.custody.transfersTo(userB) != 70 {
		t.Errorf("B refunds = %d, want 70", env.custody.transfersTo(userB))
	}

	state := env.state(t)
	if len(state.YesBets) != 0 || len(state.NoBets) != 0 {
		t.Errorf("ledgers not empty after cancel: %d/%d", len(state.YesBets), len(state.NoBets))
	}
	if !state.Status.IsCancelled() {
		t.Errorf("status = %s, want cancelled", state.Status)
	}

	if err := env.engine.PlaceBet(context.Background(), userC, domain.OutcomeYes, 5); !errors.Is(err, domain.ErrNotActive) {
		t.Errorf("bet after cancel error = %v, want ErrNotActive", err)
	}
	env.advancePastDeadline()
	if err := env.engine.ResolveMarket(context.Background(), marketOwner, domain.OutcomeYes); !errors.Is(err, domain.ErrNotActive) {
		t.Errorf("resolve after cancel error = %v, want ErrNotActive", err)
	}
}

func TestCancelUnauthorized(t *testing.T) {
	env := newTestEnv(t, homeNode)
	err := env.engine.CancelMarket(context.Background(), userA)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("error = %v, want ErrUnauthorized", err)
	}
}

// An interrupted cancellation can be re-run without double-paying users who
// were already refunded: each refunded entry is deleted and persisted before
// the next transfer.
func TestCancelResumable(t *testing.T) {
	env := newTestEnv(t, homeNode)
	env.mustBet(t, userA, domain.OutcomeYes, 30)
	env.mustBet(t, userB, domain.OutcomeNo, 70)

	// First refund (the yes ledger) succeeds, second is rejected.
	env.custody.failOn = len(env.custody.calls) + 2
	if err := env.engine.CancelMarket(context.Background(), marketOwner); err == nil {
		t.Fatal("expected error from interrupted cancellation")
	}

	state := env.state(t)
	if !state.Status.IsActive() {
		t.Errorf("status = %s, want still active after interruption", state.Status)
	}
	if _, ok := state.YesBets[userA]; ok {
		t.Error("refunded entry should have been cleared before the failure")
	}
	if got := state.NoBets[userB]; got != 70 {
		t.Errorf("no_bets[B] = %d, want 70 still pending", got)
	}

	// Re-run completes the cancellation and refunds only the pending entry.
	env.custody.failOn = 0
	if err := env.engine.CancelMarket(context.Background(), marketOwner); err != nil {
		t.Fatalf("re-run cancel failed: %v", err)
	}
	if got := env.custody.transfersTo(userA); got != 30 {
		t.Errorf("A refunded %d total, want exactly 30 (no double pay)", got)
	}
	if got := env.custody.transfersTo(userB); got != 70 {
		t.Errorf("B refunded %d total, want exactly 70", got)
	}
	if !env.state(t).Status.IsCancelled() {
		t.Errorf("status = %s, want cancelled", env.state(t).Status)
	}
}

// The totals invariant holds at every reachable Active state.
func TestTotalsInvariant(t *testing.T) {
	env := newTestEnv(t, homeNode)
	bets := []struct {
		owner  domain.AccountID
		o      domain.Outcome
		amount domain.Amount
	}{
		{userA, domain.OutcomeYes, 100},
		{userB, domain.OutcomeNo, 50},
		{userA, domain.OutcomeNo, 7}, // both sides is allowed pre-resolution
		{userC, domain.OutcomeYes, 13},
	}

	for _, b := range bets {
		env.mustBet(t, b.owner, b.o, b.amount)

		state := env.state(t)
		for _, o := range []domain.Outcome{domain.OutcomeYes, domain.OutcomeNo} {
			var sum domain.Amount
			for _, v := range state.Ledger(o) {
				sum = sum.SaturatingAdd(v)
			}
			if sum != state.Total(o) {
				t.Fatalf("%s invariant broken: total %d, sum %d", o, state.Total(o), sum)
			}
		}
	}
}

// A bettor on both sides is only ever paid from the winning ledger; the
// losing stake is forfeited into the pool.
func TestBothSidesBettorClaimsWinningSideOnly(t *testing.T) {
	env := newTestEnv(t, homeNode)
	env.mustBet(t, userA, domain.OutcomeYes, 100)
	env.mustBet(t, userA, domain.OutcomeNo, 40)
	env.mustBet(t, userB, domain.OutcomeNo, 60)
	env.mustResolve(t, domain.OutcomeYes)

	staked := len(env.custody.calls)
	if err := env.engine.ClaimWinnings(context.Background(), userA); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	// 100 + floor(100*100/100) = 200: the whole losing pool, including A's
	// own forfeited 40.
	if got := env.custody.calls[staked].Amount; got != 200 {
		t.Errorf("payout = %d, want 200", got)
	}

	// The losing-side entry grants nothing further.
	if err := env.engine.ClaimWinnings(context.Background(), userA); !errors.Is(err, domain.ErrNoWinningBet) {
		t.Errorf("second claim error = %v, want ErrNoWinningBet", err)
	}
}
