package domain

import (
	"time"

	"github.com/google/uuid"
)

// Outcome is one side of a binary prediction market.
type Outcome string

const (
	OutcomeYes Outcome = "yes"
	OutcomeNo  Outcome = "no"
)

// Valid reports whether o is one of the two defined outcomes.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// Opposite returns the other outcome.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

// marketPhase is the discriminant of MarketStatus.
type marketPhase uint8

const (
	phaseActive marketPhase = iota
	phaseResolved
	phaseCancelled
)

// MarketStatus is the lifecycle state of a market: Active, Resolved with a
// winning outcome, or Cancelled. The winner is only meaningful for a
// resolved status, which is why the field is unexported and reachable only
// through Winner.
type MarketStatus struct {
	phase  marketPhase
	winner Outcome
}

// StatusActive returns the initial, bet-accepting status.
func StatusActive() MarketStatus { return MarketStatus{phase: phaseActive} }

// StatusResolved returns the terminal resolved status with the given winner.
func StatusResolved(winner Outcome) MarketStatus {
	return MarketStatus{phase: phaseResolved, winner: winner}
}

// StatusCancelled returns the terminal cancelled status.
func StatusCancelled() MarketStatus { return MarketStatus{phase: phaseCancelled} }

// IsActive reports whether the market still accepts bets.
func (s MarketStatus) IsActive() bool { return s.phase == phaseActive }

// IsResolved reports whether the market has been resolved.
func (s MarketStatus) IsResolved() bool { return s.phase == phaseResolved }

// IsCancelled reports whether the market was cancelled.
func (s MarketStatus) IsCancelled() bool { return s.phase == phaseCancelled }

// Winner returns the winning outcome and true when the market is resolved.
func (s MarketStatus) Winner() (Outcome, bool) {
	if s.phase != phaseResolved {
		return "", false
	}
	return s.winner, true
}

func (s MarketStatus) String() string {
	switch s.phase {
	case phaseResolved:
		return "resolved:" + string(s.winner)
	case phaseCancelled:
		return "cancelled"
	default:
		return "active"
	}
}

// MarketParams are the immutable instantiation parameters of a market.
type MarketParams struct {
	ID          uuid.UUID
	Owner       AccountID // authorized to resolve and cancel
	Escrow      AccountID // custody identity holding staked funds
	Deadline    time.Time
	Question    string
	Description string
}

// MarketState is the single owned aggregate for one market instance. It is
// mutated exclusively by the engine, one operation at a time; there is no
// internal locking because the host execution model is single-writer.
type MarketState struct {
	Params   MarketParams
	Status   MarketStatus
	YesBets  map[AccountID]Amount
	NoBets   map[AccountID]Amount
	TotalYes Amount
	TotalNo  Amount
}

// NewMarketState returns a fresh Active market with empty ledgers.
func NewMarketState(params MarketParams) *MarketState {
	return &MarketState{
		Params:  params,
		Status:  StatusActive(),
		YesBets: make(map[AccountID]Amount),
		NoBets:  make(map[AccountID]Amount),
	}
}

// Ledger returns the bet ledger for the given outcome.
func (m *MarketState) Ledger(o Outcome) map[AccountID]Amount {
	if o == OutcomeYes {
		return m.YesBets
	}
	return m.NoBets
}

// Total returns the pool total for the given outcome.
func (m *MarketState) Total(o Outcome) Amount {
	if o == OutcomeYes {
		return m.TotalYes
	}
	return m.TotalNo
}

// AddBet records a stake in the outcome's ledger and pool total in one step,
// saturating on overflow. The per-ledger invariant total == sum(entries)
// holds because both are updated together.
func (m *MarketState) AddBet(owner AccountID, o Outcome, amount Amount) {
	ledger := m.Ledger(o)
	ledger[owner] = ledger[owner].SaturatingAdd(amount)
	if o == OutcomeYes {
		m.TotalYes = m.TotalYes.SaturatingAdd(amount)
	} else {
		m.TotalNo = m.TotalNo.SaturatingAdd(amount)
	}
}

// Clone returns a deep copy of the state, sharing no maps with the receiver.
func (m *MarketState) Clone() *MarketState {
	cp := *m
	cp.YesBets = make(map[AccountID]Amount, len(m.YesBets))
	for k, v := range m.YesBets {
		cp.YesBets[k] = v
	}
	cp.NoBets = make(map[AccountID]Amount, len(m.NoBets))
	for k, v := range m.NoBets {
		cp.NoBets[k] = v
	}
	return &cp
}
