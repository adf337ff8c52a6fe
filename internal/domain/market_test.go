package domain

import "testing"

func testAccount(b byte) AccountID {
	var a AccountID
	a[len(a)-1] = b
	return a
}

func TestOutcome(t *testing.T) {
	if !OutcomeYes.Valid() || !OutcomeNo.Valid() {
		t.Error("defined outcomes must be valid")
	}
	if Outcome("maybe").Valid() {
		t.Error("unknown outcome must not be valid")
	}
	if OutcomeYes.Opposite() != OutcomeNo {
		t.Errorf("Opposite(yes) = %s, want no", OutcomeYes.Opposite())
	}
	if OutcomeNo.Opposite() != OutcomeYes {
		t.Errorf("Opposite(no) = %s, want yes", OutcomeNo.Opposite())
	}
}

func TestMarketStatus(t *testing.T) {
	active := StatusActive()
	if !active.IsActive() || active.IsResolved() || active.IsCancelled() {
		t.Errorf("active status predicates wrong: %s", active)
	}
	if _, ok := active.Winner(); ok {
		t.Error("active status must not have a winner")
	}

	resolved := StatusResolved(OutcomeNo)
	if resolved.IsActive() || !resolved.IsResolved() {
		t.Errorf("resolved status predicates wrong: %s", resolved)
	}
	if w, ok := resolved.Winner(); !ok || w != OutcomeNo {
		t.Errorf("Winner() = %s, %v, want no, true", w, ok)
	}
	if got := resolved.String(); got != "resolved:no" {
		t.Errorf("String() = %q, want %q", got, "resolved:no")
	}

	cancelled := StatusCancelled()
	if !cancelled.IsCancelled() {
		t.Errorf("cancelled status predicates wrong: %s", cancelled)
	}
	if _, ok := cancelled.Winner(); ok {
		t.Error("cancelled status must not have a winner")
	}
}

// AddBet updates ledger and total in the same step, so the invariant
// total == sum of ledger entries holds after any sequence of bets.
func TestAddBetMaintainsTotals(t *testing.T) {
	state := NewMarketState(MarketParams{})

	state.AddBet(testAccount(1), OutcomeYes, 100)
	state.AddBet(testAccount(2), OutcomeYes, 50)
	state.AddBet(testAccount(1), OutcomeYes, 25) // increments existing entry
	state.AddBet(testAccount(3), OutcomeNo, 70)

	if got := state.YesBets[testAccount(1)]; got != 125 {
		t.Errorf("yes_bets[1] = %d, want 125", got)
	}

	for _, o := range []Outcome{OutcomeYes, OutcomeNo} {
		var sum Amount
		for _, v := range state.Ledger(o) {
			sum = sum.SaturatingAdd(v)
		}
		if sum != state.Total(o) {
			t.Errorf("%s total = %d, ledger sum = %d", o, state.Total(o), sum)
		}
	}
}

func TestAddBetSaturates(t *testing.T) {
	state := NewMarketState(MarketParams{})
	state.AddBet(testAccount(1), OutcomeYes, MaxAmount)
	state.AddBet(testAccount(1), OutcomeYes, 10)

	if got := state.YesBets[testAccount(1)]; got != MaxAmount {
		t.Errorf("yes_bets[1] = %d, want MaxAmount", got)
	}
	if state.TotalYes != MaxAmount {
		t.Errorf("total_yes = %d, want MaxAmount", state.TotalYes)
	}
}

func TestCloneIsDeep(t *testing.T) {
	state := NewMarketState(MarketParams{})
	state.AddBet(testAccount(1), OutcomeYes, 100)

	cp := state.Clone()
	cp.AddBet(testAccount(1), OutcomeYes, 50)
	delete(cp.NoBets, testAccount(9)) // no-op, but proves maps are distinct

	if got := state.YesBets[testAccount(1)]; got != 100 {
		t.Errorf("original mutated through clone: yes_bets[1] = %d, want 100", got)
	}
	if state.TotalYes != 100 {
		t.Errorf("original total mutated: %d, want 100", state.TotalYes)
	}
}
