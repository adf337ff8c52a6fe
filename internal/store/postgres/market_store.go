package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/akindolabs/pulsemarket/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. Save replaces
// the stored ledger snapshot inside a single transaction, matching the
// store's load/save contract.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// Create inserts a fresh market. It fails if the market already exists.
func (s *MarketStore) Create(ctx context.Context, state *domain.MarketState) error {
	const query = `
		INSERT INTO markets (
			id, owner, escrow, deadline, question, description,
			status, winner, total_yes, total_no
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	status, winner := encodeStatus(state.Status)
	_, err := s.pool.Exec(ctx, query,
		state.Params.ID,
		state.Params.Owner.Hex(),
		state.Params.Escrow.Hex(),
		state.Params.Deadline,
		state.Params.Question,
		state.Params.Description,
		status, winner,
		amountString(state.TotalYes),
		amountString(state.TotalNo),
	)
	if err != nil {
		return fmt.Errorf("postgres: create market %s: %w", state.Params.ID, err)
	}
	return nil
}

// Load reads the market row and its ledger entries.
func (s *MarketStore) Load(ctx context.Context, id uuid.UUID) (*domain.MarketState, error) {
	const query = `
		SELECT owner, escrow, deadline, question, description,
		       status, winner, total_yes::text, total_no::text
		FROM markets WHERE id = $1`

	var (
		ownerHex, escrowHex  string
		status               string
		winner               *string
		totalYes, totalNo    string
		params               domain.MarketParams
	)
	params.ID = id

	err := s.pool.QueryRow(ctx, query, id).Scan(
		&ownerHex, &escrowHex, &params.Deadline, &params.Question, &params.Description,
		&status, &winner, &totalYes, &totalNo,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: load market %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load market %s: %w", id, err)
	}

	if params.Owner, err = domain.ParseAccountID(ownerHex); err != nil {
		return nil, fmt.Errorf("postgres: load market %s: %w", id, err)
	}
	if params.Escrow, err = domain.ParseAccountID(escrowHex); err != nil {
		return nil, fmt.Errorf("postgres: load market %s: %w", id, err)
	}

	state := domain.NewMarketState(params)
	if state.Status, err = decodeStatus(status, winner); err != nil {
		return nil, fmt.Errorf("postgres: load market %s: %w", id, err)
	}
	if state.TotalYes, err = parseAmount(totalYes); err != nil {
		return nil, fmt.Errorf("postgres: load market %s: total_yes: %w", id, err)
	}
	if state.TotalNo, err = parseAmount(totalNo); err != nil {
		return nil, fmt.Errorf("postgres: load market %s: total_no: %w", id, err)
	}

	if err := s.loadBets(ctx, state); err != nil {
		return nil, fmt.Errorf("postgres: load market %s: %w", id, err)
	}
	return state, nil
}

func (s *MarketStore) loadBets(ctx context.Context, state *domain.MarketState) error {
	const query = `SELECT owner, outcome, amount::text FROM bets WHERE market_id = $1`

	rows, err := s.pool.Query(ctx, query, state.Params.ID)
	if err != nil {
		return fmt.Errorf("query bets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ownerHex, outcome, amount string
		if err := rows.Scan(&ownerHex, &outcome, &amount); err != nil {
			return fmt.Errorf("scan bet: %w", err)
		}
		owner, err := domain.ParseAccountID(ownerHex)
		if err != nil {
			return fmt.Errorf("bet owner: %w", err)
		}
		amt, err := parseAmount(amount)
		if err != nil {
			return fmt.Errorf("bet amount: %w", err)
		}
		state.Ledger(domain.Outcome(outcome))[owner] = amt
	}
	return rows.Err()
}

// Save replaces the stored market state in one transaction: market row
// update plus a full rewrite of the bets snapshot.
func (s *MarketStore) Save(ctx context.Context, state *domain.MarketState) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: save market %s: begin: %w", state.Params.ID, err)
	}
	defer tx.Rollback(ctx)

	status, winner := encodeStatus(state.Status)
	const update = `
		UPDATE markets SET
			status = $2, winner = $3, total_yes = $4, total_no = $5,
			updated_at = NOW()
		WHERE id = $1`
	tag, err := tx.Exec(ctx, update,
		state.Params.ID, status, winner,
		amountString(state.TotalYes), amountString(state.TotalNo),
	)
	if err != nil {
		return fmt.Errorf("postgres: save market %s: %w", state.Params.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: save market %s: %w", state.Params.ID, domain.ErrNotFound)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM bets WHERE market_id = $1`, state.Params.ID); err != nil {
		return fmt.Errorf("postgres: save market %s: clear bets: %w", state.Params.ID, err)
	}

	batch := &pgx.Batch{}
	const insert = `INSERT INTO bets (market_id, owner, outcome, amount) VALUES ($1, $2, $3, $4)`
	for _, outcome := range []domain.Outcome{domain.OutcomeYes, domain.OutcomeNo} {
		for owner, amount := range state.Ledger(outcome) {
			batch.Queue(insert, state.Params.ID, owner.Hex(), string(outcome), amountString(amount))
		}
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("postgres: save market %s: insert bets: %w", state.Params.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: save market %s: commit: %w", state.Params.ID, err)
	}
	return nil
}

func encodeStatus(s domain.MarketStatus) (status string, winner *string) {
	switch {
	case s.IsCancelled():
		return "cancelled", nil
	case s.IsResolved():
		w, _ := s.Winner()
		ws := string(w)
		return "resolved", &ws
	default:
		return "active", nil
	}
}

func decodeStatus(status string, winner *string) (domain.MarketStatus, error) {
	switch status {
	case "active":
		return domain.StatusActive(), nil
	case "cancelled":
		return domain.StatusCancelled(), nil
	case "resolved":
		if winner == nil || !domain.Outcome(*winner).Valid() {
			return domain.MarketStatus{}, fmt.Errorf("resolved market without valid winner")
		}
		return domain.StatusResolved(domain.Outcome(*winner)), nil
	default:
		return domain.MarketStatus{}, fmt.Errorf("unknown market status %q", status)
	}
}

func amountString(a domain.Amount) string {
	return strconv.FormatUint(uint64(a), 10)
}

func parseAmount(s string) (domain.Amount, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return domain.Amount(v), nil
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
