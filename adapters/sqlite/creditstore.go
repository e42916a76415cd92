package sqlite

import (
	"context"
	"database/sql"

	"github.com/cj1101/crowseye-metering/ports"
)

// CreditStore implements ports.CreditStore using SQLite.
// The deduction path is a single conditional UPDATE so two concurrent
// requests can never both succeed against a balance covering only one.
type CreditStore struct {
	db    *DB
	clock ports.Clock
	ids   ports.IDGenerator
}

// NewCreditStore creates a new SQLite credit store.
func NewCreditStore(db *DB, clock ports.Clock, ids ports.IDGenerator) *CreditStore {
	return &CreditStore{db: db, clock: clock, ids: ids}
}

// Balance returns the user's remaining prepaid credits.
func (s *CreditStore) Balance(ctx context.Context, userID string) (int64, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT balance FROM credit_balances WHERE user_id = ?
	`, userID)

	var balance int64
	err := row.Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, storeErr("credit balance", err)
	}
	return balance, nil
}

// Deduct atomically subtracts amount if the balance is sufficient.
// Returns ErrInsufficientCredits and leaves the balance unchanged otherwise.
func (s *CreditStore) Deduct(ctx context.Context, userID string, amount int64, reference string) (int64, error) {
	if amount == 0 {
		return s.Balance(ctx, userID)
	}

	now := s.clock.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr("deduct credits", err)
	}
	defer tx.Rollback()

	// The WHERE clause is the entire sufficiency check; there is no
	// separate read that a concurrent request could race against.
	res, err := tx.ExecContext(ctx, `
		UPDATE credit_balances
		SET balance = balance - ?, updated_at = ?
		WHERE user_id = ? AND balance >= ?
	`, amount, now, userID, amount)
	if err != nil {
		return 0, storeErr("deduct credits", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("deduct credits", err)
	}
	if affected == 0 {
		return 0, ports.ErrInsufficientCredits
	}

	var balance int64
	if err := tx.QueryRowContext(ctx, `
		SELECT balance FROM credit_balances WHERE user_id = ?
	`, userID).Scan(&balance); err != nil {
		return 0, storeErr("deduct credits", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, user_id, amount, balance_after, reference, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.ids.New(), userID, -amount, balance, reference, now); err != nil {
		return 0, storeErr("deduct credits", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, storeErr("deduct credits", err)
	}
	return balance, nil
}

// Grant adds prepaid credits (top-ups, plan renewals).
func (s *CreditStore) Grant(ctx context.Context, userID string, amount int64, reference string) (int64, error) {
	now := s.clock.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr("grant credits", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_balances (user_id, balance, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			balance = balance + excluded.balance,
			updated_at = excluded.updated_at
	`, userID, amount, now); err != nil {
		return 0, storeErr("grant credits", err)
	}

	var balance int64
	if err := tx.QueryRowContext(ctx, `
		SELECT balance FROM credit_balances WHERE user_id = ?
	`, userID).Scan(&balance); err != nil {
		return 0, storeErr("grant credits", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, user_id, amount, balance_after, reference, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.ids.New(), userID, amount, balance, reference, now); err != nil {
		return 0, storeErr("grant credits", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, storeErr("grant credits", err)
	}
	return balance, nil
}

// Ensure interface compliance.
var _ ports.CreditStore = (*CreditStore)(nil)
