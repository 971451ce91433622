// Package sqlite implements the on-device cache, key-value store and sync queue on SQLite.
// Records are stored as JSON payloads next to the columns they are indexed by; a pending
// flag marks rows written locally that the remote ledger has not acknowledged yet.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/boliseva-loan-ledger/internal/domain/loan"
	"github.com/boliseva-loan-ledger/internal/domain/shared"
)

// LoanCache implements loan.Cache on the local loans table
type LoanCache struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewLoanCache creates a loan cache on an already migrated database
func NewLoanCache(logger *slog.Logger, db *sql.DB) *LoanCache {
	return &LoanCache{db: db, logger: logger}
}

const upsertLoan = `
	INSERT INTO loans (id, user_id, status, payload, pending, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		user_id = excluded.user_id,
		status = excluded.status,
		payload = excluded.payload,
		pending = excluded.pending,
		updated_at = excluded.updated_at
`

// Upsert stores loans, replacing any cached copy, with the given pending flag
func (c *LoanCache) Upsert(ctx context.Context, loans []*loan.Loan, pending bool) error {
	if len(loans) == 0 {
		return nil
	}

	return withTx(ctx, c.db, func(tx *sql.Tx) error {
		for _, l := range loans {
			payload, err := json.Marshal(l)
			if err != nil {
				return fmt.Errorf("failed to encode loan %s: %w", l.ID, err)
			}
			if _, err := tx.ExecContext(ctx, upsertLoan,
				l.ID.String(), l.UserID, string(l.Status), payload, pending, l.UpdatedAt.UnixMilli(),
			); err != nil {
				c.logger.Error("Failed to cache loan", "id", l.ID.String(), "error", err)
				return fmt.Errorf("failed to cache loan: %w", err)
			}
		}
		return nil
	})
}

// Get returns the cached loan with id
func (c *LoanCache) Get(ctx context.Context, id uuid.UUID) (*loan.Loan, error) {
	var payload []byte
	err := c.db.QueryRowContext(ctx, `SELECT payload FROM loans WHERE id = ?`, id.String()).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, loan.ErrLoanNotFound{LoanID: id}
		}
		return nil, fmt.Errorf("failed to read cached loan: %w", err)
	}

	var l loan.Loan
	if err := json.Unmarshal(payload, &l); err != nil {
		return nil, fmt.Errorf("%w: loan %s: %v", shared.ErrCorruptRecord, id, err)
	}
	return &l, nil
}

// ListByUser returns the user's cached loans, newest first
func (c *LoanCache) ListByUser(ctx context.Context, userID string) ([]*loan.Loan, error) {
	return c.list(ctx, `SELECT payload FROM loans WHERE user_id = ?`, userID)
}

// ListByStatus returns every cached loan in status, newest first
func (c *LoanCache) ListByStatus(ctx context.Context, status loan.Status) ([]*loan.Loan, error) {
	return c.list(ctx, `SELECT payload FROM loans WHERE status = ?`, string(status))
}

// ListPendingByUser returns the user's loans written locally and not yet acknowledged
func (c *LoanCache) ListPendingByUser(ctx context.Context, userID string) ([]*loan.Loan, error) {
	return c.list(ctx, `SELECT payload FROM loans WHERE user_id = ? AND pending = 1`, userID)
}

// ListPending returns every loan written locally and not yet acknowledged
func (c *LoanCache) ListPending(ctx context.Context) ([]*loan.Loan, error) {
	return c.list(ctx, `SELECT payload FROM loans WHERE pending = 1`)
}

// ReplaceForUser swaps the user's acknowledged rows for loans. Pending rows survive and
// keep precedence over a remote copy with the same id.
func (c *LoanCache) ReplaceForUser(ctx context.Context, userID string, loans []*loan.Loan) error {
	return withTx(ctx, c.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM loans WHERE user_id = ? AND pending = 0`, userID); err != nil {
			return fmt.Errorf("failed to clear cached loans: %w", err)
		}

		for _, l := range loans {
			payload, err := json.Marshal(l)
			if err != nil {
				return fmt.Errorf("failed to encode loan %s: %w", l.ID, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO loans (id, user_id, status, payload, pending, updated_at)
				VALUES (?, ?, ?, ?, 0, ?)
				ON CONFLICT(id) DO NOTHING`,
				l.ID.String(), l.UserID, string(l.Status), payload, l.UpdatedAt.UnixMilli(),
			); err != nil {
				c.logger.Error("Failed to refresh cached loan", "id", l.ID.String(), "error", err)
				return fmt.Errorf("failed to refresh cached loan: %w", err)
			}
		}
		return nil
	})
}

// MarkSynced clears the pending flag of a loan
func (c *LoanCache) MarkSynced(ctx context.Context, id uuid.UUID) error {
	if _, err := c.db.ExecContext(ctx, `UPDATE loans SET pending = 0 WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to mark loan synced: %w", err)
	}
	return nil
}

// Delete drops a cached loan
func (c *LoanCache) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM loans WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to delete cached loan: %w", err)
	}
	return nil
}

// Users returns every user that owns a cached loan or installment
func (c *LoanCache) Users(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT user_id FROM loans UNION SELECT user_id FROM emis ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cached users: %w", err)
	}
	defer rows.Close()

	users := make([]string, 0)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan cached user: %w", err)
		}
		users = append(users, userID)
	}
	return users, rows.Err()
}

func (c *LoanCache) list(ctx context.Context, query string, args ...any) ([]*loan.Loan, error) {
	payloads, err := queryPayloads(ctx, c.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cached loans: %w", err)
	}

	loans := make([]*loan.Loan, 0, len(payloads))
	for _, payload := range payloads {
		var l loan.Loan
		if err := json.Unmarshal(payload, &l); err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrCorruptRecord, err)
		}
		loans = append(loans, &l)
	}

	sort.SliceStable(loans, func(i, j int) bool {
		return loans[i].CreatedAt.After(loans[j].CreatedAt)
	})
	return loans, nil
}
