package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/boliseva-loan-ledger/internal/domain/emi"
	"github.com/boliseva-loan-ledger/internal/domain/shared"
)

// EMICache implements emi.Cache on the local emis table
type EMICache struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewEMICache creates an installment cache on an already migrated database
func NewEMICache(logger *slog.Logger, db *sql.DB) *EMICache {
	return &EMICache{db: db, logger: logger}
}

const upsertEMI = `
	INSERT INTO emis (id, loan_id, user_id, status, due_date, payload, pending, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		payload = excluded.payload,
		pending = excluded.pending,
		updated_at = excluded.updated_at
`

// Upsert stores installments, replacing any cached copy, with the given pending flag
func (c *EMICache) Upsert(ctx context.Context, emis []*emi.EMI, pending bool) error {
	if len(emis) == 0 {
		return nil
	}

	return withTx(ctx, c.db, func(tx *sql.Tx) error {
		for _, e := range emis {
			if err := c.write(ctx, tx, upsertEMI, e, pending); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *EMICache) write(ctx context.Context, tx *sql.Tx, query string, e *emi.EMI, pending bool) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode emi %s: %w", e.ID, err)
	}
	if _, err := tx.ExecContext(ctx, query,
		e.ID.String(), e.LoanID.String(), e.UserID, string(e.Status), e.DueDate.UnixMilli(), payload, pending, e.UpdatedAt.UnixMilli(),
	); err != nil {
		c.logger.Error("Failed to cache emi", "id", e.ID.String(), "error", err)
		return fmt.Errorf("failed to cache emi: %w", err)
	}
	return nil
}

// Get returns the cached installment with id
func (c *EMICache) Get(ctx context.Context, id uuid.UUID) (*emi.EMI, error) {
	var payload []byte
	err := c.db.QueryRowContext(ctx, `SELECT payload FROM emis WHERE id = ?`, id.String()).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, emi.ErrEMINotFound{EMIID: id}
		}
		return nil, fmt.Errorf("failed to read cached emi: %w", err)
	}

	var e emi.EMI
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("%w: emi %s: %v", shared.ErrCorruptRecord, id, err)
	}
	return &e, nil
}

// ListByUser returns the user's cached installments, earliest due first
func (c *EMICache) ListByUser(ctx context.Context, userID string) ([]*emi.EMI, error) {
	return c.list(ctx, `SELECT payload FROM emis WHERE user_id = ?`, userID)
}

// ListByLoan returns a loan's cached installments in sequence order
func (c *EMICache) ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*emi.EMI, error) {
	return c.list(ctx, `SELECT payload FROM emis WHERE loan_id = ?`, loanID.String())
}

// ListPendingByUser returns the user's installments written locally and not yet acknowledged
func (c *EMICache) ListPendingByUser(ctx context.Context, userID string) ([]*emi.EMI, error) {
	return c.list(ctx, `SELECT payload FROM emis WHERE user_id = ? AND pending = 1`, userID)
}

// ReplaceForUser swaps the user's acknowledged rows for emis, keeping pending rows
func (c *EMICache) ReplaceForUser(ctx context.Context, userID string, emis []*emi.EMI) error {
	return withTx(ctx, c.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM emis WHERE user_id = ? AND pending = 0`, userID); err != nil {
			return fmt.Errorf("failed to clear cached emis: %w", err)
		}

		const insert = `
			INSERT INTO emis (id, loan_id, user_id, status, due_date, payload, pending, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`
		for _, e := range emis {
			if err := c.write(ctx, tx, insert, e, false); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkOverdue flips cached unpaid installments due before asOf and returns how many changed.
// Pending flags are left as they are.
func (c *EMICache) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	payloads, err := queryPayloads(ctx, c.db,
		`SELECT payload FROM emis WHERE status = ? AND due_date < ?`, string(emi.StatusUnpaid), asOf.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to scan cached emis: %w", err)
	}

	var changed int64
	err = withTx(ctx, c.db, func(tx *sql.Tx) error {
		for _, payload := range payloads {
			var e emi.EMI
			if err := json.Unmarshal(payload, &e); err != nil {
				c.logger.Warn("Skipping corrupt cached emi during sweep", "error", err)
				continue
			}
			if !e.MarkOverdue(asOf) {
				continue
			}
			updated, err := json.Marshal(&e)
			if err != nil {
				return fmt.Errorf("failed to encode emi %s: %w", e.ID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE emis SET status = ?, payload = ?, updated_at = ? WHERE id = ?`,
				string(e.Status), updated, e.UpdatedAt.UnixMilli(), e.ID.String(),
			); err != nil {
				return fmt.Errorf("failed to mark cached emi overdue: %w", err)
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

// MarkSynced clears the pending flag of the given installments
func (c *EMICache) MarkSynced(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return withTx(ctx, c.db, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `UPDATE emis SET pending = 0 WHERE id = ?`, id.String()); err != nil {
				return fmt.Errorf("failed to mark emi synced: %w", err)
			}
		}
		return nil
	})
}

// Delete drops cached installments
func (c *EMICache) Delete(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return withTx(ctx, c.db, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM emis WHERE id = ?`, id.String()); err != nil {
				return fmt.Errorf("failed to delete cached emi: %w", err)
			}
		}
		return nil
	})
}

func (c *EMICache) list(ctx context.Context, query string, args ...any) ([]*emi.EMI, error) {
	payloads, err := queryPayloads(ctx, c.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cached emis: %w", err)
	}

	emis := make([]*emi.EMI, 0, len(payloads))
	for _, payload := range payloads {
		var e emi.EMI
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrCorruptRecord, err)
		}
		emis = append(emis, &e)
	}

	sort.SliceStable(emis, func(i, j int) bool {
		if !emis[i].DueDate.Equal(emis[j].DueDate) {
			return emis[i].DueDate.Before(emis[j].DueDate)
		}
		return emis[i].Sequence < emis[j].Sequence
	})
	return emis, nil
}
