package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/boliseva-loan-ledger/internal/domain/emi"
	"github.com/boliseva-loan-ledger/internal/platform/persistence"
)

const emiColumns = `id, loan_id, user_id, sequence, amount, due_date, status, paid_at, payment_method,
		reminder_sent, created_at, updated_at`

// EMIRepository implements the emi.Repository interface for PostgreSQL
type EMIRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewEMIRepository creates a new PostgreSQL installment repository
func NewEMIRepository(logger *slog.Logger, db *persistence.PostgresDB) *EMIRepository {
	return &EMIRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// CreateBatch inserts a whole schedule in one transaction. Rows that already exist, by id or
// by (loan_id, sequence), are left untouched so a replayed schedule cannot duplicate.
func (r *EMIRepository) CreateBatch(ctx context.Context, emis []*emi.EMI) error {
	if len(emis) == 0 {
		return nil
	}

	query := `
		INSERT INTO emis (id, loan_id, user_id, sequence, amount, due_date, status, paid_at, payment_method,
			reminder_sent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT DO NOTHING
	`

	tx, err := r.querier.Begin(ctx)
	if err != nil {
		r.logger.Error("Failed to begin schedule transaction", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	for _, e := range emis {
		_, err := tx.Exec(ctx, query,
			e.ID,
			e.LoanID,
			e.UserID,
			e.Sequence,
			e.Amount,
			e.DueDate,
			e.Status,
			e.PaidAt,
			e.PaymentMethod,
			e.ReminderSent,
			e.CreatedAt,
			e.UpdatedAt,
		)
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				r.logger.Error("Failed to rollback schedule transaction", "error", rbErr)
			}
			r.logger.Error("Failed to insert installment", "loanID", e.LoanID.String(), "sequence", e.Sequence, "error", err)
			return fmt.Errorf("failed to create emi schedule: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("Failed to commit schedule transaction", "error", err)
		return fmt.Errorf("failed to commit emi schedule: %w", err)
	}

	return nil
}

// GetByID retrieves an installment by its ID
func (r *EMIRepository) GetByID(ctx context.Context, id uuid.UUID) (*emi.EMI, error) {
	query := `SELECT ` + emiColumns + `
		FROM emis
		WHERE id = $1
	`

	e, err := scanEMI(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, emi.ErrEMINotFound{EMIID: id}
		}
		r.logger.Error("Failed to get emi", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get emi: %w", err)
	}
	return e, nil
}

// ListByLoan returns a loan's installments in sequence order
func (r *EMIRepository) ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*emi.EMI, error) {
	query := `SELECT ` + emiColumns + `
		FROM emis
		WHERE loan_id = $1
		ORDER BY sequence
	`

	emis, err := r.list(ctx, query, loanID)
	if err != nil {
		r.logger.Error("Failed to list emis by loan", "loanID", loanID.String(), "error", err)
		return nil, fmt.Errorf("failed to list emis by loan: %w", err)
	}
	return emis, nil
}

// ListByUser returns every installment owned by the user, earliest due first
func (r *EMIRepository) ListByUser(ctx context.Context, userID string) ([]*emi.EMI, error) {
	query := `SELECT ` + emiColumns + `
		FROM emis
		WHERE user_id = $1
		ORDER BY due_date, sequence
	`

	emis, err := r.list(ctx, query, userID)
	if err != nil {
		r.logger.Error("Failed to list emis by user", "userID", userID, "error", err)
		return nil, fmt.Errorf("failed to list emis by user: %w", err)
	}
	return emis, nil
}

// CountByLoan returns how many installments a loan already has
func (r *EMIRepository) CountByLoan(ctx context.Context, loanID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM emis WHERE loan_id = $1`

	var count int
	if err := r.querier.QueryRow(ctx, query, loanID).Scan(&count); err != nil {
		r.logger.Error("Failed to count emis", "loanID", loanID.String(), "error", err)
		return 0, fmt.Errorf("failed to count emis: %w", err)
	}
	return count, nil
}

// Update writes the repayment fields of an installment
func (r *EMIRepository) Update(ctx context.Context, e *emi.EMI) error {
	query := `
		UPDATE emis
		SET status = $1, paid_at = $2, payment_method = $3, reminder_sent = $4, updated_at = $5
		WHERE id = $6
	`

	result, err := r.querier.Exec(ctx, query,
		e.Status,
		e.PaidAt,
		e.PaymentMethod,
		e.ReminderSent,
		e.UpdatedAt,
		e.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update emi", "id", e.ID.String(), "error", err)
		return fmt.Errorf("failed to update emi: %w", err)
	}

	if result.RowsAffected() == 0 {
		return emi.ErrEMINotFound{EMIID: e.ID}
	}
	return nil
}

// MarkOverdue flips unpaid installments due before asOf
func (r *EMIRepository) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	query := `
		UPDATE emis
		SET status = $1, updated_at = $2
		WHERE status = $3 AND due_date < $2
	`

	result, err := r.querier.Exec(ctx, query, emi.StatusOverdue, asOf, emi.StatusUnpaid)
	if err != nil {
		r.logger.Error("Failed to mark emis overdue", "asOf", asOf, "error", err)
		return 0, fmt.Errorf("failed to mark emis overdue: %w", err)
	}
	return result.RowsAffected(), nil
}

// ListNeedingReminder returns outstanding installments past due that have not been reminded
func (r *EMIRepository) ListNeedingReminder(ctx context.Context, asOf time.Time) ([]*emi.EMI, error) {
	query := `SELECT ` + emiColumns + `
		FROM emis
		WHERE status IN ('unpaid', 'overdue') AND due_date < $1 AND reminder_sent = FALSE
		ORDER BY due_date
	`

	emis, err := r.list(ctx, query, asOf)
	if err != nil {
		r.logger.Error("Failed to list emis needing reminder", "error", err)
		return nil, fmt.Errorf("failed to list emis needing reminder: %w", err)
	}
	return emis, nil
}

// MarkReminded sets reminder_sent on the given installments
func (r *EMIRepository) MarkReminded(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	query := `
		UPDATE emis
		SET reminder_sent = TRUE, updated_at = NOW()
		WHERE id = ANY($1::uuid[])
	`

	_, err := r.querier.Exec(ctx, query, uuidStrings(ids))
	if err != nil {
		r.logger.Error("Failed to mark emis reminded", "count", len(ids), "error", err)
		return fmt.Errorf("failed to mark emis reminded: %w", err)
	}
	return nil
}

func (r *EMIRepository) list(ctx context.Context, query string, arg any) ([]*emi.EMI, error) {
	rows, err := r.querier.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	emis := make([]*emi.EMI, 0)
	for rows.Next() {
		e, err := scanEMI(rows)
		if err != nil {
			return nil, err
		}
		emis = append(emis, e)
	}
	return emis, rows.Err()
}

func scanEMI(row pgx.Row) (*emi.EMI, error) {
	var e emi.EMI
	err := row.Scan(
		&e.ID,
		&e.LoanID,
		&e.UserID,
		&e.Sequence,
		&e.Amount,
		&e.DueDate,
		&e.Status,
		&e.PaidAt,
		&e.PaymentMethod,
		&e.ReminderSent,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
