// Package postgres provides PostgreSQL implementations of the remote ledger repositories.
// The remote database is the system of record for loans and installments; callers wrap
// every call in a deadline and fall back to the local cache when it cannot be reached.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/boliseva-loan-ledger/internal/domain/loan"
	"github.com/boliseva-loan-ledger/internal/platform/persistence"
)

const uniqueViolation = "23505"

const loanColumns = `id, user_id, category, principal, purpose, monthly_income, employment, status,
		tenure_months, annual_rate, documents_verified, contact_phone, version, created_at, updated_at`

// LoanRepository implements the loan.Repository interface for PostgreSQL
type LoanRepository struct {
	querier persistence.Querier // Can be *pgxpool.Pool or pgx.Tx
	logger  *slog.Logger
}

// NewLoanRepository creates a new PostgreSQL loan repository.
// It expects db.Pool() to satisfy persistence.Querier.
func NewLoanRepository(logger *slog.Logger, db *persistence.PostgresDB) *LoanRepository {
	return &LoanRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// Create stores a new loan. A loan id that already exists yields ErrDuplicateLoan so that
// replayed submissions can be recognized.
func (r *LoanRepository) Create(ctx context.Context, l *loan.Loan) error {
	query := `
		INSERT INTO loans (id, user_id, category, principal, purpose, monthly_income, employment, status,
			tenure_months, annual_rate, documents_verified, contact_phone, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.querier.Exec(ctx, query,
		l.ID,
		l.UserID,
		l.Category,
		l.Principal,
		l.Purpose,
		l.MonthlyIncome,
		l.Employment,
		l.Status,
		l.TenureMonths,
		l.AnnualRate,
		l.DocumentsVerified,
		l.ContactPhone,
		l.Version,
		l.CreatedAt,
		l.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return loan.ErrDuplicateLoan{LoanID: l.ID}
		}
		r.logger.Error("Failed to create loan", "id", l.ID.String(), "error", err)
		return fmt.Errorf("failed to create loan: %w", err)
	}

	return nil
}

// GetByID retrieves a loan by its ID
func (r *LoanRepository) GetByID(ctx context.Context, id uuid.UUID) (*loan.Loan, error) {
	query := `SELECT ` + loanColumns + `
		FROM loans
		WHERE id = $1
	`

	l, err := scanLoan(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, loan.ErrLoanNotFound{LoanID: id}
		}
		r.logger.Error("Failed to get loan", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}

	return l, nil
}

// ListByUser returns the user's loans, newest first
func (r *LoanRepository) ListByUser(ctx context.Context, userID string) ([]*loan.Loan, error) {
	query := `SELECT ` + loanColumns + `
		FROM loans
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	loans, err := r.list(ctx, query, userID)
	if err != nil {
		r.logger.Error("Failed to list loans by user", "userID", userID, "error", err)
		return nil, fmt.Errorf("failed to list loans by user: %w", err)
	}
	return loans, nil
}

// ListByStatus returns every loan in status, newest first
func (r *LoanRepository) ListByStatus(ctx context.Context, status loan.Status) ([]*loan.Loan, error) {
	query := `SELECT ` + loanColumns + `
		FROM loans
		WHERE status = $1
		ORDER BY created_at DESC
	`

	loans, err := r.list(ctx, query, status)
	if err != nil {
		r.logger.Error("Failed to list loans by status", "status", status, "error", err)
		return nil, fmt.Errorf("failed to list loans by status: %w", err)
	}
	return loans, nil
}

// Update writes the mutable fields of a loan. The stored version must be the previous one.
func (r *LoanRepository) Update(ctx context.Context, l *loan.Loan) error {
	query := `
		UPDATE loans
		SET status = $1, tenure_months = $2, annual_rate = $3, documents_verified = $4, version = $5, updated_at = $6
		WHERE id = $7 AND version = $8
	`

	result, err := r.querier.Exec(ctx, query,
		l.Status,
		l.TenureMonths,
		l.AnnualRate,
		l.DocumentsVerified,
		l.Version,
		l.UpdatedAt,
		l.ID,
		l.Version-1, // Check previous version for optimistic locking
	)
	if err != nil {
		r.logger.Error("Failed to update loan", "id", l.ID.String(), "error", err)
		return fmt.Errorf("failed to update loan: %w", err)
	}

	if result.RowsAffected() == 0 {
		return loan.ErrConcurrentModification{LoanID: l.ID}
	}

	return nil
}

func (r *LoanRepository) list(ctx context.Context, query string, arg any) ([]*loan.Loan, error) {
	rows, err := r.querier.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	loans := make([]*loan.Loan, 0)
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}
	return loans, rows.Err()
}

func scanLoan(row pgx.Row) (*loan.Loan, error) {
	var l loan.Loan
	err := row.Scan(
		&l.ID,
		&l.UserID,
		&l.Category,
		&l.Principal,
		&l.Purpose,
		&l.MonthlyIncome,
		&l.Employment,
		&l.Status,
		&l.TenureMonths,
		&l.AnnualRate,
		&l.DocumentsVerified,
		&l.ContactPhone,
		&l.Version,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
