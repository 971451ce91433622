package sqlite

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/boliseva-loan-ledger/internal/domain/emi"
	"github.com/boliseva-loan-ledger/internal/domain/loan"
	"github.com/boliseva-loan-ledger/internal/platform/persistence"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, persistence.RunLocalMigrations(context.Background(), db))
	return db
}

func newTestLoan(userID string, created time.Time) *loan.Loan {
	return &loan.Loan{
		ID:           uuid.New(),
		UserID:       userID,
		Category:     loan.CategoryPersonal,
		Principal:    50000,
		Purpose:      "tractor repair",
		Employment:   loan.EmploymentFarmer,
		Status:       loan.StatusApplied,
		TenureMonths: 12,
		AnnualRate:   12,
		Version:      1,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
}

func newTestEMI(loanID uuid.UUID, userID string, seq int, due time.Time) *emi.EMI {
	return &emi.EMI{
		ID:        uuid.New(),
		LoanID:    loanID,
		UserID:    userID,
		Sequence:  seq,
		Amount:    4442,
		DueDate:   due,
		Status:    emi.StatusUnpaid,
		CreatedAt: due.AddDate(0, -seq, 0),
		UpdatedAt: due.AddDate(0, -seq, 0),
	}
}
