package emi

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/boliseva-loan-ledger/internal/domain/shared"
)

// Repository defines installment persistence operations on the remote ledger
type Repository interface {
	// CreateBatch stores a full schedule atomically; rows whose id already exists are skipped
	CreateBatch(ctx context.Context, emis []*EMI) error
	GetByID(ctx context.Context, id uuid.UUID) (*EMI, error)
	ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*EMI, error)
	ListByUser(ctx context.Context, userID string) ([]*EMI, error)
	CountByLoan(ctx context.Context, loanID uuid.UUID) (int, error)
	Update(ctx context.Context, emi *EMI) error

	// MarkOverdue flips every unpaid installment due before asOf and returns the number changed
	MarkOverdue(ctx context.Context, asOf time.Time) (int64, error)
	ListNeedingReminder(ctx context.Context, asOf time.Time) ([]*EMI, error)
	MarkReminded(ctx context.Context, ids []uuid.UUID) error
}

// Cache is the local persistent copy of installments, indexed by owning user and loan
type Cache interface {
	Upsert(ctx context.Context, emis []*EMI, pending bool) error
	Get(ctx context.Context, id uuid.UUID) (*EMI, error)
	ListByUser(ctx context.Context, userID string) ([]*EMI, error)
	ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*EMI, error)
	ListPendingByUser(ctx context.Context, userID string) ([]*EMI, error)
	ReplaceForUser(ctx context.Context, userID string, emis []*EMI) error
	MarkOverdue(ctx context.Context, asOf time.Time) (int64, error)
	MarkSynced(ctx context.Context, ids []uuid.UUID) error
	Delete(ctx context.Context, ids []uuid.UUID) error
}

// ErrEMINotFound indicates a missing installment
type ErrEMINotFound struct {
	EMIID uuid.UUID
}

func (e ErrEMINotFound) Error() string {
	return "emi not found: " + e.EMIID.String()
}

// Is matches any ErrEMINotFound when the target id is empty, and shared.ErrNotFound
func (e ErrEMINotFound) Is(target error) bool {
	if target == shared.ErrNotFound {
		return true
	}
	t, ok := target.(ErrEMINotFound)
	if !ok {
		return false
	}
	if t.EMIID == uuid.Nil {
		return true
	}
	return e.EMIID == t.EMIID
}
