package loan

import (
	"context"

	"github.com/google/uuid"

	"github.com/boliseva-loan-ledger/internal/domain/shared"
)

// Repository defines loan persistence operations on the remote ledger
type Repository interface {
	Create(ctx context.Context, loan *Loan) error
	GetByID(ctx context.Context, id uuid.UUID) (*Loan, error)
	ListByUser(ctx context.Context, userID string) ([]*Loan, error)
	ListByStatus(ctx context.Context, status Status) ([]*Loan, error)

	// Update overwrites the mutable fields of the loan
	Update(ctx context.Context, loan *Loan) error
}

// Cache is the local persistent copy of loans, indexed by owning user and status
type Cache interface {
	Upsert(ctx context.Context, loans []*Loan, pending bool) error
	Get(ctx context.Context, id uuid.UUID) (*Loan, error)
	ListByUser(ctx context.Context, userID string) ([]*Loan, error)
	ListByStatus(ctx context.Context, status Status) ([]*Loan, error)
	ListPendingByUser(ctx context.Context, userID string) ([]*Loan, error)
	ListPending(ctx context.Context) ([]*Loan, error)

	// ReplaceForUser drops the user's non-pending rows and stores loans in their place
	ReplaceForUser(ctx context.Context, userID string, loans []*Loan) error
	MarkSynced(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	Users(ctx context.Context) ([]string, error)
}

// ErrLoanNotFound indicates a missing loan
type ErrLoanNotFound struct {
	LoanID uuid.UUID
}

func (e ErrLoanNotFound) Error() string {
	return "loan not found: " + e.LoanID.String()
}

// Is matches any ErrLoanNotFound when the target id is empty, and shared.ErrNotFound
func (e ErrLoanNotFound) Is(target error) bool {
	if target == shared.ErrNotFound {
		return true
	}
	t, ok := target.(ErrLoanNotFound)
	if !ok {
		return false
	}
	if t.LoanID == uuid.Nil {
		return true
	}
	return e.LoanID == t.LoanID
}

// ErrDuplicateLoan indicates the loan id already exists remotely
type ErrDuplicateLoan struct {
	LoanID uuid.UUID
}

func (e ErrDuplicateLoan) Error() string {
	return "duplicate loan: " + e.LoanID.String()
}

// ErrConcurrentModification indicates optimistic lock failure
type ErrConcurrentModification struct {
	LoanID uuid.UUID
}

func (e ErrConcurrentModification) Error() string {
	return "concurrent modification detected for loan: " + e.LoanID.String()
}
