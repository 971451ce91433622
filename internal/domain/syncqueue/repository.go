package syncqueue

import (
	"context"
	"strconv"

	"github.com/boliseva-loan-ledger/internal/domain/shared"
)

// Repository persists queued actions in FIFO order
type Repository interface {
	Append(ctx context.Context, action *Action) error
	GetByID(ctx context.Context, id int64) (*Action, error)

	// GetPending returns up to limit pending actions, oldest first
	GetPending(ctx context.Context, limit int) ([]*Action, error)
	ListByStatus(ctx context.Context, status Status) ([]*Action, error)
	CountPending(ctx context.Context) (int, error)

	// CountPendingForEntity counts pending and dead-lettered actions that still reference entityID
	CountPendingForEntity(ctx context.Context, entityID string) (int, error)
	Update(ctx context.Context, action *Action) error
	Delete(ctx context.Context, id int64) error
}

// ErrActionNotFound indicates a missing queued action
type ErrActionNotFound struct {
	ID int64
}

func (e ErrActionNotFound) Error() string {
	return "queued action not found: " + strconv.FormatInt(e.ID, 10)
}

func (e ErrActionNotFound) Is(target error) bool {
	return target == shared.ErrNotFound
}
