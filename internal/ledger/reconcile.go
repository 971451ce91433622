package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/boliseva-loan-ledger/internal/domain/loan"
	"github.com/boliseva-loan-ledger/internal/platform/workerpool"
)

// BackfillMissingEMIs creates the schedule of every approved loan of the user that has none.
// Loans whose installment count could only be read from the local cache are left for the
// next pass, so repeated runs never create a second schedule.
func (s *Service) BackfillMissingEMIs(ctx context.Context, userID string) (int, Outcome, error) {
	if err := requireUser(userID); err != nil {
		return 0, Outcome{}, err
	}

	loans, stale, err := s.store.LoansByUser(ctx, userID)
	if err != nil {
		return 0, Outcome{}, fmt.Errorf("failed to list loans of %s: %w", userID, err)
	}
	outcome := Outcome{Stale: stale}

	created := 0
	for _, l := range loans {
		if l.Status != loan.StatusApproved {
			continue
		}
		made, scheduleOutcome, err := s.ensureSchedule(ctx, l, false)
		if err != nil {
			return created, outcome, err
		}
		outcome = outcome.merge(scheduleOutcome)
		if made {
			created++
		}
	}

	if created > 0 {
		s.logger.Info("Backfilled missing EMI schedules", "user_id", userID, "loans", created)
	}
	return created, outcome, nil
}

// Reconciler runs the backfill pass for many users on the worker pool
type Reconciler struct {
	svc    *Service
	pool   *workerpool.Pool
	logger *slog.Logger
}

// NewReconciler creates a Reconciler
func NewReconciler(svc *Service, pool *workerpool.Pool, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		svc:    svc,
		pool:   pool,
		logger: logger,
	}
}

// BackfillUsers backfills every user and returns the number of schedules created. Failures of
// single users are joined into the returned error and do not stop the others.
func (r *Reconciler) BackfillUsers(ctx context.Context, userIDs []string) (int, error) {
	var created atomic.Int64

	tasks := make([]workerpool.Task, 0, len(userIDs))
	for _, userID := range userIDs {
		userID := userID
		tasks = append(tasks, func(ctx context.Context) error {
			n, _, err := r.svc.BackfillMissingEMIs(ctx, userID)
			created.Add(int64(n))
			if err != nil {
				return fmt.Errorf("failed to backfill %s: %w", userID, err)
			}
			return nil
		})
	}

	err := r.pool.Run(ctx, tasks)
	if err != nil {
		r.logger.Warn("Reconciliation finished with failures", "users", len(userIDs), "error", err)
	} else {
		r.logger.Info("Reconciliation finished", "users", len(userIDs), "schedules_created", created.Load())
	}
	return int(created.Load()), err
}
