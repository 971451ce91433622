// Package queue replays ledger mutations that could not reach the remote ledger, in the
// order they were made.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/boliseva-loan-ledger/internal/config"
	"github.com/boliseva-loan-ledger/internal/domain/shared"
	"github.com/boliseva-loan-ledger/internal/domain/syncqueue"
)

// ErrNoApplier is returned by Drain before Attach has been called
var ErrNoApplier = errors.New("sync queue has no applier attached")

// Applier replays actions against the remote ledger
type Applier interface {
	Apply(ctx context.Context, action *syncqueue.Action) error

	// Settle clears local pending state once an action is applied or abandoned
	Settle(ctx context.Context, action *syncqueue.Action) error
}

// DeadLetterPublisher forwards parked actions to operators
type DeadLetterPublisher interface {
	PublishToDLQ(ctx context.Context, key string, originalMessageValue []byte, reason string) error
}

// Report summarizes one drain
type Report struct {
	Skipped      bool `json:"skipped"` // Another drain was running or nothing was queued
	Applied      int  `json:"applied"`
	DeadLettered int  `json:"dead_lettered"`
	Stopped      bool `json:"stopped"` // A retryable failure halted the drain
	Remaining    int  `json:"remaining"`
}

// Stats counts queued actions by status
type Stats struct {
	Pending     int `json:"pending"`
	DeadLetters int `json:"dead_letters"`
}

// Queue is the persisted FIFO of ledger mutations awaiting replay
type Queue struct {
	repo             syncqueue.Repository
	applier          Applier
	dlq              DeadLetterPublisher
	clock            shared.Clock
	logger           *slog.Logger
	batchSize        int
	maxRetryAttempts int
	draining         atomic.Bool
}

func New(
	cfg *config.SyncQueueConfig,
	repo syncqueue.Repository,
	dlq DeadLetterPublisher,
	clock shared.Clock,
	logger *slog.Logger,
) *Queue {
	return &Queue{
		repo:             repo,
		dlq:              dlq,
		clock:            clock,
		logger:           logger,
		batchSize:        cfg.BatchSize,
		maxRetryAttempts: cfg.MaxRetryAttempts,
	}
}

// Attach sets the applier used by Drain
func (q *Queue) Attach(applier Applier) {
	q.applier = applier
}

// Enqueue appends an action to the tail of the queue
func (q *Queue) Enqueue(ctx context.Context, action *syncqueue.Action) error {
	if err := q.repo.Append(ctx, action); err != nil {
		return &shared.PersistenceError{Op: "enqueue " + string(action.Kind), Cause: shared.CauseLocal, Err: err}
	}
	q.logger.Info("Queued action for replay",
		"action_id", action.ID, "kind", action.Kind, "entity_id", action.EntityID)
	return nil
}

// Start drains the queue every interval until ctx is canceled
func (q *Queue) Start(ctx context.Context, interval time.Duration) {
	q.logger.Info("Starting sync queue drain loop",
		"interval", interval.String(),
		"batch_size", q.batchSize,
		"max_retry_attempts", q.maxRetryAttempts,
	)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("Sync queue drain loop stopping due to context cancellation.")
			return
		case <-ticker.C:
			if _, err := q.Drain(ctx); err != nil {
				q.logger.Error("Error while draining sync queue", "error", err)
			}
		}
	}
}

// Drain replays pending actions oldest first. It stops at the first retryable failure so later
// actions never overtake earlier ones. Permanent failures and exhausted retries are parked as
// dead letters and the drain moves on.
func (q *Queue) Drain(ctx context.Context) (Report, error) {
	if q.applier == nil {
		return Report{}, ErrNoApplier
	}
	if !q.draining.CompareAndSwap(false, true) {
		q.logger.Debug("Drain already running, skipping")
		return Report{Skipped: true}, nil
	}
	defer q.draining.Store(false)

	pending, err := q.repo.CountPending(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to count pending actions: %w", err)
	}
	if pending == 0 {
		return Report{Skipped: true}, nil
	}

	var report Report
	for !report.Stopped {
		actions, err := q.repo.GetPending(ctx, q.batchSize)
		if err != nil {
			return report, fmt.Errorf("failed to get pending actions: %w", err)
		}
		if len(actions) == 0 {
			break
		}

		q.logger.Info("Fetched pending actions", "count", len(actions))
		for _, action := range actions {
			stop, err := q.replay(ctx, action, &report)
			if err != nil {
				return report, err
			}
			if stop {
				report.Stopped = true
				break
			}
		}
	}

	if report.Remaining, err = q.repo.CountPending(ctx); err != nil {
		return report, fmt.Errorf("failed to count pending actions: %w", err)
	}

	q.logger.Info("Drain finished",
		"applied", report.Applied,
		"dead_lettered", report.DeadLettered,
		"stopped", report.Stopped,
		"remaining", report.Remaining,
	)
	return report, nil
}

// replay applies one action and records the outcome. It reports whether the drain must stop.
func (q *Queue) replay(ctx context.Context, action *syncqueue.Action, report *Report) (bool, error) {
	logger := q.logger.With("action_id", action.ID, "kind", action.Kind, "entity_id", action.EntityID)

	applyErr := q.applier.Apply(ctx, action)
	if applyErr == nil {
		if err := q.repo.Delete(ctx, action.ID); err != nil {
			return true, fmt.Errorf("failed to remove applied action %d: %w", action.ID, err)
		}
		if err := q.applier.Settle(ctx, action); err != nil {
			logger.Warn("Failed to clear pending state after replay", "error", err)
		}
		report.Applied++
		logger.Info("Replayed queued action")
		return false, nil
	}

	now := q.clock.Now()
	connectivity := shared.IsConnectivity(applyErr)
	action.RecordFailure(applyErr, !connectivity, now)

	if shared.IsPermanent(applyErr) || action.Attempts >= q.maxRetryAttempts {
		logger.Warn("Parking queued action as dead letter",
			"attempts", action.Attempts, "permanent", shared.IsPermanent(applyErr), "error", applyErr)
		action.MarkDeadLetter(now)
		if err := q.repo.Update(ctx, action); err != nil {
			return true, fmt.Errorf("failed to park action %d: %w", action.ID, err)
		}
		q.publishDeadLetter(ctx, action)
		report.DeadLettered++
		return false, nil
	}

	logger.Warn("Replay failed, stopping drain",
		"attempts", action.Attempts, "connectivity", connectivity, "error", applyErr)
	if err := q.repo.Update(ctx, action); err != nil {
		return true, fmt.Errorf("failed to record failed attempt of action %d: %w", action.ID, err)
	}
	return true, nil
}

func (q *Queue) publishDeadLetter(ctx context.Context, action *syncqueue.Action) {
	if q.dlq == nil {
		return
	}
	value, err := json.Marshal(action)
	if err != nil {
		q.logger.Error("Failed to encode dead-lettered action", "action_id", action.ID, "error", err)
		return
	}
	if err := q.dlq.PublishToDLQ(ctx, strconv.FormatInt(action.ID, 10), value, action.LastError); err != nil {
		q.logger.Error("Failed to publish dead-lettered action", "action_id", action.ID, "error", err)
	}
}

// Pending lists actions waiting for replay, oldest first
func (q *Queue) Pending(ctx context.Context) ([]*syncqueue.Action, error) {
	return q.repo.ListByStatus(ctx, syncqueue.StatusPending)
}

// DeadLetters lists parked actions, oldest first
func (q *Queue) DeadLetters(ctx context.Context) ([]*syncqueue.Action, error) {
	return q.repo.ListByStatus(ctx, syncqueue.StatusDeadLetter)
}

// Stats counts pending and parked actions
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	pending, err := q.repo.CountPending(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count pending actions: %w", err)
	}
	dead, err := q.repo.ListByStatus(ctx, syncqueue.StatusDeadLetter)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list dead letters: %w", err)
	}
	return Stats{Pending: pending, DeadLetters: len(dead)}, nil
}

// Requeue returns a dead letter to the pending queue with a fresh retry budget. It keeps its
// original position.
func (q *Queue) Requeue(ctx context.Context, id int64) (*syncqueue.Action, error) {
	action, err := q.parked(ctx, id, syncqueue.StatusPending)
	if err != nil {
		return nil, err
	}

	action.Requeue()
	if err := q.repo.Update(ctx, action); err != nil {
		return nil, fmt.Errorf("failed to requeue action %d: %w", id, err)
	}
	q.logger.Info("Requeued dead-lettered action", "action_id", id, "kind", action.Kind)
	return action, nil
}

// Abandon gives up on a dead letter. The remote copy of the entity becomes authoritative again.
func (q *Queue) Abandon(ctx context.Context, id int64) (*syncqueue.Action, error) {
	action, err := q.parked(ctx, id, syncqueue.StatusAbandoned)
	if err != nil {
		return nil, err
	}

	action.MarkAbandoned(q.clock.Now())
	if err := q.repo.Update(ctx, action); err != nil {
		return nil, fmt.Errorf("failed to abandon action %d: %w", id, err)
	}
	if q.applier != nil {
		if err := q.applier.Settle(ctx, action); err != nil {
			q.logger.Warn("Failed to clear pending state of abandoned action", "action_id", id, "error", err)
		}
	}
	q.logger.Warn("Abandoned dead-lettered action", "action_id", id, "kind", action.Kind, "entity_id", action.EntityID)
	return action, nil
}

func (q *Queue) parked(ctx context.Context, id int64, next syncqueue.Status) (*syncqueue.Action, error) {
	action, err := q.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if action.Status != syncqueue.StatusDeadLetter {
		return nil, shared.InvalidTransitionError{
			Entity: "queued action",
			ID:     strconv.FormatInt(id, 10),
			From:   string(action.Status),
			To:     string(next),
		}
	}
	return action, nil
}
