package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/boliseva-loan-ledger/internal/domain/syncqueue"
)

const actionColumns = `id, kind, entity_id, user_id, payload, status, attempts, last_error, enqueued_at, last_attempt_at`

// QueueRepository implements syncqueue.Repository on the sync_queue table.
// The autoincrement id gives actions their replay order.
type QueueRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewQueueRepository creates a queue repository on an already migrated database
func NewQueueRepository(logger *slog.Logger, db *sql.DB) *QueueRepository {
	return &QueueRepository{db: db, logger: logger}
}

// Append stores a new action and assigns its id
func (r *QueueRepository) Append(ctx context.Context, action *syncqueue.Action) error {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_queue (kind, entity_id, user_id, payload, status, attempts, last_error, enqueued_at, last_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(action.Kind),
		action.EntityID,
		action.UserID,
		[]byte(action.Payload),
		string(action.Status),
		action.Attempts,
		action.LastError,
		action.EnqueuedAt.UnixMilli(),
		nullableMillis(action.LastAttemptAt),
	)
	if err != nil {
		r.logger.Error("Failed to append queued action", "kind", action.Kind, "entityID", action.EntityID, "error", err)
		return fmt.Errorf("failed to append queued action: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read queued action id: %w", err)
	}
	action.ID = id
	return nil
}

// GetByID retrieves a queued action by id
func (r *QueueRepository) GetByID(ctx context.Context, id int64) (*syncqueue.Action, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM sync_queue WHERE id = ?`, id)
	action, err := scanAction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, syncqueue.ErrActionNotFound{ID: id}
		}
		return nil, fmt.Errorf("failed to get queued action: %w", err)
	}
	return action, nil
}

// GetPending returns up to limit pending actions in FIFO order
func (r *QueueRepository) GetPending(ctx context.Context, limit int) ([]*syncqueue.Action, error) {
	actions, err := r.list(ctx,
		`SELECT `+actionColumns+` FROM sync_queue WHERE status = ? ORDER BY id LIMIT ?`,
		string(syncqueue.StatusPending), limit)
	if err != nil {
		r.logger.Error("Failed to get pending actions", "error", err)
		return nil, fmt.Errorf("failed to get pending actions: %w", err)
	}
	return actions, nil
}

// ListByStatus returns every action in status in FIFO order
func (r *QueueRepository) ListByStatus(ctx context.Context, status syncqueue.Status) ([]*syncqueue.Action, error) {
	actions, err := r.list(ctx,
		`SELECT `+actionColumns+` FROM sync_queue WHERE status = ? ORDER BY id`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s actions: %w", status, err)
	}
	return actions, nil
}

// CountPending counts actions still waiting for replay
func (r *QueueRepository) CountPending(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE status = ?`, string(syncqueue.StatusPending)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending actions: %w", err)
	}
	return count, nil
}

// CountPendingForEntity counts unresolved actions that still reference entityID
func (r *QueueRepository) CountPendingForEntity(ctx context.Context, entityID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE entity_id = ? AND status IN (?, ?)`,
		entityID, string(syncqueue.StatusPending), string(syncqueue.StatusDeadLetter)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count actions for entity: %w", err)
	}
	return count, nil
}

// Update persists the replay state of an action
func (r *QueueRepository) Update(ctx context.Context, action *syncqueue.Action) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = ?, attempts = ?, last_error = ?, last_attempt_at = ?
		WHERE id = ?`,
		string(action.Status),
		action.Attempts,
		action.LastError,
		nullableMillis(action.LastAttemptAt),
		action.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update queued action", "id", action.ID, "error", err)
		return fmt.Errorf("failed to update queued action: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return syncqueue.ErrActionNotFound{ID: action.ID}
	}
	return nil
}

// Delete removes a replayed action
func (r *QueueRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		r.logger.Error("Failed to delete queued action", "id", id, "error", err)
		return fmt.Errorf("failed to delete queued action: %w", err)
	}
	return nil
}

func (r *QueueRepository) list(ctx context.Context, query string, args ...any) ([]*syncqueue.Action, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	actions := make([]*syncqueue.Action, 0)
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(row rowScanner) (*syncqueue.Action, error) {
	var (
		action        syncqueue.Action
		kind, status  string
		payload       []byte
		enqueuedAt    int64
		lastAttemptAt sql.NullInt64
	)

	err := row.Scan(
		&action.ID,
		&kind,
		&action.EntityID,
		&action.UserID,
		&payload,
		&status,
		&action.Attempts,
		&action.LastError,
		&enqueuedAt,
		&lastAttemptAt,
	)
	if err != nil {
		return nil, err
	}

	action.Kind = syncqueue.Kind(kind)
	action.Status = syncqueue.Status(status)
	action.Payload = payload
	action.EnqueuedAt = time.UnixMilli(enqueuedAt).UTC()
	if lastAttemptAt.Valid {
		at := time.UnixMilli(lastAttemptAt.Int64).UTC()
		action.LastAttemptAt = &at
	}
	return &action, nil
}

func nullableMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
