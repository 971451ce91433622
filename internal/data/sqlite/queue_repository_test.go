package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boliseva-loan-ledger/internal/domain/syncqueue"
)

func appendAction(t *testing.T, repo *QueueRepository, kind syncqueue.Kind, entityID string) *syncqueue.Action {
	t.Helper()
	action, err := syncqueue.NewAction(kind, entityID, "user-1", map[string]string{"id": entityID}, time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Append(context.Background(), action))
	return action
}

func TestQueueRepository_FIFO(t *testing.T) {
	ctx := context.Background()
	repo := NewQueueRepository(newTestLogger(), newTestDB(t))

	a := appendAction(t, repo, syncqueue.KindSubmitLoan, "A")
	b := appendAction(t, repo, syncqueue.KindUpdateLoanStatus, "B")
	c := appendAction(t, repo, syncqueue.KindPayEMI, "C")
	assert.True(t, a.ID < b.ID && b.ID < c.ID)

	pending, err := repo.GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{pending[0].EntityID, pending[1].EntityID, pending[2].EntityID})
	assert.JSONEq(t, `{"id":"A"}`, string(pending[0].Payload))

	limited, err := repo.GetPending(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	count, err := repo.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, repo.Delete(ctx, a.ID))
	pending, err = repo.GetPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "B", pending[0].EntityID)
}

func TestQueueRepository_UpdateAndStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewQueueRepository(newTestLogger(), newTestDB(t))
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	action := appendAction(t, repo, syncqueue.KindPayEMI, "emi-1")
	action.RecordFailure(errors.New("permission denied"), true, now)
	action.MarkDeadLetter(now)
	require.NoError(t, repo.Update(ctx, action))

	got, err := repo.GetByID(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, syncqueue.StatusDeadLetter, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "permission denied", got.LastError)
	require.NotNil(t, got.LastAttemptAt)
	assert.True(t, now.Equal(*got.LastAttemptAt))

	dead, err := repo.ListByStatus(ctx, syncqueue.StatusDeadLetter)
	require.NoError(t, err)
	assert.Len(t, dead, 1)

	count, err := repo.CountPendingForEntity(ctx, "emi-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "dead letters still reference the entity")

	action.MarkAbandoned(now)
	require.NoError(t, repo.Update(ctx, action))
	count, err = repo.CountPendingForEntity(ctx, "emi-1")
	require.NoError(t, err)
	assert.Zero(t, count)

	pendingCount, err := repo.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pendingCount)
}

func TestQueueRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewQueueRepository(newTestLogger(), newTestDB(t))

	_, err := repo.GetByID(ctx, 42)
	assert.Equal(t, syncqueue.ErrActionNotFound{ID: 42}, err)

	err = repo.Update(ctx, &syncqueue.Action{ID: 42, Status: syncqueue.StatusPending})
	assert.Equal(t, syncqueue.ErrActionNotFound{ID: 42}, err)
}
