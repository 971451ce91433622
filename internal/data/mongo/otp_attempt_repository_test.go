package mongo

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/boliseva-loan-ledger/internal/domain/otp"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestAttempt() *otp.Attempt {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return &otp.Attempt{
		ID:        uuid.New(),
		Phone:     "+919876543210",
		CodeHash:  []byte("$2a$10$hash"),
		ExpiresAt: now.Add(5 * time.Minute),
		CreatedAt: now,
	}
}

// attemptDocument renders an attempt the way the driver stores it
func attemptDocument(t *testing.T, attempt *otp.Attempt) bson.D {
	t.Helper()
	raw, err := bson.Marshal(attempt)
	require.NoError(t, err)
	var doc bson.D
	require.NoError(t, bson.Unmarshal(raw, &doc))
	return doc
}

func TestOTPAttemptRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ns := "loan_ledger." + OTPAttemptCollectionName

	mt.Run("Create", func(mt *mtest.T) {
		repo := NewOTPAttemptRepository(newTestLogger(), mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		assert.NoError(mt, repo.Create(context.Background(), newTestAttempt()))
	})

	mt.Run("CreateFailure", func(mt *mtest.T) {
		repo := NewOTPAttemptRepository(newTestLogger(), mt.DB)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "duplicate key error",
		}))

		err := repo.Create(context.Background(), newTestAttempt())
		assert.ErrorContains(mt, err, "failed to create otp attempt")
	})

	mt.Run("LatestActive", func(mt *mtest.T) {
		repo := NewOTPAttemptRepository(newTestLogger(), mt.DB)
		expected := newTestAttempt()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, attemptDocument(mt.T, expected)))

		attempt, err := repo.LatestActive(context.Background(), expected.Phone)
		require.NoError(mt, err)
		assert.Equal(mt, expected.ID, attempt.ID)
		assert.Equal(mt, expected.CodeHash, attempt.CodeHash)
		assert.True(mt, expected.ExpiresAt.Equal(attempt.ExpiresAt))
		assert.False(mt, attempt.Used)
	})

	mt.Run("LatestActiveNone", func(mt *mtest.T) {
		repo := NewOTPAttemptRepository(newTestLogger(), mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		attempt, err := repo.LatestActive(context.Background(), "+910000000000")
		assert.Nil(mt, attempt)
		assert.ErrorIs(mt, err, otp.ErrAttemptNotFound)
	})

	mt.Run("MarkUsed", func(mt *mtest.T) {
		repo := NewOTPAttemptRepository(newTestLogger(), mt.DB)
		mt.AddMockResponses(bson.D{{Key: "ok", Value: 1}, {Key: "n", Value: 1}, {Key: "nModified", Value: 1}})

		assert.NoError(mt, repo.MarkUsed(context.Background(), uuid.New()))
	})

	mt.Run("MarkUsedMissing", func(mt *mtest.T) {
		repo := NewOTPAttemptRepository(newTestLogger(), mt.DB)
		mt.AddMockResponses(bson.D{{Key: "ok", Value: 1}, {Key: "n", Value: 0}, {Key: "nModified", Value: 0}})

		assert.ErrorIs(mt, repo.MarkUsed(context.Background(), uuid.New()), otp.ErrAttemptNotFound)
	})

	mt.Run("EnsureIndexes", func(mt *mtest.T) {
		repo := NewOTPAttemptRepository(newTestLogger(), mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		assert.NoError(mt, repo.EnsureIndexes(context.Background()))
	})
}
