package ratelimit

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boliseva-loan-ledger/internal/config"
	redisstore "github.com/boliseva-loan-ledger/internal/data/redis"
	"github.com/boliseva-loan-ledger/internal/data/sqlite"
	"github.com/boliseva-loan-ledger/internal/domain/shared"
	"github.com/boliseva-loan-ledger/internal/platform/persistence"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newKV(t *testing.T) *sqlite.KVStore {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, persistence.RunLocalMigrations(context.Background(), db))
	return sqlite.NewKVStore(db)
}

func backends(t *testing.T) map[string]func(t *testing.T) WindowStore {
	return map[string]func(t *testing.T) WindowStore{
		"local": func(t *testing.T) WindowStore {
			return NewLocalWindowStore(newTestLogger(), newKV(t))
		},
		"redis": func(t *testing.T) WindowStore {
			server := miniredis.RunT(t)
			client := goredis.NewClient(&goredis.Options{Addr: server.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return redisstore.NewWindowStore(client)
		},
	}
}

func TestLimiter_Window(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := &fakeClock{now: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)}
			cfg := &config.RateLimitConfig{MaxAttempts: 3, Window: time.Hour}
			limiter := NewLimiter(cfg, newStore(t), clock, newTestLogger())
			phone := "+919876543210"

			for i := 0; i < cfg.MaxAttempts-1; i++ {
				require.NoError(t, limiter.RecordAttempt(ctx, phone))
				clock.Advance(time.Minute)
			}

			limited, err := limiter.IsLimited(ctx, phone)
			require.NoError(t, err)
			assert.False(t, limited, "not limited at max-1")

			remaining, err := limiter.Remaining(ctx, phone)
			require.NoError(t, err)
			assert.Equal(t, 1, remaining)

			require.NoError(t, limiter.RecordAttempt(ctx, phone))

			limited, err = limiter.IsLimited(ctx, phone)
			require.NoError(t, err)
			assert.True(t, limited, "limited at max")

			retryAfter, err := limiter.RetryAfter(ctx, phone)
			require.NoError(t, err)
			assert.Equal(t, time.Hour-2*time.Minute, retryAfter)

			err = limiter.Check(ctx, phone)
			var rateErr shared.RateLimitError
			require.ErrorAs(t, err, &rateErr)
			assert.Equal(t, shared.KindRateLimited, shared.KindOf(err))

			other, err := limiter.IsLimited(ctx, "+919000000000")
			require.NoError(t, err)
			assert.False(t, other, "windows are per phone")

			clock.Advance(time.Hour)

			limited, err = limiter.IsLimited(ctx, phone)
			require.NoError(t, err)
			assert.False(t, limited, "resets after the window")

			remaining, err = limiter.Remaining(ctx, phone)
			require.NoError(t, err)
			assert.Equal(t, cfg.MaxAttempts, remaining)
			assert.NoError(t, limiter.Check(ctx, phone))
		})
	}
}

func TestLimiter_PartialExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)}
	limiter := NewLimiter(&config.RateLimitConfig{MaxAttempts: 2, Window: 10 * time.Minute},
		NewLocalWindowStore(newTestLogger(), newKV(t)), clock, newTestLogger())

	require.NoError(t, limiter.RecordAttempt(ctx, "p"))
	clock.Advance(6 * time.Minute)
	require.NoError(t, limiter.RecordAttempt(ctx, "p"))

	limited, err := limiter.IsLimited(ctx, "p")
	require.NoError(t, err)
	assert.True(t, limited)

	clock.Advance(5 * time.Minute)

	remaining, err := limiter.Remaining(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, 1, remaining, "only the first attempt left the window")
}

func TestLocalWindowStore_CorruptValueIsEmpty(t *testing.T) {
	ctx := context.Background()
	kv := newKV(t)
	require.NoError(t, kv.Set(ctx, "otp_attempts_+911234567890", []byte("not-json")))
	store := NewLocalWindowStore(newTestLogger(), kv)

	count, err := store.Count(ctx, "+911234567890")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	require.NoError(t, store.Add(ctx, "+911234567890", time.Now(), time.Hour))
	count, err = store.Count(ctx, "+911234567890")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLocalWindowStore_PruneEmptiesKey(t *testing.T) {
	ctx := context.Background()
	kv := newKV(t)
	store := NewLocalWindowStore(newTestLogger(), kv)
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Add(ctx, "p", at, time.Hour))
	oldest, ok, err := store.Oldest(ctx, "p")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, oldest.Equal(at))

	require.NoError(t, store.Prune(ctx, "p", at))

	_, exists, err := kv.Get(ctx, "otp_attempts_p")
	require.NoError(t, err)
	assert.False(t, exists)
}
