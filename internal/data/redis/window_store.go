// Package redis keeps sliding rate-limit windows in Redis sorted sets so that every node
// sharing the server sees the same attempt history.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "otp_attempts:"

// WindowStore stores attempt timestamps as sorted-set members scored by unix millis
type WindowStore struct {
	client goredis.Cmdable
}

// NewWindowStore creates a window store on client
func NewWindowStore(client goredis.Cmdable) *WindowStore {
	return &WindowStore{client: client}
}

// Prune drops attempts at or before cutoff
func (s *WindowStore) Prune(ctx context.Context, key string, cutoff time.Time) error {
	max := strconv.FormatInt(cutoff.UnixMilli(), 10)
	if err := s.client.ZRemRangeByScore(ctx, keyPrefix+key, "-inf", max).Err(); err != nil {
		return fmt.Errorf("failed to prune window %s: %w", key, err)
	}
	return nil
}

// Count returns the number of attempts in the window
func (s *WindowStore) Count(ctx context.Context, key string) (int, error) {
	n, err := s.client.ZCard(ctx, keyPrefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count window %s: %w", key, err)
	}
	return int(n), nil
}

// Oldest returns the earliest attempt still in the window
func (s *WindowStore) Oldest(ctx context.Context, key string) (time.Time, bool, error) {
	members, err := s.client.ZRangeWithScores(ctx, keyPrefix+key, 0, 0).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read window %s: %w", key, err)
	}
	if len(members) == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(int64(members[0].Score)).UTC(), true, nil
}

// Add records an attempt at the given time and refreshes the key's expiry to ttl
func (s *WindowStore) Add(ctx context.Context, key string, at time.Time, ttl time.Duration) error {
	member := goredis.Z{
		Score:  float64(at.UnixMilli()),
		Member: strconv.FormatInt(at.UnixMilli(), 10) + "-" + uuid.NewString(),
	}

	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZAdd(ctx, keyPrefix+key, member)
		pipe.Expire(ctx, keyPrefix+key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record attempt in window %s: %w", key, err)
	}
	return nil
}
