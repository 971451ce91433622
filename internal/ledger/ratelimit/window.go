package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// WindowStore keeps the attempt timestamps of each key
type WindowStore interface {
	// Prune drops attempts at or before cutoff
	Prune(ctx context.Context, key string, cutoff time.Time) error
	Count(ctx context.Context, key string) (int, error)

	// Oldest returns the earliest stored attempt, if any
	Oldest(ctx context.Context, key string) (time.Time, bool, error)
	Add(ctx context.Context, key string, at time.Time, ttl time.Duration) error
}

// KV is a byte-valued key-value store
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

const localKeyPrefix = "otp_attempts_"

// LocalWindowStore keeps each window as a JSON list of unix millis in the node's key-value store.
// An undecodable list is treated as an empty window.
type LocalWindowStore struct {
	kv     KV
	logger *slog.Logger
}

func NewLocalWindowStore(logger *slog.Logger, kv KV) *LocalWindowStore {
	return &LocalWindowStore{kv: kv, logger: logger}
}

func (s *LocalWindowStore) load(ctx context.Context, key string) ([]int64, error) {
	raw, ok, err := s.kv.Get(ctx, localKeyPrefix+key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var stamps []int64
	if err := json.Unmarshal(raw, &stamps); err != nil {
		s.logger.Warn("Discarding corrupt rate limit window", "key", key, "error", err)
		return nil, nil
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })
	return stamps, nil
}

func (s *LocalWindowStore) save(ctx context.Context, key string, stamps []int64) error {
	if len(stamps) == 0 {
		return s.kv.Delete(ctx, localKeyPrefix+key)
	}
	raw, err := json.Marshal(stamps)
	if err != nil {
		return fmt.Errorf("failed to encode window %s: %w", key, err)
	}
	return s.kv.Set(ctx, localKeyPrefix+key, raw)
}

func (s *LocalWindowStore) Prune(ctx context.Context, key string, cutoff time.Time) error {
	stamps, err := s.load(ctx, key)
	if err != nil {
		return err
	}

	limit := cutoff.UnixMilli()
	kept := stamps[:0]
	for _, stamp := range stamps {
		if stamp > limit {
			kept = append(kept, stamp)
		}
	}
	if len(kept) == len(stamps) {
		return nil
	}
	return s.save(ctx, key, kept)
}

func (s *LocalWindowStore) Count(ctx context.Context, key string) (int, error) {
	stamps, err := s.load(ctx, key)
	if err != nil {
		return 0, err
	}
	return len(stamps), nil
}

func (s *LocalWindowStore) Oldest(ctx context.Context, key string) (time.Time, bool, error) {
	stamps, err := s.load(ctx, key)
	if err != nil || len(stamps) == 0 {
		return time.Time{}, false, err
	}
	return time.UnixMilli(stamps[0]).UTC(), true, nil
}

func (s *LocalWindowStore) Add(ctx context.Context, key string, at time.Time, _ time.Duration) error {
	stamps, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	return s.save(ctx, key, append(stamps, at.UnixMilli()))
}
