package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/site-mirror/internal/mirror"
)

const maxTxRetries = 16

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		redis.call("del", KEYS[2])
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisStore keeps orchestration state in Redis so that triggers arriving
// on any replica share one pending job and one run lock.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	lockTTL time.Duration
}

// NewRedisStore builds a RedisStore. Keys are namespaced under prefix. A
// positive lockTTL is set as the lock key's expiry.
func NewRedisStore(client redis.UniversalClient, prefix string, lockTTL time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "site-mirror"
	}
	return &RedisStore{client: client, prefix: prefix, lockTTL: lockTTL}
}

func (s *RedisStore) pendingKey() string   { return s.prefix + ":pending" }
func (s *RedisStore) lockKey() string      { return s.prefix + ":lock" }
func (s *RedisStore) lockInfoKey() string  { return s.prefix + ":lock:info" }
func (s *RedisStore) lastErrorKey() string { return s.prefix + ":last_error" }

// Enqueue implements Store.
func (s *RedisStore) Enqueue(ctx context.Context, reason string, opts EnqueueOptions) (mirror.PendingJob, error) {
	var job mirror.PendingJob
	err := s.watch(ctx, func(tx *redis.Tx) error {
		existing, err := getPending(ctx, tx, s.pendingKey())
		if err != nil {
			return err
		}
		locked, err := tx.Exists(ctx, s.lockKey()).Result()
		if err != nil {
			return fmt.Errorf("check lock: %w", err)
		}
		job = apply(existing, reason, opts, locked > 0)
		payload, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("encode pending job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.pendingKey(), payload, 0)
			return nil
		})
		return err
	}, s.pendingKey(), s.lockKey())
	if err != nil {
		return mirror.PendingJob{}, err
	}
	return job, nil
}

// Acquire implements Store.
func (s *RedisStore) Acquire(ctx context.Context, now time.Time, token string) (mirror.PendingJob, error) {
	var job mirror.PendingJob
	err := s.watch(ctx, func(tx *redis.Tx) error {
		locked, err := tx.Exists(ctx, s.lockKey()).Result()
		if err != nil {
			return fmt.Errorf("check lock: %w", err)
		}
		if locked > 0 {
			return mirror.ErrLockContention
		}
		existing, err := getPending(ctx, tx, s.pendingKey())
		if err != nil {
			return err
		}
		if existing == nil {
			return mirror.ErrNoPendingJob
		}
		if existing.DueAt.After(now) {
			return ErrNotDue
		}
		job = *existing
		info, err := json.Marshal(mirror.RunLock{Token: token, StartedAt: now, Changelog: job.Changelog})
		if err != nil {
			return fmt.Errorf("encode run lock: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.pendingKey())
			pipe.Set(ctx, s.lockKey(), token, s.lockTTL)
			pipe.Set(ctx, s.lockInfoKey(), info, s.lockTTL)
			return nil
		})
		return err
	}, s.pendingKey(), s.lockKey())
	if err != nil {
		return mirror.PendingJob{}, err
	}
	return job, nil
}

// Postpone implements Store.
func (s *RedisStore) Postpone(ctx context.Context, due time.Time) error {
	return s.watch(ctx, func(tx *redis.Tx) error {
		existing, err := getPending(ctx, tx, s.pendingKey())
		if err != nil || existing == nil {
			return err
		}
		existing.DueAt = due
		payload, err := json.Marshal(existing)
		if err != nil {
			return fmt.Errorf("encode pending job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.pendingKey(), payload, 0)
			return nil
		})
		return err
	}, s.pendingKey())
}

// Release implements Store.
func (s *RedisStore) Release(ctx context.Context, token string) (*mirror.PendingJob, error) {
	result, err := releaseScript.Run(ctx, s.client, []string{s.lockKey(), s.lockInfoKey()}, token).Int()
	if err != nil {
		return nil, fmt.Errorf("release run lock: %w", err)
	}
	pending, err := s.Pending(ctx)
	if err != nil {
		return nil, err
	}
	if result == 0 {
		return pending, mirror.ErrLockNotHeld
	}
	return pending, nil
}

// Pending implements Store.
func (s *RedisStore) Pending(ctx context.Context) (*mirror.PendingJob, error) {
	return getPending(ctx, s.client, s.pendingKey())
}

// Lock implements Store. Expiry is enforced by Redis so now is unused.
func (s *RedisStore) Lock(ctx context.Context, _ time.Time) (*mirror.RunLock, error) {
	raw, err := s.client.Get(ctx, s.lockInfoKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read run lock: %w", err)
	}
	var l mirror.RunLock
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("decode run lock: %w", err)
	}
	return &l, nil
}

// SetLastError implements Store.
func (s *RedisStore) SetLastError(ctx context.Context, msg string) error {
	if err := s.client.Set(ctx, s.lastErrorKey(), msg, 0).Err(); err != nil {
		return fmt.Errorf("set last error: %w", err)
	}
	return nil
}

// ClearLastError implements Store.
func (s *RedisStore) ClearLastError(ctx context.Context) error {
	if err := s.client.Del(ctx, s.lastErrorKey()).Err(); err != nil {
		return fmt.Errorf("clear last error: %w", err)
	}
	return nil
}

// LastError implements Store.
func (s *RedisStore) LastError(ctx context.Context) (string, error) {
	msg, err := s.client.Get(ctx, s.lastErrorKey()).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read last error: %w", err)
	}
	return msg, nil
}

// watch runs fn in an optimistic transaction, retrying when a watched key
// changed underneath it.
func (s *RedisStore) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for range maxTxRetries {
		err := s.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("state transaction: %w", redis.TxFailedErr)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getPending(ctx context.Context, c getter, key string) (*mirror.PendingJob, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pending job: %w", err)
	}
	var job mirror.PendingJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode pending job: %w", err)
	}
	return &job, nil
}
