package state

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/site-mirror/internal/mirror"
)

// MemoryStore is a single-process Store guarded by a mutex.
type MemoryStore struct {
	mu        sync.Mutex
	lockTTL   time.Duration
	pending   *mirror.PendingJob
	lock      *mirror.RunLock
	lastError string
}

// NewMemoryStore returns an empty store. A positive lockTTL lets a stale
// lock from a crashed run be taken over.
func NewMemoryStore(lockTTL time.Duration) *MemoryStore {
	return &MemoryStore{lockTTL: lockTTL}
}

// Enqueue implements Store.
func (s *MemoryStore) Enqueue(_ context.Context, reason string, opts EnqueueOptions) (mirror.PendingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := apply(s.pending, reason, opts, s.heldLocked(opts.Now))
	s.pending = &job
	return clonePending(job), nil
}

// Acquire implements Store.
func (s *MemoryStore) Acquire(_ context.Context, now time.Time, token string) (mirror.PendingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.heldLocked(now) {
		return mirror.PendingJob{}, mirror.ErrLockContention
	}
	if s.pending == nil {
		return mirror.PendingJob{}, mirror.ErrNoPendingJob
	}
	if s.pending.DueAt.After(now) {
		return mirror.PendingJob{}, ErrNotDue
	}
	job := *s.pending
	s.pending = nil
	s.lock = &mirror.RunLock{
		Token:     token,
		StartedAt: now,
		Changelog: append([]string(nil), job.Changelog...),
	}
	return job, nil
}

// Postpone implements Store.
func (s *MemoryStore) Postpone(_ context.Context, due time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		s.pending.DueAt = due
	}
	return nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, token string) (*mirror.PendingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.pendingCopy()
	if s.lock == nil || s.lock.Token != token {
		return pending, mirror.ErrLockNotHeld
	}
	s.lock = nil
	return pending, nil
}

// Pending implements Store.
func (s *MemoryStore) Pending(context.Context) (*mirror.PendingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingCopy(), nil
}

// Lock implements Store.
func (s *MemoryStore) Lock(_ context.Context, now time.Time) (*mirror.RunLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.heldLocked(now) {
		return nil, nil
	}
	l := *s.lock
	l.Changelog = append([]string(nil), s.lock.Changelog...)
	return &l, nil
}

// SetLastError implements Store.
func (s *MemoryStore) SetLastError(_ context.Context, msg string) error {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
	return nil
}

// ClearLastError implements Store.
func (s *MemoryStore) ClearLastError(ctx context.Context) error {
	return s.SetLastError(ctx, "")
}

// LastError implements Store.
func (s *MemoryStore) LastError(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError, nil
}

// heldLocked reports whether a live lock exists. Callers hold s.mu.
func (s *MemoryStore) heldLocked(now time.Time) bool {
	if s.lock == nil {
		return false
	}
	if lockExpired(s.lock, s.lockTTL, now) {
		s.lock = nil
		return false
	}
	return true
}

func (s *MemoryStore) pendingCopy() *mirror.PendingJob {
	if s.pending == nil {
		return nil
	}
	job := clonePending(*s.pending)
	return &job
}

func clonePending(job mirror.PendingJob) mirror.PendingJob {
	job.Changelog = append([]string(nil), job.Changelog...)
	return job
}
