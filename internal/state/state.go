// Package state holds the shared orchestration state: the pending job that
// collects trigger reasons, the run lock that keeps mirror runs single-flight,
// and the last fatal run error. Every mutation is a compare-and-set against
// the backing store so independent trigger and run paths never race.
package state

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/site-mirror/internal/mirror"
)

// ErrNotDue is returned by Acquire when the pending job was pushed past now
// by a later trigger. The caller should re-arm its timer for the new due time.
var ErrNotDue = errors.New("pending mirror job not yet due")

// EnqueueOptions controls how a trigger moves the pending job's due time.
type EnqueueOptions struct {
	Now      time.Time
	Debounce time.Duration
	Retry    time.Duration
	// Manual marks an operator-requested run. It bypasses the debounce
	// delay and selects manual recursion.
	Manual bool
	// Immediate bypasses the debounce delay without marking the job manual.
	Immediate bool
}

// Store is the persisted orchestration state machine.
type Store interface {
	// Enqueue appends reason to the pending job, creating it when idle, and
	// returns the job with its new due time.
	Enqueue(ctx context.Context, reason string, opts EnqueueOptions) (mirror.PendingJob, error)
	// Acquire takes the run lock under token and atomically snapshots and
	// clears the pending job. It fails with mirror.ErrLockContention,
	// mirror.ErrNoPendingJob or ErrNotDue.
	Acquire(ctx context.Context, now time.Time, token string) (mirror.PendingJob, error)
	// Postpone moves the pending job's due time. It is a no-op when nothing
	// is pending.
	Postpone(ctx context.Context, due time.Time) error
	// Release drops the run lock held by token and returns the pending job
	// that accumulated while the run was in progress, if any.
	Release(ctx context.Context, token string) (*mirror.PendingJob, error)

	Pending(ctx context.Context) (*mirror.PendingJob, error)
	Lock(ctx context.Context, now time.Time) (*mirror.RunLock, error)

	SetLastError(ctx context.Context, msg string) error
	ClearLastError(ctx context.Context) error
	LastError(ctx context.Context) (string, error)
}

// nextDue computes when a pending job should fire after a trigger.
func nextDue(opts EnqueueOptions, locked bool) time.Time {
	switch {
	case locked:
		return opts.Now.Add(opts.Retry)
	case opts.Manual, opts.Immediate:
		return opts.Now
	default:
		return opts.Now.Add(opts.Debounce)
	}
}

// apply folds a trigger into the existing pending job, if any.
func apply(existing *mirror.PendingJob, reason string, opts EnqueueOptions, locked bool) mirror.PendingJob {
	job := mirror.PendingJob{}
	if existing != nil {
		job.Changelog = append(job.Changelog, existing.Changelog...)
		job.Manual = existing.Manual
	}
	job.Changelog = append(job.Changelog, reason)
	job.Manual = job.Manual || opts.Manual
	job.DueAt = nextDue(opts, locked)
	return job
}

func lockExpired(l *mirror.RunLock, ttl time.Duration, now time.Time) bool {
	return ttl > 0 && !l.StartedAt.Add(ttl).After(now)
}
