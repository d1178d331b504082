package mirror

import (
	"errors"
	"fmt"
)

var (
	// ErrDependencyUnavailable is returned when the crawl program cannot be run.
	ErrDependencyUnavailable = errors.New("crawl dependency unavailable")

	// ErrLockContention is returned when another run holds the run lock.
	ErrLockContention = errors.New("mirror run already in progress")

	// ErrNoPendingJob is returned when a run fires with nothing queued, which
	// happens on duplicate timer deliveries.
	ErrNoPendingJob = errors.New("no pending mirror job")

	// ErrLockNotHeld is returned when releasing a lock owned by someone else.
	ErrLockNotHeld = errors.New("run lock not held")
)

// CrawlFailedError reports a base URL for which the crawler produced no output.
type CrawlFailedError struct {
	URL    string
	Output string
}

func (e *CrawlFailedError) Error() string {
	return fmt.Sprintf("crawl of %s produced no output", e.URL)
}

// PublishPartialError records a single file that could not be transferred.
type PublishPartialError struct {
	File string
	Err  error
}

func (e *PublishPartialError) Error() string {
	return fmt.Sprintf("publish %s: %v", e.File, e.Err)
}

func (e *PublishPartialError) Unwrap() error {
	return e.Err
}
