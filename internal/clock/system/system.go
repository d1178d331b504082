// Package system provides a real clock implementation.
package system

import (
	"time"

	"github.com/JakeFAU/site-mirror/internal/mirror"
)

var _ mirror.Clock = Clock{}

// Clock implements mirror.Clock using the wall clock in UTC. Destination
// directories and catalog timestamps are all derived from it.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
