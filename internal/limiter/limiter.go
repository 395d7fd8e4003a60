// Package limiter throttles expensive maintenance calls per actor.
package limiter

import (
	"context"
	"time"
)

// Limiter bounds how often one actor may invoke a maintenance function.
type Limiter interface {
	// Allow records one call and reports whether it fits the current window.
	// When denied, retryAfter says how long until the window resets.
	Allow(ctx context.Context, actorID, fn string) (ok bool, retryAfter time.Duration, err error)
}
