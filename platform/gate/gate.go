// Package gate bounds concurrent outstanding calls to external collaborators.
// This is part of the platform layer and contains no business logic.
package gate

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// Gate is a weighted semaphore shared by all collaborator clients so the
// process-wide number of in-flight external calls stays under the configured
// cap regardless of how many pipelines run concurrently.
type Gate struct {
	sem *semaphore.Weighted
}

// New creates a gate allowing at most maxInFlight concurrent calls.
// maxInFlight < 1 disables the cap.
func New(maxInFlight int64) *Gate {
	if maxInFlight < 1 {
		return &Gate{}
	}
	return &Gate{sem: semaphore.NewWeighted(maxInFlight)}
}

// Do runs fn under the gate with a per-call timeout. Waiting for a slot
// respects ctx cancellation; the timeout applies to fn only, not the wait.
func (g *Gate) Do(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if g != nil && g.sem != nil {
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer g.sem.Release(1)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return fn(ctx)
}
