package server

import (
	"context"
	"sync"

	"markethub/pkg/logger"
)

// ShutdownStep is one named stage of the teardown sequence
type ShutdownStep struct {
	Name string
	Run  func(ctx context.Context) error
}

// ShutdownCoordinator sequences teardown of the realtime layer, the job
// scheduler, and the backing connections. Steps run in order, each awaited
// before the next; a failing step is logged and does not abort the rest.
type ShutdownCoordinator struct {
	steps []ShutdownStep
	log   *logger.Logger

	mu           sync.Mutex
	shuttingDown bool
	done         chan struct{}
}

// NewShutdownCoordinator creates a coordinator over the given steps
func NewShutdownCoordinator(steps []ShutdownStep) *ShutdownCoordinator {
	return &ShutdownCoordinator{
		steps: steps,
		log:   logger.Get().With("component", "shutdown"),
		done:  make(chan struct{}),
	}
}

// Shutdown runs the teardown sequence once. A second invocation while the
// first is in progress (or after it finished) is a no-op that waits for the
// original sequence to complete. Returns true for the call that performed
// the teardown.
func (c *ShutdownCoordinator) Shutdown(ctx context.Context) bool {
	c.mu.Lock()
	if c.shuttingDown {
		c.mu.Unlock()
		c.log.Info("shutdown already in progress, ignoring duplicate request")
		<-c.done
		return false
	}
	c.shuttingDown = true
	c.mu.Unlock()

	c.log.InfoWith("shutdown starting", "steps", len(c.steps))
	for i, step := range c.steps {
		c.log.InfoWith("shutdown step", "step", i+1, "name", step.Name)
		if err := step.Run(ctx); err != nil {
			c.log.ErrorWithErr("shutdown step failed, continuing", err, "name", step.Name)
		}
	}
	c.log.Info("shutdown complete")
	close(c.done)
	return true
}

// InProgress reports whether a shutdown has been started
func (c *ShutdownCoordinator) InProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shuttingDown
}
