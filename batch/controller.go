// Package batch runs per-layer work in ordered batches on a bounded pool
// of goroutines, with cooperative cancellation, pause and progress.
package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrCanceled is returned once Controller.Cancel has been called.
var ErrCanceled = errors.New("operation canceled")

// Controller is the progress and flow-control sink for one operation.
// It is safe for concurrent use. The zero value is not usable; call
// NewController.
type Controller struct {
	done  atomic.Int64
	total atomic.Int64

	mu       sync.Mutex
	resume   chan struct{} // non-nil while paused; closed by Resume
	canceled chan struct{}
	once     sync.Once
}

// NewController returns a running (not paused, not canceled) controller.
func NewController() *Controller {
	return &Controller{canceled: make(chan struct{})}
}

// Pause makes every worker block at its next checkpoint.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resume == nil {
		c.resume = make(chan struct{})
	}
}

// Resume releases paused workers.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resume != nil {
		close(c.resume)
		c.resume = nil
	}
}

// Paused reports whether Pause is in effect.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resume != nil
}

// Cancel stops dispatching new work. Work already started runs to completion.
func (c *Controller) Cancel() {
	c.once.Do(func() { close(c.canceled) })
}

// Canceled reports whether Cancel has been called.
func (c *Controller) Canceled() bool {
	select {
	case <-c.canceled:
		return true
	default:
		return false
	}
}

// Checkpoint returns nil if work may proceed. While paused it blocks
// until Resume, Cancel, or ctx is done.
func (c *Controller) Checkpoint(ctx context.Context) error {
	for {
		select {
		case <-c.canceled:
			return ErrCanceled
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		c.mu.Lock()
		resume := c.resume
		c.mu.Unlock()
		if resume == nil {
			return nil
		}

		select {
		case <-resume:
		case <-c.canceled:
			return ErrCanceled
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SetTotal resets progress to 0 of n.
func (c *Controller) SetTotal(n int) {
	c.done.Store(0)
	c.total.Store(int64(n))
}

// Add records n completed items.
func (c *Controller) Add(n int) { c.done.Add(int64(n)) }

// Done returns the number of completed items.
func (c *Controller) Done() int64 { return c.done.Load() }

// Total returns the number of items in the current operation.
func (c *Controller) Total() int64 { return c.total.Load() }
