package batch

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Batch is the half-open index range [Start, End).
type Batch struct {
	Start, End int
}

// Len returns the number of indices in b.
func (b Batch) Len() int { return b.End - b.Start }

func (b Batch) String() string { return fmt.Sprintf("[%v,%v)", b.Start, b.End) }

// Stage is the work done for one batch.
//
// Before and After run on the calling goroutine in batch order, so they
// may own a file handle. Work runs concurrently, once per index, and
// must only touch state belonging to that index.
type Stage struct {
	Before func(ctx context.Context, b Batch) error
	Work   func(ctx context.Context, index int) error
	After  func(ctx context.Context, b Batch) error
}

// Scheduler splits an index range into batches and runs a Stage over them.
type Scheduler struct {
	Workers    int         // concurrent Work calls; <= 0 means GOMAXPROCS
	BatchSize  int         // indices per batch; <= 0 means 4 * Workers
	Controller *Controller // optional; a private one is used if nil
}

func (s *Scheduler) workers() int {
	if s.Workers > 0 {
		return s.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (s *Scheduler) batchSize() int {
	if s.BatchSize > 0 {
		return s.BatchSize
	}
	return 4 * s.workers()
}

// Batches returns the ordered partition of [0, total).
func (s *Scheduler) Batches(total int) []Batch {
	size := s.batchSize()
	var out []Batch
	for start := 0; start < total; start += size {
		out = append(out, Batch{Start: start, End: min(start+size, total)})
	}
	return out
}

// Run executes st over [0, total). It stops at the first error; once
// cancellation is observed no further items are started, but items
// already running finish before Run returns.
func (s *Scheduler) Run(ctx context.Context, total int, st Stage) error {
	c := s.Controller
	if c == nil {
		c = NewController()
	}
	c.SetTotal(total)

	for _, b := range s.Batches(total) {
		if err := c.Checkpoint(ctx); err != nil {
			return err
		}
		if st.Before != nil {
			if err := st.Before(ctx, b); err != nil {
				return err
			}
		}
		if st.Work != nil {
			if err := s.runBatch(ctx, c, b, st.Work); err != nil {
				return err
			}
		} else {
			c.Add(b.Len())
		}
		if st.After != nil {
			if err := st.After(ctx, b); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Scheduler) runBatch(ctx context.Context, c *Controller, b Batch, work func(context.Context, int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers())
	for i := b.Start; i < b.End; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := c.Checkpoint(gctx); err != nil {
				return err
			}
			if err := work(gctx, i); err != nil {
				return err
			}
			c.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	// A canceled parent context can stop dispatch without any item failing.
	return ctx.Err()
}
