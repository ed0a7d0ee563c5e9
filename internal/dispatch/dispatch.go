// Package dispatch implements the bounded-concurrency worker pool shared by
// the JSON-LD resolver phases (P2 vocab resolver, P4 enrichment resolver);
// the geocoder's reconciliation search runs its own errgroup and does not
// use this package. It generalizes the teacher's
// internal/sources/manager.go Aggregate/processFeed semaphore-and-WaitGroup
// pattern to golang.org/x/sync/errgroup, since errgroup composes with
// context cancellation the way every HTTP-bound phase here needs.
package dispatch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/logger"
)

// Options configures a dispatcher run.
type Options struct {
	// Concurrency bounds the number of in-flight tasks (spec §4.8 "at most
	// M in-flight tasks"). Defaults to 1 if <= 0.
	Concurrency int
	// ProgressEvery logs a progress line every N completions (0 disables).
	ProgressEvery int
	// ProgressLabel is printed with each progress line.
	ProgressLabel string
}

// Run submits one task per item, bounded to opts.Concurrency in-flight at a
// time, and hands every result to onResult as it completes (completion
// order, not submission order — spec §4.8). A failed task (work returns an
// error) does not abort the run: it is counted and onResult is still
// invoked so the caller can decide what "leaving it for a resume run" means
// for that row. onResult is called from a single goroutine, so it may
// safely batch writes to the store without its own locking.
func Run[In any, Out any](
	ctx context.Context,
	items []In,
	opts Options,
	work func(ctx context.Context, item In) (Out, error),
	onResult func(item In, result Out, err error),
) (completed, failed int) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	type envelope struct {
		item   In
		result Out
		err    error
	}

	results := make(chan envelope, opts.Concurrency)
	var writerWG sync.WaitGroup
	writerWG.Add(1)
	go func() {
		defer writerWG.Done()
		start := time.Now()
		n := 0
		for e := range results {
			onResult(e.item, e.result, e.err)
			if e.err != nil {
				failed++
			}
			completed++
			n++
			if opts.ProgressEvery > 0 && n%opts.ProgressEvery == 0 {
				rate := float64(n) / time.Since(start).Seconds()
				logger.Info("dispatch progress",
					"label", opts.ProgressLabel,
					"completed", n,
					"total", len(items),
					"rate_per_sec", rate,
				)
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for _, item := range items {
		item := item
		g.Go(func() error {
			out, err := work(gctx, item)
			select {
			case results <- envelope{item: item, result: out, err: err}:
			case <-ctx.Done():
			}
			return nil // per-task errors never abort the dispatcher (spec §4.8)
		})
	}

	_ = g.Wait()
	close(results)
	writerWG.Wait()

	return completed, failed
}
