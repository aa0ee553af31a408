// Package runner drains a work queue with a bounded number of concurrent
// handlers, where handlers may feed new work back into the queue.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultMaxConcurrent is used when Options.MaxConcurrent is not positive.
const DefaultMaxConcurrent = 100

// ErrAborted wraps the error that stopped a fail-fast run.
var ErrAborted = errors.New("run aborted")

// Queue is the shared FIFO of pending items. Handlers push follow-up work
// onto it; it is safe for concurrent use.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
}

// Push appends items to the back of the queue.
func (q *Queue[T]) Push(items ...T) {
	q.mu.Lock()
	q.items = append(q.items, items...)
	q.mu.Unlock()
}

// Len returns the number of pending items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

// Results accumulates handler output; it is safe for concurrent use.
type Results[R any] struct {
	mu    sync.Mutex
	items []R
}

// Push appends results.
func (r *Results[R]) Push(items ...R) {
	r.mu.Lock()
	r.items = append(r.items, items...)
	r.mu.Unlock()
}

func (r *Results[R]) snapshot() []R {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]R(nil), r.items...)
}

// Handler processes one item. It may push any number of items and results,
// including none.
type Handler[T, R any] func(ctx context.Context, item T, queue *Queue[T], results *Results[R]) error

// Options tune a run.
type Options struct {
	// MaxConcurrent bounds the number of handlers in flight.
	MaxConcurrent int
	// ContinueOnError records failing items in the report instead of
	// aborting the run.
	ContinueOnError bool
	// OnTaskDone, if set, is called after every handler returns, from the
	// goroutine that called Run.
	OnTaskDone func(err error)
}

// Failure is an item whose handler returned an error.
type Failure[T any] struct {
	Item T
	Err  error
}

// Report is the outcome of a run. Results are in completion order.
type Report[T, R any] struct {
	Results     []R
	Failures    []Failure[T]
	Processed   int
	MaxInFlight int
}

type completion[T any] struct {
	item T
	err  error
}

// Run processes seeds, and everything handlers push, until the queue is
// empty and no handler is in flight.
//
// By default the first handler error stops scheduling: handlers already
// running are waited for, their output is discarded, and the error is
// returned wrapped in ErrAborted. With ContinueOnError the run goes on and
// failures are listed in the report. A cancelled ctx stops scheduling the
// same way a failure does.
func Run[T, R any](ctx context.Context, seeds []T, handler Handler[T, R], opts Options) (Report[T, R], error) {
	limit := opts.MaxConcurrent
	if limit <= 0 {
		limit = DefaultMaxConcurrent
	}

	queue := &Queue[T]{}
	queue.Push(seeds...)
	results := &Results[R]{}
	done := make(chan completion[T], limit)

	var (
		report   Report[T, R]
		inFlight int
		firstErr error
	)
	for {
		for firstErr == nil && inFlight < limit {
			if err := ctx.Err(); err != nil {
				firstErr = err
				break
			}
			item, ok := queue.pop()
			if !ok {
				break
			}
			inFlight++
			if inFlight > report.MaxInFlight {
				report.MaxInFlight = inFlight
			}
			go func(item T) {
				done <- completion[T]{item: item, err: handler(ctx, item, queue, results)}
			}(item)
		}
		if inFlight == 0 {
			break
		}

		c := <-done
		inFlight--
		report.Processed++
		if opts.OnTaskDone != nil {
			opts.OnTaskDone(c.err)
		}
		if c.err == nil {
			continue
		}
		if opts.ContinueOnError {
			report.Failures = append(report.Failures, Failure[T]{Item: c.item, Err: c.err})
		} else if firstErr == nil {
			firstErr = c.err
		}
	}

	if firstErr != nil {
		return Report[T, R]{Processed: report.Processed, MaxInFlight: report.MaxInFlight},
			fmt.Errorf("%w: %w", ErrAborted, firstErr)
	}
	report.Results = results.snapshot()
	return report, nil
}
