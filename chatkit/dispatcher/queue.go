// Package dispatcher marshals listener callbacks onto one designated
// execution context, preserving submission order.
package dispatcher

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
)

var ErrQueueClosed = errors.New("dispatcher: queue closed")

// Executor runs scheduled work in submission order on a single logical
// thread of control.
type Executor interface {
	Schedule(fn func())
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(fn func())

func (f ExecutorFunc) Schedule(fn func()) {
	f(fn)
}

// Queue is an unbounded FIFO executor drained by one goroutine. Schedule
// never blocks, and a panicking work item is logged and skipped.
type Queue struct {
	logger zerolog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	items  []func()
	closed bool
	done   chan struct{}
}

// NewQueue starts a queue.
func NewQueue(logger zerolog.Logger) *Queue {
	q := &Queue{
		logger: logger,
		done:   make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.drain()
	return q
}

// Schedule implements Executor. Work scheduled after Close is dropped.
func (q *Queue) Schedule(fn func()) {
	if err := q.TrySchedule(fn); err != nil {
		q.logger.Debug().Err(err).Msg("dropping work item")
	}
}

// TrySchedule enqueues fn or reports ErrQueueClosed.
func (q *Queue) TrySchedule(fn func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, fn)
	q.cond.Signal()
	return nil
}

// Flush waits until everything scheduled before the call has run.
func (q *Queue) Flush(ctx context.Context) error {
	marker := make(chan struct{})
	if err := q.TrySchedule(func() { close(marker) }); err != nil {
		return err
	}
	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work, runs what is already queued and waits for
// the drain goroutine to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}

func (q *Queue) drain() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()

		q.run(fn)
	}
}

func (q *Queue) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("listener callback panicked")
		}
	}()
	fn()
}
