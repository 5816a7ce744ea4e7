// Package memory provides the bounded in-process task queue feeding fetch workers.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/writeup-search/internal/writeup"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue of identifiers with context-aware operations.
type Queue struct {
	ch      chan writeup.ID
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan writeup.ID, capacity),
	}
}

// Enqueue pushes an identifier or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, id writeup.ID) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- id:
		return nil
	}
}

// Dequeue pops the next identifier. Remaining items are drained after Close.
func (q *Queue) Dequeue(ctx context.Context) (writeup.ID, error) {
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case id, ok := <-q.ch:
		if !ok {
			return 0, ErrClosed
		}
		return id, nil
	}
}

// Close stops accepting new identifiers.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
