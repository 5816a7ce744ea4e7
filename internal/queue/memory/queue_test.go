package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JakeFAU/writeup-search/internal/writeup"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan writeup.ID, 1)
	errCh := make(chan error, 1)

	go func() {
		id, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- id
	}()

	if err := q.Enqueue(context.Background(), 42); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got != 42 {
			t.Fatalf("expected 42, got %d", got)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return id")
	}
}

func TestQueuePreservesOrder(t *testing.T) {
	t.Parallel()

	q := NewQueue(8)
	for _, id := range writeup.Range(1, 6) {
		if err := q.Enqueue(context.Background(), id); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", id, err)
		}
	}
	if got := len(q.ch); got != 5 {
		t.Fatalf("expected 5 buffered ids, got %d", got)
	}
	q.Close()
	for want := writeup.ID(1); want < 6; want++ {
		got, err := q.Dequeue(context.Background())
		if err != nil {
			t.Fatalf("Dequeue() error = %v", err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after drain, got %v", err)
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := qDequeue.Dequeue(ctx); err == nil ||
		err.Error() != "dequeue canceled: context canceled" {
		t.Fatalf("expected dequeue cancel error, got %v", err)
	}

	qEnqueue := NewQueue(1)
	if err := qEnqueue.Enqueue(context.Background(), 1); err != nil {
		t.Fatalf("failed to prime enqueue queue: %v", err)
	}
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if err := qEnqueue.Enqueue(ctx, 2); err == nil ||
		err.Error() != "enqueue canceled: context canceled" {
		t.Fatalf("expected enqueue cancel error, got %v", err)
	}
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected queue closed error, got %v", err)
	}
	if err := q.Enqueue(context.Background(), 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected enqueue after close to fail, got %v", err)
	}
	// Closing twice should be safe.
	q.Close()
}
