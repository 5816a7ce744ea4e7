// Package dispatcher drives fetch workers over an identifier range.
package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/writeup-search/internal/metrics"
	"github.com/JakeFAU/writeup-search/internal/queue/memory"
	"github.com/JakeFAU/writeup-search/internal/worker"
	"github.com/JakeFAU/writeup-search/internal/writeup"
)

// Config sizes the worker pool and its task queue.
type Config struct {
	// Workers is the pool size; 1 processes identifiers strictly in order.
	Workers    int
	QueueDepth int
}

// WorkerFactory builds the worker at position index.
type WorkerFactory func(index int) *worker.Worker

// Dispatcher fans identifiers out to a fixed pool of workers.
type Dispatcher struct {
	cfg       Config
	newWorker WorkerFactory
	logger    *zap.Logger
	observer  func(worker.Outcome)
}

// New creates a Dispatcher.
func New(cfg Config, factory WorkerFactory, logger *zap.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = cfg.Workers * 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{cfg: cfg, newWorker: factory, logger: logger}
}

// OnOutcome registers a callback invoked for every outcome as it arrives.
func (d *Dispatcher) OnOutcome(fn func(worker.Outcome)) {
	d.observer = fn
}

// Run enqueues ids in order and blocks until every dispatched identifier has a final outcome.
// Canceling ctx stops dispatch of new identifiers; in-flight fetches finish and persist.
func (d *Dispatcher) Run(ctx context.Context, ids []writeup.ID) (writeup.FetchReport, error) {
	queue := memory.NewQueue(d.cfg.QueueDepth)
	results := make(chan worker.Outcome, d.cfg.Workers)

	go func() {
		defer queue.Close()
		for _, id := range ids {
			if err := queue.Enqueue(ctx, id); err != nil {
				d.logger.Info("dispatch halted", zap.Int("next_id", int(id)), zap.Error(err))
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx, queue, results)
		}(d.newWorker(i))
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	report := writeup.FetchReport{}
	for out := range results {
		d.tally(&report, out)
		if d.observer != nil {
			d.observer(out)
		}
	}
	sortIDs(report.PermanentFailed)
	sortIDs(report.RetryExhausted)

	d.logger.Info("fetch stage finished",
		zap.Int("attempted", report.Attempted),
		zap.Int("fetched", report.Fetched),
		zap.Int("permanent_failed", len(report.PermanentFailed)),
		zap.Int("retry_exhausted", len(report.RetryExhausted)),
		zap.Int("skipped_existing", report.SkippedExisting),
		zap.Int("retries", report.Retries),
	)
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("fetch stage interrupted: %w", err)
	}
	return report, nil
}

func (d *Dispatcher) tally(report *writeup.FetchReport, out worker.Outcome) {
	if out.Attempts > 1 {
		report.Retries += out.Attempts - 1
	}
	switch out.Kind {
	case worker.KindFetched:
		report.Attempted++
		report.Fetched++
		metrics.ObserveFetch(metrics.OutcomeFetched, out.Bytes)
	case worker.KindPermanent, worker.KindStoreFailed:
		report.Attempted++
		report.PermanentFailed = append(report.PermanentFailed, out.ID)
		metrics.ObserveFetch(out.Kind, 0)
	case worker.KindRetryExhausted:
		report.Attempted++
		report.RetryExhausted = append(report.RetryExhausted, out.ID)
		metrics.ObserveFetch(metrics.OutcomeRetryExhausted, 0)
	case worker.KindSkipped:
		report.SkippedExisting++
		metrics.ObserveFetch(metrics.OutcomeSkipped, 0)
	case worker.KindInterrupted:
		d.logger.Debug("fetch interrupted", zap.Int("writeup_id", int(out.ID)), zap.Error(out.Err))
	}
}

func sortIDs(ids []writeup.ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
