// Package loader submits a record collection to a search index in batches.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/writeup-search/internal/metrics"
	"github.com/JakeFAU/writeup-search/internal/writeup"
)

// Batch outcomes reported to metrics.
const (
	OutcomeAccepted = "accepted"
	OutcomePartial  = "partial"
	OutcomeFailed   = "failed"
)

// Config controls a Loader.
type Config struct {
	IndexName    string
	TensorFields []string
	BatchSize    int
	// Concurrency bounds in-flight batches; 1 submits strictly in order.
	Concurrency int
	// StartOffset skips that many leading records, resuming an interrupted load.
	StartOffset int
}

// Loader partitions records into batches and submits each one.
type Loader struct {
	index  writeup.Index
	cfg    Config
	logger *zap.Logger
}

// Totals aggregates a set of batch results.
type Totals struct {
	Batches       int `json:"batches"`
	Indexed       int `json:"indexed"`
	Rejected      int `json:"rejected"`
	FailedBatches int `json:"failed_batches"`
}

// New constructs a Loader.
func New(index writeup.Index, cfg Config, logger *zap.Logger) *Loader {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{index: index, cfg: cfg, logger: logger}
}

// Partition splits records into contiguous batches of at most size records.
// Concatenating the batches yields records unchanged.
func Partition(records writeup.Collection, size int) [][]writeup.Record {
	if size <= 0 || len(records) == 0 {
		return nil
	}
	batches := make([][]writeup.Record, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[start:end:end])
	}
	return batches
}

// EnsureIndex creates the target index, tolerating one that already exists.
func (l *Loader) EnsureIndex(ctx context.Context) error {
	err := l.index.CreateIndex(ctx, l.cfg.IndexName)
	if errors.Is(err, writeup.ErrIndexAlreadyExists) {
		l.logger.Info("index already exists", zap.String("index", l.cfg.IndexName))
		return nil
	}
	if err != nil {
		return fmt.Errorf("ensure index: %w", err)
	}
	return nil
}

// Load ensures the index exists and submits every batch. Batch failures are
// recorded in the results and never abort the load; a failure to create the
// index or a canceled context does.
func (l *Loader) Load(ctx context.Context, records writeup.Collection) ([]writeup.IndexSubmissionResult, error) {
	if err := l.EnsureIndex(ctx); err != nil {
		return nil, err
	}

	offset := l.cfg.StartOffset
	if offset > len(records) {
		offset = len(records)
	}
	batches := Partition(records[offset:], l.cfg.BatchSize)
	l.logger.Info("loading records",
		zap.String("index", l.cfg.IndexName),
		zap.Int("records", len(records)-offset),
		zap.Int("start_offset", offset),
		zap.Int("batches", len(batches)),
		zap.Int("batch_size", l.cfg.BatchSize),
	)

	var (
		results []writeup.IndexSubmissionResult
		err     error
	)
	if l.cfg.Concurrency == 1 {
		results, err = l.loadSequential(ctx, batches, offset)
	} else {
		results, err = l.loadPooled(ctx, batches, offset)
	}

	t := Summarize(results)
	l.logger.Info("load finished",
		zap.Int("submitted_batches", t.Batches),
		zap.Int("indexed", t.Indexed),
		zap.Int("rejected", t.Rejected),
		zap.Int("failed_batches", t.FailedBatches),
	)
	return results, err
}

func (l *Loader) loadSequential(ctx context.Context, batches [][]writeup.Record, offset int) ([]writeup.IndexSubmissionResult, error) {
	results := make([]writeup.IndexSubmissionResult, 0, len(batches))
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("load interrupted at batch %d: %w", i, err)
		}
		results = append(results, l.submit(ctx, i, batch, offset))
	}
	return results, nil
}

func (l *Loader) loadPooled(ctx context.Context, batches [][]writeup.Record, offset int) ([]writeup.IndexSubmissionResult, error) {
	pool, err := ants.NewPool(l.cfg.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("create load pool: %w", err)
	}
	defer pool.Release()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make([]writeup.IndexSubmissionResult, 0, len(batches))
		runErr  error
	)
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("load interrupted at batch %d: %w", i, err)
			break
		}
		wg.Add(1)
		i, batch := i, batch
		if err := pool.Submit(func() {
			defer wg.Done()
			res := l.submit(ctx, i, batch, offset)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}); err != nil {
			wg.Done()
			runErr = fmt.Errorf("submit batch %d: %w", i, err)
			break
		}
	}
	wg.Wait()

	sort.Slice(results, func(a, b int) bool { return results[a].BatchIndex < results[b].BatchIndex })
	return results, runErr
}

func (l *Loader) submit(ctx context.Context, i int, batch []writeup.Record, offset int) writeup.IndexSubmissionResult {
	logger := l.logger.With(
		zap.Int("batch", i),
		zap.Int("first_record", offset+i*l.cfg.BatchSize),
		zap.Int("size", len(batch)),
	)
	res, err := l.index.AddDocuments(ctx, l.cfg.IndexName, batch, l.cfg.TensorFields)
	res.BatchIndex = i
	res.Size = len(batch)
	if err != nil {
		res.Accepted = 0
		res.Err = err
		logger.Error("batch submission failed", zap.Error(err))
		metrics.ObserveBatch(OutcomeFailed, 0, len(batch))
		return res
	}
	if len(res.Errors) > 0 {
		logger.Warn("batch partially rejected", zap.Int("rejected", len(res.Errors)), zap.Any("errors", res.Errors))
		metrics.ObserveBatch(OutcomePartial, res.Accepted, len(res.Errors))
		return res
	}
	logger.Debug("batch accepted")
	metrics.ObserveBatch(OutcomeAccepted, res.Accepted, 0)
	return res
}

// Summarize totals accepted and rejected documents across results.
func Summarize(results []writeup.IndexSubmissionResult) Totals {
	t := Totals{Batches: len(results)}
	for _, r := range results {
		if r.Err != nil {
			t.FailedBatches++
		} else {
			t.Indexed += r.Accepted
		}
		t.Rejected += r.Rejected()
	}
	return t
}
