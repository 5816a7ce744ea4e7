// Package worker implements the per-identifier fetch loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/writeup-search/internal/metrics"
	"github.com/JakeFAU/writeup-search/internal/writeup"
)

// Outcome kinds reported for each dequeued identifier.
const (
	KindFetched        = metrics.OutcomeFetched
	KindPermanent      = metrics.OutcomePermanent
	KindRetryExhausted = metrics.OutcomeRetryExhausted
	KindSkipped        = metrics.OutcomeSkipped
	KindStoreFailed    = metrics.OutcomeStoreFailed
	KindInterrupted    = "interrupted"
)

// Config controls Worker behavior.
type Config struct {
	Retry          writeup.RetryPolicy
	RequestTimeout time.Duration
	SkipExisting   bool
}

// Outcome is the final result for one identifier.
type Outcome struct {
	ID       writeup.ID
	Kind     string
	Attempts int
	BlobURI  string
	Bytes    int
	Err      error
}

// Worker consumes identifiers from a queue, fetches them with bounded retry and persists payloads.
type Worker struct {
	index   int
	fetcher writeup.Fetcher
	store   writeup.PayloadStore
	ledger  writeup.FetchLedger
	limiter writeup.Limiter
	pauser  writeup.Pauser
	cfg     Config
	logger  *zap.Logger
}

// Option customizes optional Worker collaborators.
type Option func(*Worker)

// WithLedger records every final outcome in ledger.
func WithLedger(ledger writeup.FetchLedger) Option {
	return func(w *Worker) { w.ledger = ledger }
}

// WithLimiter paces every attempt through limiter.
func WithLimiter(limiter writeup.Limiter) Option {
	return func(w *Worker) { w.limiter = limiter }
}

// WithPauser replaces the backoff sleeper.
func WithPauser(p writeup.Pauser) Option {
	return func(w *Worker) { w.pauser = p }
}

// New constructs a Worker.
func New(
	index int,
	fetcher writeup.Fetcher,
	store writeup.PayloadStore,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	w := &Worker{
		index:   index,
		fetcher: fetcher,
		store:   store,
		pauser:  writeup.TimerPauser{},
		cfg:     cfg,
		logger:  logger.With(zap.Int("worker", index)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run consumes identifiers until the queue is drained or the context is canceled.
// Identifiers still buffered at cancellation are left unprocessed.
func (w *Worker) Run(ctx context.Context, queue writeup.Queue, results chan<- Outcome) {
	for {
		id, err := queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Debug("queue drained", zap.Error(err))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		metrics.IncActiveWorkers()
		outcome := w.Process(ctx, id)
		metrics.DecActiveWorkers()
		results <- outcome
	}
}

// Process runs the fetch, retry and persist steps for one identifier.
func (w *Worker) Process(ctx context.Context, id writeup.ID) Outcome {
	logger := w.logger.With(zap.Int("writeup_id", int(id)))

	if w.cfg.SkipExisting {
		exists, err := w.store.Exists(ctx, id)
		if err != nil {
			logger.Warn("payload lookup failed, fetching anyway", zap.Error(err))
		} else if exists {
			logger.Debug("payload already stored")
			return Outcome{ID: id, Kind: KindSkipped}
		}
	}

	for attempt := 1; ; attempt++ {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return Outcome{ID: id, Kind: KindInterrupted, Attempts: attempt - 1, Err: err}
			}
		}

		payload, err := w.fetchOnce(ctx, id)
		if err == nil {
			return w.persist(ctx, logger, payload, attempt)
		}

		if w.cfg.Retry.ShouldRetry(err, attempt) {
			delay := w.cfg.Retry.Backoff(attempt)
			metrics.ObserveRetry()
			logger.Info("transient fetch failure, backing off",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
			w.pauser.Pause(ctx, delay)
			if ctx.Err() != nil {
				return Outcome{ID: id, Kind: KindInterrupted, Attempts: attempt, Err: ctx.Err()}
			}
			continue
		}

		if writeup.IsTransient(err) {
			exhausted := fmt.Errorf("fetch %s after %d attempts: %w: %w", id, attempt, writeup.ErrRetryExhausted, err)
			logger.Warn("retry limit exhausted", zap.Int("attempts", attempt), zap.Error(err))
			w.record(ctx, logger, id, statusOf(err), KindRetryExhausted, "", "")
			return Outcome{ID: id, Kind: KindRetryExhausted, Attempts: attempt, Err: exhausted}
		}
		if errors.Is(err, writeup.ErrPermanentFetch) {
			logger.Warn("permanent fetch failure, skipping", zap.Int("status", statusOf(err)))
			w.record(ctx, logger, id, statusOf(err), KindPermanent, "", "")
			return Outcome{ID: id, Kind: KindPermanent, Attempts: attempt, Err: err}
		}
		// Anything else is a caller cancellation surfaced by the fetcher.
		return Outcome{ID: id, Kind: KindInterrupted, Attempts: attempt, Err: err}
	}
}

// fetchOnce runs one request detached from caller cancellation so a stop
// request lets it finish; the request timeout still bounds it.
func (w *Worker) fetchOnce(ctx context.Context, id writeup.ID) (writeup.RawPayload, error) {
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	payload, err := w.fetcher.Fetch(reqCtx, id)
	metrics.ObserveFetchAttempt(time.Since(start))
	if err != nil {
		return writeup.RawPayload{}, fmt.Errorf("fetch attempt: %w", err)
	}
	return payload, nil
}

func (w *Worker) persist(ctx context.Context, logger *zap.Logger, payload writeup.RawPayload, attempts int) Outcome {
	if payload.ContentHash == "" {
		payload.ContentHash = writeup.HashContent(payload.Content)
	}
	if payload.FetchedAt.IsZero() {
		payload.FetchedAt = time.Now().UTC()
	}
	storeCtx := context.WithoutCancel(ctx)
	uri, err := w.store.Put(storeCtx, payload)
	if err != nil {
		logger.Error("persist payload failed", zap.Error(err))
		return Outcome{ID: payload.ID, Kind: KindStoreFailed, Attempts: attempts, Err: fmt.Errorf("put payload: %w", err)}
	}
	w.record(storeCtx, logger, payload.ID, payload.StatusCode, KindFetched, payload.ContentHash, uri)
	logger.Debug("payload stored", zap.String("blob_uri", uri), zap.Int("bytes", len(payload.Content)))
	return Outcome{ID: payload.ID, Kind: KindFetched, Attempts: attempts, BlobURI: uri, Bytes: len(payload.Content)}
}

func (w *Worker) record(ctx context.Context, logger *zap.Logger, id writeup.ID, status int, kind, hash, uri string) {
	if w.ledger == nil {
		return
	}
	entry := writeup.LedgerEntry{
		ID:          id,
		StatusCode:  status,
		ContentHash: hash,
		BlobURI:     uri,
		Outcome:     kind,
		FetchedAt:   time.Now().UTC(),
	}
	if err := w.ledger.RecordFetch(context.WithoutCancel(ctx), entry); err != nil {
		logger.Warn("ledger write failed", zap.Error(err))
	}
}

func statusOf(err error) int {
	var fe *writeup.FetchError
	if errors.As(err, &fe) {
		return fe.StatusCode
	}
	return 0
}
