// Package app wires configuration into concrete pipeline components.
package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/writeup-search/internal/config"
	"github.com/JakeFAU/writeup-search/internal/corpus"
	"github.com/JakeFAU/writeup-search/internal/dispatcher"
	"github.com/JakeFAU/writeup-search/internal/embedding/openai"
	"github.com/JakeFAU/writeup-search/internal/extract"
	collyfetcher "github.com/JakeFAU/writeup-search/internal/fetcher/colly"
	"github.com/JakeFAU/writeup-search/internal/id"
	"github.com/JakeFAU/writeup-search/internal/loader"
	"github.com/JakeFAU/writeup-search/internal/metrics"
	"github.com/JakeFAU/writeup-search/internal/pipeline"
	"github.com/JakeFAU/writeup-search/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/writeup-search/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/writeup-search/internal/publisher/pubsub"
	"github.com/JakeFAU/writeup-search/internal/searchindex/marqo"
	"github.com/JakeFAU/writeup-search/internal/searchindex/valkey"
	badgerstore "github.com/JakeFAU/writeup-search/internal/storage/badger"
	gcsstorage "github.com/JakeFAU/writeup-search/internal/storage/gcs"
	localstorage "github.com/JakeFAU/writeup-search/internal/storage/local"
	memorystorage "github.com/JakeFAU/writeup-search/internal/storage/memory"
	"github.com/JakeFAU/writeup-search/internal/storage/postgres"
	"github.com/JakeFAU/writeup-search/internal/verify"
	"github.com/JakeFAU/writeup-search/internal/worker"
	"github.com/JakeFAU/writeup-search/internal/writeup"
)

// App owns every long-lived client a run needs and releases them on Close.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store     writeup.PayloadStore
	ledger    *postgres.Ledger
	index     writeup.Index
	publisher writeup.Publisher
	limiter   *ratelimit.Limiter

	closers []func() error
}

// New builds the components required by stages. The search index is only
// dialed when stages load or verify.
func New(ctx context.Context, cfg config.Config, stages pipeline.Stages, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	app := &App{
		cfg:    cfg,
		logger: logger,
		limiter: ratelimit.New(ratelimit.Config{
			RatePerSecond: cfg.Fetch.RatePerSecond,
			Burst:         cfg.Fetch.Burst,
		}),
	}

	var err error
	if stages.Fetch || stages.Extract {
		if app.store, err = setupStorage(ctx, app); err != nil {
			return nil, app.abort(err)
		}
	}
	if stages.Fetch {
		if err = setupLedger(ctx, app); err != nil {
			return nil, app.abort(err)
		}
	}
	if stages.Load || stages.Verify {
		if app.index, err = setupIndex(app); err != nil {
			return nil, app.abort(err)
		}
	}
	if app.publisher, err = setupPublisher(ctx, app); err != nil {
		return nil, app.abort(err)
	}
	return app, nil
}

// Store returns the payload store, or nil when no stage needs one.
func (a *App) Store() writeup.PayloadStore {
	return a.store
}

// Publisher returns the summary publisher.
func (a *App) Publisher() writeup.Publisher {
	return a.publisher
}

// Close releases clients in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) abort(err error) error {
	if closeErr := a.Close(); closeErr != nil {
		a.logger.Warn("release partial setup failed", zap.Error(closeErr))
	}
	return err
}

func setupStorage(ctx context.Context, app *App) (writeup.PayloadStore, error) {
	cfg := app.cfg.Storage
	switch cfg.Backend {
	case "gcs":
		app.logger.Info("using GCS payload store", zap.String("bucket", cfg.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.closers = append(app.closers, client.Close)
		store, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket:      cfg.GCSBucket,
			Prefix:      cfg.Prefix,
			ContentType: cfg.ContentType,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs payload store init failed: %w", err)
		}
		return store, nil
	case "badger":
		app.logger.Info("using badger payload store", zap.String("path", cfg.BadgerPath))
		store, err := badgerstore.Open(badgerstore.Config{Path: cfg.BadgerPath}, app.logger.Named("badger"))
		if err != nil {
			return nil, fmt.Errorf("badger payload store init failed: %w", err)
		}
		app.closers = append(app.closers, store.Close)
		return store, nil
	case "memory":
		app.logger.Info("using in-memory payload store")
		return memorystorage.NewBlobStore(), nil
	default:
		app.logger.Info("using local payload store", zap.String("dir", cfg.Dir))
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, fmt.Errorf("local payload store init failed: %w", err)
		}
		return store, nil
	}
}

func setupLedger(ctx context.Context, app *App) error {
	cfg := app.cfg.Ledger
	if cfg.DSN == "" {
		app.logger.Debug("no ledger DSN configured, fetch ledger disabled")
		return nil
	}
	ledger, err := postgres.NewLedger(ctx, postgres.LedgerConfig{
		DSN:             cfg.DSN,
		Table:           cfg.Table,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("ledger init failed: %w", err)
	}
	app.closers = append(app.closers, func() error {
		ledger.Close()
		return nil
	})
	if err := ledger.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ledger schema failed: %w", err)
	}
	app.ledger = ledger
	app.logger.Info("fetch ledger initialized", zap.String("table", cfg.Table))
	return nil
}

func setupIndex(app *App) (writeup.Index, error) {
	cfg := app.cfg
	switch cfg.Index.Backend {
	case "valkey":
		client, err := valkey.Dial(valkey.ClientConfig{
			Addrs:    cfg.Valkey.Addrs,
			Password: cfg.Valkey.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("valkey client init failed: %w", err)
		}
		embedder := openai.NewEmbedder(openai.Config{
			APIKey:     cfg.Embedding.APIKey,
			BaseURL:    cfg.Embedding.BaseURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
		}, app.logger.Named("embedder"))
		index := valkey.New(client, embedder, valkey.Config{
			Prefix:     cfg.Valkey.Prefix,
			Dimensions: cfg.Valkey.Dimensions,
		}, app.logger.Named("valkey"))
		app.closers = append(app.closers, func() error {
			index.Close()
			return nil
		})
		app.logger.Info("using valkey search index",
			zap.Strings("addrs", cfg.Valkey.Addrs),
			zap.String("embedding_model", cfg.Embedding.Model),
		)
		return index, nil
	default:
		app.logger.Info("using marqo search index", zap.String("endpoint", cfg.Index.Endpoint))
		return marqo.New(marqo.Config{
			Endpoint: cfg.Index.Endpoint,
			Model:    cfg.Index.Model,
			Timeout:  cfg.Index.Timeout,
		}, app.logger.Named("marqo")), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (writeup.Publisher, error) {
	cfg := app.cfg.PubSub
	if cfg.ProjectID == "" || cfg.Topic == "" {
		app.logger.Debug("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(app.logger.Named("publisher")), nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	publisher := gcppublisher.New(client)
	app.closers = append(app.closers, publisher.Close)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.Topic),
	)
	return publisher, nil
}

// Dispatcher builds the fetch coordinator over the configured worker pool.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	cfg := a.cfg.Fetch
	fetcher := collyfetcher.New(collyfetcher.Config{
		BaseURL:           cfg.BaseURL,
		UserAgent:         cfg.UserAgent,
		RespectRobots:     cfg.RespectRobots,
		Timeout:           cfg.Timeout,
		TransientStatuses: cfg.TransientStatuses,
	})
	workerCfg := worker.Config{
		Retry: writeup.RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.Backoff,
			MaxDelay:    cfg.BackoffMax,
			Strategy:    cfg.BackoffStrategy,
			Jitter:      cfg.BackoffJitter,
		},
		RequestTimeout: cfg.Timeout,
		SkipExisting:   cfg.SkipExisting,
	}
	opts := []worker.Option{worker.WithLimiter(a.limiter)}
	if a.ledger != nil {
		opts = append(opts, worker.WithLedger(a.ledger))
	}
	a.logger.Info("fetch coordinator configured",
		zap.String("mode", cfg.Mode),
		zap.Int("workers", a.cfg.FetchWorkers()),
		zap.Int("max_attempts", cfg.MaxAttempts),
		zap.Duration("backoff", cfg.Backoff),
		zap.Bool("rate_limited", !a.limiter.Unlimited()),
	)
	workerLogger := a.logger.Named("worker")
	factory := func(index int) *worker.Worker {
		return worker.New(index, fetcher, a.store, workerCfg, workerLogger, opts...)
	}
	return dispatcher.New(dispatcher.Config{
		Workers:    a.cfg.FetchWorkers(),
		QueueDepth: cfg.QueueDepth,
	}, factory, a.logger.Named("dispatcher"))
}

// Builder builds the corpus builder over the payload store.
func (a *App) Builder() *corpus.Builder {
	extractor := extract.New(extract.Config{BaseURL: a.cfg.Fetch.BaseURL})
	return corpus.New(a.store, extractor, corpus.Config{Workers: a.cfg.Corpus.Workers}, a.logger.Named("corpus"))
}

// Loader builds the index loader.
func (a *App) Loader() *loader.Loader {
	return loader.New(a.index, loader.Config{
		IndexName:    a.cfg.Index.Name,
		TensorFields: a.cfg.Index.TensorFields,
		BatchSize:    a.cfg.Load.BatchSize,
		Concurrency:  a.cfg.Load.Concurrency,
		StartOffset:  a.cfg.Load.StartOffset,
	}, a.logger.Named("loader"))
}

// Verifier builds the query verifier.
func (a *App) Verifier() *verify.Verifier {
	return verify.New(a.index, a.cfg.Index.Name, a.logger.Named("verify"))
}

// Pipeline assembles the stages selected by stages into a runnable pipeline.
func (a *App) Pipeline(stages pipeline.Stages) *pipeline.Pipeline {
	deps := pipeline.Deps{
		Publisher: a.publisher,
		IDs:       id.New(),
	}
	if stages.Fetch {
		deps.Fetcher = a.Dispatcher()
	}
	if stages.Extract {
		deps.Builder = a.Builder()
	}
	if stages.Load {
		deps.Loader = a.Loader()
	}
	if stages.Verify {
		deps.Verifier = a.Verifier()
	}
	return pipeline.New(pipeline.Config{
		Start:          writeup.ID(a.cfg.Fetch.Start),
		End:            writeup.ID(a.cfg.Fetch.End),
		CollectionPath: a.cfg.Corpus.Output,
		VerifyQuery:    a.cfg.Verify.Query,
		VerifyLimit:    a.cfg.Verify.Limit,
		FailOnEmpty:    a.cfg.Pipeline.FailOnEmpty,
		SummaryTopic:   a.cfg.PubSub.Topic,
	}, deps, a.logger.Named("pipeline"))
}
