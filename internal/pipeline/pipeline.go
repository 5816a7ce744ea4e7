// Package pipeline sequences the fetch, extract, load and verify stages and
// tracks the run state machine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/writeup-search/internal/corpus"
	"github.com/JakeFAU/writeup-search/internal/loader"
	"github.com/JakeFAU/writeup-search/internal/logging"
	"github.com/JakeFAU/writeup-search/internal/metrics"
	"github.com/JakeFAU/writeup-search/internal/verify"
	"github.com/JakeFAU/writeup-search/internal/writeup"
)

// State is a pipeline state.
type State string

// Pipeline states, in the order a full run visits them.
const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateExtracting State = "extracting"
	StateLoading    State = "loading"
	StateVerifying  State = "verifying"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

var allStates = []string{
	string(StateIdle), string(StateFetching), string(StateExtracting), string(StateLoading),
	string(StateVerifying), string(StateDone), string(StateFailed),
}

// ErrNothingIndexed is returned when a load indexes no documents and empty runs are fatal.
var ErrNothingIndexed = errors.New("no documents indexed")

// FetchRunner retrieves an identifier range.
type FetchRunner interface {
	Run(ctx context.Context, ids []writeup.ID) (writeup.FetchReport, error)
}

// CorpusBuilder extracts records from every stored payload.
type CorpusBuilder interface {
	Build(ctx context.Context) (writeup.Collection, writeup.BuildReport, error)
}

// IndexLoader submits a collection to the search index.
type IndexLoader interface {
	Load(ctx context.Context, records writeup.Collection) ([]writeup.IndexSubmissionResult, error)
}

// QueryVerifier runs the sample query.
type QueryVerifier interface {
	Verify(ctx context.Context, query string, limit int) (verify.Result, error)
}

// Deps are the stage implementations. Only the stages being run need to be set.
type Deps struct {
	Fetcher   FetchRunner
	Builder   CorpusBuilder
	Loader    IndexLoader
	Verifier  QueryVerifier
	Publisher writeup.Publisher
	IDs       writeup.IDGenerator
}

// Config controls a run.
type Config struct {
	Start          writeup.ID
	End            writeup.ID
	CollectionPath string
	VerifyQuery    string
	VerifyLimit    int
	// FailOnEmpty turns a load that indexes nothing into a failed run.
	FailOnEmpty  bool
	SummaryTopic string
}

// Stages selects which stages a run executes.
type Stages struct {
	Fetch   bool
	Extract bool
	Load    bool
	Verify  bool
}

// AllStages runs the whole pipeline.
func AllStages() Stages {
	return Stages{Fetch: true, Extract: true, Load: true, Verify: true}
}

// VerifySummary reports the verification query.
type VerifySummary struct {
	Query    string     `json:"query"`
	Hits     int        `json:"hits"`
	TopID    writeup.ID `json:"top_id,omitempty"`
	TopTitle string     `json:"top_title,omitempty"`
	TopScore float64    `json:"top_score,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// Summary is the final (or running) account of a pipeline run.
type Summary struct {
	RunID      string              `json:"run_id"`
	State      State               `json:"state"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at,omitempty"`
	Fetch      writeup.FetchReport `json:"fetch"`
	Build      writeup.BuildReport `json:"build"`
	Load       loader.Totals       `json:"load"`
	Verify     *VerifySummary      `json:"verify,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// Pipeline runs stages and exposes the live state.
type Pipeline struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	mu      sync.RWMutex
	summary Summary
}

// New constructs a Pipeline in the idle state.
func New(cfg Config, deps Deps, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.VerifyLimit <= 0 {
		cfg.VerifyLimit = 1
	}
	return &Pipeline{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		summary: Summary{State: StateIdle},
	}
}

// Status returns a snapshot of the current summary.
func (p *Pipeline) Status() Summary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.summary
	if s.Verify != nil {
		v := *s.Verify
		s.Verify = &v
	}
	return s
}

// Ready reports whether the last run has not failed.
func (p *Pipeline) Ready() bool {
	return p.Status().State != StateFailed
}

// Run executes the selected stages in order and returns the final summary.
// Partial failures are counted; only fatal conditions return an error.
func (p *Pipeline) Run(ctx context.Context, stages Stages) (Summary, error) {
	runID := ""
	if p.deps.IDs != nil {
		id, err := p.deps.IDs.NewID()
		if err != nil {
			return p.Status(), fmt.Errorf("generate run id: %w", err)
		}
		runID = id
	}
	p.mu.Lock()
	p.summary = Summary{RunID: runID, State: StateIdle, StartedAt: time.Now().UTC()}
	p.mu.Unlock()

	err := p.run(ctx, runID, stages)
	if err != nil {
		p.finish(StateFailed, err)
	} else {
		p.finish(StateDone, nil)
	}
	summary := p.Status()
	p.publish(ctx, summary)
	return summary, err
}

func (p *Pipeline) run(ctx context.Context, runID string, stages Stages) error {
	var (
		records writeup.Collection
		built   bool
	)

	if stages.Fetch {
		p.transition(runID, StateFetching)
		report, err := p.deps.Fetcher.Run(ctx, writeup.Range(p.cfg.Start, p.cfg.End))
		p.update(func(s *Summary) { s.Fetch = report })
		if err != nil {
			return fmt.Errorf("fetch stage: %w", err)
		}
	}

	if stages.Extract {
		p.transition(runID, StateExtracting)
		coll, report, err := p.deps.Builder.Build(ctx)
		p.update(func(s *Summary) { s.Build = report })
		if err != nil {
			return fmt.Errorf("extract stage: %w", err)
		}
		if err := corpus.Write(p.cfg.CollectionPath, coll); err != nil {
			return fmt.Errorf("extract stage: %w", err)
		}
		records, built = coll, true
	}

	if stages.Load {
		p.transition(runID, StateLoading)
		if !built {
			coll, err := corpus.Read(p.cfg.CollectionPath)
			if err != nil {
				return fmt.Errorf("load stage: %w", err)
			}
			records = coll
		}
		results, err := p.deps.Loader.Load(ctx, records)
		totals := loader.Summarize(results)
		p.update(func(s *Summary) { s.Load = totals })
		if err != nil {
			return fmt.Errorf("load stage: %w", err)
		}
		if p.cfg.FailOnEmpty && totals.Indexed == 0 {
			return fmt.Errorf("load stage: %w", ErrNothingIndexed)
		}
	}

	if stages.Verify {
		p.transition(runID, StateVerifying)
		vs := &VerifySummary{Query: p.cfg.VerifyQuery}
		res, err := p.deps.Verifier.Verify(ctx, p.cfg.VerifyQuery, p.cfg.VerifyLimit)
		if err != nil {
			vs.Error = err.Error()
		} else {
			vs.Hits = len(res.Hits)
			if top, ok := res.Top(); ok {
				vs.TopID = top.Record.ID
				vs.TopTitle = top.Record.Title
				vs.TopScore = top.Score
			}
		}
		p.update(func(s *Summary) { s.Verify = vs })
	}
	return nil
}

func (p *Pipeline) transition(runID string, next State) {
	p.mu.Lock()
	prev := p.summary.State
	p.summary.State = next
	p.mu.Unlock()

	metrics.SetStage(string(next), allStates)
	logging.ForStage(p.logger, runID, string(next)).Info("stage transition",
		zap.String("from", string(prev)),
		zap.String("to", string(next)),
	)
}

func (p *Pipeline) finish(state State, err error) {
	p.transition(p.Status().RunID, state)
	p.update(func(s *Summary) {
		s.FinishedAt = time.Now().UTC()
		if err != nil {
			s.Error = err.Error()
		}
	})
	s := p.Status()
	fields := []zap.Field{
		zap.String("run_id", s.RunID),
		zap.String("state", string(s.State)),
		zap.Int("fetched", s.Fetch.Fetched),
		zap.Int("permanent_failed", len(s.Fetch.PermanentFailed)),
		zap.Int("retry_exhausted", len(s.Fetch.RetryExhausted)),
		zap.Int("skipped_existing", s.Fetch.SkippedExisting),
		zap.Int("extracted", s.Build.Extracted),
		zap.Int("skipped_invalid", s.Build.Skipped),
		zap.Int("extract_failed", s.Build.Failed),
		zap.Int("indexed", s.Load.Indexed),
		zap.Int("rejected", s.Load.Rejected),
		zap.Int("failed_batches", s.Load.FailedBatches),
		zap.Duration("elapsed", s.FinishedAt.Sub(s.StartedAt)),
	}
	if err != nil {
		p.logger.Error("pipeline failed", append(fields, zap.Error(err))...)
		return
	}
	p.logger.Info("pipeline finished", fields...)
}

func (p *Pipeline) update(fn func(*Summary)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.summary)
}

func (p *Pipeline) publish(ctx context.Context, summary Summary) {
	if p.deps.Publisher == nil || p.cfg.SummaryTopic == "" {
		return
	}
	id, err := p.deps.Publisher.Publish(context.WithoutCancel(ctx), p.cfg.SummaryTopic, summary)
	if err != nil {
		p.logger.Warn("publish summary failed", zap.Error(err))
		return
	}
	p.logger.Debug("summary published", zap.String("message_id", id))
}
