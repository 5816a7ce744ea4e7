// Package corpus builds the canonical record collection from stored payloads
// and persists it as a single JSON array.
package corpus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/writeup-search/internal/metrics"
	"github.com/JakeFAU/writeup-search/internal/writeup"
)

// Extraction outcomes reported to metrics.
const (
	OutcomeExtracted = "extracted"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// RecordExtractor converts one payload into a record.
type RecordExtractor interface {
	Extract(payload writeup.RawPayload) (writeup.Record, error)
}

// Config controls the Builder.
type Config struct {
	// Workers bounds concurrent extractions.
	Workers int
}

// Builder reads every stored payload and extracts records from it.
type Builder struct {
	store     writeup.PayloadStore
	extractor RecordExtractor
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Builder.
func New(store writeup.PayloadStore, extractor RecordExtractor, cfg Config, logger *zap.Logger) *Builder {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{store: store, extractor: extractor, cfg: cfg, logger: logger}
}

// Build extracts all stored payloads. Skipped payloads are dropped and per-payload
// failures are counted; only listing the store or cancellation fails the build.
// The returned collection is ordered by identifier.
func (b *Builder) Build(ctx context.Context) (writeup.Collection, writeup.BuildReport, error) {
	ids, err := b.store.List(ctx)
	if err != nil {
		return nil, writeup.BuildReport{}, fmt.Errorf("list payloads: %w", err)
	}

	pool, err := ants.NewPool(b.cfg.Workers)
	if err != nil {
		return nil, writeup.BuildReport{}, fmt.Errorf("create extraction pool: %w", err)
	}
	defer pool.Release()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		records = make(writeup.Collection, 0, len(ids))
		report  = writeup.BuildReport{}
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		id := id
		submitErr := pool.Submit(func() {
			defer wg.Done()
			rec, outcome := b.extractOne(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			report.Payloads++
			switch outcome {
			case OutcomeExtracted:
				report.Extracted++
				records = append(records, rec)
			case OutcomeSkipped:
				report.Skipped++
			default:
				report.Failed++
			}
		})
		if submitErr != nil {
			wg.Done()
			wg.Wait()
			return nil, report, fmt.Errorf("submit extraction %s: %w", id, submitErr)
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, report, fmt.Errorf("build corpus: %w", err)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	b.logger.Info("corpus built",
		zap.Int("payloads", report.Payloads),
		zap.Int("extracted", report.Extracted),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return records, report, nil
}

func (b *Builder) extractOne(ctx context.Context, id writeup.ID) (writeup.Record, string) {
	logger := b.logger.With(zap.Int("writeup_id", int(id)))
	payload, err := b.store.Get(ctx, id)
	if err != nil {
		logger.Warn("read payload failed", zap.Error(err))
		metrics.ObserveRecord(OutcomeFailed)
		return writeup.Record{}, OutcomeFailed
	}
	rec, err := b.extractor.Extract(payload)
	switch {
	case err == nil:
		metrics.ObserveRecord(OutcomeExtracted)
		return rec, OutcomeExtracted
	case errors.Is(err, writeup.ErrExtractionSkipped):
		logger.Debug("payload skipped", zap.Error(err))
		metrics.ObserveRecord(OutcomeSkipped)
		return writeup.Record{}, OutcomeSkipped
	default:
		logger.Warn("extract payload failed", zap.Error(err))
		metrics.ObserveRecord(OutcomeFailed)
		return writeup.Record{}, OutcomeFailed
	}
}

// Write stores the collection at path as a JSON array. The file is replaced atomically.
func Write(path string, records writeup.Collection) error {
	if records == nil {
		records = writeup.Collection{}
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create collection dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".collection-*.json")
	if err != nil {
		return fmt.Errorf("create temp collection: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	enc := json.NewEncoder(tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(records); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode collection: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp collection: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod collection: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename collection: %w", err)
	}
	return nil
}

// Read loads a collection previously written by Write.
func Read(path string) (writeup.Collection, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read collection: %w", err)
	}
	var records writeup.Collection
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode collection: %w", err)
	}
	for i := range records {
		if records[i].Tags == nil {
			records[i].Tags = []string{}
		}
	}
	return records, nil
}
