// Package verify runs a sample query against a loaded index.
package verify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/writeup-search/internal/writeup"
)

// Result is the outcome of one verification query.
type Result struct {
	Query string              `json:"query"`
	Hits  []writeup.SearchHit `json:"hits"`
}

// Top returns the best hit, if any.
func (r Result) Top() (writeup.SearchHit, bool) {
	if len(r.Hits) == 0 {
		return writeup.SearchHit{}, false
	}
	return r.Hits[0], true
}

// Verifier queries one named index.
type Verifier struct {
	index  writeup.Index
	name   string
	logger *zap.Logger
}

// New constructs a Verifier for the index called name.
func New(index writeup.Index, name string, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{index: index, name: name, logger: logger}
}

// Verify runs query once, without retry, and logs the top result.
func (v *Verifier) Verify(ctx context.Context, query string, limit int) (Result, error) {
	res := Result{Query: query}
	hits, err := v.index.Search(ctx, v.name, query, limit)
	if err != nil {
		v.logger.Warn("verification query failed", zap.String("query", query), zap.Error(err))
		return res, fmt.Errorf("verify index %s: %w", v.name, err)
	}
	res.Hits = hits

	top, ok := res.Top()
	if !ok {
		v.logger.Warn("verification query returned no hits", zap.String("query", query))
		return res, nil
	}
	v.logger.Info("verification query",
		zap.String("query", query),
		zap.Int("hits", len(hits)),
		zap.Int("top_writeup_id", int(top.Record.ID)),
		zap.String("top_title", top.Record.Title),
		zap.Float64("top_score", top.Score),
	)
	return res, nil
}
