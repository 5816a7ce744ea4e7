package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/writeup-search/internal/writeup"
)

type searchIndex struct {
	hits  []writeup.SearchHit
	err   error
	calls int
	got   struct {
		name, query string
		limit       int
	}
}

func (s *searchIndex) CreateIndex(context.Context, string) error { return nil }

func (s *searchIndex) AddDocuments(context.Context, string, []writeup.Record, []string) (writeup.IndexSubmissionResult, error) {
	return writeup.IndexSubmissionResult{}, nil
}

func (s *searchIndex) Search(_ context.Context, name, query string, limit int) ([]writeup.SearchHit, error) {
	s.calls++
	s.got.name, s.got.query, s.got.limit = name, query, limit
	return s.hits, s.err
}

func TestVerifySurfacesTopHit(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	idx := &searchIndex{hits: []writeup.SearchHit{{DocumentID: "d", Score: 0.9, Record: writeup.Record{ID: 12, Title: "Jumbled"}}}}
	res, err := New(idx, "writeups", zap.New(core)).Verify(context.Background(), "jumbled names", 1)
	require.NoError(t, err)

	top, ok := res.Top()
	require.True(t, ok)
	assert.Equal(t, writeup.ID(12), top.Record.ID)
	assert.Equal(t, "writeups", idx.got.name)
	assert.Equal(t, 1, idx.got.limit)
	require.Equal(t, 1, logs.FilterMessage("verification query").Len())
}

func TestVerifyNoHits(t *testing.T) {
	t.Parallel()

	res, err := New(&searchIndex{}, "writeups", nil).Verify(context.Background(), "q", 1)
	require.NoError(t, err)
	_, ok := res.Top()
	assert.False(t, ok)
}

func TestVerifyDoesNotRetry(t *testing.T) {
	t.Parallel()

	idx := &searchIndex{err: errors.New("index offline")}
	res, err := New(idx, "writeups", nil).Verify(context.Background(), "q", 1)
	require.ErrorContains(t, err, "index offline")
	assert.Equal(t, "q", res.Query)
	assert.Equal(t, 1, idx.calls)
}
