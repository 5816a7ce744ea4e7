package app_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/writeup-search/internal/app"
	"github.com/JakeFAU/writeup-search/internal/config"
	"github.com/JakeFAU/writeup-search/internal/corpus"
	"github.com/JakeFAU/writeup-search/internal/pipeline"
	"github.com/JakeFAU/writeup-search/internal/writeup"
)

const page = `<html><body><div class="container">
<div class="page-header"><h2>Writeup %d</h2><a href="/user/1">alice</a><a href="/team/2">pwnies</a></div>
<div class="span7"><p>Tags: <span class="label">java</span></p></div>
<div id="id_description"><p>Body of writeup %d.</p></div>
</div></body></html>`

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idStr := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		if idStr == "3" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var id int
		_, _ = fmt.Sscanf(idStr, "%d", &id)
		fmt.Fprintf(w, page, id, id)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newMarqo(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/documents"):
			var req struct {
				Documents []struct {
					ID string `json:"_id"`
				} `json:"documents"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			items := make([]map[string]any, 0, len(req.Documents))
			for _, d := range req.Documents {
				items = append(items, map[string]any{"_id": d.ID, "status": 200})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"errors": false, "items": items})
		case strings.HasSuffix(r.URL.Path, "/search"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"hits": []map[string]any{{"_id": "x", "writeup_id": 2, "title": "Writeup 2", "_score": 0.9}},
			})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"acknowledged": true})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.LoadWith(viper.New(), "")
	require.NoError(t, err)
	cfg.Storage.Backend = "memory"
	cfg.Fetch.Start = 1
	cfg.Fetch.End = 5
	cfg.Fetch.Backoff = time.Millisecond
	cfg.Fetch.Timeout = time.Second
	cfg.Corpus.Output = filepath.Join(t.TempDir(), "writeups.json")
	return cfg
}

func TestPipelineEndToEnd(t *testing.T) {
	t.Parallel()

	upstream := newUpstream(t)
	marqo := newMarqo(t)
	cfg := testConfig(t)
	cfg.Fetch.BaseURL = upstream.URL + "/writeup"
	cfg.Index.Endpoint = marqo.URL

	stages := pipeline.AllStages()
	a, err := app.New(context.Background(), cfg, stages, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	summary, err := a.Pipeline(stages).Run(context.Background(), stages)
	require.NoError(t, err)

	assert.Equal(t, pipeline.StateDone, summary.State)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 3, summary.Fetch.Fetched)
	assert.Equal(t, []writeup.ID{3}, summary.Fetch.PermanentFailed)
	assert.Equal(t, 3, summary.Build.Extracted)
	assert.Equal(t, 3, summary.Load.Indexed)
	assert.Equal(t, 1, summary.Load.Batches)
	require.NotNil(t, summary.Verify)
	assert.Equal(t, writeup.ID(2), summary.Verify.TopID)

	records, err := corpus.Read(cfg.Corpus.Output)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "Writeup 1", records[0].Title)
	assert.Equal(t, cfg.Fetch.BaseURL+"/1", records[0].Link)
}

func TestFetchOnlyLeavesIndexUntouched(t *testing.T) {
	t.Parallel()

	upstream := newUpstream(t)
	cfg := testConfig(t)
	cfg.Fetch.BaseURL = upstream.URL + "/writeup"
	cfg.Index.Endpoint = "http://127.0.0.1:1"

	stages := pipeline.Stages{Fetch: true}
	a, err := app.New(context.Background(), cfg, stages, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	summary, err := a.Pipeline(stages).Run(context.Background(), stages)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Fetch.Fetched)

	ok, err := a.Store().Exists(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoFileExists(t, cfg.Corpus.Output)
}

func TestLoadWithoutCorpusFails(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Index.Endpoint = newMarqo(t).URL

	stages := pipeline.Stages{Load: true}
	a, err := app.New(context.Background(), cfg, stages, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	assert.Nil(t, a.Store())

	summary, err := a.Pipeline(stages).Run(context.Background(), stages)
	require.Error(t, err)
	assert.Equal(t, pipeline.StateFailed, summary.State)
}

func TestBadgerBackendClosesCleanly(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Storage.Backend = "badger"
	cfg.Storage.BadgerPath = filepath.Join(t.TempDir(), "db")

	a, err := app.New(context.Background(), cfg, pipeline.Stages{Extract: true}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, a.Store())
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}

func TestMemoryPublisherByDefault(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t), pipeline.Stages{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	assert.NotNil(t, a.Publisher())
}
