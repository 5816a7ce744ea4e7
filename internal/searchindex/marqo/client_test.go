package marqo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/writeup-search/internal/corpus"
	"github.com/JakeFAU/writeup-search/internal/id"
	"github.com/JakeFAU/writeup-search/internal/writeup"
)

func newServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{Endpoint: srv.URL + "/"}, nil)
}

func TestCreateIndex(t *testing.T) {
	t.Parallel()

	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/indexes/writeups", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"acknowledged":true,"index":"writeups"}`))
	})
	require.NoError(t, c.CreateIndex(context.Background(), "writeups"))
}

func TestCreateIndexAlreadyExists(t *testing.T) {
	t.Parallel()

	c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message":"Index writeups already exists","code":"index_already_exists","type":"invalid_request"}`))
	})
	err := c.CreateIndex(context.Background(), "writeups")
	require.ErrorIs(t, err, writeup.ErrIndexAlreadyExists)
}

func TestCreateIndexUnreachable(t *testing.T) {
	t.Parallel()

	c := New(Config{Endpoint: "http://127.0.0.1:1"}, nil)
	err := c.CreateIndex(context.Background(), "writeups")
	require.Error(t, err)
	assert.NotErrorIs(t, err, writeup.ErrIndexAlreadyExists)
}

func TestAddDocumentsReportsRejectedItems(t *testing.T) {
	t.Parallel()

	batch := []writeup.Record{
		{ID: 1, Title: "a", Body: "one", Tags: []string{"web"}},
		{ID: 2, Title: "b", Body: "two"},
		{ID: 3, Title: "c", Body: "three"},
		{ID: 4, Title: "d", Body: "four"},
	}
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/indexes/writeups/documents", r.URL.Path)
		var req addDocumentsRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"title", "body", "tags"}, req.TensorFields)
		assert.Len(t, req.Documents, 4)
		assert.Equal(t, id.DocumentID("writeups", 1), req.Documents[0].ID)
		assert.Equal(t, []string{}, req.Documents[1].Tags)

		items := make([]map[string]any, 0, len(req.Documents))
		for i, d := range req.Documents {
			item := map[string]any{"_id": d.ID, "status": 200}
			if i == 1 || i == 3 {
				item = map[string]any{"_id": d.ID, "status": 400, "error": "field too long"}
			}
			items = append(items, item)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"errors": true, "items": items})
	})

	res, err := c.AddDocuments(context.Background(), "writeups", batch, []string{"title", "body", "tags"})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Size)
	assert.Equal(t, 2, res.Accepted)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, id.DocumentID("writeups", 2), res.Errors[0].DocumentID)
	assert.Equal(t, 400, res.Errors[0].Status)
	assert.Equal(t, "field too long", res.Errors[0].Message)
	assert.Equal(t, 2, res.Rejected())
}

func TestAddDocumentsRequestFailure(t *testing.T) {
	t.Parallel()

	c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	})
	res, err := c.AddDocuments(context.Background(), "writeups", []writeup.Record{{ID: 1, Body: "x"}}, nil)
	require.ErrorIs(t, err, writeup.ErrBatchSubmission)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, 1, res.Size)
}

func TestSearch(t *testing.T) {
	t.Parallel()

	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/indexes/writeups/search", r.URL.Path)
		var req searchRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, searchRequest{Q: "jumbled names", Limit: 1}, req)
		_, _ = w.Write([]byte(`{"hits":[{"_id":"doc-1","_score":0.91,"writeup_id":42,"title":"Jumbled Java","body":"b","tags":["java"],"author":"alice"}],"processingTimeMs":3}`))
	})

	hits, err := c.Search(context.Background(), "writeups", "jumbled names", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc-1", hits[0].DocumentID)
	assert.InDelta(t, 0.91, hits[0].Score, 1e-9)
	assert.Equal(t, writeup.ID(42), hits[0].Record.ID)
	assert.Equal(t, "Jumbled Java", hits[0].Record.Title)
	assert.Equal(t, []string{"java"}, hits[0].Record.Tags)
}

func TestSearchError(t *testing.T) {
	t.Parallel()

	c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"index_not_found","message":"no such index"}`))
	})
	_, err := c.Search(context.Background(), "missing", "q", 1)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "index_not_found", apiErr.Code)
}

func TestAddDocumentsKeysIDlessArtifactByContent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "writeups.json")
	artifact := `[
{"author":"a","tags":["web"],"team":"t","event":"e","title":"one","body":"b1"},
{"author":"a","tags":["web"],"team":"t","event":"e","title":"two","body":"b2"},
{"author":"a","tags":["web"],"team":"t","event":"e","title":"three","body":"b3"}
]`
	require.NoError(t, os.WriteFile(path, []byte(artifact), 0o600))
	records, err := corpus.Read(path)
	require.NoError(t, err)
	require.Len(t, records, 3)

	seen := map[string]struct{}{}
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req addDocumentsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		items := make([]map[string]any, 0, len(req.Documents))
		for _, d := range req.Documents {
			seen[d.ID] = struct{}{}
			items = append(items, map[string]any{"_id": d.ID, "status": 200})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"errors": false, "items": items})
	})

	res, err := c.AddDocuments(context.Background(), "writeups", records, []string{"title", "body"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Accepted)
	assert.Len(t, seen, 3)
}
