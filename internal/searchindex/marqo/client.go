// Package marqo implements writeup.Index against the Marqo HTTP API.
package marqo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/writeup-search/internal/id"
	"github.com/JakeFAU/writeup-search/internal/writeup"
)

const codeIndexExists = "index_already_exists"

// Config controls the Marqo client.
type Config struct {
	Endpoint string
	// Model optionally selects the embedding model when an index is created.
	Model   string
	Timeout time.Duration
}

// Client talks to a Marqo instance.
type Client struct {
	endpoint string
	model    string
	http     *http.Client
	logger   *zap.Logger
}

// APIError is a non-2xx response from Marqo.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("marqo status %d: %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("marqo status %d: %s", e.StatusCode, e.Message)
}

// New creates a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		model:    cfg.Model,
		http:     &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}
}

// CreateIndex creates name. An existing index yields writeup.ErrIndexAlreadyExists.
func (c *Client) CreateIndex(ctx context.Context, name string) error {
	body := map[string]any{}
	if c.model != "" {
		body["model"] = c.model
	}
	err := c.post(ctx, c.path(name), body, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusConflict || apiErr.Code == codeIndexExists) {
		return fmt.Errorf("create index %s: %w", name, writeup.ErrIndexAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	c.logger.Info("index created", zap.String("index", name))
	return nil
}

type addDocumentsRequest struct {
	Documents    []document `json:"documents"`
	TensorFields []string   `json:"tensorFields"`
}

type document struct {
	ID              string   `json:"_id"`
	WriteupID       int      `json:"writeup_id"`
	Author          string   `json:"author"`
	Tags            []string `json:"tags"`
	Team            string   `json:"team"`
	Event           string   `json:"event"`
	Title           string   `json:"title"`
	Body            string   `json:"body"`
	Link            string   `json:"link,omitempty"`
	OrigWriteupLink string   `json:"orig_writeup_link,omitempty"`
}

type addDocumentsResponse struct {
	Errors bool `json:"errors"`
	Items  []struct {
		ID      string `json:"_id"`
		Status  int    `json:"status"`
		Error   string `json:"error"`
		Message string `json:"message"`
	} `json:"items"`
}

// AddDocuments submits one batch. Per-document rejections are reported in the result;
// a transport or whole-request failure is returned as an error wrapping writeup.ErrBatchSubmission.
func (c *Client) AddDocuments(
	ctx context.Context,
	name string,
	batch []writeup.Record,
	tensorFields []string,
) (writeup.IndexSubmissionResult, error) {
	result := writeup.IndexSubmissionResult{Size: len(batch)}
	req := addDocumentsRequest{
		Documents:    make([]document, 0, len(batch)),
		TensorFields: tensorFields,
	}
	for _, rec := range batch {
		req.Documents = append(req.Documents, toDocument(name, rec))
	}

	var resp addDocumentsResponse
	if err := c.post(ctx, c.path(name, "documents"), req, &resp); err != nil {
		return result, fmt.Errorf("add documents to %s: %w: %w", name, writeup.ErrBatchSubmission, err)
	}

	for _, item := range resp.Items {
		if item.Status >= 200 && item.Status < 300 && item.Error == "" {
			continue
		}
		msg := item.Error
		if msg == "" {
			msg = item.Message
		}
		result.Errors = append(result.Errors, writeup.ItemError{
			DocumentID: item.ID,
			Status:     item.Status,
			Message:    msg,
		})
	}
	result.Accepted = len(batch) - len(result.Errors)
	return result, nil
}

type searchRequest struct {
	Q     string `json:"q"`
	Limit int    `json:"limit"`
}

type searchResponse struct {
	Hits []struct {
		document
		Score float64 `json:"_score"`
	} `json:"hits"`
}

// Search runs a tensor search and returns the ranked hits.
func (c *Client) Search(ctx context.Context, name, query string, limit int) ([]writeup.SearchHit, error) {
	var resp searchResponse
	if err := c.post(ctx, c.path(name, "search"), searchRequest{Q: query, Limit: limit}, &resp); err != nil {
		return nil, fmt.Errorf("search %s: %w", name, err)
	}
	hits := make([]writeup.SearchHit, 0, len(resp.Hits))
	for _, h := range resp.Hits {
		hits = append(hits, writeup.SearchHit{
			DocumentID: h.ID,
			Score:      h.Score,
			Record:     h.record(),
		})
	}
	return hits, nil
}

func toDocument(index string, rec writeup.Record) document {
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	return document{
		ID:              id.RecordDocumentID(index, rec),
		WriteupID:       int(rec.ID),
		Author:          rec.Author,
		Tags:            tags,
		Team:            rec.Team,
		Event:           rec.Event,
		Title:           rec.Title,
		Body:            rec.Body,
		Link:            rec.Link,
		OrigWriteupLink: rec.OrigWriteupLink,
	}
}

func (d document) record() writeup.Record {
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	return writeup.Record{
		ID:              writeup.ID(d.WriteupID),
		Author:          d.Author,
		Tags:            tags,
		Team:            d.Team,
		Event:           d.Event,
		Title:           d.Title,
		Body:            d.Body,
		Link:            d.Link,
		OrigWriteupLink: d.OrigWriteupLink,
	}
}

func (c *Client) path(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.endpoint + "/indexes/" + strings.Join(escaped, "/")
}

func (c *Client) post(ctx context.Context, target string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", target, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var body struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &body) == nil && (body.Code != "" || body.Message != "") {
			apiErr.Code = body.Code
			apiErr.Message = body.Message
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
