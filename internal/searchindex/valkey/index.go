// Package valkey implements writeup.Index on Valkey/Redis search with vectors
// produced by an external embeddings provider.
package valkey

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/redis/rueidis"
	"go.uber.org/zap"

	"github.com/JakeFAU/writeup-search/internal/id"
	"github.com/JakeFAU/writeup-search/internal/writeup"
)

const (
	vectorField = "vector"
	scoreField  = "__vector_score"
	tagSep      = ","
)

var returnFields = []string{
	"writeup_id", "author", "tags", "team", "event", "title", "body", "link", "orig_writeup_link", scoreField,
}

// Embedder turns text into vectors of a fixed dimension.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Config controls the Valkey index.
type Config struct {
	// Prefix namespaces every hash key, e.g. "writeup:".
	Prefix     string
	Dimensions int
}

// ClientConfig holds connection parameters.
type ClientConfig struct {
	Addrs    []string
	Password string
}

// Index stores records as hashes with an HNSW vector field.
type Index struct {
	client   rueidis.Client
	embedder Embedder
	cfg      Config
	logger   *zap.Logger
}

// Dial opens a rueidis client.
func Dial(cfg ClientConfig) (rueidis.Client, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("addrs is required")
	}
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Password:     cfg.Password,
		DisableCache: true,
		// FT.SEARCH parsing expects RESP2 arrays.
		AlwaysRESP2: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create valkey client: %w", err)
	}
	return client, nil
}

// New wraps client as a writeup.Index.
func New(client rueidis.Client, embedder Embedder, cfg Config, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{client: client, embedder: embedder, cfg: cfg, logger: logger}
}

// Close releases the client.
func (x *Index) Close() {
	x.client.Close()
}

// CreateIndex issues FT.CREATE for name. An existing index yields writeup.ErrIndexAlreadyExists.
func (x *Index) CreateIndex(ctx context.Context, name string) error {
	if x.cfg.Dimensions <= 0 {
		return fmt.Errorf("create index %s: vector dimensions must be positive", name)
	}
	args := []string{
		name, "ON", "HASH", "PREFIX", "1", x.keyPrefix(name), "SCHEMA",
		"writeup_id", "NUMERIC",
		"title", "TEXT",
		"body", "TEXT",
		"tags", "TAG", "SEPARATOR", tagSep,
		"event", "TAG",
		vectorField, "VECTOR", "HNSW", "6",
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(x.cfg.Dimensions),
		"DISTANCE_METRIC", "COSINE",
	}
	cmd := x.client.B().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := x.client.Do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "index already exists") {
			return fmt.Errorf("create index %s: %w", name, writeup.ErrIndexAlreadyExists)
		}
		return fmt.Errorf("create index %s: %w", name, err)
	}
	x.logger.Info("index created", zap.String("index", name), zap.Int("dimensions", x.cfg.Dimensions))
	return nil
}

// AddDocuments embeds the tensor fields of every record and stores one hash per record
// in a single DoMulti round trip. Failed HSETs are reported per document.
func (x *Index) AddDocuments(
	ctx context.Context,
	name string,
	batch []writeup.Record,
	tensorFields []string,
) (writeup.IndexSubmissionResult, error) {
	result := writeup.IndexSubmissionResult{Size: len(batch)}
	if len(batch) == 0 {
		return result, nil
	}

	texts := make([]string, len(batch))
	for i, rec := range batch {
		texts[i] = tensorText(rec, tensorFields)
	}
	vectors, err := x.embedder.Embed(ctx, texts)
	if err != nil {
		return result, fmt.Errorf("embed batch for %s: %w: %w", name, writeup.ErrBatchSubmission, err)
	}

	docIDs := make([]string, len(batch))
	cmds := make([]rueidis.Completed, len(batch))
	for i, rec := range batch {
		docIDs[i] = id.RecordDocumentID(name, rec)
		cmd := x.client.B().Hset().Key(x.keyPrefix(name) + docIDs[i]).FieldValue()
		for _, kv := range fields(rec) {
			cmd = cmd.FieldValue(kv[0], kv[1])
		}
		cmds[i] = cmd.FieldValue(vectorField, vectorToBytes(vectors[i])).Build()
	}

	for i, res := range x.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			result.Errors = append(result.Errors, writeup.ItemError{DocumentID: docIDs[i], Message: err.Error()})
		}
	}
	result.Accepted = len(batch) - len(result.Errors)
	return result, nil
}

// Search embeds query and runs a KNN FT.SEARCH. Scores are cosine similarities.
func (x *Index) Search(ctx context.Context, name, query string, limit int) ([]writeup.SearchHit, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("search %s: limit must be positive", name)
	}
	vectors, err := x.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vectors))
	}

	args := []string{name, fmt.Sprintf("*=>[KNN %d @%s $BLOB]", limit, vectorField)}
	args = append(args, "RETURN", strconv.Itoa(len(returnFields)))
	args = append(args, returnFields...)
	args = append(args, "SORTBY", scoreField, "PARAMS", "2", "BLOB", vectorToBytes(vectors[0]), "DIALECT", "2")

	cmd := x.client.B().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := x.client.Do(ctx, cmd).ToArray()
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", name, err)
	}
	return parseKNNResult(raw, x.keyPrefix(name))
}

func (x *Index) keyPrefix(name string) string {
	return x.cfg.Prefix + name + ":"
}

func fields(rec writeup.Record) [][2]string {
	return [][2]string{
		{"writeup_id", rec.ID.String()},
		{"author", rec.Author},
		{"tags", strings.Join(rec.Tags, tagSep)},
		{"team", rec.Team},
		{"event", rec.Event},
		{"title", rec.Title},
		{"body", rec.Body},
		{"link", rec.Link},
		{"orig_writeup_link", rec.OrigWriteupLink},
	}
}

// tensorText concatenates the named fields into the text that is embedded.
func tensorText(rec writeup.Record, tensorFields []string) string {
	parts := make([]string, 0, len(tensorFields))
	for _, f := range tensorFields {
		var v string
		switch f {
		case "title":
			v = rec.Title
		case "body":
			v = rec.Body
		case "tags":
			v = strings.Join(rec.Tags, ", ")
		case "author":
			v = rec.Author
		case "team":
			v = rec.Team
		case "event":
			v = rec.Event
		}
		if v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "\n")
}

// parseKNNResult reads [total, key1, fields1, key2, fields2, ...].
func parseKNNResult(raw []rueidis.RedisMessage, prefix string) ([]writeup.SearchHit, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	hits := make([]writeup.SearchHit, 0, total)
	for i := 1; i+1 < len(raw); i += 2 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}
		pairs, err := raw[i+1].ToArray()
		if err != nil {
			continue
		}
		m := parseFieldPairs(pairs)
		hit := writeup.SearchHit{
			DocumentID: strings.TrimPrefix(key, prefix),
			Record:     recordFromFields(m),
		}
		if s, err := strconv.ParseFloat(m[scoreField], 64); err == nil {
			hit.Score = 1.0 - s
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func parseFieldPairs(pairs []rueidis.RedisMessage) map[string]string {
	m := make(map[string]string, len(pairs)/2)
	for j := 0; j+1 < len(pairs); j += 2 {
		name, err := pairs[j].ToString()
		if err != nil {
			continue
		}
		value, err := pairs[j+1].ToString()
		if err != nil {
			continue
		}
		m[name] = value
	}
	return m
}

func recordFromFields(m map[string]string) writeup.Record {
	rec := writeup.Record{
		Author:          m["author"],
		Tags:            []string{},
		Team:            m["team"],
		Event:           m["event"],
		Title:           m["title"],
		Body:            m["body"],
		Link:            m["link"],
		OrigWriteupLink: m["orig_writeup_link"],
	}
	if n, err := strconv.Atoi(m["writeup_id"]); err == nil {
		rec.ID = writeup.ID(n)
	}
	if t := m["tags"]; t != "" {
		rec.Tags = strings.Split(t, tagSep)
	}
	return rec
}

func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

func isRedisErr(err error, substr string) bool {
	re, ok := rueidis.IsRedisErr(err)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(re.Error()), strings.ToLower(substr))
}
