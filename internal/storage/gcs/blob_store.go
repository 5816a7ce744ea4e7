// Package gcs provides a payload store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/JakeFAU/writeup-search/internal/writeup"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket      string
	Prefix      string
	ContentType string
}

// BlobStore writes payloads to {Prefix}{id}.html in a configured bucket.
type BlobStore struct {
	client      *storage.Client
	bucket      string
	prefix      string
	contentType string
}

// New creates a GCS-backed payload store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	contentType := cfg.ContentType
	if contentType == "" {
		contentType = "text/html; charset=utf-8"
	}
	return &BlobStore{
		client:      client,
		bucket:      cfg.Bucket,
		prefix:      cfg.Prefix,
		contentType: contentType,
	}, nil
}

func (s *BlobStore) objectName(id writeup.ID) string {
	return s.prefix + id.String() + ".html"
}

// Put uploads the payload and returns a gs:// URI. GCS object writes replace atomically.
func (s *BlobStore) Put(ctx context.Context, payload writeup.RawPayload) (string, error) {
	if payload.ID <= 0 {
		return "", fmt.Errorf("invalid identifier %d", payload.ID)
	}
	name := s.objectName(payload.ID)
	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = s.contentType
	writer.Metadata = map[string]string{"writeup_id": payload.ID.String()}
	if !payload.FetchedAt.IsZero() {
		writer.Metadata["fetched_at"] = payload.FetchedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	if payload.ContentHash != "" {
		writer.Metadata["content_hash"] = payload.ContentHash
	}
	if _, err := writer.Write(payload.Content); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}

// Get downloads the payload for id.
func (s *BlobStore) Get(ctx context.Context, id writeup.ID) (writeup.RawPayload, error) {
	obj := s.client.Bucket(s.bucket).Object(s.objectName(id))
	reader, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return writeup.RawPayload{}, fmt.Errorf("read payload %s: %w", id, writeup.ErrNotFound)
		}
		return writeup.RawPayload{}, fmt.Errorf("open object: %w", err)
	}
	defer reader.Close() //nolint:errcheck // read-only handle
	data, err := io.ReadAll(reader)
	if err != nil {
		return writeup.RawPayload{}, fmt.Errorf("read object: %w", err)
	}
	return writeup.RawPayload{
		ID:         id,
		Content:    data,
		FetchedAt:  reader.Attrs.LastModified,
		StatusCode: 200,
	}, nil
}

// Exists reports whether an object is present for id.
func (s *BlobStore) Exists(ctx context.Context, id writeup.ID) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(s.objectName(id)).Attrs(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrObjectNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("object attrs: %w", err)
	}
}

// List returns every stored identifier under the prefix in ascending order.
func (s *BlobStore) List(ctx context.Context) ([]writeup.ID, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.prefix})
	var ids []writeup.ID
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		rest := strings.TrimPrefix(attrs.Name, s.prefix)
		if strings.Contains(rest, "/") || !strings.HasSuffix(rest, ".html") {
			continue
		}
		id, err := writeup.ParseID(rest)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
