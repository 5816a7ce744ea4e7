// Package local implements a filesystem payload store with one file per identifier.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/JakeFAU/writeup-search/internal/writeup"
)

const payloadExt = ".html"

// Config captures the parameters for the local filesystem payload store.
type Config struct {
	// BaseDir is the root directory where payload files are written.
	BaseDir string
}

// BlobStore writes payloads to BaseDir/{id}.html.
type BlobStore struct {
	baseDir string
}

// New creates a new local filesystem-backed payload store.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	// Check for write permissions.
	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &BlobStore{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

func (s *BlobStore) pathFor(id writeup.ID) (string, error) {
	if id <= 0 {
		return "", fmt.Errorf("invalid identifier %d", id)
	}
	fullPath := filepath.Join(s.baseDir, id.String()+payloadExt)
	if !strings.HasPrefix(filepath.Clean(fullPath), s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}

// Put writes the payload through a temp file and rename, so readers never see partial content.
// An existing file for the same identifier is replaced.
func (s *BlobStore) Put(_ context.Context, payload writeup.RawPayload) (string, error) {
	fullPath, err := s.pathFor(payload.ID)
	if err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(s.baseDir, ".tmp-"+payload.ID.String()+"-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload.Content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("failed to chmod file: %w", err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("failed to rename file: %w", err)
	}
	if !payload.FetchedAt.IsZero() {
		_ = os.Chtimes(fullPath, payload.FetchedAt, payload.FetchedAt)
	}
	return "file://" + fullPath, nil
}

// Get reads the payload for id.
func (s *BlobStore) Get(_ context.Context, id writeup.ID) (writeup.RawPayload, error) {
	fullPath, err := s.pathFor(id)
	if err != nil {
		return writeup.RawPayload{}, err
	}
	data, err := os.ReadFile(fullPath) //nolint:gosec // path is derived from a validated identifier
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return writeup.RawPayload{}, fmt.Errorf("read payload %s: %w", id, writeup.ErrNotFound)
		}
		return writeup.RawPayload{}, fmt.Errorf("read payload %s: %w", id, err)
	}
	payload := writeup.RawPayload{ID: id, Content: data, StatusCode: 200}
	if info, statErr := os.Stat(fullPath); statErr == nil {
		payload.FetchedAt = info.ModTime().UTC()
	}
	return payload, nil
}

// Exists reports whether a payload file is present for id.
func (s *BlobStore) Exists(_ context.Context, id writeup.ID) (bool, error) {
	fullPath, err := s.pathFor(id)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(fullPath)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat payload %s: %w", id, err)
	}
}

// List returns the stored identifiers in ascending order. Unrelated files are ignored.
func (s *BlobStore) List(_ context.Context) ([]writeup.ID, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("list payloads: %w", err)
	}
	ids := make([]writeup.ID, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, payloadExt) {
			continue
		}
		id, err := writeup.ParseID(name)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
