// Package badger implements an embedded payload store on BadgerDB.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"github.com/JakeFAU/writeup-search/internal/writeup"
)

const (
	payloadPrefix = "payload/"
	fetchedPrefix = "fetched/"
)

// Config controls where the database lives.
type Config struct {
	Path     string
	InMemory bool
}

// Store keeps one payload per identifier under zero-padded keys so iteration is ordered.
type Store struct {
	db *badger.DB
}

type zapAdapter struct {
	logger *zap.SugaredLogger
}

var _ badger.Logger = (*zapAdapter)(nil)

func (a *zapAdapter) Errorf(msg string, items ...any)   { a.logger.Errorf(strings.TrimSpace(msg), items...) }
func (a *zapAdapter) Warningf(msg string, items ...any) { a.logger.Warnf(strings.TrimSpace(msg), items...) }
func (a *zapAdapter) Infof(msg string, items ...any)    { a.logger.Debugf(strings.TrimSpace(msg), items...) }
func (a *zapAdapter) Debugf(msg string, items ...any)   { a.logger.Debugf(strings.TrimSpace(msg), items...) }

// Open opens or creates the database described by cfg.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, fmt.Errorf("badger path is required")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger dir: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts.Logger = &zapAdapter{logger: logger.Sugar()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	return nil
}

func payloadKey(id writeup.ID) []byte {
	return []byte(fmt.Sprintf("%s%010d", payloadPrefix, int(id)))
}

func fetchedKey(id writeup.ID) []byte {
	return []byte(fmt.Sprintf("%s%010d", fetchedPrefix, int(id)))
}

// Put writes the payload and its retrieval time in one transaction.
func (s *Store) Put(_ context.Context, payload writeup.RawPayload) (string, error) {
	if payload.ID <= 0 {
		return "", fmt.Errorf("invalid identifier %d", payload.ID)
	}
	fetchedAt := payload.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(payloadKey(payload.ID), payload.Content); err != nil {
			return err
		}
		return txn.Set(fetchedKey(payload.ID), []byte(fetchedAt.UTC().Format(time.RFC3339Nano)))
	})
	if err != nil {
		return "", fmt.Errorf("put payload %s: %w", payload.ID, err)
	}
	return "badger://" + string(payloadKey(payload.ID)), nil
}

// Get reads the payload for id.
func (s *Store) Get(_ context.Context, id writeup.ID) (writeup.RawPayload, error) {
	payload := writeup.RawPayload{ID: id, StatusCode: 200}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(payloadKey(id))
		if err != nil {
			return err
		}
		if payload.Content, err = item.ValueCopy(nil); err != nil {
			return err
		}
		meta, err := txn.Get(fetchedKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return meta.Value(func(val []byte) error {
			ts, parseErr := time.Parse(time.RFC3339Nano, string(val))
			if parseErr == nil {
				payload.FetchedAt = ts
			}
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return writeup.RawPayload{}, fmt.Errorf("read payload %s: %w", id, writeup.ErrNotFound)
	}
	if err != nil {
		return writeup.RawPayload{}, fmt.Errorf("read payload %s: %w", id, err)
	}
	return payload, nil
}

// Exists reports whether a payload is stored for id.
func (s *Store) Exists(_ context.Context, id writeup.ID) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(payloadKey(id))
		return err
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("lookup payload %s: %w", id, err)
	}
}

// List returns stored identifiers in ascending order using a key-only scan.
func (s *Store) List(_ context.Context) ([]writeup.ID, error) {
	var ids []writeup.ID
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(payloadPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			raw := strings.TrimPrefix(string(it.Item().Key()), payloadPrefix)
			n, err := strconv.Atoi(raw)
			if err != nil {
				continue
			}
			ids = append(ids, writeup.ID(n))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list payloads: %w", err)
	}
	return ids, nil
}
