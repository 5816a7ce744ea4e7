package writeup

import (
	"context"
	"time"
)

// Fetcher retrieves one remote write-up.
type Fetcher interface {
	Fetch(ctx context.Context, id ID) (RawPayload, error)
}

// PayloadStore persists raw payloads keyed by identifier.
type PayloadStore interface {
	Put(ctx context.Context, payload RawPayload) (string, error)
	Get(ctx context.Context, id ID) (RawPayload, error)
	Exists(ctx context.Context, id ID) (bool, error)
	List(ctx context.Context) ([]ID, error)
}

// FetchLedger records retrieval metadata for auditing and resume.
type FetchLedger interface {
	RecordFetch(ctx context.Context, entry LedgerEntry) error
}

// LedgerEntry is one row of the fetch ledger.
type LedgerEntry struct {
	ID          ID
	StatusCode  int
	ContentHash string
	BlobURI     string
	Outcome     string
	FetchedAt   time.Time
}

// Index is the search index consumed by the loader and verifier.
type Index interface {
	CreateIndex(ctx context.Context, name string) error
	AddDocuments(ctx context.Context, name string, batch []Record, tensorFields []string) (IndexSubmissionResult, error)
	Search(ctx context.Context, name, query string, limit int) ([]SearchHit, error)
}

// Publisher pushes run summaries to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Limiter paces outbound requests.
type Limiter interface {
	Wait(ctx context.Context) error
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Queue provides enqueue/dequeue semantics for identifiers awaiting fetch.
type Queue interface {
	Enqueue(ctx context.Context, id ID) error
	Dequeue(ctx context.Context) (ID, error)
	Close()
}
