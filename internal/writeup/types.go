package writeup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ID is the dense integer key naming one remote write-up.
type ID int

// String renders the identifier in base 10.
func (id ID) String() string {
	return strconv.Itoa(int(id))
}

// ParseID parses an identifier from a store key such as "1234" or "1234.html".
func ParseID(key string) (ID, error) {
	base := key
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}
	base = strings.TrimSuffix(base, ".html")
	n, err := strconv.Atoi(base)
	if err != nil {
		return 0, fmt.Errorf("parse id %q: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("parse id %q: must be positive", key)
	}
	return ID(n), nil
}

// Range returns the identifiers in [start, end) in ascending order.
func Range(start, end ID) []ID {
	if end <= start {
		return nil
	}
	ids := make([]ID, 0, int(end-start))
	for id := start; id < end; id++ {
		ids = append(ids, id)
	}
	return ids
}

// RawPayload is the retrieved markup for one identifier.
type RawPayload struct {
	ID          ID
	Content     []byte
	FetchedAt   time.Time
	StatusCode  int
	ContentHash string
}

// Record is the canonical structured form of one write-up.
type Record struct {
	ID              ID       `json:"id"`
	Author          string   `json:"author"`
	Tags            []string `json:"tags"`
	Team            string   `json:"team"`
	Event           string   `json:"event"`
	Title           string   `json:"title"`
	Body            string   `json:"body"`
	Link            string   `json:"link,omitempty"`
	OrigWriteupLink string   `json:"orig_writeup_link,omitempty"`
}

// Collection is the ordered set of records produced by one corpus build.
type Collection []Record

// ItemError describes one document rejected by the search index.
type ItemError struct {
	DocumentID string `json:"document_id"`
	Status     int    `json:"status,omitempty"`
	Message    string `json:"message"`
}

// IndexSubmissionResult is the outcome of submitting one batch.
type IndexSubmissionResult struct {
	BatchIndex int
	Size       int
	Accepted   int
	Errors     []ItemError
	Err        error
}

// Rejected counts the documents of the batch that were not indexed.
func (r IndexSubmissionResult) Rejected() int {
	if r.Err != nil {
		return r.Size
	}
	return len(r.Errors)
}

// SearchHit is one ranked result returned by a search index.
type SearchHit struct {
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
	Record     Record  `json:"record"`
}

// FetchReport aggregates per-identifier outcomes of the fetch stage.
type FetchReport struct {
	Attempted       int  `json:"attempted"`
	Fetched         int  `json:"fetched"`
	PermanentFailed []ID `json:"permanent_failed"`
	RetryExhausted  []ID `json:"retry_exhausted"`
	SkippedExisting int  `json:"skipped_existing"`
	Retries         int  `json:"retries"`
}

// BuildReport aggregates per-payload outcomes of the corpus build.
type BuildReport struct {
	Payloads  int `json:"payloads"`
	Extracted int `json:"extracted"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// HashContent returns the prefixed SHA-256 digest of a payload body.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}
