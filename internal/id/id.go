// Package id provides run and document identifier helpers.
package id

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/writeup-search/internal/writeup"
)

// Generator creates UUID v7 run identifiers.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	v, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return v.String(), nil
}

// DocumentID derives a stable document key for a record within an index.
// Re-submitting the same record yields the same key, so index adds are idempotent.
func DocumentID(index string, recordID writeup.ID) string {
	ns := uuid.NewSHA1(uuid.NameSpaceURL, []byte("writeup-search:"+index))
	return uuid.NewSHA1(ns, []byte(recordID.String())).String()
}

// RecordDocumentID keys rec by its identifier, or by its content when the record
// carries none (collections written without ids). Distinct content never collides.
func RecordDocumentID(index string, rec writeup.Record) string {
	if rec.ID > 0 {
		return DocumentID(index, rec.ID)
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		data = []byte(rec.Title + "\x00" + rec.Body)
	}
	ns := uuid.NewSHA1(uuid.NameSpaceURL, []byte("writeup-search:"+index))
	return uuid.NewSHA1(ns, []byte(writeup.HashContent(data))).String()
}
