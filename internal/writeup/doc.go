// Package writeup holds the identifiers, payloads, records and error kinds
// that flow between the fetch, extract and load stages.
package writeup
