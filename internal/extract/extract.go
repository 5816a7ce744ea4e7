// Package extract turns stored write-up markup into canonical records.
//
// Fields are described by a typed selector table. A selector that matches
// nothing yields an empty value; the only reason a payload is rejected is a
// missing body or the upstream's 404 placeholder page.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/writeup-search/internal/writeup"
)

// Kind is the cardinality of a selector.
type Kind int

// Selector cardinalities.
const (
	// Scalar takes the trimmed text of the first match.
	Scalar Kind = iota
	// Sequence takes the trimmed text of every match in document order.
	Sequence
	// Attr takes an attribute of the first match.
	Attr
)

// Record fields addressable from a Table.
const (
	FieldTags            = "tags"
	FieldAuthor          = "author"
	FieldTeam            = "team"
	FieldEvent           = "event"
	FieldTitle           = "title"
	FieldBody            = "body"
	FieldOrigWriteupLink = "orig_writeup_link"
)

// Selector maps one record field to a CSS query.
type Selector struct {
	Field string
	Query string
	Kind  Kind
	// Attr names the attribute read by Attr selectors.
	Attr string
	// Contains keeps only matches whose text contains this substring.
	Contains string
	// Fallback is consulted when Query matches nothing usable.
	Fallback *Selector
}

// Table is the ordered list of field selectors applied to every payload.
type Table []Selector

// NotFoundQuery locates the heading of the upstream's 404 placeholder page.
const NotFoundQuery = ".span10 > h1:nth-child(1)"

// DefaultTable returns the selectors matching the upstream's write-up page layout.
func DefaultTable() Table {
	return Table{
		{
			Field:    FieldTags,
			Query:    ".span7 > p:nth-child(1) span.label",
			Kind:     Sequence,
			Fallback: &Selector{Field: FieldTags, Query: "span.label", Kind: Sequence},
		},
		{Field: FieldAuthor, Query: "div.page-header:nth-child(1) > a:nth-child(2)", Kind: Scalar},
		{Field: FieldTeam, Query: "div.page-header:nth-child(1) > a:nth-child(3)", Kind: Scalar},
		{Field: FieldEvent, Query: ".breadcrumb > li:nth-child(3) > a:nth-child(1)", Kind: Scalar},
		{Field: FieldTitle, Query: "div.container div.page-header h2", Kind: Scalar},
		{Field: FieldBody, Query: "#id_description", Kind: Scalar},
		{
			Field: FieldOrigWriteupLink,
			Query: "div.well:nth-child(2) > a:nth-child(1)",
			Kind:  Attr,
			Attr:  "href",
			Fallback: &Selector{
				Field:    FieldOrigWriteupLink,
				Query:    "#id_description a",
				Kind:     Attr,
				Attr:     "href",
				Contains: "writeup",
			},
		},
	}
}

// Config controls an Extractor.
type Config struct {
	// BaseURL is used to build each record's link back to its source page.
	BaseURL string
	// Table overrides DefaultTable when non-empty.
	Table Table
}

// Extractor applies a selector table to raw payloads.
type Extractor struct {
	table   Table
	baseURL string
}

// New constructs an Extractor.
func New(cfg Config) *Extractor {
	table := cfg.Table
	if len(table) == 0 {
		table = DefaultTable()
	}
	return &Extractor{
		table:   table,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// Extract parses payload into a Record. It returns writeup.ErrExtractionSkipped when
// the payload is a 404 placeholder or carries no body text.
func (e *Extractor) Extract(payload writeup.RawPayload) (writeup.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload.Content))
	if err != nil {
		return writeup.Record{}, fmt.Errorf("parse payload %s: %w", payload.ID, err)
	}

	if strings.TrimSpace(doc.Find(NotFoundQuery).First().Text()) == "404" {
		return writeup.Record{}, fmt.Errorf("extract %s: not found placeholder: %w", payload.ID, writeup.ErrExtractionSkipped)
	}

	rec := writeup.Record{ID: payload.ID, Tags: []string{}}
	for _, sel := range e.table {
		apply(&rec, sel, doc.Selection)
	}
	if rec.Body == "" {
		return writeup.Record{}, fmt.Errorf("extract %s: empty body: %w", payload.ID, writeup.ErrExtractionSkipped)
	}
	if e.baseURL != "" {
		rec.Link = e.baseURL + "/" + payload.ID.String()
	}
	return rec, nil
}

func apply(rec *writeup.Record, sel Selector, root *goquery.Selection) {
	if sel.Kind == Sequence {
		values := sequence(root, sel)
		if len(values) == 0 && sel.Fallback != nil {
			values = sequence(root, *sel.Fallback)
		}
		if sel.Field == FieldTags {
			rec.Tags = append(rec.Tags, values...)
		}
		return
	}

	value := scalar(root, sel)
	if value == "" && sel.Fallback != nil {
		value = scalar(root, *sel.Fallback)
	}
	switch sel.Field {
	case FieldAuthor:
		rec.Author = value
	case FieldTeam:
		rec.Team = value
	case FieldEvent:
		rec.Event = value
	case FieldTitle:
		rec.Title = value
	case FieldBody:
		rec.Body = value
	case FieldOrigWriteupLink:
		rec.OrigWriteupLink = value
	}
}

func matches(root *goquery.Selection, sel Selector) *goquery.Selection {
	found := root.Find(sel.Query)
	if sel.Contains == "" {
		return found
	}
	return found.FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(s.Text(), sel.Contains)
	})
}

func scalar(root *goquery.Selection, sel Selector) string {
	first := matches(root, sel).First()
	if first.Length() == 0 {
		return ""
	}
	if sel.Kind == Attr {
		v, _ := first.Attr(sel.Attr)
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(first.Text())
}

func sequence(root *goquery.Selection, sel Selector) []string {
	found := matches(root, sel)
	out := make([]string, 0, found.Length())
	found.Each(func(_ int, s *goquery.Selection) {
		out = append(out, strings.TrimSpace(s.Text()))
	})
	return out
}
