package extract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/writeup-search/internal/writeup"
)

const fullPage = `<html><body>
<div class="container">
  <div class="page-header"><h2> Jumbled Java </h2><a href="/user/1">alice</a><a href="/team/2">pwnies</a></div>
  <ul class="breadcrumb">
    <li><a href="/">Home</a></li><li><a href="/event/list">Events</a></li><li><a href="/event/9">ExampleCTF 2020</a></li><li>Tasks</li>
  </ul>
  <div class="row">
    <div class="span7"><p>Tags: <span class="label">java</span> <span class="label">reversing</span></p><p><span class="label">unrelated</span></p></div>
    <div class="span5"><div class="intro">Rating</div><div class="well"><a href="https://blog.example/original">Original writeup</a></div></div>
  </div>
  <div id="id_description">
    <p>Rename the variables and read it.</p>
  </div>
</div>
</body></html>`

func payload(id writeup.ID, html string) writeup.RawPayload {
	return writeup.RawPayload{ID: id, Content: []byte(html), StatusCode: 200}
}

func TestExtractFullPage(t *testing.T) {
	t.Parallel()

	e := New(Config{BaseURL: "https://ctftime.org/writeup/"})
	rec, err := e.Extract(payload(42, fullPage))
	require.NoError(t, err)

	assert.Equal(t, writeup.Record{
		ID:              42,
		Author:          "alice",
		Tags:            []string{"java", "reversing"},
		Team:            "pwnies",
		Event:           "ExampleCTF 2020",
		Title:           "Jumbled Java",
		Body:            "Rename the variables and read it.",
		Link:            "https://ctftime.org/writeup/42",
		OrigWriteupLink: "https://blog.example/original",
	}, rec)
}

func TestExtractDeterministic(t *testing.T) {
	t.Parallel()

	e := New(Config{})
	first, err := e.Extract(payload(1, fullPage))
	require.NoError(t, err)
	second, err := e.Extract(payload(1, fullPage))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Empty(t, first.Link)
}

func TestExtractSkipsEmptyBody(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"missing":    `<html><body><div class="container"><div class="page-header"><h2>T</h2></div></div></body></html>`,
		"empty":      `<html><body><div id="id_description"></div></body></html>`,
		"whitespace": "<html><body><div id=\"id_description\">\n\t  </div></body></html>",
	}
	e := New(Config{})
	for name, html := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := e.Extract(payload(7, html))
			require.ErrorIs(t, err, writeup.ErrExtractionSkipped)
		})
	}
}

func TestExtractSkipsNotFoundPlaceholder(t *testing.T) {
	t.Parallel()

	html := `<html><body><div class="row"><div class="span10"><h1>404</h1><p>Page not found</p></div></div>
<div id="id_description">Something</div></body></html>`
	_, err := New(Config{}).Extract(payload(9, html))
	require.ErrorIs(t, err, writeup.ErrExtractionSkipped)
	assert.Contains(t, err.Error(), "not found placeholder")
}

func TestExtractMissingFieldsAreEmpty(t *testing.T) {
	t.Parallel()

	rec, err := New(Config{}).Extract(payload(3, `<html><body><div id="id_description">just text</div></body></html>`))
	require.NoError(t, err)
	assert.Empty(t, rec.Author)
	assert.Empty(t, rec.Team)
	assert.Empty(t, rec.Event)
	assert.Empty(t, rec.Title)
	assert.Empty(t, rec.OrigWriteupLink)
	require.NotNil(t, rec.Tags)
	assert.Empty(t, rec.Tags)

	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"tags":[]`)
}

func TestExtractTagFallback(t *testing.T) {
	t.Parallel()

	html := `<html><body><div class="span6"><span class="label">crypto</span><span class="label"> rsa </span></div>
<div id="id_description">body</div></body></html>`
	rec, err := New(Config{}).Extract(payload(5, html))
	require.NoError(t, err)
	assert.Equal(t, []string{"crypto", "rsa"}, rec.Tags)
}

func TestExtractTagsKeepEveryMatch(t *testing.T) {
	t.Parallel()

	html := `<html><body><div class="span7"><p>Tags: <span class="label"> </span><span class="label">rev</span><span class="label">rev</span></p></div>
<div id="id_description">body</div></body></html>`
	rec, err := New(Config{}).Extract(payload(7, html))
	require.NoError(t, err)
	assert.Equal(t, []string{"", "rev", "rev"}, rec.Tags)
}

func TestExtractOriginalLinkFallback(t *testing.T) {
	t.Parallel()

	html := `<html><body><div id="id_description"><p><a href="https://example.com/home">home</a>
<a href="https://example.com/post">full writeup here</a></p></div></body></html>`
	rec, err := New(Config{}).Extract(payload(6, html))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/post", rec.OrigWriteupLink)
}

func TestExtractCustomTable(t *testing.T) {
	t.Parallel()

	table := Table{
		{Field: FieldBody, Query: "article", Kind: Scalar},
		{Field: FieldTags, Query: "li.tag", Kind: Sequence},
	}
	html := `<html><body><article> text </article><ul><li class="tag">a</li><li class="tag">b</li></ul></body></html>`
	rec, err := New(Config{Table: table}).Extract(payload(8, html))
	require.NoError(t, err)
	assert.Equal(t, "text", rec.Body)
	assert.Equal(t, []string{"a", "b"}, rec.Tags)
}
