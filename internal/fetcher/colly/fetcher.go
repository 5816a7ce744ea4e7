// Package collyfetcher implements writeup.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/writeup-search/internal/writeup"
)

// Config controls collector behavior.
type Config struct {
	BaseURL           string
	UserAgent         string
	RespectRobots     bool
	Timeout           time.Duration
	TransientStatuses []int
}

// Fetcher implements writeup.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transient     map[int]struct{}
	transport     http.RoundTripper
	baseCollector *colly.Collector
	now           func() time.Time
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type visitResult struct {
	status int
	body   []byte
	err    error
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if len(cfg.TransientStatuses) == 0 {
		cfg.TransientStatuses = []int{http.StatusServiceUnavailable}
	}
	transient := make(map[int]struct{}, len(cfg.TransientStatuses))
	for _, code := range cfg.TransientStatuses {
		transient[code] = struct{}{}
	}

	// Clones share the base collector's HTTP backend, so everything stored on
	// the backend is configured here once and never written per request.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	transport := newHTTPTransport()
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	return &Fetcher{
		cfg:           cfg,
		transient:     transient,
		transport:     transport,
		baseCollector: c,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// URL returns the remote address for id.
func (f *Fetcher) URL(id writeup.ID) string {
	return fmt.Sprintf("%s/%d", strings.TrimRight(f.cfg.BaseURL, "/"), int(id))
}

// Fetch executes a single HTTP GET for id using Colly.
func (f *Fetcher) Fetch(ctx context.Context, id writeup.ID) (writeup.RawPayload, error) {
	var result visitResult
	collector := f.buildCollector(ctx, &result)

	if err := f.runCollector(ctx, collector, f.URL(id)); err != nil {
		if ctx.Err() != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return writeup.RawPayload{}, &writeup.FetchError{ID: id, Kind: writeup.ErrTransientFetch, Cause: err}
			}
			return writeup.RawPayload{}, fmt.Errorf("fetch %s: %w", id, err)
		}
		if errors.Is(err, colly.ErrRobotsTxtBlocked) {
			return writeup.RawPayload{}, &writeup.FetchError{ID: id, Kind: writeup.ErrPermanentFetch, Cause: err}
		}
		if result.status == 0 {
			// No response at all: connection refused, reset or timed out.
			return writeup.RawPayload{}, &writeup.FetchError{ID: id, Kind: writeup.ErrTransientFetch, Cause: err}
		}
	}
	if err := f.classify(id, result.status); err != nil {
		return writeup.RawPayload{}, err
	}
	return writeup.RawPayload{
		ID:         id,
		Content:    result.body,
		FetchedAt:  f.now(),
		StatusCode: result.status,
	}, nil
}

func (f *Fetcher) classify(id writeup.ID, status int) error {
	if status == http.StatusOK {
		return nil
	}
	if _, ok := f.transient[status]; ok {
		return &writeup.FetchError{ID: id, StatusCode: status, Kind: writeup.ErrTransientFetch}
	}
	return &writeup.FetchError{ID: id, StatusCode: status, Kind: writeup.ErrPermanentFetch}
}

func (f *Fetcher) buildCollector(ctx context.Context, result *visitResult) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx

	f.configureCollectorHooks(collector, result)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *visitResult) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml")
	})

	hooks.OnResponse(func(r *colly.Response) {
		result.status = r.StatusCode
		result.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			result.status = r.StatusCode
			result.body = append([]byte(nil), r.Body...)
		}
		result.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
