// Package collyfetcher implements fetch.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/unfurl/internal/fetch"
	"github.com/JakeFAU/unfurl/internal/fetcher/httpclient"
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
}

// Fetcher implements fetch.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. Service endpoints are APIs rather than pages, so
// robots.txt is ignored and the same URL may be fetched repeatedly.
func New(cfg Config) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = fetch.DefaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = httpclient.DefaultMaxBodyBytes
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.MaxBodySize(int(cfg.MaxBodyBytes)+1),
	)
	c.WithTransport(httpclient.NewTransport())
	// The backend is shared by clones, so the timeout is set once here.
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET using Colly.
func (f *Fetcher) Fetch(ctx context.Context, request fetch.Request) ([]byte, error) {
	var (
		body     []byte
		fetchErr error
	)
	collector := f.buildCollector(request, &body, &fetchErr)
	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return nil, err
	}
	return body, nil
}

func (f *Fetcher) buildCollector(request fetch.Request, body *[]byte, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	// colly v2.1.0's Async option ignores its argument; keep Visit synchronous.
	collector.Async = false

	f.configureCollectorHooks(collector, request, body, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request fetch.Request,
	body *[]byte,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(request, r)
	})

	// ParseHTTPErrorResponse routes every status here; OnError only sees
	// transport failures.
	hooks.OnResponse(func(r *colly.Response) {
		switch {
		case r.StatusCode < 200 || r.StatusCode > 299:
			*fetchErr = &httpclient.StatusError{Code: r.StatusCode}
		case int64(len(r.Body)) > f.cfg.MaxBodyBytes:
			*fetchErr = httpclient.BodyTooLarge(f.cfg.MaxBodyBytes)
		default:
			*body = append([]byte(nil), r.Body...)
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

// copyHeaders replaces the collector defaults with the request's headers,
// keeping repeated names in order.
func (f *Fetcher) copyHeaders(request fetch.Request, r *colly.Request) {
	if len(request.Headers) == 0 {
		return
	}
	seen := make(map[string]bool, len(request.Headers))
	for _, h := range request.Headers {
		name := http.CanonicalHeaderKey(h.Name)
		if seen[name] {
			r.Headers.Add(name, h.Value)
			continue
		}
		seen[name] = true
		r.Headers.Set(name, h.Value)
	}
}
