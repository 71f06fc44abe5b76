// Package httpclient implements fetch.Fetcher on top of net/http.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/JakeFAU/unfurl/internal/fetch"
)

// DefaultMaxBodyBytes caps response bodies when Config leaves it unset.
const DefaultMaxBodyBytes int64 = 4 << 20

// ErrBodyTooLarge is wrapped when a response body exceeds the configured cap.
var ErrBodyTooLarge = errors.New("exceeds")

// BodyTooLarge reports a response body longer than limit bytes.
func BodyTooLarge(limit int64) error {
	return fmt.Errorf("read body: %w %d bytes", ErrBodyTooLarge, limit)
}

// Doer captures the subset of *http.Client the fetcher relies on so tests
// can substitute canned responses.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config controls Fetcher behavior.
type Config struct {
	MaxBodyBytes int64
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return e.Status
	}
	return fmt.Sprintf("%d %s", e.Code, http.StatusText(e.Code))
}

// Fetcher issues GET requests through a Doer.
type Fetcher struct {
	doer Doer
	cfg  Config
}

// New builds a Fetcher. A nil doer selects an http.Client with a pooled
// transport.
func New(doer Doer, cfg Config) *Fetcher {
	if doer == nil {
		doer = &http.Client{Transport: NewTransport()}
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Fetcher{doer: doer, cfg: cfg}
}

// Fetch executes req and returns the response body.
func (f *Fetcher) Fetch(ctx context.Context, req fetch.Request) ([]byte, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header = req.HTTPHeader()

	resp, err := f.doer.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", req.URL, err)
	}
	defer resp.Body.Close() //nolint:errcheck // body fully consumed or abandoned

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.cfg.MaxBodyBytes {
		return nil, BodyTooLarge(f.cfg.MaxBodyBytes)
	}
	return body, nil
}

// NewTransport returns a pooled transport with dial and handshake timeouts.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
