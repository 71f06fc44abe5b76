// Package fetch executes batches of independent outbound GET requests behind
// a single blocking call.
package fetch

import (
	"context"
	"errors"
	"net/http"
)

// ErrDispatcherClosed is returned when the dispatcher worker is no longer
// accepting batches. Callers should treat it as fatal.
var ErrDispatcherClosed = errors.New("fetch: dispatcher closed")

// ErrUnsupportedMethod is recorded on requests using a verb other than GET.
var ErrUnsupportedMethod = errors.New("fetch: only GET is supported")

// Header is a single request header. Requests keep headers ordered.
type Header struct {
	Name  string
	Value string
}

// Request describes one outbound request. Key correlates the request with
// its Result.
type Request struct {
	Key     string
	Method  string
	URL     string
	Headers []Header
}

// HTTPHeader converts the ordered headers into an http.Header.
func (r Request) HTTPHeader() http.Header {
	h := make(http.Header, len(r.Headers))
	for _, kv := range r.Headers {
		h.Add(kv.Name, kv.Value)
	}
	return h
}

// Result is the outcome of one Request. Exactly one of Body or Err is
// meaningful.
type Result struct {
	Key  string
	Body []byte
	Err  error
}

// OK reports whether the request succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Results is the aggregated reply for a batch.
type Results []Result

// ByKey indexes results by correlation key. When keys repeat the last result
// wins.
func (rs Results) ByKey() map[string]Result {
	out := make(map[string]Result, len(rs))
	for _, r := range rs {
		out[r.Key] = r
	}
	return out
}

// Batch is a named group of requests submitted together.
type Batch struct {
	Name     string
	Requests []Request
}

// Fetcher performs a single GET and returns the response body. Non-2xx
// statuses are errors.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

// Limiter throttles requests per destination.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// IDGenerator names batches that were submitted without a name.
type IDGenerator interface {
	NewID() (string, error)
}

// Submitter is the dispatcher surface consumed by callers.
type Submitter interface {
	Submit(ctx context.Context, batch Batch) (Results, error)
}
