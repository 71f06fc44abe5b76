// Package httpclienttest provides an in-memory Doer for tests.
package httpclienttest

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/JakeFAU/unfurl/internal/fetcher/httpclient"
)

// Canned is the response served for one URL.
type Canned struct {
	Status int
	Body   string
	Err    error
}

// FakeDoer implements httpclient.Doer by serving canned responses keyed by
// request URL. It is safe for concurrent use.
type FakeDoer struct {
	mu        sync.Mutex
	responses map[string]Canned
	requests  []*http.Request
}

// NewFakeDoer returns a FakeDoer serving responses.
func NewFakeDoer(responses map[string]Canned) *FakeDoer {
	return &FakeDoer{responses: responses}
}

// Do records the request and returns the canned response for its URL. Unknown
// URLs produce a 404.
func (f *FakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	c, ok := f.responses[req.URL.String()]
	f.mu.Unlock()

	if !ok {
		return NewStringResponse(http.StatusNotFound, ""), nil
	}
	if c.Err != nil {
		return nil, c.Err
	}
	if err := req.Context().Err(); err != nil {
		return nil, err
	}
	return NewStringResponse(c.Status, c.Body), nil
}

// Requests returns the HTTP requests captured so far.
func (f *FakeDoer) Requests() []*http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*http.Request(nil), f.requests...)
}

// NewStringResponse builds a minimal http.Response with the provided status
// code and body string.
func NewStringResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

var _ httpclient.Doer = (*FakeDoer)(nil)
