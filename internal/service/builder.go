package service

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/JakeFAU/unfurl/internal/fetch"
	"github.com/JakeFAU/unfurl/internal/tmpl"
)

// DomainVar is the template variable bound to the URL's host.
const DomainVar = "domain"

const (
	userAgentHeader     = "User-Agent"
	authorizationHeader = "Authorization"
)

// BuildRequest renders the endpoint's URL template and assembles headers for
// rt. key becomes the request's correlation key.
func (t *Table) BuildRequest(rt Route, key string) (fetch.Request, error) {
	vars := make(map[string]string, len(rt.Match)+1)
	for k, v := range rt.Match {
		vars[k] = v
	}
	vars[DomainVar] = rt.URL.Host

	target, err := tmpl.Render(rt.Endpoint.URL, vars)
	if err != nil {
		return fetch.Request{}, fmt.Errorf("%s %s: build url: %w", rt.Domain.Name, rt.Endpoint.Name, err)
	}

	// A domain User-Agent header replaces the client identifier.
	headers := make([]fetch.Header, 1, len(rt.Domain.Headers)+2)
	headers[0] = fetch.Header{Name: userAgentHeader, Value: t.userAgent}
	for _, h := range rt.Domain.Headers {
		if strings.EqualFold(h.Name, userAgentHeader) {
			headers[0].Value = h.Value
			continue
		}
		headers = append(headers, h)
	}
	if rt.Domain.AuthValue != "" {
		headers = append(headers, fetch.Header{Name: authorizationHeader, Value: rt.Domain.AuthValue})
	}

	return fetch.Request{
		Key:     key,
		Method:  http.MethodGet,
		URL:     target,
		Headers: headers,
	}, nil
}
