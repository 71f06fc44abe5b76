// Package unfurl rewrites service URLs found in free text into short
// summaries fetched from the services' APIs.
package unfurl

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/unfurl/internal/fetch"
	"github.com/JakeFAU/unfurl/internal/metrics"
	"github.com/JakeFAU/unfurl/internal/scan"
	"github.com/JakeFAU/unfurl/internal/service"
)

// InvalidSuffix marks URL-shaped text that could not be parsed.
const InvalidSuffix = " (INVALID)"

// URL resolution outcomes reported to metrics.
const (
	statusResolved = "resolved"
	statusUnrouted = "unrouted"
	statusInvalid  = "invalid"
	statusBuild    = "build_error"
)

// Table resolves URLs to requests and renders their results.
type Table interface {
	FindRoute(raw string, u *url.URL) (service.Route, bool)
	BuildRequest(rt service.Route, key string) (fetch.Request, error)
	Format(rt service.Route, res fetch.Result) string
}

// Unfurler drives one document through scan, resolve, dispatch and format.
type Unfurler struct {
	table     Table
	submitter fetch.Submitter
	logger    *zap.Logger
}

// New constructs an Unfurler.
func New(table Table, submitter fetch.Submitter, logger *zap.Logger) *Unfurler {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Unfurler{table: table, submitter: submitter, logger: logger}
}

// piece is one emitted fragment of the document. Resolved URLs carry their
// route and are rendered once results arrive.
type piece struct {
	text  string
	route *service.Route
}

// Unfurl returns text with every resolvable URL replaced by its summary.
// Per-URL problems are rendered inline; an error is returned only when the
// batch could not be dispatched at all.
func (u *Unfurler) Unfurl(ctx context.Context, text string) (string, error) {
	pieces, batch := u.resolve(scan.All(text))

	var byKey map[string]fetch.Result
	if len(batch.Requests) > 0 {
		results, err := u.submitter.Submit(ctx, batch)
		if err != nil {
			return "", fmt.Errorf("dispatch %d requests: %w", len(batch.Requests), err)
		}
		byKey = results.ByKey()
	}

	var out strings.Builder
	out.Grow(len(text))
	for _, p := range pieces {
		if p.route == nil {
			out.WriteString(p.text)
			continue
		}
		res, ok := byKey[p.route.Raw]
		if !ok {
			res = fetch.Result{Key: p.route.Raw, Err: fmt.Errorf("no response for %s", p.route.Raw)}
		}
		out.WriteString(u.table.Format(*p.route, res))
	}
	return out.String(), nil
}

// Run reads the whole document from r and writes the unfurled text to w.
func (u *Unfurler) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	out, err := u.Unfurl(ctx, string(data))
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, out); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// resolve turns tokens into pieces and collects one request per distinct URL
// literal. Repeated literals share the first occurrence's request.
func (u *Unfurler) resolve(tokens []scan.Token) ([]piece, fetch.Batch) {
	pieces := make([]piece, 0, len(tokens))
	var batch fetch.Batch
	requested := make(map[string]bool)

	for _, tok := range tokens {
		if tok.Kind != scan.URL {
			pieces = append(pieces, piece{text: tok.Value})
			continue
		}
		raw := tok.Value
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Host == "" {
			u.logger.Debug("invalid url", zap.String("url", raw), zap.Error(err))
			metrics.ObserveURL(statusInvalid)
			pieces = append(pieces, piece{text: raw + InvalidSuffix})
			continue
		}
		rt, ok := u.table.FindRoute(raw, parsed)
		if !ok {
			u.logger.Debug("no route", zap.String("url", raw))
			metrics.ObserveURL(statusUnrouted)
			pieces = append(pieces, piece{text: raw})
			continue
		}
		if !requested[raw] {
			req, err := u.table.BuildRequest(rt, raw)
			if err != nil {
				u.logger.Debug("build request failed", zap.String("url", raw), zap.Error(err))
				metrics.ObserveURL(statusBuild)
				pieces = append(pieces, piece{text: raw})
				continue
			}
			requested[raw] = true
			batch.Requests = append(batch.Requests, req)
			u.logger.Debug("resolved url",
				zap.String("url", raw),
				zap.String("domain", rt.Domain.Name),
				zap.String("endpoint", rt.Endpoint.Name),
				zap.String("request", req.URL),
			)
		}
		metrics.ObserveURL(statusResolved)
		pieces = append(pieces, piece{text: raw, route: &rt})
	}
	return pieces, batch
}
