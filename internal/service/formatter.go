package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/JakeFAU/unfurl/internal/fetch"
	"github.com/JakeFAU/unfurl/internal/tmpl"
)

// NoFormat is emitted when no template is configured for an endpoint.
const NoFormat = "no format available"

// FormatFor returns the template used to render responses for rt, in order
// of precedence: the user's per-endpoint format, the user's domain-wide
// format, the endpoint's built-in format.
func (t *Table) FormatFor(rt Route) string {
	if f, ok := rt.Domain.Formats[strings.ToLower(rt.Endpoint.Name)]; ok && f != "" {
		return f
	}
	if rt.Domain.DefaultFormat != "" {
		return rt.Domain.DefaultFormat
	}
	if rt.Endpoint.Format != "" {
		return rt.Endpoint.Format
	}
	return NoFormat
}

// Format renders the replacement text for rt from its fetch result. Failures
// never propagate: they render as the URL followed by the error in brackets.
func (t *Table) Format(rt Route, res fetch.Result) string {
	if res.Err != nil {
		return annotate(rt.Raw, res.Err)
	}
	doc, err := decodeJSON(res.Body)
	if err != nil {
		return annotate(rt.Raw, err)
	}
	out, err := tmpl.Render(t.FormatFor(rt), doc)
	if err != nil {
		return annotate(rt.Raw, err)
	}
	return out
}

func annotate(raw string, err error) string {
	return fmt.Sprintf("%s [%v]", raw, err)
}

func decodeJSON(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("parse response: trailing data after JSON value")
	}
	return doc, nil
}
