// Package service resolves URLs against the configured web services and
// turns each resolved URL into an outbound request and a rendered summary.
package service

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/JakeFAU/unfurl/internal/fetch"
	"github.com/JakeFAU/unfurl/internal/route"
)

// DefaultUserAgent identifies the client when the caller does not set one.
const DefaultUserAgent = "unfurl/dev"

// OverrideAuth carries a user-supplied Authorization header value.
type OverrideAuth struct {
	Header string `mapstructure:"header"`
}

// Override is the per-service user configuration for one domain. It is
// merged over the domain's routes definition when the Table is built.
type Override struct {
	Auth          OverrideAuth      `mapstructure:"auth"`
	Formats       map[string]string `mapstructure:"format"`
	DefaultFormat string            `mapstructure:"default_format"`
}

// Endpoint is a routed capability of a Domain.
type Endpoint struct {
	Name   string
	Route  route.Pattern
	URL    string
	Format string
}

// Domain is the resolved definition of one service.
type Domain struct {
	Name      string
	Headers   []fetch.Header
	AuthValue string
	// Formats and DefaultFormat come from the user override.
	Formats       map[string]string
	DefaultFormat string
	Endpoints     []Endpoint
}

// Route is a URL resolved to a domain endpoint.
type Route struct {
	Raw      string
	URL      *url.URL
	Domain   *Domain
	Endpoint *Endpoint
	Match    route.Match
}

// Table maps hosts to domains. It is immutable once built and safe for
// concurrent use.
type Table struct {
	domains   map[string]*Domain
	userAgent string
	logger    *zap.Logger
}

// NewTable builds a Table from a routes document and per-domain user
// overrides. Overrides for domains without routes are ignored.
func NewTable(routes Routes, overrides map[string]Override, userAgent string, logger *zap.Logger) (*Table, error) {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Table{
		domains:   make(map[string]*Domain, len(routes)),
		userAgent: userAgent,
		logger:    logger,
	}
	for name, spec := range routes {
		d, err := buildDomain(normalizeHost(name), spec)
		if err != nil {
			return nil, err
		}
		if _, dup := t.domains[d.Name]; dup {
			return nil, fmt.Errorf("domain %s: defined more than once", d.Name)
		}
		t.domains[d.Name] = d
	}
	for name, ov := range overrides {
		d, ok := t.domains[normalizeHost(name)]
		if !ok {
			logger.Warn("service override has no routes", zap.String("domain", name))
			continue
		}
		d.applyOverride(ov)
	}
	return t, nil
}

func buildDomain(name string, spec DomainSpec) (*Domain, error) {
	d := &Domain{Name: name}
	for _, h := range spec.Headers {
		if h.Name == "" {
			return nil, fmt.Errorf("domain %s: header without name", name)
		}
		if strings.EqualFold(h.Name, authorizationHeader) {
			return nil, fmt.Errorf("domain %s: set %s through auth, not headers", name, authorizationHeader)
		}
		d.Headers = append(d.Headers, fetch.Header{Name: h.Name, Value: h.Value})
	}
	if spec.Auth != nil {
		d.AuthValue = spec.Auth.Header
	}
	seen := make(map[string]struct{}, len(spec.Endpoints))
	for _, ep := range spec.Endpoints {
		if ep.Name == "" {
			return nil, fmt.Errorf("domain %s: endpoint without name", name)
		}
		if _, dup := seen[ep.Name]; dup {
			return nil, fmt.Errorf("domain %s: duplicate endpoint %q", name, ep.Name)
		}
		seen[ep.Name] = struct{}{}
		if ep.URL == "" {
			return nil, fmt.Errorf("domain %s endpoint %s: missing url", name, ep.Name)
		}
		pattern, err := route.Parse(ep.Route)
		if err != nil {
			return nil, fmt.Errorf("domain %s endpoint %s: %w", name, ep.Name, err)
		}
		d.Endpoints = append(d.Endpoints, Endpoint{
			Name:   ep.Name,
			Route:  pattern,
			URL:    ep.URL,
			Format: ep.Format,
		})
	}
	return d, nil
}

// applyOverride merges user configuration over the routes definition. A
// configured service header replaces the domain-level one. Format keys are
// matched case-insensitively since config keys arrive lower-cased.
func (d *Domain) applyOverride(ov Override) {
	if ov.Auth.Header != "" {
		d.AuthValue = ov.Auth.Header
	}
	if len(ov.Formats) > 0 {
		d.Formats = make(map[string]string, len(ov.Formats))
		for k, v := range ov.Formats {
			d.Formats[strings.ToLower(k)] = v
		}
	}
	if ov.DefaultFormat != "" {
		d.DefaultFormat = ov.DefaultFormat
	}
}

// Lookup finds the domain owning host: first the exact host, then its
// registrable root, then its public suffix for hosts under private registries
// where each tenant is its own registrable domain.
func (t *Table) Lookup(host string) (*Domain, bool) {
	host = normalizeHost(host)
	if host == "" {
		return nil, false
	}
	if d, ok := t.domains[host]; ok {
		return d, true
	}
	if root, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		if d, ok := t.domains[root]; ok {
			return d, true
		}
	}
	if suffix, _ := publicsuffix.PublicSuffix(host); suffix != host {
		if d, ok := t.domains[suffix]; ok {
			return d, true
		}
	}
	return nil, false
}

// FindRoute resolves u to the first endpoint whose route matches its path.
// raw is the literal URL text u was parsed from.
func (t *Table) FindRoute(raw string, u *url.URL) (Route, bool) {
	if u == nil || u.Hostname() == "" {
		return Route{}, false
	}
	d, ok := t.Lookup(u.Hostname())
	if !ok {
		return Route{}, false
	}
	path := u.EscapedPath()
	for i := range d.Endpoints {
		ep := &d.Endpoints[i]
		if m, ok := ep.Route.Match(path); ok {
			return Route{Raw: raw, URL: u, Domain: d, Endpoint: ep, Match: m}, true
		}
	}
	return Route{}, false
}

// Domains returns the configured domains sorted by name.
func (t *Table) Domains() []*Domain {
	out := make([]*Domain, 0, len(t.domains))
	for _, d := range t.domains {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// UserAgent returns the client identifier sent with every request.
func (t *Table) UserAgent() string {
	return t.userAgent
}

func (d *Domain) String() string {
	names := make([]string, 0, len(d.Endpoints))
	for _, ep := range d.Endpoints {
		names = append(names, ep.Name)
	}
	return fmt.Sprintf("%s [%s]", d.Name, strings.Join(names, ", "))
}
