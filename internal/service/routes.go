package service

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed routes.yml
var builtinRoutes []byte

// HeaderSpec is a single default request header.
type HeaderSpec struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// AuthSpec is domain-level authentication from a routes document.
type AuthSpec struct {
	Header string `yaml:"header"`
}

// EndpointSpec declares one routed capability of a domain.
type EndpointSpec struct {
	Name   string `yaml:"name"`
	Route  string `yaml:"route"`
	URL    string `yaml:"url"`
	Format string `yaml:"format"`
}

// DomainSpec declares the headers, auth and ordered endpoints of a domain.
type DomainSpec struct {
	Headers   []HeaderSpec   `yaml:"headers"`
	Auth      *AuthSpec      `yaml:"auth"`
	Endpoints []EndpointSpec `yaml:"endpoints"`
}

// Routes maps a domain name to its definition.
type Routes map[string]DomainSpec

// DefaultRoutes returns the built-in routes document.
func DefaultRoutes() (Routes, error) {
	routes, err := DecodeRoutes(bytes.NewReader(builtinRoutes))
	if err != nil {
		return nil, fmt.Errorf("builtin routes: %w", err)
	}
	return routes, nil
}

// DecodeRoutes parses a YAML routes document. Unknown keys are rejected.
func DecodeRoutes(r io.Reader) (Routes, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var routes Routes
	if err := dec.Decode(&routes); err != nil {
		if errors.Is(err, io.EOF) {
			return Routes{}, nil
		}
		return nil, fmt.Errorf("decode routes: %w", err)
	}
	if routes == nil {
		routes = Routes{}
	}
	return routes.normalize()
}

// LoadRoutesFile reads a routes document from disk.
func LoadRoutesFile(path string) (Routes, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open routes: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	routes, err := DecodeRoutes(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return routes, nil
}

// Merge layers over on top of r and returns the result. Domains missing from
// r are added. For shared domains headers merge by name, a non-nil auth
// replaces the base auth, endpoints with the same name are replaced in place
// and new endpoints are appended. Neither input is modified.
func (r Routes) Merge(over Routes) Routes {
	out := make(Routes, len(r)+len(over))
	for name, spec := range r {
		out[name] = spec.clone()
	}
	for name, spec := range over {
		base, ok := out[name]
		if !ok {
			out[name] = spec.clone()
			continue
		}
		out[name] = base.merge(spec)
	}
	return out
}

// normalize keys domains by normalized host. Two keys naming the same host
// are an error.
func (r Routes) normalize() (Routes, error) {
	out := make(Routes, len(r))
	orig := make(map[string]string, len(r))
	for name, spec := range r {
		host := normalizeHost(name)
		if prev, dup := orig[host]; dup {
			first, second := prev, name
			if second < first {
				first, second = second, first
			}
			return nil, fmt.Errorf("decode routes: domains %q and %q name the same host", first, second)
		}
		orig[host] = name
		out[host] = spec
	}
	return out, nil
}

func (d DomainSpec) clone() DomainSpec {
	out := DomainSpec{
		Headers:   append([]HeaderSpec(nil), d.Headers...),
		Endpoints: append([]EndpointSpec(nil), d.Endpoints...),
	}
	if d.Auth != nil {
		auth := *d.Auth
		out.Auth = &auth
	}
	return out
}

func (d DomainSpec) merge(over DomainSpec) DomainSpec {
	out := d.clone()
	for _, h := range over.Headers {
		replaced := false
		for i := range out.Headers {
			if strings.EqualFold(out.Headers[i].Name, h.Name) {
				out.Headers[i] = h
				replaced = true
				break
			}
		}
		if !replaced {
			out.Headers = append(out.Headers, h)
		}
	}
	if over.Auth != nil {
		auth := *over.Auth
		out.Auth = &auth
	}
	for _, ep := range over.Endpoints {
		replaced := false
		for i := range out.Endpoints {
			if out.Endpoints[i].Name == ep.Name {
				out.Endpoints[i] = ep
				replaced = true
				break
			}
		}
		if !replaced {
			out.Endpoints = append(out.Endpoints, ep)
		}
	}
	return out
}

func normalizeHost(host string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
}
