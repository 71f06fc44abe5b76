// Package route matches URL paths against templates such as
// "/{org}/{repo}/pull/{num}" and binds the named segments.
package route

import (
	"fmt"
	"strings"
)

type segmentKind int

const (
	segRoot segmentKind = iota
	segCur
	segParent
	segLiteral
	segVar
)

type segment struct {
	kind  segmentKind
	value string
}

// Match holds the variables bound by a successful match.
type Match map[string]string

// Pattern is a parsed path template. The zero value matches nothing.
type Pattern struct {
	raw  string
	segs []segment
}

// Parse compiles a path template. Variable names must be unique.
func Parse(raw string) (Pattern, error) {
	segs := split(raw)
	seen := make(map[string]struct{}, len(segs))
	for i, s := range segs {
		if s.kind != segLiteral || !isVariable(s.value) {
			continue
		}
		name := s.value[1 : len(s.value)-1]
		if _, dup := seen[name]; dup {
			return Pattern{}, fmt.Errorf("route %q: duplicate variable %q", raw, name)
		}
		seen[name] = struct{}{}
		segs[i] = segment{kind: segVar, value: name}
	}
	if len(segs) == 0 {
		return Pattern{}, fmt.Errorf("route %q: empty pattern", raw)
	}
	return Pattern{raw: raw, segs: segs}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(raw string) Pattern {
	p, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the template the pattern was parsed from.
func (p Pattern) String() string {
	return p.raw
}

// Vars lists the variable names in declaration order.
func (p Pattern) Vars() []string {
	var out []string
	for _, s := range p.segs {
		if s.kind == segVar {
			out = append(out, s.value)
		}
	}
	return out
}

// Match reports whether path satisfies the pattern. Segment counts must be
// equal; literals compare case-sensitively.
func (p Pattern) Match(path string) (Match, bool) {
	if len(p.segs) == 0 {
		return nil, false
	}
	cand := split(path)
	if len(cand) != len(p.segs) {
		return nil, false
	}
	vars := Match{}
	for i, ps := range p.segs {
		cs := cand[i]
		switch ps.kind {
		case segVar:
			if cs.kind != segLiteral {
				return nil, false
			}
			vars[ps.value] = cs.value
		default:
			if ps != cs {
				return nil, false
			}
		}
	}
	return vars, true
}

// split breaks a path into components the way filesystem paths are walked:
// a leading slash is a root marker, repeated and trailing slashes collapse,
// "." is only significant as the first component and ".." is a parent marker.
func split(path string) []segment {
	var segs []segment
	if strings.HasPrefix(path, "/") {
		segs = append(segs, segment{kind: segRoot})
	}
	for i, part := range strings.Split(path, "/") {
		switch part {
		case "":
			continue
		case ".":
			if i == 0 {
				segs = append(segs, segment{kind: segCur})
			}
		case "..":
			segs = append(segs, segment{kind: segParent})
		default:
			segs = append(segs, segment{kind: segLiteral, value: part})
		}
	}
	return segs
}

func isVariable(s string) bool {
	return len(s) > 2 && s[0] == '{' && s[len(s)-1] == '}'
}
