// Package tmpl renders "{name}" style templates against flat variable maps or
// decoded JSON documents. Dotted references such as "{fields.summary}" walk
// nested objects and "{items.0.name}" indexes arrays.
package tmpl

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/valyala/fasttemplate"
)

// ErrMissingKey is returned when a template references a value the context
// does not contain.
var ErrMissingKey = errors.New("template: missing key")

const (
	startTag = "{"
	endTag   = "}"
)

// Render substitutes every {reference} in template with its value from ctx.
func Render(template string, ctx any) (string, error) {
	out, err := fasttemplate.ExecuteFuncStringWithErr(template, startTag, endTag, func(w io.Writer, tag string) (int, error) {
		path := strings.TrimSpace(tag)
		v, ok := Lookup(ctx, path)
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrMissingKey, path)
		}
		s, err := stringify(v)
		if err != nil {
			return 0, fmt.Errorf("template: render %q: %w", path, err)
		}
		return io.WriteString(w, s)
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// Lookup resolves a dotted path against ctx.
func Lookup(ctx any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	cur := ctx
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			return nil, false
		}
		next, ok := child(cur, part)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func child(cur any, key string) (any, bool) {
	switch t := cur.(type) {
	case map[string]any:
		v, ok := t[key]
		return v, ok
	case map[string]string:
		v, ok := t[key]
		return v, ok
	case []any:
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(t) {
			return nil, false
		}
		return t[idx], true
	default:
		return nil, false
	}
}

func stringify(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return fmt.Sprint(t), nil
	}
}
