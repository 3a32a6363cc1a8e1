package out

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"github.com/ggonzalez94/swapguard/internal/model"
)

// Options controls how an envelope is written.
type Options struct {
	Mode        string
	Select      []string
	ResultsOnly bool
}

func Render(w io.Writer, env model.Envelope, opts Options) error {
	data := env.Data
	if len(opts.Select) > 0 {
		data = project(data, opts.Select)
	}

	if opts.Mode != "plain" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if opts.ResultsOnly && env.Success {
			return enc.Encode(data)
		}
		env.Data = data
		return enc.Encode(env)
	}

	if !env.Success && env.Error != nil {
		return renderPlainError(w, env.Error)
	}
	if opts.ResultsOnly {
		return renderPlain(w, data)
	}
	plain := map[string]any{
		"success":  env.Success,
		"data":     data,
		"warnings": env.Warnings,
		"meta":     env.Meta,
	}
	return renderPlain(w, plain)
}

// renderPlainError shows the user-facing explanation first; the raw message
// is only a trailing detail.
func renderPlainError(w io.Writer, e *model.ErrorBody) error {
	lines := []string{}
	if e.UserMessage != "" {
		lines = append(lines, "error: "+e.UserMessage)
	} else {
		lines = append(lines, "error: "+e.Message)
	}
	if e.Guidance != "" {
		lines = append(lines, "guidance: "+e.Guidance)
	}
	if e.Action != "" {
		lines = append(lines, "action: "+e.Action)
	}
	lines = append(lines, fmt.Sprintf("type: %s (%d)", e.Type, e.Code))
	if e.UserMessage != "" && e.Message != "" {
		lines = append(lines, "detail: "+e.Message)
	}
	_, err := fmt.Fprintln(w, strings.Join(lines, "\n"))
	return err
}

func renderPlain(w io.Writer, data any) error {
	v := reflect.ValueOf(data)
	if !v.IsValid() {
		_, err := fmt.Fprintln(w, "null")
		return err
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			_, err := fmt.Fprintln(w, "[]")
			return err
		}
		for i := 0; i < v.Len(); i++ {
			line, err := toLine(normalizeValue(v.Index(i).Interface()))
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		return nil
	default:
		line, err := toLine(normalizeValue(data))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, line)
		return err
	}
}

func project(data any, fields []string) any {
	switch t := normalizeValue(data).(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				out = append(out, projectMap(m, fields))
			}
		}
		return out
	case map[string]any:
		return projectMap(t, fields)
	default:
		return t
	}
}

// projectMap keeps the selected fields. Dotted paths reach into nested
// objects, e.g. "detection.severity".
func projectMap(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := lookup(m, f); ok {
			out[f] = v
		}
	}
	return out
}

func lookup(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func normalizeValue(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return v
	}
	return out
}

func toLine(v any) (string, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			val := t[k]
			switch val.(type) {
			case map[string]any, []any:
				buf, err := json.Marshal(val)
				if err != nil {
					return "", err
				}
				parts = append(parts, fmt.Sprintf("%s=%s", k, buf))
			default:
				parts = append(parts, fmt.Sprintf("%s=%v", k, val))
			}
		}
		return strings.Join(parts, " "), nil
	default:
		buf, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(buf), nil
	}
}
