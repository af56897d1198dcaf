package agent

import (
	"fmt"
	"strings"
)

// Args is the decoded args object of a tool call.
type Args map[string]interface{}

func (a Args) String(key string) string {
	switch v := a[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Strings accepts a JSON list or a comma/space separated string.
func (a Args) Strings(key string) []string {
	var out []string
	switch v := a[key].(type) {
	case []interface{}:
		for _, x := range v {
			if s := strings.TrimSpace(fmt.Sprint(x)); s != "" {
				out = append(out, s)
			}
		}
	case string:
		out = strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' || r == ';' })
	}
	return out
}

func (a Args) Int(key string, def int) int {
	switch v := a[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// Require reports the first missing string argument.
func (a Args) Require(keys ...string) error {
	for _, k := range keys {
		if a.String(k) == "" {
			return fmt.Errorf("missing argument %q", k)
		}
	}
	return nil
}
