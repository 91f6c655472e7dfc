package plugin

import (
	"fmt"
	"math"
	"strconv"
)

// GetString returns the named argument as a string, or def when it is absent.
func (a Args) GetString(name, def string) string {
	v, ok := a[name]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// GetInt returns the named argument as an int. JSON numbers arrive as float64
// and numeric strings are accepted.
func (a Args) GetInt(name string, def int) (int, error) {
	v, ok := a[name]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("argument %q must be an integer, got %v", name, n)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("argument %q must be an integer: %w", name, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("argument %q must be an integer, got %T", name, v)
	}
}

// GetBool returns the named argument as a bool.
func (a Args) GetBool(name string, def bool) (bool, error) {
	v, ok := a[name]
	if !ok || v == nil {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, fmt.Errorf("argument %q must be a boolean: %w", name, err)
		}
		return parsed, nil
	default:
		return false, fmt.Errorf("argument %q must be a boolean, got %T", name, v)
	}
}

// GetStrings returns the named argument as a string list. A single string is
// treated as a one-element list.
func (a Args) GetStrings(name string) []string {
	switch v := a[name].(type) {
	case nil:
		return nil
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}
