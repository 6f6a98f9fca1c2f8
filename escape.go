package sqlq

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TransformFunc produces the literal SQL text for a matched value. It receives
// the raw value and the full value mapping of the current statement, so a
// transform can depend on sibling columns.
type TransformFunc func(value any, values map[string]any) (string, error)

// Transform maps a sentinel value to replacement SQL text. When a bound value
// matches Sentinel, Fn is invoked if set, otherwise Literal is emitted
// verbatim. Transforms are consulted in order; the first match wins.
//
// Matching is by value, never by column name: a sentinel matches when the raw
// value is deeply equal to it, or when Sentinel is a string equal to the
// value's default string form (so Transform{Sentinel: "0"} also catches the
// int 0). A nil Sentinel matches only nil.
type Transform struct {
	Sentinel any
	Literal  string
	Fn       TransformFunc
}

// matches reports whether v matches the transform's sentinel.
func (t Transform) matches(v any) bool {
	if t.Sentinel == nil {
		return v == nil
	}
	if v == nil {
		return false
	}
	if reflect.DeepEqual(v, t.Sentinel) {
		return true
	}
	if s, ok := t.Sentinel.(string); ok {
		return fmt.Sprint(v) == s
	}
	return false
}

// apply returns the replacement text for a matched value.
func (t Transform) apply(v any, values map[string]any) (string, error) {
	if t.Fn != nil {
		return t.Fn(v, values)
	}
	return t.Literal, nil
}

// transformValues maps a column→raw-value mapping to a column→SQL-literal
// mapping. Each value goes through the first matching transform, or through
// generic escaping when none matches. It has no side effects.
func transformValues(values map[string]any, transforms []Transform) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for col, v := range values {
		lit, err := transformValue(v, values, transforms)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col, err)
		}
		out[col] = lit
	}
	return out, nil
}

// transformValue renders a single value, consulting the transform table first.
func transformValue(v any, values map[string]any, transforms []Transform) (string, error) {
	for _, t := range transforms {
		if t.matches(v) {
			return t.apply(v, values)
		}
	}
	return escapeValue(v)
}

// escapeValue renders v as a self-contained MySQL literal. Supported inputs:
// nil (NULL), booleans, all integer and float kinds, strings, []byte
// (_binary'...'), time.Time, and driver.Valuer (unwrapped first). Anything
// else returns ErrUnsupportedType.
func escapeValue(v any) (string, error) {
	if v == nil {
		return "NULL", nil
	}

	if dv, ok := v.(driver.Valuer); ok {
		inner, err := dv.Value()
		if err != nil {
			return "", err
		}
		return escapeValue(inner)
	}

	switch x := v.(type) {
	case bool:
		if x {
			return "1", nil
		}
		return "0", nil
	case string:
		return "'" + escapeString(x) + "'", nil
	case []byte:
		return "_binary'" + escapeString(string(x)) + "'", nil
	case time.Time:
		return "'" + x.Format("2006-01-02 15:04:05.999999") + "'", nil
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return "NULL", nil
		}
		return escapeValue(rv.Elem().Interface())
	case reflect.String:
		// Named string types
		return "'" + escapeString(rv.String()) + "'", nil
	}

	return "", fmt.Errorf("%w: %T", ErrUnsupportedType, v)
}

// escapeString escapes the characters MySQL treats specially inside a quoted
// string (same set the driver escapes when interpolating on the client side).
func escapeString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case 0:
			b.WriteString(`\0`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case 0x1a:
			b.WriteString(`\Z`)
		case '\'':
			b.WriteString(`\'`)
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// QuoteIdentifier wraps name in backticks, doubling any embedded backtick.
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// sortedKeys returns the keys of m in lexical order. Builders iterate maps in
// this order so the emitted SQL is deterministic.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
