package sqlq

import (
	"strings"
)

// format walks the template and substitutes :name placeholders with escaped
// SQL literals. A :name whose identifier is not a key of values is left
// verbatim, so a template can be bound in several passes. An empty or nil
// mapping returns the template untouched; otherwise the final string is
// trimmed of leading/trailing whitespace.
//
// The walk is a byte-level state machine so placeholders inside '...', "...",
// `...` quotes, -- and # line comments, and /* */ block comments are never
// substituted. A "::" sequence is skipped, keeping cast syntax intact.
func format(q string, values map[string]any, transforms []Transform) (string, error) {
	if len(values) == 0 {
		return q, nil
	}

	var buf strings.Builder
	buf.Grow(len(q) + 16)

	// State machine for safe parsing through strings, comments, identifiers.
	const (
		sText = iota
		sSQ   // '...'
		sDQ   // "..."
		sBT   // `...`
		sLC   // line comment -- or #
		sBC   // block comment /* ... */
	)
	state := sText

	for i := 0; i < len(q); {
		c := q[i]

		switch state {
		case sText:
			if c == '-' && i+1 < len(q) && q[i+1] == '-' {
				state = sLC
				buf.WriteString("--")
				i += 2
				continue
			}
			if c == '#' {
				state = sLC
				buf.WriteByte('#')
				i++
				continue
			}
			if c == '/' && i+1 < len(q) && q[i+1] == '*' {
				state = sBC
				buf.WriteString("/*")
				i += 2
				continue
			}
			if c == '\'' {
				state = sSQ
				buf.WriteByte(c)
				i++
				continue
			}
			if c == '"' {
				state = sDQ
				buf.WriteByte(c)
				i++
				continue
			}
			if c == '`' {
				state = sBT
				buf.WriteByte(c)
				i++
				continue
			}

			// :name
			if c == ':' && i+1 < len(q) && q[i+1] != ':' && !(i > 0 && q[i-1] == ':') {
				j := i + 1
				if isAlphaUnderscore(q[j]) {
					k := j + 1
					for k < len(q) && isAlphaNumUnderscore(q[k]) {
						k++
					}
					name := q[j:k]

					v, ok := values[name]
					if !ok {
						// Unbound placeholder stays verbatim.
						buf.WriteString(q[i:k])
						i = k
						continue
					}

					lit, err := transformValue(v, values, transforms)
					if err != nil {
						return "", err
					}
					buf.WriteString(lit)
					i = k
					continue
				}
			}

			buf.WriteByte(c)
			i++

		case sSQ:
			if c == '\\' {
				buf.WriteByte(c)
				i++
				if i < len(q) {
					buf.WriteByte(q[i])
					i++
				}
				continue
			}
			buf.WriteByte(c)
			i++
			if c == '\'' {
				if i < len(q) && q[i] == '\'' {
					buf.WriteByte(q[i])
					i++
				} else {
					state = sText
				}
			}

		case sDQ:
			if c == '\\' {
				buf.WriteByte(c)
				i++
				if i < len(q) {
					buf.WriteByte(q[i])
					i++
				}
				continue
			}
			buf.WriteByte(c)
			i++
			if c == '"' {
				if i < len(q) && q[i] == '"' {
					buf.WriteByte(q[i])
					i++
				} else {
					state = sText
				}
			}

		case sBT:
			buf.WriteByte(c)
			i++
			if c == '`' {
				if i < len(q) && q[i] == '`' {
					buf.WriteByte(q[i])
					i++
				} else {
					state = sText
				}
			}

		case sLC:
			buf.WriteByte(c)
			i++
			if c == '\n' || c == '\r' {
				state = sText
			}

		case sBC:
			buf.WriteByte(c)
			i++
			if c == '*' && i < len(q) && q[i] == '/' {
				buf.WriteByte('/')
				i++
				state = sText
			}
		}
	}

	return strings.TrimSpace(buf.String()), nil
}

// isAlphaUnderscore reports whether b is [A-Za-z_] .
func isAlphaUnderscore(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || b == '_'
}

// isAlphaNumUnderscore reports whether b is [A-Za-z0-9_] .
func isAlphaNumUnderscore(b byte) bool {
	return isAlphaUnderscore(b) || (b >= '0' && b <= '9')
}
