package bible

import "strings"

// relaxedJSON rewrites single-quoted strings as double-quoted JSON strings.
// Some API answers are serialized that way. A single quote only closes a
// string when it is followed by a delimiter, so apostrophes inside verse
// text survive. Double-quoted strings are copied untouched.
func relaxedJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	rs := []rune(s)
	inDouble, inSingle := false, false

	for i := 0; i < len(rs); i++ {
		r := rs[i]
		switch {
		case inDouble:
			b.WriteRune(r)
			if r == '\\' && i+1 < len(rs) {
				i++
				b.WriteRune(rs[i])
			} else if r == '"' {
				inDouble = false
			}

		case inSingle:
			switch {
			case r == '\\' && i+1 < len(rs):
				i++
				if rs[i] == '\'' {
					b.WriteRune('\'')
				} else {
					b.WriteRune('\\')
					b.WriteRune(rs[i])
				}
			case r == '\'' && closesString(rs[i+1:]):
				inSingle = false
				b.WriteRune('"')
			case r == '"':
				b.WriteString(`\"`)
			default:
				b.WriteRune(r)
			}

		case r == '"':
			inDouble = true
			b.WriteRune(r)
		case r == '\'':
			inSingle = true
			b.WriteRune('"')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func closesString(rest []rune) bool {
	for _, r := range rest {
		switch r {
		case ' ', '\t', '\r', '\n':
			continue
		case ',', ':', '}', ']':
			return true
		default:
			return false
		}
	}
	return true
}
