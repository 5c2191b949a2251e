package snippet

import (
	"strings"
)

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool { return isIdentStart(c) || isDigit(c) }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// skipString returns the offset just past the string literal starting at
// s[i], which holds the opening quote.
func skipString(s string, i int) int {
	quote := s[i]
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case quote:
			return j + 1
		case '\n':
			return j
		}
	}
	return len(s)
}

// opensString reports whether s[i] starts a string literal. Single quotes
// only quote band names, directly after '@'.
func opensString(s string, i int) bool {
	return s[i] == '"' || (s[i] == '\'' && i > 0 && s[i-1] == '@')
}

// stripComments blanks out '#', '//' and '/* */' comments. Newlines are
// kept so line numbers stay meaningful.
func stripComments(src string) string {
	var sb strings.Builder
	sb.Grow(len(src))
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case opensString(src, i):
			j := skipString(src, i)
			sb.WriteString(src[i:j])
			i = j
		case c == '#' || (c == '/' && i+1 < len(src) && src[i+1] == '/'):
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			i += 2
			for i < len(src) && !(src[i] == '*' && i+1 < len(src) && src[i+1] == '/') {
				if src[i] == '\n' {
					sb.WriteByte('\n')
				}
				i++
			}
			i += 2
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String()
}

// rawStatement is one statement's text and the line it starts on.
type rawStatement struct {
	text string
	line int
}

// splitStatements cuts src at newlines and ';' that are outside brackets
// and strings. Blank statements are dropped.
func splitStatements(src string) []rawStatement {
	var out []rawStatement
	depth := 0
	line := 1
	start, startLine := 0, 1

	flush := func(end int) {
		text := src[start:end]
		trimmed := strings.TrimSpace(text)
		if trimmed != "" {
			lead := text[:strings.Index(text, trimmed)]
			out = append(out, rawStatement{text: trimmed, line: startLine + strings.Count(lead, "\n")})
		}
	}

	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case opensString(src, i):
			i = skipString(src, i)
			continue
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			if depth > 0 {
				depth--
			}
		case (c == '\n' || c == ';') && depth == 0:
			flush(i)
			start, startLine = i+1, line
			if c == '\n' {
				startLine++
			}
		}
		if c == '\n' {
			line++
		}
		i++
	}
	flush(len(src))
	return out
}
