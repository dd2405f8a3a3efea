package executor

import (
	"strings"
)

// SplitStatements splits script into individually executable statements.
// Semicolons inside quoted strings, quoted identifiers, comments, parentheses
// and dollar-quoted bodies do not terminate a statement. Statements are
// returned trimmed and without their terminator. Fragments that hold only
// whitespace and comments are dropped.
func SplitStatements(script string) []string {
	var (
		out        []string
		current    strings.Builder
		hasCode    bool
		inSingle   bool
		escapes    bool
		inDouble   bool
		inLine     bool
		blockDepth int
		parenDepth int
		dollarTag  string
	)

	flush := func() {
		if hasCode {
			out = append(out, strings.TrimSpace(current.String()))
		}
		current.Reset()
		hasCode = false
		parenDepth = 0
	}

	for i := 0; i < len(script); i++ {
		c := script[i]

		switch {
		case inLine:
			current.WriteByte(c)
			if c == '\n' {
				inLine = false
			}
			continue

		case blockDepth > 0:
			switch {
			case strings.HasPrefix(script[i:], "/*"):
				blockDepth++
				current.WriteString("/*")
				i++
			case strings.HasPrefix(script[i:], "*/"):
				blockDepth--
				current.WriteString("*/")
				i++
			default:
				current.WriteByte(c)
			}
			continue

		case inSingle:
			current.WriteByte(c)
			if escapes && c == '\\' && i+1 < len(script) {
				i++
				current.WriteByte(script[i])
				continue
			}
			if c == '\'' {
				if i+1 < len(script) && script[i+1] == '\'' {
					i++
					current.WriteByte('\'')
					continue
				}
				inSingle = false
			}
			continue

		case inDouble:
			current.WriteByte(c)
			if c == '"' {
				if i+1 < len(script) && script[i+1] == '"' {
					i++
					current.WriteByte('"')
					continue
				}
				inDouble = false
			}
			continue

		case dollarTag != "":
			if strings.HasPrefix(script[i:], dollarTag) {
				current.WriteString(dollarTag)
				i += len(dollarTag) - 1
				dollarTag = ""
				continue
			}
			current.WriteByte(c)
			continue
		}

		switch {
		case strings.HasPrefix(script[i:], "--"):
			inLine = true
			current.WriteString("--")
			i++
			continue

		case strings.HasPrefix(script[i:], "/*"):
			blockDepth = 1
			current.WriteString("/*")
			i++
			continue

		case c == '\'':
			inSingle = true
			escapes = i > 0 && (script[i-1] == 'E' || script[i-1] == 'e') && (i < 2 || !isIdentByte(script[i-2]))

		case c == '"':
			inDouble = true

		case c == '$':
			if tag := dollarTagAt(script, i); tag != "" {
				dollarTag = tag
				hasCode = true
				current.WriteString(tag)
				i += len(tag) - 1
				continue
			}

		case c == '(':
			parenDepth++

		case c == ')':
			if parenDepth > 0 {
				parenDepth--
			}

		case c == ';' && parenDepth == 0:
			flush()
			continue
		}

		if !isSpace(c) {
			hasCode = true
		}
		current.WriteByte(c)
	}

	flush()
	return out
}

// dollarTagAt returns the dollar-quote opener starting at script[i], such as
// "$$" or "$body$", or "" when script[i] does not open one. Positional
// parameters like $1 are not tags.
func dollarTagAt(script string, i int) string {
	if i > 0 && isIdentByte(script[i-1]) {
		return ""
	}
	j := i + 1
	for j < len(script) && isIdentByte(script[j]) {
		if j == i+1 && script[j] >= '0' && script[j] <= '9' {
			return ""
		}
		j++
	}
	if j >= len(script) || script[j] != '$' {
		return ""
	}
	return script[i : j+1]
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 0x80 ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}
