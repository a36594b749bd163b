package extract

import (
	"encoding/json"
	"strings"
)

// parseLenientJSON parses s as JSON after stripping `//` and `/* */`
// comments (outside of string literals) and trailing commas before the
// closing `}`/`]` of an object or array. JSON-LD blocks and inline-script
// hydration payloads both commonly carry these, and no lenient-JSON parser
// appears anywhere in the example corpus, so this is a small stdlib-only
// preprocessor rather than a hand-rolled parser: the actual parsing still
// goes through encoding/json.
func parseLenientJSON(s string, out interface{}) error {
	cleaned := stripJSComments(s)
	cleaned = stripTrailingCommas(cleaned)
	return json.Unmarshal([]byte(cleaned), out)
}

// stripJSComments removes // line comments and /* */ block comments while
// leaving string-literal contents untouched.
func stripJSComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	var quote byte
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == quote {
				inString = false
			}
			continue
		}
		if c == '"' || c == '\'' {
			inString = true
			quote = c
			b.WriteByte(c)
			continue
		}
		if c == '/' && i+1 < len(s) && s[i+1] == '/' {
			for i < len(s) && s[i] != '\n' {
				i++
			}
			if i < len(s) {
				b.WriteByte('\n')
			}
			continue
		}
		if c == '/' && i+1 < len(s) && s[i+1] == '*' {
			i += 2
			for i+1 < len(s) && !(s[i] == '*' && s[i+1] == '/') {
				i++
			}
			i++ // lands on the closing '/'
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// stripTrailingCommas removes a comma that appears (ignoring whitespace)
// immediately before a closing `}` or `]`, outside of string literals.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	var quote byte
	escaped := false
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if inString {
			b.WriteRune(c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if byte(c) == quote {
				inString = false
			}
			continue
		}
		if c == '"' || c == '\'' {
			inString = true
			quote = byte(c)
			b.WriteRune(c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(runes) && isJSONSpace(runes[j]) {
				j++
			}
			if j < len(runes) && (runes[j] == '}' || runes[j] == ']') {
				continue // drop the comma
			}
		}
		b.WriteRune(c)
	}
	return b.String()
}

func isJSONSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
