package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var jsVarKeywords = []string{"var ", "let ", "const ", "window."}

// collectScriptBodies returns the comment-stripped text of every <script>
// element that isn't application/ld+json and isn't an external script
// (has no src), restricted to blocks with no type attribute or a
// JavaScript MIME type.
func collectScriptBodies(doc *goquery.Document) []string {
	var bodies []string
	doc.Find("script").Each(func(_ int, sel *goquery.Selection) {
		if _, hasSrc := sel.Attr("src"); hasSrc {
			return
		}
		typ, hasType := sel.Attr("type")
		if hasType {
			t := strings.ToLower(strings.TrimSpace(typ))
			if t == "application/ld+json" {
				return
			}
			if t != "" && t != "text/javascript" && t != "application/javascript" &&
				t != "module" {
				return
			}
		}
		body := strings.TrimSpace(sel.Text())
		if body == "" {
			return
		}
		bodies = append(bodies, stripJSComments(body))
	})
	return bodies
}

// extractJSVars finds statement-starting var/let/const/window. assignments
// whose right-hand side is a JSON object or array literal, using the same
// balanced-brace scan as hydration extraction.
func extractJSVars(scriptBodies []string) map[string]interface{} {
	out := make(map[string]interface{})

	for _, body := range scriptBodies {
		pos := 0
		for pos < len(body) {
			kwIdx, kw := nextStatementKeyword(body, pos)
			if kwIdx < 0 {
				break
			}
			nameStart := kwIdx + len(kw)
			name, eqIdx := readIdentifierAndEquals(body, nameStart)
			if name == "" || eqIdx < 0 {
				pos = nameStart
				continue
			}
			valueStart := findFirstBraceOrBracket(body, eqIdx+1)
			if valueStart < 0 {
				pos = eqIdx + 1
				continue
			}
			raw, end, ok := findBalancedJSON(body, valueStart)
			if !ok {
				pos = valueStart + 1
				continue
			}
			var v interface{}
			if err := parseLenientJSON(raw, &v); err == nil {
				if _, exists := out[name]; !exists {
					out[name] = v
				}
			}
			pos = end
		}
	}

	return out
}

// nextStatementKeyword finds the next occurrence, at or after from, of one
// of var /let /const /window. that starts a statement: preceded only by
// whitespace, a semicolon, an opening brace, a newline, or the start of
// the string.
func nextStatementKeyword(body string, from int) (int, string) {
	best := -1
	bestKw := ""
	for _, kw := range jsVarKeywords {
		idx := from
		for {
			rel := strings.Index(body[idx:], kw)
			if rel < 0 {
				break
			}
			abs := idx + rel
			if isStatementStart(body, abs) {
				if best == -1 || abs < best {
					best = abs
					bestKw = kw
				}
				break
			}
			idx = abs + 1
		}
	}
	return best, bestKw
}

func isStatementStart(body string, idx int) bool {
	i := idx - 1
	for i >= 0 {
		c := body[i]
		if c == ' ' || c == '\t' || c == '\r' {
			i--
			continue
		}
		return c == '\n' || c == ';' || c == '{' || i < 0
	}
	return true
}

// readIdentifierAndEquals reads a bare identifier starting at from, then
// an optional `=` (not `==`), skipping whitespace; it returns the
// identifier and the index of the `=` sign, or -1 if none is found before
// some other non-identifier, non-whitespace byte.
func readIdentifierAndEquals(body string, from int) (string, int) {
	i := from
	start := i
	for i < len(body) && isIdentByte(body[i]) {
		i++
	}
	name := body[start:i]
	if name == "" {
		return "", -1
	}
	for i < len(body) && (body[i] == ' ' || body[i] == '\t') {
		i++
	}
	if i >= len(body) || body[i] != '=' {
		return name, -1
	}
	if i+1 < len(body) && body[i+1] == '=' {
		return name, -1
	}
	return name, i
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '.' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
