package extract

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// hydrationPatterns are the well-known global names frameworks stash their
// server-rendered state under.
var hydrationPatterns = []string{
	"__NEXT_DATA__",
	"__NUXT__",
	"__INITIAL_STATE__",
	"__PRELOADED_STATE__",
	"__APOLLO_STATE__",
	"__RELAY_STORE__",
	"__REDUX_STATE__",
	"__DATA__",
}

// extractHydration looks for each pattern either as
// <script id="pattern" type="application/json">...</script> or as a
// JavaScript assignment (window.PATTERN = {...} / PATTERN = {...}). The
// first occurrence of a pattern wins.
func extractHydration(doc *goquery.Document, scriptBodies []string) map[string]interface{} {
	out := make(map[string]interface{})

	for _, pattern := range hydrationPatterns {
		if v, ok := hydrationFromScriptTag(doc, pattern); ok {
			out[pattern] = v
			continue
		}
		for _, body := range scriptBodies {
			if v, ok := hydrationFromAssignment(body, pattern); ok {
				out[pattern] = v
				break
			}
		}
	}

	return out
}

func hydrationFromScriptTag(doc *goquery.Document, pattern string) (interface{}, bool) {
	sel := doc.Find("script#" + pattern)
	if sel.Length() == 0 {
		return nil, false
	}
	typ, hasType := sel.Attr("type")
	if hasType && !isJSONMime(typ) {
		return nil, false
	}
	raw := strings.TrimSpace(sel.First().Text())
	if raw == "" {
		return nil, false
	}
	var v interface{}
	if err := parseLenientJSON(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}

func hydrationFromAssignment(body, pattern string) (interface{}, bool) {
	needles := []string{"window." + pattern + " =", pattern + " ="}
	for _, needle := range needles {
		idx := strings.Index(body, needle)
		if idx < 0 {
			continue
		}
		valueStart := findFirstBraceOrBracket(body, idx+len(needle))
		if valueStart < 0 {
			continue
		}
		raw, _, ok := findBalancedJSON(body, valueStart)
		if !ok {
			continue
		}
		var v interface{}
		if err := parseLenientJSON(raw, &v); err != nil {
			continue
		}
		return v, true
	}
	return nil, false
}

func isJSONMime(typ string) bool {
	typ = strings.ToLower(strings.TrimSpace(typ))
	return typ == "" || typ == "application/json" || strings.HasSuffix(typ, "+json")
}

// marshalOrEmptyObject serializes v, falling back to "{}" on error or nil.
func marshalOrEmptyObject(v interface{}) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
