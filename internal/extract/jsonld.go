package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extractJSONLD locates every <script type="application/ld+json"> block,
// parses it leniently, and groups the resulting objects by their @type
// (or, when present, the @graph array's objects' @type). It returns a map
// from type name to the list of objects of that type, so that a type with
// a single match can be flattened by the caller and a type with several
// stays an array.
func extractJSONLD(doc *goquery.Document) map[string][]map[string]interface{} {
	byType := make(map[string][]map[string]interface{})

	doc.Find("script").Each(func(_ int, sel *goquery.Selection) {
		typ, _ := sel.Attr("type")
		if !strings.EqualFold(strings.TrimSpace(typ), "application/ld+json") {
			return
		}
		raw := sel.Text()
		if strings.TrimSpace(raw) == "" {
			return
		}

		var root interface{}
		if err := parseLenientJSON(raw, &root); err != nil {
			return // invalid JSON-LD block is skipped, not fatal
		}

		for _, obj := range jsonLDObjects(root) {
			t := jsonLDType(obj)
			if t == "" {
				continue
			}
			byType[t] = append(byType[t], obj)
		}
	})

	return byType
}

// jsonLDObjects flattens a parsed JSON-LD root into the list of objects it
// describes: an array is iterated, a bare object carrying @graph has its
// graph iterated, and anything else is treated as one object.
func jsonLDObjects(root interface{}) []map[string]interface{} {
	switch v := root.(type) {
	case []interface{}:
		var out []map[string]interface{}
		for _, elem := range v {
			out = append(out, jsonLDObjects(elem)...)
		}
		return out
	case map[string]interface{}:
		if graph, ok := v["@graph"]; ok {
			return jsonLDObjects(graph)
		}
		return []map[string]interface{}{v}
	default:
		return nil
	}
}

// jsonLDType reads @type as either a bare string or the first element of
// an array of strings.
func jsonLDType(obj map[string]interface{}) string {
	switch t := obj["@type"].(type) {
	case string:
		return t
	case []interface{}:
		if len(t) > 0 {
			if s, ok := t[0].(string); ok {
				return s
			}
		}
	}
	return ""
}
