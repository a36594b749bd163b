// Package extract turns an HTML body into the structured fields of
// crawlmodel.HtmlRecord: JSON-LD and microdata merged into a schema map,
// OpenGraph/Twitter card metadata, recognized top-level JS variables
// (including framework hydration blobs), readability-style article
// extraction, and outbound link discovery for the crawl operator's BFS
// feedback loop.
package extract

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"raito/internal/crawlmodel"
)

// Result bundles the HtmlRecord plus the page-level values the crawl
// operator needs but that don't belong in HtmlRecord itself: discovered
// links (for BFS feedback), the canonical/robots meta flags, and the
// parsed document itself so css-sourced ExtractSpecs can be resolved
// against live selectors rather than the already-serialized fields.
type Result struct {
	Record crawlmodel.HtmlRecord
	Links  []Link
	Meta   MetaTags
	Doc    *goquery.Document
}

// BuildHTMLRecord parses body as HTML and runs every extractor over it.
// On a body that doesn't parse as HTML at all, it returns a record whose
// Document field still holds the raw body text (callers are expected to
// have already content-type gated before calling this).
func BuildHTMLRecord(body []byte, baseURL string) Result {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Result{Record: crawlmodel.HtmlRecord{Document: string(body)}}
	}

	meta := extractMeta(doc)
	og := extractOpenGraph(doc, meta)

	scriptBodies := collectScriptBodies(doc)
	hydration := extractHydration(doc, scriptBodies)
	jsvars := extractJSVars(scriptBodies)
	for k, v := range hydration {
		if _, exists := jsvars[k]; !exists {
			jsvars[k] = v
		}
	}

	schema := mergeSchema(extractJSONLD(doc), extractMicrodata(doc))
	readability := extractReadability(body, baseURL)
	links := ExtractLinks(doc, baseURL)

	return Result{
		Record: crawlmodel.HtmlRecord{
			Document:    string(body),
			JS:          marshalOrEmptyObject(jsvars),
			OpenGraph:   og,
			Schema:      schema,
			Readability: readability,
		},
		Links: links,
		Meta:  meta,
		Doc:   doc,
	}
}

// mergeSchema combines JSON-LD and microdata type->objects maps into the
// spec.md schema shape: a single object when a type matched once, an
// array when it matched more than once.
func mergeSchema(jsonld, microdata map[string][]map[string]interface{}) map[string]string {
	combined := make(map[string][]map[string]interface{}, len(jsonld)+len(microdata))
	for t, objs := range jsonld {
		combined[t] = append(combined[t], objs...)
	}
	for t, objs := range microdata {
		combined[t] = append(combined[t], objs...)
	}

	out := make(map[string]string, len(combined))
	for t, objs := range combined {
		var v interface{}
		if len(objs) == 1 {
			v = objs[0]
		} else {
			v = objs
		}
		b, err := json.Marshal(v)
		if err != nil {
			continue
		}
		out[t] = string(b)
	}
	return out
}

// EvaluateSpecs resolves each ExtractSpec's dotted/arrow path against the
// data named by its Source (one of "opengraph", "js", "schema:<type>",
// "css") and returns the serialized {alias: value, ...} object as JSON.
// It returns "" when specs is empty, matching spec.md's "empty if none
// requested".
func EvaluateSpecs(specs []crawlmodel.ExtractSpec, res Result) (string, error) {
	if len(specs) == 0 {
		return "", nil
	}

	out := make(map[string]interface{}, len(specs))
	for _, spec := range specs {
		var root interface{}
		switch {
		case spec.Source == "opengraph":
			if err := json.Unmarshal([]byte(res.Record.OpenGraph), &root); err != nil {
				continue
			}
		case spec.Source == "js":
			if err := json.Unmarshal([]byte(res.Record.JS), &root); err != nil {
				continue
			}
		case strings.HasPrefix(spec.Source, "schema:"):
			typ := strings.TrimPrefix(spec.Source, "schema:")
			raw, ok := res.Record.Schema[typ]
			if !ok {
				continue
			}
			if err := json.Unmarshal([]byte(raw), &root); err != nil {
				continue
			}
		case spec.Source == "css":
			if res.Doc == nil {
				continue
			}
			if v, ok := resolveCSS(res.Doc, spec.Path); ok {
				out[spec.Alias] = v
			}
			continue
		default:
			continue
		}

		if v, ok := resolvePath(root, spec.Path); ok {
			out[spec.Alias] = v
		}
	}

	b, err := json.Marshal(out)
	if err != nil {
		return "{}", err
	}
	return string(b), nil
}

// resolvePath walks a dotted or arrow ("a.b->c") path through a decoded
// JSON value, indexing into maps by key and, when a path segment parses
// as an integer, into arrays by position.
func resolvePath(v interface{}, path string) (interface{}, bool) {
	path = strings.ReplaceAll(path, "->", ".")
	if path == "" {
		return v, true
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		switch node := cur.(type) {
		case map[string]interface{}:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []interface{}:
			idx, ok := parseIndex(seg)
			if !ok || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// resolveCSS evaluates a css-sourced ExtractSpec's path against the live
// document: "<selector>" yields each match's trimmed text, "<selector>->
// attr:name" yields the named attribute, and "<selector>->html" yields
// inner HTML. A single match is unwrapped to a scalar; more than one
// match yields an array, matching mergeSchema's single/array convention.
func resolveCSS(doc *goquery.Document, path string) (interface{}, bool) {
	selector, mode := path, "text"
	if idx := strings.Index(path, "->"); idx >= 0 {
		selector, mode = path[:idx], path[idx+2:]
	}
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return nil, false
	}

	sel := doc.Find(selector)
	if sel.Length() == 0 {
		return nil, false
	}

	values := make([]string, 0, sel.Length())
	sel.Each(func(_ int, node *goquery.Selection) {
		switch {
		case mode == "html":
			h, err := node.Html()
			if err == nil {
				values = append(values, strings.TrimSpace(h))
			}
		case strings.HasPrefix(mode, "attr:"):
			v, _ := node.Attr(strings.TrimPrefix(mode, "attr:"))
			values = append(values, v)
		default:
			values = append(values, strings.TrimSpace(node.Text()))
		}
	})

	if len(values) == 1 {
		return values[0], true
	}
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out, true
}

func parseIndex(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
