package extract

import (
	"bytes"
	"encoding/json"
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extractOpenGraph scans every <meta property="og:*"> and
// <meta name="twitter:*">, decodes HTML entities in their content
// attributes, and returns the serialized JSON object: top-level og:*
// fields (prefix stripped), a nested "twitter" object, and explicit
// title/description/image/url/type/site_name fields falling back to meta
// when the matching og:* tag is absent.
func extractOpenGraph(doc *goquery.Document, meta MetaTags) string {
	og := make(map[string]string)
	twitter := make(map[string]string)

	doc.Find("meta").Each(func(_ int, sel *goquery.Selection) {
		content := html.UnescapeString(strings.TrimSpace(sel.AttrOr("content", "")))
		if content == "" {
			return
		}
		if prop, ok := sel.Attr("property"); ok && strings.HasPrefix(prop, "og:") {
			og[strings.TrimPrefix(prop, "og:")] = content
			return
		}
		if name, ok := sel.Attr("name"); ok && strings.HasPrefix(name, "twitter:") {
			twitter[strings.TrimPrefix(name, "twitter:")] = content
		}
	})

	out := make(map[string]interface{}, len(og)+8)
	for k, v := range og {
		out[k] = v
	}
	if len(twitter) > 0 {
		out["twitter"] = twitter
	}

	out["title"] = firstNonEmpty(og["title"], twitter["title"])
	out["description"] = firstNonEmpty(og["description"], twitter["description"], meta.Description)
	out["image"] = firstNonEmpty(og["image"], twitter["image"])
	out["url"] = og["url"]
	out["type"] = og["type"]
	out["site_name"] = og["site_name"]

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		return "{}"
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
