package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Link is one <a href> discovered on a page, resolved against the page's
// base URL.
type Link struct {
	URL      string
	Text     string
	Rel      string
	NoFollow bool
}

var ignoredSchemes = []string{"javascript:", "mailto:", "tel:", "data:"}

// ExtractLinks parses every <a href> tag, skipping javascript:/mailto:/
// tel:/data: targets and pure fragments, resolves each href against
// baseURL (protocol-relative, absolute-path, and relative-path with
// ./.. collapsing, all handled by net/url.ResolveReference), and
// deduplicates by final URL with the fragment stripped.
func ExtractLinks(doc *goquery.Document, baseURL string) []Link {
	return ExtractLinksSelector(doc, baseURL, "a[href]")
}

// ExtractLinksSelector is ExtractLinks generalized over which anchor
// elements are considered, used by the crawl operator's `follow` option
// to restrict link-following to a caller-chosen CSS selector instead of
// every anchor on the page.
func ExtractLinksSelector(doc *goquery.Document, baseURL, selector string) []Link {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var links []Link

	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		lower := strings.ToLower(href)
		for _, scheme := range ignoredSchemes {
			if strings.HasPrefix(lower, scheme) {
				return
			}
		}

		u, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(u)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		resolved.Fragment = ""
		final := resolved.String()

		if _, dup := seen[final]; dup {
			return
		}
		seen[final] = struct{}{}

		rel := strings.TrimSpace(sel.AttrOr("rel", ""))
		links = append(links, Link{
			URL:      final,
			Text:     strings.TrimSpace(sel.Text()),
			Rel:      rel,
			NoFollow: hasRelToken(rel, "nofollow"),
		})
	})

	return links
}

func hasRelToken(rel, token string) bool {
	for _, part := range strings.Fields(rel) {
		if strings.EqualFold(part, token) {
			return true
		}
	}
	return false
}
