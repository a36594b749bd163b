package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extractMicrodata walks elements carrying an itemtype attribute. Each
// becomes an object keyed by the final path segment of its itemtype URL
// (e.g. "http://schema.org/Product" -> "Product"); descendant elements
// carrying itemprop, whose nearest itemscope ancestor is this element,
// become its keys, with the value taken from content/datetime/href/src or
// element text, in that preference order. The result merges with JSON-LD
// output keyed by the same type names.
func extractMicrodata(doc *goquery.Document) map[string][]map[string]interface{} {
	byType := make(map[string][]map[string]interface{})

	doc.Find("[itemtype][itemscope]").Each(func(_ int, scope *goquery.Selection) {
		itemtype, _ := scope.Attr("itemtype")
		typeName := lastPathSegment(itemtype)
		if typeName == "" {
			return
		}

		obj := make(map[string]interface{})
		scope.Find("[itemprop]").Each(func(_ int, prop *goquery.Selection) {
			// Skip itemprop elements that belong to a nested itemscope.
			if closest := prop.Closest("[itemscope]"); closest.Length() > 0 {
				if !sameNode(closest, scope) {
					return
				}
			}
			name, _ := prop.Attr("itemprop")
			name = strings.TrimSpace(name)
			if name == "" {
				return
			}
			obj[name] = microdataValue(prop)
		})

		if len(obj) == 0 {
			return
		}
		byType[typeName] = append(byType[typeName], obj)
	})

	return byType
}

func microdataValue(sel *goquery.Selection) string {
	if v, ok := sel.Attr("content"); ok {
		return strings.TrimSpace(v)
	}
	if v, ok := sel.Attr("datetime"); ok {
		return strings.TrimSpace(v)
	}
	if v, ok := sel.Attr("href"); ok {
		return strings.TrimSpace(v)
	}
	if v, ok := sel.Attr("src"); ok {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(sel.Text())
}

func lastPathSegment(itemtype string) string {
	itemtype = strings.TrimRight(strings.TrimSpace(itemtype), "/")
	if itemtype == "" {
		return ""
	}
	idx := strings.LastIndexByte(itemtype, '/')
	if idx < 0 {
		return itemtype
	}
	return itemtype[idx+1:]
}

// sameNode reports whether two single-element selections refer to the
// same underlying DOM node.
func sameNode(a, b *goquery.Selection) bool {
	if a.Length() == 0 || b.Length() == 0 {
		return false
	}
	return a.Get(0) == b.Get(0)
}
