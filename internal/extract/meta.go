package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// MetaTags is the handful of plain <meta> / <link> values used both on
// their own and as fallbacks when building the opengraph record.
type MetaTags struct {
	Description   string
	Keywords      string
	Author        string
	Robots        string
	Canonical     string
	NoIndex       bool
	NoFollowRobot bool
}

func extractMeta(doc *goquery.Document) MetaTags {
	m := MetaTags{
		Description: doc.Find(`meta[name="description"]`).AttrOr("content", ""),
		Keywords:    doc.Find(`meta[name="keywords"]`).AttrOr("content", ""),
		Author:      doc.Find(`meta[name="author"]`).AttrOr("content", ""),
		Robots:      doc.Find(`meta[name="robots"]`).AttrOr("content", ""),
		Canonical:   doc.Find(`link[rel="canonical"]`).AttrOr("href", ""),
	}
	robots := strings.ToLower(m.Robots)
	m.NoIndex = strings.Contains(robots, "noindex")
	m.NoFollowRobot = strings.Contains(robots, "nofollow")
	return m
}
