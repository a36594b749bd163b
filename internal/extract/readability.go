package extract

import (
	"bytes"
	"encoding/json"
	"net/url"

	readability "github.com/go-shiori/go-readability"
)

// readabilityResult is the JSON shape of the "readability" field:
// article-like content extraction, matching the spec.md surface.
type readabilityResult struct {
	Title       string `json:"title,omitempty"`
	Byline      string `json:"byline,omitempty"`
	Content     string `json:"content,omitempty"`
	TextContent string `json:"textContent,omitempty"`
	Excerpt     string `json:"excerpt,omitempty"`
	SiteName    string `json:"siteName,omitempty"`
	Length      int    `json:"length,omitempty"`
}

// extractReadability runs go-readability's boilerplate-stripping article
// extraction over the body and serializes the result, returning "{}" when
// the document isn't parseable as an article.
func extractReadability(body []byte, baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		u = &url.URL{}
	}

	article, err := readability.FromReader(bytes.NewReader(body), u)
	if err != nil {
		return "{}"
	}

	out := readabilityResult{
		Title:       article.Title,
		Byline:      article.Byline,
		Content:     article.Content,
		TextContent: article.TextContent,
		Excerpt:     article.Excerpt,
		SiteName:    article.SiteName,
		Length:      article.Length,
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "{}"
	}
	return string(b)
}
