// Package urlutil collects the small URL, content, and SQL-text helpers the
// crawl pipeline leans on everywhere: SURT keys, content hashing, identifier
// quoting, HTTP date parsing, gzip sniffing, and Fibonacci backoff.
package urlutil

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// ExtractDomain returns the lowercased hostname with port stripped, or ""
// on a malformed URL.
func ExtractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// ExtractPath returns the path plus query string, defaulting to "/".
func ExtractPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "/"
	}
	p := u.Path
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p = p + "?" + u.RawQuery
	}
	return p
}

// GenerateSURT builds a Sort-friendly URI Reordering Transform key: the
// lowercased, www.-stripped hostname with its labels reversed and
// comma-joined, followed by ")" and the original path+query.
//
// https://www.a.example.com/x -> com,example,a)/x
func GenerateSURT(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	labels := strings.Split(host, ".")
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path = path + "?" + u.RawQuery
	}
	return strings.Join(labels, ",") + ")" + path
}

// ContentHash renders a 64-bit hash of body as lowercase hex (16 chars),
// or "" for empty input.
func ContentHash(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(body))
}

// ContentTypeMatches reports whether ct matches pattern, case-insensitively.
// A pattern ending in "/*" is treated as a prefix wildcard over the type's
// top-level category (e.g. "text/*" matches "text/html; charset=utf-8").
func ContentTypeMatches(ct, pattern string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if ct == "" || pattern == "" {
		return false
	}
	// Strip any parameters (e.g. "; charset=utf-8") from ct for comparison.
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(ct, prefix)
	}
	return ct == pattern
}

// IsAcceptable applies an accept/reject content-type policy: if accept is
// non-empty, ct must match at least one accept entry; ct must then match no
// reject entry.
func IsAcceptable(ct, acceptCSV, rejectCSV string) bool {
	accept := splitCSV(acceptCSV)
	if len(accept) > 0 {
		ok := false
		for _, p := range accept {
			if ContentTypeMatches(ct, p) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, p := range splitCSV(rejectCSV) {
		if ContentTypeMatches(ct, p) {
			return false
		}
	}
	return true
}

func splitCSV(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// httpDateLayouts are tried in order, matching the formats real servers
// send in Date/Last-Modified/Retry-After headers.
var httpDateLayouts = []string{
	time.RFC1123,
	time.RFC1123Z,
	time.RFC850,
	time.ANSIC,
}

// ParseHTTPDate returns an ISO-8601 timestamp iff s parses as an HTTP date
// AND falls within +/-15 minutes of now; this guards against responses
// carrying a clock-skewed Date header. Returns "" otherwise.
func ParseHTTPDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	var t time.Time
	var err error
	for _, layout := range httpDateLayouts {
		t, err = time.Parse(layout, s)
		if err == nil {
			break
		}
	}
	if err != nil {
		return ""
	}
	now := time.Now()
	skew := t.Sub(now)
	if skew < 0 {
		skew = -skew
	}
	if skew > 15*time.Minute {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// QuoteIdentifier wraps s in double quotes, doubling any embedded double
// quote, per standard SQL identifier quoting.
func QuoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// EscapeSQLString wraps s in single quotes, doubling any embedded single
// quote, per standard SQL string-literal escaping.
func EscapeSQLString(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}

// IsValidIdentifier reports whether s is safe to use as a bare SQL
// identifier: at most 128 characters, starting with a letter or
// underscore, the rest letters/digits/underscore/period, with no leading,
// trailing, or adjacent periods.
func IsValidIdentifier(s string) bool {
	if len(s) == 0 || len(s) > 128 {
		return false
	}
	first := s[0]
	if !(first == '_' || (first >= 'a' && first <= 'z') || (first >= 'A' && first <= 'Z')) {
		return false
	}
	if s[0] == '.' || s[len(s)-1] == '.' {
		return false
	}
	prevDot := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		isDot := c == '.'
		ok := c == '_' || isDot ||
			(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !ok {
			return false
		}
		if isDot && prevDot {
			return false
		}
		prevDot = isDot
	}
	return true
}

// IsGzipped reports whether b begins with the gzip magic bytes.
func IsGzipped(b []byte) bool {
	return len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b
}

// DecompressGzip returns the decompressed text, or "" if b is not valid
// gzip data.
func DecompressGzip(b []byte) string {
	if !IsGzipped(b) {
		return ""
	}
	r, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return ""
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return ""
	}
	return string(out)
}

// FibBackoff returns the n-th (1-indexed) term of the Fibonacci-like
// backoff sequence 3, 3, 6, 9, 15, 24, ... clamped to cap.
func FibBackoff(n int, cap time.Duration) time.Duration {
	if n < 1 {
		n = 1
	}
	a, b := 3, 3
	for i := 1; i < n; i++ {
		a, b = b, a+b
	}
	d := time.Duration(a) * time.Second
	if d > cap {
		return cap
	}
	return d
}

// FibBackoffSeconds mirrors FibBackoff but returns a plain integer second
// count, convenient for tests asserting the exact spec.md sequence.
func FibBackoffSeconds(n int, capSeconds int) int {
	d := FibBackoff(n, time.Duration(capSeconds)*time.Second)
	return int(d / time.Second)
}

// ParseIntOrZero parses s (surrounding whitespace trimmed) as a base-10
// int64, returning 0 when it does not parse. mergeparse.ParseLimitLiteral
// wraps it.
func ParseIntOrZero(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
