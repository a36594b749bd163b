package fetch

import "strings"

// Class is the error-taxonomy string stored in the crawl result's error
// column and in operator failure reports.
type Class string

const (
	ClassNetworkTimeout      Class = "network_timeout"
	ClassDNSFailure          Class = "network_dns_failure"
	ClassConnectionRefused   Class = "network_connection_refused"
	ClassSSLError            Class = "network_ssl_error"
	ClassHTTPClientError     Class = "http_client_error"
	ClassHTTPServerError     Class = "http_server_error"
	ClassRateLimited         Class = "http_rate_limited"
	ClassRobotsDisallowed    Class = "robots_disallowed"
	ClassContentTooLarge     Class = "content_too_large"
	ClassContentTypeRejected Class = "content_type_rejected"
	ClassMaxRetriesExceeded  Class = "max_retries_exceeded"
)

// Retryable reports whether a fetch that classified as c is worth retrying
// with backoff: transport-level failures, 5xx, and 429 are; permanent 4xx
// client errors are not.
func Retryable(c Class) bool {
	switch c {
	case ClassNetworkTimeout, ClassDNSFailure, ClassConnectionRefused, ClassSSLError, ClassHTTPServerError, ClassRateLimited:
		return true
	default:
		return false
	}
}

// Classify maps an HTTP status plus, for status 0 (transport failure), a
// substring of the transport error message, to an error Class.
// Classification never fails: an unrecognized transport message maps to
// ClassNetworkTimeout.
func Classify(status int, errMsg string) Class {
	switch {
	case status == 429:
		return ClassRateLimited
	case status >= 500:
		return ClassHTTPServerError
	case status >= 400:
		return ClassHTTPClientError
	case status != 0:
		return ""
	}

	msg := strings.ToLower(errMsg)
	switch {
	case strings.Contains(msg, "timeout"):
		return ClassNetworkTimeout
	case strings.Contains(msg, "dns") || strings.Contains(msg, "resolve"):
		return ClassDNSFailure
	case strings.Contains(msg, "ssl") || strings.Contains(msg, "certificate"):
		return ClassSSLError
	case strings.Contains(msg, "refused") || strings.Contains(msg, "connect"):
		return ClassConnectionRefused
	default:
		return ClassNetworkTimeout
	}
}
