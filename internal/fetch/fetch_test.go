package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"raito/internal/crawlmodel"
)

func TestFetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	pool := NewPool()
	resp := Fetch(context.Background(), pool, crawlmodel.CrawlRequest{URL: srv.URL, Timeout: 5 * time.Second})
	if !resp.Success() || resp.Status != 200 {
		t.Fatalf("expected success, got %+v", resp)
	}
	if resp.Body != "<html>ok</html>" {
		t.Errorf("unexpected body %q", resp.Body)
	}
}

func TestFetch_TransportFailureClassified(t *testing.T) {
	pool := NewPool()
	resp := Fetch(context.Background(), pool, crawlmodel.CrawlRequest{URL: "http://127.0.0.1:1", Timeout: 2 * time.Second})
	if resp.Status != 0 {
		t.Fatalf("expected status 0, got %d", resp.Status)
	}
	if resp.Err == nil {
		t.Fatal("expected error populated")
	}
	if resp.Class == "" {
		t.Errorf("expected a classified transport error, got empty class")
	}
}

func TestFetch_ConditionalHeaders(t *testing.T) {
	var gotINM string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotINM = r.Header.Get("If-None-Match")
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	pool := NewPool()
	resp := Fetch(context.Background(), pool, crawlmodel.CrawlRequest{
		URL: srv.URL, Timeout: 5 * time.Second, IfNoneMatch: `"abc"`,
	})
	if gotINM != `"abc"` {
		t.Errorf("expected If-None-Match sent, got %q", gotINM)
	}
	if resp.Status != 304 || !resp.Success() {
		t.Fatalf("expected 304 success, got %+v", resp)
	}
}

func TestFetchWithBackoff_SucceedsWithoutRetryOnFirstTry(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	pool := NewPool()
	resp, attempts := FetchWithBackoff(context.Background(), pool, crawlmodel.CrawlRequest{URL: srv.URL, Timeout: 5 * time.Second}, 5, 60*time.Second)
	if !resp.Success() || attempts != 1 || hits != 1 {
		t.Fatalf("expected one successful attempt, got resp=%+v attempts=%d hits=%d", resp, attempts, hits)
	}
}

func TestFetchWithBackoff_ExhaustsRetriesAndClassifiesMaxRetries(t *testing.T) {
	pool := NewPool()
	req := crawlmodel.CrawlRequest{URL: "http://127.0.0.1:1", Timeout: 1 * time.Second}
	resp, attempts := FetchWithBackoff(context.Background(), pool, req, 3, 1*time.Second)
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if resp.Class != ClassMaxRetriesExceeded {
		t.Errorf("expected max_retries_exceeded after exhausting retries, got %q", resp.Class)
	}
}

func TestFetchWithBackoff_DoesNotRetryClientErrors(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	pool := NewPool()
	resp, attempts := FetchWithBackoff(context.Background(), pool, crawlmodel.CrawlRequest{URL: srv.URL, Timeout: 5 * time.Second}, 5, 60*time.Second)
	if attempts != 1 || hits != 1 {
		t.Fatalf("expected no retry on a 404, got attempts=%d hits=%d", attempts, hits)
	}
	if resp.Status != 404 {
		t.Errorf("expected status 404, got %d", resp.Status)
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		class Class
		want  bool
	}{
		{ClassNetworkTimeout, true},
		{ClassHTTPServerError, true},
		{ClassRateLimited, true},
		{ClassHTTPClientError, false},
		{ClassRobotsDisallowed, false},
		{ClassContentTooLarge, false},
	}
	for _, c := range cases {
		if got := Retryable(c.class); got != c.want {
			t.Errorf("Retryable(%q) = %v, want %v", c.class, got, c.want)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		status int
		msg    string
		want   Class
	}{
		{429, "", ClassRateLimited},
		{503, "", ClassHTTPServerError},
		{404, "", ClassHTTPClientError},
		{0, "dial tcp: i/o timeout", ClassNetworkTimeout},
		{0, "no such host (DNS)", ClassDNSFailure},
		{0, "x509: certificate signed by unknown authority", ClassSSLError},
		{0, "connect: connection refused", ClassConnectionRefused},
		{0, "something unrecognized", ClassNetworkTimeout},
	}
	for _, c := range cases {
		if got := Classify(c.status, c.msg); got != c.want {
			t.Errorf("Classify(%d,%q) = %q, want %q", c.status, c.msg, got, c.want)
		}
	}
}
