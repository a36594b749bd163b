package sitemap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"raito/internal/hostabi"
)

func drain(t *testing.T, op *Operator) []hostabi.Row {
	t.Helper()
	ctx := context.Background()
	if err := op.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer op.Close()

	var rows []hostabi.Row
	for {
		row, cont, err := op.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if row != nil {
			rows = append(rows, row)
		}
		if cont == hostabi.Done {
			break
		}
	}
	return rows
}

func TestOperator_FlatURLSet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(`<?xml version="1.0"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://example.com/a</loc><lastmod>2026-01-01</lastmod><changefreq>daily</changefreq><priority>0.8</priority></url>
  <url><loc>https://example.com/b</loc></url>
</urlset>`))
	}))
	defer srv.Close()

	op := New(nil, srv.URL, Options{})
	rows := drain(t, op)

	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0]["url"] != "https://example.com/a" || rows[0]["priority"] != "0.8" {
		t.Errorf("unexpected first row: %+v", rows[0])
	}
	if rows[1]["url"] != "https://example.com/b" || rows[1]["lastmod"] != "" {
		t.Errorf("unexpected second row: %+v", rows[1])
	}
}

func TestOperator_SitemapIndexFlattensChildren(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/index.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(`<?xml version="1.0"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>` + srv.URL + `/child-a.xml</loc></sitemap>
  <sitemap><loc>` + srv.URL + `/child-b.xml</loc></sitemap>
</sitemapindex>`))
	})
	mux.HandleFunc("/child-a.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(`<urlset><url><loc>https://example.com/a1</loc></url></urlset>`))
	})
	mux.HandleFunc("/child-b.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(`<urlset><url><loc>https://example.com/b1</loc></url></urlset>`))
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	op := New(nil, srv.URL+"/index.xml", Options{})
	rows := drain(t, op)

	if len(rows) != 2 {
		t.Fatalf("expected 2 flattened rows, got %d: %+v", len(rows), rows)
	}
	seen := map[string]bool{}
	for _, r := range rows {
		seen[r["url"].(string)] = true
	}
	if !seen["https://example.com/a1"] || !seen["https://example.com/b1"] {
		t.Errorf("expected both children's entries, got %+v", rows)
	}
}

func TestOperator_MaxDepthStopsIndexRecursion(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/root.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(`<sitemapindex><sitemap><loc>` + srv.URL + `/nested.xml</loc></sitemap></sitemapindex>`))
	})
	mux.HandleFunc("/nested.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(`<urlset><url><loc>https://example.com/deep</loc></url></urlset>`))
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	op := New(nil, srv.URL+"/root.xml", Options{MaxDepth: 1})
	rows := drain(t, op)

	if len(rows) != 0 {
		t.Errorf("expected the depth guard to stop before the nested sitemap, got %+v", rows)
	}
}

func TestOperator_MaxResultsStopsEarly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(`<urlset>
  <url><loc>https://example.com/1</loc></url>
  <url><loc>https://example.com/2</loc></url>
  <url><loc>https://example.com/3</loc></url>
</urlset>`))
	}))
	defer srv.Close()

	op := New(nil, srv.URL, Options{MaxResults: 2})
	rows := drain(t, op)

	if len(rows) != 2 {
		t.Fatalf("expected max_results to cap at 2 rows, got %d", len(rows))
	}
}

func TestOperator_FetchErrorYieldsErrorRow(t *testing.T) {
	op := New(nil, "http://127.0.0.1:0/unreachable-sitemap.xml", Options{})
	rows := drain(t, op)

	if len(rows) != 1 {
		t.Fatalf("expected one error row, got %d", len(rows))
	}
	if rows[0]["error"] == "" {
		t.Errorf("expected a non-empty error message, got %+v", rows[0])
	}
}
