package lateralop

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"raito/internal/hostabi"
	"raito/internal/pipelinelimit"
	"raito/internal/procctx"
)

func TestLateralOperator_BasicChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body>hi</body></html>`))
	}))
	defer srv.Close()

	op := New(nil, nil, nil, Options{})
	ctx := context.Background()
	if err := op.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	op.Feed([]string{srv.URL + "/a", srv.URL + "/b"})

	row1, cont1, err := op.Next(ctx)
	if err != nil || row1 == nil {
		t.Fatalf("expected first row, err=%v", err)
	}
	if cont1 != hostabi.HaveMoreOutput {
		t.Errorf("expected HaveMoreOutput after first of two, got %v", cont1)
	}

	row2, cont2, err := op.Next(ctx)
	if err != nil || row2 == nil {
		t.Fatalf("expected second row, err=%v", err)
	}
	if cont2 != hostabi.NeedMoreInput {
		t.Errorf("expected NeedMoreInput after chunk drained, got %v", cont2)
	}
}

func TestLateralOperator_SharedLimitStops(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body>hi</body></html>`))
	}))
	defer srv.Close()

	registry := pipelinelimit.NewRegistry()
	dbID := "test-db"
	registry.Init(dbID, 2)

	pc := &procctx.Context{
		Pool:     procctx.Default.Pool,
		Limits:   registry,
		Robots:   procctx.Default.Robots,
		Secrets:  procctx.Default.Secrets,
		Defaults: procctx.Default.Defaults,
	}

	op := New(pc, nil, dbID, Options{})
	ctx := context.Background()
	op.Init(ctx)

	urls := make([]string, 100)
	for i := range urls {
		urls[i] = srv.URL + "/p"
	}
	op.Feed(urls)

	emitted := 0
	for {
		row, cont, err := op.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if row != nil {
			emitted++
		}
		if cont == hostabi.NeedMoreInput || cont == hostabi.Done {
			break
		}
	}

	if emitted != 2 {
		t.Errorf("expected exactly 2 emitted rows, got %d", emitted)
	}
	if hits > 3 {
		t.Errorf("expected at most 3 HTTP hits, got %d", hits)
	}
}
