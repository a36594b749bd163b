package mergeexec

import (
	"context"
	"strings"
	"testing"

	"raito/internal/hostabi"
	"raito/internal/hostabi/refhost"
	"raito/internal/mergeparse"
	"raito/internal/procctx"
)

// stubRows is a fixed hostabi.Rows used to stand in for a registered
// source query's output.
type stubRows struct {
	cols []hostabi.ColumnType
	rows []hostabi.Row
	pos  int
}

func (r *stubRows) Next(ctx context.Context) (hostabi.Row, bool, error) {
	if r.pos >= len(r.rows) {
		return nil, false, nil
	}
	row := r.rows[r.pos]
	r.pos++
	return row, true, nil
}

func (r *stubRows) Close() error                      { return nil }
func (r *stubRows) ColumnTypes() []hostabi.ColumnType { return r.cols }

func TestExecute_MatchedUpdateAndNotMatchedInsert(t *testing.T) {
	host := refhost.NewHost()
	host.SeedTable("pages",
		[]hostabi.ColumnType{{Name: "url", Type: "TEXT"}, {Name: "title", Type: "TEXT"}, {Name: "crawled_at", Type: "TIMESTAMP"}},
		[]hostabi.Row{{"url": "https://example.com/old", "title": "Old Title", "crawled_at": "2024-01-01"}},
	)

	sql := `CRAWLING MERGE INTO pages ` +
		`USING (SELECT url, title FROM crawl_url('https://example.com/seed')) src ` +
		`ON (pages.url = src.url) ` +
		`WHEN MATCHED THEN UPDATE BY NAME ` +
		`WHEN NOT MATCHED THEN INSERT BY NAME`

	plan, err := mergeparse.Parse(sql, refhost.NewMergeParser())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	host.RegisterQuery(plan.SourceQuery, func(ctx context.Context, args []interface{}) (hostabi.Rows, error) {
		return &stubRows{
			cols: []hostabi.ColumnType{{Name: "url", Type: "TEXT"}, {Name: "title", Type: "TEXT"}},
			rows: []hostabi.Row{
				{"url": "https://example.com/old", "title": "New Title"},
				{"url": "https://example.com/new", "title": "New Page"},
			},
		}, nil
	})

	res, err := Execute(context.Background(), host, nil, plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.RowsUpdated != 1 {
		t.Errorf("RowsUpdated = %d, want 1", res.RowsUpdated)
	}
	if res.RowsInserted != 1 {
		t.Errorf("RowsInserted = %d, want 1", res.RowsInserted)
	}

	dump := host.Dump("pages")
	var sawUpdatedTitle, sawNewRow bool
	for _, row := range dump {
		if row["url"] == "https://example.com/old" && row["title"] == "New Title" {
			sawUpdatedTitle = true
		}
		if row["url"] == "https://example.com/new" && row["title"] == "New Page" {
			sawNewRow = true
		}
	}
	if !sawUpdatedTitle {
		t.Errorf("expected existing row's title to be updated, got %+v", dump)
	}
	if !sawNewRow {
		t.Errorf("expected new row to be inserted, got %+v", dump)
	}
}

func TestExecute_NotMatchedBySourceDeletesStaleRows(t *testing.T) {
	host := refhost.NewHost()
	host.SeedTable("pages",
		[]hostabi.ColumnType{{Name: "url", Type: "TEXT"}},
		[]hostabi.Row{
			{"url": "https://example.com/keep"},
			{"url": "https://example.com/stale"},
		},
	)

	sql := `CRAWLING MERGE INTO pages ` +
		`USING (SELECT url FROM crawl_url('https://example.com/seed')) src ` +
		`ON (pages.url = src.url) ` +
		`WHEN MATCHED THEN UPDATE BY NAME ` +
		`WHEN NOT MATCHED THEN INSERT BY NAME ` +
		`WHEN NOT MATCHED BY SOURCE THEN DELETE`

	plan, err := mergeparse.Parse(sql, refhost.NewMergeParser())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	host.RegisterQuery(plan.SourceQuery, func(ctx context.Context, args []interface{}) (hostabi.Rows, error) {
		return &stubRows{
			cols: []hostabi.ColumnType{{Name: "url", Type: "TEXT"}},
			rows: []hostabi.Row{{"url": "https://example.com/keep"}},
		}, nil
	})

	res, err := Execute(context.Background(), host, nil, plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.RowsDeleted != 1 {
		t.Errorf("RowsDeleted = %d, want 1", res.RowsDeleted)
	}

	dump := host.Dump("pages")
	if len(dump) != 1 || dump[0]["url"] != "https://example.com/keep" {
		t.Errorf("expected only the kept row to remain, got %+v", dump)
	}
}

func TestExecute_RowLimitStopsEarlyAndClearsRegistry(t *testing.T) {
	host := refhost.NewHost()
	host.SeedTable("pages", []hostabi.ColumnType{{Name: "url", Type: "TEXT"}}, nil)

	sql := `CRAWLING MERGE INTO pages ` +
		`USING (SELECT url FROM crawl_url('https://example.com/seed')) src ` +
		`ON (pages.url = src.url) ` +
		`WHEN NOT MATCHED THEN INSERT BY NAME ` +
		`LIMIT 1`

	plan, err := mergeparse.Parse(sql, refhost.NewMergeParser())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if plan.RowLimit != 1 {
		t.Fatalf("RowLimit = %d, want 1", plan.RowLimit)
	}

	host.RegisterQuery(plan.SourceQuery, func(ctx context.Context, args []interface{}) (hostabi.Rows, error) {
		return &stubRows{
			cols: []hostabi.ColumnType{{Name: "url", Type: "TEXT"}},
			rows: []hostabi.Row{
				{"url": "https://example.com/a"},
				{"url": "https://example.com/b"},
			},
		}, nil
	})

	res, err := Execute(context.Background(), host, nil, plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.RowsInserted != 1 {
		t.Errorf("RowsInserted = %d, want 1 (row limit should stop after the first)", res.RowsInserted)
	}

	if l := procctx.Default.Limits.Get(host.Identity()); l != nil {
		t.Errorf("expected pipeline limit to be cleared after Execute, got %+v", l)
	}
}

func TestBuildPushdownSQL_InsertsNotInFilterBeforeLateralCall(t *testing.T) {
	sourceSQL := `SELECT src.url FROM seeds AS src, LATERAL crawl_url(src.url) c`
	rewritten, ok := buildPushdownSQL(sourceSQL, "pages", "t", []string{"url"}, "t.crawled_at < 100")
	if !ok {
		t.Fatalf("buildPushdownSQL: expected ok=true")
	}
	if !strings.Contains(rewritten, `WITH __fresh AS (SELECT url FROM "pages" AS t WHERE NOT (t.crawled_at < 100))`) {
		t.Errorf("missing __fresh CTE, got: %s", rewritten)
	}
	if !strings.Contains(rewritten, "src.url NOT IN (SELECT url FROM __fresh)") {
		t.Errorf("missing NOT IN filter, got: %s", rewritten)
	}
	if !strings.HasSuffix(rewritten, ", LATERAL crawl_url(src.url) c") {
		t.Errorf("expected the LATERAL call to remain untouched after its comma, got: %s", rewritten)
	}
}

func TestBuildPushdownSQL_BailsOutOnSubqueryTableRef(t *testing.T) {
	sourceSQL := `SELECT s.url FROM (SELECT url FROM seeds) AS s, LATERAL crawl_url(s.url) c`
	if _, ok := buildPushdownSQL(sourceSQL, "pages", "t", []string{"url"}, "t.crawled_at < 100"); ok {
		t.Errorf("expected buildPushdownSQL to bail out on a subquery table ref")
	}
}

func TestFindLateralCrawlIdx(t *testing.T) {
	if idx := findLateralCrawlIdx(`SELECT 1 FROM a, LATERAL crawl_url(a.url)`); idx < 0 {
		t.Errorf("expected to find LATERAL crawl_url")
	}
	if idx := findLateralCrawlIdx(`SELECT 1 FROM a, LATERAL crawl_stream(a.url)`); idx >= 0 {
		t.Errorf("crawl_stream must not match crawl/crawl_url, got idx %d", idx)
	}
}

func TestAliasOtherThan(t *testing.T) {
	if got := aliasOtherThan("src.url = t.url", "src"); got != "t" {
		t.Errorf("aliasOtherThan = %q, want %q", got, "t")
	}
	if got := aliasOtherThan("pages.url = src.url", "src"); got != "pages" {
		t.Errorf("aliasOtherThan = %q, want %q", got, "pages")
	}
}
