// Command sqlcrawl-demo drives the crawl engine's four SQL-surface entry
// points -- crawl(...), sitemap(...), crawl_url(...) under a LATERAL join,
// and CRAWLING MERGE -- against internal/hostabi/refhost, the same way a
// real SQL engine would drive them through internal/hostabi once it links
// the table functions in. There is no SQL front-end here: that's the
// engine's job, out of scope for this repository (spec.md §1).
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/google/uuid"

	"raito/internal/config"
	"raito/internal/crawlop"
	"raito/internal/hostabi"
	"raito/internal/hostabi/refhost"
	"raito/internal/lateralop"
	"raito/internal/mergeexec"
	"raito/internal/mergeparse"
	"raito/internal/pipelinelimit"
	"raito/internal/procctx"
	"raito/internal/robotsutil"
	"raito/internal/secretsutil"
	"raito/internal/sitemap"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional; falls back to built-in defaults)")
	seed := flag.String("seed", "https://example.com/", "seed URL for the crawl() and CRAWLING MERGE demos")
	sitemapURL := flag.String("sitemap", "", "sitemap URL to list via sitemap(...); skipped when empty")
	maxDepth := flag.Int("max-depth", 1, "crawl() follow depth")
	limit := flag.Int64("limit", 5, "row cap applied to each demo operator")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	var cfg *config.Config
	if *configPath != "" {
		cfg = config.Load(*configPath)
		if err := cfg.Validate(); err != nil {
			log.Fatalf("config: %v", err)
		}
	} else {
		cfg = &config.Config{Crawler: config.CrawlerConfig{
			UserAgent:     "sqlcrawl-demo/1.0",
			TimeoutMs:     10_000,
			RespectRobots: true,
		}}
	}

	runID := uuid.New().String()
	logger = logger.With("run_id", runID)

	pc := &procctx.Context{
		Limits:   pipelinelimit.NewRegistry(),
		Robots:   robotsutil.NewChecker(nil),
		Secrets:  secretsutil.NewStaticProvider(secretsutil.Secrets{}),
		Defaults: cfg.Defaults(),
	}

	host := refhost.NewHost()
	host.SeedTable("pages",
		[]hostabi.ColumnType{{Name: "url", Type: "TEXT"}, {Name: "extract", Type: "TEXT"}},
		nil,
	)

	ctx := context.Background()

	logger.Info("crawl() demo starting", "seed", *seed, "max_depth", *maxDepth)
	runCrawl(ctx, logger, pc, *seed, *maxDepth, *limit)

	if *sitemapURL != "" {
		logger.Info("sitemap() demo starting", "url", *sitemapURL)
		runSitemap(ctx, logger, pc, *sitemapURL, *limit)
	}

	logger.Info("CRAWLING MERGE demo starting", "seed", *seed)
	runMerge(ctx, logger, pc, host, *seed, *limit)
}

func runCrawl(ctx context.Context, logger *slog.Logger, pc *procctx.Context, seed string, maxDepth int, limit int64) {
	op := crawlop.New(pc, nil, nil, nil, []string{seed}, "", crawlop.Options{
		MaxDepth:      maxDepth,
		Follow:        "a",
		RespectRobots: true,
		MaxResults:    limit,
	})
	if err := op.Init(ctx); err != nil {
		logger.Error("crawl() init failed", "error", err)
		return
	}
	defer op.Close()

	for {
		row, cont, err := op.Next(ctx)
		if err != nil {
			logger.Error("crawl() row failed", "error", err)
			return
		}
		if row != nil {
			logger.Info("crawl() row", "url", row["url"], "status", row["status"])
		}
		if cont == hostabi.Done {
			return
		}
	}
}

func runSitemap(ctx context.Context, logger *slog.Logger, pc *procctx.Context, rootURL string, limit int64) {
	op := sitemap.New(pc, rootURL, sitemap.Options{MaxResults: limit})
	if err := op.Init(ctx); err != nil {
		logger.Error("sitemap() init failed", "error", err)
		return
	}
	defer op.Close()

	for {
		row, cont, err := op.Next(ctx)
		if err != nil {
			logger.Error("sitemap() row failed", "error", err)
			return
		}
		if row != nil {
			logger.Info("sitemap() row", "url", row["url"], "lastmod", row["lastmod"])
		}
		if cont == hostabi.Done {
			return
		}
	}
}

// runMerge builds a CRAWLING MERGE statement whose source is a per-row
// LATERAL crawl_url(...) join over a fixed driving-row list, parses it with
// the reference host's merge grammar, wires the parsed source query to a
// lateralop.Operator, and runs it through mergeexec.Execute end to end.
func runMerge(ctx context.Context, logger *slog.Logger, pc *procctx.Context, host *refhost.Host, seed string, limit int64) {
	sql := `CRAWLING MERGE INTO pages ` +
		`USING (SELECT driving.url AS url, c.extract AS extract FROM driving AS driving, LATERAL crawl_url(driving.url) c) src ` +
		`ON (pages.url = src.url) ` +
		`WHEN MATCHED THEN UPDATE BY NAME ` +
		`WHEN NOT MATCHED THEN INSERT BY NAME ` +
		`LIMIT ` + strconv.FormatInt(limit, 10)

	plan, err := mergeparse.Parse(sql, refhost.NewMergeParser())
	if err != nil {
		logger.Error("mergeparse failed", "error", err)
		return
	}

	lat := lateralop.New(pc, nil, host.Identity(), lateralop.Options{RespectRobots: true})
	if err := lat.Init(ctx); err != nil {
		logger.Error("crawl_url() init failed", "error", err)
		return
	}
	defer lat.Close()
	lat.Feed([]string{seed})

	host.RegisterQuery(plan.SourceQuery, func(ctx context.Context, args []interface{}) (hostabi.Rows, error) {
		return &lateralSourceRows{
			op:   lat,
			cols: []hostabi.ColumnType{{Name: "url", Type: "TEXT"}, {Name: "extract", Type: "TEXT"}},
		}, nil
	})

	res, err := mergeexec.Execute(ctx, host, pc, plan)
	if err != nil {
		logger.Error("mergeexec failed", "error", err)
		return
	}
	logger.Info("CRAWLING MERGE done",
		"rows_inserted", res.RowsInserted, "rows_updated", res.RowsUpdated, "rows_deleted", res.RowsDeleted)
}

// lateralSourceRows adapts one crawl_url(...) invocation's
// hostabi.TableFunction surface to the hostabi.Rows a host-side query
// result normally presents, the same shape mergeexec.Execute expects from
// conn.Query regardless of whether the host runs a real query planner or,
// as here, a single pre-fed correlated-join invocation.
type lateralSourceRows struct {
	op   *lateralop.Operator
	cols []hostabi.ColumnType
}

func (r *lateralSourceRows) Next(ctx context.Context) (hostabi.Row, bool, error) {
	row, _, err := r.op.Next(ctx)
	if err != nil {
		return nil, false, err
	}
	if row == nil {
		return nil, false, nil
	}
	return row, true, nil
}

func (r *lateralSourceRows) Close() error                      { return nil }
func (r *lateralSourceRows) ColumnTypes() []hostabi.ColumnType { return r.cols }
