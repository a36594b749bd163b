// Package hostabi defines the narrow interfaces this module consumes from
// "the host SQL engine" -- its parser, planner, catalog, and
// table-function ABI are explicit external collaborators per spec.md §1,
// not something this module implements. hostabi.Conn and
// hostabi.TableFunction are the compile-time seam: a production
// deployment wires a real engine's adapter to Conn, while this module's
// own tests and demo command run against the in-memory hostabi/refhost
// implementation.
package hostabi

import "context"

// Row is one result row as column name -> value.
type Row map[string]interface{}

// Rows is a forward-only cursor over a query's result.
type Rows interface {
	Next(ctx context.Context) (Row, bool, error)
	Close() error
	// ColumnTypes returns the inferred column name/type pairs of the
	// underlying result, used by the merge executor to create the target
	// table when it does not yet exist.
	ColumnTypes() []ColumnType
}

// ColumnType names one result column and its host-native type name.
type ColumnType struct {
	Name string
	Type string // host-native type name, e.g. "TEXT", "BIGINT", "TIMESTAMP"
}

// Conn is everything internal/mergeexec and internal/cachestate need from
// "the host": query execution, column introspection, and table
// existence/creation.
type Conn interface {
	// Query executes a read query and returns a row cursor.
	Query(ctx context.Context, sql string, args ...interface{}) (Rows, error)
	// Exec executes a statement with no row-returning result, returning
	// the number of rows affected.
	Exec(ctx context.Context, sql string, args ...interface{}) (int64, error)
	// TableExists reports whether a table of the given name already
	// exists in the host's catalog.
	TableExists(ctx context.Context, table string) (bool, error)
	// CreateTable creates a table with the given columns, inferred from a
	// query result via Rows.ColumnTypes.
	CreateTable(ctx context.Context, table string, columns []ColumnType) error
	// Identity returns an opaque, comparable value identifying this
	// connection's owning host-DB, used as the pipelinelimit.Registry key.
	Identity() interface{}
}

// Continuation tells the caller of TableFunction.Next whether more output
// remains for the current invocation.
type Continuation int

const (
	// Done means no more rows will ever be produced; the operator is
	// finished and should be closed.
	Done Continuation = iota
	// HaveMoreOutput means more rows remain in the current chunk/queue;
	// the host may call Next again immediately.
	HaveMoreOutput
	// NeedMoreInput means the current input chunk is drained; the host
	// should supply the next chunk (for per-row/LATERAL operators) before
	// calling Next again.
	NeedMoreInput
)

// TableFunction is the pull-based operator contract shared by the
// streaming crawl operator, the per-row (LATERAL) operator, and the
// sitemap operator. Implementations yield at most one row per call to
// Next so that an outer LIMIT can terminate the operator between HTTP
// requests.
type TableFunction interface {
	// Init is called once before the first Next.
	Init(ctx context.Context) error
	// Next returns at most one row, plus a Continuation describing
	// whether the host should call Next again (and, for chunked
	// operators, whether it must feed more input first).
	Next(ctx context.Context) (Row, Continuation, error)
	// Close releases any resources (child connections, HTTP handles).
	Close() error
	// EstimatedCardinality publishes a cardinality estimate for the
	// optimizer's LIMIT pushdown; operators without a better estimate
	// return the large sentinel used throughout spec.md §4.E.
	EstimatedCardinality() int64
}

// UnknownCardinality is the sentinel spec.md §4.E calls out: published so
// that the optimizer's LIMIT pushdown is observable, without the operator
// claiming a real upper bound it cannot back up.
const UnknownCardinality = 1_000_000
