// Package refhost is an in-memory reference implementation of
// hostabi.Conn, used by this module's own unit/integration tests and by
// cmd/sqlcrawl-demo. It is explicitly NOT a general SQL engine -- spec.md
// scopes the host's parser/planner/catalog out as an external collaborator,
// and its design notes recommend a thin wrapper over re-implementing such
// a thing. refhost understands exactly the narrow SQL shapes
// internal/mergeexec and internal/cachestate generate (simple
// INSERT/UPDATE/DELETE and conjunctive-equality SELECTs), plus an escape
// hatch -- RegisterQuery -- for wiring a Go-native row producer (such as a
// crawlop/lateralop operator) in place of a textual source query a real
// host's planner would otherwise execute.
package refhost

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"raito/internal/hostabi"
)

// Table is one in-memory relation.
type Table struct {
	Name    string
	Columns []hostabi.ColumnType
	Rows    []hostabi.Row
}

// QueryFunc produces a row cursor for a registered query, standing in for
// whatever a real host's planner would execute for a complex source query
// (e.g. one containing a correlated LATERAL crawl_url(...) call).
type QueryFunc func(ctx context.Context, args []interface{}) (hostabi.Rows, error)

// Host is the in-memory reference host.
type Host struct {
	mu       sync.Mutex
	tables   map[string]*Table
	handlers map[string]QueryFunc
}

// NewHost constructs an empty reference host.
func NewHost() *Host {
	return &Host{
		tables:   make(map[string]*Table),
		handlers: make(map[string]QueryFunc),
	}
}

// Identity returns the Host pointer itself, used as the pipelinelimit
// registry key.
func (h *Host) Identity() interface{} { return h }

// RegisterQuery wires sql (matched verbatim, case-insensitively, after
// whitespace trimming) to fn. internal/mergeexec's own tests and
// cmd/sqlcrawl-demo use this to stand in a crawlop/lateralop-backed
// source in place of a textual query a real planner would execute.
func (h *Host) RegisterQuery(sql string, fn QueryFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[normalizeSQL(sql)] = fn
}

// SeedTable installs a table directly, bypassing CreateTable, for test
// setup convenience.
func (h *Host) SeedTable(name string, columns []hostabi.ColumnType, rows []hostabi.Row) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tables[name] = &Table{Name: name, Columns: columns, Rows: rows}
}

// Dump returns a copy of a table's current rows, for test assertions.
func (h *Host) Dump(name string) []hostabi.Row {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.tables[name]
	if t == nil {
		return nil
	}
	out := make([]hostabi.Row, len(t.Rows))
	copy(out, t.Rows)
	return out
}

func normalizeSQL(sql string) string {
	return strings.ToLower(strings.Join(strings.Fields(sql), " "))
}

// TableExists reports whether table has been created or seeded.
func (h *Host) TableExists(ctx context.Context, table string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.tables[table]
	return ok, nil
}

// CreateTable creates an empty table with the given columns.
func (h *Host) CreateTable(ctx context.Context, table string, columns []hostabi.ColumnType) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.tables[table]; ok {
		return nil
	}
	h.tables[table] = &Table{Name: table, Columns: columns}
	return nil
}

// Query executes sql, first checking for a registered handler (exact,
// normalized match) and otherwise falling back to the small built-in
// SELECT interpreter.
func (h *Host) Query(ctx context.Context, sql string, args ...interface{}) (hostabi.Rows, error) {
	h.mu.Lock()
	fn, ok := h.handlers[normalizeSQL(sql)]
	h.mu.Unlock()
	if ok {
		return fn(ctx, args)
	}
	return h.execSelect(sql, args)
}

// Exec executes an INSERT/UPDATE/DELETE statement, returning rows
// affected.
func (h *Host) Exec(ctx context.Context, sql string, args ...interface{}) (int64, error) {
	trimmed := strings.TrimSpace(sql)
	upper := strings.ToUpper(trimmed)
	switch {
	case strings.HasPrefix(upper, "INSERT INTO"):
		return h.execInsert(trimmed, args)
	case strings.HasPrefix(upper, "UPDATE"):
		return h.execUpdate(trimmed, args)
	case strings.HasPrefix(upper, "DELETE FROM"):
		return h.execDelete(trimmed, args)
	default:
		return 0, fmt.Errorf("refhost: unsupported exec statement: %s", sql)
	}
}

// memRows is a hostabi.Rows over an in-memory slice.
type memRows struct {
	cols []hostabi.ColumnType
	rows []hostabi.Row
	pos  int
}

func newMemRows(cols []hostabi.ColumnType, rows []hostabi.Row) *memRows {
	return &memRows{cols: cols, rows: rows}
}

func (r *memRows) Next(ctx context.Context) (hostabi.Row, bool, error) {
	if r.pos >= len(r.rows) {
		return nil, false, nil
	}
	row := r.rows[r.pos]
	r.pos++
	return row, true, nil
}

func (r *memRows) Close() error                        { return nil }
func (r *memRows) ColumnTypes() []hostabi.ColumnType { return r.cols }

func (h *Host) execSelect(sql string, args []interface{}) (hostabi.Rows, error) {
	parts, err := parseSelect(sql)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	table := h.tables[parts.table]
	h.mu.Unlock()
	if table == nil {
		return newMemRows(nil, nil), nil
	}

	var out []hostabi.Row
	for _, row := range table.Rows {
		if parts.where == "" || evalWhere(parts.where, row, args) {
			out = append(out, projectRow(row, parts.columns))
		}
	}
	if parts.limit > 0 && len(out) > parts.limit {
		out = out[:parts.limit]
	}
	return newMemRows(table.Columns, out), nil
}

func projectRow(row hostabi.Row, columns []string) hostabi.Row {
	if len(columns) == 1 && (columns[0] == "*" || columns[0] == "1") {
		if columns[0] == "1" {
			return hostabi.Row{"1": 1}
		}
		return row
	}
	out := make(hostabi.Row, len(columns))
	for _, c := range columns {
		out[c] = row[c]
	}
	return out
}

type selectParts struct {
	columns []string
	table   string
	where   string
	limit   int
}

// parseSelect understands exactly:
//   SELECT <cols> FROM <table> [WHERE <cond>] [LIMIT n]
// <cols> is "*", "1", or a comma-separated column list.
func parseSelect(sql string) (selectParts, error) {
	sql = strings.TrimSpace(sql)
	upper := strings.ToUpper(sql)
	if !strings.HasPrefix(upper, "SELECT") {
		return selectParts{}, fmt.Errorf("refhost: unsupported query: %s", sql)
	}

	fromIdx := indexKeyword(upper, "FROM")
	if fromIdx < 0 {
		return selectParts{}, fmt.Errorf("refhost: missing FROM: %s", sql)
	}
	colsRaw := strings.TrimSpace(sql[len("SELECT"):fromIdx])
	rest := strings.TrimSpace(sql[fromIdx+len("FROM"):])

	whereIdx := indexKeyword(strings.ToUpper(rest), "WHERE")
	limitIdx := indexKeyword(strings.ToUpper(rest), "LIMIT")

	table := rest
	where := ""
	limit := 0

	cut := len(rest)
	if whereIdx >= 0 && whereIdx < cut {
		cut = whereIdx
	}
	if limitIdx >= 0 && limitIdx < cut {
		cut = limitIdx
	}
	table = parseTableRef(strings.TrimSpace(rest[:cut]))

	if whereIdx >= 0 {
		end := len(rest)
		if limitIdx > whereIdx {
			end = limitIdx
		}
		where = strings.TrimSpace(rest[whereIdx+len("WHERE") : end])
	}
	if limitIdx >= 0 {
		limStr := strings.TrimSpace(rest[limitIdx+len("LIMIT"):])
		if n, err := strconv.Atoi(strings.Fields(limStr)[0]); err == nil {
			limit = n
		}
	}

	var columns []string
	for _, c := range strings.Split(colsRaw, ",") {
		columns = append(columns, strings.TrimSpace(c))
	}

	return selectParts{columns: columns, table: table, where: where, limit: limit}, nil
}

// parseTableRef accepts "<table>", `"<table>"`, "<table> <alias>", or
// "<table> AS <alias>" and returns the bare, unquoted table name -- the
// form the in-memory table map is keyed by. Aliases are accepted (so
// mergeexec's aliased FROM clauses parse) but otherwise ignored; this
// reference host resolves every column reference by its unqualified name
// regardless of alias (see unqualify).
func parseTableRef(ref string) string {
	fields := strings.Fields(ref)
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], `"`)
}

func indexKeyword(upper, kw string) int {
	// Match kw as a whole word (surrounded by spaces or string edges).
	idx := 0
	for {
		rel := strings.Index(upper[idx:], kw)
		if rel < 0 {
			return -1
		}
		abs := idx + rel
		before := abs == 0 || upper[abs-1] == ' '
		afterIdx := abs + len(kw)
		after := afterIdx >= len(upper) || upper[afterIdx] == ' '
		if before && after {
			return abs
		}
		idx = abs + 1
	}
}

// evalWhere evaluates a conjunction ("a AND b AND ...") of simple
// comparisons (col = $N, col = 'literal', col = 123) against row.
func evalWhere(where string, row hostabi.Row, args []interface{}) bool {
	clauses := splitAND(where)
	for _, clause := range clauses {
		if !evalClause(clause, row, args) {
			return false
		}
	}
	return true
}

func splitAND(s string) []string {
	parts := strings.Split(s, " AND ")
	if len(parts) == 1 {
		parts = strings.Split(s, " and ")
	}
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func evalClause(clause string, row hostabi.Row, args []interface{}) bool {
	for _, op := range []string{"!=", "<=", ">=", "=", "<", ">"} {
		idx := strings.Index(clause, op)
		if idx < 0 {
			continue
		}
		col := strings.TrimSpace(unqualify(clause[:idx]))
		rhsRaw := strings.TrimSpace(clause[idx+len(op):])
		rhs := resolveRHS(rhsRaw, args)
		lhs := row[col]
		return compare(lhs, op, rhs)
	}
	return false
}

func unqualify(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	return strings.Trim(s, `"`)
}

func resolveRHS(raw string, args []interface{}) interface{} {
	if strings.HasPrefix(raw, "$") {
		if n, err := strconv.Atoi(raw[1:]); err == nil && n >= 1 && n <= len(args) {
			return args[n-1]
		}
	}
	if strings.HasPrefix(raw, "'") && strings.HasSuffix(raw, "'") {
		return strings.ReplaceAll(raw[1:len(raw)-1], "''", "'")
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n
	}
	return raw
}

func compare(lhs interface{}, op string, rhs interface{}) bool {
	ls := fmt.Sprintf("%v", lhs)
	rs := fmt.Sprintf("%v", rhs)
	switch op {
	case "=":
		return ls == rs
	case "!=":
		return ls != rs
	default:
		lf, lok := toFloat(lhs)
		rf, rok := toFloat(rhs)
		if !lok || !rok {
			return false
		}
		switch op {
		case "<":
			return lf < rf
		case ">":
			return lf > rf
		case "<=":
			return lf <= rf
		case ">=":
			return lf >= rf
		}
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func (h *Host) execInsert(sql string, args []interface{}) (int64, error) {
	// INSERT INTO <table> (<col>,...) VALUES ($1,$2,...)
	upper := strings.ToUpper(sql)
	intoIdx := len("INSERT INTO")
	parenIdx := strings.IndexByte(sql, '(')
	if parenIdx < 0 {
		return 0, fmt.Errorf("refhost: malformed insert: %s", sql)
	}
	table := strings.TrimSpace(sql[intoIdx:parenIdx])
	table = strings.Trim(table, `"`)

	closeParen := strings.IndexByte(sql[parenIdx:], ')')
	if closeParen < 0 {
		return 0, fmt.Errorf("refhost: malformed insert columns: %s", sql)
	}
	colsRaw := sql[parenIdx+1 : parenIdx+closeParen]
	var cols []string
	for _, c := range strings.Split(colsRaw, ",") {
		cols = append(cols, strings.Trim(strings.TrimSpace(c), `"`))
	}

	valuesIdx := indexKeyword(upper, "VALUES")
	if valuesIdx < 0 {
		return 0, fmt.Errorf("refhost: malformed insert values: %s", sql)
	}

	row := make(hostabi.Row, len(cols))
	for i, c := range cols {
		if i < len(args) {
			row[c] = args[i]
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.tables[table]
	if t == nil {
		t = &Table{Name: table}
		h.tables[table] = t
	}
	t.Rows = append(t.Rows, row)
	return 1, nil
}

func (h *Host) execUpdate(sql string, args []interface{}) (int64, error) {
	// UPDATE <table> SET col=$N[,...] WHERE <cond>
	upper := strings.ToUpper(sql)
	setIdx := indexKeyword(upper, "SET")
	if setIdx < 0 {
		return 0, fmt.Errorf("refhost: malformed update: %s", sql)
	}
	table := strings.TrimSpace(sql[len("UPDATE"):setIdx])
	table = strings.Trim(table, `"`)

	whereIdx := indexKeyword(upper, "WHERE")
	setClause := sql[setIdx+len("SET"):]
	where := ""
	if whereIdx >= 0 {
		setClause = sql[setIdx+len("SET") : whereIdx]
		where = strings.TrimSpace(sql[whereIdx+len("WHERE"):])
	}

	assignments := strings.Split(setClause, ",")

	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.tables[table]
	if t == nil {
		return 0, nil
	}

	var affected int64
	for i, row := range t.Rows {
		if where != "" && !evalWhere(where, row, args) {
			continue
		}
		for _, a := range assignments {
			eq := strings.IndexByte(a, '=')
			if eq < 0 {
				continue
			}
			col := strings.Trim(strings.TrimSpace(a[:eq]), `"`)
			rhs := resolveRHS(strings.TrimSpace(a[eq+1:]), args)
			row[col] = rhs
		}
		t.Rows[i] = row
		affected++
	}
	return affected, nil
}

func (h *Host) execDelete(sql string, args []interface{}) (int64, error) {
	// DELETE FROM <table> WHERE <cond>
	upper := strings.ToUpper(sql)
	whereIdx := indexKeyword(upper, "WHERE")
	table := strings.TrimSpace(sql[len("DELETE FROM"):])
	where := ""
	if whereIdx >= 0 {
		table = strings.TrimSpace(sql[len("DELETE FROM"):whereIdx])
		where = strings.TrimSpace(sql[whereIdx+len("WHERE"):])
	}
	table = strings.Trim(table, `"`)

	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.tables[table]
	if t == nil {
		return 0, nil
	}

	kept := t.Rows[:0]
	var affected int64
	for _, row := range t.Rows {
		if where != "" && evalWhere(where, row, args) {
			affected++
			continue
		}
		kept = append(kept, row)
	}
	t.Rows = kept
	return affected, nil
}
