// Package mergeexec implements the merge executor of spec.md §4.I: given a
// crawlmodel.MergePlan (produced by internal/mergeparse), it runs the
// source query, performs the streamed INSERT / UPDATE BY NAME / DELETE
// against the target table, and handles the WHEN NOT MATCHED BY SOURCE
// pass -- rewriting the source query with a condition-pushdown exclusion
// CTE first, when the shape of the MATCHED clause allows it, so that rows
// the merge would not act on are never fetched. It talks to "the host"
// exclusively through internal/hostabi.Conn, per spec.md §1's scoping of
// the SQL engine itself as an external collaborator.
package mergeexec

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"raito/internal/crawlmodel"
	"raito/internal/hostabi"
	"raito/internal/procctx"
	"raito/internal/urlutil"
)

// Result is the one-row output of a CRAWLING MERGE statement: rows_inserted,
// rows_updated, rows_deleted.
type Result struct {
	RowsInserted int64
	RowsUpdated  int64
	RowsDeleted  int64
}

// Execute runs plan's algorithm to completion against conn (spec.md §4.I
// steps 1-7): publish a pipeline limit if plan carries one, attempt
// condition pushdown, run the (possibly rewritten) source query, stream
// INSERT/UPDATE BY NAME/DELETE against the target, run the NOT MATCHED BY
// SOURCE pass, and clear the pipeline limit.
func Execute(ctx context.Context, conn hostabi.Conn, pc *procctx.Context, plan *crawlmodel.MergePlan) (Result, error) {
	pc = procctx.Resolve(pc)
	var res Result

	if plan.RowLimit > 0 && pc.Limits != nil {
		pc.Limits.Init(conn.Identity(), plan.RowLimit)
		defer pc.Limits.Clear(conn.Identity())
	}

	sourceSQL := plan.SourceQuery
	if rewritten, ok := tryPushdown(ctx, conn, plan); ok {
		slog.Default().Debug("mergeexec: condition pushdown applied", "target", plan.Target)
		sourceSQL = rewritten
	}

	rows, err := conn.Query(ctx, sourceSQL)
	if err != nil {
		return res, fmt.Errorf("mergeexec: source query: %w", err)
	}
	defer rows.Close()

	cols := rows.ColumnTypes()

	targetExists, err := conn.TableExists(ctx, plan.Target)
	if err != nil {
		return res, fmt.Errorf("mergeexec: table exists: %w", err)
	}
	if !targetExists {
		if err := conn.CreateTable(ctx, plan.Target, cols); err != nil {
			return res, fmt.Errorf("mergeexec: create table: %w", err)
		}
	}

	targetAlias := aliasOtherThan(plan.JoinCondition, plan.SourceAlias)
	if targetAlias == "" {
		targetAlias = "t"
	}

	seen := make(map[string]struct{})

	for {
		if plan.RowLimit > 0 && res.RowsInserted+res.RowsUpdated >= plan.RowLimit {
			break
		}

		row, ok, err := rows.Next(ctx)
		if err != nil {
			return res, fmt.Errorf("mergeexec: source row: %w", err)
		}
		if !ok {
			break
		}

		seen[joinKey(row, plan.JoinColumns)] = struct{}{}

		exists, err := existsInTarget(ctx, conn, plan, row)
		if err != nil {
			slog.Default().Warn("mergeexec: existence check failed, skipping row", "error", err)
			continue
		}

		if exists {
			action, ok := firstMatchingAction(ctx, conn, plan, row, targetAlias)
			if !ok {
				continue
			}
			switch action.Type {
			case crawlmodel.ActionUpdate:
				if err := updateByName(ctx, conn, plan, cols, row); err != nil {
					slog.Default().Warn("mergeexec: update failed", "error", err)
					continue
				}
				res.RowsUpdated++
			case crawlmodel.ActionDelete:
				if err := deleteByJoinKey(ctx, conn, plan, row); err != nil {
					slog.Default().Warn("mergeexec: delete failed", "error", err)
					continue
				}
				res.RowsDeleted++
			}
		} else if len(plan.NotMatched) > 0 {
			if err := insertByName(ctx, conn, plan, cols, row); err != nil {
				slog.Default().Warn("mergeexec: insert failed", "error", err)
				continue
			}
			res.RowsInserted++
		}
	}

	if len(plan.NotMatchedBySrc) > 0 {
		if err := runNotMatchedBySource(ctx, conn, plan, seen, &res); err != nil {
			return res, fmt.Errorf("mergeexec: not matched by source: %w", err)
		}
	}

	return res, nil
}

// firstMatchingAction re-checks each MATCHED action's optional AND-condition
// in turn (spec.md §4.I step 5) and returns the first one whose condition is
// empty or evaluates true against the target. Returns ok=false when the
// source row matches a target row by join key but no MATCHED clause
// applies -- the standard MERGE "no-op on unmatched condition" case.
func firstMatchingAction(ctx context.Context, conn hostabi.Conn, plan *crawlmodel.MergePlan, row hostabi.Row, targetAlias string) (crawlmodel.MergeAction, bool) {
	for _, action := range plan.Matched {
		if action.Condition == "" {
			return action, true
		}
		ok, err := conditionTrue(ctx, conn, plan, row, targetAlias, action.Condition)
		if err != nil {
			slog.Default().Warn("mergeexec: condition re-check failed, skipping clause", "error", err)
			continue
		}
		if ok {
			return action, true
		}
	}
	return crawlmodel.MergeAction{}, false
}

// tryPushdown attempts spec.md §4.I step 3's condition-pushdown rewrite.
// It applies only when the (first) MATCHED clause carries an AND-condition,
// join_columns is non-empty, and the target table already exists; on any
// parse ambiguity it returns ok=false so the caller falls back to the
// original source query rather than risk an incorrect one (spec.md §9).
func tryPushdown(ctx context.Context, conn hostabi.Conn, plan *crawlmodel.MergePlan) (string, bool) {
	if len(plan.Matched) == 0 || plan.Matched[0].Condition == "" {
		return "", false
	}
	if len(plan.JoinColumns) == 0 {
		return "", false
	}
	exists, err := conn.TableExists(ctx, plan.Target)
	if err != nil || !exists {
		return "", false
	}

	targetAlias := aliasOtherThan(plan.JoinCondition, plan.SourceAlias)
	if targetAlias == "" {
		targetAlias = "t"
	}

	return buildPushdownSQL(plan.SourceQuery, plan.Target, targetAlias, plan.JoinColumns, plan.Matched[0].Condition)
}

// buildPushdownSQL implements the rewrite spec.md §4.I(3) and §9 describe:
// a WITH __fresh AS (SELECT join_cols FROM target WHERE NOT (matched_cond))
// clause is prepended, and a "WHERE join_col NOT IN (SELECT ... FROM
// __fresh)" filter is inserted on the URL-producing table ref immediately
// before the comma preceding the LATERAL crawl_url(...)/crawl(...) call.
func buildPushdownSQL(sourceSQL, target, targetAlias string, joinCols []string, matchedCond string) (string, bool) {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(sourceSQL)), "with") {
		// A pre-existing WITH clause would need extension, not a second
		// prepended WITH; spec.md §9 calls pushdown ambiguity-averse, so
		// disable it here rather than risk a malformed double WITH.
		return "", false
	}

	latIdx := findLateralCrawlIdx(sourceSQL)
	if latIdx < 0 {
		return "", false
	}

	fromIdx, commas, ok := topLevelScan(sourceSQL)
	if !ok {
		return "", false
	}

	commaIdx := -1
	segStart := fromIdx + len("FROM")
	for _, c := range commas {
		if c >= latIdx {
			break
		}
		if commaIdx >= 0 {
			segStart = commaIdx + 1
		}
		commaIdx = c
	}
	if commaIdx < 0 {
		return "", false
	}

	segment := sourceSQL[segStart:commaIdx]
	if strings.ContainsAny(segment, "()") {
		// A parenthesized (sub)query table ref is out of scope for this
		// textual rewrite; disable pushdown rather than guess.
		return "", false
	}
	alias := lastToken(strings.TrimSpace(segment))
	if alias == "" {
		return "", false
	}

	var preds []string
	for _, col := range joinCols {
		preds = append(preds, fmt.Sprintf("%s.%s NOT IN (SELECT %s FROM __fresh)", alias, col, col))
	}
	pred := strings.Join(preds, " AND ")

	var rewrittenSeg string
	if idx := indexOfWord(strings.ToUpper(segment), "WHERE"); idx >= 0 {
		rewrittenSeg = segment + " AND " + pred
	} else {
		rewrittenSeg = segment + " WHERE " + pred
	}

	withClause := fmt.Sprintf(
		"WITH __fresh AS (SELECT %s FROM %s AS %s WHERE NOT (%s)) ",
		strings.Join(joinCols, ", "), urlutil.QuoteIdentifier(target), targetAlias, matchedCond,
	)

	var b strings.Builder
	b.WriteString(withClause)
	b.WriteString(sourceSQL[:segStart])
	b.WriteString(rewrittenSeg)
	b.WriteString(sourceSQL[commaIdx:])
	return b.String(), true
}

// runNotMatchedBySource implements spec.md §4.I step 6: query every target
// join-key (optionally filtered by the clause's own condition) and, for
// each one absent from the source-key set collected during streaming,
// perform the clause's DELETE or SET-driven UPDATE.
func runNotMatchedBySource(ctx context.Context, conn hostabi.Conn, plan *crawlmodel.MergePlan, seen map[string]struct{}, res *Result) error {
	action := plan.NotMatchedBySrc[0]

	sql := fmt.Sprintf("SELECT * FROM %s", urlutil.QuoteIdentifier(plan.Target))
	if action.Condition != "" {
		sql += " WHERE " + action.Condition
	}

	rows, err := conn.Query(ctx, sql)
	if err != nil {
		return err
	}
	defer rows.Close()

	for {
		row, ok, err := rows.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if _, present := seen[joinKey(row, plan.JoinColumns)]; present {
			continue
		}

		switch action.Type {
		case crawlmodel.ActionDelete:
			if err := deleteByJoinKey(ctx, conn, plan, row); err != nil {
				slog.Default().Warn("mergeexec: not-matched-by-source delete failed", "error", err)
				continue
			}
			res.RowsDeleted++
		case crawlmodel.ActionUpdate:
			if err := applySetClauses(ctx, conn, plan, row, action.SetClauses); err != nil {
				slog.Default().Warn("mergeexec: not-matched-by-source update failed", "error", err)
				continue
			}
			res.RowsUpdated++
		}
	}
	return nil
}

// --- row <-> SQL plumbing -------------------------------------------------

// equalityWhere builds "<alias.>col1 = $1 AND <alias.>col2 = $2 ..." over
// cols, reading values from row, returning the clause and the positional
// args in the same order.
func equalityWhere(cols []string, row hostabi.Row, alias string) (string, []interface{}) {
	var parts []string
	var args []interface{}
	for i, c := range cols {
		qualified := urlutil.QuoteIdentifier(c)
		if alias != "" {
			qualified = alias + "." + urlutil.QuoteIdentifier(c)
		}
		parts = append(parts, fmt.Sprintf("%s = $%d", qualified, i+1))
		args = append(args, row[c])
	}
	return strings.Join(parts, " AND "), args
}

func existsInTarget(ctx context.Context, conn hostabi.Conn, plan *crawlmodel.MergePlan, row hostabi.Row) (bool, error) {
	where, args := equalityWhere(plan.JoinColumns, row, "")
	sql := fmt.Sprintf("SELECT 1 FROM %s WHERE %s LIMIT 1", urlutil.QuoteIdentifier(plan.Target), where)
	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	_, ok, err := rows.Next(ctx)
	return ok, err
}

func conditionTrue(ctx context.Context, conn hostabi.Conn, plan *crawlmodel.MergePlan, row hostabi.Row, targetAlias, cond string) (bool, error) {
	where, args := equalityWhere(plan.JoinColumns, row, targetAlias)
	sql := fmt.Sprintf("SELECT 1 FROM %s AS %s WHERE %s AND (%s) LIMIT 1",
		urlutil.QuoteIdentifier(plan.Target), targetAlias, where, cond)
	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	_, ok, err := rows.Next(ctx)
	return ok, err
}

func updateByName(ctx context.Context, conn hostabi.Conn, plan *crawlmodel.MergePlan, cols []hostabi.ColumnType, row hostabi.Row) error {
	joinSet := toSet(plan.JoinColumns)
	var setParts []string
	var args []interface{}
	i := 1
	for _, c := range cols {
		if _, isJoin := joinSet[c.Name]; isJoin {
			continue
		}
		setParts = append(setParts, fmt.Sprintf("%s = $%d", urlutil.QuoteIdentifier(c.Name), i))
		args = append(args, row[c.Name])
		i++
	}
	if len(setParts) == 0 {
		return nil
	}
	var whereParts []string
	for _, jc := range plan.JoinColumns {
		whereParts = append(whereParts, fmt.Sprintf("%s = $%d", urlutil.QuoteIdentifier(jc), i))
		args = append(args, row[jc])
		i++
	}
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		urlutil.QuoteIdentifier(plan.Target), strings.Join(setParts, ", "), strings.Join(whereParts, " AND "))
	_, err := conn.Exec(ctx, sql, args...)
	return err
}

func insertByName(ctx context.Context, conn hostabi.Conn, plan *crawlmodel.MergePlan, cols []hostabi.ColumnType, row hostabi.Row) error {
	var colNames []string
	var placeholders []string
	var args []interface{}
	for i, c := range cols {
		colNames = append(colNames, urlutil.QuoteIdentifier(c.Name))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, row[c.Name])
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		urlutil.QuoteIdentifier(plan.Target), strings.Join(colNames, ", "), strings.Join(placeholders, ", "))
	_, err := conn.Exec(ctx, sql, args...)
	return err
}

func deleteByJoinKey(ctx context.Context, conn hostabi.Conn, plan *crawlmodel.MergePlan, row hostabi.Row) error {
	where, args := equalityWhere(plan.JoinColumns, row, "")
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s", urlutil.QuoteIdentifier(plan.Target), where)
	_, err := conn.Exec(ctx, sql, args...)
	return err
}

// applySetClauses parses a "col=expr;col=expr" set_clauses string (spec.md
// §4.I's NOT MATCHED BY SOURCE UPDATE) and applies it to the target row
// identified by its join key. expr is host SQL the grammar already
// validated when parsing the MERGE statement, so it is spliced verbatim
// rather than parameterized.
func applySetClauses(ctx context.Context, conn hostabi.Conn, plan *crawlmodel.MergePlan, row hostabi.Row, setClauses string) error {
	var setSQL []string
	for _, part := range strings.Split(setClauses, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			continue
		}
		col := strings.TrimSpace(part[:eq])
		expr := strings.TrimSpace(part[eq+1:])
		setSQL = append(setSQL, fmt.Sprintf("%s = %s", urlutil.QuoteIdentifier(col), expr))
	}
	if len(setSQL) == 0 {
		return nil
	}
	where, args := equalityWhere(plan.JoinColumns, row, "")
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		urlutil.QuoteIdentifier(plan.Target), strings.Join(setSQL, ", "), where)
	_, err := conn.Exec(ctx, sql, args...)
	return err
}

func joinKey(row hostabi.Row, cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("%v", row[c])
	}
	return strings.Join(parts, "\x1f")
}

func toSet(ss []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		out[s] = struct{}{}
	}
	return out
}

// --- textual SQL scanning (mirrors internal/mergeparse's style) ----------

// aliasOtherThan scans a join-condition expression for a qualified column
// reference ("alias.col") whose alias is not exclude, returning the first
// one found. Used to recover the target-side alias of a join_condition
// like "src.url = t.url" when exclude is the known source alias.
func aliasOtherThan(cond, exclude string) string {
	for _, tok := range strings.FieldsFunc(cond, func(r rune) bool {
		return r == '=' || r == ' ' || r == '(' || r == ')' || r == '\t' || r == '\n'
	}) {
		dot := strings.IndexByte(tok, '.')
		if dot <= 0 {
			continue
		}
		alias := tok[:dot]
		if alias != exclude {
			return alias
		}
	}
	return ""
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// matchWordAt reports whether upper[i:] begins with the already-uppercased
// kw with an identifier boundary on both sides.
func matchWordAt(sql, upper string, i int, kw string) bool {
	if i+len(kw) > len(upper) || upper[i:i+len(kw)] != kw {
		return false
	}
	if i > 0 && isIdentByte(sql[i-1]) {
		return false
	}
	after := i + len(kw)
	if after < len(sql) && isIdentByte(sql[after]) {
		return false
	}
	return true
}

// findLateralCrawlIdx finds the first case-insensitive, word-bounded
// "LATERAL" keyword immediately (modulo whitespace) followed by a
// "crawl(" or "crawl_url(" call, disambiguating from crawl_stream or other
// identifiers the way internal/mergeparse's RewriteSourceLimit does.
func findLateralCrawlIdx(sql string) int {
	upper := strings.ToUpper(sql)
	idx := 0
	for {
		rel := strings.Index(upper[idx:], "LATERAL")
		if rel < 0 {
			return -1
		}
		abs := idx + rel
		if matchWordAt(sql, upper, abs, "LATERAL") {
			j := abs + len("LATERAL")
			for j < len(sql) && (sql[j] == ' ' || sql[j] == '\t') {
				j++
			}
			if matchWordAt(sql, upper, j, "CRAWL_URL") || matchWordAt(sql, upper, j, "CRAWL") {
				return abs
			}
		}
		idx = abs + 1
	}
}

// topLevelScan returns the index of the first top-level (depth 0,
// outside any string literal) "FROM" keyword and every top-level comma
// position.
func topLevelScan(sql string) (int, []int, bool) {
	upper := strings.ToUpper(sql)
	depth := 0
	inSingle := false
	fromIdx := -1
	var commas []int
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		if inSingle {
			if c == '\'' {
				if i+1 < len(sql) && sql[i+1] == '\'' {
					i++
					continue
				}
				inSingle = false
			}
			continue
		}
		switch c {
		case '\'':
			inSingle = true
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				commas = append(commas, i)
			}
		}
		if depth == 0 && !inSingle && fromIdx < 0 && matchWordAt(sql, upper, i, "FROM") {
			fromIdx = i
		}
	}
	return fromIdx, commas, fromIdx >= 0
}

// indexOfWord returns the index of the first word-bounded occurrence of
// the already-uppercased kw in the already-uppercased s.
func indexOfWord(s, kw string) int {
	idx := 0
	for {
		rel := strings.Index(s[idx:], kw)
		if rel < 0 {
			return -1
		}
		abs := idx + rel
		before := abs == 0 || !isIdentByte(s[abs-1])
		afterIdx := abs + len(kw)
		after := afterIdx >= len(s) || !isIdentByte(s[afterIdx])
		if before && after {
			return abs
		}
		idx = abs + 1
	}
}

func lastToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}
