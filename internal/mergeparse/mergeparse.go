// Package mergeparse implements the CRAWLING MERGE parser shim of
// spec.md §4.H. The host's own MERGE parser is an explicit external
// collaborator (§1): this package recognizes only the leading
// `CRAWLING MERGE INTO` tokens and a trailing `LIMIT <n>` clause (not
// part of standard MERGE), delegates everything else to an injected
// HostMergeParser, and rewrites the resulting source query to inject
// `max_results` into bare `crawl(`/`crawl_url(` calls when a row limit is
// present. Per spec.md's design notes, this is deliberately a thin
// wrapper, not a MERGE re-implementation.
package mergeparse

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"raito/internal/crawlmodel"
	"raito/internal/urlutil"
)

// ErrNotCrawlingMerge is returned when sql's leading tokens are not
// CRAWLING MERGE INTO.
var ErrNotCrawlingMerge = errors.New("mergeparse: not a CRAWLING MERGE statement")

// HostMergeAction mirrors one WHEN clause as the host's MERGE parser
// would hand it back: action type, optional AND-condition, column
// correspondence mode, and (for NOT MATCHED BY SOURCE updates) explicit
// SET clauses.
type HostMergeAction struct {
	Type       crawlmodel.MergeActionType
	Condition  string
	ByName     bool
	SetClauses string
}

// HostMergeAST is the parse tree the host's MERGE parser produces for the
// statement with the leading CRAWLING keyword and trailing LIMIT already
// stripped.
type HostMergeAST struct {
	Target          string
	SourceSQL       string // "SELECT * FROM <ref>" if source was a table ref
	SourceAlias     string
	JoinCondition   string
	JoinColumns     []string
	Matched         []HostMergeAction
	NotMatched      []HostMergeAction
	NotMatchedBySrc []HostMergeAction
	BatchSize       int
}

// HostMergeParser represents the host SQL engine's own MERGE parser --
// an explicit external collaborator per spec.md §1. This package never
// re-implements MERGE; it only delegates to this interface.
type HostMergeParser interface {
	ParseMerge(sql string) (*HostMergeAST, error)
}

const crawlingPrefix = "crawling"
const mergeIntoPrefix = "merge into"

// Parse recognizes a CRAWLING MERGE INTO statement, extracts its trailing
// LIMIT clause, delegates the remainder (starting at "MERGE INTO ...") to
// hostParser, rewrites the resulting source SQL to inject max_results
// when a limit is present, and returns the assembled MergePlan.
func Parse(sql string, hostParser HostMergeParser) (*crawlmodel.MergePlan, error) {
	trimmed := strings.TrimSpace(sql)
	lower := strings.ToLower(trimmed)
	if !strings.HasPrefix(lower, crawlingPrefix) {
		return nil, ErrNotCrawlingMerge
	}

	rest := strings.TrimSpace(trimmed[len(crawlingPrefix):])
	restLower := strings.ToLower(rest)
	if !strings.HasPrefix(restLower, mergeIntoPrefix) {
		return nil, ErrNotCrawlingMerge
	}

	body, rowLimit, err := extractTrailingLimit(rest)
	if err != nil {
		return nil, fmt.Errorf("mergeparse: %w", err)
	}

	ast, err := hostParser.ParseMerge(body)
	if err != nil {
		return nil, fmt.Errorf("mergeparse: host parser: %w", err)
	}

	totalClauses := len(ast.Matched) + len(ast.NotMatched) + len(ast.NotMatchedBySrc)
	if totalClauses == 0 {
		return nil, fmt.Errorf("mergeparse: syntax error: at least one WHEN clause is required")
	}

	sourceSQL := ast.SourceSQL
	if rowLimit > 0 {
		sourceSQL = RewriteSourceLimit(sourceSQL, rowLimit)
	}

	plan := &crawlmodel.MergePlan{
		Target:          ast.Target,
		SourceQuery:     sourceSQL,
		SourceAlias:     ast.SourceAlias,
		JoinCondition:   ast.JoinCondition,
		JoinColumns:     ast.JoinColumns,
		Matched:         toModelActions(ast.Matched),
		NotMatched:      toModelActions(ast.NotMatched),
		NotMatchedBySrc: toModelActions(ast.NotMatchedBySrc),
		RowLimit:        rowLimit,
		BatchSize:       ast.BatchSize,
	}
	return plan, nil
}

func toModelActions(actions []HostMergeAction) []crawlmodel.MergeAction {
	if len(actions) == 0 {
		return nil
	}
	out := make([]crawlmodel.MergeAction, len(actions))
	for i, a := range actions {
		out[i] = crawlmodel.MergeAction{
			Type:       a.Type,
			Condition:  a.Condition,
			ByName:     a.ByName,
			SetClauses: a.SetClauses,
		}
	}
	return out
}

// extractTrailingLimit removes a trailing "LIMIT <n>" clause (case
// insensitive, whitespace tolerant) from sql, honoring string literals so
// a LIMIT appearing inside a quoted value is never mistaken for the
// statement's own clause. Returns the statement text with the clause
// removed and the parsed limit (0 if none present).
func extractTrailingLimit(sql string) (string, int64, error) {
	idx := lastTopLevelKeyword(sql, "limit")
	if idx < 0 {
		return sql, 0, nil
	}
	numPart := strings.TrimSpace(sql[idx+len("limit"):])
	if numPart == "" {
		return sql, 0, nil
	}
	// The number must run to the end of the statement (optionally
	// followed by a semicolon) for this to be our trailing LIMIT rather
	// than some other use of the word.
	numPart = strings.TrimSuffix(strings.TrimSpace(numPart), ";")
	for _, c := range numPart {
		if c < '0' || c > '9' {
			return sql, 0, nil
		}
	}
	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return sql, 0, nil
	}
	return strings.TrimSpace(sql[:idx]), n, nil
}

// lastTopLevelKeyword returns the index of the last case-insensitive,
// word-bounded occurrence of kw outside of any string literal or
// parenthesized group, or -1 if none.
func lastTopLevelKeyword(sql string, kw string) int {
	depth := 0
	inSingle := false
	lower := strings.ToLower(sql)
	last := -1
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
		}
		if depth == 0 && !inSingle && i+len(kw) <= len(lower) && lower[i:i+len(kw)] == kw {
			before := i == 0 || !isIdentByte(sql[i-1])
			afterIdx := i + len(kw)
			after := afterIdx >= len(sql) || !isIdentByte(sql[afterIdx])
			if before && after {
				last = i
			}
		}
	}
	return last
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// RewriteSourceLimit injects a max_results argument of value limit into
// every bare crawl(...) / crawl_url(...) call in sql that does not
// already carry one, honoring string literals and nesting and
// disambiguating crawl from crawl_url/crawl_stream by checking the
// identifier boundary immediately after the matched keyword (spec.md
// §4.H/§9). On any parse ambiguity for a given call (unbalanced
// parentheses), that call is left untouched rather than risk an
// incorrect rewrite.
func RewriteSourceLimit(sql string, limit int64) string {
	var b strings.Builder
	i := 0
	inSingle := false
	for i < len(sql) {
		c := sql[i]
		if inSingle {
			b.WriteByte(c)
			if c == '\'' {
				if i+1 < len(sql) && sql[i+1] == '\'' {
					b.WriteByte(sql[i+1])
					i += 2
					continue
				}
				inSingle = false
			}
			i++
			continue
		}
		if c == '\'' {
			inSingle = true
			b.WriteByte(c)
			i++
			continue
		}

		if matchKeyword(sql, i, "crawl_url") {
			j := i + len("crawl_url")
			if j < len(sql) && sql[j] == '(' {
				if argsEnd, args, ok := scanParenArgs(sql, j); ok {
					b.WriteString(sql[i : j+1])
					b.WriteString(injectCrawlURLArg(args, limit))
					b.WriteString(")")
					i = argsEnd + 1
					continue
				}
			}
		} else if matchKeyword(sql, i, "crawl") {
			j := i + len("crawl")
			if j < len(sql) && sql[j] == '(' {
				if argsEnd, args, ok := scanParenArgs(sql, j); ok {
					b.WriteString(sql[i : j+1])
					b.WriteString(injectCrawlArg(args, limit))
					b.WriteString(")")
					i = argsEnd + 1
					continue
				}
			}
		}

		b.WriteByte(c)
		i++
	}
	return b.String()
}

// matchKeyword reports whether sql[i:] begins with kw (case-insensitive)
// with an identifier boundary on both sides.
func matchKeyword(sql string, i int, kw string) bool {
	if i+len(kw) > len(sql) {
		return false
	}
	if !strings.EqualFold(sql[i:i+len(kw)], kw) {
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

// scanParenArgs scans the parenthesized group opening at sql[openIdx]
// (which must be '(') and returns the index of the matching close paren,
// the text between the parens, and ok=false if the parens are unbalanced
// by end of string.
func scanParenArgs(sql string, openIdx int) (int, string, bool) {
	depth := 0
	inSingle := false
	for i := openIdx; i < len(sql); i++ {
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
			depth--
			if depth == 0 {
				return i, sql[openIdx+1 : i], true
			}
		}
	}
	return 0, "", false
}

// splitTopLevelArgs splits args on commas that are not nested inside
// parentheses or string literals.
func splitTopLevelArgs(args string) []string {
	var parts []string
	depth := 0
	inSingle := false
	start := 0
	for i := 0; i < len(args); i++ {
		c := args[i]
		if inSingle {
			if c == '\'' {
				if i+1 < len(args) && args[i+1] == '\'' {
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
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(args[start:i]))
				start = i + 1
			}
		}
	}
	tail := strings.TrimSpace(args[start:])
	if tail != "" || len(parts) > 0 {
		parts = append(parts, tail)
	}
	return parts
}

func containsWord(s, word string) bool {
	lower := strings.ToLower(s)
	word = strings.ToLower(word)
	idx := 0
	for {
		rel := strings.Index(lower[idx:], word)
		if rel < 0 {
			return false
		}
		abs := idx + rel
		before := abs == 0 || !isIdentByte(lower[abs-1])
		after := abs+len(word) >= len(lower) || !isIdentByte(lower[abs+len(word)])
		if before && after {
			return true
		}
		idx = abs + 1
	}
}

// injectCrawlArg appends a named max_results argument to crawl(...)'s
// argument list, unless one is already present.
func injectCrawlArg(args string, limit int64) string {
	if containsWord(args, "max_results") {
		return args
	}
	clause := fmt.Sprintf("max_results := %d::BIGINT", limit)
	if strings.TrimSpace(args) == "" {
		return clause
	}
	return args + ", " + clause
}

// injectCrawlURLArg appends a positional max_results BIGINT argument to
// crawl_url(...)'s argument list (its second arity), unless a second
// positional argument is already present.
func injectCrawlURLArg(args string, limit int64) string {
	parts := splitTopLevelArgs(args)
	if len(parts) >= 2 {
		return args
	}
	clause := fmt.Sprintf("%d::BIGINT", limit)
	if strings.TrimSpace(args) == "" {
		return clause
	}
	return args + ", " + clause
}

// ParseLimitLiteral exposes urlutil.ParseIntOrZero under a name specific
// to this package's own LIMIT-literal parsing.
func ParseLimitLiteral(s string) int64 {
	return urlutil.ParseIntOrZero(s)
}
