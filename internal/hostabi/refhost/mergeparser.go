package refhost

import (
	"fmt"
	"strings"

	"raito/internal/crawlmodel"
	"raito/internal/mergeparse"
)

// MergeParser is a minimal reference implementation of
// mergeparse.HostMergeParser. It parses exactly the textual subset of
// MERGE this module's own test scenarios exercise:
//
//	MERGE INTO <target> USING (<source>) <alias> ON (<join_condition>)
//	WHEN MATCHED [AND <cond>] THEN UPDATE BY NAME | DELETE
//	WHEN NOT MATCHED [BY TARGET] THEN INSERT BY NAME
//	WHEN NOT MATCHED BY SOURCE [AND <cond>] THEN DELETE | UPDATE SET <col=expr,...>
//
// It is a stand-in for a real host's MERGE parser, not a general SQL
// parser -- production deployments wire mergeparse.Parse to the host's
// own parser entry point instead of this type.
type MergeParser struct{}

// NewMergeParser constructs the reference MergeParser.
func NewMergeParser() *MergeParser { return &MergeParser{} }

// ParseMerge implements mergeparse.HostMergeParser.
func (p *MergeParser) ParseMerge(sql string) (*mergeparse.HostMergeAST, error) {
	lower := strings.ToLower(sql)
	if !strings.HasPrefix(strings.TrimSpace(lower), "merge into") {
		return nil, fmt.Errorf("refhost: expected MERGE INTO")
	}
	rest := strings.TrimSpace(sql[strings.Index(lower, "into")+len("into"):])

	usingIdx := indexKeyword(strings.ToUpper(rest), "USING")
	if usingIdx < 0 {
		return nil, fmt.Errorf("refhost: expected USING")
	}
	target := strings.TrimSpace(rest[:usingIdx])
	rest = strings.TrimSpace(rest[usingIdx+len("USING"):])

	if !strings.HasPrefix(rest, "(") {
		return nil, fmt.Errorf("refhost: expected ( after USING")
	}
	closeIdx, sourceSQL, ok := scanParens(rest, 0)
	if !ok {
		return nil, fmt.Errorf("refhost: unbalanced parens after USING")
	}
	rest = strings.TrimSpace(rest[closeIdx+1:])

	onIdx := indexKeyword(strings.ToUpper(rest), "ON")
	if onIdx < 0 {
		return nil, fmt.Errorf("refhost: expected ON")
	}
	alias := strings.TrimSpace(rest[:onIdx])
	rest = strings.TrimSpace(rest[onIdx+len("ON"):])

	if !strings.HasPrefix(rest, "(") {
		return nil, fmt.Errorf("refhost: expected ( after ON")
	}
	closeIdx, joinCond, ok := scanParens(rest, 0)
	if !ok {
		return nil, fmt.Errorf("refhost: unbalanced parens after ON")
	}
	rest = strings.TrimSpace(rest[closeIdx+1:])

	ast := &mergeparse.HostMergeAST{
		Target:        target,
		SourceSQL:     strings.TrimSpace(sourceSQL),
		SourceAlias:   alias,
		JoinCondition: strings.TrimSpace(joinCond),
		JoinColumns:   extractJoinColumns(joinCond),
	}

	clauses := splitWhenClauses(rest)
	for _, clause := range clauses {
		if err := applyClause(ast, clause); err != nil {
			return nil, err
		}
	}
	return ast, nil
}

func splitWhenClauses(s string) []string {
	upper := strings.ToUpper(s)
	var starts []int
	idx := 0
	for {
		rel := indexKeyword(upper[idx:], "WHEN")
		if rel < 0 {
			break
		}
		starts = append(starts, idx+rel)
		idx += rel + len("WHEN")
	}
	var out []string
	for i, start := range starts {
		end := len(s)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		out = append(out, strings.TrimSpace(s[start:end]))
	}
	return out
}

func applyClause(ast *mergeparse.HostMergeAST, clause string) error {
	upper := strings.ToUpper(clause)
	if !strings.HasPrefix(upper, "WHEN") {
		return fmt.Errorf("refhost: expected WHEN clause, got %q", clause)
	}
	body := strings.TrimSpace(clause[len("WHEN"):])
	bodyUpper := strings.ToUpper(body)

	var bucket *[]mergeparse.HostMergeAction
	switch {
	case strings.HasPrefix(bodyUpper, "NOT MATCHED BY SOURCE"):
		bucket = &ast.NotMatchedBySrc
		body = strings.TrimSpace(body[len("NOT MATCHED BY SOURCE"):])
	case strings.HasPrefix(bodyUpper, "NOT MATCHED BY TARGET"):
		bucket = &ast.NotMatched
		body = strings.TrimSpace(body[len("NOT MATCHED BY TARGET"):])
	case strings.HasPrefix(bodyUpper, "NOT MATCHED"):
		bucket = &ast.NotMatched
		body = strings.TrimSpace(body[len("NOT MATCHED"):])
	case strings.HasPrefix(bodyUpper, "MATCHED"):
		bucket = &ast.Matched
		body = strings.TrimSpace(body[len("MATCHED"):])
	default:
		return fmt.Errorf("refhost: unrecognized WHEN clause: %q", clause)
	}

	condition := ""
	bodyUpper = strings.ToUpper(body)
	if strings.HasPrefix(bodyUpper, "AND") {
		thenIdx := indexKeyword(bodyUpper, "THEN")
		if thenIdx < 0 {
			return fmt.Errorf("refhost: expected THEN in clause: %q", clause)
		}
		condition = strings.TrimSpace(body[len("AND"):thenIdx])
		body = strings.TrimSpace(body[thenIdx:])
	}

	thenIdx := indexKeyword(strings.ToUpper(body), "THEN")
	if thenIdx < 0 {
		return fmt.Errorf("refhost: expected THEN in clause: %q", clause)
	}
	action := strings.TrimSpace(body[thenIdx+len("THEN"):])
	actionUpper := strings.ToUpper(action)

	var mergeAction mergeparse.HostMergeAction
	mergeAction.Condition = condition

	switch {
	case strings.HasPrefix(actionUpper, "UPDATE BY NAME"):
		mergeAction.Type = crawlmodel.ActionUpdate
		mergeAction.ByName = true
	case strings.HasPrefix(actionUpper, "UPDATE SET"):
		mergeAction.Type = crawlmodel.ActionUpdate
		// Top-level commas separate assignments; SetClauses joins them with ";".
		set := []byte(strings.TrimSpace(action[len("UPDATE SET"):]))
		depth, inSingle := 0, false
		for i, c := range set {
			switch {
			case c == '\'':
				inSingle = !inSingle
			case inSingle:
			case c == '(':
				depth++
			case c == ')':
				depth--
			case c == ',' && depth == 0:
				set[i] = ';'
			}
		}
		mergeAction.SetClauses = string(set)
	case strings.HasPrefix(actionUpper, "INSERT BY NAME"):
		mergeAction.Type = crawlmodel.ActionInsert
		mergeAction.ByName = true
	case strings.HasPrefix(actionUpper, "DELETE"):
		mergeAction.Type = crawlmodel.ActionDelete
	default:
		return fmt.Errorf("refhost: unrecognized action: %q", action)
	}

	*bucket = append(*bucket, mergeAction)
	return nil
}

// extractJoinColumns finds simple equalities ("a.col = b.col") in cond and
// collects the unique trailing column names.
func extractJoinColumns(cond string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, part := range strings.Split(cond, "AND") {
		eqIdx := strings.Index(part, "=")
		if eqIdx < 0 {
			continue
		}
		for _, side := range []string{part[:eqIdx], part[eqIdx+1:]} {
			side = strings.TrimSpace(side)
			col := side
			if dot := strings.LastIndexByte(side, '.'); dot >= 0 {
				col = side[dot+1:]
			}
			col = strings.TrimSpace(col)
			if col == "" {
				continue
			}
			if _, ok := seen[col]; !ok {
				seen[col] = struct{}{}
				out = append(out, col)
			}
		}
	}
	return out
}

// scanParens scans the parenthesized group beginning at s[from] (which
// must be '(') honoring single-quoted string literals and nested
// parentheses, returning the index of the matching close paren and the
// text strictly between the parens.
func scanParens(s string, from int) (int, string, bool) {
	depth := 0
	inSingle := false
	for i := from; i < len(s); i++ {
		c := s[i]
		if inSingle {
			if c == '\'' {
				if i+1 < len(s) && s[i+1] == '\'' {
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
				return i, s[from+1 : i], true
			}
		}
	}
	return 0, "", false
}
