package extract

// findBalancedJSON scans s starting at startIdx (expected to be the index
// of the first '{' or '[' after an '=' sign) and returns the substring up
// to and including the matching closing brace at depth 0, honoring string
// and escape state so that braces inside string literals do not confuse
// the depth count. ok is false if no balanced substring is found.
func findBalancedJSON(s string, startIdx int) (result string, endIdx int, ok bool) {
	if startIdx >= len(s) {
		return "", startIdx, false
	}
	open := s[startIdx]
	var close byte
	switch open {
	case '{':
		close = '}'
	case '[':
		close = ']'
	default:
		return "", startIdx, false
	}

	depth := 0
	inString := false
	var quote byte
	escaped := false
	for i := startIdx; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == quote {
				inString = false
			}
			continue
		}
		switch c {
		case '"', '\'':
			inString = true
			quote = c
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[startIdx : i+1], i + 1, true
			}
		}
	}
	return "", startIdx, false
}

// findFirstBraceOrBracket skips leading whitespace starting at from and
// returns the index of the first '{' or '[' found there, or -1 if a
// non-whitespace byte appears first (meaning whatever follows the '=' is
// not a JSON object/array literal).
func findFirstBraceOrBracket(s string, from int) int {
	for i := from; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
			continue
		case '{', '[':
			return i
		default:
			return -1
		}
	}
	return -1
}
