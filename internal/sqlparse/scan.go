package sqlparse

import (
	"strings"
	"unicode"
)

// stripComments removes -- line comments and /* */ block comments while
// leaving quoted literals untouched.
func stripComments(sql string) string {
	var out strings.Builder
	out.Grow(len(sql))

	i := 0
	for i < len(sql) {
		ch := sql[i]
		switch {
		case ch == '\'' || ch == '"' || ch == '`':
			end := skipQuoted(sql, i)
			out.WriteString(sql[i:end])
			i = end
		case ch == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
		case ch == '/' && i+1 < len(sql) && sql[i+1] == '*':
			i += 2
			for i+1 < len(sql) && !(sql[i] == '*' && sql[i+1] == '/') {
				i++
			}
			if i+1 < len(sql) {
				i += 2
			} else {
				i = len(sql)
			}
			out.WriteByte(' ')
		default:
			out.WriteByte(ch)
			i++
		}
	}
	return out.String()
}

// skipQuoted returns the index just past the quoted run starting at start.
// Single quotes honor SQL doubling ('') as an escape.
func skipQuoted(sql string, start int) int {
	quote := sql[start]
	i := start + 1
	for i < len(sql) {
		if sql[i] == quote {
			if quote == '\'' && i+1 < len(sql) && sql[i+1] == '\'' {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return len(sql)
}

// splitTopLevel splits on sep occurrences that sit outside quotes and parens.
func splitTopLevel(sql string, sep byte) []string {
	var parts []string
	depth := 0
	last := 0
	i := 0
	for i < len(sql) {
		ch := sql[i]
		switch {
		case ch == '\'' || ch == '"' || ch == '`':
			i = skipQuoted(sql, i)
		case ch == '(':
			depth++
			i++
		case ch == ')':
			if depth > 0 {
				depth--
			}
			i++
		case ch == sep && depth == 0:
			parts = append(parts, sql[last:i])
			i++
			last = i
		default:
			i++
		}
	}
	parts = append(parts, sql[last:])
	return parts
}

// indexKeyword locates the first top-level, word-bounded occurrence of the
// keyword, case-insensitively. Returns -1 when absent.
func indexKeyword(sql, keyword string) int {
	depth := 0
	i := 0
	for i < len(sql) {
		ch := sql[i]
		switch {
		case ch == '\'' || ch == '"' || ch == '`':
			i = skipQuoted(sql, i)
		case ch == '(':
			depth++
			i++
		case ch == ')':
			if depth > 0 {
				depth--
			}
			i++
		default:
			if depth == 0 && hasKeywordAt(sql, i, keyword) {
				return i
			}
			i++
		}
	}
	return -1
}

func hasKeywordAt(sql string, pos int, keyword string) bool {
	if pos+len(keyword) > len(sql) {
		return false
	}
	if !strings.EqualFold(sql[pos:pos+len(keyword)], keyword) {
		return false
	}
	if pos > 0 && isWordByte(sql[pos-1]) {
		return false
	}
	end := pos + len(keyword)
	if end < len(sql) && isWordByte(sql[end]) {
		return false
	}
	return true
}

func isWordByte(b byte) bool {
	return b == '_' || unicode.IsLetter(rune(b)) || unicode.IsDigit(rune(b))
}

// firstWord returns the leading keyword of the statement, lowercased.
func firstWord(sql string) string {
	trimmed := strings.TrimSpace(sql)
	end := 0
	for end < len(trimmed) && isWordByte(trimmed[end]) {
		end++
	}
	return strings.ToLower(trimmed[:end])
}

// readIdentifier consumes one possibly-quoted identifier (including dotted
// qualifiers such as schema.table) and returns it with the rest of the input.
func readIdentifier(sql string) (string, string) {
	rest := strings.TrimSpace(sql)
	if rest == "" {
		return "", ""
	}

	var ident strings.Builder
	for {
		if rest == "" {
			break
		}
		ch := rest[0]
		if ch == '"' || ch == '`' {
			end := skipQuoted(rest, 0)
			ident.WriteString(rest[:end])
			rest = rest[end:]
		} else {
			end := 0
			for end < len(rest) && isWordByte(rest[end]) {
				end++
			}
			if end == 0 {
				break
			}
			ident.WriteString(rest[:end])
			rest = rest[end:]
		}
		if strings.HasPrefix(rest, ".") {
			ident.WriteByte('.')
			rest = rest[1:]
			continue
		}
		break
	}
	return ident.String(), rest
}

// unquoteIdentifier strips surrounding double quotes or backticks.
func unquoteIdentifier(ident string) string {
	if len(ident) >= 2 {
		if (ident[0] == '"' && ident[len(ident)-1] == '"') ||
			(ident[0] == '`' && ident[len(ident)-1] == '`') {
			return ident[1 : len(ident)-1]
		}
	}
	return ident
}
