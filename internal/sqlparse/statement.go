package sqlparse

import (
	"errors"
	"fmt"
	"strings"
)

// errMultiTable marks statements that are valid SQL but touch more than one
// table, which classifies them as other-mutating rather than rejected.
var errMultiTable = errors.New("statement references multiple tables")

// InsertStatement is a simple single-table INSERT.
type InsertStatement struct {
	Table   string
	Columns []string
	// FromSelect is true for INSERT INTO ... SELECT sources.
	FromSelect bool
}

// Assignment is one column = expression pair from an UPDATE SET clause.
type Assignment struct {
	Column string
	Expr   string
}

// UpdateStatement is a simple single-table UPDATE.
type UpdateStatement struct {
	Table       string
	Assignments []Assignment
	// Where holds everything after the top-level WHERE keyword, or "" when
	// the statement has no WHERE clause.
	Where string
}

// DeleteStatement is a simple single-table DELETE.
type DeleteStatement struct {
	Table string
	Where string
}

// ParseInsert parses a normalized INSERT statement. It fails on anything that
// is not a plain single-table insert.
func ParseInsert(stmt string) (InsertStatement, error) {
	rest := strings.TrimSpace(stmt)
	rest, ok := consumeKeyword(rest, "insert")
	if !ok {
		return InsertStatement{}, fmt.Errorf("not an insert statement")
	}
	rest, ok = consumeKeyword(rest, "into")
	if !ok {
		return InsertStatement{}, fmt.Errorf("insert without INTO")
	}

	table, rest := readIdentifier(rest)
	if table == "" {
		return InsertStatement{}, fmt.Errorf("insert without target table")
	}

	out := InsertStatement{Table: unquoteIdentifier(table)}
	rest = strings.TrimSpace(rest)

	if strings.HasPrefix(rest, "(") {
		closing := matchParen(rest)
		if closing < 0 {
			return InsertStatement{}, fmt.Errorf("unbalanced column list")
		}
		for _, col := range splitTopLevel(rest[1:closing], ',') {
			out.Columns = append(out.Columns, unquoteIdentifier(strings.TrimSpace(col)))
		}
		rest = strings.TrimSpace(rest[closing+1:])
	}

	switch firstWord(rest) {
	case "values", "value":
	case "select", "with":
		out.FromSelect = true
	case "default":
		// INSERT INTO t DEFAULT VALUES
	default:
		return InsertStatement{}, fmt.Errorf("unsupported insert source %q", firstWord(rest))
	}

	// Upserts may mutate rows that existed before the statement ran, so a
	// delete keyed on returned ids would not be a faithful inverse.
	if indexKeyword(rest, "conflict") >= 0 || indexKeyword(rest, "duplicate") >= 0 {
		return InsertStatement{}, fmt.Errorf("insert into %q is an upsert: %w", out.Table, errMultiTable)
	}
	return out, nil
}

// ParseUpdate parses a normalized UPDATE statement. Multi-table forms (comma
// lists, JOIN, UPDATE ... FROM) and aliased targets are rejected so that only
// plainly reversible updates pass.
func ParseUpdate(stmt string) (UpdateStatement, error) {
	rest := strings.TrimSpace(stmt)
	rest, ok := consumeKeyword(rest, "update")
	if !ok {
		return UpdateStatement{}, fmt.Errorf("not an update statement")
	}

	table, rest := readIdentifier(rest)
	if table == "" {
		return UpdateStatement{}, fmt.Errorf("update without target table")
	}
	if strings.TrimSpace(rest) == "" {
		return UpdateStatement{}, fmt.Errorf("update without SET clause")
	}

	rest, ok = consumeKeyword(rest, "set")
	if !ok {
		return UpdateStatement{}, fmt.Errorf("update target %q: %w", table, errMultiTable)
	}
	if indexKeyword(rest, "from") >= 0 || indexKeyword(rest, "join") >= 0 {
		return UpdateStatement{}, fmt.Errorf("update %q: %w", table, errMultiTable)
	}

	out := UpdateStatement{Table: unquoteIdentifier(table)}

	setClause := rest
	if idx := indexKeyword(rest, "where"); idx >= 0 {
		setClause = rest[:idx]
		out.Where = strings.TrimSpace(rest[idx+len("where"):])
		if out.Where == "" {
			return UpdateStatement{}, fmt.Errorf("empty WHERE clause")
		}
	}

	for _, part := range splitTopLevel(setClause, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		eq := topLevelIndexByte(part, '=')
		if eq < 0 {
			return UpdateStatement{}, fmt.Errorf("malformed assignment %q", part)
		}
		column := unquoteIdentifier(strings.TrimSpace(part[:eq]))
		expr := strings.TrimSpace(part[eq+1:])
		if column == "" || expr == "" {
			return UpdateStatement{}, fmt.Errorf("malformed assignment %q", part)
		}
		out.Assignments = append(out.Assignments, Assignment{Column: column, Expr: expr})
	}
	if len(out.Assignments) == 0 {
		return UpdateStatement{}, fmt.Errorf("update without SET assignments")
	}
	return out, nil
}

// ParseDelete parses a normalized DELETE statement, rejecting USING and
// multi-table forms.
func ParseDelete(stmt string) (DeleteStatement, error) {
	rest := strings.TrimSpace(stmt)
	rest, ok := consumeKeyword(rest, "delete")
	if !ok {
		return DeleteStatement{}, fmt.Errorf("not a delete statement")
	}
	rest, ok = consumeKeyword(rest, "from")
	if !ok {
		return DeleteStatement{}, fmt.Errorf("delete without FROM")
	}

	table, rest := readIdentifier(rest)
	if table == "" {
		return DeleteStatement{}, fmt.Errorf("delete without target table")
	}
	if indexKeyword(rest, "using") >= 0 || indexKeyword(rest, "join") >= 0 {
		return DeleteStatement{}, fmt.Errorf("delete from %q: %w", table, errMultiTable)
	}

	out := DeleteStatement{Table: unquoteIdentifier(table)}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return out, nil
	}

	idx := indexKeyword(rest, "where")
	if idx != 0 {
		return DeleteStatement{}, fmt.Errorf("unexpected clause %q", firstWord(rest))
	}
	out.Where = strings.TrimSpace(rest[len("where"):])
	if out.Where == "" {
		return DeleteStatement{}, fmt.Errorf("empty WHERE clause")
	}
	return out, nil
}

func consumeKeyword(sql, keyword string) (string, bool) {
	trimmed := strings.TrimSpace(sql)
	if !hasKeywordAt(trimmed, 0, keyword) {
		return sql, false
	}
	return strings.TrimSpace(trimmed[len(keyword):]), true
}

// matchParen returns the index of the parenthesis closing the one at
// position 0, or -1.
func matchParen(sql string) int {
	depth := 0
	i := 0
	for i < len(sql) {
		switch sql[i] {
		case '\'', '"', '`':
			i = skipQuoted(sql, i)
			continue
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
		i++
	}
	return -1
}

func topLevelIndexByte(sql string, target byte) int {
	depth := 0
	i := 0
	for i < len(sql) {
		ch := sql[i]
		switch {
		case ch == '\'' || ch == '"' || ch == '`':
			i = skipQuoted(sql, i)
			continue
		case ch == '(':
			depth++
		case ch == ')':
			if depth > 0 {
				depth--
			}
		case ch == target && depth == 0:
			return i
		}
		i++
	}
	return -1
}
