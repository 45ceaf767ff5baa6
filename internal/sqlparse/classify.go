package sqlparse

import (
	"errors"
	"fmt"
	"strings"
)

// Classification describes the effect of a statement's root operation.
type Classification string

const (
	ClassRead          Classification = "read"
	ClassInsert        Classification = "insert"
	ClassUpdate        Classification = "update"
	ClassDelete        Classification = "delete"
	ClassOtherMutating Classification = "other_mutating"
	ClassRejected      Classification = "rejected"
)

// IsMutating reports whether statements of this class change database state.
func (c Classification) IsMutating() bool {
	switch c {
	case ClassInsert, ClassUpdate, ClassDelete, ClassOtherMutating:
		return true
	default:
		return false
	}
}

// Reversible reports whether a rollback statement is attempted for this class.
func (c Classification) Reversible() bool {
	switch c {
	case ClassInsert, ClassUpdate, ClassDelete:
		return true
	default:
		return false
	}
}

// Normalize cleans a candidate statement: comments stripped, stray wrapping
// quotes removed, trailing semicolon dropped. It rejects empty input and
// anything containing more than one statement.
func Normalize(sql string) (string, error) {
	cleaned := strings.TrimSpace(stripComments(sql))
	cleaned = strings.Trim(cleaned, "'\"")
	cleaned = strings.TrimSpace(cleaned)

	statements := make([]string, 0, 1)
	for _, part := range splitTopLevel(cleaned, ';') {
		if strings.TrimSpace(part) != "" {
			statements = append(statements, strings.TrimSpace(part))
		}
	}
	switch len(statements) {
	case 0:
		return "", fmt.Errorf("empty statement")
	case 1:
		return statements[0], nil
	default:
		return "", fmt.Errorf("expected a single statement, got %d", len(statements))
	}
}

// SplitStatements splits on top-level semicolons, trimming whitespace and
// dropping empty segments. Quoted literals and parenthesized subqueries are
// never split.
func SplitStatements(sql string) []string {
	var statements []string
	for _, part := range splitTopLevel(sql, ';') {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			statements = append(statements, trimmed)
		}
	}
	return statements
}

// Classify categorizes a SQL statement without executing it. It is a pure
// function of its input.
func Classify(sql string) Classification {
	stmt, err := Normalize(sql)
	if err != nil {
		return ClassRejected
	}

	switch firstWord(stmt) {
	case "select", "show", "describe", "desc", "explain", "table", "values":
		return ClassRead
	case "with":
		return classifyCTE(stmt)
	case "insert":
		_, err := ParseInsert(stmt)
		return classifyParsed(ClassInsert, err)
	case "update":
		_, err := ParseUpdate(stmt)
		return classifyParsed(ClassUpdate, err)
	case "delete":
		_, err := ParseDelete(stmt)
		return classifyParsed(ClassDelete, err)
	case "create", "alter", "drop", "truncate", "rename",
		"grant", "revoke", "call", "merge", "replace", "set", "use", "copy":
		return ClassOtherMutating
	default:
		return ClassRejected
	}
}

func classifyParsed(class Classification, err error) Classification {
	switch {
	case err == nil:
		return class
	case errors.Is(err, errMultiTable):
		return ClassOtherMutating
	default:
		return ClassRejected
	}
}

// classifyCTE finds the root operation behind WITH-prefixed statements: the
// earliest top-level keyword wins, so the SELECT feeding an INSERT cannot
// shadow it. CTEs feeding anything other than a SELECT are treated as
// multi-part writes.
func classifyCTE(stmt string) Classification {
	root := ""
	rootIdx := -1
	for _, keyword := range []string{"select", "insert", "update", "delete"} {
		if idx := indexKeyword(stmt, keyword); idx >= 0 && (rootIdx < 0 || idx < rootIdx) {
			root, rootIdx = keyword, idx
		}
	}
	switch root {
	case "select":
		return ClassRead
	case "":
		return ClassRejected
	default:
		return ClassOtherMutating
	}
}

// IsSchemaChanging reports whether the statement alters table structure, which
// invalidates any cached schema snapshot.
func IsSchemaChanging(sql string) bool {
	stmt, err := Normalize(sql)
	if err != nil {
		return false
	}
	switch firstWord(stmt) {
	case "create", "alter", "drop", "truncate", "rename":
		return true
	default:
		return false
	}
}
