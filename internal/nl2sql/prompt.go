package nl2sql

import (
	"fmt"
	"sort"
	"strings"

	"github.com/querypilot/querypilot/internal/schema"
)

const systemPrompt = "You convert natural language requests into a single SQL statement " +
	"for the database whose schema is given. " +
	"Use only listed tables and columns. " +
	"For DELETE and UPDATE always include a WHERE clause unless the user explicitly asks for all rows. " +
	"Return ONLY one SQL statement. No markdown, no explanation, no thinking tags."

// PromptConfig bounds the rendered schema context.
type PromptConfig struct {
	Dialect string
	// SchemaBudget is the maximum size in bytes of the rendered schema
	// section. Tables whose names or columns overlap the request text are
	// kept first when truncating. <= 0 means no limit.
	SchemaBudget int
}

// BuildPayload renders a request plus schema snapshot into a translation
// payload. Pure and deterministic.
func BuildPayload(requestText string, snapshot schema.Snapshot, cfg PromptConfig) Payload {
	tables := rankTables(requestText, snapshot.Tables)

	var rendered []string
	used := 0
	for i, table := range tables {
		block := renderTable(table)
		// The best-ranked table is always included so the model has at
		// least some grounding.
		if cfg.SchemaBudget > 0 && i > 0 && used+len(block) > cfg.SchemaBudget {
			continue
		}
		rendered = append(rendered, block)
		used += len(block)
	}

	dialect := cfg.Dialect
	if dialect == "" {
		dialect = "ANSI SQL"
	}

	user := fmt.Sprintf(
		"Dialect: %s\nDatabase: %s\n\nSchema:\n%s\nUser request:\n%s",
		dialect,
		snapshot.Database,
		strings.Join(rendered, ""),
		strings.TrimSpace(requestText),
	)
	return Payload{System: systemPrompt, User: user}
}

// rankTables orders tables by lexical overlap between request tokens and
// table/column names, preserving snapshot order among equals.
func rankTables(requestText string, tables []schema.Table) []schema.Table {
	tokens := tokenize(requestText)

	type scored struct {
		table schema.Table
		score int
		index int
	}
	items := make([]scored, 0, len(tables))
	for i, table := range tables {
		items = append(items, scored{table: table, score: overlapScore(tokens, table), index: i})
	}
	sort.SliceStable(items, func(a, b int) bool {
		if items[a].score != items[b].score {
			return items[a].score > items[b].score
		}
		return items[a].index < items[b].index
	})

	out := make([]schema.Table, 0, len(items))
	for _, item := range items {
		out = append(out, item.table)
	}
	return out
}

func overlapScore(tokens map[string]struct{}, table schema.Table) int {
	score := 0
	if nameMatches(tokens, table.Name) {
		score += 2
	}
	for _, col := range table.Columns {
		if nameMatches(tokens, col.Name) {
			score++
		}
	}
	return score
}

func nameMatches(tokens map[string]struct{}, name string) bool {
	lowered := strings.ToLower(name)
	if _, ok := tokens[lowered]; ok {
		return true
	}
	// Singular/plural slack: "student" should hit table "students".
	for token := range tokens {
		if len(token) >= 4 && (strings.HasPrefix(lowered, token) || strings.HasPrefix(token, lowered)) {
			return true
		}
	}
	return false
}

func tokenize(text string) map[string]struct{} {
	tokens := map[string]struct{}{}
	for _, field := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '_'
	}) {
		if len(field) > 1 {
			tokens[field] = struct{}{}
		}
	}
	return tokens
}

func renderTable(table schema.Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "TABLE %s\n", table.Name)
	for _, col := range table.Columns {
		fmt.Fprintf(&b, "  %s %s", col.Name, col.DataType)
		if col.PrimaryKey {
			b.WriteString(" PRIMARY KEY")
		}
		if !col.Nullable {
			b.WriteString(" NOT NULL")
		}
		b.WriteByte('\n')
	}
	for _, row := range table.SampleRows {
		fmt.Fprintf(&b, "  sample: %s\n", strings.Join(row, ", "))
	}
	b.WriteByte('\n')
	return b.String()
}
