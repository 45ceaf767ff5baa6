package nl2sql

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/querypilot/querypilot/internal/sqlparse"
)

// Reasoning models leak their scratchpad in tag pairs; strip every known
// variant before looking for SQL.
var thinkTagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thoughts>.*?</thoughts>`),
	regexp.MustCompile(`(?is)\[THINKING\].*?\[/THINKING\]`),
}

// ExtractSQL parses a raw model response into exactly one SQL statement.
// Anything else (empty output, prose, multiple statements) is ErrRejected.
func ExtractSQL(content string) (string, error) {
	cleaned := content
	for _, pattern := range thinkTagPatterns {
		cleaned = pattern.ReplaceAllString(cleaned, "")
	}
	cleaned = stripMarkdownSQL(cleaned)

	if strings.TrimSpace(cleaned) == "" {
		return "", fmt.Errorf("%w: empty response", ErrRejected)
	}

	stmt, err := sqlparse.Normalize(cleaned)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return stmt, nil
}

func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
