package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func lookupFromMap(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("querypilot-api", lookupFromMap(nil))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("profile = %q", cfg.Profile)
	}
	if cfg.Target.Driver != "pgx" {
		t.Fatalf("driver = %q", cfg.Target.Driver)
	}
	if cfg.AI.Provider != "openai" {
		t.Fatalf("provider = %q", cfg.AI.Provider)
	}
	if cfg.History.Backend != "memory" {
		t.Fatalf("history backend = %q", cfg.History.Backend)
	}
	if cfg.Rollback.MaxAffectedRows != 1000 {
		t.Fatalf("rollback threshold = %d", cfg.Rollback.MaxAffectedRows)
	}
	if cfg.Auth.Required {
		t.Fatal("auth should be optional in dev")
	}
}

func TestLoadProdProfile(t *testing.T) {
	cfg, err := Load("querypilot-api", lookupFromMap(map[string]string{
		"QUERYPILOT_PROFILE": "prod",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("log level = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required {
		t.Fatal("auth should be required in prod")
	}
	if !cfg.Archive.UseSSL {
		t.Fatal("archive should default to SSL in prod")
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load("querypilot-api", lookupFromMap(map[string]string{
		"QUERYPILOT_TARGET_DRIVER":              "sqlite",
		"QUERYPILOT_TARGET_DSN":                 "file:app.db",
		"QUERYPILOT_AI_PROVIDER":                "ollama",
		"QUERYPILOT_AI_BASE_URL":                "http://localhost:11434",
		"QUERYPILOT_AI_TIMEOUT":                 "45s",
		"QUERYPILOT_PROMPT_SCHEMA_BUDGET":       "4096",
		"QUERYPILOT_ROLLBACK_MAX_AFFECTED_ROWS": "250",
		"QUERYPILOT_HISTORY_BACKEND":            "sqlite",
		"QUERYPILOT_HISTORY_PATH":               "/var/lib/querypilot/history.db",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Target.Driver != "sqlite" || cfg.Target.DSN != "file:app.db" {
		t.Fatalf("target = %+v", cfg.Target)
	}
	if cfg.AI.Provider != "ollama" || cfg.AI.Timeout != 45*time.Second {
		t.Fatalf("ai = %+v", cfg.AI)
	}
	if cfg.Prompt.SchemaBudget != 4096 {
		t.Fatalf("schema budget = %d", cfg.Prompt.SchemaBudget)
	}
	if cfg.Rollback.MaxAffectedRows != 250 {
		t.Fatalf("rollback threshold = %d", cfg.Rollback.MaxAffectedRows)
	}
	if cfg.History.Path != "/var/lib/querypilot/history.db" {
		t.Fatalf("history path = %q", cfg.History.Path)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []map[string]string{
		{"QUERYPILOT_PROFILE": "staging"},
		{"QUERYPILOT_TARGET_DRIVER": "mysql"},
		{"QUERYPILOT_AI_PROVIDER": "anthropic"},
		{"QUERYPILOT_HISTORY_BACKEND": "postgres"},
		{"QUERYPILOT_HISTORY_BACKEND": "sqlite"}, // missing path
		{"QUERYPILOT_HTTP_READ_TIMEOUT": "soon"},
		{"QUERYPILOT_LOG_LEVEL": "verbose"},
		{"QUERYPILOT_ROLLBACK_MAX_AFFECTED_ROWS": "many"},
	}
	for _, values := range cases {
		if _, err := Load("querypilot-api", lookupFromMap(values)); err == nil {
			t.Fatalf("Load(%v) expected error", values)
		}
	}
}

func TestFileLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "querypilot.yaml")
	content := strings.Join([]string{
		"profile: test",
		"target:",
		"  driver: duckdb",
		"  dsn: /tmp/analytics.duckdb",
		"ai:",
		"  provider: ollama",
		"  model: qwen3",
		"history:",
		"  backend: sqlite",
		"  path: /tmp/history.db",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	fileLookup, err := FileLookup(path)
	if err != nil {
		t.Fatalf("FileLookup() error = %v", err)
	}

	cfg, err := Load("querypilot-api", fileLookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileTest {
		t.Fatalf("profile = %q", cfg.Profile)
	}
	if cfg.Target.Driver != "duckdb" {
		t.Fatalf("driver = %q", cfg.Target.Driver)
	}
	if cfg.AI.Model != "qwen3" {
		t.Fatalf("model = %q", cfg.AI.Model)
	}
	if cfg.History.Path != "/tmp/history.db" {
		t.Fatalf("history path = %q", cfg.History.Path)
	}
}

func TestLayeredLookupPrecedence(t *testing.T) {
	first := lookupFromMap(map[string]string{"QUERYPILOT_AI_MODEL": "from-env"})
	second := lookupFromMap(map[string]string{
		"QUERYPILOT_AI_MODEL":    "from-file",
		"QUERYPILOT_AI_PROVIDER": "ollama",
	})

	cfg, err := Load("querypilot-api", Layered(first, second))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AI.Model != "from-env" {
		t.Fatalf("model = %q, want from-env", cfg.AI.Model)
	}
	if cfg.AI.Provider != "ollama" {
		t.Fatalf("provider = %q, want ollama", cfg.AI.Provider)
	}
}
