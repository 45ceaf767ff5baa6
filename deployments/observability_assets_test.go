package deployments

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"
)

func TestGrafanaDashboardJSONIsValid(t *testing.T) {
	root := repoRoot(t)
	path := filepath.Join(root, "deployments", "observability", "grafana", "querypilot_overview_dashboard.json")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read dashboard file: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(content, &decoded); err != nil {
		t.Fatalf("dashboard JSON parse error: %v", err)
	}

	title, _ := decoded["title"].(string)
	if strings.TrimSpace(title) == "" {
		t.Fatal("dashboard title is required")
	}
	panels, ok := decoded["panels"].([]any)
	if !ok || len(panels) == 0 {
		t.Fatal("dashboard must include at least one panel")
	}
}

func TestPrometheusRulesContainExpectedAlerts(t *testing.T) {
	root := repoRoot(t)
	path := filepath.Join(root, "deployments", "observability", "prometheus", "querypilot_rules.yaml")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read rules file: %v", err)
	}
	text := string(content)

	requiredAlerts := []string{
		"QueryPilotHTTPErrorRateHigh",
		"QueryPilotHTTPLatencyP95High",
		"QueryPilotTranslationErrorRateHigh",
		"QueryPilotExecutionErrorRateHigh",
		"QueryPilotRollbackUnavailableRateHigh",
		"QueryPilotDegradedExecutionsDetected",
		"QueryPilotHistoryActionFailuresDetected",
	}
	for _, alertName := range requiredAlerts {
		if !strings.Contains(text, "alert: "+alertName) {
			t.Fatalf("rules missing alert %q", alertName)
		}
	}

	requiredMetrics := []string{
		"querypilot:slo_http_error_rate_5m",
		"querypilot:slo_http_latency_seconds_p95",
		"querypilot:slo_translation_error_rate_5m",
		"querypilot:slo_execution_error_rate_5m",
		"querypilot:slo_rollback_unavailable_rate_30m",
		"querypilot:slo_degraded_executions_15m",
		"querypilot:slo_history_action_failures_30m",
	}
	for _, metricName := range requiredMetrics {
		matched, err := regexp.MatchString(regexp.QuoteMeta(metricName), text)
		if err != nil {
			t.Fatalf("regexp error for metric %q: %v", metricName, err)
		}
		if !matched {
			t.Fatalf("rules missing metric reference %q", metricName)
		}
	}
}

func TestPrometheusScrapeExampleContainsMetricsPathAndRules(t *testing.T) {
	root := repoRoot(t)
	path := filepath.Join(root, "deployments", "observability", "prometheus", "prometheus-scrape.example.yaml")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read scrape example: %v", err)
	}
	text := string(content)

	if !strings.Contains(text, "metrics_path: /v1/metrics") {
		t.Fatal("scrape example missing metrics path")
	}
	if !strings.Contains(text, "querypilot_rules.yaml") {
		t.Fatal("scrape example missing rule file reference")
	}
	if !strings.Contains(text, "querypilot_recording_rules.yaml") {
		t.Fatal("scrape example missing recording rule file reference")
	}
	if !strings.Contains(text, "job_name: querypilot-api") {
		t.Fatal("scrape example missing querypilot-api job")
	}
}

func TestPrometheusRecordingRulesContainExpectedRecords(t *testing.T) {
	root := repoRoot(t)
	path := filepath.Join(root, "deployments", "observability", "prometheus", "querypilot_recording_rules.yaml")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read recording rules file: %v", err)
	}
	text := string(content)

	requiredRecords := []string{
		"querypilot:slo_http_error_rate_5m",
		"querypilot:slo_http_latency_seconds_p95",
		"querypilot:slo_translation_error_rate_5m",
		"querypilot:slo_execution_error_rate_5m",
		"querypilot:slo_rollback_unavailable_rate_30m",
		"querypilot:slo_degraded_executions_15m",
		"querypilot:slo_history_action_failures_30m",
	}
	for _, recordName := range requiredRecords {
		if !strings.Contains(text, "record: "+recordName) {
			t.Fatalf("recording rules missing record %q", recordName)
		}
	}
}

func TestAlertmanagerExampleContainsSeverityRouting(t *testing.T) {
	root := repoRoot(t)
	path := filepath.Join(root, "deployments", "observability", "alertmanager", "alertmanager.example.yaml")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read alertmanager example: %v", err)
	}
	text := string(content)

	requiredTokens := []string{
		"receiver: querypilot-default",
		"severity=\"critical\"",
		"severity=\"warning\"",
		"name: querypilot-critical",
		"name: querypilot-warning",
		"inhibit_rules:",
		"group_by: [alertname, service, severity]",
	}
	for _, token := range requiredTokens {
		if !strings.Contains(text, token) {
			t.Fatalf("alertmanager example missing token %q", token)
		}
	}
}

func repoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(filename), ".."))
}
