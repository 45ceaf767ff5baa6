package querypilotctl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRunSubmitCommand(t *testing.T) {
	var gotMethod, gotPath, gotAPIKey string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("X-API-Key")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set(sessionHeader, "s-123")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"session_id":"s-123","entry":{"sequence_id":1}}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"-base-url", srv.URL,
		"-api-key", "k1",
		"submit", "raise", "the", "age", "of", "student", "7",
	}, Options{
		Stdout:  &stdout,
		Stderr:  &stderr,
		Timeout: 2 * time.Second,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if gotMethod != http.MethodPost || gotPath != "/v1/query" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
	if gotAPIKey != "k1" {
		t.Fatalf("api key = %q", gotAPIKey)
	}
	var payload map[string]string
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload["request"] != "raise the age of student 7" {
		t.Fatalf("request text = %q", payload["request"])
	}
	if !strings.Contains(stderr.String(), "session: s-123") {
		t.Fatalf("expected minted session on stderr, got %q", stderr.String())
	}
	if stdout.Len() == 0 {
		t.Fatal("expected command output")
	}
}

func TestRunUndoCommand(t *testing.T) {
	var gotMethod, gotPath, gotSession string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotSession = r.Header.Get(sessionHeader)
		_, _ = w.Write([]byte(`{"session_id":"s-123","entry":{"sequence_id":2,"undo_of":1}}`))
	}))
	defer srv.Close()

	code := Run(context.Background(), []string{
		"-base-url", srv.URL,
		"-session", "s-123",
		"undo", "1",
	}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if gotMethod != http.MethodPost || gotPath != "/v1/history/1/undo" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
	if gotSession != "s-123" {
		t.Fatalf("session header = %q", gotSession)
	}
}

func TestRunUndoRequiresSequenceID(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"undo", "zero"}, Options{Stderr: &stderr})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
	if stderr.Len() == 0 {
		t.Fatal("expected error output")
	}
}

func TestRunHistoryRendersTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"session_id": "s-123",
			"entries": [
				{"sequence_id": 1, "request_text": "raise age", "sql": "UPDATE students SET age = 22", "classification": "update", "rollback_sql": "UPDATE students SET age = 21", "status": "executed"}
			]
		}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{
		"-base-url", srv.URL,
		"-session", "s-123",
		"history",
	}, Options{Stdout: &stdout})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	out := stdout.String()
	if !strings.Contains(out, "raise age") || !strings.Contains(out, "executed") {
		t.Fatalf("table output = %q", out)
	}
}

func TestRunExportSendsFormat(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"session_id":"s-123","entries":1}`))
	}))
	defer srv.Close()

	code := Run(context.Background(), []string{
		"-base-url", srv.URL,
		"-session", "s-123",
		"-format", "jsonl",
		"export",
	}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(string(gotBody), `"format":"jsonl"`) {
		t.Fatalf("body = %s", gotBody)
	}
}

func TestRunReturnsErrorOnHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error_code":"NOT_REVERSIBLE"}`))
	}))
	defer srv.Close()

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"-base-url", srv.URL,
		"-session", "s-123",
		"undo", "1",
	}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"unknown"}, Options{Stderr: &stderr})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
	if stderr.Len() == 0 {
		t.Fatal("expected usage output")
	}
}
