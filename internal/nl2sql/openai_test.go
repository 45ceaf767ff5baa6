package nl2sql

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func chatResponse(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	}
}

func TestOpenAITranslate(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(chatResponse("```sql\nSELECT * FROM students;\n```"))
	}))
	defer server.Close()

	translator, err := NewOpenAITranslator(OpenAIConfig{BaseURL: server.URL, APIKey: "k", Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("NewOpenAITranslator() error = %v", err)
	}

	result, err := translator.Translate(context.Background(), Payload{System: "s", User: "u"})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if result.SQL != "SELECT * FROM students" {
		t.Fatalf("SQL = %q", result.SQL)
	}
	if result.Provider != "openai-compatible" {
		t.Fatalf("Provider = %q", result.Provider)
	}
	if gotAuth != "Bearer k" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
}

func TestOpenAITranslateServerErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	translator, err := NewOpenAITranslator(OpenAIConfig{BaseURL: server.URL, APIKey: "k"})
	if err != nil {
		t.Fatalf("NewOpenAITranslator() error = %v", err)
	}

	_, err = translator.Translate(context.Background(), Payload{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
}

func TestOpenAITranslateMultiStatementIsRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponse("DELETE FROM a; DELETE FROM b;"))
	}))
	defer server.Close()

	translator, err := NewOpenAITranslator(OpenAIConfig{BaseURL: server.URL, APIKey: "k"})
	if err != nil {
		t.Fatalf("NewOpenAITranslator() error = %v", err)
	}

	_, err = translator.Translate(context.Background(), Payload{})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("error = %v, want ErrRejected", err)
	}
}

func TestOllamaTranslate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if stream, ok := req["stream"].(bool); !ok || stream {
			t.Errorf("stream = %v, want false", req["stream"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": "<think>easy</think>SELECT 1"},
		})
	}))
	defer server.Close()

	translator, err := NewOllamaTranslator(OllamaConfig{BaseURL: server.URL, Model: "qwen2.5-coder"})
	if err != nil {
		t.Fatalf("NewOllamaTranslator() error = %v", err)
	}

	result, err := translator.Translate(context.Background(), Payload{System: "s", User: "u"})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if result.SQL != "SELECT 1" {
		t.Fatalf("SQL = %q", result.SQL)
	}
	if result.Provider != "ollama" {
		t.Fatalf("Provider = %q", result.Provider)
	}
}

type scriptedTranslator struct {
	results []Result
	errs    []error
	calls   int
}

func (s *scriptedTranslator) Translate(context.Context, Payload) (Result, error) {
	idx := s.calls
	s.calls++
	if idx >= len(s.errs) {
		idx = len(s.errs) - 1
	}
	return s.results[idx], s.errs[idx]
}

func TestRetryingTranslatorRetriesUnavailable(t *testing.T) {
	inner := &scriptedTranslator{
		results: []Result{{}, {SQL: "SELECT 1"}},
		errs:    []error{ErrUnavailable, nil},
	}
	translator := NewRetryingTranslator(inner, 3, time.Millisecond)
	translator.sleep = func(context.Context, time.Duration) error { return nil }

	result, err := translator.Translate(context.Background(), Payload{})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if result.SQL != "SELECT 1" {
		t.Fatalf("SQL = %q", result.SQL)
	}
	if inner.calls != 2 {
		t.Fatalf("calls = %d, want 2", inner.calls)
	}
}

func TestRetryingTranslatorDoesNotRetryRejected(t *testing.T) {
	inner := &scriptedTranslator{
		results: []Result{{}},
		errs:    []error{ErrRejected},
	}
	translator := NewRetryingTranslator(inner, 3, time.Millisecond)
	translator.sleep = func(context.Context, time.Duration) error { return nil }

	_, err := translator.Translate(context.Background(), Payload{})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("error = %v, want ErrRejected", err)
	}
	if inner.calls != 1 {
		t.Fatalf("calls = %d, want 1", inner.calls)
	}
}

func TestRetryingTranslatorBoundedAttempts(t *testing.T) {
	inner := &scriptedTranslator{
		results: []Result{{}},
		errs:    []error{ErrUnavailable},
	}
	translator := NewRetryingTranslator(inner, 3, time.Millisecond)
	translator.sleep = func(context.Context, time.Duration) error { return nil }

	_, err := translator.Translate(context.Background(), Payload{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
	if inner.calls != 3 {
		t.Fatalf("calls = %d, want 3", inner.calls)
	}
}
