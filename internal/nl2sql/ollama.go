package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type OllamaConfig struct {
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// OllamaTranslator targets a locally hosted model behind the Ollama chat API.
// No API key: the daemon is assumed to be reachable without auth.
type OllamaTranslator struct {
	baseURL     string
	model       string
	temperature float64
	client      *http.Client
}

func NewOllamaTranslator(cfg OllamaConfig) (*OllamaTranslator, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OllamaTranslator{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		model:       strings.TrimSpace(cfg.Model),
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (t *OllamaTranslator) Translate(ctx context.Context, payload Payload) (Result, error) {
	body, err := json.Marshal(map[string]any{
		"model": t.model,
		"messages": []map[string]string{
			{"role": "system", "content": payload.System},
			{"role": "user", "content": payload.User},
		},
		"stream": false,
		"options": map[string]any{
			"temperature": t.temperature,
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("%w: request ollama chat: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: read ollama response body: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 400 {
		return Result{}, fmt.Errorf("%w: ollama chat status=%d body=%s", ErrUnavailable, resp.StatusCode, truncateBody(rawBody))
	}

	var parsed struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return Result{}, fmt.Errorf("%w: decode ollama response: %v", ErrRejected, err)
	}

	sql, err := ExtractSQL(parsed.Message.Content)
	if err != nil {
		return Result{}, err
	}
	return Result{SQL: sql, Provider: "ollama", Model: t.model}, nil
}
