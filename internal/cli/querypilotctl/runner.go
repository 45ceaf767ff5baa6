package querypilotctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/querypilot/querypilot/internal/history"
)

const sessionHeader = "X-Session-ID"

type Options struct {
	BaseURL    string
	APIKey     string
	SessionID  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("querypilotctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "QueryPilot API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	sessionID := fs.String("session", defaults.SessionID, "Session ID (from an earlier submit)")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 30s)")
	format := fs.String("format", "", "Export format: parquet or jsonl")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	method := ""
	path := ""
	var body []byte
	switch command {
	case "health":
		method, path = http.MethodGet, "/v1/health"
	case "ready":
		method, path = http.MethodGet, "/v1/ready"
	case "session":
		method, path = http.MethodPost, "/v1/sessions"
	case "schema":
		method, path = http.MethodGet, "/v1/schema"
	case "submit":
		text := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))
		if text == "" {
			_, _ = fmt.Fprintln(stderr, "submit requires request text")
			return 2
		}
		method, path = http.MethodPost, "/v1/query"
		body, _ = json.Marshal(map[string]string{"request": text})
	case "history":
		method, path = http.MethodGet, "/v1/history"
	case "show":
		id, ok := sequenceArg(fs, stderr)
		if !ok {
			return 2
		}
		method, path = http.MethodGet, "/v1/history/"+id
	case "undo", "redo", "replay":
		id, ok := sequenceArg(fs, stderr)
		if !ok {
			return 2
		}
		method, path = http.MethodPost, "/v1/history/"+id+"/"+command
	case "export":
		method, path = http.MethodPost, "/v1/history/export"
		body, _ = json.Marshal(map[string]string{"format": strings.TrimSpace(*format)})
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + path
	result, err := doRequest(ctx, client, method, endpoint, *apiKey, *sessionID, body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if result.code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", result.code, strings.TrimSpace(string(result.body)))
		return 1
	}

	// Submits can mint a session server-side; surface the id so the caller
	// can pass it to later history commands.
	if command == "submit" && result.sessionID != "" && result.sessionID != *sessionID {
		_, _ = fmt.Fprintf(stderr, "session: %s\n", result.sessionID)
	}

	if command == "history" {
		if ok := renderHistoryTable(stdout, result.body); ok {
			return 0
		}
	}

	if pretty, ok := prettyJSON(result.body); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(result.body) > 0 {
		_, _ = fmt.Fprintln(stdout, string(result.body))
	}
	return 0
}

type response struct {
	code      int
	body      []byte
	sessionID string
}

func doRequest(ctx context.Context, client *http.Client, method, url, apiKey, sessionID string, body []byte) (response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return response{}, err
	}
	req.Header.Set("Accept", "application/json")
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}
	if strings.TrimSpace(sessionID) != "" {
		req.Header.Set(sessionHeader, strings.TrimSpace(sessionID))
	}

	resp, err := client.Do(req)
	if err != nil {
		return response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, err
	}
	return response{
		code:      resp.StatusCode,
		body:      raw,
		sessionID: resp.Header.Get(sessionHeader),
	}, nil
}

// renderHistoryTable prints the history listing as a table. Returns false when
// the body does not look like a history response, letting the caller fall
// back to raw JSON.
func renderHistoryTable(w io.Writer, raw []byte) bool {
	var listed struct {
		SessionID string          `json:"session_id"`
		Entries   []history.Entry `json:"entries"`
	}
	if err := json.Unmarshal(raw, &listed); err != nil || listed.SessionID == "" {
		return false
	}

	data := pterm.TableData{{"SEQ", "STATUS", "CLASS", "REVERSIBLE", "REQUEST", "SQL"}}
	for _, entry := range listed.Entries {
		data = append(data, []string{
			strconv.FormatInt(entry.SequenceID, 10),
			string(entry.Status),
			string(entry.Classification),
			strconv.FormatBool(entry.Reversible()),
			truncate(entry.RequestText, 40),
			truncate(entry.SQL, 60),
		})
	}
	err := pterm.DefaultTable.WithHasHeader().WithWriter(w).WithData(data).Render()
	return err == nil
}

func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func sequenceArg(fs *flag.FlagSet, stderr io.Writer) (string, bool) {
	raw := strings.TrimSpace(fs.Arg(1))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		_, _ = fmt.Fprintf(stderr, "%s requires a positive sequence id\n", fs.Arg(0))
		return "", false
	}
	return raw, true
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: querypilotctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health           GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready            GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  schema           GET /v1/schema")
	_, _ = fmt.Fprintln(w, "  session          POST /v1/sessions")
	_, _ = fmt.Fprintln(w, "  submit <text>    POST /v1/query")
	_, _ = fmt.Fprintln(w, "  history          GET /v1/history")
	_, _ = fmt.Fprintln(w, "  show <id>        GET /v1/history/{id}")
	_, _ = fmt.Fprintln(w, "  undo <id>        POST /v1/history/{id}/undo")
	_, _ = fmt.Fprintln(w, "  redo <id>        POST /v1/history/{id}/redo")
	_, _ = fmt.Fprintln(w, "  replay <id>      POST /v1/history/{id}/replay")
	_, _ = fmt.Fprintln(w, "  export           POST /v1/history/export")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
