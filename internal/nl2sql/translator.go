package nl2sql

import (
	"context"
	"errors"
)

// ErrUnavailable reports a transport or service failure. Retrying is safe:
// the translation call has no effect on the database.
var ErrUnavailable = errors.New("nl2sql: translation service unavailable")

// ErrRejected reports that the service answered but did not produce a single
// parseable SQL statement. The request is terminal; retrying will not help.
var ErrRejected = errors.New("nl2sql: translation rejected")

// Payload is a fully rendered translation request. Building it is
// deterministic: the same request text and schema always produce an
// identical payload.
type Payload struct {
	System string `json:"system"`
	User   string `json:"user"`
}

// Result is a parsed translation answer holding exactly one SQL statement.
type Result struct {
	SQL      string `json:"sql"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Translator turns a payload into a candidate SQL statement via an external
// language-model service.
type Translator interface {
	Translate(ctx context.Context, payload Payload) (Result, error)
}
