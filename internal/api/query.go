package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/querypilot/querypilot/internal/history"
	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/session"
)

type submitRequest struct {
	Request string `json:"request"`
}

type entryResponse struct {
	SessionID string        `json:"session_id"`
	Entry     history.Entry `json:"entry"`
}

// handleSubmit accepts a natural-language request, runs the full pipeline,
// and returns the resulting history entry. A missing session header starts a
// new session; its id comes back in the response header and body.
func handleSubmit(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session dependencies are not configured", false, nil)
		return
	}

	var request submitRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Request) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "REQUEST_REQUIRED", "request text is required", false, nil)
		return
	}

	sess := deps.Sessions.Acquire(r.Header.Get(SessionHeader))
	w.Header().Set(SessionHeader, sess.ID())

	entry, err := sess.Submit(r.Context(), request.Request)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRejected):
			writeError(r.Context(), w, http.StatusUnprocessableEntity, "REQUEST_REJECTED", err.Error(), false, nil)
		case errors.Is(err, nl2sql.ErrUnavailable):
			writeError(r.Context(), w, http.StatusServiceUnavailable, "TRANSLATOR_UNAVAILABLE", err.Error(), true, nil)
		default:
			writeError(r.Context(), w, http.StatusInternalServerError, "SUBMIT_FAILED", err.Error(), true, nil)
		}
		return
	}

	writeJSON(w, http.StatusOK, entryResponse{SessionID: sess.ID(), Entry: entry})
}

// handleCreateSession mints a session ahead of the first submit, for clients
// that want the id before issuing queries.
func handleCreateSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session dependencies are not configured", false, nil)
		return
	}
	sess := deps.Sessions.Acquire("")
	w.Header().Set(SessionHeader, sess.ID())
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": sess.ID()})
}

// handleSchema returns the current schema snapshot used for translation.
func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema dependencies are not configured", false, nil)
		return
	}
	snapshot, err := deps.Schema.Snapshot(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "SCHEMA_UNAVAILABLE", err.Error(), true, nil)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}
