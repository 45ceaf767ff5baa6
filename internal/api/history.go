package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/querypilot/querypilot/internal/archive"
	"github.com/querypilot/querypilot/internal/history"
	"github.com/querypilot/querypilot/internal/session"
)

// sessionFromRequest resolves the session named by the request header. The
// history endpoints never create sessions implicitly.
func sessionFromRequest(deps Dependencies, w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session dependencies are not configured", false, nil)
		return nil, false
	}
	id := r.Header.Get(SessionHeader)
	if id == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SESSION_REQUIRED", "X-Session-ID header is required", false, nil)
		return nil, false
	}
	sess, err := deps.Sessions.Lookup(id)
	if err != nil {
		writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", err.Error(), false, nil)
		return nil, false
	}
	w.Header().Set(SessionHeader, sess.ID())
	return sess, true
}

func sequenceFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_SEQUENCE_ID", "sequence id must be a positive integer", false, nil)
		return 0, false
	}
	return id, true
}

type historyResponse struct {
	SessionID string          `json:"session_id"`
	Entries   []history.Entry `json:"entries"`
}

func handleHistoryList(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFromRequest(deps, w, r)
	if !ok {
		return
	}
	entries, err := sess.History(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_ERROR", err.Error(), true, nil)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, historyResponse{SessionID: sess.ID(), Entries: entries})
}

func handleHistoryGet(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFromRequest(deps, w, r)
	if !ok {
		return
	}
	id, ok := sequenceFromPath(w, r)
	if !ok {
		return
	}
	entry, err := sess.Entry(r.Context(), id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "ENTRY_NOT_FOUND", err.Error(), false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_ERROR", err.Error(), true, nil)
		return
	}
	writeJSON(w, http.StatusOK, entryResponse{SessionID: sess.ID(), Entry: entry})
}

func handleUndo(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFromRequest(deps, w, r)
	if !ok {
		return
	}
	id, ok := sequenceFromPath(w, r)
	if !ok {
		return
	}
	entry, err := sess.Undo(r.Context(), id)
	if err != nil {
		writeHistoryActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entryResponse{SessionID: sess.ID(), Entry: entry})
}

func handleRedo(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFromRequest(deps, w, r)
	if !ok {
		return
	}
	id, ok := sequenceFromPath(w, r)
	if !ok {
		return
	}
	entry, err := sess.Redo(r.Context(), id)
	if err != nil {
		writeHistoryActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entryResponse{SessionID: sess.ID(), Entry: entry})
}

func handleReplay(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFromRequest(deps, w, r)
	if !ok {
		return
	}
	id, ok := sequenceFromPath(w, r)
	if !ok {
		return
	}
	entry, err := sess.Replay(r.Context(), id)
	if err != nil {
		writeHistoryActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entryResponse{SessionID: sess.ID(), Entry: entry})
}

func writeHistoryActionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, history.ErrNotFound):
		writeError(r.Context(), w, http.StatusNotFound, "ENTRY_NOT_FOUND", err.Error(), false, nil)
	case errors.Is(err, session.ErrNotReversible):
		writeError(r.Context(), w, http.StatusConflict, "NOT_REVERSIBLE", err.Error(), false, nil)
	case errors.Is(err, session.ErrRedoUnavailable):
		writeError(r.Context(), w, http.StatusConflict, "REDO_UNAVAILABLE", err.Error(), false, nil)
	case errors.Is(err, history.ErrConsistency):
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_INCONSISTENT", err.Error(), false, nil)
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_ACTION_FAILED", err.Error(), true, nil)
	}
}

type exportRequest struct {
	Format string `json:"format"`
}

type exportResponse struct {
	SessionID string             `json:"session_id"`
	Object    archive.ObjectInfo `json:"object"`
	Format    archive.Format     `json:"format"`
	Entries   int                `json:"entries"`
}

// handleExport uploads the session history to the archive bucket.
func handleExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Archive == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ARCHIVE_NOT_CONFIGURED", "archive is not configured", false, nil)
		return
	}
	sess, ok := sessionFromRequest(deps, w, r)
	if !ok {
		return
	}

	// The body is optional; an absent or empty body means the default format.
	var request exportRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil && !errors.Is(err, io.EOF) {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid export request body", false, map[string]any{"details": err.Error()})
		return
	}
	format, err := archive.ParseFormat(request.Format)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_FORMAT", err.Error(), false, nil)
		return
	}

	entries, err := sess.History(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_ERROR", err.Error(), true, nil)
		return
	}
	if len(entries) == 0 {
		writeError(r.Context(), w, http.StatusConflict, "HISTORY_EMPTY", "session has no history to export", false, nil)
		return
	}

	info, err := deps.Archive.Export(r.Context(), sess.ID(), entries, format)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "ARCHIVE_UPLOAD_FAILED", err.Error(), true, nil)
		return
	}
	writeJSON(w, http.StatusOK, exportResponse{
		SessionID: sess.ID(),
		Object:    info,
		Format:    format,
		Entries:   len(entries),
	})
}
