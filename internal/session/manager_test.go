package session

import (
	"io"
	"log/slog"
	"testing"

	"github.com/querypilot/querypilot/internal/rollback"
)

func newTestManager() *Manager {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewManager(logger, &fakeSchema{snapshot: studentsSnapshot()},
		&fakeTranslator{sql: "SELECT 1"}, &fakeExecutor{},
		&rollback.Generator{}, nil, Config{})
}

func TestManagerAcquireMintsID(t *testing.T) {
	mgr := newTestManager()

	sess := mgr.Acquire("")
	if sess.ID() == "" {
		t.Fatal("expected generated session id")
	}
	other := mgr.Acquire("")
	if other.ID() == sess.ID() {
		t.Fatal("expected distinct session ids")
	}
}

func TestManagerAcquireReturnsSameSession(t *testing.T) {
	mgr := newTestManager()

	first := mgr.Acquire("client-1")
	second := mgr.Acquire("client-1")
	if first != second {
		t.Fatal("expected the same session for one id")
	}
}

func TestManagerLookup(t *testing.T) {
	mgr := newTestManager()
	created := mgr.Acquire("client-1")

	found, err := mgr.Lookup("client-1")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if found != created {
		t.Fatal("lookup returned a different session")
	}
	if _, err := mgr.Lookup("missing"); err == nil {
		t.Fatal("expected error for unknown session")
	}
}
