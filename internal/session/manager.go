package session

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/querypilot/querypilot/internal/history"
	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/rollback"
)

// LogFactory builds the history log backing one session.
type LogFactory func(sessionID string) history.Log

// Manager owns the live sessions of one server process, keyed by the id the
// client presents. Unknown ids get a fresh session.
type Manager struct {
	logger     *slog.Logger
	schema     SchemaProvider
	translator nl2sql.Translator
	executor   Executor
	generator  *rollback.Generator
	newLog     LogFactory
	cfg        Config

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(logger *slog.Logger, provider SchemaProvider, translator nl2sql.Translator,
	executor Executor, generator *rollback.Generator, newLog LogFactory, cfg Config) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if newLog == nil {
		newLog = func(string) history.Log { return history.NewMemoryLog() }
	}
	return &Manager{
		logger:     logger,
		schema:     provider,
		translator: translator,
		executor:   executor,
		generator:  generator,
		newLog:     newLog,
		cfg:        cfg,
		sessions:   make(map[string]*Session),
	}
}

// Acquire returns the session for id, creating it when absent. An empty id
// mints a new one.
func (m *Manager) Acquire(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	if existing, ok := m.sessions[id]; ok {
		return existing
	}
	created := New(id, m.logger, m.schema, m.translator, m.executor,
		m.generator, m.newLog(id), m.cfg)
	m.sessions[id] = created
	return created
}

// Lookup returns the session for id without creating one.
func (m *Manager) Lookup(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[id]; ok {
		return existing, nil
	}
	return nil, fmt.Errorf("unknown session %q", id)
}
