package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/querypilot/querypilot/internal/engine"
	"github.com/querypilot/querypilot/internal/history"
	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/rollback"
	"github.com/querypilot/querypilot/internal/schema"
	"github.com/querypilot/querypilot/internal/sqlparse"
)

// ErrRejected reports a request that produced no executable statement.
var ErrRejected = errors.New("session: request rejected")

// ErrNotReversible reports an undo attempt on an entry with no usable
// rollback.
var ErrNotReversible = errors.New("session: entry is not reversible")

// ErrRedoUnavailable reports a redo attempt when the immediately preceding
// entry is not the matching undo.
var ErrRedoUnavailable = errors.New("session: redo unavailable")

// Executor runs SQL against the target database.
type Executor interface {
	Query(ctx context.Context, sqlText string) (engine.Record, error)
	Run(ctx context.Context, fn func(ctx context.Context, uow engine.UnitOfWork) error) (bool, error)
}

// SchemaProvider serves snapshots and accepts invalidation after
// structure-changing statements.
type SchemaProvider interface {
	Snapshot(ctx context.Context) (schema.Snapshot, error)
	Invalidate()
}

// Config carries the per-session pipeline settings.
type Config struct {
	Dialect      string
	PromptBudget int
}

// Session serializes all work for one conversational client: translation,
// classification, rollback capture, execution, and history bookkeeping.
// Operations on one session never interleave.
type Session struct {
	id         string
	logger     *slog.Logger
	schema     SchemaProvider
	translator nl2sql.Translator
	executor   Executor
	generator  *rollback.Generator
	log        history.Log
	cfg        Config
	now        func() time.Time

	mu sync.Mutex
}

func New(id string, logger *slog.Logger, provider SchemaProvider, translator nl2sql.Translator,
	executor Executor, generator *rollback.Generator, log history.Log, cfg Config) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:         id,
		logger:     logger.With(slog.String("session_id", id)),
		schema:     provider,
		translator: translator,
		executor:   executor,
		generator:  generator,
		log:        log,
		cfg:        cfg,
		now:        time.Now,
	}
}

func (s *Session) ID() string { return s.id }

// Submit translates a natural-language request, executes the resulting
// statement, and appends the outcome to history. Execution failures are
// recorded in the returned entry, not returned as an error; the error return
// covers pipeline failures that produced nothing executable.
func (s *Session) Submit(ctx context.Context, requestText string) (history.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(requestText) == "" {
		return history.Entry{}, fmt.Errorf("%w: empty request", ErrRejected)
	}

	snapshot, err := s.schema.Snapshot(ctx)
	if err != nil {
		// Translation still gets a chance without schema context; any
		// mutation will simply be non-reversible.
		s.logger.WarnContext(ctx, "schema snapshot unavailable", slog.Any("error", err))
		snapshot = schema.Snapshot{}
	}

	payload := nl2sql.BuildPayload(requestText, snapshot, nl2sql.PromptConfig{
		Dialect:      s.cfg.Dialect,
		SchemaBudget: s.cfg.PromptBudget,
	})
	result, err := s.translator.Translate(ctx, payload)
	if err != nil {
		observability.RecordTranslation("error")
		if errors.Is(err, nl2sql.ErrRejected) {
			return history.Entry{}, fmt.Errorf("%w: %v", ErrRejected, err)
		}
		return history.Entry{}, fmt.Errorf("translate request: %w", err)
	}
	observability.RecordTranslation("ok")

	class := sqlparse.Classify(result.SQL)
	if class == sqlparse.ClassRejected {
		return history.Entry{}, fmt.Errorf("%w: statement %q not recognized", ErrRejected, result.SQL)
	}
	s.logger.InfoContext(ctx, "request translated",
		slog.String("classification", string(class)),
		slog.String("provider", result.Provider),
		slog.String("model", result.Model))

	return s.execute(ctx, snapshot, requestText, result.SQL, class, 0)
}

// Undo reverses the entry with the given sequence id by executing its stored
// rollback script, then appends a linked undo entry.
func (s *Session) Undo(ctx context.Context, sequenceID int64) (history.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, err := s.log.Get(ctx, sequenceID)
	if err != nil {
		return history.Entry{}, err
	}
	if !target.Reversible() {
		return history.Entry{}, fmt.Errorf("%w: entry %d (status %s)",
			ErrNotReversible, sequenceID, target.Status)
	}

	statements := sqlparse.SplitStatements(target.RollbackSQL)
	record := engine.Record{SQL: target.RollbackSQL, StartedAt: s.now().UTC()}
	degraded, runErr := s.executor.Run(ctx, func(ctx context.Context, uow engine.UnitOfWork) error {
		ctx = context.WithoutCancel(ctx)
		for _, stmt := range statements {
			affected, err := uow.Exec(ctx, stmt)
			if err != nil {
				return &engine.ExecutionError{SQL: stmt, Err: err}
			}
			record.RowsAffected += affected
		}
		return nil
	})
	record.FinishedAt = s.now().UTC()
	record.Degraded = degraded
	record.Success = runErr == nil
	if runErr != nil {
		record.ErrorDetail = runErr.Error()
		s.logger.WarnContext(ctx, "undo failed",
			slog.Int64("sequence_id", sequenceID), slog.Any("error", runErr))
	}
	observability.RecordHistoryAction("undo", record.Success)

	entry := history.Entry{
		RequestText:    "undo: " + target.RequestText,
		SQL:            target.RollbackSQL,
		Classification: sqlparse.Classify(statements[0]),
		Status:         history.StatusExecuted,
		UndoOf:         target.SequenceID,
		Record:         record,
		CreatedAt:      s.now().UTC(),
	}
	appended, err := s.log.Append(ctx, entry)
	if err != nil {
		return history.Entry{}, err
	}
	if record.Success {
		if err := s.log.SetStatus(ctx, target.SequenceID, history.StatusRolledBack); err != nil {
			return history.Entry{}, err
		}
	}
	return appended, nil
}

// Redo re-executes an entry that the immediately preceding undo reversed.
// The rollback script is captured afresh, the stale undo entry is marked
// superseded, and the original entry returns to executed.
func (s *Session) Redo(ctx context.Context, sequenceID int64) (history.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok, err := s.log.Last(ctx)
	if err != nil {
		return history.Entry{}, err
	}
	if !ok || last.UndoOf != sequenceID || !last.Record.Success {
		return history.Entry{}, fmt.Errorf("%w: entry %d was not just undone",
			ErrRedoUnavailable, sequenceID)
	}
	target, err := s.log.Get(ctx, sequenceID)
	if err != nil {
		return history.Entry{}, err
	}

	snapshot, err := s.schema.Snapshot(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "schema snapshot unavailable", slog.Any("error", err))
		snapshot = schema.Snapshot{}
	}
	entry, err := s.execute(ctx, snapshot, "redo: "+target.RequestText,
		target.SQL, target.Classification, 0)
	if err != nil {
		return history.Entry{}, err
	}
	observability.RecordHistoryAction("redo", entry.Record.Success)
	if entry.Record.Success {
		if err := s.log.SetStatus(ctx, last.SequenceID, history.StatusSuperseded); err != nil {
			return history.Entry{}, err
		}
		if err := s.log.SetStatus(ctx, sequenceID, history.StatusExecuted); err != nil {
			return history.Entry{}, err
		}
	}
	return entry, nil
}

// Replay re-executes any past entry's statement as a new operation with its
// own fresh rollback capture.
func (s *Session) Replay(ctx context.Context, sequenceID int64) (history.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, err := s.log.Get(ctx, sequenceID)
	if err != nil {
		return history.Entry{}, err
	}

	snapshot, err := s.schema.Snapshot(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "schema snapshot unavailable", slog.Any("error", err))
		snapshot = schema.Snapshot{}
	}
	entry, err := s.execute(ctx, snapshot, "replay: "+target.RequestText,
		target.SQL, target.Classification, 0)
	if err != nil {
		return history.Entry{}, err
	}
	observability.RecordHistoryAction("replay", entry.Record.Success)
	return entry, nil
}

// History returns all entries in sequence order.
func (s *Session) History(ctx context.Context) ([]history.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.List(ctx)
}

// Entry returns one history entry by sequence id.
func (s *Session) Entry(ctx context.Context, sequenceID int64) (history.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Get(ctx, sequenceID)
}

// execute runs a classified statement with rollback capture and appends the
// outcome. A cancellation that lands before the statement begins leaves the
// database untouched and the history unchanged. Callers hold s.mu.
func (s *Session) execute(ctx context.Context, snapshot schema.Snapshot,
	requestText, sqlText string, class sqlparse.Classification, undoOf int64) (history.Entry, error) {

	if err := ctx.Err(); err != nil {
		return history.Entry{}, fmt.Errorf("aborted before execution: %w", err)
	}

	var record engine.Record
	var rollbackSQL string

	if class == sqlparse.ClassRead {
		var err error
		record, err = s.executor.Query(ctx, sqlText)
		if err != nil {
			s.logger.WarnContext(ctx, "read failed", slog.Any("error", err))
		}
	} else {
		var abortErr error
		record, rollbackSQL, abortErr = s.executeMutation(ctx, snapshot, sqlText, class)
		if abortErr != nil {
			return history.Entry{}, abortErr
		}
	}
	observability.RecordExecution(string(class), record.Success, record.Degraded)

	entry := history.Entry{
		RequestText:    requestText,
		SQL:            sqlText,
		Classification: class,
		RollbackSQL:    rollbackSQL,
		Status:         history.StatusExecuted,
		UndoOf:         undoOf,
		Record:         record,
		CreatedAt:      s.now().UTC(),
	}
	appended, err := s.log.Append(ctx, entry)
	if err != nil {
		return history.Entry{}, err
	}

	if sqlparse.IsSchemaChanging(sqlText) {
		s.schema.Invalidate()
	}
	return appended, nil
}

// executeMutation runs one mutating statement inside a bounded unit of work.
// State capture for the rollback happens strictly before the statement
// itself, sharing the unit so nothing can slip in between. Once the statement
// has begun it runs to completion even if the caller goes away; a
// cancellation that lands during capture aborts the unit with the database
// untouched, and the non-nil abort error tells the caller to append nothing.
func (s *Session) executeMutation(ctx context.Context, snapshot schema.Snapshot,
	sqlText string, class sqlparse.Classification) (engine.Record, string, error) {

	record := engine.Record{SQL: sqlText, StartedAt: s.now().UTC()}
	var rollbackSQL string
	var primaryStarted bool

	degraded, runErr := s.executor.Run(ctx, func(ctx context.Context, uow engine.UnitOfWork) error {
		execCtx := context.WithoutCancel(ctx)

		switch class {
		case sqlparse.ClassInsert:
			stmt, err := sqlparse.ParseInsert(sqlText)
			if err != nil {
				primaryStarted = true
				return s.execPlain(execCtx, uow, sqlText, &record)
			}
			primaryStarted = true
			return s.execInsert(ctx, execCtx, uow, snapshot, stmt, sqlText, &record, &rollbackSQL)

		case sqlparse.ClassUpdate:
			stmt, err := sqlparse.ParseUpdate(sqlText)
			if err != nil {
				primaryStarted = true
				return s.execPlain(execCtx, uow, sqlText, &record)
			}
			if table, ok := snapshot.Table(stmt.Table); ok {
				script, err := s.capture(ctx, func() (string, error) {
					return s.generator.PrepareUpdate(ctx, uow, stmt, table)
				})
				if err != nil {
					return err
				}
				rollbackSQL = script
			}
			primaryStarted = true
			return s.execPlain(execCtx, uow, sqlText, &record)

		case sqlparse.ClassDelete:
			stmt, err := sqlparse.ParseDelete(sqlText)
			if err != nil {
				primaryStarted = true
				return s.execPlain(execCtx, uow, sqlText, &record)
			}
			if table, ok := snapshot.Table(stmt.Table); ok {
				script, err := s.capture(ctx, func() (string, error) {
					return s.generator.PrepareDelete(ctx, uow, stmt, table)
				})
				if err != nil {
					return err
				}
				rollbackSQL = script
			}
			primaryStarted = true
			return s.execPlain(execCtx, uow, sqlText, &record)

		default:
			primaryStarted = true
			return s.execPlain(execCtx, uow, sqlText, &record)
		}
	})

	record.FinishedAt = s.now().UTC()
	record.Degraded = degraded
	if runErr != nil {
		if !primaryStarted &&
			(errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded)) {
			return engine.Record{}, "", fmt.Errorf("aborted before execution: %w", runErr)
		}
		record.Success = false
		record.ErrorDetail = runErr.Error()
		rollbackSQL = ""
		s.logger.WarnContext(ctx, "mutation failed", slog.Any("error", runErr))
	} else {
		record.Success = true
	}
	observability.RecordRollbackCapture(rollbackSQL != "")
	return record, rollbackSQL, nil
}

// execInsert appends RETURNING so the generated keys come back with the
// insert itself, then derives the inverse DELETE from them.
func (s *Session) execInsert(ctx, execCtx context.Context, uow engine.UnitOfWork,
	snapshot schema.Snapshot, stmt sqlparse.InsertStatement, sqlText string,
	record *engine.Record, rollbackSQL *string) error {

	table, ok := snapshot.Table(stmt.Table)
	if !ok {
		return s.execPlain(execCtx, uow, sqlText, record)
	}
	withReturning, pk, err := s.generator.InsertReturning(stmt, table, sqlText)
	if err != nil {
		s.logger.WarnContext(ctx, "rollback unavailable", slog.Any("error", err))
		return s.execPlain(execCtx, uow, sqlText, record)
	}

	_, keyRows, err := uow.Query(execCtx, withReturning)
	if err != nil {
		return &engine.ExecutionError{SQL: sqlText, Err: err}
	}
	record.RowsAffected = int64(len(keyRows))

	inverse, err := s.generator.BuildInsertRollback(stmt.Table, pk, keyRows)
	if err != nil {
		s.logger.WarnContext(ctx, "rollback unavailable", slog.Any("error", err))
		return nil
	}
	*rollbackSQL = inverse
	return nil
}

func (s *Session) execPlain(ctx context.Context, uow engine.UnitOfWork,
	sqlText string, record *engine.Record) error {
	affected, err := uow.Exec(ctx, sqlText)
	if err != nil {
		return &engine.ExecutionError{SQL: sqlText, Err: err}
	}
	record.RowsAffected = affected
	return nil
}

// capture runs a rollback preparation step. Unavailability (no usable key,
// threshold breach) downgrades to a logged warning and the mutation proceeds
// without a rollback; any other capture failure aborts the unit of work
// before the statement runs.
func (s *Session) capture(ctx context.Context, prepare func() (string, error)) (string, error) {
	script, err := prepare()
	if err != nil {
		if errors.Is(err, rollback.ErrUnavailable) {
			s.logger.WarnContext(ctx, "rollback unavailable", slog.Any("error", err))
			return "", nil
		}
		return "", fmt.Errorf("capture rollback state: %w", err)
	}
	return script, nil
}
