package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TisoneK/agentfile-sub000/log"
	"github.com/TisoneK/agentfile-sub000/retry"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a single SQLite database file. Each
// workflow is one row holding the JSON-encoded persisted record.
type SQLiteStore struct {
	db      *sql.DB
	dbPath  string
	options SQLiteStoreOptions
	logger  log.Logger
	now     func() time.Time
}

// SQLiteStoreOptions configures the SQLite store
type SQLiteStoreOptions struct {
	QueryTimeout      time.Duration // Timeout applied to each statement
	PragmaJournalMode string        // WAL keeps readers off the writer's back
	BusyTimeout       time.Duration // How long a writer waits on a locked database
	MaxConnections    int           // Maximum number of connections in pool
	Retry             retry.Policy  // Applied to writes that find the database locked
	Logger            log.Logger
}

// DefaultSQLiteStoreOptions returns sensible defaults
func DefaultSQLiteStoreOptions() SQLiteStoreOptions {
	return SQLiteStoreOptions{
		QueryTimeout:      30 * time.Second,
		PragmaJournalMode: "WAL",
		BusyTimeout:       5 * time.Second,
		MaxConnections:    4,
		Retry:             retry.DefaultPolicy(),
	}
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string, options SQLiteStoreOptions) (*SQLiteStore, error) {
	defaults := DefaultSQLiteStoreOptions()
	if options.QueryTimeout == 0 {
		options.QueryTimeout = defaults.QueryTimeout
	}
	if options.PragmaJournalMode == "" {
		options.PragmaJournalMode = defaults.PragmaJournalMode
	}
	if options.BusyTimeout == 0 {
		options.BusyTimeout = defaults.BusyTimeout
	}
	if options.MaxConnections == 0 {
		options.MaxConnections = defaults.MaxConnections
	}
	if options.Retry.Attempts == 0 {
		options.Retry = defaults.Retry
	}
	logger := log.Component(options.Logger, "state.sqlite")

	store := &SQLiteStore{
		dbPath:  dbPath,
		options: options,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	if dir := filepath.Dir(s.dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(%d)",
		s.dbPath, s.options.PragmaJournalMode, s.options.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(s.options.MaxConnections)
	db.SetMaxIdleConns(s.options.MaxConnections)
	db.SetConnMaxLifetime(time.Hour)
	s.db = db

	ctx, cancel := context.WithTimeout(context.Background(), s.options.QueryTimeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS workflow_states (
		workflow_key TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		saved_at DATETIME NOT NULL,
		data BLOB NOT NULL
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return fmt.Errorf("failed to create workflow_states table: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, workflowID string, st *WorkflowState) error {
	const op = "state.Save"
	savedAt := s.now()
	data, err := encodeState(op, FormatJSON, workflowID, st, savedAt)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.options.QueryTimeout)
	defer cancel()

	_, err = s.exec(ctx, `
		INSERT INTO workflow_states (workflow_key, workflow_id, saved_at, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(workflow_key) DO UPDATE SET
			workflow_id = excluded.workflow_id,
			saved_at = excluded.saved_at,
			data = excluded.data`,
		SanitizeID(workflowID), workflowID, savedAt.Format(time.RFC3339Nano), data)
	if err != nil {
		return WrapError(KindIO, op, err, "workflowId", workflowID)
	}
	s.logger.Debug("saved workflow state", "workflow", workflowID, "db", s.dbPath)
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, workflowID string) (*WorkflowState, error) {
	const op = "state.Load"
	if err := ValidateID(op, "workflowId", workflowID); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.options.QueryTimeout)
	defer cancel()

	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM workflow_states WHERE workflow_key = ?`,
		SanitizeID(workflowID)).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewError(KindNotFound, op, "no state saved for workflow", "workflowId", workflowID)
		}
		return nil, WrapError(KindIO, op, err, "workflowId", workflowID)
	}
	return decodeState(op, FormatJSON, workflowID, data)
}

func (s *SQLiteStore) Delete(ctx context.Context, workflowID string) error {
	const op = "state.Delete"
	if err := ValidateID(op, "workflowId", workflowID); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.options.QueryTimeout)
	defer cancel()

	res, err := s.exec(ctx,
		`DELETE FROM workflow_states WHERE workflow_key = ?`, SanitizeID(workflowID))
	if err != nil {
		return WrapError(KindIO, op, err, "workflowId", workflowID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return WrapError(KindIO, op, err, "workflowId", workflowID)
	}
	if n == 0 {
		return NewError(KindNotFound, op, "no state saved for workflow", "workflowId", workflowID)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.options.QueryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT workflow_key FROM workflow_states ORDER BY workflow_key`)
	if err != nil {
		return nil, WrapError(KindIO, "state.List", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, WrapError(KindIO, "state.List", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError(KindIO, "state.List", err)
	}
	return ids, nil
}

// exec runs a write, retrying while another connection holds the lock.
func (s *SQLiteStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := retry.Do(ctx, s.options.Retry, isBusy, func() error {
		var err error
		res, err = s.db.ExecContext(ctx, query, args...)
		if err != nil && isBusy(err) {
			s.logger.Debug("database busy, retrying", "db", s.dbPath)
		}
		return err
	})
	return res, err
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
