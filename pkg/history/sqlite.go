package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteConfig contains configuration for the SQLite history backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// WALMode enables write-ahead logging.
	// Default: true
	WALMode bool

	// BusyTimeout is how long to wait on a locked database.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/history.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

const recordColumns = `id, request_id, account, provider, agent,
	method, path, client_name, client_version, model,
	status_code, streamed, error,
	input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens, cost_usd, duration_ms,
	request_body, response_body, truncated,
	started_at, ended_at, recorded_at`

// SQLiteStorage implements Storage on SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteStorage opens the database, enables WAL mode if configured and
// creates the schema.
func NewSQLiteStorage(config *SQLiteConfig) (*SQLiteStorage, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}

	logger := slog.Default().With("component", "history.sqlite")

	if dir := filepath.Dir(config.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, NewStorageError("sqlite", "open", err)
		}
	}

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, NewStorageError("sqlite", "open", err)
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}

	s := &SQLiteStorage{db: db, config: config, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("history storage initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
	)
	return s, nil
}

func (s *SQLiteStorage) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return NewStorageError("sqlite", "enable_wal", err)
		}
	}

	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
		return NewStorageError("sqlite", "set_busy_timeout", err)
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return NewStorageError("sqlite", "create_schema", err)
	}
	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	if err := s.db.QueryRow(GetSchemaVersion).Scan(&version); err != nil && err != sql.ErrNoRows {
		return NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}
	return nil
}

// Store inserts a record.
func (s *SQLiteStorage) Store(ctx context.Context, r *RequestRecord) error {
	query := `INSERT INTO requests (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.RequestID, r.Account, r.Provider, r.Agent,
		r.Method, r.Path, r.ClientName, r.ClientVersion, r.Model,
		r.StatusCode, r.Streamed, r.Error,
		r.InputTokens, r.OutputTokens, r.CacheReadTokens, r.CacheCreationTokens, r.CostUSD, r.DurationMs,
		r.RequestBody, r.ResponseBody, r.Truncated,
		r.StartedAt.UTC(), r.EndedAt.UTC(), r.RecordedAt.UTC(),
	)
	if err != nil {
		return NewStorageError("sqlite", "store", err)
	}
	return nil
}

// Query returns records matching q, newest first.
func (s *SQLiteStorage) Query(ctx context.Context, q *Query) ([]*RequestRecord, error) {
	if q == nil {
		q = &Query{}
	}
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	where, args := buildWhereClause(q)
	sqlQuery := "SELECT " + recordColumns + " FROM requests"
	if where != "" {
		sqlQuery += " WHERE " + where
	}
	sqlQuery += " ORDER BY started_at DESC, recorded_at DESC"

	limit := q.Limit
	if limit == 0 {
		limit = DefaultQueryLimit
	}
	sqlQuery += fmt.Sprintf(" LIMIT %d", limit)
	if q.Offset > 0 {
		sqlQuery += fmt.Sprintf(" OFFSET %d", q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, NewStorageError("sqlite", "query", err)
	}
	defer rows.Close()

	records := []*RequestRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, NewStorageError("sqlite", "scan", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("sqlite", "query", err)
	}
	return records, nil
}

// Count returns the number of records matching q.
func (s *SQLiteStorage) Count(ctx context.Context, q *Query) (int64, error) {
	if q == nil {
		q = &Query{}
	}
	if err := validateQuery(q); err != nil {
		return 0, err
	}

	where, args := buildWhereClause(q)
	sqlQuery := "SELECT COUNT(*) FROM requests"
	if where != "" {
		sqlQuery += " WHERE " + where
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, sqlQuery, args...).Scan(&count); err != nil {
		return 0, NewStorageError("sqlite", "count", err)
	}
	return count, nil
}

// DeleteBefore removes records that started before cutoff.
func (s *SQLiteStorage) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM requests WHERE started_at < ?", cutoff.UTC())
	if err != nil {
		return 0, NewStorageError("sqlite", "delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, NewStorageError("sqlite", "delete", err)
	}
	return n, nil
}

// DeleteOldest removes the n oldest records.
func (s *SQLiteStorage) DeleteOldest(ctx context.Context, n int64) (int64, error) {
	if n <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE id IN (
		SELECT id FROM requests ORDER BY started_at ASC, recorded_at ASC LIMIT ?
	)`, n)
	if err != nil {
		return 0, NewStorageError("sqlite", "delete_oldest", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, NewStorageError("sqlite", "delete_oldest", err)
	}
	return deleted, nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	if err := s.db.Close(); err != nil {
		return NewStorageError("sqlite", "close", err)
	}
	s.logger.Info("history storage closed")
	return nil
}

// buildWhereClause returns the WHERE clause (without the keyword) and its
// arguments.
func buildWhereClause(q *Query) (string, []any) {
	var conditions []string
	var args []any

	if q.StartTime != nil {
		conditions = append(conditions, "started_at >= ?")
		args = append(args, q.StartTime.UTC())
	}
	if q.EndTime != nil {
		conditions = append(conditions, "started_at < ?")
		args = append(args, q.EndTime.UTC())
	}
	if q.Account != "" {
		conditions = append(conditions, "account = ?")
		args = append(args, q.Account)
	}
	if q.Agent != "" {
		conditions = append(conditions, "agent = ?")
		args = append(args, q.Agent)
	}
	if q.Model != "" {
		conditions = append(conditions, "model = ?")
		args = append(args, q.Model)
	}
	switch q.Status {
	case "success":
		conditions = append(conditions, "error = '' AND status_code BETWEEN 200 AND 299")
	case "error":
		conditions = append(conditions, "(error <> '' OR status_code NOT BETWEEN 200 AND 299)")
	}

	return strings.Join(conditions, " AND "), args
}

func scanRecord(rows *sql.Rows) (*RequestRecord, error) {
	var r RequestRecord
	var reqBody, respBody sql.NullString
	err := rows.Scan(
		&r.ID, &r.RequestID, &r.Account, &r.Provider, &r.Agent,
		&r.Method, &r.Path, &r.ClientName, &r.ClientVersion, &r.Model,
		&r.StatusCode, &r.Streamed, &r.Error,
		&r.InputTokens, &r.OutputTokens, &r.CacheReadTokens, &r.CacheCreationTokens, &r.CostUSD, &r.DurationMs,
		&reqBody, &respBody, &r.Truncated,
		&r.StartedAt, &r.EndedAt, &r.RecordedAt,
	)
	if err != nil {
		return nil, err
	}
	r.RequestBody = reqBody.String
	r.ResponseBody = respBody.String
	return &r, nil
}
