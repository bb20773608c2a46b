package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

const backendSQLite = "sqlite"

// SchemaVersion is the current accounts schema version.
const SchemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL UNIQUE,
	provider            TEXT NOT NULL,
	api_key             TEXT NOT NULL DEFAULT '',
	refresh_token       TEXT NOT NULL DEFAULT '',
	access_token        TEXT NOT NULL DEFAULT '',
	expires_at          INTEGER NOT NULL DEFAULT 0,
	created_at          INTEGER NOT NULL,
	last_used           INTEGER NOT NULL DEFAULT 0,
	last_auth_failure   INTEGER NOT NULL DEFAULT 0,
	request_count       INTEGER NOT NULL DEFAULT 0,
	total_requests      INTEGER NOT NULL DEFAULT 0,
	priority            INTEGER NOT NULL DEFAULT 0,
	paused              INTEGER NOT NULL DEFAULT 0,
	rate_limited_until  INTEGER NOT NULL DEFAULT 0,
	session_start       INTEGER NOT NULL DEFAULT 0,
	input_tokens        INTEGER NOT NULL DEFAULT 0,
	output_tokens       INTEGER NOT NULL DEFAULT 0,
	cost_usd            REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS agent_preferences (
	agent      TEXT PRIMARY KEY,
	model      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);
`

const accountColumns = `id, name, provider, api_key, refresh_token, access_token, expires_at,
	created_at, last_used, last_auth_failure, request_count, total_requests, priority,
	paused, rate_limited_until, session_start, input_tokens, output_tokens, cost_usd`

// SQLiteConfig configures the SQLite account store.
type SQLiteConfig struct {
	// Path is the database file. Parent directories are created.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// SQLiteStore implements Store on SQLite through the pure-Go modernc driver.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the account database.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, NewStoreError(backendSQLite, "open", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, NewStoreError(backendSQLite, "open", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, NewStoreError(backendSQLite, "init_schema", err)
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, SchemaVersion); err != nil {
		db.Close()
		return nil, NewStoreError(backendSQLite, "init_schema", err)
	}

	logger := slog.Default().With("component", "accounts.sqlite")
	logger.Debug("Account store opened", "path", cfg.Path)

	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY priority ASC, created_at ASC`)
	if err != nil {
		return nil, NewStoreError(backendSQLite, "list", err)
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, NewStoreError(backendSQLite, "list", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStoreError(backendSQLite, "list", err)
	}
	return out, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Account, error) {
	return s.getOne(ctx, "get", `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
}

func (s *SQLiteStore) GetByName(ctx context.Context, name string) (*Account, error) {
	return s.getOne(ctx, "get_by_name", `SELECT `+accountColumns+` FROM accounts WHERE name = ?`, name)
}

func (s *SQLiteStore) getOne(ctx context.Context, op, query string, arg string) (*Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, NewStoreError(backendSQLite, op, err)
	}
	return a, nil
}

func (s *SQLiteStore) Create(ctx context.Context, account *Account) error {
	if err := validate(account); err != nil {
		return err
	}
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID, account.Name, account.Provider, account.APIKey, account.RefreshToken,
		account.AccessToken, toMillis(account.ExpiresAt), toMillis(account.CreatedAt),
		toMillis(account.LastUsed), toMillis(account.LastAuthFailure), account.RequestCount,
		account.TotalRequests, account.Priority, boolToInt(account.Paused),
		toMillis(account.RateLimitedUntil), toMillis(account.SessionStart),
		account.InputTokens, account.OutputTokens, account.CostUSD,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: accounts.name") {
			return ErrDuplicateName
		}
		return NewStoreError(backendSQLite, "create", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, name string) error {
	return s.exec(ctx, "delete", `DELETE FROM accounts WHERE name = ?`, name)
}

func (s *SQLiteStore) SetPaused(ctx context.Context, name string, paused bool) error {
	return s.exec(ctx, "set_paused", `UPDATE accounts SET paused = ? WHERE name = ?`, boolToInt(paused), name)
}

func (s *SQLiteStore) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	return s.exec(ctx, "update_tokens", `
		UPDATE accounts SET
			access_token = ?,
			refresh_token = CASE WHEN ? = '' THEN refresh_token ELSE ? END,
			expires_at = ?,
			last_auth_failure = 0
		WHERE id = ?`,
		accessToken, refreshToken, refreshToken, toMillis(expiresAt), id)
}

func (s *SQLiteStore) MarkRateLimited(ctx context.Context, id string, until time.Time) error {
	return s.exec(ctx, "mark_rate_limited", `UPDATE accounts SET rate_limited_until = ? WHERE id = ?`, toMillis(until), id)
}

func (s *SQLiteStore) MarkAuthFailure(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx, "mark_auth_failure", `UPDATE accounts SET last_auth_failure = ? WHERE id = ?`, toMillis(at), id)
}

func (s *SQLiteStore) RecordUsage(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx, "record_usage", `
		UPDATE accounts SET
			last_used = ?,
			request_count = request_count + 1,
			total_requests = total_requests + 1
		WHERE id = ?`, toMillis(at), id)
}

func (s *SQLiteStore) StartSession(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx, "start_session", `UPDATE accounts SET session_start = ?, request_count = 0 WHERE id = ?`, toMillis(at), id)
}

func (s *SQLiteStore) AddUsageStats(ctx context.Context, id string, delta UsageDelta) error {
	return s.exec(ctx, "add_usage_stats", `
		UPDATE accounts SET
			input_tokens = input_tokens + ?,
			output_tokens = output_tokens + ?,
			cost_usd = cost_usd + ?
		WHERE id = ?`, delta.InputTokens, delta.OutputTokens, delta.CostUSD, id)
}

func (s *SQLiteStore) SetAgentModel(ctx context.Context, agent, model string) error {
	var err error
	if model == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM agent_preferences WHERE agent = ?`, agent)
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO agent_preferences (agent, model, updated_at) VALUES (?, ?, ?)
			ON CONFLICT (agent) DO UPDATE SET model = excluded.model, updated_at = excluded.updated_at`,
			agent, model, time.Now().UnixMilli())
	}
	if err != nil {
		return NewStoreError(backendSQLite, "set_agent_model", err)
	}
	return nil
}

func (s *SQLiteStore) GetAgentModel(ctx context.Context, agent string) (string, bool, error) {
	var model string
	err := s.db.QueryRowContext(ctx, `SELECT model FROM agent_preferences WHERE agent = ?`, agent).Scan(&model)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, NewStoreError(backendSQLite, "get_agent_model", err)
	}
	return model, true, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// exec runs a single-row update and maps zero affected rows to ErrNotFound.
func (s *SQLiteStore) exec(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return NewStoreError(backendSQLite, op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return NewStoreError(backendSQLite, op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var a Account
	var expiresAt, createdAt, lastUsed, lastAuthFailure int64
	var rateLimitedUntil, sessionStart, paused int64
	err := row.Scan(
		&a.ID, &a.Name, &a.Provider, &a.APIKey, &a.RefreshToken, &a.AccessToken, &expiresAt,
		&createdAt, &lastUsed, &lastAuthFailure, &a.RequestCount, &a.TotalRequests, &a.Priority,
		&paused, &rateLimitedUntil, &sessionStart, &a.InputTokens, &a.OutputTokens, &a.CostUSD,
	)
	if err != nil {
		return nil, err
	}
	a.ExpiresAt = fromMillis(expiresAt)
	a.CreatedAt = fromMillis(createdAt)
	a.LastUsed = fromMillis(lastUsed)
	a.LastAuthFailure = fromMillis(lastAuthFailure)
	a.RateLimitedUntil = fromMillis(rateLimitedUntil)
	a.SessionStart = fromMillis(sessionStart)
	a.Paused = paused != 0
	return &a, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
