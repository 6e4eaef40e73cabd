package storage

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

	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"

	"mercator-hq/warden/pkg/evidence"
)

// SQLiteConfig contains configuration for the SQLite storage backend.
type SQLiteConfig struct {
	// Path is the database file path. ":memory:" is accepted for tests.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// WALMode enables write-ahead logging.
	// Default: true via DefaultSQLiteConfig
	WALMode bool

	// BusyTimeout is how long to wait on a locked database.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/evidence.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStorage implements evidence.Storage on SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteStorage opens the database and creates the schema.
func NewSQLiteStorage(config *SQLiteConfig) (*SQLiteStorage, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = 10
	}
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = 5
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5 * time.Second
	}

	logger := slog.Default().With("component", "evidence.storage.sqlite")

	if config.Path != ":memory:" {
		if dir := filepath.Dir(config.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, evidence.NewStorageError("sqlite", "mkdir", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, evidence.NewStorageError("sqlite", "open", err)
	}
	if config.Path == ":memory:" {
		// Each connection would otherwise get its own empty database.
		config.MaxOpenConns = 1
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	s := &SQLiteStorage{db: db, config: config, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite storage initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
		"max_open_conns", config.MaxOpenConns,
	)
	return s, nil
}

func (s *SQLiteStorage) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return evidence.NewStorageError("sqlite", "enable_wal", err)
		}
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
		return evidence.NewStorageError("sqlite", "set_busy_timeout", err)
	}
	if _, err := s.db.Exec(Schema); err != nil {
		return evidence.NewStorageError("sqlite", "create_schema", err)
	}
	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return evidence.NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	err := s.db.QueryRow(GetSchemaVersion).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return evidence.NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return evidence.NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}
	return nil
}

// Store inserts a record.
func (s *SQLiteStorage) Store(ctx context.Context, r *evidence.Record) error {
	piiTypes, err := json.Marshal(r.PIITypes)
	if err != nil {
		return evidence.NewStorageError("sqlite", "store", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO evidence ("+columns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		r.ID, r.RequestID, r.RequestTime.UnixNano(), r.RecordedTime.UnixNano(),
		r.Policy, r.Client, r.RequestedModel, r.Model, r.RouteRule,
		r.Outcome, nullable(r.BlockedKind), nullable(r.Reason), r.Degraded, r.CacheHit,
		r.EstimatedCost, r.ActualCost, r.PIIFindings, string(piiTypes),
		r.Latency.Milliseconds(), r.UpstreamLatency.Milliseconds(), r.Digest,
	)
	if err != nil {
		return evidence.NewStorageError("sqlite", "store", err)
	}
	return nil
}

// Query returns matching records.
func (s *SQLiteStorage) Query(ctx context.Context, q *evidence.Query) ([]*evidence.Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	where, args := buildWhereClause(q)

	order := "DESC"
	if q.SortOrder == "asc" {
		order = "ASC"
	}
	limit := q.Limit
	if limit == 0 {
		limit = evidence.DefaultQueryLimit
	}
	stmt := fmt.Sprintf("SELECT %s FROM evidence%s ORDER BY request_time %s, id %s LIMIT %d OFFSET %d",
		columns, where, order, order, limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, evidence.NewStorageError("sqlite", "query", err)
	}
	defer rows.Close()

	records := []*evidence.Record{}
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, evidence.NewStorageError("sqlite", "scan", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, evidence.NewStorageError("sqlite", "query", err)
	}
	return records, nil
}

// Count returns the number of matching records.
func (s *SQLiteStorage) Count(ctx context.Context, q *evidence.Query) (int64, error) {
	where, args := buildWhereClause(q)
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM evidence"+where, args...).Scan(&n); err != nil {
		return 0, evidence.NewStorageError("sqlite", "count", err)
	}
	return n, nil
}

// Delete removes matching records.
func (s *SQLiteStorage) Delete(ctx context.Context, q *evidence.Query) (int64, error) {
	where, args := buildWhereClause(q)
	res, err := s.db.ExecContext(ctx, "DELETE FROM evidence"+where, args...)
	if err != nil {
		return 0, evidence.NewStorageError("sqlite", "delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, evidence.NewStorageError("sqlite", "delete", err)
	}
	return n, nil
}

// Ping checks the database connection.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return evidence.NewStorageError("sqlite", "ping", err)
	}
	return nil
}

// Close releases the database.
func (s *SQLiteStorage) Close() error {
	if err := s.db.Close(); err != nil {
		return evidence.NewStorageError("sqlite", "close", err)
	}
	s.logger.Info("SQLite storage closed")
	return nil
}

// buildWhereClause returns " WHERE ..." (or "") and its arguments.
func buildWhereClause(q *evidence.Query) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}

	if q.Since != nil {
		add("request_time >= ?", q.Since.UnixNano())
	}
	if q.Until != nil {
		add("request_time <= ?", q.Until.UnixNano())
	}
	if q.Policy != "" {
		add("policy = ?", q.Policy)
	}
	if q.Client != "" {
		add("client = ?", q.Client)
	}
	if q.Model != "" {
		add("model = ?", q.Model)
	}
	if q.Outcome != "" {
		add("outcome = ?", q.Outcome)
	}
	if q.BlockedKind != "" {
		add("blocked_kind = ?", q.BlockedKind)
	}
	if q.MinCost != nil {
		add("actual_cost >= ?", *q.MinCost)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanRow(rows *sql.Rows) (*evidence.Record, error) {
	var (
		r                     evidence.Record
		requestNs, recordedNs int64
		blockedKind, reason   sql.NullString
		piiTypes              sql.NullString
		latencyMs, upstreamMs int64
	)
	err := rows.Scan(
		&r.ID, &r.RequestID, &requestNs, &recordedNs,
		&r.Policy, &r.Client, &r.RequestedModel, &r.Model, &r.RouteRule,
		&r.Outcome, &blockedKind, &reason, &r.Degraded, &r.CacheHit,
		&r.EstimatedCost, &r.ActualCost, &r.PIIFindings, &piiTypes,
		&latencyMs, &upstreamMs, &r.Digest,
	)
	if err != nil {
		return nil, err
	}

	r.RequestTime = time.Unix(0, requestNs).UTC()
	r.RecordedTime = time.Unix(0, recordedNs).UTC()
	r.BlockedKind = blockedKind.String
	r.Reason = reason.String
	r.Latency = time.Duration(latencyMs) * time.Millisecond
	r.UpstreamLatency = time.Duration(upstreamMs) * time.Millisecond
	if piiTypes.Valid && piiTypes.String != "" && piiTypes.String != "null" {
		if err := json.Unmarshal([]byte(piiTypes.String), &r.PIITypes); err != nil {
			return nil, fmt.Errorf("decode pii_types: %w", err)
		}
	}
	return &r, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
