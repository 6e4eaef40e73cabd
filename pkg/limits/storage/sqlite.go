package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements Store using SQLite for persistence.
// Counters and cached values survive restarts, which suits single-instance
// deployments that cannot run Redis.
//
// SQLiteStore uses a write-ahead log and a single connection, so each
// IncrementAll transaction is serialized against every other writer.
type SQLiteStore struct {
	db               *sql.DB
	dbPath           string
	checkpointPeriod time.Duration
	done             chan struct{}
	closeOnce        sync.Once

	// now returns the current time. Tests replace it.
	now func() time.Time
}

// SQLiteStoreConfig configures the SQLite store.
type SQLiteStoreConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// Clock overrides time.Now. Used by tests.
	Clock func() time.Time
}

// NewSQLiteStore creates a SQLite store with default settings.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteStoreConfig{DBPath: dbPath})
}

// NewSQLiteStoreWithConfig creates a SQLite store with custom configuration.
func NewSQLiteStoreWithConfig(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		cfg.DBPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:               db,
		dbPath:           cfg.DBPath,
		checkpointPeriod: cfg.CheckpointInterval,
		done:             make(chan struct{}),
		now:              cfg.Clock,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	go s.checkpointLoop()

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB,
		counter INTEGER NOT NULL DEFAULT 0,
		is_counter INTEGER NOT NULL DEFAULT 0,
		expires_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_kv_expires_at ON kv(expires_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// IncrementAll implements Store.
func (s *SQLiteStore) IncrementAll(ctx context.Context, ops []Increment) ([]int64, error) {
	if err := validateOps(ops); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("sqlite begin", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.now()
	nowMs := now.UnixMilli()

	type row struct {
		exists  bool
		counter int64
	}
	rows := make([]row, len(ops))

	for i, op := range ops {
		var counter int64
		var isCounter int
		var expiresAt int64
		err := tx.QueryRowContext(ctx,
			`SELECT counter, is_counter, expires_at FROM kv WHERE key = ?`, op.Key,
		).Scan(&counter, &isCounter, &expiresAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return nil, unavailable("sqlite read counter", err)
		case expiresAt != 0 && expiresAt <= nowMs:
		case isCounter == 1:
			rows[i] = row{exists: true, counter: counter}
		}

		if wouldExceed(op, rows[i].counter) {
			return nil, &LimitExceededError{Index: i, Key: op.Key, Current: rows[i].counter, Limit: op.Limit}
		}
	}

	results := make([]int64, len(ops))
	for i, op := range ops {
		if !rows[i].exists {
			if op.Delta <= 0 {
				continue
			}
			var expiresAt int64
			if op.TTL > 0 {
				expiresAt = now.Add(op.TTL).UnixMilli()
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO kv (key, value, counter, is_counter, expires_at)
				VALUES (?, NULL, ?, 1, ?)
				ON CONFLICT (key) DO UPDATE SET
					value = NULL,
					counter = excluded.counter,
					is_counter = 1,
					expires_at = excluded.expires_at
			`, op.Key, op.Delta, expiresAt)
			if err != nil {
				return nil, unavailable("sqlite insert counter", err)
			}
			results[i] = op.Delta
			continue
		}

		value := applyDelta(rows[i].counter, op.Delta)
		if _, err := tx.ExecContext(ctx, `UPDATE kv SET counter = ? WHERE key = ?`, value, op.Key); err != nil {
			return nil, unavailable("sqlite update counter", err)
		}
		results[i] = value
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("sqlite commit", err)
	}
	return results, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var counter int64
	var isCounter int
	var expiresAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT value, counter, is_counter, expires_at FROM kv WHERE key = ?`, key,
	).Scan(&value, &counter, &isCounter, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("sqlite get", err)
	}
	if expiresAt != 0 && expiresAt <= s.now().UnixMilli() {
		return nil, false, nil
	}
	if isCounter == 1 {
		return []byte(strconv.FormatInt(counter, 10)), true, nil
	}
	return value, true, nil
}

// Set implements Store.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, counter, is_counter, expires_at)
		VALUES (?, ?, 0, 0, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			counter = 0,
			is_counter = 0,
			expires_at = excluded.expires_at
	`, key, value, expiresAt)
	if err != nil {
		return unavailable("sqlite set", err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
			return unavailable("sqlite delete", err)
		}
	}
	return nil
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("sqlite ping", err)
	}
	return nil
}

// Cleanup deletes expired rows and returns how many were removed.
func (s *SQLiteStore) Cleanup(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE expires_at != 0 AND expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Close stops the checkpoint loop and closes the database.
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		err = s.db.Close()
	})
	return err
}

// checkpointLoop checkpoints the WAL and drops expired rows.
func (s *SQLiteStore) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.Cleanup(context.Background())
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}
