package cache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver registration.
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const tableName = "cache_entries"

// gooseMu serializes goose's package-level configuration.
var gooseMu sync.Mutex

// SQLiteStore is a durable Cache backed by a SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// NewSQLiteStore opens (or creates) periscope.db inside dir and applies
// pending migrations.
func NewSQLiteStore(ctx context.Context, dir string) (*SQLiteStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	path := filepath.Join(dir, "periscope.db")

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, path: path, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) liveAt() sq.Or {
	return sq.Or{sq.Eq{"expires_at": nil}, sq.Gt{"expires_at": s.now().UnixNano()}}
}

// Get returns the value for key if present and unexpired.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	query, args, err := sq.Select("value").From(tableName).
		Where(sq.Eq{"key": key}).Where(s.liveAt()).ToSql()
	if err != nil {
		return "", false, fmt.Errorf("build get query: %w", err)
	}

	var value string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// Set upserts value under key for ttl (0 = forever).
func (s *SQLiteStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	now := s.now()
	var expires any
	if ttl > 0 {
		expires = now.Add(ttl).UnixNano()
	}

	query, args, err := sq.Insert(tableName).
		Columns("key", "value", "expires_at", "updated_at").
		Values(key, value, expires, now.UnixNano()).
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build set query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// SetEX is Set with the TTL first.
func (s *SQLiteStore) SetEX(ctx context.Context, key string, ttl time.Duration, value string) error {
	return s.Set(ctx, key, value, ttl)
}

// Delete removes key and reports whether a live entry was removed.
func (s *SQLiteStore) Delete(ctx context.Context, key string) (bool, error) {
	query, args, err := sq.Delete(tableName).Where(sq.Eq{"key": key}).Where(s.liveAt()).ToSql()
	if err != nil {
		return false, fmt.Errorf("build delete query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	// Drop any expired leftover as well.
	if n == 0 {
		if q, a, err := sq.Delete(tableName).Where(sq.Eq{"key": key}).ToSql(); err == nil {
			_, _ = s.db.ExecContext(ctx, q, a...)
		}
	}
	return n > 0, nil
}

// Exists reports whether key holds a live entry.
func (s *SQLiteStore) Exists(ctx context.Context, key string) (bool, error) {
	query, args, err := sq.Select("1").From(tableName).
		Where(sq.Eq{"key": key}).Where(s.liveAt()).Limit(1).ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists query: %w", err)
	}
	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return true, nil
}

// Clear drops every entry.
func (s *SQLiteStore) Clear(ctx context.Context) (bool, error) {
	query, args, err := sq.Delete(tableName).ToSql()
	if err != nil {
		return false, fmt.Errorf("build clear query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return false, fmt.Errorf("clear cache: %w", err)
	}
	return true, nil
}

// Purge deletes expired entries and returns how many were removed.
func (s *SQLiteStore) Purge(ctx context.Context) (int64, error) {
	query, args, err := sq.Delete(tableName).
		Where(sq.NotEq{"expires_at": nil}).
		Where(sq.LtOrEq{"expires_at": s.now().UnixNano()}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build purge query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("purge cache: %w", err)
	}
	return res.RowsAffected()
}

// Stats reports entry counts and payload size.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	now := s.now().UnixNano()
	query, args, err := sq.Select().
		Column(sq.Expr("COUNT(CASE WHEN expires_at IS NULL OR expires_at > ? THEN 1 END)", now)).
		Column(sq.Expr("COUNT(CASE WHEN expires_at IS NOT NULL AND expires_at <= ? THEN 1 END)", now)).
		Column(sq.Expr("COALESCE(SUM(CASE WHEN expires_at IS NULL OR expires_at > ? THEN LENGTH(value) END), 0)", now)).
		From(tableName).ToSql()
	if err != nil {
		return Stats{}, fmt.Errorf("build stats query: %w", err)
	}

	var st Stats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&st.Entries, &st.Expired, &st.Bytes); err != nil {
		return Stats{}, fmt.Errorf("cache stats: %w", err)
	}
	return st, nil
}
