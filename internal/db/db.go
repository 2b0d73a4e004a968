package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	_ "github.com/tursodatabase/libsql-client-go/libsql"

	"github.com/SkyNet7k/rifas-backend-sub000/internal/metrics"
)

// Dialect identifies the backend behind a Store.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectLibSQL   Dialect = "libsql"
	DialectPostgres Dialect = "postgres"
)

var (
	// ErrNotFound is returned when a row the caller asked for does not exist.
	ErrNotFound = errors.New("db: not found")
	// ErrConflict is returned when a transaction kept losing serialization races.
	ErrConflict = errors.New("db: serialization conflict")
)

const (
	defaultMaxAttempts = 3
	defaultBackoff     = 20 * time.Millisecond
)

func init() {
	sqlx.BindDriver("libsql", sqlx.QUESTION)
}

// Store is the persistence adapter. Reads through the embedded Queries run
// outside a transaction and see the last committed state.
type Store struct {
	Queries

	db          *sqlx.DB
	dialect     Dialect
	maxAttempts int
	backoff     time.Duration
	log         logrus.FieldLogger
}

type Option func(*Store)

func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithBackoff(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.backoff = d
		}
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// New wraps an already opened database.
func New(dbx *sqlx.DB, dialect Dialect, opts ...Option) *Store {
	s := &Store{
		Queries:     &queries{ext: dbx},
		db:          dbx,
		dialect:     dialect,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
		log:         logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to the database named by rawURL, pings it and creates the
// tables if they don't exist.
func Open(ctx context.Context, rawURL, authToken string, opts ...Option) (*Store, error) {
	driverName, dsn, dialect, err := ParseURL(rawURL, authToken)
	if err != nil {
		return nil, err
	}

	dbx, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := dbx.PingContext(ctx); err != nil {
		dbx.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if dialect == DialectPostgres {
		dbx.SetMaxOpenConns(25)
		dbx.SetMaxIdleConns(25)
		dbx.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := Migrate(ctx, dbx); err != nil {
		dbx.Close()
		return nil, err
	}

	return New(dbx, dialect, opts...), nil
}

// ParseURL maps a DATABASE_URL onto a registered driver.
func ParseURL(rawURL, authToken string) (driverName, dsn string, dialect Dialect, err error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", "", "", errors.New("database url is empty")
	}

	switch {
	case strings.HasPrefix(rawURL, "postgres://"), strings.HasPrefix(rawURL, "postgresql://"):
		return "postgres", rawURL, DialectPostgres, nil

	case strings.HasPrefix(rawURL, "libsql://"), strings.HasPrefix(rawURL, "https://"),
		strings.HasPrefix(rawURL, "http://"), strings.HasPrefix(rawURL, "wss://"), strings.HasPrefix(rawURL, "ws://"):
		u, perr := url.Parse(rawURL)
		if perr != nil {
			return "", "", "", fmt.Errorf("invalid libsql url: %w", perr)
		}
		if authToken != "" {
			q := u.Query()
			q.Set("authToken", authToken)
			u.RawQuery = q.Encode()
		}
		return "libsql", u.String(), DialectLibSQL, nil

	default:
		path := strings.TrimPrefix(rawURL, "sqlite://")
		if !strings.HasPrefix(path, "file:") {
			path = "file:" + path
		}
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		// IMMEDIATE makes every write transaction take the write lock at BEGIN,
		// so read-check-write sequences can't interleave.
		path += sep + "_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
		return "sqlite3", path, DialectSQLite, nil
	}
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTransaction runs fn inside a serializable transaction. fn may be
// executed more than once: it is retried when the backend reports a
// serialization conflict, up to the configured attempt budget, after which
// ErrConflict is returned. fn must not keep state between attempts.
func (s *Store) WithTransaction(ctx context.Context, fn func(q Queries) error) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}

		lastErr = err
		metrics.TxRetries.Inc()
		s.log.WithField("attempt", attempt).WithError(err).Warn("transaction conflict")

		if attempt < s.maxAttempts {
			if err := s.sleep(ctx, attempt); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrConflict, s.maxAttempts, lastErr)
}

func (s *Store) runTx(ctx context.Context, fn func(q Queries) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, s.txOptions())
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&queries{ext: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) txOptions() *sql.TxOptions {
	if s.dialect == DialectPostgres {
		return &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	// SQLite is serializable already; its drivers reject explicit levels.
	return nil
}

// sleep waits base*2^(attempt-1) plus up to one base of jitter.
func (s *Store) sleep(ctx context.Context, attempt int) error {
	d := s.backoff<<(attempt-1) + rand.N(s.backoff)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsRetryable reports whether err is a serialization failure that a fresh
// attempt of the same transaction may not hit again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// serialization_failure, deadlock_detected. A unique_violation on a
		// sale ticket means another transaction took the same counter value.
		switch pqErr.Code {
		case "40001", "40P01", "23505":
			return true
		}
		return false
	}

	// libsql reports SQLite codes as text over the wire.
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
