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

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"RecipeAcquisition/internal/clock"
	"RecipeAcquisition/internal/config"
	"RecipeAcquisition/internal/domain"
	"RecipeAcquisition/internal/ports"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// timeLayout is fixed-width so text timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// runner is satisfied by both *sql.DB and *sql.Tx.
type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every statement; it runs either on the pool or inside a transaction.
type queries struct {
	run    runner
	sb     sq.StatementBuilderType
	driver string
	clock  clock.Clock
}

// Store persists the catalog, drafts, scrape jobs and the audit log in one SQL database.
type Store struct {
	queries
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ ports.CatalogRepository = (*Store)(nil)
	_ ports.DraftRepository   = (*Store)(nil)
	_ ports.JobRepository     = (*Store)(nil)
	_ ports.AuditLog          = (*Store)(nil)
	_ ports.AuditReader       = (*Store)(nil)
)

// Open connects to the configured database and creates the schema if needed.
func Open(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock, logger *slog.Logger) (*Store, error) {
	if clk == nil {
		clk = clock.Real{}
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverSQLite, "":
		driver = DriverSQLite
		db, err = openSQLite(cfg.DSN)
	case DriverPostgres, "postgresql":
		driver = DriverPostgres
		db, err = sql.Open("postgres", cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	var placeholders sq.PlaceholderFormat = sq.Question
	if driver == DriverPostgres {
		placeholders = sq.Dollar
	}
	s := &Store{
		queries: queries{
			run:    db,
			sb:     sq.StatementBuilder.PlaceholderFormat(placeholders),
			driver: driver,
			clock:  clk,
		},
		db:     db,
		logger: logger,
	}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if logger != nil {
		logger.Info("storage ready", "driver", driver)
	}
	return s, nil
}

func openSQLite(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("sqlite dsn is empty")
	}
	if path := strings.TrimPrefix(dsn, "file:"); !strings.Contains(path, ":memory:") {
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection serializes writers so transactions never interleave.
	db.SetMaxOpenConns(1)
	return db, nil
}

// withPragmas puts the connection pragmas into the DSN so every new connection gets them.
func withPragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Driver reports the active SQL dialect.
func (s *Store) Driver() string { return s.driver }

// Transactionally runs fn inside one transaction. Postgres uses SERIALIZABLE isolation;
// SQLite is serialized by its single connection.
func (s *Store) Transactionally(ctx context.Context, fn func(tx ports.CatalogTx) error) error {
	opts := &sql.TxOptions{}
	if s.driver == DriverPostgres {
		opts.Isolation = sql.LevelSerializable
	}
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return mapErr(fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	scoped := &queries{run: tx, sb: s.sb, driver: s.driver, clock: s.clock}
	if err := fn(scoped); err != nil {
		return mapErr(err)
	}
	if err := tx.Commit(); err != nil {
		return mapErr(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// mapErr turns uniqueness and serialization failures into ErrCatalogConflict.
func mapErr(err error) error {
	if err == nil || errors.Is(err, domain.ErrCatalogConflict) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505", "40001", "40P01":
			return fmt.Errorf("%w: %w", domain.ErrCatalogConflict, err)
		}
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		switch code & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", domain.ErrCatalogConflict, err)
		case sqlite3.SQLITE_CONSTRAINT:
			if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
				strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return fmt.Errorf("%w: %w", domain.ErrCatalogConflict, err)
			}
		}
	}
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		if t, err = time.Parse(time.RFC3339Nano, s); err != nil {
			return time.Time{}
		}
	}
	return t
}

func (q *queries) now() time.Time {
	return q.clock.Now().UTC()
}

func (q *queries) exec(ctx context.Context, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build statement: %w", err)
	}
	res, err := q.run.ExecContext(ctx, query, args...)
	return res, mapErr(err)
}

func (q *queries) query(ctx context.Context, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return q.run.QueryContext(ctx, query, args...)
}

func (q *queries) queryRow(ctx context.Context, b sq.Sqlizer) (*sql.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return q.run.QueryRowContext(ctx, query, args...), nil
}

// insertReturningID runs an INSERT ... RETURNING id, supported by both dialects.
func (q *queries) insertReturningID(ctx context.Context, b sq.InsertBuilder) (int64, error) {
	row, err := q.queryRow(ctx, b.Suffix("RETURNING id"))
	if err != nil {
		return 0, err
	}
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, mapErr(err)
	}
	return id, nil
}

func affected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
