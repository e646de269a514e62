package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

func init() {
	// modernc's driver name is missing from sqlx's default bind table.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

type Config struct {
	DSN             string // PostgreSQL DSN; empty selects the embedded engine
	SQLitePath      string // SQLite file path, or ":memory:"
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// DB bundles the sqlx handle with the pgx pool backing it. The pool is nil
// when running on the embedded SQLite engine.
type DB struct {
	*sqlx.DB
	pool *pgxpool.Pool
}

// Open connects to PostgreSQL when a DSN is configured and falls back to the
// embedded SQLite database at cfg.SQLitePath otherwise.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if cfg.DSN == "" {
		return openSQLite(cfg, logger)
	}
	return openPostgres(ctx, cfg, logger)
}

func openPostgres(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	logger.Info("connecting to database", "driver", "pgx")
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}

	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "receipts-index"

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}

	db := sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx")
	logger.Info("successfully connected to database")
	return &DB{DB: db, pool: pool}, nil
}

func openSQLite(cfg Config, logger *slog.Logger) (*DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = ":memory:"
	}
	logger.Info("opening embedded database", "path", path)
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		logger.Error("failed to open embedded database", "error", err)
		return nil, err
	}
	// One connection only: a memory database would otherwise hand every
	// pooled connection its own empty schema.
	db.SetMaxOpenConns(1)
	return &DB{DB: db}, nil
}

// Close closes the database connections gracefully
func (d *DB) Close(logger *slog.Logger) {
	logger.Info("closing database connections")
	if err := d.DB.Close(); err != nil {
		logger.Error("failed to close database handle", "error", err)
	}
	if d.pool != nil {
		d.pool.Close()
	}
	logger.Info("database connections closed")
}

// HealthCheck pings using database/sql to catch DSN issues early.
func (d *DB) HealthCheck(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return d.PingContext(ctx)
}
