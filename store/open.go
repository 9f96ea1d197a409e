package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// OpenSQLite opens a SQLite database at path (":memory:" for an in-process
// database), enables foreign keys and runs the migrations.
func OpenSQLite(ctx context.Context, path string, opts Options) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// SQLite serializes writers and every :memory: connection is a separate
	// database, so a single connection is used.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	return finishOpen(ctx, db, SQLite, opts)
}

// OpenPostgres connects to PostgreSQL through pgx's database/sql adapter and
// runs the migrations.
func OpenPostgres(ctx context.Context, dsn string, opts Options) (*SQLStore, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	db := stdlib.OpenDB(*cfg)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return finishOpen(ctx, db, Postgres, opts)
}

func finishOpen(ctx context.Context, db *sql.DB, dialect Dialect, opts Options) (*SQLStore, error) {
	s, err := New(db, dialect, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
