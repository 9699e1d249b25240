package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// OpenPostgres opens a pooled connection and checks it is reachable. The
// caller owns the returned handle and closes it with the returned func.
func OpenPostgres(ctx context.Context, url string) (*sql.DB, func(), error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	conn := stdlib.OpenDBFromPool(pool)
	closeFn := func() {
		_ = conn.Close()
		pool.Close()
	}
	return conn, closeFn, nil
}

// OpenSQLite opens a SQLite database file. Use ":memory:" for a private
// in-memory database.
func OpenSQLite(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: SQLite allows a single writer, and each pooled
	// connection to ":memory:" would see its own empty database.
	conn.SetMaxOpenConns(1)
	return conn, nil
}

// IsInsufficientPrivilege reports whether err is a postgres permission error.
func IsInsufficientPrivilege(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42501"
}
