// Package db implements the relational scan result backend. Every write is a
// new row holding one JSON-encoded scan result; rows are never updated.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/yourorg/scancache/internal/model"
	"github.com/yourorg/scancache/internal/storage"
)

// TableName is part of the on-disk format and must not change.
const TableName = "scan_results"

// SchemaError reports that the results table could not be verified or created.
type SchemaError struct {
	Table string
	Err   error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("ensure table %s: %v", e.Table, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// Store is the relational backend. The *sql.DB is owned by the caller.
type Store struct {
	db      *sql.DB
	dialect dialect
	log     *log.Logger
}

// New returns a Store on an already open connection. name selects the SQL
// dialect ("postgres" or "sqlite"); schema is ignored for sqlite.
func New(conn *sql.DB, name, schema string, logger *log.Logger) (*Store, error) {
	if conn == nil {
		return nil, errors.New("relational storage requires an open database connection")
	}
	d, err := dialectFor(name, schema)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Store{db: conn, dialect: d, log: logger}, nil
}

func (s *Store) Name() string { return s.dialect.name() }

// EnsureSchema creates the results table and its index unless the catalog
// already lists the table. It is safe to call on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	var exists bool
	query, args := s.dialect.tableExists()
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return &SchemaError{Table: s.dialect.table(), Err: err}
	}
	if exists {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &SchemaError{Table: s.dialect.table(), Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range s.dialect.createTable() {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return &SchemaError{Table: s.dialect.table(), Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &SchemaError{Table: s.dialect.table(), Err: err}
	}
	s.log.Info("created scan results table", "table", s.dialect.table())
	return nil
}

// Fetch returns the rows stored for id in insertion order. A row whose payload
// cannot be decoded is skipped.
func (s *Store) Fetch(ctx context.Context, id model.Identifier) storage.Lookup {
	rows, err := s.db.QueryContext(ctx, s.dialect.selectByIdentifier(), id.String())
	if err != nil {
		return storage.Failure(fmt.Errorf("query scan results for %s: %w", id, err))
	}
	defer rows.Close()

	c := model.EmptyContainer(id)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return storage.Failure(fmt.Errorf("scan row for %s: %w", id, err))
		}
		var r model.ScanResult
		if err := json.Unmarshal(payload, &r); err != nil {
			s.log.Warn("skipping undecodable scan result row", "id", id.String(), "err", err)
			continue
		}
		c.Results = append(c.Results, r)
	}
	if err := rows.Err(); err != nil {
		return storage.Failure(fmt.Errorf("read rows for %s: %w", id, err))
	}
	return storage.Found(c)
}

// Store appends one row. Existing rows for id are left untouched.
func (s *Store) Store(ctx context.Context, id model.Identifier, result model.ScanResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode scan result for %s: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.insert(), id.String(), string(payload)); err != nil {
		return fmt.Errorf("insert scan result for %s: %w", id, err)
	}
	return nil
}

func (s *Store) Identifiers(ctx context.Context) ([]model.Identifier, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.selectIdentifiers())
	if err != nil {
		return nil, fmt.Errorf("list identifiers: %w", err)
	}
	defer rows.Close()

	var ids []model.Identifier
	for rows.Next() {
		var coords string
		if err := rows.Scan(&coords); err != nil {
			return nil, err
		}
		ids = append(ids, model.ParseIdentifier(coords))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

var _ storage.Backend = (*Store)(nil)
