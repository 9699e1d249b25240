package db

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

type dialect interface {
	name() string
	table() string
	tableExists() (string, []any)
	createTable() []string
	selectByIdentifier() string
	selectIdentifiers() string
	insert() string
}

func dialectFor(name, schema string) (dialect, error) {
	switch strings.ToLower(name) {
	case "", "postgres", "postgresql":
		if schema == "" {
			schema = "public"
		}
		return postgres{schema: schema}, nil
	case "sqlite":
		return sqlite{}, nil
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", name)
	}
}

type postgres struct {
	schema string
}

func (postgres) name() string { return "postgres" }

func (d postgres) table() string {
	return pgx.Identifier{d.schema, TableName}.Sanitize()
}

func (d postgres) sequence() string {
	return pgx.Identifier{d.schema, TableName + "_id_seq"}.Sanitize()
}

func (d postgres) tableExists() (string, []any) {
	return `SELECT EXISTS (
		SELECT 1 FROM pg_catalog.pg_tables
		WHERE schemaname = $1 AND tablename = $2
	)`, []any{d.schema, TableName}
}

func (d postgres) createTable() []string {
	seq := d.sequence()
	return []string{
		fmt.Sprintf(`CREATE SEQUENCE %s`, seq),
		fmt.Sprintf(`CREATE TABLE %s (
  id integer PRIMARY KEY DEFAULT nextval('%s'),
  identifier text NOT NULL,
  scan_result jsonb NOT NULL
)`, d.table(), strings.ReplaceAll(seq, "'", "''")),
		fmt.Sprintf(`ALTER SEQUENCE %s OWNED BY %s.id`, seq, d.table()),
		fmt.Sprintf(`CREATE INDEX %s ON %s USING btree (identifier)`,
			pgx.Identifier{TableName + "_identifier_idx"}.Sanitize(), d.table()),
	}
}

func (d postgres) selectByIdentifier() string {
	return fmt.Sprintf(`SELECT scan_result::text FROM %s WHERE identifier = $1 ORDER BY id`, d.table())
}

func (d postgres) selectIdentifiers() string {
	return fmt.Sprintf(`SELECT DISTINCT identifier FROM %s`, d.table())
}

func (d postgres) insert() string {
	return fmt.Sprintf(`INSERT INTO %s (identifier, scan_result) VALUES ($1, $2::jsonb)`, d.table())
}

type sqlite struct{}

func (sqlite) name() string { return "sqlite" }

func (sqlite) table() string { return `"` + TableName + `"` }

func (sqlite) tableExists() (string, []any) {
	return `SELECT EXISTS (
		SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?
	)`, []any{TableName}
}

func (d sqlite) createTable() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE %s (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  identifier TEXT NOT NULL,
  scan_result TEXT NOT NULL
)`, d.table()),
		fmt.Sprintf(`CREATE INDEX "%s_identifier_idx" ON %s (identifier)`, TableName, d.table()),
	}
}

func (d sqlite) selectByIdentifier() string {
	return fmt.Sprintf(`SELECT scan_result FROM %s WHERE identifier = ? ORDER BY id`, d.table())
}

func (d sqlite) selectIdentifiers() string {
	return fmt.Sprintf(`SELECT DISTINCT identifier FROM %s`, d.table())
}

func (d sqlite) insert() string {
	return fmt.Sprintf(`INSERT INTO %s (identifier, scan_result) VALUES (?, ?)`, d.table())
}
