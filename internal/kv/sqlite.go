package kv

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // register sqlite driver
)

// OpenSQLite opens (or creates) a database file for SQLiteTable. ":memory:"
// gives a private in-memory database.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("creating sqlite dir: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=synchronous(normal)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// one writer at a time; for :memory: this also keeps a single database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}
	return db, nil
}

// SQLiteTable is the file-backed single-node layout of PostgresTable:
// one kv_items table, JSON attributes and json_extract expression indexes.
type SQLiteTable struct {
	db     *sql.DB
	schema Schema
}

func NewSQLiteTable(db *sql.DB, schema Schema) *SQLiteTable {
	return &SQLiteTable{db: db, schema: schema}
}

const sqliteSchemaSQL = `
CREATE TABLE IF NOT EXISTS kv_items (
	tbl   TEXT NOT NULL,
	pk    TEXT NOT NULL,
	sk    TEXT NOT NULL DEFAULT '',
	attrs TEXT NOT NULL,
	body  BLOB,
	PRIMARY KEY (tbl, pk, sk)
)`

// Migrate creates kv_items and the expression indexes of this table.
func (t *SQLiteTable) Migrate(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, sqliteSchemaSQL); err != nil {
		return fmt.Errorf("creating kv_items: %w", err)
	}
	for _, name := range t.schema.indexNames() {
		idx := t.schema.Indexes[name]
		cols := sqliteAttr(idx.PartitionKey)
		if idx.SortKey != "" {
			cols += ", " + sqliteAttr(idx.SortKey)
		}
		stmt := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON kv_items (tbl, %s)`,
			sqlIdent("kv_"+t.schema.Name+"_"+name), cols)
		if _, err := t.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating index %s: %w", name, err)
		}
	}
	return nil
}

// sqliteAttr must be spelled the same in indexes and queries for the
// planner to use the expression index.
func sqliteAttr(name string) string {
	return fmt.Sprintf(`json_extract(attrs, %s)`, sqlLiteral(`$."`+name+`"`))
}

func (t *SQLiteTable) Schema() Schema {
	return t.schema
}

func (t *SQLiteTable) Put(ctx context.Context, item Item) error {
	key, err := t.schema.validate(item)
	if err != nil {
		return err
	}
	attrs, err := json.Marshal(item.Attrs)
	if err != nil {
		return fmt.Errorf("encoding attributes: %w", err)
	}

	_, err = t.db.ExecContext(ctx, `
		INSERT INTO kv_items (tbl, pk, sk, attrs, body) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tbl, pk, sk) DO UPDATE SET attrs = excluded.attrs, body = excluded.body`,
		t.schema.Name, key.Partition, key.Sort, string(attrs), item.Body)
	if err != nil {
		return fmt.Errorf("putting item into %s: %w", t.schema.Name, err)
	}
	return nil
}

func (t *SQLiteTable) Get(ctx context.Context, key Key) (Item, error) {
	var raw string
	var body []byte
	err := t.db.QueryRowContext(ctx,
		`SELECT attrs, body FROM kv_items WHERE tbl = ? AND pk = ? AND sk = ?`,
		t.schema.Name, key.Partition, key.Sort).Scan(&raw, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("getting item from %s: %w", t.schema.Name, err)
	}
	return decodeRow([]byte(raw), body)
}

func (t *SQLiteTable) Query(ctx context.Context, q Query) ([]Item, error) {
	idx, err := t.schema.validateQuery(q)
	if err != nil {
		return nil, err
	}

	var query string
	args := []any{t.schema.Name, q.Partition}
	if q.Index == "" {
		query = `SELECT attrs, body FROM kv_items WHERE tbl = ? AND pk = ?`
		if q.Sort != nil {
			query += ` AND sk BETWEEN ? AND ?`
			args = append(args, q.Sort.lo, q.Sort.hi)
		}
		query += ` ORDER BY sk`
	} else {
		query = fmt.Sprintf(`SELECT attrs, body FROM kv_items WHERE tbl = ? AND %s = ?`, sqliteAttr(idx.PartitionKey))
		order := `pk, sk`
		if idx.SortKey != "" {
			sortExpr := sqliteAttr(idx.SortKey)
			query += fmt.Sprintf(` AND %s IS NOT NULL`, sortExpr)
			if q.Sort != nil {
				query += fmt.Sprintf(` AND %s BETWEEN ? AND ?`, sortExpr)
				args = append(args, q.Sort.lo, q.Sort.hi)
			}
			order = sortExpr + `, pk, sk`
		}
		query += ` ORDER BY ` + order
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", t.schema.Name, err)
	}
	defer func() { _ = rows.Close() }()

	var items []Item
	for rows.Next() {
		var raw string
		var body []byte
		if err := rows.Scan(&raw, &body); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		item, err := decodeRow([]byte(raw), body)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (t *SQLiteTable) Delete(ctx context.Context, key Key) error {
	_, err := t.db.ExecContext(ctx,
		`DELETE FROM kv_items WHERE tbl = ? AND pk = ? AND sk = ?`,
		t.schema.Name, key.Partition, key.Sort)
	if err != nil {
		return fmt.Errorf("deleting item from %s: %w", t.schema.Name, err)
	}
	return nil
}

func (t *SQLiteTable) BatchDelete(ctx context.Context, keys []Key) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM kv_items WHERE tbl = ? AND pk = ? AND sk = ?`)
	if err != nil {
		return fmt.Errorf("preparing batch delete: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, k := range keys {
		if _, err := stmt.ExecContext(ctx, t.schema.Name, k.Partition, k.Sort); err != nil {
			return fmt.Errorf("batch deleting from %s: %w", t.schema.Name, err)
		}
	}
	return tx.Commit()
}
