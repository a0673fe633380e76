package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the Postgres backend needs.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresTable keeps every logical table in one kv_items relation. The
// key and index attributes live in a JSONB column; each secondary index is
// an expression index over it. Text columns use the "C" collation so
// ordering is bytewise like the other backends.
type PostgresTable struct {
	db     DB
	schema Schema
}

func NewPostgresTable(db DB, schema Schema) *PostgresTable {
	return &PostgresTable{db: db, schema: schema}
}

const postgresSchemaSQL = `
CREATE TABLE IF NOT EXISTS kv_items (
	tbl   TEXT COLLATE "C" NOT NULL,
	pk    TEXT COLLATE "C" NOT NULL,
	sk    TEXT COLLATE "C" NOT NULL DEFAULT '',
	attrs JSONB NOT NULL,
	body  BYTEA,
	PRIMARY KEY (tbl, pk, sk)
)`

// Migrate creates kv_items and the expression indexes of this table.
func (t *PostgresTable) Migrate(ctx context.Context) error {
	if _, err := t.db.Exec(ctx, postgresSchemaSQL); err != nil {
		return fmt.Errorf("failed to create kv_items: %w", err)
	}
	for _, name := range t.schema.indexNames() {
		idx := t.schema.Indexes[name]
		cols := pgAttr(idx.PartitionKey)
		if idx.SortKey != "" {
			cols += ", " + pgAttr(idx.SortKey)
		}
		stmt := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON kv_items (tbl, %s)`,
			sqlIdent("kv_"+t.schema.Name+"_"+name), cols)
		if _, err := t.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index %s: %w", name, err)
		}
	}
	return nil
}

// pgAttr is the SQL expression reading attribute name out of attrs.
func pgAttr(name string) string {
	return fmt.Sprintf(`((attrs->>%s) COLLATE "C")`, sqlLiteral(name))
}

func sqlLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// sqlIdent lowercases s and replaces anything outside [a-z0-9_].
func sqlIdent(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (t *PostgresTable) Schema() Schema {
	return t.schema
}

func (t *PostgresTable) Put(ctx context.Context, item Item) error {
	key, err := t.schema.validate(item)
	if err != nil {
		return err
	}
	attrs, err := json.Marshal(item.Attrs)
	if err != nil {
		return fmt.Errorf("failed to encode attributes: %w", err)
	}

	query := `
		INSERT INTO kv_items (tbl, pk, sk, attrs, body)
		VALUES ($1, $2, $3, $4::jsonb, $5)
		ON CONFLICT (tbl, pk, sk) DO UPDATE SET attrs = EXCLUDED.attrs, body = EXCLUDED.body
	`
	if _, err := t.db.Exec(ctx, query, t.schema.Name, key.Partition, key.Sort, string(attrs), item.Body); err != nil {
		return fmt.Errorf("failed to put item into %s: %w", t.schema.Name, err)
	}
	return nil
}

func (t *PostgresTable) Get(ctx context.Context, key Key) (Item, error) {
	query := `SELECT attrs, body FROM kv_items WHERE tbl = $1 AND pk = $2 AND sk = $3`

	var raw, body []byte
	err := t.db.QueryRow(ctx, query, t.schema.Name, key.Partition, key.Sort).Scan(&raw, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("failed to get item from %s: %w", t.schema.Name, err)
	}
	return decodeRow(raw, body)
}

func (t *PostgresTable) Query(ctx context.Context, q Query) ([]Item, error) {
	idx, err := t.schema.validateQuery(q)
	if err != nil {
		return nil, err
	}

	var query string
	args := []any{t.schema.Name, q.Partition}
	if q.Index == "" {
		query = `SELECT attrs, body FROM kv_items WHERE tbl = $1 AND pk = $2`
		if q.Sort != nil {
			query += ` AND sk BETWEEN $3 AND $4`
			args = append(args, q.Sort.lo, q.Sort.hi)
		}
		query += ` ORDER BY sk`
	} else {
		query = fmt.Sprintf(`SELECT attrs, body FROM kv_items WHERE tbl = $1 AND %s = $2`, pgAttr(idx.PartitionKey))
		order := `pk, sk`
		if idx.SortKey != "" {
			sortExpr := pgAttr(idx.SortKey)
			query += fmt.Sprintf(` AND %s IS NOT NULL`, sortExpr)
			if q.Sort != nil {
				query += fmt.Sprintf(` AND %s BETWEEN $3 AND $4`, sortExpr)
				args = append(args, q.Sort.lo, q.Sort.hi)
			}
			order = sortExpr + `, pk, sk`
		}
		query += ` ORDER BY ` + order
	}

	rows, err := t.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", t.schema.Name, err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var raw, body []byte
		if err := rows.Scan(&raw, &body); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		item, err := decodeRow(raw, body)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", t.schema.Name, err)
	}
	return items, nil
}

func (t *PostgresTable) Delete(ctx context.Context, key Key) error {
	query := `DELETE FROM kv_items WHERE tbl = $1 AND pk = $2 AND sk = $3`
	if _, err := t.db.Exec(ctx, query, t.schema.Name, key.Partition, key.Sort); err != nil {
		return fmt.Errorf("failed to delete item from %s: %w", t.schema.Name, err)
	}
	return nil
}

func (t *PostgresTable) BatchDelete(ctx context.Context, keys []Key) error {
	if len(keys) == 0 {
		return nil
	}
	pks := make([]string, len(keys))
	sks := make([]string, len(keys))
	for i, k := range keys {
		pks[i], sks[i] = k.Partition, k.Sort
	}

	query := `
		DELETE FROM kv_items
		WHERE tbl = $1 AND (pk, sk) IN (SELECT * FROM unnest($2::text[], $3::text[]))
	`
	if _, err := t.db.Exec(ctx, query, t.schema.Name, pks, sks); err != nil {
		return fmt.Errorf("failed to batch delete from %s: %w", t.schema.Name, err)
	}
	return nil
}

func decodeRow(raw, body []byte) (Item, error) {
	var attrs map[string]string
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return Item{}, fmt.Errorf("failed to decode attributes: %w", err)
	}
	return Item{Attrs: attrs, Body: body}, nil
}
