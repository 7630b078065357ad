package db

import (
	"context"
	"database/sql"
	"encoding/json"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/hazyhaar/dbmcp/internal/errs"
)

// Column is one entry of PRAGMA table_info.
type Column struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	NotNull    bool    `json:"not_null"`
	Default    *string `json:"default,omitempty"`
	PrimaryKey bool    `json:"primary_key"`
}

// Table describes one user table.
type Table struct {
	Name     string   `json:"-"`
	Columns  []Column `json:"columns"`
	RowCount int64    `json:"row_count"`
}

// Schema lists the user tables ordered by name.
type Schema struct {
	Tables []Table
}

// Names returns the table names in schema order.
func (s Schema) Names() []string {
	out := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		out[i] = t.Name
	}
	return out
}

// Table looks a table up by exact name.
func (s Schema) Table(name string) (Table, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// MarshalJSON renders the schema as an object keyed by table name.
func (s Schema) MarshalJSON() ([]byte, error) {
	m := orderedmap.New[string, Table]()
	for _, t := range s.Tables {
		m.Set(t.Name, t)
	}
	return json.Marshal(m)
}

// CreateTable issues CREATE TABLE IF NOT EXISTS for a validated name and
// column definition list. Invalid input is refused before the database is
// opened.
func (s *Store) CreateTable(ctx context.Context, name, columnDefs string) error {
	if err := ValidateTableName(name); err != nil {
		return err
	}
	if err := ValidateColumnDefs(columnDefs); err != nil {
		return err
	}
	stmt := "CREATE TABLE IF NOT EXISTS " + quoteIdent(name) + " (" + columnDefs + ")"
	return s.withConn(ctx, false, func(c *conn) error {
		_, err := c.exec(ctx, stmt)
		return errs.Storage("create table "+name, err)
	})
}

// GetSchema introspects every user table: columns in declaration order and
// row count. It never mutates the database.
func (s *Store) GetSchema(ctx context.Context) (Schema, error) {
	var out Schema
	err := s.withConn(ctx, true, func(c *conn) error {
		names, err := listTables(ctx, c)
		if err != nil {
			return err
		}
		for _, name := range names {
			t, err := describeTable(ctx, c, name)
			if err != nil {
				return err
			}
			out.Tables = append(out.Tables, t)
		}
		return nil
	})
	return out, err
}

// TableSchema describes a single existing table.
func (s *Store) TableSchema(ctx context.Context, name string) (Table, error) {
	if err := ValidateIdentifier("table_name", name); err != nil {
		return Table{}, err
	}
	var out Table
	err := s.withConn(ctx, true, func(c *conn) error {
		t, err := describeTable(ctx, c, name)
		if err != nil {
			return err
		}
		if len(t.Columns) == 0 {
			return errs.InvalidField("table_name", "table %q does not exist", name)
		}
		out = t
		return nil
	})
	return out, err
}

// SampleRows returns the first limit rows of an existing table.
func (s *Store) SampleRows(ctx context.Context, table string, limit int) ([]Row, error) {
	if err := ValidateIdentifier("table_name", table); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	var out []Row
	err := s.withConn(ctx, true, func(c *conn) error {
		var n int
		if err := c.queryRow(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ? COLLATE NOCASE`,
			[]any{table}, &n); err != nil {
			return errs.Storage("sample "+table, err)
		}
		if n == 0 {
			return errs.InvalidField("table_name", "table %q does not exist", table)
		}
		rows, err := c.query(ctx, "SELECT * FROM "+quoteIdent(table)+" LIMIT ?", limit)
		if err != nil {
			return errs.Storage("sample "+table, err)
		}
		defer rows.Close()
		out, err = scanRows(rows)
		return errs.Storage("sample "+table, err)
	})
	return out, err
}

func listTables(ctx context.Context, c *conn) ([]string, error) {
	rows, err := c.query(ctx, `SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
		ORDER BY name`)
	if err != nil {
		return nil, errs.Storage("list tables", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errs.Storage("list tables", err)
		}
		names = append(names, name)
	}
	return names, errs.Storage("list tables", rows.Err())
}

// describeTable reads columns and row count. name comes from sqlite_master
// or has passed ValidateIdentifier.
func describeTable(ctx context.Context, c *conn, name string) (Table, error) {
	t := Table{Name: name}
	rows, err := c.query(ctx, "PRAGMA table_info("+quoteIdent(name)+")")
	if err != nil {
		return t, errs.Storage("describe "+name, err)
	}
	for rows.Next() {
		var (
			cid     int
			col     Column
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &col.Name, &col.Type, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return t, errs.Storage("describe "+name, err)
		}
		col.NotNull = notNull != 0
		col.PrimaryKey = pk != 0
		if dflt.Valid {
			col.Default = &dflt.String
		}
		t.Columns = append(t.Columns, col)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return t, errs.Storage("describe "+name, err)
	}
	if len(t.Columns) == 0 {
		return t, nil
	}

	if err := c.queryRow(ctx, "SELECT COUNT(*) FROM "+quoteIdent(name), nil, &t.RowCount); err != nil {
		return t, errs.Storage("count "+name, err)
	}
	return t, nil
}
