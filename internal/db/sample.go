package db

import (
	"context"
	"strings"

	"github.com/hazyhaar/dbmcp/internal/errs"
)

type sampleSet struct {
	table   string
	columns []string
	rows    [][]any
}

// sampleData is the fixed set written by InsertSampleData. Explicit ids make
// repeated calls no-ops under INSERT OR IGNORE.
var sampleData = []sampleSet{
	{
		table:   "users",
		columns: []string{"id", "name", "email", "age"},
		rows: [][]any{
			{1, "John Doe", "john@example.com", 30},
			{2, "Jane Smith", "jane@example.com", 25},
		},
	},
	{
		table:   "products",
		columns: []string{"id", "name", "price", "category", "stock_quantity"},
		rows: [][]any{
			{1, "Laptop", 999.99, "Electronics", 10},
			{2, "Coffee Mug", 12.99, "Kitchen", 50},
		},
	},
	{
		table:   "orders",
		columns: []string{"id", "user_id", "product_id", "quantity", "total_price"},
		rows: [][]any{
			{1, 1, 1, 1, 999.99},
			{2, 2, 2, 3, 38.97},
		},
	},
}

// InsertResult reports how many new rows each table received.
type InsertResult struct {
	Table    string
	Inserted int64
}

// InsertSampleData writes the fixed sample rows, one statement per table.
// A failed statement stops the run; earlier tables keep their rows.
func (s *Store) InsertSampleData(ctx context.Context) ([]InsertResult, error) {
	var out []InsertResult
	err := s.withConn(ctx, false, func(c *conn) error {
		for _, set := range sampleData {
			stmt, args := set.statement()
			res, err := c.exec(ctx, stmt, args...)
			if err != nil {
				return errs.Storage("insert "+set.table, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return errs.Storage("insert "+set.table, err)
			}
			out = append(out, InsertResult{Table: set.table, Inserted: n})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (set sampleSet) statement() (string, []any) {
	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(set.columns)), ", ") + ")"
	values := make([]string, len(set.rows))
	args := make([]any, 0, len(set.rows)*len(set.columns))
	for i, r := range set.rows {
		values[i] = placeholders
		args = append(args, r...)
	}
	stmt := "INSERT OR IGNORE INTO " + set.table +
		" (" + strings.Join(set.columns, ", ") + ") VALUES " + strings.Join(values, ", ")
	return stmt, args
}
