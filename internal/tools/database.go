package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/hazyhaar/dbmcp/pkg/mcprt"
)

func (t *Tools) databaseTools() []mcprt.Descriptor {
	return []mcprt.Descriptor{
		{
			Name:        "query_database",
			Description: "Execute a read-only SQL query on the database. Only a single SELECT statement is accepted; results are returned as a JSON array of rows.",
			Params: []mcprt.Param{
				{Name: "sql", Type: mcprt.String, Required: true, Description: "The SELECT statement to execute"},
				{Name: "params", Type: mcprt.Array, Items: []mcprt.ParamType{mcprt.String, mcprt.Number, mcprt.Boolean},
					Description: "Positional values bound to ? placeholders"},
			},
			Handler: t.queryDatabase,
		},
		{
			Name:        "insert_sample_data",
			Description: "Insert a fixed set of sample users, products and orders. Running it again adds nothing.",
			Handler:     t.insertSampleData,
		},
		{
			Name:        "get_database_schema",
			Description: "Get the complete database schema: every table with its columns and row count.",
			Handler:     t.getDatabaseSchema,
		},
		{
			Name:        "create_table",
			Description: "Create a new table if it does not exist. The name must be a plain identifier; columns is the column definition list that goes between the parentheses.",
			Params: []mcprt.Param{
				{Name: "table_name", Type: mcprt.String, Required: true, Description: "Name for the new table"},
				{Name: "columns", Type: mcprt.String, Required: true, Description: "Column definitions, e.g. \"id INTEGER PRIMARY KEY, title TEXT NOT NULL\""},
			},
			Handler: t.createTable,
		},
	}
}

func (t *Tools) queryDatabase(ctx context.Context, args mcprt.Args) (string, error) {
	return t.store.QueryJSON(ctx, args.String("sql"), args.Slice("params")...)
}

func (t *Tools) insertSampleData(ctx context.Context, _ mcprt.Args) (string, error) {
	results, err := t.store.InsertSampleData(ctx)
	if err != nil {
		return "", err
	}
	counts := make([]string, len(results))
	for i, r := range results {
		counts[i] = fmt.Sprintf("%s: %d new", r.Table, r.Inserted)
	}
	return "Sample data inserted successfully! (" + strings.Join(counts, ", ") + ")", nil
}

func (t *Tools) getDatabaseSchema(ctx context.Context, _ mcprt.Args) (string, error) {
	schema, err := t.store.GetSchema(ctx)
	if err != nil {
		return "", err
	}
	return prettyJSON(schema)
}

func (t *Tools) createTable(ctx context.Context, args mcprt.Args) (string, error) {
	name := args.String("table_name")
	if err := t.store.CreateTable(ctx, name, args.String("columns")); err != nil {
		return "", err
	}
	return fmt.Sprintf("Table '%s' created successfully!", name), nil
}
