package e2e

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestToolsList(t *testing.T) {
	h, _, tok := ensureHarness(t)

	var res struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	h.Call(t, "tools/list", map[string]any{}, tok, &res)

	want := []string{
		"query_database", "insert_sample_data", "get_database_schema", "create_table",
		"chat_with_ollama", "list_ollama_models", "analyze_data_with_llm",
		"chat_with_context", "analyze_database", "generate_sql",
	}
	got := map[string]bool{}
	for _, tool := range res.Tools {
		got[tool.Name] = true
	}
	if len(res.Tools) != len(want) {
		t.Errorf("tools/list returned %d tools, want %d", len(res.Tools), len(want))
	}
	for _, name := range want {
		if !got[name] {
			t.Errorf("tool %s missing from tools/list", name)
		}
	}
}

func TestSampleDataAndQuery(t *testing.T) {
	h, d, tok := ensureHarness(t)

	res := h.CallTool(t, tok, "insert_sample_data", nil)
	if res.IsError || !strings.HasPrefix(res.Text(), "Sample data inserted successfully!") {
		t.Fatalf("insert_sample_data: %q", res.Text())
	}
	// A second run inserts nothing new.
	h.CallTool(t, tok, "insert_sample_data", nil)
	if n := d.CountRows(t, "users"); n != 2 {
		t.Errorf("users has %d rows, want 2", n)
	}

	res = h.CallTool(t, tok, "query_database", map[string]any{
		"sql":    "SELECT name, age FROM users WHERE age > ? ORDER BY id",
		"params": []any{20},
	})
	if res.IsError {
		t.Fatalf("query_database: %s", res.Text())
	}
	var rows []map[string]any
	if err := json.Unmarshal([]byte(res.Text()), &rows); err != nil {
		t.Fatalf("decoding rows %q: %v", res.Text(), err)
	}
	if len(rows) != 2 || rows[0]["name"] != "John Doe" || rows[1]["name"] != "Jane Smith" {
		t.Errorf("unexpected rows: %v", rows)
	}

	entries := d.WaitAudit(t, "query_database")
	if len(entries) == 0 {
		t.Fatal("no audit entry for query_database")
	}
	e := entries[len(entries)-1]
	if e.Transport != "http" || e.UserID != "e2e-client" || e.RequestID == "" || e.Status != "success" {
		t.Errorf("unexpected audit entry: %+v", e)
	}
	if d.CountTraces(t, "Query") == 0 {
		t.Error("no Query rows in sql_traces")
	}
}

func TestQueryRejectsWrites(t *testing.T) {
	h, d, tok := ensureHarness(t)
	h.CallTool(t, tok, "insert_sample_data", nil)

	for _, sql := range []string{
		"DELETE FROM users",
		"SELECT 1; DROP TABLE users",
		"UPDATE users SET age = 0",
	} {
		res := h.CallTool(t, tok, "query_database", map[string]any{"sql": sql})
		if !res.IsError || !strings.HasPrefix(res.Text(), "ValidationError:") {
			t.Errorf("%q: want ValidationError, got %q (isError=%v)", sql, res.Text(), res.IsError)
		}
	}
	if n := d.CountRows(t, "users"); n != 2 {
		t.Errorf("users has %d rows after rejected writes, want 2", n)
	}
}

func TestCreateTableAndSchema(t *testing.T) {
	h, d, tok := ensureHarness(t)

	res := h.CallTool(t, tok, "create_table", map[string]any{
		"table_name": "notes",
		"columns":    "id INTEGER PRIMARY KEY, title TEXT NOT NULL",
	})
	if res.IsError || res.Text() != "Table 'notes' created successfully!" {
		t.Fatalf("create_table: %q", res.Text())
	}
	d.AssertTableExists(t, "notes")

	res = h.CallTool(t, tok, "create_table", map[string]any{
		"table_name": "bad name; DROP TABLE users",
		"columns":    "id INTEGER",
	})
	if !res.IsError || !strings.HasPrefix(res.Text(), "ValidationError:") {
		t.Errorf("bad table name: %q", res.Text())
	}

	res = h.CallTool(t, tok, "get_database_schema", nil)
	if res.IsError {
		t.Fatalf("get_database_schema: %s", res.Text())
	}
	var schema map[string]any
	if err := json.Unmarshal([]byte(res.Text()), &schema); err != nil {
		t.Fatalf("decoding schema: %v", err)
	}
	for _, table := range []string{"users", "products", "orders", "notes"} {
		if _, ok := schema[table]; !ok {
			t.Errorf("schema missing %s", table)
		}
	}
}

func TestMissingArgument(t *testing.T) {
	h, _, tok := ensureHarness(t)

	res := h.CallTool(t, tok, "query_database", map[string]any{})
	if !res.IsError || !strings.HasPrefix(res.Text(), "ValidationError:") {
		t.Errorf("missing sql: %q", res.Text())
	}
}
