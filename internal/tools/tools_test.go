package tools_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/hazyhaar/dbmcp/internal/config"
	"github.com/hazyhaar/dbmcp/internal/db"
	"github.com/hazyhaar/dbmcp/internal/errs"
	"github.com/hazyhaar/dbmcp/internal/llm"
	"github.com/hazyhaar/dbmcp/internal/prompt"
	"github.com/hazyhaar/dbmcp/internal/tools"
	"github.com/hazyhaar/dbmcp/mocks/mockllm"
	"github.com/hazyhaar/dbmcp/pkg/mcprt"
)

type fixture struct {
	reg   *mcprt.Registry
	llm   *mockllm.MockLLM
	store *db.Store
}

func newStore(t *testing.T) *db.Store {
	t.Helper()
	store := db.New(config.DatabaseConfig{
		Path:          filepath.Join(t.TempDir(), "app.db"),
		BusyTimeoutMs: 1000,
	})
	require.NoError(t, store.Initialize(context.Background()))
	return store
}

func newRegistry(t *testing.T, store *db.Store, backend tools.LLM) *mcprt.Registry {
	t.Helper()
	prompts, err := prompt.New(0)
	require.NoError(t, err)
	reg := mcprt.NewRegistry()
	require.NoError(t, tools.New(store, backend, prompts, tools.Options{}).Register(reg))
	return reg
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	m := mockllm.NewMockLLM(ctrl)
	store := newStore(t)
	return &fixture{reg: newRegistry(t, store, m), llm: m, store: store}
}

func (f *fixture) call(t *testing.T, name string, args map[string]any) (string, error) {
	t.Helper()
	return f.reg.Execute(context.Background(), name, args)
}

func (f *fixture) mustCall(t *testing.T, name string, args map[string]any) string {
	t.Helper()
	out, err := f.call(t, name, args)
	require.NoError(t, err)
	return out
}

func (f *fixture) userCount(t *testing.T) int {
	t.Helper()
	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(f.mustCall(t, "query_database",
		map[string]any{"sql": "SELECT COUNT(*) AS n FROM users"})), &rows))
	return int(rows[0]["n"].(float64))
}

func TestToolNames(t *testing.T) {
	f := setup(t)
	var names []string
	for _, d := range f.reg.Descriptors() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{
		"query_database", "insert_sample_data", "get_database_schema", "create_table",
		"chat_with_ollama", "list_ollama_models", "analyze_data_with_llm",
		"chat_with_context", "analyze_database", "generate_sql",
	}, names)
}

func TestSampleDataThenQuery(t *testing.T) {
	f := setup(t)

	out := f.mustCall(t, "insert_sample_data", nil)
	assert.Equal(t, "Sample data inserted successfully! (users: 2 new, products: 2 new, orders: 2 new)", out)

	var users []map[string]any
	require.NoError(t, json.Unmarshal([]byte(f.mustCall(t, "query_database",
		map[string]any{"sql": "SELECT * FROM users"})), &users))
	require.Len(t, users, 2)
	assert.Equal(t, "John Doe", users[0]["name"])
	assert.Equal(t, "Jane Smith", users[1]["name"])

	out = f.mustCall(t, "insert_sample_data", nil)
	assert.Equal(t, "Sample data inserted successfully! (users: 0 new, products: 0 new, orders: 0 new)", out)
	assert.Equal(t, 2, f.userCount(t))
}

func TestQueryWithParams(t *testing.T) {
	f := setup(t)
	f.mustCall(t, "insert_sample_data", nil)

	out := f.mustCall(t, "query_database", map[string]any{
		"sql":    "SELECT name FROM users WHERE age > ? ORDER BY id",
		"params": []any{26},
	})
	assert.JSONEq(t, `[{"name":"John Doe"}]`, out)
}

func TestQueryEmptyTable(t *testing.T) {
	f := setup(t)
	assert.Equal(t, "[]", f.mustCall(t, "query_database", map[string]any{"sql": "SELECT * FROM orders"}))
}

func TestQueryRejectsWrites(t *testing.T) {
	f := setup(t)
	f.mustCall(t, "insert_sample_data", nil)

	for _, sql := range []string{
		"DELETE FROM users",
		"DROP TABLE users",
		"UPDATE users SET age = 0",
		"SELECT 1; DELETE FROM users",
		"  -- note\n INSERT INTO users (name, email) VALUES ('x', 'y')",
	} {
		_, err := f.call(t, "query_database", map[string]any{"sql": sql})
		require.Error(t, err, sql)
		assert.True(t, errs.IsValidation(err), sql)
	}
	assert.Equal(t, 2, f.userCount(t))
}

func TestQueryMissingTableIsStorageError(t *testing.T) {
	f := setup(t)
	_, err := f.call(t, "query_database", map[string]any{"sql": "SELECT * FROM missing"})
	require.Error(t, err)
	assert.True(t, errs.IsStorage(err))
	assert.Contains(t, errs.Text(err), "StorageError: ")
	assert.Contains(t, err.Error(), "no such table")
}

func TestCreateTable(t *testing.T) {
	f := setup(t)

	out := f.mustCall(t, "create_table", map[string]any{
		"table_name": "notes",
		"columns":    "id INTEGER PRIMARY KEY, body TEXT NOT NULL",
	})
	assert.Equal(t, "Table 'notes' created successfully!", out)

	_, err := f.call(t, "create_table", map[string]any{"table_name": "1bad", "columns": "id INTEGER"})
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))

	_, err = f.call(t, "create_table", map[string]any{"table_name": "evil", "columns": "id INTEGER); DROP TABLE users; --"})
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))

	var schema map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(f.mustCall(t, "get_database_schema", nil)), &schema))
	assert.Contains(t, schema, "notes")
	assert.Contains(t, schema, "users")
	assert.NotContains(t, schema, "1bad")
	assert.NotContains(t, schema, "evil")
}

func TestSchemaReportsKnownTables(t *testing.T) {
	f := setup(t)
	f.mustCall(t, "insert_sample_data", nil)

	var schema map[string]struct {
		Columns []struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"columns"`
		RowCount int `json:"row_count"`
	}
	require.NoError(t, json.Unmarshal([]byte(f.mustCall(t, "get_database_schema", nil)), &schema))
	for _, table := range db.KnownTables {
		require.Contains(t, schema, table)
		assert.Equal(t, 2, schema[table].RowCount, table)
	}
	assert.Equal(t, "id", schema["users"].Columns[0].Name)
	assert.Equal(t, "INTEGER", schema["users"].Columns[0].Type)
}

func TestMissingArgumentNeverReachesLLM(t *testing.T) {
	f := setup(t)
	for _, tool := range []string{"chat_with_ollama", "analyze_data_with_llm", "chat_with_context", "analyze_database", "generate_sql"} {
		_, err := f.call(t, tool, map[string]any{})
		require.Error(t, err, tool)
		assert.True(t, errs.IsValidation(err), tool)
	}
}

func TestChat(t *testing.T) {
	f := setup(t)
	f.llm.EXPECT().Generate(gomock.Any(), "", "Hello?").Return("Hi there", nil)
	f.llm.EXPECT().Generate(gomock.Any(), "mistral", "Hello?").Return("Bonjour", nil)

	assert.Equal(t, "Hi there", f.mustCall(t, "chat_with_ollama", map[string]any{"prompt": "Hello?"}))
	assert.Equal(t, "Bonjour", f.mustCall(t, "chat_with_ollama", map[string]any{"prompt": "Hello?", "model": "mistral"}))
}

func TestListModels(t *testing.T) {
	f := setup(t)
	gomock.InOrder(
		f.llm.EXPECT().ListModels(gomock.Any()).Return([]string{"llama3.2:latest", "mistral:7b"}, nil),
		f.llm.EXPECT().ListModels(gomock.Any()).Return(nil, nil),
	)

	assert.Equal(t, "Available Ollama models:\n- llama3.2:latest\n- mistral:7b",
		f.mustCall(t, "list_ollama_models", nil))
	assert.Equal(t, "No models found. Make sure Ollama is running and has models installed.",
		f.mustCall(t, "list_ollama_models", nil))
}

func TestAnalyzeTable(t *testing.T) {
	f := setup(t)
	f.mustCall(t, "insert_sample_data", nil)

	var sent string
	f.llm.EXPECT().Generate(gomock.Any(), "", gomock.Any()).DoAndReturn(
		func(_ context.Context, _, p string) (string, error) {
			sent = p
			return "Users are in their twenties and thirties.", nil
		})

	out := f.mustCall(t, "analyze_data_with_llm", map[string]any{
		"table_name": "users",
		"question":   "What patterns do you see?",
	})
	assert.Equal(t, "Users are in their twenties and thirties.", out)
	assert.Contains(t, sent, "table called 'users'")
	assert.Contains(t, sent, `"name": "email"`)
	assert.Contains(t, sent, "john@example.com")
	assert.Contains(t, sent, "Question: What patterns do you see?")
}

func TestAnalyzeTableNameIgnoresCase(t *testing.T) {
	f := setup(t)
	f.mustCall(t, "insert_sample_data", nil)

	var sent string
	f.llm.EXPECT().Generate(gomock.Any(), "", gomock.Any()).DoAndReturn(
		func(_ context.Context, _, p string) (string, error) {
			sent = p
			return "ok", nil
		})

	out := f.mustCall(t, "analyze_data_with_llm", map[string]any{"table_name": "Users", "question": "?"})
	assert.Equal(t, "ok", out)
	assert.Contains(t, sent, "jane@example.com")
}

func TestAnalyzeUnknownTable(t *testing.T) {
	f := setup(t)
	_, err := f.call(t, "analyze_data_with_llm", map[string]any{"table_name": "nope", "question": "?"})
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))

	_, err = f.call(t, "analyze_data_with_llm", map[string]any{"table_name": "users; DROP TABLE users", "question": "?"})
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
}

func TestChatWithContext(t *testing.T) {
	f := setup(t)
	f.llm.EXPECT().Generate(gomock.Any(), "",
		"Context: Database contains user information\n\nUser: What can you tell me?\n\nAssistant:").
		Return("Contextual response", nil)
	f.llm.EXPECT().Generate(gomock.Any(), "", "Just this").Return("Simple response", nil)

	assert.Equal(t, "Contextual response", f.mustCall(t, "chat_with_context", map[string]any{
		"message": "What can you tell me?",
		"context": "Database contains user information",
	}))
	assert.Equal(t, "Simple response", f.mustCall(t, "chat_with_context", map[string]any{"message": "Just this"}))
}

func TestAnalyzeDatabase(t *testing.T) {
	f := setup(t)
	f.mustCall(t, "insert_sample_data", nil)

	var sent string
	f.llm.EXPECT().Generate(gomock.Any(), "llama3.2", gomock.Any()).DoAndReturn(
		func(_ context.Context, _, p string) (string, error) {
			sent = p
			return "Three tables.", nil
		})

	out := f.mustCall(t, "analyze_database", map[string]any{"question": "How many tables?", "model": "llama3.2"})
	assert.Equal(t, "Three tables.", out)
	for _, want := range []string{`"orders"`, `"products"`, `"users"`, "Laptop", "Jane Smith", "Question: How many tables?"} {
		assert.Contains(t, sent, want)
	}
}

func TestAnalyzeDatabaseWithoutTables(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := mockllm.NewMockLLM(ctrl)
	store := db.New(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "bare.db")})
	reg := newRegistry(t, store, m)

	var sent string
	m.EXPECT().Generate(gomock.Any(), "", gomock.Any()).DoAndReturn(
		func(_ context.Context, _, p string) (string, error) {
			sent = p
			return "The database is empty.", nil
		})

	out, err := reg.Execute(context.Background(), "analyze_database", map[string]any{"question": "What is stored here?"})
	require.NoError(t, err)
	assert.Equal(t, "The database is empty.", out)
	assert.Contains(t, sent, "Question: What is stored here?")
}

func TestGenerateSQLNeverExecutes(t *testing.T) {
	f := setup(t)
	f.mustCall(t, "insert_sample_data", nil)

	f.llm.EXPECT().Generate(gomock.Any(), "", gomock.Any()).Return("```sql\nDELETE FROM users\n```", nil)

	out := f.mustCall(t, "generate_sql", map[string]any{"description": "remove every user"})
	assert.Equal(t, "Generated SQL Query:\nDELETE FROM users\n\nTo execute this query, use the query_database tool.", out)
	assert.Equal(t, 2, f.userCount(t))
}

func TestLLMFailurePassesThrough(t *testing.T) {
	f := setup(t)
	down := errs.LLMUnavailable("llama3.2", errors.New("connection refused"))
	f.llm.EXPECT().Generate(gomock.Any(), gomock.Any(), gomock.Any()).Return("", down)

	_, err := f.call(t, "chat_with_ollama", map[string]any{"prompt": "hi"})
	require.Error(t, err)
	assert.True(t, errs.IsLLMUnavailable(err))
	assert.Contains(t, errs.Text(err), "LLMUnavailableError: ")
}

// A stalled runtime makes every LLM-backed tool fail with
// LLMUnavailableError within the configured bound.
func TestLLMTimeoutOnEveryTool(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	const bound = 300 * time.Millisecond
	client := llm.New(llm.NewOllamaProvider(llm.OllamaConfig{BaseURL: srv.URL}), "llama3.2", bound)
	store := newStore(t)
	reg := newRegistry(t, store, client)

	calls := map[string]map[string]any{
		"chat_with_ollama":      {"prompt": "hi"},
		"list_ollama_models":    {},
		"analyze_data_with_llm": {"table_name": "users", "question": "?"},
		"chat_with_context":     {"message": "hi", "context": "ctx"},
		"analyze_database":      {"question": "?"},
		"generate_sql":          {"description": "all users"},
	}
	for tool, args := range calls {
		t.Run(tool, func(t *testing.T) {
			start := time.Now()
			_, err := reg.Execute(context.Background(), tool, args)
			elapsed := time.Since(start)

			require.Error(t, err)
			assert.True(t, errs.IsLLMUnavailable(err), "got %v", err)
			assert.True(t, errors.Is(err, llm.ErrTimeout))
			assert.Less(t, elapsed, bound+2*time.Second)
		})
	}
}
