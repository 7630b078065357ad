package tools

import (
	"context"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/hazyhaar/dbmcp/internal/db"
	"github.com/hazyhaar/dbmcp/internal/prompt"
	"github.com/hazyhaar/dbmcp/pkg/mcprt"
)

var modelParam = mcprt.Param{
	Name:        "model",
	Type:        mcprt.String,
	Description: "Ollama model to use (defaults to the configured model)",
}

func (t *Tools) llmTools() []mcprt.Descriptor {
	return []mcprt.Descriptor{
		{
			Name:        "chat_with_ollama",
			Description: "Send a prompt to the local LLM via Ollama and return its reply.",
			Params: []mcprt.Param{
				{Name: "prompt", Type: mcprt.String, Required: true, Description: "The prompt or question to send"},
				modelParam,
			},
			Handler: t.chat,
		},
		{
			Name:        "list_ollama_models",
			Description: "List the models available in Ollama.",
			Handler:     t.listModels,
		},
		{
			Name:        "analyze_data_with_llm",
			Description: "Answer a question about one table: its schema and sample rows are given to the local LLM.",
			Params: []mcprt.Param{
				{Name: "table_name", Type: mcprt.String, Required: true, Description: "Table to analyze"},
				{Name: "question", Type: mcprt.String, Required: true, Description: "Question to ask about the data"},
				modelParam,
			},
			Handler: t.analyzeTable,
		},
		{
			Name:        "chat_with_context",
			Description: "Chat with the local LLM, prefixing the message with additional context.",
			Params: []mcprt.Param{
				{Name: "message", Type: mcprt.String, Required: true, Description: "The message or question"},
				{Name: "context", Type: mcprt.String, Default: "", Description: "Additional context for the model"},
				modelParam,
			},
			Handler: t.chatWithContext,
		},
		{
			Name:        "analyze_database",
			Description: "Answer a question about the whole database: every table's schema and sample rows are given to the local LLM.",
			Params: []mcprt.Param{
				{Name: "question", Type: mcprt.String, Required: true, Description: "Question about the database"},
				modelParam,
			},
			Handler: t.analyzeDatabase,
		},
		{
			Name:        "generate_sql",
			Description: "Generate a SELECT query from a natural-language description. The query is returned, not executed; run it with query_database.",
			Params: []mcprt.Param{
				{Name: "description", Type: mcprt.String, Required: true, Description: "What the query should return"},
				modelParam,
			},
			Handler: t.generateSQL,
		},
	}
}

func (t *Tools) chat(ctx context.Context, args mcprt.Args) (string, error) {
	return t.llm.Generate(ctx, args.String("model"), args.String("prompt"))
}

func (t *Tools) listModels(ctx context.Context, _ mcprt.Args) (string, error) {
	models, err := t.llm.ListModels(ctx)
	if err != nil {
		return "", err
	}
	if len(models) == 0 {
		return "No models found. Make sure Ollama is running and has models installed.", nil
	}
	var b strings.Builder
	b.WriteString("Available Ollama models:")
	for _, m := range models {
		b.WriteString("\n- ")
		b.WriteString(m)
	}
	return b.String(), nil
}

func (t *Tools) analyzeTable(ctx context.Context, args mcprt.Args) (string, error) {
	table := args.String("table_name")
	info, err := t.store.TableSchema(ctx, table)
	if err != nil {
		return "", err
	}
	rows, err := t.store.SampleRows(ctx, table, t.opts.TableSampleRows)
	if err != nil {
		return "", err
	}
	schemaText, err := prettyJSON(info.Columns)
	if err != nil {
		return "", err
	}
	sampleText, err := prettyJSON(rows)
	if err != nil {
		return "", err
	}
	p, err := t.prompts.TableAnalysis(table, schemaText, sampleText, args.String("question"))
	if err != nil {
		return "", err
	}
	return t.llm.Generate(ctx, args.String("model"), p)
}

func (t *Tools) chatWithContext(ctx context.Context, args mcprt.Args) (string, error) {
	p, err := t.prompts.ContextChat(args.String("message"), args.String("context"))
	if err != nil {
		return "", err
	}
	return t.llm.Generate(ctx, args.String("model"), p)
}

func (t *Tools) analyzeDatabase(ctx context.Context, args mcprt.Args) (string, error) {
	schema, err := t.store.GetSchema(ctx)
	if err != nil {
		return "", err
	}
	samples := orderedmap.New[string, []db.Row]()
	for _, name := range schema.Names() {
		rows, err := t.store.SampleRows(ctx, name, t.opts.DBSampleRows)
		if err != nil {
			return "", err
		}
		samples.Set(name, rows)
	}

	schemaText, err := prettyJSON(schema)
	if err != nil {
		return "", err
	}
	sampleText, err := prettyJSON(samples)
	if err != nil {
		return "", err
	}
	p, err := t.prompts.DatabaseAnalysis(schemaText, sampleText, args.String("question"))
	if err != nil {
		return "", err
	}
	return t.llm.Generate(ctx, args.String("model"), p)
}

// generateSQL never runs the generated statement.
func (t *Tools) generateSQL(ctx context.Context, args mcprt.Args) (string, error) {
	schema, err := t.store.GetSchema(ctx)
	if err != nil {
		return "", err
	}
	schemaText, err := prettyJSON(schema)
	if err != nil {
		return "", err
	}
	p, err := t.prompts.SQLGeneration(schemaText, args.String("description"))
	if err != nil {
		return "", err
	}
	out, err := t.llm.Generate(ctx, args.String("model"), p)
	if err != nil {
		return "", err
	}
	return "Generated SQL Query:\n" + prompt.ExtractSQL(out) +
		"\n\nTo execute this query, use the query_database tool.", nil
}
