// Package prompt renders the prompts sent to the local model.
package prompt

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/cockroachdb/errors"
)

const templates = `
{{- define "table_analysis" -}}
You are a data analyst. I have a database table called '{{ .Table }}' with the following schema:
{{ .Schema }}

Here's a sample of the data:
{{ .Sample }}

Question: {{ .Question | trim }}

Please provide insights and analysis based on this data. If you need to suggest SQL queries, make sure they are SELECT queries only.
{{- end }}

{{- define "database_analysis" -}}
You are a database analyst with access to a SQLite database.

Database Schema:
{{ .Schema }}

Sample Data:
{{ .Sample }}

Question: {{ .Question | trim }}

Please provide a comprehensive analysis. If you suggest SQL queries, ensure they are SELECT statements only.
Include insights, patterns, and recommendations based on the data.
{{- end }}

{{- define "context_chat" -}}
{{- if .Context | trim -}}
Context: {{ .Context }}

User: {{ .Message }}

Assistant:
{{- else -}}
{{ .Message }}
{{- end -}}
{{- end }}

{{- define "sql_generation" -}}
You are a SQL expert. Given the following database schema, generate a SQL query based on the user's description.

Database Schema:
{{ .Schema }}

User Request: {{ .Description | trim }}

Generate only a SELECT SQL query that fulfills the request. Do not include explanations, just the SQL query.
Ensure the query is safe and only uses SELECT statements.
{{- end }}
`

// Builder renders prompts and keeps embedded context within a token budget.
type Builder struct {
	tmpl   *template.Template
	budget *Budget
}

// New returns a Builder whose embedded context is capped at maxContextTokens.
func New(maxContextTokens int) (*Builder, error) {
	tmpl, err := template.New("prompts").Funcs(sprig.TxtFuncMap()).Parse(templates)
	if err != nil {
		return nil, errors.Wrap(err, "parsing prompt templates")
	}
	budget, err := NewBudget(maxContextTokens)
	if err != nil {
		return nil, err
	}
	return &Builder{tmpl: tmpl, budget: budget}, nil
}

// TableAnalysis embeds one table's schema and sample rows.
func (b *Builder) TableAnalysis(table, schema, sample, question string) (string, error) {
	sample, _ = b.budget.Fit(schema, sample)
	return b.render("table_analysis", map[string]string{
		"Table":    table,
		"Schema":   schema,
		"Sample":   sample,
		"Question": question,
	})
}

// DatabaseAnalysis embeds every table's schema and sample rows.
func (b *Builder) DatabaseAnalysis(schema, sample, question string) (string, error) {
	sample, _ = b.budget.Fit(schema, sample)
	return b.render("database_analysis", map[string]string{
		"Schema":   schema,
		"Sample":   sample,
		"Question": question,
	})
}

// ContextChat prefixes message with caller-supplied context. Without context
// the message is sent unchanged.
func (b *Builder) ContextChat(message, context string) (string, error) {
	context, _ = b.budget.Fit(message, context)
	return b.render("context_chat", map[string]string{
		"Message": message,
		"Context": context,
	})
}

// SQLGeneration asks for a single SELECT statement.
func (b *Builder) SQLGeneration(schema, description string) (string, error) {
	schema, _ = b.budget.Fit(description, schema)
	return b.render("sql_generation", map[string]string{
		"Schema":      schema,
		"Description": description,
	})
}

func (b *Builder) render(name string, data map[string]string) (string, error) {
	var buf bytes.Buffer
	if err := b.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", errors.Wrapf(err, "rendering %s prompt", name)
	}
	return buf.String(), nil
}

// ExtractSQL strips a surrounding markdown code fence from model output.
func ExtractSQL(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if lang, rest, ok := strings.Cut(s, "\n"); ok && !strings.ContainsAny(strings.TrimSpace(lang), " ;") {
		s = rest
	} else {
		s = strings.TrimPrefix(s, "sql")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
