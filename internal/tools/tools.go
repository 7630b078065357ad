// Package tools implements the database and LLM tools exposed over MCP.
package tools

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/hazyhaar/dbmcp/internal/db"
	"github.com/hazyhaar/dbmcp/internal/prompt"
	"github.com/hazyhaar/dbmcp/pkg/mcprt"
)

//go:generate mockgen -destination=../../mocks/mockllm/llm_mock.gen.go -package mockllm github.com/hazyhaar/dbmcp/internal/tools LLM

// LLM is the completion backend used by the LLM tools. Implementations
// bound every call by a timeout and report failures as
// errs.LLMUnavailableError.
type LLM interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
	ListModels(ctx context.Context) ([]string, error)
}

// Options tunes how much data is embedded in analysis prompts.
type Options struct {
	TableSampleRows int
	DBSampleRows    int
}

// Tools holds the collaborators shared by every tool handler. It carries no
// per-call state.
type Tools struct {
	store   *db.Store
	llm     LLM
	prompts *prompt.Builder
	opts    Options
}

func New(store *db.Store, llm LLM, prompts *prompt.Builder, opts Options) *Tools {
	if opts.TableSampleRows <= 0 {
		opts.TableSampleRows = 10
	}
	if opts.DBSampleRows <= 0 {
		opts.DBSampleRows = 5
	}
	return &Tools{store: store, llm: llm, prompts: prompts, opts: opts}
}

// Register adds every tool to reg.
func (t *Tools) Register(reg *mcprt.Registry) error {
	for _, d := range t.Descriptors() {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// Descriptors lists the tools in the order clients see them.
func (t *Tools) Descriptors() []mcprt.Descriptor {
	return append(t.databaseTools(), t.llmTools()...)
}

func prettyJSON(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "encoding result")
	}
	return string(b), nil
}
