// Package mcp assembles the MCP server: the tool registry, its telemetry
// middleware and the stdio transport.
package mcp

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/dbmcp/internal/db"
	"github.com/hazyhaar/dbmcp/internal/errs"
	"github.com/hazyhaar/dbmcp/internal/prompt"
	"github.com/hazyhaar/dbmcp/internal/tools"
	"github.com/hazyhaar/dbmcp/pkg/mcprt"
	"github.com/hazyhaar/pkg/audit"
	"github.com/hazyhaar/pkg/kit"
)

const ServerName = "dbmcp"

// Deps are the collaborators the tools run against. Audit is optional.
type Deps struct {
	Store   *db.Store
	LLM     tools.LLM
	Prompts *prompt.Builder
	Options tools.Options
	Audit   audit.Logger
}

// NewRegistry registers every tool behind the call log and, when
// configured, the audit trail.
func NewRegistry(d Deps) (*mcprt.Registry, error) {
	if d.Store == nil || d.LLM == nil || d.Prompts == nil {
		return nil, errors.New("mcp: store, llm and prompts are required")
	}
	reg := mcprt.NewRegistry()
	reg.Use(callLog)
	if d.Audit != nil {
		trail := cappedLogger{d.Audit}
		reg.Use(func(tool string) kit.Middleware { return audit.Middleware(trail, tool) })
	}
	if err := tools.New(d.Store, d.LLM, d.Prompts, d.Options).Register(reg); err != nil {
		return nil, errors.Wrap(err, "registering tools")
	}
	return reg, nil
}

// NewServer exposes reg on an MCP server.
func NewServer(reg *mcprt.Registry, version string) *server.MCPServer {
	srv := server.NewMCPServer(
		ServerName,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	mcprt.Bridge(srv, reg)
	return srv
}

// ServeStdio serves srv on stdin/stdout until ctx is done or input ends.
func ServeStdio(ctx context.Context, srv *server.MCPServer, in io.Reader, out io.Writer) error {
	s := server.NewStdioServer(srv)
	s.SetErrorLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelError))
	return s.Listen(ctx, in, out)
}

func callLog(tool string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"tool", tool,
				"transport", kit.GetTransport(ctx),
				"request_id", kit.GetRequestID(ctx),
				"duration", time.Since(start),
			}
			if err != nil {
				slog.InfoContext(ctx, "tool call", append(attrs, "status", "error", "kind", errs.Kind(err))...)
			} else {
				slog.InfoContext(ctx, "tool call", append(attrs, "status", "ok")...)
			}
			return resp, err
		}
	}
}
