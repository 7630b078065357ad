package mcprt

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/dbmcp/internal/errs"
	"github.com/hazyhaar/pkg/idgen"
	"github.com/hazyhaar/pkg/kit"
)

// Bridge registers every tool of the registry on an MCP server. Tool
// failures become error results carrying "<Kind>: <message>", never
// protocol errors.
func Bridge(srv *server.MCPServer, reg *Registry) {
	for _, d := range reg.Descriptors() {
		raw, _ := reg.InputSchema(d.Name)
		tool := mcp.NewToolWithRawSchema(d.Name, d.Description, raw)

		toolName := d.Name
		srv.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			ctx = callContext(ctx)
			result, err := reg.Execute(ctx, toolName, req.GetArguments())
			if err != nil {
				slog.WarnContext(ctx, "tool call failed",
					"tool", toolName, "kind", errs.Kind(err), "error", err,
					"request_id", kit.GetRequestID(ctx))
				return mcp.NewToolResultError(errs.Text(err)), nil
			}
			return mcp.NewToolResultText(result), nil
		})
	}
}

func callContext(ctx context.Context) context.Context {
	// GetTransport reports "http" when unset, so look at the raw key.
	if _, ok := ctx.Value(kit.TransportKey).(string); !ok {
		ctx = kit.WithTransport(ctx, "stdio")
	}
	id := kit.GetRequestID(ctx)
	if id == "" {
		id = idgen.New()
		ctx = kit.WithRequestID(ctx, id)
	}
	if kit.GetTraceID(ctx) == "" {
		ctx = kit.WithTraceID(ctx, id)
	}
	return ctx
}
