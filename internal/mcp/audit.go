package mcp

import (
	"context"

	"github.com/hazyhaar/pkg/audit"
)

// maxAuditField bounds the parameters and result stored per audit entry.
const maxAuditField = 4096

// cappedLogger trims oversized payloads before they reach the audit table.
type cappedLogger struct {
	audit.Logger
}

func (l cappedLogger) Log(ctx context.Context, e *audit.Entry) error {
	return l.Logger.Log(ctx, capEntry(e))
}

func (l cappedLogger) LogAsync(e *audit.Entry) {
	l.Logger.LogAsync(capEntry(e))
}

func capEntry(e *audit.Entry) *audit.Entry {
	e.Parameters = clip(e.Parameters)
	e.Result = clip(e.Result)
	return e
}

func clip(s string) string {
	if len(s) > maxAuditField {
		return s[:maxAuditField]
	}
	return s
}
