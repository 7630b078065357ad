package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

// MetricsDB is the telemetry SQLite file. It is kept apart from the record
// store so that introspection tools never see it.
type MetricsDB struct {
	*sql.DB
}

func OpenMetrics(path string) (*MetricsDB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating telemetry data dir")
	}

	// Raw driver: the trace store writes here and must not trace itself.
	sqlDB, err := sql.Open(plainDriver, fileDSN(path, "busy_timeout(5000)", "journal_mode(WAL)"))
	if err != nil {
		return nil, errors.Wrap(err, "opening telemetry database")
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(err, "pinging telemetry database")
	}

	db := &MetricsDB{sqlDB}
	if err := db.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrating telemetry database")
	}

	return db, nil
}

func (db *MetricsDB) migrate() error {
	_, err := db.Exec(metricsSchema)
	return err
}

const metricsSchema = `
CREATE TABLE IF NOT EXISTS llm_calls (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    provider    TEXT NOT NULL,
    model       TEXT NOT NULL,
    tokens_in   INTEGER,
    tokens_out  INTEGER,
    latency_ms  INTEGER NOT NULL,
    success     INTEGER NOT NULL DEFAULT 1,
    error       TEXT,
    timestamp   INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_llm_calls_ts ON llm_calls(timestamp);
CREATE INDEX IF NOT EXISTS idx_llm_calls_model ON llm_calls(model);
`

// RecordLLMCall logs one LLM request. Write failures are dropped.
func (db *MetricsDB) RecordLLMCall(ctx context.Context, provider, model string, tokensIn, tokensOut int, latency time.Duration, callErr error) {
	success, errMsg := 1, ""
	if callErr != nil {
		success, errMsg = 0, callErr.Error()
	}
	_, _ = db.ExecContext(context.WithoutCancel(ctx), `INSERT INTO llm_calls (provider, model, tokens_in, tokens_out, latency_ms, success, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, provider, model, tokensIn, tokensOut, latency.Milliseconds(), success, errMsg)
}
