package e2e

import (
	"database/sql"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// DBAssert reads the record and telemetry databases directly.
// It keeps persistent connections to avoid file descriptor exhaustion.
type DBAssert struct {
	recordsPath   string
	telemetryPath string

	mu        sync.Mutex
	records   *sql.DB
	telemetry *sql.DB
}

func NewDBAssert(recordsDB, telemetryDB string) *DBAssert {
	return &DBAssert{recordsPath: recordsDB, telemetryPath: telemetryDB}
}

// Close releases persistent connections.
func (d *DBAssert) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range []*sql.DB{d.records, d.telemetry} {
		if c != nil {
			c.Close()
		}
	}
	d.records, d.telemetry = nil, nil
}

func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(10000)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func (d *DBAssert) conn(t *testing.T, telemetry bool) *sql.DB {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	slot, path := &d.records, d.recordsPath
	if telemetry {
		slot, path = &d.telemetry, d.telemetryPath
	}
	if *slot == nil {
		db, err := open(path)
		if err != nil {
			t.Fatalf("opening %s: %v", path, err)
		}
		*slot = db
	}
	return *slot
}

// CountRows returns the row count of a table in the record database.
func (d *DBAssert) CountRows(t *testing.T, table string) int {
	t.Helper()
	var n int
	if err := d.conn(t, false).QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("counting %s: %v", table, err)
	}
	return n
}

// AssertTableExists verifies sqlite_master has the table.
func (d *DBAssert) AssertTableExists(t *testing.T, table string) {
	t.Helper()
	var n int
	err := d.conn(t, false).QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n)
	if err != nil {
		t.Fatalf("looking up table %s: %v", table, err)
	}
	if n == 0 {
		t.Errorf("table %s does not exist", table)
	}
}

// AuditEntry is one audit_log row.
type AuditEntry struct {
	Action    string
	Transport string
	UserID    string
	RequestID string
	Status    string
	Error     string
}

// WaitAudit polls audit_log until an entry for action appears. The audit
// writer flushes in batches, so rows land shortly after the call returns.
func (d *DBAssert) WaitAudit(t *testing.T, action string) []AuditEntry {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		entries := d.auditFor(t, action)
		if len(entries) > 0 || time.Now().After(deadline) {
			return entries
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (d *DBAssert) auditFor(t *testing.T, action string) []AuditEntry {
	t.Helper()
	rows, err := d.conn(t, true).Query(`SELECT action, transport, COALESCE(user_id, ''), COALESCE(request_id, ''),
		status, COALESCE(error_message, '') FROM audit_log WHERE action = ? ORDER BY timestamp`, action)
	if err != nil {
		// Table may not be visible yet on a fresh file.
		return nil
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.Action, &e.Transport, &e.UserID, &e.RequestID, &e.Status, &e.Error); err != nil {
			t.Fatalf("scanning audit_log: %v", err)
		}
		out = append(out, e)
	}
	return out
}

// CountLLMCalls returns llm_calls rows with the given success flag.
func (d *DBAssert) CountLLMCalls(t *testing.T, success bool) int {
	t.Helper()
	flag := 0
	if success {
		flag = 1
	}
	var n int
	if err := d.conn(t, true).QueryRow("SELECT COUNT(*) FROM llm_calls WHERE success = ?", flag).Scan(&n); err != nil {
		t.Fatalf("counting llm_calls: %v", err)
	}
	return n
}

// CountTraces returns sql_traces rows for an operation ("Exec" or "Query").
func (d *DBAssert) CountTraces(t *testing.T, op string) int {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		var n int
		err := d.conn(t, true).QueryRow("SELECT COUNT(*) FROM sql_traces WHERE op = ?", op).Scan(&n)
		if err == nil && n > 0 || time.Now().After(deadline) {
			return n
		}
		time.Sleep(100 * time.Millisecond)
	}
}
