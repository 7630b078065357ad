package e2e

import (
	"os"
	"sync"
	"testing"
)

// harness and dba are shared by all tests and started by the first caller.
var (
	harness     *TestHarness
	dba         *DBAssert
	token       string
	harnessOnce sync.Once
)

func ensureHarness(t *testing.T) (*TestHarness, *DBAssert, string) {
	t.Helper()
	harnessOnce.Do(func() {
		harness = NewHarness(t)
		dba = NewDBAssert(harness.RecordsDB, harness.TelemetryDB)
		token = harness.Token(t, "e2e-client")
		harness.Initialize(t, token)
	})

	if harness == nil {
		t.Fatal("harness initialization failed")
	}
	return harness, dba, token
}

func TestMain(m *testing.M) {
	exitCode := m.Run()

	if dba != nil {
		dba.Close()
	}
	if harness != nil {
		harness.Stop()
	}

	os.Exit(exitCode)
}
