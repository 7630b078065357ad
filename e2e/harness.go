// Package e2e drives a dbmcp subprocess over the streamable HTTP transport.
package e2e

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

const jwtSecret = "e2e-test-secret-key-dbmcp"

// TestHarness manages a dbmcp subprocess and an MCP session against it.
type TestHarness struct {
	BaseURL     string
	DataDir     string
	RecordsDB   string
	TelemetryDB string
	Binary      string
	ConfigPath  string
	Ollama      *FakeOllama

	cmd     *exec.Cmd
	client  *http.Client
	nextID  atomic.Int64
	session string
}

// NewHarness writes a config pointing at a fake Ollama, starts
// "dbmcp serve --transport http" and waits for /healthz.
func NewHarness(t *testing.T) *TestHarness {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	// Shared by every test; removed in Stop rather than by t.TempDir.
	dataDir, err := os.MkdirTemp("", "dbmcp-e2e-*")
	if err != nil {
		t.Fatalf("creating temp dir: %v", err)
	}
	recordsDB := filepath.Join(dataDir, "records.db")
	telemetryDB := filepath.Join(dataDir, "telemetry.db")

	ollama := NewFakeOllama()

	config := fmt.Sprintf(`[server]
transport = "http"
addr = "127.0.0.1:%d"
rate_limit_per_minute = 0

[database]
path = %q
busy_timeout_ms = 5000

[llm]
base_url = %q
default_model = "llama3.2"
timeout_seconds = 2
max_context_tokens = 6000
table_sample_rows = 10
db_sample_rows = 5

[log]
level = "debug"
format = "json"

[telemetry]
path = %q

[auth]
jwt_secret = %q
token_expiry_min = 60
`, port, recordsDB, ollama.URL, telemetryDB, jwtSecret)

	configPath := filepath.Join(dataDir, "config.toml")
	if err := os.WriteFile(configPath, []byte(config), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	binary := os.Getenv("DBMCP_BINARY")
	if binary == "" {
		wd, _ := os.Getwd()
		binary, _ = filepath.Abs(filepath.Join(wd, "..", "dbmcp"))
	}
	if _, err := os.Stat(binary); os.IsNotExist(err) {
		t.Fatalf("binary not found at %s: run go build -o dbmcp . in the module root", binary)
	}

	cmd := exec.Command(binary, "serve", "--config", configPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// Keep the caller's OLLAMA_*/DB_PATH from overriding the generated config.
	cmd.Env = cleanEnv()
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting dbmcp: %v", err)
	}

	h := &TestHarness{
		BaseURL:     fmt.Sprintf("http://127.0.0.1:%d", port),
		DataDir:     dataDir,
		RecordsDB:   recordsDB,
		TelemetryDB: telemetryDB,
		Binary:      binary,
		ConfigPath:  configPath,
		Ollama:      ollama,
		cmd:         cmd,
		client:      &http.Client{Timeout: 30 * time.Second},
	}

	deadline := time.Now().Add(15 * time.Second)
	backoff := 100 * time.Millisecond
	for time.Now().Before(deadline) {
		resp, err := h.client.Get(h.BaseURL + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				t.Logf("dbmcp ready on port %d", port)
				return h
			}
		}
		time.Sleep(backoff)
		if backoff < 2*time.Second {
			backoff = backoff * 3 / 2
		}
	}

	h.Stop()
	t.Fatalf("dbmcp did not become ready within 15s on port %d", port)
	return nil
}

func cleanEnv() []string {
	var env []string
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		switch key {
		case "OLLAMA_BASE_URL", "OLLAMA_MODEL", "OLLAMA_TIMEOUT", "OLLAMA_API_KEY",
			"DB_PATH", "TELEMETRY_PATH", "LOG_LEVEL", "LOG_FORMAT",
			"MCP_TRANSPORT", "MCP_ADDR", "MCP_JWT_SECRET":
			continue
		}
		env = append(env, kv)
	}
	return env
}

// Stop sends SIGTERM, waits 5s, then SIGKILL. Cleans up the data directory.
func (h *TestHarness) Stop() {
	if h.Ollama != nil {
		h.Ollama.Close()
	}
	if h.cmd == nil || h.cmd.Process == nil {
		return
	}
	h.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		h.cmd.Process.Kill()
		<-done
	}

	if h.DataDir != "" {
		os.RemoveAll(h.DataDir)
	}
}

// Token runs "dbmcp token" against the harness config.
func (h *TestHarness) Token(t *testing.T, clientID string) string {
	t.Helper()
	cmd := exec.Command(h.Binary, "token", "--config", h.ConfigPath, "--client", clientID)
	cmd.Env = cleanEnv()
	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}
	return strings.TrimSpace(string(out))
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Post sends one JSON-RPC message to /mcp. A nil id sends a notification.
func (h *TestHarness) Post(method string, params any, token string, id *int64) (*http.Response, []byte, error) {
	msg := map[string]any{"jsonrpc": "2.0", "method": method}
	if params != nil {
		msg["params"] = params
	}
	if id != nil {
		msg["id"] = *id
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling %s: %w", method, err)
	}

	req, err := http.NewRequest(http.MethodPost, h.BaseURL+"/mcp", bytes.NewReader(data))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if h.session != "" {
		req.Header.Set("Mcp-Session-Id", h.session)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, fmt.Errorf("reading body: %w", err)
	}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		body = lastEventData(body)
	}
	return resp, body, nil
}

// lastEventData returns the payload of the last SSE data line.
func lastEventData(stream []byte) []byte {
	var last []byte
	sc := bufio.NewScanner(bytes.NewReader(stream))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if data, ok := bytes.CutPrefix(sc.Bytes(), []byte("data:")); ok {
			last = append([]byte(nil), bytes.TrimSpace(data)...)
		}
	}
	return last
}

// Call sends a request and decodes its result into dst.
func (h *TestHarness) Call(t *testing.T, method string, params any, token string, dst any) {
	t.Helper()
	id := h.nextID.Add(1)
	resp, body, err := h.Post(method, params, token, &id)
	if err != nil {
		t.Fatalf("%s: %v", method, err)
	}
	RequireStatus(t, resp, body, http.StatusOK)

	var rr rpcResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		t.Fatalf("%s: decoding response %s: %v", method, truncate(string(body), 500), err)
	}
	if rr.Error != nil {
		t.Fatalf("%s: rpc error %d: %s", method, rr.Error.Code, rr.Error.Message)
	}
	if dst != nil {
		if err := json.Unmarshal(rr.Result, dst); err != nil {
			t.Fatalf("%s: decoding result: %v", method, err)
		}
	}
}

// Initialize opens an MCP session with the given bearer token.
func (h *TestHarness) Initialize(t *testing.T, token string) {
	t.Helper()
	h.session = ""
	id := h.nextID.Add(1)
	resp, body, err := h.Post("initialize", map[string]any{
		"protocolVersion": "2025-03-26",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]string{"name": "dbmcp-e2e", "version": "0.0.0"},
	}, token, &id)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	RequireStatus(t, resp, body, http.StatusOK)
	h.session = resp.Header.Get("Mcp-Session-Id")

	if _, _, err := h.Post("notifications/initialized", nil, token, nil); err != nil {
		t.Fatalf("initialized notification: %v", err)
	}
}

// ToolResult is the decoded result of tools/call.
type ToolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

// Text joins the text content blocks.
func (r ToolResult) Text() string {
	var parts []string
	for _, c := range r.Content {
		if c.Type == "text" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// CallTool invokes a tool and returns its result.
func (h *TestHarness) CallTool(t *testing.T, token, name string, args map[string]any) ToolResult {
	t.Helper()
	if args == nil {
		args = map[string]any{}
	}
	var res ToolResult
	h.Call(t, "tools/call", map[string]any{"name": name, "arguments": args}, token, &res)
	return res
}

// RequireStatus asserts the HTTP status code matches expected.
func RequireStatus(t *testing.T, resp *http.Response, body []byte, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d: %s", expected, resp.StatusCode, truncate(string(body), 500))
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
