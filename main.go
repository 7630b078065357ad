package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/dbmcp/internal/auth"
	"github.com/hazyhaar/dbmcp/internal/config"
	"github.com/hazyhaar/dbmcp/internal/db"
	"github.com/hazyhaar/dbmcp/internal/llm"
	"github.com/hazyhaar/dbmcp/internal/mcp"
	"github.com/hazyhaar/dbmcp/internal/prompt"
	"github.com/hazyhaar/dbmcp/internal/tools"
	"github.com/hazyhaar/dbmcp/pkg/chassis"
	"github.com/hazyhaar/pkg/audit"
	"github.com/hazyhaar/pkg/idgen"
	"github.com/hazyhaar/pkg/ratelimit"
	"github.com/hazyhaar/pkg/trace"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	var err error
	switch os.Args[1] {
	case "serve":
		err = cmdServe(os.Args[2:])
	case "init":
		err = cmdInit(os.Args[2:])
	case "token":
		err = cmdToken(os.Args[2:])
	case "hash-key":
		err = cmdHashKey(os.Args[2:])
	case "version":
		fmt.Printf("%s %s\n", mcp.ServerName, version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`dbmcp: SQLite and a local LLM as MCP tools

Usage:
  dbmcp serve    [--config config.toml] [--transport stdio|http] [--addr :8080]
  dbmcp init     [--config config.toml] [--sample]
  dbmcp token    [--config config.toml] --client NAME
  dbmcp hash-key KEY
  dbmcp version
  dbmcp help

Commands:
  serve     Serve the MCP tools (stdio by default)
  init      Create the database and its tables
  token     Issue a bearer token for the HTTP transport
  hash-key  Print the bcrypt hash of an API key for auth.api_key_hash
  version   Print version
  help      Show this help`)
}

func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, error) {
	configPath := fs.String("config", "config.toml", "path to config.toml")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, errors.Wrap(err, "loading config")
	}
	setupLogging(cfg.Log)
	return cfg, nil
}

// setupLogging installs the default logger. Output goes to stderr because
// stdout carries the stdio transport.
func setupLogging(cfg config.LogConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

// telemetry bundles the optional audit, trace and LLM metrics sinks.
type telemetry struct {
	metrics *db.MetricsDB
	traces  *trace.Store
	audit   *audit.SQLiteLogger
}

// openTelemetry opens the telemetry file and installs its trace store.
// Without a path, statement tracing falls back to slog only.
func openTelemetry(cfg config.TelemetryConfig) (*telemetry, error) {
	if cfg.Path == "" {
		return &telemetry{}, nil
	}
	metrics, err := db.OpenMetrics(cfg.Path)
	if err != nil {
		return nil, err
	}
	t := &telemetry{
		metrics: metrics,
		traces:  trace.NewStore(metrics.DB),
		audit:   audit.NewSQLiteLogger(metrics.DB, audit.WithIDGenerator(idgen.Prefixed("call_", idgen.Default))),
	}
	if err := t.traces.Init(); err != nil {
		t.Close()
		return nil, errors.Wrap(err, "init sql traces")
	}
	if err := t.audit.Init(); err != nil {
		t.Close()
		return nil, errors.Wrap(err, "init audit log")
	}
	trace.SetStore(t.traces)
	return t, nil
}

func (t *telemetry) llmOptions() []llm.Option {
	if t.metrics == nil {
		return nil
	}
	return []llm.Option{llm.WithRecorder(t.metrics)}
}

func (t *telemetry) auditLogger() audit.Logger {
	if t.audit == nil {
		return nil
	}
	return t.audit
}

// limiter returns a rate limiter whose per-address rules can be overridden
// in the telemetry file's rate_limiter_rules table. Without telemetry it is
// memory only.
func (t *telemetry) limiter(ctx context.Context) *ratelimit.Limiter {
	if t.metrics == nil {
		return ratelimit.New(nil)
	}
	l := ratelimit.New(t.metrics.DB)
	if err := l.Init(); err != nil {
		slog.Warn("rate limit rules unavailable", "error", err)
		return ratelimit.New(nil)
	}
	if err := l.Reload(); err != nil {
		slog.Warn("loading rate limit rules", "error", err)
	}
	l.StartReloader(ctx)
	return l
}

// Close flushes the async writers before closing the file.
func (t *telemetry) Close() {
	if t.audit != nil {
		_ = t.audit.Close()
	}
	if t.traces != nil {
		trace.SetStore(nil)
		_ = t.traces.Close()
	}
	if t.metrics != nil {
		_ = t.metrics.Close()
	}
}

func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	transport := fs.String("transport", "", "stdio or http (overrides config)")
	addr := fs.String("addr", "", "listen address for http (overrides config)")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if *transport != "" {
		cfg.Server.Transport = *transport
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := openTelemetry(cfg.Telemetry)
	if err != nil {
		return err
	}
	defer tel.Close()

	store := db.New(cfg.Database, db.WithTracing())
	if err := store.Initialize(ctx); err != nil {
		return errors.Wrap(err, "initializing database")
	}

	prompts, err := prompt.New(cfg.LLM.MaxContextTokens)
	if err != nil {
		return err
	}

	reg, err := mcp.NewRegistry(mcp.Deps{
		Store:   store,
		LLM:     llm.NewFromConfig(cfg.LLM, tel.llmOptions()...),
		Prompts: prompts,
		Options: tools.Options{
			TableSampleRows: cfg.LLM.TableSampleRows,
			DBSampleRows:    cfg.LLM.DBSampleRows,
		},
		Audit: tel.auditLogger(),
	})
	if err != nil {
		return err
	}
	srv := mcp.NewServer(reg, version)

	slog.Info("dbmcp starting",
		"version", version,
		"transport", cfg.Server.Transport,
		"database", store.Path(),
		"model", cfg.LLM.DefaultModel,
		"llm", cfg.LLM.BaseURL,
	)

	if cfg.Server.Transport == "http" {
		return serveHTTP(ctx, cfg, store, srv, tel.limiter(ctx))
	}
	err = mcp.ServeStdio(ctx, srv, os.Stdin, os.Stdout)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func serveHTTP(ctx context.Context, cfg *config.Config, store *db.Store, srv *server.MCPServer, limiter *ratelimit.Limiter) error {
	a := auth.New(cfg.Auth)
	ccfg := chassis.Config{
		Addr:      cfg.Server.Addr,
		MCPServer: srv,
		RateLimit: cfg.Server.RateLimitPerMinute,
		Limiter:   limiter,
		Health: func(ctx context.Context) error {
			_, err := store.GetSchema(ctx)
			return err
		},
	}
	if a.Enabled() {
		ccfg.Auth = a.Middleware
	} else {
		slog.Warn("http transport without auth; set auth.jwt_secret or auth.api_key_hash")
	}
	c, err := chassis.New(ccfg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.Stop(shutdownCtx)
}

func cmdInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	sample := fs.Bool("sample", false, "insert the sample users, products and orders")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	ctx := context.Background()
	store := db.New(cfg.Database)
	if err := store.Initialize(ctx); err != nil {
		return errors.Wrap(err, "initializing database")
	}
	slog.Info("database ready", "path", store.Path())

	if !*sample {
		return nil
	}
	results, err := store.InsertSampleData(ctx)
	if err != nil {
		return err
	}
	for _, r := range results {
		slog.Info("sample data", "table", r.Table, "inserted", r.Inserted)
	}
	return nil
}

func cmdToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	clientID := fs.String("client", "", "client id to embed in the token")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if *clientID == "" {
		return errors.New("--client is required")
	}
	tok, err := auth.New(cfg.Auth).GenerateToken(*clientID)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func cmdHashKey(args []string) error {
	if len(args) != 1 || args[0] == "" {
		return errors.New("usage: dbmcp hash-key KEY")
	}
	hash, err := auth.HashKey(args[0])
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
