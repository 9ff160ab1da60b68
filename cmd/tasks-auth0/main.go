// Command tasks-auth0 serves a task-manager MCP server over the streamable
// HTTP transport, validating Auth0-issued bearer tokens as a resource server.
// Tasks persist in a local sqlite database.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/harborlane/mcpserver/internal/jwtauth"
	"github.com/harborlane/mcpserver/sessions"
	"github.com/harborlane/mcpserver/storage/sqlite"
	"github.com/harborlane/mcpserver/streaminghttp"
)

type config struct {
	ListenAddr     string `env:"LISTEN_ADDR,default=127.0.0.1:9000"`
	PublicEndpoint string `env:"MCP_PUBLIC_ENDPOINT,default=http://127.0.0.1:9000/mcp"`

	Auth0Domain   string `env:"AUTH0_DOMAIN,required"`
	Auth0Audience string `env:"AUTH0_AUDIENCE,default=https://mcp-tasks-api"`

	SQLitePath string `env:"TASKS_SQLITE_PATH,default=tasks.db"`
	LogLevel   string `env:"LOG_LEVEL,default=info"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tasks-auth0: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg config
	if err := envdecode.Decode(&cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	issuer := fmt.Sprintf("https://%s/", cfg.Auth0Domain)
	verifier, err := jwtauth.New(ctx, &jwtauth.Config{
		Issuer:   issuer,
		Audience: cfg.Auth0Audience,
		Claims:   jwtauth.Auth0Claims{},
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("token verifier: %w", err)
	}

	store, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	server := newServer(store)
	registry := sessions.NewRegistry(log, server.SessionFactory())
	server.ConnectRegistry(registry)

	handler, err := streaminghttp.New(ctx, cfg.PublicEndpoint, registry, verifier,
		streaminghttp.WithServerName("tasks"),
		streaminghttp.WithLogger(log),
		streaminghttp.WithAuthorizationServers(issuer),
		streaminghttp.WithScopesSupported("read:tasks", "write:tasks"),
	)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: handler}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = registry.CloseAll(shutdownCtx)
	}()

	log.Info("server.start",
		slog.String("addr", cfg.ListenAddr),
		slog.String("endpoint", cfg.PublicEndpoint),
		slog.String("issuer", issuer),
	)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
