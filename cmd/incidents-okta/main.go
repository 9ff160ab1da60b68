// Command incidents-okta serves an incident-tracker MCP server over the
// streamable HTTP transport, validating Okta-issued bearer tokens as a
// resource server. Incidents persist in redis.
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
	goredis "github.com/redis/go-redis/v9"

	"github.com/harborlane/mcpserver/internal/jwtauth"
	"github.com/harborlane/mcpserver/sessions"
	"github.com/harborlane/mcpserver/storage/redis"
	"github.com/harborlane/mcpserver/streaminghttp"
)

type config struct {
	ListenAddr     string `env:"LISTEN_ADDR,default=127.0.0.1:9001"`
	PublicEndpoint string `env:"MCP_PUBLIC_ENDPOINT,default=http://127.0.0.1:9001/mcp"`

	OktaDomain       string `env:"OKTA_DOMAIN,required"`
	OktaAudience     string `env:"OKTA_AUDIENCE,default=https://mcp-incidents-api"`
	OktaAuthServerID string `env:"OKTA_AUTH_SERVER_ID,default=default"`

	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "incidents-okta: %v\n", err)
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

	issuer := fmt.Sprintf("https://%s/oauth2/%s", cfg.OktaDomain, cfg.OktaAuthServerID)
	verifier, err := jwtauth.New(ctx, &jwtauth.Config{
		Issuer:   issuer,
		Audience: cfg.OktaAudience,
		Claims:   jwtauth.OktaClaims{},
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("token verifier: %w", err)
	}

	client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	store, err := redis.New(redis.Config{Client: client, KeyPrefix: "incidents:"})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	server := newServer(store)
	registry := sessions.NewRegistry(log, server.SessionFactory())
	server.ConnectRegistry(registry)

	handler, err := streaminghttp.New(ctx, cfg.PublicEndpoint, registry, verifier,
		streaminghttp.WithServerName("incidents"),
		streaminghttp.WithLogger(log),
		streaminghttp.WithAuthorizationServers(issuer),
		streaminghttp.WithScopesSupported("read:incidents", "write:incidents"),
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
