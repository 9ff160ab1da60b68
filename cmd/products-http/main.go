// Command products-http serves a product-catalog MCP server over the
// streamable HTTP transport, without authentication. The backing store is
// selected with STORE_DRIVER: json (default), sqlite, or redis.
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

	"github.com/harborlane/mcpserver/sessions"
	"github.com/harborlane/mcpserver/storage"
	"github.com/harborlane/mcpserver/storage/jsonfile"
	"github.com/harborlane/mcpserver/storage/redis"
	"github.com/harborlane/mcpserver/storage/sqlite"
	"github.com/harborlane/mcpserver/streaminghttp"
)

type config struct {
	ListenAddr     string `env:"LISTEN_ADDR,default=127.0.0.1:8000"`
	PublicEndpoint string `env:"MCP_PUBLIC_ENDPOINT,default=http://127.0.0.1:8000/mcp"`

	StoreDriver string `env:"STORE_DRIVER,default=json"`
	DataFile    string `env:"PRODUCTS_DATA_FILE,default=products.json"`
	SQLitePath  string `env:"PRODUCTS_SQLITE_PATH,default=products.db"`
	RedisAddr   string `env:"REDIS_ADDR,default=localhost:6379"`

	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "products-http: %v\n", err)
		os.Exit(1)
	}
}

func openStore(cfg config) (storage.Store, error) {
	switch cfg.StoreDriver {
	case "json":
		return jsonfile.New(cfg.DataFile)
	case "sqlite":
		return sqlite.Open(cfg.SQLitePath)
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return redis.New(redis.Config{Client: client, KeyPrefix: "products:"})
	}
	return nil, fmt.Errorf("unknown STORE_DRIVER %q (want json, sqlite, or redis)", cfg.StoreDriver)
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

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	server, resources := newServer(store)
	registry := sessions.NewRegistry(log, server.SessionFactory())
	server.ConnectRegistry(registry)

	if w, ok := store.(storage.Watcher); ok {
		if err := w.Watch(ctx, resources.NotifyChanged); err != nil {
			log.Warn("store.watch.fail", slog.String("err", err.Error()))
		}
	}

	handler, err := streaminghttp.New(ctx, cfg.PublicEndpoint, registry, nil,
		streaminghttp.WithServerName("products"),
		streaminghttp.WithLogger(log),
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
		slog.String("store", cfg.StoreDriver),
	)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
