// Command notes-stdio serves a note-keeping MCP server over the stdio
// transport, backed by a JSON file on disk.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joeshaw/envdecode"

	"github.com/harborlane/mcpserver/stdio"
	"github.com/harborlane/mcpserver/storage/jsonfile"
)

type config struct {
	DataFile string `env:"NOTES_DATA_FILE,default=notes.json"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "notes-stdio: %v\n", err)
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
	// Stdout carries the protocol; logs go to stderr.
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := jsonfile.New(cfg.DataFile)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	server, resources := newServer(store)

	if err := store.Watch(ctx, resources.NotifyChanged); err != nil {
		log.Warn("store.watch.fail", slog.String("err", err.Error()))
	}

	h := stdio.NewHandler(server.SessionFactory(), stdio.WithLogger(log))
	log.Info("server.start", slog.String("data_file", cfg.DataFile))
	return h.Serve(ctx)
}
