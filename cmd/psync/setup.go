package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/steveyegge/portalsync/internal/config"
	"github.com/steveyegge/portalsync/internal/storage"
	"github.com/steveyegge/portalsync/internal/storage/dolt"
	"github.com/steveyegge/portalsync/internal/storage/memory"
	"github.com/steveyegge/portalsync/internal/storage/sqlite"
)

// setupSignalContext creates a context that cancels on SIGINT/SIGTERM for
// graceful shutdown of long running commands.
func setupSignalContext() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	rootCtx, rootCancel = ctx, cancel
}

func commandContext() context.Context {
	if rootCtx == nil {
		return context.Background()
	}
	return rootCtx
}

// loadConfig reads the configuration named by --config, or the default file.
func loadConfig() (*config.Config, error) {
	var opts []config.Option
	if configPath != "" {
		opts = append(opts, config.WithFile(configPath))
	}
	return config.Load(opts...)
}

// mustLoadConfig loads and validates the configuration or exits.
func mustLoadConfig() *config.Config {
	cfg, err := loadConfig()
	if err != nil {
		FatalError("%v", err)
	}
	if err := cfg.Validate(); err != nil {
		FatalErrorWithHint(err.Error(), "Run 'psync config validate' for the full list of problems")
	}
	return cfg
}

// newLogger builds the process logger. Logs always go to w so stdout stays
// reserved for command output.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := cfg.LogLevel()
	if verboseFlag {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(cfg.Log.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h).With("service", "psync")
}

// openLinkStore opens the configured link store backend. SQL backends are
// migrated on open.
func openLinkStore(ctx context.Context, cfg *config.Config) (storage.LinkStore, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendDolt:
		d := cfg.Storage.Dolt
		s, err := dolt.Open(ctx, dolt.Config{
			Path:       cfg.Storage.Path,
			Database:   d.Database,
			ServerMode: d.ServerMode,
			Host:       d.Host,
			Port:       d.Port,
			User:       d.User,
			Password:   d.Password,
			DSN:        d.DSN,
		})
		if err != nil {
			return nil, fmt.Errorf("open dolt link store: %w", err)
		}
		return s, nil
	case config.BackendSQLite, "":
		s, err := sqlite.Open(ctx, cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite link store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// mustOpenLinkStore opens the link store or exits.
func mustOpenLinkStore(ctx context.Context, cfg *config.Config) storage.LinkStore {
	s, err := openLinkStore(ctx, cfg)
	if err != nil {
		FatalError("%v", err)
	}
	return s
}
