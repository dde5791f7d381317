package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/portalsync/internal/config"
	"github.com/steveyegge/portalsync/internal/eventbus"
	_ "github.com/steveyegge/portalsync/internal/jira" // registers the "jira" host
	"github.com/steveyegge/portalsync/internal/listener"
	"github.com/steveyegge/portalsync/internal/priority"
	"github.com/steveyegge/portalsync/internal/telemetry"
	"github.com/steveyegge/portalsync/internal/tracker"
	"github.com/steveyegge/portalsync/internal/types"
	"github.com/steveyegge/portalsync/internal/webhook"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Receive tracker webhooks and mirror issues",
	Long: `Start the webhook listener.

Every delivery is re-read from the tracker, classified and handed to the
mirroring handlers. The process runs until interrupted and then drains
in-flight requests for server.shutdown_timeout.

Routes:
  GET  /health
  POST /webhooks/jira
  POST /project/{key}/issue/{issue}/create|update|delete
  POST /project/{key}/issue/{issue}/comment/{id}/create|update
  POST /project/{key}/worklog/create|update
  POST /project/{key}/version/{id}`,
	Run: func(cmd *cobra.Command, args []string) {
		addr, _ := cmd.Flags().GetString("addr")
		cfg := mustLoadConfig()
		if addr != "" {
			cfg.Server.Addr = addr
		}
		logger := newLogger(cfg, os.Stderr)
		slog.SetDefault(logger)

		if err := runServe(commandContext(), cfg, logger); err != nil {
			FatalError("%v", err)
		}
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := telemetry.Init(ctx, "psync", Version); err != nil {
		logger.Warn("telemetry disabled", "error", err)
	}
	defer telemetry.Shutdown(context.Background())

	store, err := openLinkStore(ctx, cfg)
	if err != nil {
		return err
	}
	links := telemetry.WrapLinkStore(store)
	defer func() { _ = links.Close() }()

	projects := config.NewProjectRegistry(cfg.Projects)
	host, err := tracker.NewHost(ctx, cfg.Host, tracker.HostSettings{
		URL:         cfg.Jira.URL,
		Username:    cfg.Jira.Username,
		APIToken:    cfg.Jira.APIToken,
		Timeout:     cfg.Jira.Timeout,
		Logger:      logger,
		ExtraFields: projects,
	})
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.Host, err)
	}
	if err := tracker.ValidateFieldRoles(ctx, host.Fields, cfg.FieldRoles()); err != nil {
		return err
	}

	transitions, err := cfg.Resolver()
	if err != nil {
		return err
	}
	priorities, err := loadPriorities(cfg)
	if err != nil {
		return err
	}

	engine, err := tracker.NewEngine(tracker.Config{
		Host:                 host,
		Links:                links,
		Priorities:           priorities,
		Transitions:          transitions,
		Fields:               cfg.FieldRoles(),
		Roles:                cfg.EngineRoles(),
		AsAClientYes:         cfg.AsAClientYes,
		CustomEventThreshold: cfg.Threshold(),
		SupportUser:          cfg.SupportAccount(),
		Logger:               logger,
	})
	if err != nil {
		return err
	}

	bus := eventbus.New(logger)
	listener.New(engine, logger).Register(bus)
	logger.Debug("handlers registered", "count", len(bus.Handlers()))

	srv, err := webhook.NewServer(webhook.Config{
		Bus:             bus,
		Issues:          host.Issues,
		Links:           links,
		Secret:          []byte(cfg.Webhook.Secret),
		EventTypes:      cfg.EventTypes(),
		Cloud:           cfg.Webhook.Mode == config.ModeCloud,
		Engine:          engine,
		InternalProject: internalProjectResolver(projects, engine),
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Server.Addr, "host", cfg.Host,
			"mode", cfg.Webhook.Mode, "portals", cfg.PortalProjects())
		if err := srv.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("webhook server: %w", err)
		}
		return nil
	})
	if cfg.Priority.Table != "" && cfg.Priority.Watch {
		g.Go(func() error {
			return priority.Watch(gctx, cfg.Priority.Table, priorities, logger)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// loadPriorities reads the priority table file, if one is configured.
func loadPriorities(cfg *config.Config) (*priority.Registry, error) {
	if cfg.Priority.Table == "" {
		return priority.NewRegistry(nil), nil
	}
	tables, err := priority.LoadFile(cfg.Priority.Table)
	if err != nil {
		return nil, fmt.Errorf("priority table: %w", err)
	}
	return priority.NewRegistry(tables), nil
}

// internalProjectResolver maps a remote portal project key onto the internal
// project paired with it in the configuration.
func internalProjectResolver(projects *config.ProjectRegistry, engine *tracker.Engine) webhook.ProjectResolver {
	return func(ctx context.Context, projectKey string) (*types.Project, error) {
		id, ok := projects.IDByKey(strings.TrimSpace(projectKey))
		if !ok {
			return nil, nil
		}
		extra, err := projects.ExtraFields(ctx, id)
		if err != nil || extra == nil {
			return nil, err
		}
		return engine.RelatedProject(ctx, extra)
	}
}
