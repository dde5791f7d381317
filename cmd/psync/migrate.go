package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/portalsync/internal/config"
	"github.com/steveyegge/portalsync/internal/storage/dolt"
	"github.com/steveyegge/portalsync/internal/storage/sqlite"
	"github.com/steveyegge/portalsync/internal/ui"
)

// schemaVersioner is implemented by the SQL link store backends.
type schemaVersioner interface {
	SchemaVersion(ctx context.Context) (int, error)
}

var migrateCmd = &cobra.Command{
	Use:     "migrate",
	GroupID: "setup",
	Short:   "Create or upgrade the link store schema",
	Long: `Open the configured link store and apply pending schema migrations.

Migrations also run whenever a command opens the store; this command lets
operators upgrade ahead of a deploy and confirm the resulting version.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := commandContext()
		cfg := mustLoadConfig()

		version, err := migrateLinkStore(ctx, cfg)
		if err != nil {
			FatalError("%v", err)
		}
		latest := latestSchemaVersion(cfg.Storage.Backend)
		if jsonOutput {
			outputJSON(map[string]interface{}{
				"backend":        cfg.Storage.Backend,
				"schema_version": version,
				"latest_version": latest,
			})
			return
		}
		if version < latest {
			FatalError("%s link store is at schema version %d, expected %d", cfg.Storage.Backend, version, latest)
		}
		if version == 0 {
			fmt.Printf("%s %s link store has no schema\n", ui.RenderPassIcon(), cfg.Storage.Backend)
			return
		}
		fmt.Printf("%s %s link store at schema version %d\n", ui.RenderPassIcon(), cfg.Storage.Backend, version)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

// migrateLinkStore opens the store, which migrates it, and reports the schema
// version. Backends without a schema report 0.
func migrateLinkStore(ctx context.Context, cfg *config.Config) (int, error) {
	store, err := openLinkStore(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer func() { _ = store.Close() }()

	sv, ok := store.(schemaVersioner)
	if !ok {
		return 0, nil
	}
	return sv.SchemaVersion(ctx)
}

// latestSchemaVersion returns the newest schema version of backend, 0 for
// backends without a schema.
func latestSchemaVersion(backend string) int {
	switch backend {
	case config.BackendSQLite, "":
		return sqlite.Dialect.LatestVersion()
	case config.BackendDolt:
		return dolt.Dialect.LatestVersion()
	}
	return 0
}
