package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/steveyegge/portalsync/internal/storage"
	"github.com/steveyegge/portalsync/internal/ui"
)

var versionsCmd = &cobra.Command{
	Use:     "versions",
	GroupID: "links",
	Short:   "Manage version links",
	Long: `Manage the links between portal and internal project versions.

Fix versions and affected versions are translated through these links when
issues are mirrored. Versions without a link are dropped from the mirror.

Examples:
  psync versions link 401 9001
  psync versions list
  psync versions unlink 401`,
}

var versionsLinkCmd = &cobra.Command{
	Use:   "link <portal-version-id> <internal-version-id>",
	Short: "Pair a portal version with an internal version",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		portalID := mustParseID(args[0])
		internalID := mustParseID(args[1])

		ctx := commandContext()
		cfg := mustLoadConfig()
		store := mustOpenLinkStore(ctx, cfg)
		defer func() { _ = store.Close() }()

		link, err := store.SaveVersionLink(ctx, portalID, internalID)
		if err != nil {
			FatalError("link versions: %v", err)
		}
		if jsonOutput {
			outputJSON(link)
			return
		}
		fmt.Printf("%s Linked version %d %s %d\n", ui.RenderPassIcon(), link.PortalVersionID, ui.Arrow, link.InternalVersionID)
	},
}

var versionsUnlinkCmd = &cobra.Command{
	Use:   "unlink <version-id>",
	Short: "Remove every link that references a version",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := mustParseID(args[0])

		ctx := commandContext()
		cfg := mustLoadConfig()
		store := mustOpenLinkStore(ctx, cfg)
		defer func() { _ = store.Close() }()

		if err := store.RemoveVersionLinks(ctx, id); err != nil {
			FatalError("unlink version: %v", err)
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"version_id": id, "removed": true})
			return
		}
		fmt.Printf("%s Removed links of version %d\n", ui.RenderPassIcon(), id)
	},
}

var versionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List version links",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := commandContext()
		cfg := mustLoadConfig()
		store := mustOpenLinkStore(ctx, cfg)
		defer func() { _ = store.Close() }()

		links, err := store.ListVersionLinks(ctx)
		if err != nil {
			FatalError("list version links: %v", err)
		}
		if jsonOutput {
			if links == nil {
				links = []*storage.VersionLink{}
			}
			outputJSON(links)
			return
		}
		if len(links) == 0 {
			fmt.Println(ui.EmptyState("No version links found"))
			return
		}
		rows := make([][]string, 0, len(links))
		for _, l := range links {
			rows = append(rows, []string{
				strconv.FormatInt(l.PortalVersionID, 10),
				ui.Arrow,
				strconv.FormatInt(l.InternalVersionID, 10),
				humanize.Time(l.CreatedAt),
			})
		}
		fmt.Println(strings.TrimRight(ui.RenderTable(
			[]string{"PORTAL", "", "INTERNAL", "CREATED"}, rows), "\n"))
	},
}

func init() {
	versionsCmd.AddCommand(versionsLinkCmd, versionsUnlinkCmd, versionsListCmd)
	rootCmd.AddCommand(versionsCmd)
}
