package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/steveyegge/portalsync/internal/storage"
	"github.com/steveyegge/portalsync/internal/timeparsing"
	"github.com/steveyegge/portalsync/internal/ui"
)

var linksCmd = &cobra.Command{
	Use:     "links",
	GroupID: "links",
	Short:   "Inspect and repair issue links",
	Long: `Inspect the link store that pairs every portal issue with its internal mirror.

Examples:
  psync links list --since 2d
  psync links list --since "last monday" --limit 20
  psync links show 10042
  psync links unlink 10042`,
}

var linksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List issue links, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		sinceStr, _ := cmd.Flags().GetString("since")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := storage.LinkFilter{Limit: limit}
		if sinceStr != "" {
			since, err := timeparsing.ParseSince(sinceStr, time.Now())
			if err != nil {
				FatalErrorWithHint(err.Error(), "Use a duration like 3d, a date like 2026-01-31 or a phrase like \"last monday\"")
			}
			filter.Since = since
		}

		ctx := commandContext()
		cfg := mustLoadConfig()
		store := mustOpenLinkStore(ctx, cfg)
		defer func() { _ = store.Close() }()

		links, err := store.ListIssueLinks(ctx, filter)
		if err != nil {
			FatalError("list links: %v", err)
		}
		if jsonOutput {
			if links == nil {
				links = []*storage.IssueLink{}
			}
			outputJSON(links)
			return
		}
		if len(links) == 0 {
			fmt.Println(ui.EmptyState("No issue links found"))
			return
		}
		fmt.Println(strings.TrimRight(ui.RenderTable(
			[]string{"PORTAL", "", "INTERNAL", "CREATED"},
			issueLinkRows(links, time.Now()),
		), "\n"))
		fmt.Println(ui.RenderMuted(fmt.Sprintf("%d link(s)", len(links))))
	},
}

var linksShowCmd = &cobra.Command{
	Use:   "show <issue-id>",
	Short: "Show the link and comment links of an issue",
	Long: `Show the link of an issue given the numeric ID of either side, together with
the comment links recorded for the pair.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := mustParseID(args[0])
		ctx := commandContext()
		cfg := mustLoadConfig()
		store := mustOpenLinkStore(ctx, cfg)
		defer func() { _ = store.Close() }()

		link, _, err := findIssueLink(ctx, store, id)
		if errors.Is(err, storage.ErrNotFound) {
			FatalError("issue %d is not linked", id)
		}
		if err != nil {
			FatalError("%v", err)
		}
		comments, err := store.ListCommentLinks(ctx, link.PortalIssueID)
		if err != nil {
			FatalError("list comment links: %v", err)
		}

		if jsonOutput {
			if comments == nil {
				comments = []*storage.CommentLink{}
			}
			outputJSON(map[string]interface{}{
				"link":     link,
				"comments": comments,
			})
			return
		}

		width := ui.TerminalWidth(100)
		fmt.Println(ui.FitLine(fmt.Sprintf("%s %s %s %s", ui.RenderCategory("Issue"),
			ui.RenderAccent(strconv.FormatInt(link.PortalIssueID, 10)), ui.Arrow,
			ui.RenderAccent(strconv.FormatInt(link.InternalIssueID, 10))), width))
		fmt.Println(ui.FitLine(fmt.Sprintf("  linked %s (%s)", humanize.Time(link.CreatedAt), link.CreatedAt.Format(time.RFC3339)), width))
		if len(comments) == 0 {
			fmt.Println(ui.EmptyState("  no comment links"))
			return
		}
		fmt.Println()
		rows := make([][]string, 0, len(comments))
		for _, c := range comments {
			rows = append(rows, []string{
				strconv.FormatInt(c.PortalCommentID, 10),
				ui.Arrow,
				strconv.FormatInt(c.InternalCommentID, 10),
				humanize.Time(c.CreatedAt),
			})
		}
		fmt.Println(strings.TrimRight(ui.RenderTable(
			[]string{"PORTAL COMMENT", "", "INTERNAL COMMENT", "CREATED"}, rows), "\n"))
	},
}

var linksUnlinkCmd = &cobra.Command{
	Use:   "unlink <issue-id>",
	Short: "Forget the link of an issue and its comment links",
	Long: `Remove the link of an issue given the numeric ID of either side. Neither
issue is touched; later events on them no longer propagate.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := mustParseID(args[0])
		ctx := commandContext()
		cfg := mustLoadConfig()
		store := mustOpenLinkStore(ctx, cfg)
		defer func() { _ = store.Close() }()

		link, err := unlinkIssue(ctx, store, id)
		if errors.Is(err, storage.ErrNotFound) {
			FatalError("issue %d is not linked", id)
		}
		if err != nil {
			FatalError("%v", err)
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"removed": link})
			return
		}
		fmt.Printf("%s Unlinked %d %s %d\n", ui.RenderPassIcon(), link.PortalIssueID, ui.Arrow, link.InternalIssueID)
	},
}

func init() {
	linksListCmd.Flags().String("since", "", "Only links created since (e.g. 3d, 2026-01-31, \"last monday\")")
	linksListCmd.Flags().Int("limit", 50, "Maximum number of links (0 for all)")
	linksCmd.AddCommand(linksListCmd, linksShowCmd, linksUnlinkCmd)
	rootCmd.AddCommand(linksCmd)
}

// findIssueLink looks id up as a portal issue first, then as an internal one.
func findIssueLink(ctx context.Context, store storage.LinkStore, id int64) (link *storage.IssueLink, portal bool, err error) {
	link, err = store.IssueLinkByPortal(ctx, id)
	if err == nil {
		return link, true, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, err
	}
	link, err = store.IssueLinkByInternal(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return link, false, nil
}

// unlinkIssue removes the issue link of id and the comment links of the pair.
func unlinkIssue(ctx context.Context, store storage.LinkStore, id int64) (*storage.IssueLink, error) {
	link, portal, err := findIssueLink(ctx, store, id)
	if err != nil {
		return nil, err
	}
	if err := store.RemoveCommentLinks(ctx, link.PortalIssueID); err != nil {
		return nil, fmt.Errorf("remove comment links: %w", err)
	}
	if err := store.RemoveIssueLink(ctx, id, portal); err != nil {
		return nil, fmt.Errorf("remove issue link: %w", err)
	}
	return link, nil
}

func issueLinkRows(links []*storage.IssueLink, now time.Time) [][]string {
	rows := make([][]string, 0, len(links))
	for _, l := range links {
		rows = append(rows, []string{
			strconv.FormatInt(l.PortalIssueID, 10),
			ui.Arrow,
			strconv.FormatInt(l.InternalIssueID, 10),
			humanize.RelTime(l.CreatedAt, now, "ago", "from now"),
		})
	}
	return rows
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid ID %q: expected a positive number", s)
	}
	return id, nil
}

func mustParseID(s string) int64 {
	id, err := parseID(s)
	if err != nil {
		FatalError("%v", err)
	}
	return id
}
