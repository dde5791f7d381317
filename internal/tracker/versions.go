package tracker

import (
	"context"
	"errors"

	"github.com/steveyegge/portalsync/internal/storage"
	"github.com/steveyegge/portalsync/internal/types"
)

// correctVersions replaces issue's affected and fix versions with their
// counterparts in issue's project. Versions without a link are dropped.
func (e *Engine) correctVersions(ctx context.Context, op string, issue *types.Issue, targetIsPortal bool) {
	issue.AffectedVersions = e.restoreVersions(ctx, op, issue, issue.AffectedVersions, targetIsPortal)
	issue.FixVersions = e.restoreVersions(ctx, op, issue, issue.FixVersions, targetIsPortal)
}

func (e *Engine) restoreVersions(ctx context.Context, op string, issue *types.Issue, versions []types.Version, targetIsPortal bool) []types.Version {
	if len(versions) == 0 {
		return nil
	}
	out := make([]types.Version, 0, len(versions))
	for _, v := range versions {
		id, ok := e.restoreVersion(ctx, op, issue, v.ID, targetIsPortal)
		if !ok {
			continue
		}
		out = append(out, types.Version{ID: id, ProjectID: issue.ProjectID})
	}
	return out
}

// restoreVersion maps one version ID to the other side.
func (e *Engine) restoreVersion(ctx context.Context, op string, issue *types.Issue, versionID int64, targetIsPortal bool) (int64, bool) {
	id, err := e.links.RestoreVersion(ctx, versionID, targetIsPortal)
	if err == nil {
		return id, true
	}
	if errors.Is(err, storage.ErrNotFound) {
		e.report(ctx, op, ErrUnresolvedLink, "no version link",
			append(issueAttrs(issue), "version_id", versionID, "target_portal", targetIsPortal)...)
	} else {
		e.logger.ErrorContext(ctx, "version lookup failed",
			append(issueAttrs(issue), "version_id", versionID, "error", err)...)
	}
	return 0, false
}
