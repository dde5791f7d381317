package tracker

import (
	"context"
	"fmt"
	"strings"

	"github.com/steveyegge/portalsync/internal/types"
)

// CreateMirror creates the counterpart of source in relatedProject, links the two
// and reconciles versions and priority on both. Nothing is rolled back when a step
// after creation fails; later updates repair partial mirrors.
func (e *Engine) CreateMirror(ctx context.Context, actor *types.User, source *types.Issue, relatedProject *types.Project) (mirror *types.Issue, err error) {
	const op = "create_mirror"
	ctx, end := e.begin(ctx, op, source)
	defer end(&err)

	if relatedProject == nil {
		return nil, opError(op, source.Key, ErrUnresolvedLink, fmt.Errorf("no related project"))
	}
	sourcePortal, err := e.isPortal(ctx, source.ProjectID)
	if err != nil {
		return nil, err
	}
	relatedPortal, err := e.isPortal(ctx, relatedProject.ID)
	if err != nil {
		return nil, err
	}

	e.ledger.LockSummary(source, types.EventIssueCreated)

	draft, err := e.cloneInto(ctx, source, relatedProject, true)
	if err != nil {
		return nil, opError(op, source.Key, ErrCreateFailure, err)
	}
	draft.Assignee = cloneUser(source.Assignee)
	draft.Reporter = cloneUser(source.Reporter)

	var clientReporter *types.User
	if relatedPortal && e.roleValue(source, RoleAsAClient) == e.asAClient {
		owners, err := e.host.Roles.MembersOf(ctx, e.roles.PortalOwner, relatedProject.ID)
		switch {
		case err != nil:
			e.logger.WarnContext(ctx, "portal owner lookup failed",
				append(issueAttrs(source), "role", e.roles.PortalOwner, "error", err)...)
		case len(owners) == 0:
			e.logger.WarnContext(ctx, "no portal owner to report on behalf of client",
				append(issueAttrs(source), "project", relatedProject.Key)...)
		default:
			clientReporter = owners[0]
			draft.Reporter = cloneUser(clientReporter)
		}
	}

	mirror, err = e.host.Issues.CreateIssue(ctx, actor, draft)
	if err != nil {
		return nil, opError(op, source.Key, ErrCreateFailure, err)
	}
	e.logger.InfoContext(ctx, "mirror created", pairAttrs(source, mirror)...)

	e.SyncAttachments(ctx, actor, source, mirror)
	e.reindex(ctx, op, mirror)

	portalKey, hasPortalKey := e.fields.Field(RolePortalKey)
	if sourcePortal {
		if _, err := e.links.SaveIssueLink(ctx, source.ID, mirror.ID); err != nil {
			return mirror, fmt.Errorf("linking %s to %s: %w", source, mirror, err)
		}
		if hasPortalKey {
			e.host.Fields.SetValue(mirror, portalKey, source.Key)
		}
	} else {
		if _, err := e.links.SaveIssueLink(ctx, mirror.ID, source.ID); err != nil {
			return mirror, fmt.Errorf("linking %s to %s: %w", mirror, source, err)
		}
		if hasPortalKey {
			e.host.Fields.SetValue(source, portalKey, mirror.Key)
		}
		if clientReporter != nil {
			source.Reporter = cloneUser(clientReporter)
			mirror.Reporter = cloneUser(clientReporter)
		}
	}
	if !hasPortalKey {
		e.report(ctx, op, ErrUnresolvedLink, "portal key field is not configured", pairAttrs(source, mirror)...)
	}

	mirror.AffectedVersions = append([]types.Version(nil), source.AffectedVersions...)
	mirror.FixVersions = append([]types.Version(nil), source.FixVersions...)
	e.correctVersions(ctx, op, mirror, relatedPortal)

	portalProject := source.ProjectKey
	if !sourcePortal {
		portalProject = relatedProject.Key
	}
	e.updatePriority(ctx, op, portalProject, source, mirror)

	if err := e.silentUpdate(ctx, actor, mirror); err != nil {
		return mirror, err
	}
	if err := e.silentUpdate(ctx, actor, source); err != nil {
		return mirror, err
	}

	e.dropWatchers(ctx, mirror)
	e.reindex(ctx, op, mirror)
	e.reindex(ctx, op, source)
	return mirror, nil
}

// CreateInternalIssue copies a portal issue that lives on a remote host into
// internalProject. The copy is assigned to the support user and reported by
// client.
func (e *Engine) CreateInternalIssue(ctx context.Context, client *types.User, remote *types.Issue, internalProject *types.Project) (created *types.Issue, err error) {
	const op = "create_internal_issue"
	ctx, end := e.begin(ctx, op, remote)
	defer end(&err)

	if internalProject == nil {
		return nil, opError(op, remote.Key, ErrUnresolvedLink, fmt.Errorf("no internal project"))
	}
	draft, err := e.cloneInto(ctx, remote, internalProject, false)
	if err != nil {
		return nil, opError(op, remote.Key, ErrCreateFailure, err)
	}
	draft.Assignee = cloneUser(e.support)
	draft.Reporter = cloneUser(client)

	e.ledger.LockSummary(draft, types.EventIssueCreated)
	created, err = e.host.Issues.CreateIssue(ctx, client, draft)
	if err != nil {
		return nil, opError(op, remote.Key, ErrCreateFailure, err)
	}
	e.reindex(ctx, op, created)

	if _, err := e.links.SaveIssueLink(ctx, remote.ID, created.ID); err != nil {
		return created, fmt.Errorf("linking %s to %s: %w", remote, created, err)
	}
	if f, ok := e.fields.Field(RolePortalKey); ok {
		e.host.Fields.SetValue(created, f, remote.Key)
	} else {
		e.report(ctx, op, ErrUnresolvedLink, "portal key field is not configured", pairAttrs(remote, created)...)
	}

	created.AffectedVersions = append([]types.Version(nil), remote.AffectedVersions...)
	created.FixVersions = append([]types.Version(nil), remote.FixVersions...)
	e.correctVersions(ctx, op, created, false)

	if err := e.silentUpdate(ctx, client, created); err != nil {
		return created, err
	}
	e.reindex(ctx, op, created)
	return created, nil
}

// cloneInto prepares an unsaved copy of source for project. Versions are left
// empty; they are remapped once the copy exists.
func (e *Engine) cloneInto(ctx context.Context, source *types.Issue, project *types.Project, withCustomFields bool) (*types.Issue, error) {
	c, err := e.host.Issues.CloneIssue(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("cloning %s: %w", source, err)
	}
	now := e.now()
	c.ID = 0
	c.Key = ""
	c.ProjectID = project.ID
	c.ProjectKey = project.Key
	c.Type = source.Type
	c.Created = now
	c.Updated = now
	c.AffectedVersions = nil
	c.FixVersions = nil
	c.CustomFields = nil
	c.Components = remapComponents(source.Components, project.Components)

	if source.SecurityLevelID != nil {
		level, err := e.host.Projects.DefaultSecurityLevel(ctx, project.ID)
		if err != nil {
			return nil, fmt.Errorf("default security level of %s: %w", project.Key, err)
		}
		c.SecurityLevelID = level
	}

	if withCustomFields {
		if err := e.populateCustomFields(ctx, source, c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// populateCustomFields copies every custom field of source that target's project
// and issue type also have. Calculated fields and watchers are skipped.
func (e *Engine) populateCustomFields(ctx context.Context, source, target *types.Issue) error {
	fields, err := e.host.Fields.FieldsFor(ctx, source.ProjectID, source.Type.ID)
	if err != nil {
		return fmt.Errorf("custom fields of %s: %w", source, err)
	}
	targetFields, err := e.host.Fields.FieldsFor(ctx, target.ProjectID, target.Type.ID)
	if err != nil {
		return fmt.Errorf("custom fields of project %d: %w", target.ProjectID, err)
	}
	present := make(map[string]bool, len(targetFields))
	for _, f := range targetFields {
		present[f.ID] = true
	}
	for _, f := range fields {
		if f.Calculated || strings.EqualFold(f.Name, watchersFieldName) || !present[f.ID] {
			continue
		}
		e.host.Fields.SetValue(target, f, e.host.Fields.ValueOf(source, f))
	}
	return nil
}

// remapComponents matches components by name; unmatched ones are dropped.
func remapComponents(src, available []types.Component) []types.Component {
	if len(src) == 0 {
		return nil
	}
	byName := make(map[string]types.Component, len(available))
	for _, c := range available {
		byName[c.Name] = c
	}
	var out []types.Component
	for _, c := range src {
		if m, ok := byName[c.Name]; ok {
			out = append(out, m)
		}
	}
	return out
}

// dropWatchers removes the default watchers the host adds to a new issue.
func (e *Engine) dropWatchers(ctx context.Context, issue *types.Issue) {
	watchers, err := e.host.Watchers.Watchers(ctx, issue)
	if err != nil {
		e.logger.WarnContext(ctx, "listing watchers failed", append(issueAttrs(issue), "error", err)...)
		return
	}
	for _, w := range watchers {
		if err := e.host.Watchers.StopWatching(ctx, w, issue); err != nil {
			e.logger.WarnContext(ctx, "removing watcher failed",
				append(issueAttrs(issue), "user", w.Key(), "error", err)...)
		}
	}
}

func cloneUser(u *types.User) *types.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
