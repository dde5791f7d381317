package tracker_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/portalsync/internal/priority"
	"github.com/steveyegge/portalsync/internal/storage"
	"github.com/steveyegge/portalsync/internal/storage/memory"
	"github.com/steveyegge/portalsync/internal/tracker"
	"github.com/steveyegge/portalsync/internal/tracker/trackertest"
	"github.com/steveyegge/portalsync/internal/transition"
	"github.com/steveyegge/portalsync/internal/types"
)

const (
	portalID   int64 = 100
	internalID int64 = 200

	fPortalKey = "customfield_10937"
	fUrgency   = "customfield_10938"
	fImpact    = "customfield_10939"
	fAsAClient = "customfield_10940"
	fRegion    = "customfield_10941"
	fScore     = "customfield_10942"
	fWatchers  = "customfield_10943"
)

var (
	fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	agent  = &types.User{Name: "agent"}
	client = &types.User{Name: "client"}
	owner  = &types.User{Name: "owner"}

	bug  = types.IssueType{ID: "1", Name: "Bug"}
	task = types.IssueType{ID: "3", Name: "Task"}
)

func ptr[T any](v T) *T { return &v }

type fixture struct {
	ctx    context.Context
	host   *trackertest.Host
	links  *memory.Store
	engine *tracker.Engine
	logs   *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	host := trackertest.New()
	host.SetClock(func() time.Time { return fixedNow })
	host.AddProject(types.Project{ID: portalID, Key: "IP", Components: []types.Component{{ID: 1, Name: "UI"}, {ID: 2, Name: "API"}}},
		&types.ProjectExtraFields{Portal: true, RelatedProjectID: internalID, Bidirectional: true})
	host.AddProject(types.Project{ID: internalID, Key: "INT", Components: []types.Component{{ID: 11, Name: "UI"}, {ID: 12, Name: "Backend"}}},
		&types.ProjectExtraFields{RelatedProjectID: portalID, Bidirectional: true})
	host.DefineFields([]int64{portalID, internalID},
		tracker.Field{ID: fPortalKey, Name: "Portal key"},
		tracker.Field{ID: fUrgency, Name: "Urgency"},
		tracker.Field{ID: fImpact, Name: "Business impact"},
		tracker.Field{ID: fAsAClient, Name: "As a client"},
		tracker.Field{ID: fRegion, Name: "Region"},
		tracker.Field{ID: fScore, Name: "Score", Calculated: true},
		tracker.Field{ID: fWatchers, Name: "Watchers"},
	)
	host.SetRoleMembers(tracker.DefaultPortalOwnerRole, portalID, owner)
	host.SetRoleMembers(tracker.DefaultClientRole, portalID, client)

	reg := priority.NewRegistry([]priority.Table{{
		Project: "IP",
		Rows: []priority.Row{
			{IssueType: "Bug", Urgency: "High", Impact: "High", Priority: ptr(1), DueIn: priority.Duration(4 * time.Hour)},
			{IssueType: "Bug", Urgency: "High", Impact: "Low", Priority: ptr(2)},
			{IssueType: "Bug", Urgency: "Low", Impact: "*"},
		},
		DueDates: map[string]priority.Duration{"Major": priority.Duration(48 * time.Hour)},
	}})
	reg.SetClock(func() time.Time { return fixedNow })

	links := memory.New()
	var logs bytes.Buffer
	e, err := tracker.NewEngine(tracker.Config{
		Host:       host.Collaborators(),
		Links:      links,
		Priorities: reg,
		Transitions: transition.New(
			[]transition.ActionMapping{{SourceStatus: "Resolved", ActionID: 71, ActionName: "Answer"}},
			[]transition.EventMapping{{Event: 10001, ActionID: 31}},
		),
		Fields: tracker.FieldRoles{
			tracker.RolePortalKey:      fPortalKey,
			tracker.RoleUrgency:        fUrgency,
			tracker.RoleBusinessImpact: fImpact,
			tracker.RoleAsAClient:      fAsAClient,
		},
		SupportUser: &types.User{Name: "support"},
		Logger:      slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
		Now:         func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return &fixture{ctx: context.Background(), host: host, links: links, engine: e, logs: &logs}
}

func (f *fixture) project(t *testing.T, id int64) *types.Project {
	t.Helper()
	p, err := f.host.Project(f.ctx, id)
	require.NoError(t, err)
	return p
}

// pair stores a portal issue and an internal issue and links them.
func (f *fixture) pair(t *testing.T) (portal, internal *types.Issue) {
	t.Helper()
	portal = f.host.AddIssue(&types.Issue{ProjectID: portalID, Type: bug, Summary: "Printer on fire", Status: types.Status{Name: "Open"}})
	internal = f.host.AddIssue(&types.Issue{ProjectID: internalID, Type: bug, Summary: "Printer on fire", Status: types.Status{Name: "Open"}})
	_, err := f.links.SaveIssueLink(f.ctx, portal.ID, internal.ID)
	require.NoError(t, err)
	return portal, internal
}

func TestNewEngineRequiresCollaborators(t *testing.T) {
	_, err := tracker.NewEngine(tracker.Config{Links: memory.New()})
	assert.ErrorContains(t, err, "host is required")

	host := trackertest.New().Collaborators()
	host.Index = nil
	_, err = tracker.NewEngine(tracker.Config{Host: host, Links: memory.New()})
	assert.ErrorContains(t, err, "index collaborator is required")

	_, err = tracker.NewEngine(tracker.Config{Host: trackertest.New().Collaborators()})
	assert.ErrorContains(t, err, "link store is required")
}

func TestCreateMirrorFromPortal(t *testing.T) {
	f := newFixture(t)
	f.host.SetDefaultSecurityLevel(internalID, 9)
	f.host.DefaultWatchers = []*types.User{agent}
	_, err := f.links.SaveVersionLink(f.ctx, 401, 501)
	require.NoError(t, err)

	source := f.host.AddIssue(&types.Issue{
		ProjectID:       portalID,
		Type:            bug,
		Summary:         "Printer on fire",
		Reporter:        client,
		Assignee:        agent,
		Components:      []types.Component{{ID: 1, Name: "UI"}, {ID: 2, Name: "API"}},
		SecurityLevelID: ptr(int64(5)),
		Priority:        &types.Priority{ID: "3", Name: "Major"},
		FixVersions:     []types.Version{{ID: 401, ProjectID: portalID}},
		CustomFields: map[string]any{
			fUrgency:  "High",
			fImpact:   map[string]any{"value": "High"},
			fRegion:   "EU",
			fScore:    42,
			fWatchers: "agent",
		},
	})

	mirror, err := f.engine.CreateMirror(f.ctx, agent, source, f.project(t, internalID))
	require.NoError(t, err)
	assert.Equal(t, "INT-1", mirror.Key)

	link, err := f.links.IssueLinkByPortal(f.ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, mirror.ID, link.InternalIssueID)

	stored := f.host.Issue(mirror.ID)
	assert.Equal(t, "IP-1", stored.CustomFields[fPortalKey])
	assert.Equal(t, "EU", stored.CustomFields[fRegion])
	assert.NotContains(t, stored.CustomFields, fScore, "calculated fields are skipped")
	assert.NotContains(t, stored.CustomFields, fWatchers, "watchers field is skipped")
	assert.Equal(t, []types.Component{{ID: 11, Name: "UI"}}, stored.Components)
	assert.Equal(t, int64(9), *stored.SecurityLevelID)
	assert.Equal(t, []types.Version{{ID: 501, ProjectID: internalID}}, stored.FixVersions)
	assert.Equal(t, client, stored.Reporter)
	assert.Equal(t, agent, stored.Assignee)
	assert.Empty(t, f.host.WatchersOf(mirror.ID))

	due := fixedNow.Add(4 * time.Hour)
	for _, issue := range []*types.Issue{stored, f.host.Issue(source.ID)} {
		require.NotNil(t, issue.Priority, issue.Key)
		assert.Equal(t, "1", issue.Priority.ID, issue.Key)
		require.NotNil(t, issue.DueDate, issue.Key)
		assert.Equal(t, due, *issue.DueDate, issue.Key)
	}

	for _, u := range f.host.Updates {
		assert.False(t, u.Notify, "mirror writes are silent")
	}
	assert.Contains(t, f.host.Reindexed, mirror.ID)
	assert.Contains(t, f.host.Reindexed, source.ID)

	ledger := f.engine.Ledger()
	assert.False(t, ledger.ShouldProcess(stored, types.EventIssueCreated), "mirror creation is self-caused")
	assert.True(t, ledger.ShouldProcess(stored, types.EventIssueCreated))
}

func TestCreateMirrorFromInternalAsAClient(t *testing.T) {
	f := newFixture(t)
	source := f.host.AddIssue(&types.Issue{
		ProjectID: internalID,
		Type:      task,
		Summary:   "VPN down",
		Reporter:  agent,
		CustomFields: map[string]any{
			fAsAClient: []any{map[string]any{"value": tracker.DefaultAsAClientYes}},
		},
	})

	mirror, err := f.engine.CreateMirror(f.ctx, agent, source, f.project(t, portalID))
	require.NoError(t, err)
	assert.Equal(t, "IP-1", mirror.Key)

	link, err := f.links.IssueLinkByPortal(f.ctx, mirror.ID)
	require.NoError(t, err)
	assert.Equal(t, source.ID, link.InternalIssueID)

	storedSource := f.host.Issue(source.ID)
	assert.Equal(t, "IP-1", storedSource.CustomFields[fPortalKey])
	assert.Equal(t, owner, storedSource.Reporter)
	assert.Equal(t, owner, f.host.Issue(mirror.ID).Reporter)

	assert.Contains(t, f.logs.String(), "can't find priority mapping")
}

func TestCreateMirrorCreateFailure(t *testing.T) {
	f := newFixture(t)
	f.host.CreateErr = errors.New("summary is required")
	source := f.host.AddIssue(&types.Issue{ProjectID: portalID, Type: bug})

	_, err := f.engine.CreateMirror(f.ctx, agent, source, f.project(t, internalID))
	require.ErrorIs(t, err, tracker.ErrCreateFailure)
	assert.ErrorContains(t, err, "summary is required")
	assert.Equal(t, tracker.ErrCreateFailure, tracker.KindOf(err))

	links, err := f.links.ListIssueLinks(f.ctx, storage.LinkFilter{})
	require.NoError(t, err)
	assert.Empty(t, links, "no link without a mirror")
}

func TestCreateMirrorIndexFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	f.host.IndexErr = errors.New("index locked")
	source := f.host.AddIssue(&types.Issue{ProjectID: portalID, Type: bug, Summary: "s"})

	mirror, err := f.engine.CreateMirror(f.ctx, agent, source, f.project(t, internalID))
	require.NoError(t, err)
	assert.NotNil(t, mirror)
	assert.Contains(t, f.logs.String(), "reindex failed")
	assert.Contains(t, f.logs.String(), "kind=index_failure")
}

func TestRelatedIssueIsOneToOne(t *testing.T) {
	f := newFixture(t)
	portal, internal := f.pair(t)

	got, err := f.engine.RelatedIssue(f.ctx, portal, true)
	require.NoError(t, err)
	assert.Equal(t, internal.ID, got.ID)

	got, err = f.engine.RelatedIssue(f.ctx, internal, false)
	require.NoError(t, err)
	assert.Equal(t, portal.ID, got.ID)

	lonely := f.host.AddIssue(&types.Issue{ProjectID: portalID})
	got, err = f.engine.RelatedIssue(f.ctx, lonely, true)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCopyComment(t *testing.T) {
	t.Run("portal to internal adds one tag", func(t *testing.T) {
		f := newFixture(t)
		portal, internal := f.pair(t)

		for _, body := range []string{"hello", types.PortalTag + "hello"} {
			c := f.host.AddComment(portal.ID, client, body)
			created, err := f.engine.CopyComment(f.ctx, portal, internal, c)
			require.NoError(t, err)
			require.NotNil(t, created)
			assert.Equal(t, types.PortalTag+"hello", f.host.Comment(created.ID).Body)

			link, err := f.links.CommentLinkByComment(f.ctx, storage.CommentPortal, c.ID)
			require.NoError(t, err)
			assert.Equal(t, created.ID, link.InternalCommentID)
			assert.Equal(t, portal.ID, link.PortalIssueID)
		}
		assert.False(t, f.engine.Ledger().ShouldProcess(internal, types.EventIssueCommented))
	})

	t.Run("tagged internal comment loses exactly one tag", func(t *testing.T) {
		f := newFixture(t)
		portal, internal := f.pair(t)

		c := f.host.AddComment(internal.ID, agent, types.PortalTag+types.PortalTag+"fixed")
		created, err := f.engine.CopyComment(f.ctx, internal, portal, c)
		require.NoError(t, err)
		require.NotNil(t, created)
		assert.Equal(t, types.PortalTag+"fixed", f.host.Comment(created.ID).Body)

		link, err := f.links.CommentLinkByComment(f.ctx, storage.CommentInternal, c.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, link.PortalCommentID)
	})

	t.Run("untagged internal comment stays internal", func(t *testing.T) {
		f := newFixture(t)
		portal, internal := f.pair(t)

		c := f.host.AddComment(internal.ID, agent, "staff only")
		created, err := f.engine.CopyComment(f.ctx, internal, portal, c)
		require.NoError(t, err)
		assert.Nil(t, created)
		assert.Empty(t, f.host.CommentsOn(portal.ID))
	})

	t.Run("nil comment", func(t *testing.T) {
		f := newFixture(t)
		portal, internal := f.pair(t)
		created, err := f.engine.CopyComment(f.ctx, portal, internal, nil)
		require.NoError(t, err)
		assert.Nil(t, created)
	})
}

func TestUpdateComment(t *testing.T) {
	setup := func(t *testing.T) (*fixture, *types.Issue, *types.Issue, *types.Comment, *types.Comment) {
		f := newFixture(t)
		portal, internal := f.pair(t)
		pc := f.host.AddComment(portal.ID, client, "original")
		ic, err := f.engine.CopyComment(f.ctx, portal, internal, pc)
		require.NoError(t, err)
		return f, portal, internal, pc, ic
	}

	t.Run("portal edit tags the internal counterpart", func(t *testing.T) {
		f, _, internal, pc, ic := setup(t)
		pc.Body = "edited"
		pc.UpdateAuthor = client
		require.NoError(t, f.engine.UpdateComment(f.ctx, internal, pc))
		got := f.host.Comment(ic.ID)
		assert.Equal(t, types.PortalTag+"edited", got.Body)
		assert.Equal(t, client, got.UpdateAuthor)
		assert.False(t, f.engine.Ledger().ShouldProcess(internal, types.EventIssueCommentEdited))
	})

	t.Run("untagged internal edit is pushed and re-tags the original", func(t *testing.T) {
		f, portal, _, pc, ic := setup(t)
		ic.Body = "more context"
		require.NoError(t, f.engine.UpdateComment(f.ctx, portal, ic))
		assert.Equal(t, "more context", f.host.Comment(pc.ID).Body)
		assert.Equal(t, types.PortalTag+"more context", f.host.Comment(ic.ID).Body)
	})

	t.Run("tagged internal edit is stripped", func(t *testing.T) {
		f, portal, _, pc, ic := setup(t)
		ic.Body = types.PortalTag + "answer"
		require.NoError(t, f.engine.UpdateComment(f.ctx, portal, ic))
		assert.Equal(t, "answer", f.host.Comment(pc.ID).Body)
	})

	t.Run("no comment link is a no-op", func(t *testing.T) {
		f, _, internal, _, _ := setup(t)
		stray := f.host.AddComment(internal.ID, agent, "stray")
		require.NoError(t, f.engine.UpdateComment(f.ctx, internal, stray))
		assert.Contains(t, f.logs.String(), "no comment link")
	})
}

func TestSyncAttachments(t *testing.T) {
	t.Run("source has more", func(t *testing.T) {
		f := newFixture(t)
		portal, internal := f.pair(t)
		f.host.AddAttachment(portal.ID, "a.png", 10)
		f.host.AddAttachment(portal.ID, "b.log", 20)
		f.host.AddAttachment(portal.ID, "c.pdf", 30)
		f.host.AddAttachment(internal.ID, "a.png", 10)
		f.host.AddAttachment(internal.ID, "b.log", 20)

		added, removed := f.engine.SyncAttachments(f.ctx, agent, portal, internal)
		assert.Equal(t, 1, added)
		assert.Zero(t, removed)
		assert.Equal(t, []string{"a.png", "b.log", "c.pdf"}, f.host.AttachmentNames(internal.ID))
	})

	t.Run("source has fewer", func(t *testing.T) {
		f := newFixture(t)
		portal, internal := f.pair(t)
		f.host.AddAttachment(portal.ID, "a.png", 10)
		f.host.AddAttachment(internal.ID, "a.png", 10)
		f.host.AddAttachment(internal.ID, "b.log", 20)

		added, removed := f.engine.SyncAttachments(f.ctx, agent, portal, internal)
		assert.Zero(t, added)
		assert.Equal(t, 1, removed)
		assert.Equal(t, []string{"a.png"}, f.host.AttachmentNames(internal.ID))
	})

	t.Run("equal counts are left alone", func(t *testing.T) {
		f := newFixture(t)
		portal, internal := f.pair(t)
		f.host.AddAttachment(portal.ID, "a.png", 10)
		f.host.AddAttachment(internal.ID, "z.png", 10)

		added, removed := f.engine.SyncAttachments(f.ctx, agent, portal, internal)
		assert.Zero(t, added+removed)
	})

	t.Run("missing blob is logged and skipped", func(t *testing.T) {
		f := newFixture(t)
		portal, internal := f.pair(t)
		a := f.host.AddAttachment(portal.ID, "a.png", 10)
		f.host.AddAttachment(portal.ID, "b.log", 20)
		f.host.MissingBlobs[a.Path] = true

		added, _ := f.engine.SyncAttachments(f.ctx, agent, portal, internal)
		assert.Equal(t, 1, added)
		assert.Equal(t, []string{"b.log"}, f.host.AttachmentNames(internal.ID))
		assert.Contains(t, f.logs.String(), "copying attachment failed")
		assert.Contains(t, f.logs.String(), a.Path)
	})
}

func TestUpdateIssue(t *testing.T) {
	t.Run("copies fields and maps priority from the portal", func(t *testing.T) {
		f := newFixture(t)
		portal, internal := f.pair(t)
		portal.Summary = "Printer on fire, again"
		portal.Labels = []string{"hardware"}
		portal.Description = "smoke"
		portal.TimeSpent = ptr(int64(1800))
		portal.CustomFields = map[string]any{fUrgency: "High", fImpact: "High", fRegion: "US"}

		require.NoError(t, f.engine.UpdateIssue(f.ctx, agent, portal, internal, nil, types.EventIssueUpdated))

		got := f.host.Issue(internal.ID)
		assert.Equal(t, "Printer on fire, again", got.Summary)
		assert.Equal(t, []string{"hardware"}, got.Labels)
		assert.Equal(t, "smoke", got.Description)
		assert.Equal(t, int64(1800), *got.TimeSpent)
		assert.Equal(t, "US", got.CustomFields[fRegion])
		require.NotNil(t, got.Priority)
		assert.Equal(t, "1", got.Priority.ID)
		assert.Equal(t, fixedNow.Add(4*time.Hour), *got.DueDate)
		assert.Empty(t, f.host.Transitions)

		src := f.host.Issue(portal.ID)
		require.NotNil(t, src.Priority, "derived priority is saved on the portal issue")
		assert.Equal(t, "1", src.Priority.ID)
		require.NotNil(t, src.DueDate)
		assert.Equal(t, fixedNow.Add(4*time.Hour), *src.DueDate)
		for _, u := range f.host.Updates {
			assert.False(t, u.Notify)
		}
	})

	t.Run("row without due_in keeps the due date", func(t *testing.T) {
		f := newFixture(t)
		portal, internal := f.pair(t)
		due := fixedNow.Add(72 * time.Hour)
		portal.DueDate = &due
		portal.CustomFields = map[string]any{fUrgency: "High", fImpact: "Low"}

		require.NoError(t, f.engine.UpdateIssue(f.ctx, agent, portal, internal, nil, types.EventIssueUpdated))
		for _, issue := range []*types.Issue{f.host.Issue(internal.ID), f.host.Issue(portal.ID)} {
			require.NotNil(t, issue.Priority, issue.Key)
			assert.Equal(t, "2", issue.Priority.ID, issue.Key)
			require.NotNil(t, issue.DueDate, issue.Key)
			assert.Equal(t, due, *issue.DueDate, issue.Key)
		}
	})

	t.Run("row without priority copies the priority only", func(t *testing.T) {
		f := newFixture(t)
		portal, internal := f.pair(t)
		portal.Priority = &types.Priority{ID: "4", Name: "Minor"}
		portal.CustomFields = map[string]any{fUrgency: "Low", fImpact: "High"}
		updates := len(f.host.Updates)

		require.NoError(t, f.engine.UpdateIssue(f.ctx, agent, portal, internal, nil, types.EventIssueUpdated))
		got := f.host.Issue(internal.ID)
		assert.Equal(t, "4", got.Priority.ID)
		assert.Nil(t, got.DueDate)
		assert.Nil(t, f.host.Issue(portal.ID).DueDate)
		assert.Len(t, f.host.Updates, updates+1, "only the related issue is written")
		assert.NotContains(t, f.logs.String(), "can't find priority mapping")
	})

	t.Run("internal priority is copied verbatim", func(t *testing.T) {
		f := newFixture(t)
		portal, internal := f.pair(t)
		internal.Priority = &types.Priority{ID: "2", Name: "Critical"}

		require.NoError(t, f.engine.UpdateIssue(f.ctx, agent, internal, portal, nil, types.EventIssueUpdated))
		assert.Equal(t, "2", f.host.Issue(portal.ID).Priority.ID)
		assert.NotContains(t, f.logs.String(), "can't find priority mapping")
	})

	t.Run("due date of the current priority when no row matches", func(t *testing.T) {
		f := newFixture(t)
		portal, internal := f.pair(t)
		portal.Type = task
		portal.Priority = &types.Priority{ID: "3", Name: "Major"}

		require.NoError(t, f.engine.UpdateIssue(f.ctx, agent, portal, internal, nil, types.EventIssueUpdated))
		assert.Equal(t, fixedNow.Add(48*time.Hour), *f.host.Issue(internal.ID).DueDate)
		assert.NotContains(t, f.logs.String(), "can't find priority mapping")
	})

	t.Run("custom event drives a transition", func(t *testing.T) {
		f := newFixture(t)
		portal, internal := f.pair(t)

		require.NoError(t, f.engine.UpdateIssue(f.ctx, agent, portal, internal, nil, 10001))
		require.Len(t, f.host.Transitions, 1)
		assert.Equal(t, 31, f.host.Transitions[0].ActionID)
		assert.Equal(t, internal.ID, f.host.Transitions[0].IssueID)
		assert.False(t, f.engine.Ledger().ShouldProcess(internal, 10001))
	})

	t.Run("mirrors the triggering comment", func(t *testing.T) {
		f := newFixture(t)
		portal, internal := f.pair(t)
		c := f.host.AddComment(portal.ID, client, "see attached")

		require.NoError(t, f.engine.UpdateIssue(f.ctx, agent, portal, internal, c, types.EventIssueUpdated))
		comments := f.host.CommentsOn(internal.ID)
		require.Len(t, comments, 1)
		assert.Equal(t, types.PortalTag+"see attached", comments[0].Body)
	})

	t.Run("missing related issue is a no-op", func(t *testing.T) {
		f := newFixture(t)
		portal, _ := f.pair(t)
		require.NoError(t, f.engine.UpdateIssue(f.ctx, agent, portal, nil, nil, types.EventIssueUpdated))
		assert.Contains(t, f.logs.String(), "related issue doesn't exist")
	})
}

func TestTransitIssue(t *testing.T) {
	setup := func(t *testing.T) (*fixture, *types.Issue, *types.Issue) {
		f := newFixture(t)
		portal, internal := f.pair(t)
		_, err := f.links.SaveVersionLink(f.ctx, 401, 501)
		require.NoError(t, err)
		internal.Status = types.Status{Name: "Resolved"}
		internal.Resolution = &types.Resolution{ID: "10000", Name: "Done"}
		internal.FixVersions = []types.Version{{ID: 501}, {ID: 999}}
		internal.Estimate = ptr(int64(600))
		return f, portal, internal
	}

	t.Run("resolved transition carries resolution and versions", func(t *testing.T) {
		f, portal, internal := setup(t)
		require.NoError(t, f.engine.TransitIssue(f.ctx, agent, types.EventIssueResolved, internal, portal, nil))

		require.Len(t, f.host.Transitions, 1)
		tr := f.host.Transitions[0]
		assert.Equal(t, portal.ID, tr.IssueID)
		assert.Equal(t, 71, tr.ActionID)
		assert.Equal(t, "10000", tr.Inputs.ResolutionID)
		assert.Equal(t, []int64{401}, tr.Inputs.FixVersionIDs, "unlinked versions are skipped")
		assert.Equal(t, int64(600), *tr.Inputs.RemainingEstimate)
		assert.Contains(t, f.logs.String(), "no version link")
		assert.False(t, f.engine.Ledger().ShouldProcess(portal, types.EventIssueResolved))
	})

	t.Run("rejected transition leaves the target untouched", func(t *testing.T) {
		f, portal, internal := setup(t)
		f.host.RejectActions[71] = "Resolution is required"

		err := f.engine.TransitIssue(f.ctx, agent, types.EventIssueResolved, internal, portal, nil)
		require.ErrorIs(t, err, tracker.ErrTransitionValidation)
		assert.ErrorContains(t, err, "Resolution is required")
		assert.Empty(t, f.host.Transitions)
		assert.Nil(t, f.host.Issue(portal.ID).Resolution)
		assert.True(t, f.engine.Ledger().ShouldProcess(portal, types.EventIssueResolved), "nothing locked")
	})

	t.Run("comment is mirrored before the transition", func(t *testing.T) {
		f, portal, internal := setup(t)
		c := f.host.AddComment(internal.ID, agent, types.PortalTag+"done")

		require.NoError(t, f.engine.TransitIssue(f.ctx, agent, types.EventIssueResolved, internal, portal, c))
		comments := f.host.CommentsOn(portal.ID)
		require.Len(t, comments, 1)
		assert.Equal(t, "done", comments[0].Body)
	})
}

func TestAssignee(t *testing.T) {
	bob := &types.User{Name: "bob"}

	t.Run("valid assignment", func(t *testing.T) {
		f := newFixture(t)
		portal, internal := f.pair(t)
		portal.Assignee = bob

		require.NoError(t, f.engine.Assignee(f.ctx, agent, portal, internal, nil))
		assert.Equal(t, bob, f.host.Issue(internal.ID).Assignee)
		assert.False(t, f.engine.Ledger().ShouldProcess(internal, types.EventIssueAssigned))
	})

	t.Run("invalid assignment", func(t *testing.T) {
		f := newFixture(t)
		portal, internal := f.pair(t)
		portal.Assignee = bob
		f.host.RejectAssignees["bob"] = true

		err := f.engine.Assignee(f.ctx, agent, portal, internal, nil)
		require.ErrorIs(t, err, tracker.ErrTransitionValidation)
		assert.Nil(t, f.host.Issue(internal.ID).Assignee)
	})
}

func TestRemoveIssueLinkAndDelete(t *testing.T) {
	f := newFixture(t)
	portal, internal := f.pair(t)
	c := f.host.AddComment(portal.ID, client, "hi")
	_, err := f.engine.CopyComment(f.ctx, portal, internal, c)
	require.NoError(t, err)
	emitted := len(f.host.Emitted)

	require.NoError(t, f.engine.RemoveIssueLink(f.ctx, portal))
	require.NoError(t, f.engine.DeleteIssue(f.ctx, internal))

	_, err = f.links.IssueLinkByPortal(f.ctx, portal.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	comments, err := f.links.ListCommentLinks(f.ctx, portal.ID)
	require.NoError(t, err)
	assert.Empty(t, comments)
	assert.Equal(t, []int64{internal.ID}, f.host.Deleted)
	assert.Nil(t, f.host.Issue(internal.ID))
	assert.Len(t, f.host.Emitted, emitted, "deletion dispatches nothing")
}

func TestRemoveIssueLinkFromInternalSide(t *testing.T) {
	f := newFixture(t)
	portal, internal := f.pair(t)

	require.NoError(t, f.engine.RemoveIssueLink(f.ctx, internal))
	_, err := f.links.IssueLinkByPortal(f.ctx, portal.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, f.engine.RemoveIssueLink(f.ctx, internal))
	assert.Contains(t, f.logs.String(), "no issue link to remove")
}

func TestCreateInternalIssue(t *testing.T) {
	f := newFixture(t)
	_, err := f.links.SaveVersionLink(f.ctx, 401, 501)
	require.NoError(t, err)
	remote := &types.Issue{ID: 9000, Key: "CLOUD-7", ProjectID: 999, Type: bug, Summary: "Login broken",
		FixVersions: []types.Version{{ID: 401}}}

	created, err := f.engine.CreateInternalIssue(f.ctx, client, remote, f.project(t, internalID))
	require.NoError(t, err)

	got := f.host.Issue(created.ID)
	assert.Equal(t, "support", got.Assignee.Name)
	assert.Equal(t, client, got.Reporter)
	assert.Equal(t, "CLOUD-7", got.CustomFields[fPortalKey])
	assert.Equal(t, []types.Version{{ID: 501, ProjectID: internalID}}, got.FixVersions)

	link, err := f.links.IssueLinkByPortal(f.ctx, 9000)
	require.NoError(t, err)
	assert.Equal(t, created.ID, link.InternalIssueID)
}

func TestApplyCommentVisibility(t *testing.T) {
	f := newFixture(t)
	issue := f.host.AddIssue(&types.Issue{ProjectID: portalID})

	staff := f.host.AddComment(issue.ID, agent, "internal note")
	changed, err := f.engine.ApplyCommentVisibility(f.ctx, issue, staff)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, tracker.DefaultInternalRole, f.host.Comment(staff.ID).RoleLevel)

	fromClient := f.host.AddComment(issue.ID, client, "question")
	changed, err = f.engine.ApplyCommentVisibility(f.ctx, issue, fromClient)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, f.host.Comment(fromClient.ID).RoleLevel)

	tagged := f.host.AddComment(issue.ID, agent, types.PortalTag+"answer")
	changed, err = f.engine.ApplyCommentVisibility(f.ctx, issue, tagged)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "answer", f.host.Comment(tagged.ID).Body)
}

func TestStripWorklogTag(t *testing.T) {
	f := newFixture(t)
	issue := f.host.AddIssue(&types.Issue{ProjectID: internalID})

	w := f.host.AddWorklog(issue.ID, types.PortalTag+"replaced toner")
	changed, err := f.engine.StripWorklogTag(f.ctx, agent, w)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "replaced toner", f.host.Worklog(w.ID).Comment)

	plain := f.host.AddWorklog(issue.ID, "plain")
	changed, err = f.engine.StripWorklogTag(f.ctx, agent, plain)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestValidateFieldRoles(t *testing.T) {
	f := newFixture(t)
	catalog := f.host.Collaborators().Fields

	require.NoError(t, tracker.ValidateFieldRoles(f.ctx, catalog, tracker.FieldRoles{tracker.RolePortalKey: fPortalKey}))

	err := tracker.ValidateFieldRoles(f.ctx, catalog, tracker.FieldRoles{
		"case-number":       fPortalKey,
		tracker.RoleUrgency: "customfield_1",
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, `unknown field role "case-number"`)
	assert.ErrorContains(t, err, "customfield_1")
}

func TestKindOf(t *testing.T) {
	assert.Nil(t, tracker.KindOf(errors.New("plain")))
	assert.Equal(t, tracker.ErrAttachmentIO, tracker.KindOf(errors.Join(errors.New("x"), tracker.ErrAttachmentIO)))

	err := &tracker.OpError{Op: "assign", IssueKey: "INT-1", Kind: tracker.ErrTransitionValidation, Err: errors.New("nope")}
	assert.Equal(t, "assign INT-1: transition validation failure: nope", err.Error())
	assert.ErrorIs(t, err, tracker.ErrTransitionValidation)
}

func TestSilentUpdatesLockEchoes(t *testing.T) {
	t.Run("host without echoes", func(t *testing.T) {
		f := newFixture(t)
		portal, internal := f.pair(t)

		require.NoError(t, f.engine.UpdateIssue(f.ctx, agent, portal, internal, nil, types.EventIssueUpdated))
		assert.Equal(t, 0, f.engine.Ledger().Len())
	})

	t.Run("host that echoes silent updates", func(t *testing.T) {
		f := newFixture(t)
		f.host.EchoUpdates = true
		portal, internal := f.pair(t)
		portal.CustomFields = map[string]any{fUrgency: "High", fImpact: "High"}

		require.NoError(t, f.engine.UpdateIssue(f.ctx, agent, portal, internal, nil, types.EventIssueUpdated))
		ledger := f.engine.Ledger()
		assert.False(t, ledger.ShouldProcess(internal, types.EventIssueUpdated))
		assert.False(t, ledger.ShouldProcess(portal, types.EventIssueUpdated))
		assert.Equal(t, 0, ledger.Len())
	})
}
