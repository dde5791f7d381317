package webhook_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/portalsync/internal/eventbus"
	"github.com/steveyegge/portalsync/internal/listener"
	"github.com/steveyegge/portalsync/internal/storage"
	"github.com/steveyegge/portalsync/internal/storage/memory"
	"github.com/steveyegge/portalsync/internal/tracker"
	"github.com/steveyegge/portalsync/internal/tracker/trackertest"
	"github.com/steveyegge/portalsync/internal/types"
	"github.com/steveyegge/portalsync/internal/webhook"
)

const (
	portalID   int64 = 100
	internalID int64 = 200

	fPortalKey = "customfield_10937"
)

var (
	fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	client   = &types.User{Name: "client"}
	bug      = types.IssueType{ID: "1", Name: "Bug"}
)

type fixture struct {
	ctx    context.Context
	host   *trackertest.Host
	links  *memory.Store
	engine *tracker.Engine
	bus    *eventbus.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	host := trackertest.New()
	host.SetClock(func() time.Time { return fixedNow })
	host.AddProject(types.Project{ID: portalID, Key: "IP"},
		&types.ProjectExtraFields{Portal: true, RelatedProjectID: internalID, Bidirectional: true})
	host.AddProject(types.Project{ID: internalID, Key: "INT"},
		&types.ProjectExtraFields{RelatedProjectID: portalID, Bidirectional: true})
	host.DefineFields([]int64{portalID, internalID}, tracker.Field{ID: fPortalKey, Name: "Portal key"})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	links := memory.New()
	e, err := tracker.NewEngine(tracker.Config{
		Host:        host.Collaborators(),
		Links:       links,
		Fields:      tracker.FieldRoles{tracker.RolePortalKey: fPortalKey},
		SupportUser: &types.User{Name: "support"},
		Logger:      logger,
		Now:         func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	bus := eventbus.New(logger)
	listener.New(e, logger).Register(bus)
	return &fixture{ctx: context.Background(), host: host, links: links, engine: e, bus: bus}
}

func (f *fixture) server(t *testing.T, mutate func(*webhook.Config)) *webhook.Server {
	t.Helper()
	cfg := webhook.Config{
		Bus:    f.bus,
		Issues: f.host,
		Links:  f.links,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    func() time.Time { return fixedNow },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := webhook.NewServer(cfg)
	require.NoError(t, err)
	return s
}

func (f *fixture) pair(t *testing.T) (portal, internal *types.Issue) {
	t.Helper()
	portal = f.host.AddIssue(&types.Issue{ProjectID: portalID, Type: bug, Summary: "Printer on fire"})
	internal = f.host.AddIssue(&types.Issue{ProjectID: internalID, Type: bug, Summary: "Printer on fire"})
	_, err := f.links.SaveIssueLink(f.ctx, portal.ID, internal.ID)
	require.NoError(t, err)
	return portal, internal
}

func post(t *testing.T, s *webhook.Server, path, body string, header http.Header) (int, webhook.Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var resp webhook.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func issuePayload(event, name string, issue *types.Issue) string {
	return fmt.Sprintf(`{"timestamp":1700000000000,"webhookEvent":%q,"issue_event_type_name":%q,
		"user":{"name":"agent"},
		"issue":{"id":"%d","key":%q,"fields":{"summary":%q,"project":{"id":"%d","key":%q},"issuetype":{"id":"1","name":"Bug"}}}}`,
		event, name, issue.ID, issue.Key, issue.Summary, issue.ProjectID, issue.ProjectKey)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.server(t, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestNewServerRequiresCollaborators(t *testing.T) {
	f := newFixture(t)
	_, err := webhook.NewServer(webhook.Config{Bus: f.bus})
	assert.Error(t, err)

	_, err = webhook.NewServer(webhook.Config{Bus: f.bus, Issues: f.host, Links: f.links, Cloud: true})
	assert.Error(t, err, "cloud mode needs an engine")
}

func TestIssueUpdatedIsReReadAndDispatched(t *testing.T) {
	f := newFixture(t)
	portal, internal := f.pair(t)
	s := f.server(t, nil)

	// The host already holds the new summary; the payload snapshot is stale.
	updated := f.host.Issue(portal.ID)
	updated.Summary = "Printer still on fire"
	f.host.AddIssue(updated)

	code, resp := post(t, s, "/webhooks/jira", issuePayload("jira:issue_updated", "issue_updated", portal), nil)
	require.Equal(t, http.StatusOK, code, resp.Error)
	assert.True(t, resp.Success, resp.Errors)
	assert.Equal(t, "issue_updated", resp.EventType)
	assert.Equal(t, portal.Key, resp.IssueKey)
	assert.Equal(t, []string{string(listener.OpUpdateIssue)}, resp.Operations)
	assert.Equal(t, "Printer still on fire", f.host.Issue(internal.ID).Summary)
}

func TestIssueDeletedUsesPayloadSnapshot(t *testing.T) {
	f := newFixture(t)
	portal, internal := f.pair(t)
	s := f.server(t, nil)

	code, resp := post(t, s, "/project/IP/issue/"+portal.Key+"/delete",
		issuePayload("jira:issue_deleted", "issue_deleted", portal), nil)
	require.Equal(t, http.StatusOK, code, resp.Error)
	assert.True(t, resp.Success, resp.Errors)
	assert.Equal(t, []string{string(listener.OpDeleteMirror)}, resp.Operations)
	assert.Contains(t, f.host.Deleted, internal.ID)

	_, err := f.links.IssueLinkByPortal(f.ctx, portal.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCommentRouteCopiesComment(t *testing.T) {
	f := newFixture(t)
	portal, internal := f.pair(t)
	c := f.host.AddComment(portal.ID, client, "any update?")
	s := f.server(t, nil)

	body := fmt.Sprintf(`{"webhookEvent":"comment_created","user":{"name":"client"},
		"issue":{"id":"%d","key":%q,"fields":{}},
		"comment":{"id":"%d","body":"any update?","author":{"name":"client"}}}`, portal.ID, portal.Key, c.ID)
	code, resp := post(t, s, fmt.Sprintf("/project/IP/issue/%s/comment/%d/create", portal.Key, c.ID), body, nil)
	require.Equal(t, http.StatusOK, code, resp.Error)
	assert.Equal(t, "issue_commented", resp.EventType)
	assert.Contains(t, resp.Operations, string(listener.OpCopyComment))

	copies := f.host.CommentsOn(internal.ID)
	require.Len(t, copies, 1)
	assert.Contains(t, copies[0].Body, "any update?")
}

func TestEventTypeResolution(t *testing.T) {
	f := newFixture(t)
	portal := f.host.AddIssue(&types.Issue{ProjectID: portalID, Type: bug, Summary: "s"})
	s := f.server(t, func(c *webhook.Config) {
		c.EventTypes = map[string]types.EventTypeID{"escalate": 10001}
	})

	tests := []struct {
		name      string
		event     string
		issueName string
		want      string
	}{
		{"issue event name wins", "jira:issue_updated", "issue_resolved", "issue_resolved"},
		{"custom event name", "jira:issue_updated", "Escalate", "event_10001"},
		{"webhook event fallback", "jira:issue_updated", "", "issue_updated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := post(t, s, "/webhooks/jira", issuePayload(tt.event, tt.issueName, portal), nil)
			require.Equal(t, http.StatusOK, code, resp.Error)
			assert.Equal(t, tt.want, resp.EventType)
		})
	}

	t.Run("unhandled event is acknowledged", func(t *testing.T) {
		code, resp := post(t, s, "/webhooks/jira", `{"webhookEvent":"user_created"}`, nil)
		assert.Equal(t, http.StatusOK, code)
		assert.True(t, resp.Success)
		assert.Contains(t, resp.Skipped, "user_created")
	})
}

func TestBadRequests(t *testing.T) {
	f := newFixture(t)
	s := f.server(t, nil)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"invalid json", "/webhooks/jira", `{not json`, http.StatusBadRequest},
		{"no issue", "/webhooks/jira", `{"webhookEvent":"jira:issue_updated"}`, http.StatusBadRequest},
		{"deleted without snapshot", "/project/IP/issue/IP-1/delete", `{"webhookEvent":"jira:issue_deleted"}`, http.StatusBadRequest},
		{"unknown issue", "/webhooks/jira", `{"webhookEvent":"jira:issue_updated","issue":{"id":"4242","key":"IP-99","fields":{}}}`, http.StatusNotFound},
		{"bad version id", "/project/IP/version/abc", `{"webhookEvent":"jira:version_deleted"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := post(t, s, tt.path, tt.body, nil)
			assert.Equal(t, tt.want, code)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestSignatureRequired(t *testing.T) {
	f := newFixture(t)
	portal := f.host.AddIssue(&types.Issue{ProjectID: portalID, Type: bug, Summary: "s"})
	secret := []byte("shared-secret")
	s := f.server(t, func(c *webhook.Config) { c.Secret = secret })
	body := issuePayload("jira:issue_updated", "issue_updated", portal)

	code, resp := post(t, s, "/webhooks/jira", body, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, resp.Success)

	code, resp = post(t, s, "/webhooks/jira", body, http.Header{webhook.SignatureHeader: {webhook.Sign([]byte(body), []byte("other"))}})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, resp = post(t, s, "/webhooks/jira", body, http.Header{webhook.SignatureHeader: {webhook.Sign([]byte(body), secret)}})
	assert.Equal(t, http.StatusOK, code, resp.Error)
	assert.True(t, resp.Success)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "health is not signed")
}

func TestVersionDeletedDropsLinks(t *testing.T) {
	for _, path := range []string{"/project/IP/version/401", "/webhooks/jira"} {
		t.Run(path, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.links.SaveVersionLink(f.ctx, 401, 501)
			require.NoError(t, err)
			s := f.server(t, nil)

			code, resp := post(t, s, path, `{"webhookEvent":"jira:version_deleted","version":{"id":"401","name":"1.0"}}`, nil)
			require.Equal(t, http.StatusOK, code, resp.Error)
			assert.True(t, resp.Success)

			_, err = f.links.RestoreVersion(f.ctx, 501, true)
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})
	}

	t.Run("other version events are acknowledged", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.links.SaveVersionLink(f.ctx, 401, 501)
		require.NoError(t, err)
		code, resp := post(t, f.server(t, nil), "/project/IP/version/401", `{"webhookEvent":"jira:version_released","version":{"id":"401"}}`, nil)
		assert.Equal(t, http.StatusOK, code)
		assert.NotEmpty(t, resp.Skipped)

		got, err := f.links.RestoreVersion(f.ctx, 501, true)
		require.NoError(t, err)
		assert.Equal(t, int64(401), got)
	})
}

func TestCloudCreateCopiesRemoteIssue(t *testing.T) {
	f := newFixture(t)
	s := f.server(t, func(c *webhook.Config) {
		c.Cloud = true
		c.Engine = f.engine
		c.InternalProject = func(ctx context.Context, key string) (*types.Project, error) {
			if key != "CLOUD" {
				return nil, nil
			}
			return f.host.Project(ctx, internalID)
		}
	})

	body := `{"webhookEvent":"jira:issue_created","user":{"accountId":"5b10ac8d82e05b22cc7d4ef5","displayName":"Client"},
		"issue":{"id":"9000","key":"CLOUD-7","fields":{"summary":"Login broken","project":{"id":"999","key":"CLOUD"},"issuetype":{"id":"1","name":"Bug"}}}}`
	code, resp := post(t, s, "/project/CLOUD/issue/CLOUD-7/create", body, nil)
	require.Equal(t, http.StatusOK, code, resp.Error)
	assert.True(t, resp.Success)

	created := f.host.IssuesIn(internalID)
	require.Len(t, created, 1)
	assert.Equal(t, created[0].Key, resp.IssueKey)
	assert.Equal(t, "Login broken", created[0].Summary)
	assert.Equal(t, "support", created[0].Assignee.Name)
	assert.Equal(t, "5b10ac8d82e05b22cc7d4ef5", created[0].Reporter.Key())

	link, err := f.links.IssueLinkByPortal(f.ctx, 9000)
	require.NoError(t, err)
	assert.Equal(t, created[0].ID, link.InternalIssueID)

	code, resp = post(t, s, "/project/OTHER/issue/OTHER-1/create", body, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, resp.Success)
}
