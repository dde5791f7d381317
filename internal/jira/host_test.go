package jira

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/steveyegge/portalsync/internal/tracker"
	"github.com/steveyegge/portalsync/internal/types"
)

const issueJSON = `{
  "id": "10042",
  "key": "IP-7",
  "fields": {
    "summary": "Printer on fire",
    "description": "It is on fire.",
    "status": {"id": "1", "name": "Open"},
    "priority": {"id": "2", "name": "High"},
    "issuetype": {"id": "10001", "name": "Support", "subtask": false},
    "project": {"id": "100", "key": "IP"},
    "assignee": {"name": "alice", "displayName": "Alice"},
    "reporter": {"name": "client1"},
    "labels": ["hw"],
    "components": [{"id": "5", "name": "Hardware"}],
    "fixVersions": [{"id": "77", "name": "1.0"}],
    "duedate": "2026-11-02",
    "timeoriginalestimate": 7200,
    "created": "2026-10-01T09:00:00.000+0000",
    "updated": "2026-10-02T09:00:00.000+0000",
    "customfield_10937": "INT-3",
    "customfield_10940": {"value": "Check if Yes", "id": "1"},
    "customfield_10941": null,
    "attachment": [{"id": "900", "filename": "log.txt", "size": 12, "content": "/secure/attachment/900/log.txt"}]
  }
}`

type request struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// fakeJira serves canned responses and records every request.
type fakeJira struct {
	*httptest.Server
	mu       sync.Mutex
	requests []request
}

func newFakeJira(t *testing.T, routes map[string]http.HandlerFunc) *fakeJira {
	t.Helper()
	f := &fakeJira{}
	mux := http.NewServeMux()
	for pattern, h := range routes {
		mux.HandleFunc(pattern, h)
	}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.requests = append(f.requests, request{r.Method, r.URL.Path, r.URL.RawQuery, string(body)})
		f.mu.Unlock()
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeJira) last(method, pathPrefix string) *request {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		r := f.requests[i]
		if r.Method == method && strings.HasPrefix(r.Path, pathPrefix) {
			return &r
		}
	}
	return nil
}

func (f *fakeJira) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.Path == path {
			n++
		}
	}
	return n
}

func respond(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}
}

func status(code int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
		_, _ = io.WriteString(w, body)
	}
}

func newTestHost(f *fakeJira) *Host {
	return NewHost(NewClient(f.URL, "bot", "token"), nil, nil)
}

func decodeBody(t *testing.T, r *request) map[string]any {
	t.Helper()
	if r == nil {
		t.Fatal("request not sent")
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(r.Body), &m); err != nil {
		t.Fatalf("decode body %q: %v", r.Body, err)
	}
	return m
}

func TestRegistered(t *testing.T) {
	if tracker.Get("jira") == nil {
		t.Fatal("jira host not registered")
	}
}

func TestFactoryChecksCredentials(t *testing.T) {
	f := newFakeJira(t, map[string]http.HandlerFunc{
		"GET /rest/api/3/myself": respond(`{"accountId": "abc"}`),
	})
	ctx := context.Background()

	h, err := tracker.NewHost(ctx, "jira", tracker.HostSettings{
		URL: f.URL, Username: "bot", APIToken: "token",
		Options: map[string]string{OptionAPIVersion: APIVersionCloud},
	})
	if err != nil {
		t.Fatalf("NewHost() error = %v", err)
	}
	if h.Issues == nil || h.Worklogs == nil {
		t.Error("collaborators missing")
	}

	_, err = tracker.NewHost(ctx, "jira", tracker.HostSettings{URL: f.URL, Username: "bot", APIToken: "token"})
	if err == nil {
		t.Error("expected credentials check to fail against the server API")
	}
	_, err = tracker.NewHost(ctx, "jira", tracker.HostSettings{
		URL: f.URL, APIToken: "token", Options: map[string]string{OptionAPIVersion: "9"},
	})
	if err == nil {
		t.Error("expected unsupported API version to fail")
	}
}

func TestGetIssue(t *testing.T) {
	f := newFakeJira(t, map[string]http.HandlerFunc{
		"GET /rest/api/2/issue/10042": respond(issueJSON),
		"GET /rest/api/2/workflowscheme/project": respond(`{"values": [{"workflowScheme":
			{"defaultWorkflow": "Default", "issueTypeMappings": {"10001": "Support"}}}]}`),
	})
	h := newTestHost(f)

	issue, err := h.GetIssue(context.Background(), 10042)
	if err != nil {
		t.Fatalf("GetIssue() error = %v", err)
	}
	if issue.Key != "IP-7" || issue.ProjectID != 100 || issue.ProjectKey != "IP" {
		t.Errorf("identity = %s/%d/%s", issue.Key, issue.ProjectID, issue.ProjectKey)
	}
	if issue.Workflow != "Support" {
		t.Errorf("Workflow = %q, want Support", issue.Workflow)
	}
	if issue.Assignee.Name != "alice" || issue.Reporter.Name != "client1" {
		t.Errorf("users = %+v / %+v", issue.Assignee, issue.Reporter)
	}
	if issue.DueDate == nil || issue.DueDate.Format("2006-01-02") != "2026-11-02" {
		t.Errorf("DueDate = %v", issue.DueDate)
	}
	if issue.OriginalEstimate == nil || *issue.OriginalEstimate != 7200 {
		t.Errorf("OriginalEstimate = %v", issue.OriginalEstimate)
	}
	if len(issue.FixVersions) != 1 || issue.FixVersions[0].ID != 77 || issue.FixVersions[0].ProjectID != 100 {
		t.Errorf("FixVersions = %+v", issue.FixVersions)
	}
	if v, _ := issue.CustomField("customfield_10937"); v != "INT-3" {
		t.Errorf("portal key = %v", v)
	}
	opt, _ := issue.CustomField("customfield_10940")
	if m, ok := opt.(map[string]any); !ok || m["value"] != "Check if Yes" {
		t.Errorf("as-a-client = %#v", opt)
	}
	if _, ok := issue.CustomField("customfield_10941"); ok {
		t.Error("null custom fields should be dropped")
	}

	// The scheme is cached per project.
	if _, err := h.GetIssue(context.Background(), 10042); err != nil {
		t.Fatal(err)
	}
	if n := f.count("/rest/api/2/workflowscheme/project"); n != 1 {
		t.Errorf("workflow scheme fetched %d times, want 1", n)
	}
}

func TestGetIssueNotFound(t *testing.T) {
	f := newFakeJira(t, map[string]http.HandlerFunc{
		"GET /rest/api/2/issue/1": status(http.StatusNotFound, `{"errorMessages": ["Issue does not exist"]}`),
	})
	_, err := newTestHost(f).GetIssue(context.Background(), 1)
	if !errors.Is(err, tracker.ErrIssueNotFound) {
		t.Errorf("GetIssue() error = %v, want ErrIssueNotFound", err)
	}
}

func TestCreateAndUpdateIssue(t *testing.T) {
	f := newFakeJira(t, map[string]http.HandlerFunc{
		"POST /rest/api/2/issue":                 respond(`{"id": "10042", "key": "IP-7"}`),
		"GET /rest/api/2/issue/10042":            respond(issueJSON),
		"GET /rest/api/2/workflowscheme/project": status(http.StatusNotFound, ""),
		"PUT /rest/api/2/issue/10042":            status(http.StatusNoContent, ""),
	})
	h := newTestHost(f)
	ctx := context.Background()

	level := int64(3)
	draft := &types.Issue{
		ProjectID:       200,
		Type:            types.IssueType{ID: "10001"},
		Summary:         "Printer on fire",
		Priority:        &types.Priority{ID: "2"},
		SecurityLevelID: &level,
		FixVersions:     []types.Version{{ID: 88}},
		CustomFields:    map[string]any{"customfield_10937": "IP-7"},
	}
	created, err := h.CreateIssue(ctx, &types.User{Name: "bot"}, draft)
	if err != nil {
		t.Fatalf("CreateIssue() error = %v", err)
	}
	if created.Key != "IP-7" || created.Workflow != "" {
		t.Errorf("created = %s workflow %q", created.Key, created.Workflow)
	}

	fields := decodeBody(t, f.last("POST", "/rest/api/2/issue"))["fields"].(map[string]any)
	if fields["project"].(map[string]any)["id"] != "200" {
		t.Errorf("project = %v", fields["project"])
	}
	if fields["security"].(map[string]any)["id"] != "3" {
		t.Errorf("security = %v", fields["security"])
	}
	if fields["customfield_10937"] != "IP-7" {
		t.Errorf("custom field = %v", fields["customfield_10937"])
	}
	if fv := fields["fixVersions"].([]any); len(fv) != 1 || fv[0].(map[string]any)["id"] != "88" {
		t.Errorf("fixVersions = %v", fields["fixVersions"])
	}

	if err := h.UpdateIssue(ctx, nil, created, tracker.UpdateOptions{}); err != nil {
		t.Fatalf("UpdateIssue() error = %v", err)
	}
	put := f.last("PUT", "/rest/api/2/issue/10042")
	if put.Query != "notifyUsers=false" {
		t.Errorf("query = %q, want notifyUsers=false", put.Query)
	}
	if _, ok := decodeBody(t, put)["fields"].(map[string]any)["issuetype"]; ok {
		t.Error("issuetype must not be sent on edit")
	}

	var issues tracker.IssueStore = h
	echoer, ok := issues.(tracker.UpdateEchoer)
	if !ok || !echoer.EchoesSilentUpdates() {
		t.Error("silent edits still fire jira:issue_updated and must be reported as echoing")
	}
}

func TestComments(t *testing.T) {
	f := newFakeJira(t, map[string]http.HandlerFunc{
		"POST /rest/api/2/issue/10042/comment":    respond(`{"id": "501", "body": "hello", "author": {"name": "bot"}}`),
		"PUT /rest/api/2/issue/10042/comment/501": respond(`{}`),
		"POST /rest/api/2/comment/list": func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			if strings.Contains(string(body), "501") {
				_, _ = io.WriteString(w, `{"values": [{"id": "501", "issueId": "10042", "body": "hello",
					"visibility": {"type": "role", "value": "Internal Users"}}]}`)
				return
			}
			_, _ = io.WriteString(w, `{"values": []}`)
		},
	})
	h := newTestHost(f)
	ctx := context.Background()
	issue := &types.Issue{ID: 10042, Key: "IP-7"}

	c, err := h.CreateComment(ctx, issue, tracker.NewComment{Body: "hello"})
	if err != nil {
		t.Fatalf("CreateComment() error = %v", err)
	}
	if c.ID != 501 || c.IssueID != 10042 || c.Author.Name != "bot" {
		t.Errorf("comment = %+v", c)
	}

	c.RoleLevel = "Internal Users"
	if err := h.UpdateComment(ctx, c, false); err != nil {
		t.Fatalf("UpdateComment() error = %v", err)
	}
	vis := decodeBody(t, f.last("PUT", "/rest/api/2/issue/10042/comment/501"))["visibility"].(map[string]any)
	if vis["type"] != "role" || vis["value"] != "Internal Users" {
		t.Errorf("visibility = %v", vis)
	}

	got, err := h.GetComment(ctx, 501)
	if err != nil || got == nil {
		t.Fatalf("GetComment() = %v, %v", got, err)
	}
	if got.IssueID != 10042 || got.RoleLevel != "Internal Users" {
		t.Errorf("GetComment() = %+v", got)
	}
	missing, err := h.GetComment(ctx, 999)
	if err != nil || missing != nil {
		t.Errorf("GetComment(missing) = %v, %v", missing, err)
	}
}

func TestTransitions(t *testing.T) {
	f := newFakeJira(t, map[string]http.HandlerFunc{
		"GET /rest/api/2/issue/10042":            respond(issueJSON),
		"GET /rest/api/2/workflowscheme/project": status(http.StatusNotFound, ""),
		"GET /rest/api/2/issue/10042/transitions": func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("transitionId") == "5" {
				_, _ = io.WriteString(w, `{"transitions": [{"id": "5", "name": "Resolve"}]}`)
				return
			}
			_, _ = io.WriteString(w, `{"transitions": []}`)
		},
		"POST /rest/api/2/issue/10042/transitions": status(http.StatusNoContent, ""),
	})
	h := newTestHost(f)
	ctx := context.Background()

	spent := int64(600)
	res, err := h.ValidateTransition(ctx, nil, 10042, 5, tracker.TransitionInputs{
		ResolutionID: "1", FixVersionIDs: []int64{88}, TimeSpent: &spent,
	})
	if err != nil || !res.Valid {
		t.Fatalf("ValidateTransition() = %+v, %v", res, err)
	}
	if err := h.ExecuteTransition(ctx, nil, res); err != nil {
		t.Fatalf("ExecuteTransition() error = %v", err)
	}
	body := decodeBody(t, f.last("POST", "/rest/api/2/issue/10042/transitions"))
	if body["transition"].(map[string]any)["id"] != "5" {
		t.Errorf("transition = %v", body["transition"])
	}
	if body["fields"].(map[string]any)["resolution"].(map[string]any)["id"] != "1" {
		t.Errorf("fields = %v", body["fields"])
	}
	if _, ok := body["update"].(map[string]any)["worklog"]; !ok {
		t.Errorf("update = %v", body["update"])
	}

	bad, err := h.ValidateTransition(ctx, nil, 10042, 9, tracker.TransitionInputs{})
	if err != nil {
		t.Fatal(err)
	}
	if bad.Valid || len(bad.Errors) != 1 {
		t.Errorf("unavailable action = %+v", bad)
	}
	if err := h.ExecuteTransition(ctx, nil, bad); err == nil {
		t.Error("ExecuteTransition must refuse an invalid result")
	}
}

func TestAssign(t *testing.T) {
	f := newFakeJira(t, map[string]http.HandlerFunc{
		"GET /rest/api/2/issue/10042":            respond(issueJSON),
		"GET /rest/api/2/workflowscheme/project": status(http.StatusNotFound, ""),
		"GET /rest/api/2/user/assignable/search": func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("username") == "bob" {
				_, _ = io.WriteString(w, `[{"name": "bob"}]`)
				return
			}
			_, _ = io.WriteString(w, `[]`)
		},
		"PUT /rest/api/2/issue/10042/assignee": status(http.StatusNoContent, ""),
	})
	h := newTestHost(f)
	ctx := context.Background()

	res, err := h.ValidateAssign(ctx, nil, 10042, &types.User{Name: "bob"})
	if err != nil || !res.Valid {
		t.Fatalf("ValidateAssign(bob) = %+v, %v", res, err)
	}
	if err := h.Assign(ctx, nil, res); err != nil {
		t.Fatal(err)
	}
	if got := decodeBody(t, f.last("PUT", "/rest/api/2/issue/10042/assignee")); got["name"] != "bob" {
		t.Errorf("assign body = %v", got)
	}

	res, err = h.ValidateAssign(ctx, nil, 10042, &types.User{Name: "mallory"})
	if err != nil || res.Valid {
		t.Errorf("ValidateAssign(mallory) = %+v, %v", res, err)
	}

	res, err = h.ValidateAssign(ctx, nil, 10042, nil)
	if err != nil || !res.Valid {
		t.Fatalf("ValidateAssign(nil) = %+v, %v", res, err)
	}
	if err := h.Assign(ctx, nil, res); err != nil {
		t.Fatal(err)
	}
	if got := decodeBody(t, f.last("PUT", "/rest/api/2/issue/10042/assignee")); got["name"] != nil {
		t.Errorf("unassign body = %v", got)
	}
}

func TestRoles(t *testing.T) {
	var roleURL string
	f := newFakeJira(t, map[string]http.HandlerFunc{
		"GET /rest/api/2/project/300/role": func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"Client": roleURL})
		},
		"GET /rest/api/2/project/300/role/10100": respond(`{"actors": [
			{"type": "atlassian-user-role-actor", "name": "client1", "displayName": "Client One"},
			{"type": "atlassian-group-role-actor", "name": "jira-users"}]}`),
	})
	roleURL = f.URL + "/rest/api/2/project/300/role/10100"
	h := newTestHost(f)
	ctx := context.Background()

	members, err := h.MembersOf(ctx, "client", 300)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 1 || members[0].Name != "client1" {
		t.Errorf("MembersOf() = %+v", members)
	}
	ok, err := h.IsMember(ctx, &types.User{Name: "client1"}, "Client", 300)
	if err != nil || !ok {
		t.Errorf("IsMember(client1) = %v, %v", ok, err)
	}
	ok, _ = h.IsMember(ctx, &types.User{Name: "alice"}, "Client", 300)
	if ok {
		t.Error("alice is not a client")
	}
	none, err := h.MembersOf(ctx, "Portal Owner", 300)
	if err != nil || none != nil {
		t.Errorf("MembersOf(unknown role) = %v, %v", none, err)
	}
}

func TestFields(t *testing.T) {
	f := newFakeJira(t, map[string]http.HandlerFunc{
		"GET /rest/api/2/field": respond(`[
			{"id": "summary", "name": "Summary", "custom": false},
			{"id": "customfield_10937", "name": "Portal Key", "custom": true, "schema": {"custom": "com.atlassian.jira.plugin.system.customfieldtypes:textfield"}},
			{"id": "customfield_10999", "name": "Age", "custom": true, "schema": {"custom": "com.onresolve.jira.groovy.groovyrunner:scripted-field"}}]`),
		"GET /rest/api/2/issue/createmeta": respond(`{"projects": [{"issuetypes": [{"fields": {
			"summary":           {"name": "Summary"},
			"customfield_10999": {"name": "Age", "schema": {"custom": "x:scripted-field"}},
			"customfield_10937": {"name": "Portal Key", "schema": {"custom": "x:textfield"}}}}]}]}`),
	})
	h := newTestHost(f)
	ctx := context.Background()

	fields, err := h.Fields(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(fields) != 2 || fields[0].ID != "customfield_10937" || !fields[1].Calculated {
		t.Errorf("Fields() = %+v", fields)
	}
	if _, err := h.Fields(ctx); err != nil {
		t.Fatal(err)
	}
	if n := f.count("/rest/api/2/field"); n != 1 {
		t.Errorf("field list fetched %d times, want 1", n)
	}

	forType, err := h.FieldsFor(ctx, 200, "10001")
	if err != nil {
		t.Fatal(err)
	}
	if len(forType) != 2 || forType[0].ID != "customfield_10937" || forType[0].Calculated || !forType[1].Calculated {
		t.Errorf("FieldsFor() = %+v", forType)
	}

	if err := tracker.ValidateFieldRoles(ctx, h, tracker.FieldRoles{tracker.RolePortalKey: "customfield_10937"}); err != nil {
		t.Errorf("ValidateFieldRoles() error = %v", err)
	}
	if err := tracker.ValidateFieldRoles(ctx, h, tracker.FieldRoles{tracker.RoleUrgency: "customfield_1"}); err == nil {
		t.Error("expected missing field to be reported")
	}
}

func TestProjects(t *testing.T) {
	f := newFakeJira(t, map[string]http.HandlerFunc{
		"GET /rest/api/2/project/200":                          respond(`{"id": "200", "key": "INT", "components": [{"id": "6", "name": "Hardware"}]}`),
		"GET /rest/api/2/project/404":                          status(http.StatusNotFound, ""),
		"GET /rest/api/2/project/200/issuesecuritylevelscheme": respond(`{"id": 1, "defaultSecurityLevelId": 10021}`),
		"GET /rest/api/2/project/100/issuesecuritylevelscheme": status(http.StatusNotFound, ""),
	})
	extra := staticExtra{200: {ProjectID: 200, RelatedProjectID: 100}}
	h := NewHost(NewClient(f.URL, "", "token"), extra, nil)
	ctx := context.Background()

	p, err := h.Project(ctx, 200)
	if err != nil || p.Key != "INT" || len(p.Components) != 1 || p.Components[0].Name != "Hardware" {
		t.Errorf("Project(200) = %+v, %v", p, err)
	}
	if p, err := h.Project(ctx, 404); p != nil || err != nil {
		t.Errorf("Project(404) = %+v, %v", p, err)
	}

	level, err := h.DefaultSecurityLevel(ctx, 200)
	if err != nil || level == nil || *level != 10021 {
		t.Errorf("DefaultSecurityLevel(200) = %v, %v", level, err)
	}
	if level, err := h.DefaultSecurityLevel(ctx, 100); level != nil || err != nil {
		t.Errorf("DefaultSecurityLevel(100) = %v, %v", level, err)
	}

	x, err := h.ExtraFields(ctx, 200)
	if err != nil || x.RelatedProjectID != 100 {
		t.Errorf("ExtraFields(200) = %+v, %v", x, err)
	}
	if x, _ := h.ExtraFields(ctx, 1); x != nil {
		t.Errorf("ExtraFields(1) = %+v", x)
	}
}

type staticExtra map[int64]*types.ProjectExtraFields

func (s staticExtra) ExtraFields(_ context.Context, id int64) (*types.ProjectExtraFields, error) {
	return s[id], nil
}

func TestAttachments(t *testing.T) {
	f := newFakeJira(t, map[string]http.HandlerFunc{
		"GET /rest/api/2/issue/10042":              respond(issueJSON),
		"GET /secure/attachment/900/log.txt":       respond("hello world\n"),
		"POST /rest/api/2/issue/20001/attachments": respond(`[{"id": "901", "filename": "log.txt"}]`),
		"DELETE /rest/api/2/attachment/901":        status(http.StatusNoContent, ""),
		"DELETE /rest/api/2/attachment/902":        status(http.StatusNotFound, ""),
	})
	h := newTestHost(f)
	ctx := context.Background()

	list, err := h.ListAttachments(ctx, &types.Issue{ID: 10042})
	if err != nil || len(list) != 1 {
		t.Fatalf("ListAttachments() = %v, %v", list, err)
	}
	if list[0].MatchKey() != "log.txt||12" {
		t.Errorf("MatchKey() = %q", list[0].MatchKey())
	}

	err = h.CreateAttachment(ctx, tracker.NewAttachment{Source: list[0], Issue: &types.Issue{ID: 20001, Key: "INT-3"}})
	if err != nil {
		t.Fatalf("CreateAttachment() error = %v", err)
	}
	up := f.last("POST", "/rest/api/2/issue/20001/attachments")
	if up == nil || !strings.Contains(up.Body, "hello world") || !strings.Contains(up.Body, `filename="log.txt"`) {
		t.Errorf("upload = %+v", up)
	}

	if err := h.DeleteAttachment(ctx, &types.Attachment{ID: 901}); err != nil {
		t.Errorf("DeleteAttachment(901) error = %v", err)
	}
	if err := h.DeleteAttachment(ctx, &types.Attachment{ID: 902}); !errors.Is(err, tracker.ErrAttachmentIO) {
		t.Errorf("DeleteAttachment(902) error = %v, want ErrAttachmentIO", err)
	}
	missing := &types.Attachment{Filename: "gone.txt", Path: "/secure/attachment/1/gone.txt"}
	err = h.CreateAttachment(ctx, tracker.NewAttachment{Source: missing, Issue: &types.Issue{ID: 20001}})
	if !errors.Is(err, tracker.ErrAttachmentIO) {
		t.Errorf("CreateAttachment(missing) error = %v, want ErrAttachmentIO", err)
	}
}

func TestWatchersWorklogsIndex(t *testing.T) {
	f := newFakeJira(t, map[string]http.HandlerFunc{
		"GET /rest/api/2/issue/20001/watchers":    respond(`{"watchers": [{"name": "bot"}, {"name": "alice"}]}`),
		"DELETE /rest/api/2/issue/20001/watchers": status(http.StatusNoContent, ""),
		"PUT /rest/api/2/issue/20001/worklog/700": respond(`{}`),
		"POST /rest/api/2/reindex/issue":          status(http.StatusNoContent, ""),
	})
	h := newTestHost(f)
	ctx := context.Background()
	issue := &types.Issue{ID: 20001, Key: "INT-3"}

	watchers, err := h.Watchers(ctx, issue)
	if err != nil || len(watchers) != 2 {
		t.Fatalf("Watchers() = %v, %v", watchers, err)
	}
	if err := h.StopWatching(ctx, watchers[0], issue); err != nil {
		t.Fatal(err)
	}
	if q := f.last("DELETE", "/rest/api/2/issue/20001/watchers").Query; q != "username=bot" {
		t.Errorf("StopWatching query = %q", q)
	}

	w := &types.Worklog{ID: 700, IssueID: 20001, Comment: "fixed toner"}
	if err := h.UpdateWorklog(ctx, nil, w, false); err != nil {
		t.Fatal(err)
	}
	if got := decodeBody(t, f.last("PUT", "/rest/api/2/issue/20001/worklog/700")); got["comment"] != "fixed toner" {
		t.Errorf("worklog body = %v", got)
	}

	if err := h.Reindex(ctx, issue); err != nil {
		t.Fatal(err)
	}
	if r := f.last("POST", "/rest/api/2/reindex/issue"); r == nil || r.Query != "issueId=20001" {
		t.Errorf("reindex request = %+v", r)
	}
}

func TestCloneIssue(t *testing.T) {
	h := NewHost(NewClient("https://jira.example.com", "", "t"), nil, nil)
	spent := int64(60)
	src := &types.Issue{
		ID: 1, Key: "IP-1", Summary: "s", Status: types.Status{Name: "Open"},
		Resolution: &types.Resolution{ID: "1"}, TimeSpent: &spent, Labels: []string{"a"},
	}
	c, err := h.CloneIssue(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != 0 || c.Key != "" || c.Status.Name != "" || c.Resolution != nil || c.TimeSpent != nil {
		t.Errorf("clone kept identity or state: %+v", c)
	}
	c.Labels[0] = "b"
	if src.Labels[0] != "a" {
		t.Error("clone shares labels with source")
	}
}
