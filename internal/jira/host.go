package jira

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"

	"github.com/steveyegge/portalsync/internal/tracker"
	"github.com/steveyegge/portalsync/internal/types"
)

// Host option keys understood by the "jira" factory.
const (
	OptionAPIVersion = "api_version"
	OptionReindex    = "reindex"
)

func init() {
	tracker.Register("jira", func(ctx context.Context, s tracker.HostSettings) (*tracker.Host, error) {
		client := NewClient(s.URL, s.Username, s.APIToken)
		if s.Timeout > 0 {
			client.HTTPClient.Timeout = s.Timeout
		}
		if v := s.Options[OptionAPIVersion]; v != "" {
			if v != APIVersionServer && v != APIVersionCloud {
				return nil, fmt.Errorf("unsupported Jira API version %q", v)
			}
			client.APIVersion = v
		}
		h := NewHost(client, s.ExtraFields, s.Logger)
		if v, ok := s.Options[OptionReindex]; ok {
			reindex, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("option %s: %w", OptionReindex, err)
			}
			h.reindex = reindex
		}
		if _, err := h.Myself(ctx); err != nil {
			return nil, err
		}
		return h.Collaborators(), nil
	})
}

// Host implements every tracker collaborator on top of the REST API. Writes act
// as the configured account: the actor arguments are only logged.
type Host struct {
	client  *Client
	extra   tracker.ExtraFieldsSource
	logger  *slog.Logger
	reindex bool

	mu        sync.Mutex
	workflows map[int64]*workflowScheme
	fields    []tracker.Field
}

// NewHost returns a host backed by client. extra supplies project mirroring
// configuration and may be nil.
func NewHost(client *Client, extra tracker.ExtraFieldsSource, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		client:    client,
		extra:     extra,
		logger:    logger,
		reindex:   !client.Cloud(),
		workflows: make(map[int64]*workflowScheme),
	}
}

// Collaborators returns the host as a tracker.Host.
func (h *Host) Collaborators() *tracker.Host {
	return &tracker.Host{
		Issues:      h,
		Comments:    h,
		Attachments: h,
		Fields:      h,
		Workflow:    h,
		Roles:       h,
		Index:       h,
		Projects:    h,
		Watchers:    h,
		Worklogs:    h,
	}
}

// Client returns the underlying REST client.
func (h *Host) Client() *Client { return h.client }

// Myself returns the configured account. It doubles as a credentials check.
func (h *Host) Myself(ctx context.Context) (*types.User, error) {
	var u UserField
	if err := h.client.getJSON(ctx, h.client.api("/myself"), &u); err != nil {
		return nil, fmt.Errorf("verify credentials: %w", err)
	}
	return u.toUser(), nil
}

// --- tracker.ProjectDirectory ---

func (h *Host) ExtraFields(ctx context.Context, projectID int64) (*types.ProjectExtraFields, error) {
	if h.extra == nil {
		return nil, nil
	}
	return h.extra.ExtraFields(ctx, projectID)
}

func (h *Host) Project(ctx context.Context, projectID int64) (*types.Project, error) {
	var p ProjectField
	if err := h.client.getJSON(ctx, h.client.api("/project/%d", projectID), &p); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get project %d: %w", projectID, err)
	}
	project := &types.Project{ID: parseID(p.ID), Key: p.Key, Name: p.Name}
	for _, c := range p.Components {
		project.Components = append(project.Components, types.Component{ID: parseID(c.ID), Name: c.Name})
	}
	return project, nil
}

func (h *Host) DefaultSecurityLevel(ctx context.Context, projectID int64) (*int64, error) {
	var scheme struct {
		DefaultSecurityLevelID int64 `json:"defaultSecurityLevelId"`
	}
	if err := h.client.getJSON(ctx, h.client.api("/project/%d/issuesecuritylevelscheme", projectID), &scheme); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get security scheme of project %d: %w", projectID, err)
	}
	if scheme.DefaultSecurityLevelID <= 0 {
		return nil, nil
	}
	return &scheme.DefaultSecurityLevelID, nil
}

// --- tracker.SearchIndex ---

// Reindex asks a server instance to reindex issue. Cloud instances index on
// their own and the call is skipped.
func (h *Host) Reindex(ctx context.Context, issue *types.Issue) error {
	if !h.reindex {
		return nil
	}
	apiURL := h.client.URL + "/rest/api/2/reindex/issue?issueId=" + formatID(issue.ID)
	if err := h.client.sendJSON(ctx, "POST", apiURL, nil, nil); err != nil {
		return fmt.Errorf("reindex %s: %w", issue, err)
	}
	return nil
}

// --- tracker.WatcherStore ---

func (h *Host) Watchers(ctx context.Context, issue *types.Issue) ([]*types.User, error) {
	var resp struct {
		Watchers []UserField `json:"watchers"`
	}
	if err := h.client.getJSON(ctx, h.client.api("/issue/%d/watchers", issue.ID), &resp); err != nil {
		return nil, fmt.Errorf("list watchers of %s: %w", issue, err)
	}
	users := make([]*types.User, 0, len(resp.Watchers))
	for i := range resp.Watchers {
		users = append(users, resp.Watchers[i].toUser())
	}
	return users, nil
}

func (h *Host) StopWatching(ctx context.Context, user *types.User, issue *types.Issue) error {
	q := url.Values{}
	if h.client.Cloud() || user.Name == "" {
		q.Set("accountId", user.AccountID)
	} else {
		q.Set("username", user.Name)
	}
	apiURL := h.client.api("/issue/%d/watchers?%s", issue.ID, q.Encode())
	if err := h.client.sendJSON(ctx, "DELETE", apiURL, nil, nil); err != nil {
		return fmt.Errorf("remove watcher %s from %s: %w", user.Key(), issue, err)
	}
	return nil
}
