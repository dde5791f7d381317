package jira

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/steveyegge/portalsync/internal/tracker"
	"github.com/steveyegge/portalsync/internal/types"
)

// workflowScheme maps issue types to workflow names for one project.
type workflowScheme struct {
	DefaultWorkflow   string            `json:"defaultWorkflow"`
	IssueTypeMappings map[string]string `json:"issueTypeMappings"`
}

func (s *workflowScheme) workflowFor(issueTypeID string) string {
	if s == nil {
		return ""
	}
	if wf, ok := s.IssueTypeMappings[issueTypeID]; ok {
		return wf
	}
	return s.DefaultWorkflow
}

// workflowOf returns the name of the workflow an issue type uses in a project.
// Lookups are cached per project; a failed lookup yields "" so that only the
// workflow-independent transition mappings apply.
func (h *Host) workflowOf(ctx context.Context, projectID int64, issueTypeID string) string {
	h.mu.Lock()
	scheme, ok := h.workflows[projectID]
	h.mu.Unlock()
	if ok {
		return scheme.workflowFor(issueTypeID)
	}

	var resp struct {
		Values []struct {
			WorkflowScheme workflowScheme `json:"workflowScheme"`
		} `json:"values"`
	}
	err := h.client.getJSON(ctx, h.client.api("/workflowscheme/project?projectId=%d", projectID), &resp)
	if err != nil {
		h.logger.Debug("workflow scheme lookup failed", "project_id", projectID, "error", err)
	} else if len(resp.Values) > 0 {
		scheme = &resp.Values[0].WorkflowScheme
	}

	h.mu.Lock()
	h.workflows[projectID] = scheme
	h.mu.Unlock()
	return scheme.workflowFor(issueTypeID)
}

// --- tracker.IssueStore ---

func (h *Host) GetIssue(ctx context.Context, id int64) (*types.Issue, error) {
	var raw Issue
	if err := h.client.getJSON(ctx, h.client.api("/issue/%d", id), &raw); err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("%w: %d", tracker.ErrIssueNotFound, id)
		}
		return nil, fmt.Errorf("get issue %d: %w", id, err)
	}
	issue := raw.toIssue()
	issue.Workflow = h.workflowOf(ctx, issue.ProjectID, issue.Type.ID)
	return issue, nil
}

func (h *Host) CreateIssue(ctx context.Context, actor *types.User, issue *types.Issue) (*types.Issue, error) {
	payload := map[string]any{"fields": h.client.issueFields(issue, true)}
	var created struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	if err := h.client.sendJSON(ctx, http.MethodPost, h.client.api("/issue"), payload, &created); err != nil {
		return nil, fmt.Errorf("create issue in project %d: %w", issue.ProjectID, err)
	}
	h.logger.Debug("issue created", "issue_key", created.Key, "actor", actor.Key())
	return h.GetIssue(ctx, parseID(created.ID))
}

func (h *Host) UpdateIssue(ctx context.Context, actor *types.User, issue *types.Issue, opts tracker.UpdateOptions) error {
	payload := map[string]any{"fields": h.client.issueFields(issue, false)}
	apiURL := h.client.api("/issue/%d?notifyUsers=%s", issue.ID, strconv.FormatBool(opts.Notify))
	if err := h.client.sendJSON(ctx, http.MethodPut, apiURL, payload, nil); err != nil {
		return fmt.Errorf("update issue %s: %w", issue, err)
	}
	h.logger.Debug("issue updated", "issue_key", issue.Key, "actor", actor.Key(), "notify", opts.Notify)
	return nil
}

// EchoesSilentUpdates reports true: notifyUsers=false only suppresses email,
// Jira still posts jira:issue_updated to registered webhooks.
func (h *Host) EchoesSilentUpdates() bool { return true }

func (h *Host) DeleteIssue(ctx context.Context, issue *types.Issue) error {
	apiURL := h.client.api("/issue/%d?deleteSubtasks=true", issue.ID)
	if err := h.client.sendJSON(ctx, http.MethodDelete, apiURL, nil, nil); err != nil {
		if IsNotFound(err) {
			return fmt.Errorf("%w: %d", tracker.ErrIssueNotFound, issue.ID)
		}
		return fmt.Errorf("delete issue %s: %w", issue, err)
	}
	return nil
}

// CloneIssue copies the editable state of issue. Identity and workflow state
// are left for the host to assign on create.
func (h *Host) CloneIssue(_ context.Context, issue *types.Issue) (*types.Issue, error) {
	c := issue.Clone()
	c.ID = 0
	c.Key = ""
	c.Status = types.Status{}
	c.Resolution = nil
	c.TimeSpent = nil
	return c, nil
}
