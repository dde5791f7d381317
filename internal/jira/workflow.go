package jira

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/steveyegge/portalsync/internal/tracker"
	"github.com/steveyegge/portalsync/internal/types"
)

// --- tracker.WorkflowEngine ---

// ValidateTransition checks that actionID is currently available on the issue.
// Field-level validation happens on execute.
func (h *Host) ValidateTransition(ctx context.Context, actor *types.User, issueID int64, actionID int, inputs tracker.TransitionInputs) (*tracker.ValidationResult, error) {
	issue, err := h.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	res := &tracker.ValidationResult{Issue: issue, ActionID: actionID, Inputs: inputs}
	if actionID <= 0 {
		res.Errors = []string{"no valid action"}
		return res, nil
	}

	var resp struct {
		Transitions []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"transitions"`
	}
	apiURL := h.client.api("/issue/%d/transitions?transitionId=%d", issueID, actionID)
	if err := h.client.getJSON(ctx, apiURL, &resp); err != nil {
		return nil, fmt.Errorf("list transitions of %s: %w", issue, err)
	}
	for _, t := range resp.Transitions {
		if parseID(t.ID) == int64(actionID) {
			res.Valid = true
			return res, nil
		}
	}
	res.Errors = []string{fmt.Sprintf("action %d is not available from status %q", actionID, issue.Status.Name)}
	h.logger.Debug("transition not available", "issue_key", issue.Key, "action_id", actionID, "actor", actor.Key())
	return res, nil
}

func (h *Host) ExecuteTransition(ctx context.Context, actor *types.User, res *tracker.ValidationResult) error {
	if res == nil || !res.Valid {
		return fmt.Errorf("transition was not validated")
	}
	in := res.Inputs
	fields := map[string]any{}
	if in.Assignee != nil {
		fields["assignee"] = h.client.userRef(in.Assignee)
	}
	if in.ResolutionID != "" {
		fields["resolution"] = map[string]string{"id": in.ResolutionID}
	}
	if in.FixVersionIDs != nil {
		refs := make([]map[string]string, 0, len(in.FixVersionIDs))
		for _, id := range in.FixVersionIDs {
			refs = append(refs, map[string]string{"id": formatID(id)})
		}
		fields["fixVersions"] = refs
	}
	if in.Description != nil {
		fields["description"] = h.client.richText(*in.Description)
	}
	if in.RemainingEstimate != nil {
		fields["timetracking"] = map[string]string{"remainingEstimate": minutes(*in.RemainingEstimate)}
	}

	payload := map[string]any{
		"transition": map[string]string{"id": fmt.Sprint(res.ActionID)},
	}
	if len(fields) > 0 {
		payload["fields"] = fields
	}
	if in.TimeSpent != nil && *in.TimeSpent > 0 {
		payload["update"] = map[string]any{
			"worklog": []any{map[string]any{"add": map[string]any{"timeSpentSeconds": *in.TimeSpent}}},
		}
	}

	apiURL := h.client.api("/issue/%d/transitions", res.Issue.ID)
	if err := h.client.sendJSON(ctx, http.MethodPost, apiURL, payload, nil); err != nil {
		return fmt.Errorf("transition %s with action %d: %w", res.Issue, res.ActionID, err)
	}
	h.logger.Debug("transition executed", "issue_key", res.Issue.Key, "action_id", res.ActionID, "actor", actor.Key())
	return nil
}

// ValidateAssign checks that assignee may be assigned the issue. A nil assignee
// unassigns and is always valid.
func (h *Host) ValidateAssign(ctx context.Context, actor *types.User, issueID int64, assignee *types.User) (*tracker.ValidationResult, error) {
	issue, err := h.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	res := &tracker.ValidationResult{Issue: issue, Assignee: assignee}
	if assignee == nil {
		res.Valid = true
		return res, nil
	}

	q := url.Values{"issueKey": {issue.Key}}
	if h.client.Cloud() || assignee.Name == "" {
		q.Set("accountId", assignee.AccountID)
	} else {
		q.Set("username", assignee.Name)
	}
	var users []UserField
	if err := h.client.getJSON(ctx, h.client.api("/user/assignable/search?%s", q.Encode()), &users); err != nil {
		return nil, fmt.Errorf("check assignee %s on %s: %w", assignee.Key(), issue, err)
	}
	for i := range users {
		if users[i].toUser().Key() == assignee.Key() {
			res.Valid = true
			return res, nil
		}
	}
	res.Errors = []string{fmt.Sprintf("user %q cannot be assigned to %s", assignee.Key(), issue.Key)}
	return res, nil
}

func (h *Host) Assign(ctx context.Context, actor *types.User, res *tracker.ValidationResult) error {
	if res == nil || !res.Valid {
		return fmt.Errorf("assignment was not validated")
	}
	var payload any = h.client.userRef(res.Assignee)
	if res.Assignee == nil {
		if h.client.Cloud() {
			payload = map[string]any{"accountId": nil}
		} else {
			payload = map[string]any{"name": nil}
		}
	}
	apiURL := h.client.api("/issue/%d/assignee", res.Issue.ID)
	if err := h.client.sendJSON(ctx, http.MethodPut, apiURL, payload, nil); err != nil {
		return fmt.Errorf("assign %s: %w", res.Issue, err)
	}
	h.logger.Debug("issue assigned", "issue_key", res.Issue.Key, "assignee", res.Assignee.Key(), "actor", actor.Key())
	return nil
}

// --- tracker.RoleDirectory ---

// MembersOf returns the users holding role in a project. Group actors are not
// expanded.
func (h *Host) MembersOf(ctx context.Context, role string, projectID int64) ([]*types.User, error) {
	var roles map[string]string
	if err := h.client.getJSON(ctx, h.client.api("/project/%d/role", projectID), &roles); err != nil {
		return nil, fmt.Errorf("list roles of project %d: %w", projectID, err)
	}
	var roleURL string
	for name, u := range roles {
		if strings.EqualFold(name, role) {
			roleURL = u
			break
		}
	}
	if roleURL == "" {
		return nil, nil
	}

	var resp struct {
		Actors []struct {
			Type        string `json:"type"`
			Name        string `json:"name"`
			DisplayName string `json:"displayName"`
			ActorUser   *struct {
				AccountID string `json:"accountId"`
			} `json:"actorUser"`
		} `json:"actors"`
	}
	if err := h.client.getJSON(ctx, roleURL, &resp); err != nil {
		return nil, fmt.Errorf("list members of role %q in project %d: %w", role, projectID, err)
	}
	var users []*types.User
	for _, a := range resp.Actors {
		if a.Type != "atlassian-user-role-actor" {
			continue
		}
		u := &types.User{Name: a.Name, DisplayName: a.DisplayName}
		if a.ActorUser != nil {
			u.AccountID = a.ActorUser.AccountID
		}
		users = append(users, u)
	}
	return users, nil
}

func (h *Host) IsMember(ctx context.Context, user *types.User, role string, projectID int64) (bool, error) {
	if user == nil {
		return false, nil
	}
	members, err := h.MembersOf(ctx, role, projectID)
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if m.Key() == user.Key() || (user.Name != "" && m.Name == user.Name) {
			return true, nil
		}
	}
	return false, nil
}

// --- tracker.CustomFieldCatalog ---

type fieldMeta struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Name   string `json:"name"`
	Custom bool   `json:"custom"`
	Schema struct {
		Custom string `json:"custom"`
	} `json:"schema"`
}

func (m fieldMeta) toField() tracker.Field {
	id := m.ID
	if id == "" {
		id = m.Key
	}
	custom := strings.ToLower(m.Schema.Custom)
	return tracker.Field{
		ID:         id,
		Name:       m.Name,
		Calculated: strings.Contains(custom, "calculated") || strings.Contains(custom, "scripted"),
	}
}

// Fields lists the custom fields. The list is fetched once per host.
func (h *Host) Fields(ctx context.Context) ([]tracker.Field, error) {
	h.mu.Lock()
	cached := h.fields
	h.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	var metas []fieldMeta
	if err := h.client.getJSON(ctx, h.client.api("/field"), &metas); err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	fields := make([]tracker.Field, 0, len(metas))
	for _, m := range metas {
		if m.Custom {
			fields = append(fields, m.toField())
		}
	}

	h.mu.Lock()
	h.fields = fields
	h.mu.Unlock()
	return fields, nil
}

// FieldsFor returns the custom fields on the create screen of an issue type.
func (h *Host) FieldsFor(ctx context.Context, projectID int64, issueTypeID string) ([]tracker.Field, error) {
	q := url.Values{
		"projectIds":   {formatID(projectID)},
		"issuetypeIds": {issueTypeID},
		"expand":       {"projects.issuetypes.fields"},
	}
	var resp struct {
		Projects []struct {
			IssueTypes []struct {
				Fields map[string]fieldMeta `json:"fields"`
			} `json:"issuetypes"`
		} `json:"projects"`
	}
	if err := h.client.getJSON(ctx, h.client.api("/issue/createmeta?%s", q.Encode()), &resp); err != nil {
		return nil, fmt.Errorf("fields of issue type %s in project %d: %w", issueTypeID, projectID, err)
	}
	var fields []tracker.Field
	for _, p := range resp.Projects {
		for _, it := range p.IssueTypes {
			for id, m := range it.Fields {
				if !strings.HasPrefix(id, "customfield_") {
					continue
				}
				m.ID = id
				fields = append(fields, m.toField())
			}
		}
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].ID < fields[j].ID })
	return fields, nil
}

func (h *Host) ValueOf(issue *types.Issue, field tracker.Field) any {
	v, _ := issue.CustomField(field.ID)
	return v
}

func (h *Host) SetValue(issue *types.Issue, field tracker.Field, value any) {
	issue.SetCustomField(field.ID, value)
}
