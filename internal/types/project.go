package types

import (
	"slices"
	"strings"
)

// ProjectExtraFields is the per-project mirroring configuration.
type ProjectExtraFields struct {
	ProjectID int64 `json:"project_id"`

	// Portal marks the client-facing side of the pair.
	Portal bool `json:"portal"`

	// RelatedProjectID is the paired project. Zero means the project is not paired.
	RelatedProjectID int64 `json:"related_project_id,omitempty"`

	Bidirectional    bool `json:"bidirectional"`
	OneProjectPortal bool `json:"one_project_portal"`

	// NotMappedIssueTypeIDs lists issue types that are never mirrored from the internal side.
	NotMappedIssueTypeIDs []string `json:"not_mapped_issue_type_ids,omitempty"`
}

// ExcludesIssueType reports whether issues of the given type must not be mirrored.
// The exclusion list applies only to the internal side of a pair.
func (p *ProjectExtraFields) ExcludesIssueType(issueTypeID string) bool {
	if p == nil || p.Portal {
		return false
	}
	return slices.Contains(p.NotMappedIssueTypeIDs, issueTypeID)
}

// HasRelatedProject reports whether the project is paired.
func (p *ProjectExtraFields) HasRelatedProject() bool {
	return p != nil && p.RelatedProjectID != 0
}

// ParseIssueTypeIDs splits a space-separated issue type list.
func ParseIssueTypeIDs(s string) []string {
	return strings.Fields(s)
}
