package config

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/steveyegge/portalsync/internal/types"
)

// ProjectConfig is one project's mirroring settings.
type ProjectConfig struct {
	ID               int64  `mapstructure:"id" yaml:"id"`
	Key              string `mapstructure:"key" yaml:"key"`
	Portal           bool   `mapstructure:"portal" yaml:"portal"`
	RelatedProject   int64  `mapstructure:"related_project" yaml:"related_project,omitempty"`
	Bidirectional    bool   `mapstructure:"bidirectional" yaml:"bidirectional"`
	OneProjectPortal bool   `mapstructure:"one_project_portal" yaml:"one_project_portal,omitempty"`

	// NotMappedIssueTypes accepts a space-separated string or a list.
	NotMappedIssueTypes any `mapstructure:"not_mapped_issue_types" yaml:"not_mapped_issue_types,omitempty"`

	notMapped []string
}

func (p *ProjectConfig) normalize() {
	p.Key = strings.TrimSpace(p.Key)
	p.notMapped = nil
	switch v := p.NotMappedIssueTypes.(type) {
	case string:
		p.notMapped = types.ParseIssueTypeIDs(v)
	case []any:
		for _, item := range v {
			switch id := item.(type) {
			case string:
				p.notMapped = append(p.notMapped, types.ParseIssueTypeIDs(id)...)
			case int:
				p.notMapped = append(p.notMapped, strconv.Itoa(id))
			case int64:
				p.notMapped = append(p.notMapped, strconv.FormatInt(id, 10))
			}
		}
	case []string:
		for _, id := range v {
			p.notMapped = append(p.notMapped, types.ParseIssueTypeIDs(id)...)
		}
	case int:
		p.notMapped = []string{strconv.Itoa(v)}
	}
}

// ExtraFields returns the project's settings in engine form.
func (p *ProjectConfig) ExtraFields() *types.ProjectExtraFields {
	return &types.ProjectExtraFields{
		ProjectID:             p.ID,
		Portal:                p.Portal,
		RelatedProjectID:      p.RelatedProject,
		Bidirectional:         p.Bidirectional,
		OneProjectPortal:      p.OneProjectPortal,
		NotMappedIssueTypeIDs: slices.Clone(p.notMapped),
	}
}

// ProjectRegistry serves per-project mirroring settings by project ID. It is safe
// for concurrent use and can be swapped wholesale on reload.
type ProjectRegistry struct {
	mu    sync.RWMutex
	byID  map[int64]*types.ProjectExtraFields
	byKey map[string]int64
}

// NewProjectRegistry indexes projects.
func NewProjectRegistry(projects []ProjectConfig) *ProjectRegistry {
	r := &ProjectRegistry{}
	r.Replace(projects)
	return r
}

// Replace swaps the registry contents.
func (r *ProjectRegistry) Replace(projects []ProjectConfig) {
	byID := make(map[int64]*types.ProjectExtraFields, len(projects))
	byKey := make(map[string]int64, len(projects))
	for i := range projects {
		p := projects[i]
		p.normalize()
		byID[p.ID] = p.ExtraFields()
		if p.Key != "" {
			byKey[strings.ToUpper(p.Key)] = p.ID
		}
	}
	r.mu.Lock()
	r.byID, r.byKey = byID, byKey
	r.mu.Unlock()
}

// ExtraFields returns a copy of the settings of projectID, or nil when the project
// is not configured for mirroring.
func (r *ProjectRegistry) ExtraFields(_ context.Context, projectID int64) (*types.ProjectExtraFields, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	x, ok := r.byID[projectID]
	if !ok {
		return nil, nil
	}
	cp := *x
	cp.NotMappedIssueTypeIDs = slices.Clone(x.NotMappedIssueTypeIDs)
	return &cp, nil
}

// IDByKey resolves a configured project key.
func (r *ProjectRegistry) IDByKey(key string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[strings.ToUpper(strings.TrimSpace(key))]
	return id, ok
}

// IDs returns the configured project IDs in ascending order.
func (r *ProjectRegistry) IDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// PortalProjects returns the keys of configured portal projects.
func (c *Config) PortalProjects() []string {
	var keys []string
	for _, p := range c.Projects {
		if p.Portal && p.Key != "" {
			keys = append(keys, p.Key)
		}
	}
	return keys
}

func (p ProjectConfig) String() string {
	if p.Key != "" {
		return fmt.Sprintf("%s (%d)", p.Key, p.ID)
	}
	return strconv.FormatInt(p.ID, 10)
}
