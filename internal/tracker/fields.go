package tracker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/steveyegge/portalsync/internal/types"
)

// Logical field roles. Configuration maps each role to a custom field ID.
const (
	RoleAsAClient      = "as-a-client"
	RolePortalKey      = "portal-key"
	RoleBusinessImpact = "business-impact"
	RoleUrgency        = "urgency"
)

// KnownFieldRoles lists every role the engine reads or writes.
var KnownFieldRoles = []string{RoleAsAClient, RolePortalKey, RoleBusinessImpact, RoleUrgency}

// watchersFieldName is never copied onto a mirror.
const watchersFieldName = "watchers"

// FieldRoles maps a logical role to a custom field ID.
type FieldRoles map[string]string

// Field returns the field bound to role, or false when the role is unset.
func (r FieldRoles) Field(role string) (Field, bool) {
	id, ok := r[role]
	if !ok || id == "" {
		return Field{}, false
	}
	return Field{ID: id, Name: role}, true
}

// ValidateFieldRoles checks that every role is known and that every bound field
// exists in the host's catalog.
func ValidateFieldRoles(ctx context.Context, catalog CustomFieldCatalog, roles FieldRoles) error {
	var problems []string
	for role := range roles {
		if !isKnownRole(role) {
			problems = append(problems, fmt.Sprintf("unknown field role %q", role))
		}
	}
	if catalog != nil {
		defined, err := catalog.Fields(ctx)
		if err != nil {
			return fmt.Errorf("listing custom fields: %w", err)
		}
		ids := make(map[string]bool, len(defined))
		for _, f := range defined {
			ids[f.ID] = true
		}
		for role, id := range roles {
			if id != "" && !ids[id] {
				problems = append(problems, fmt.Sprintf("field %s for role %q does not exist", id, role))
			}
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("invalid field roles: %s", strings.Join(problems, "; "))
	}
	return nil
}

func isKnownRole(role string) bool {
	for _, r := range KnownFieldRoles {
		if r == role {
			return true
		}
	}
	return false
}

// optionValue reads the display value of a select, multi-select or text field.
// Multi-selects yield their first option.
func optionValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]any:
		if s, ok := val["value"].(string); ok {
			return s
		}
		if s, ok := val["name"].(string); ok {
			return s
		}
	case []any:
		if len(val) > 0 {
			return optionValue(val[0])
		}
	case []string:
		if len(val) > 0 {
			return val[0]
		}
	case fmt.Stringer:
		return val.String()
	}
	return ""
}

func (e *Engine) roleValue(issue *types.Issue, role string) string {
	f, ok := e.fields.Field(role)
	if !ok {
		return ""
	}
	return optionValue(e.host.Fields.ValueOf(issue, f))
}
