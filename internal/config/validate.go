package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/steveyegge/portalsync/internal/tracker"
	"github.com/steveyegge/portalsync/internal/transition"
	"github.com/steveyegge/portalsync/internal/types"
)

// RequiredFieldRoles must be mapped for mirroring to work at all.
var RequiredFieldRoles = []string{tracker.RolePortalKey}

var (
	validBackends   = []string{BackendSQLite, BackendDolt, BackendMemory}
	validLogFormats = []string{"text", "json"}
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validModes      = []string{ModeServer, ModeCloud}
)

// Validate reports every configuration problem found, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	roles := make([]string, 0, len(c.Fields))
	for role := range c.Fields {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		if !slices.Contains(tracker.KnownFieldRoles, role) {
			add("fields: unknown role %q (known: %s)", role, strings.Join(tracker.KnownFieldRoles, ", "))
		} else if strings.TrimSpace(c.Fields[role]) == "" {
			add("fields.%s: field ID is empty", role)
		}
	}
	for _, role := range RequiredFieldRoles {
		if _, ok := c.Fields[role]; !ok {
			add("fields.%s is required", role)
		}
	}

	errs = append(errs, c.validateProjects()...)

	if !slices.Contains(validBackends, c.Storage.Backend) {
		add("storage.backend: %q is not one of %s", c.Storage.Backend, strings.Join(validBackends, ", "))
	}
	if c.Storage.Backend != BackendMemory && c.Storage.Path == "" && !c.Storage.Dolt.ServerMode {
		add("storage.path is required for the %s backend", c.Storage.Backend)
	}
	if !slices.Contains(validLogFormats, strings.ToLower(c.Log.Format)) {
		add("log.format: %q is not one of %s", c.Log.Format, strings.Join(validLogFormats, ", "))
	}
	if !slices.Contains(validLogLevels, strings.ToLower(c.Log.Level)) {
		add("log.level: %q is not one of %s", c.Log.Level, strings.Join(validLogLevels, ", "))
	}
	if c.CustomEventThreshold <= 0 {
		add("custom_event_threshold must be positive, got %d", c.CustomEventThreshold)
	}
	if !slices.Contains(validModes, c.Webhook.Mode) {
		add("webhook.mode: %q is not one of %s", c.Webhook.Mode, strings.Join(validModes, ", "))
	}
	if c.Webhook.Mode == ModeCloud && c.SupportUser == "" {
		add("support_user is required in cloud mode")
	}
	for name, id := range c.Webhook.EventTypes {
		if id <= 0 {
			add("webhook.event_types.%s: event type ID must be positive", name)
		}
	}
	for i, a := range c.Transitions.Actions {
		if a.SourceStatus == "" || a.Action <= 0 {
			add("transitions.actions[%d]: source_status and action are required", i)
		}
	}
	for i, ev := range c.Transitions.Events {
		if _, err := c.eventType(ev.Event); err != nil {
			add("transitions.events[%d]: %v", i, err)
		}
		if ev.Action <= 0 {
			add("transitions.events[%d]: action is required", i)
		}
	}
	return errors.Join(errs...)
}

func (c *Config) validateProjects() []error {
	var errs []error
	byID := make(map[int64]ProjectConfig, len(c.Projects))
	for i, p := range c.Projects {
		if p.ID <= 0 {
			errs = append(errs, fmt.Errorf("projects[%d]: id is required", i))
			continue
		}
		if _, dup := byID[p.ID]; dup {
			errs = append(errs, fmt.Errorf("projects[%d]: duplicate project id %d", i, p.ID))
			continue
		}
		byID[p.ID] = p
	}
	for _, p := range c.Projects {
		if p.OneProjectPortal {
			if p.RelatedProject != 0 {
				errs = append(errs, fmt.Errorf("project %s: a one-project portal cannot have a related project", p))
			}
			continue
		}
		if p.RelatedProject == 0 {
			continue
		}
		other, ok := byID[p.RelatedProject]
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("project %s: related project %d is not configured", p, p.RelatedProject))
		case other.RelatedProject != p.ID:
			errs = append(errs, fmt.Errorf("project %s: related project %s does not point back", p, other))
		case other.Portal == p.Portal && p.ID < other.ID:
			errs = append(errs, fmt.Errorf("projects %s and %s: exactly one side of a pair must be the portal", p, other))
		}
	}
	return errs
}

// FieldRoles returns the configured field roles.
func (c *Config) FieldRoles() tracker.FieldRoles {
	roles := make(tracker.FieldRoles, len(c.Fields))
	for role, id := range c.Fields {
		roles[role] = strings.TrimSpace(id)
	}
	return roles
}

// EngineRoles returns the configured project role names.
func (c *Config) EngineRoles() tracker.Roles {
	return tracker.Roles{
		PortalOwner: c.Roles.PortalOwner,
		Client:      c.Roles.Client,
		Internal:    c.Roles.Internal,
	}
}

// SupportAccount returns the user new internal issues are assigned to, or nil.
// Values that look like cloud account IDs (containing ':') are taken as such.
func (c *Config) SupportAccount() *types.User {
	name := strings.TrimSpace(c.SupportUser)
	if name == "" {
		return nil
	}
	if strings.Contains(name, ":") {
		return &types.User{AccountID: name}
	}
	return &types.User{Name: name}
}

// Threshold returns the custom event threshold.
func (c *Config) Threshold() types.EventTypeID {
	return types.EventTypeID(c.CustomEventThreshold)
}

// Resolver builds the transition resolver from the transition tables.
func (c *Config) Resolver() (*transition.Resolver, error) {
	actions := make([]transition.ActionMapping, 0, len(c.Transitions.Actions))
	for _, a := range c.Transitions.Actions {
		actions = append(actions, transition.ActionMapping{
			Workflow:     a.Workflow,
			SourceStatus: a.SourceStatus,
			TargetStatus: a.TargetStatus,
			ActionID:     a.Action,
			ActionName:   a.Name,
		})
	}
	events := make([]transition.EventMapping, 0, len(c.Transitions.Events))
	for i, ev := range c.Transitions.Events {
		t, err := c.eventType(ev.Event)
		if err != nil {
			return nil, fmt.Errorf("transitions.events[%d]: %w", i, err)
		}
		events = append(events, transition.EventMapping{Workflow: ev.Workflow, Event: t, ActionID: ev.Action})
	}
	return transition.New(actions, events), nil
}

// EventTypes returns custom event names merged over the built-in names.
func (c *Config) EventTypes() map[string]types.EventTypeID {
	out := make(map[string]types.EventTypeID, len(c.Webhook.EventTypes))
	for name, id := range c.Webhook.EventTypes {
		out[strings.ToLower(strings.TrimSpace(name))] = types.EventTypeID(id)
	}
	return out
}

// eventType resolves a built-in event name, a configured custom name or a number.
func (c *Config) eventType(s string) (types.EventTypeID, error) {
	s = strings.TrimSpace(s)
	if t, ok := types.EventTypeByName(s); ok {
		return t, nil
	}
	if id, ok := c.Webhook.EventTypes[s]; ok {
		return types.EventTypeID(id), nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("unknown event %q", s)
	}
	return types.EventTypeID(id), nil
}

// LogLevel returns the configured slog level. Invalid values fall back to info
// with a warning on stderr.
func (c *Config) LogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid log.level %q in config (valid: %s), using default 'info'\n",
			c.Log.Level, strings.Join(validLogLevels, ", "))
		return slog.LevelInfo
	}
	return lvl
}
