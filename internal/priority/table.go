// Package priority derives an issue's priority and due date from its type,
// urgency and business impact, using per-portal-project lookup tables.
package priority

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Wildcard matches any value in a Row field.
const Wildcard = "*"

// Duration is a time.Duration that also accepts a "d" (day) suffix, e.g. "3d".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for both YAML and TOML.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(time.Duration(n) * 24 * time.Hour)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Row is one line of a mapping table. A row without a Priority passes the source
// priority through unchanged. DueIn is applied only together with a Priority.
type Row struct {
	IssueType string   `yaml:"issue_type" toml:"issue_type"`
	Urgency   string   `yaml:"urgency" toml:"urgency"`
	Impact    string   `yaml:"impact" toml:"impact"`
	Priority  *int     `yaml:"priority" toml:"priority"`
	DueIn     Duration `yaml:"due_in" toml:"due_in"`
}

func (r Row) matches(issueType, urgency, impact string) bool {
	return fieldMatches(r.IssueType, issueType) &&
		fieldMatches(r.Urgency, urgency) &&
		fieldMatches(r.Impact, impact)
}

func fieldMatches(pattern, value string) bool {
	return pattern == Wildcard || strings.EqualFold(pattern, value)
}

// Table is the mapping configured for one portal project.
type Table struct {
	Project string `yaml:"project" toml:"project"`
	Rows    []Row  `yaml:"rows" toml:"rows"`
	// DueDates gives the due-date offset for a priority name when no row matches.
	DueDates map[string]Duration `yaml:"due_dates" toml:"due_dates"`
}

// File is the on-disk layout of a priority table file.
type File struct {
	Tables []Table `yaml:"tables" toml:"tables"`
}

// LoadFile reads a .yaml, .yml or .toml table file.
func LoadFile(path string) ([]Table, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read priority table: %w", err)
	}

	var f File
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &f)
	case ".toml":
		err = toml.Unmarshal(data, &f)
	default:
		return nil, fmt.Errorf("priority table %s: unsupported format %q", path, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse priority table %s: %w", path, err)
	}
	if err := validate(f.Tables); err != nil {
		return nil, fmt.Errorf("priority table %s: %w", path, err)
	}
	return f.Tables, nil
}

func validate(tables []Table) error {
	seen := make(map[string]bool, len(tables))
	for i, t := range tables {
		if t.Project == "" {
			return fmt.Errorf("table %d: project is required", i)
		}
		if seen[t.Project] {
			return fmt.Errorf("duplicate table for project %s", t.Project)
		}
		seen[t.Project] = true
		for j, r := range t.Rows {
			if r.Priority == nil && r.DueIn != 0 {
				return fmt.Errorf("project %s row %d: due_in requires a priority", t.Project, j)
			}
		}
	}
	return nil
}
