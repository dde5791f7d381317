package priority

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const yamlTable = `
tables:
  - project: IP
    rows:
      - issue_type: Bug
        urgency: High
        impact: High
        priority: 1
        due_in: 4h
      - issue_type: "*"
        urgency: Low
        impact: "*"
        priority: 4
      - issue_type: Task
        urgency: Medium
        impact: "*"
    due_dates:
      Major: 48h
`

const tomlTable = `
[[tables]]
project = "IP"

[[tables.rows]]
issue_type = "Bug"
urgency = "High"
impact = "High"
priority = 1
due_in = "4h"

[tables.due_dates]
Major = "2d"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func registryFrom(t *testing.T, path string) *Registry {
	t.Helper()
	tables, err := LoadFile(path)
	require.NoError(t, err)
	reg := NewRegistry(tables)
	reg.SetClock(func() time.Time { return fixedNow })
	return reg
}

func TestMappingFormats(t *testing.T) {
	for _, tc := range []struct {
		name string
		file string
		body string
	}{
		{"yaml", "priorities.yaml", yamlTable},
		{"toml", "priorities.toml", tomlTable},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := registryFrom(t, writeFile(t, tc.file, tc.body)).For("IP")

			got, ok := m.Mapping("Bug", "High", "High")
			require.True(t, ok)
			require.NotNil(t, got.Priority)
			assert.Equal(t, 1, *got.Priority)
			require.NotNil(t, got.DueDate)
			assert.Equal(t, fixedNow.Add(4*time.Hour), *got.DueDate)

			due, ok := m.DueDate("major")
			require.True(t, ok)
			assert.Equal(t, fixedNow.Add(48*time.Hour), due)
		})
	}
}

func TestMappingWildcardAndNoMatch(t *testing.T) {
	m := registryFrom(t, writeFile(t, "p.yaml", yamlTable)).For("IP")

	got, ok := m.Mapping("Story", "low", "Medium")
	require.True(t, ok)
	require.NotNil(t, got.Priority)
	assert.Equal(t, 4, *got.Priority)
	assert.Nil(t, got.DueDate, "row without due_in leaves the due date alone")

	got, ok = m.Mapping("task", "Medium", "Low")
	require.True(t, ok)
	assert.Nil(t, got.Priority, "pass-through row")
	assert.Nil(t, got.DueDate)

	_, ok = m.Mapping("Bug", "High", "Low")
	assert.False(t, ok)

	_, ok = m.DueDate("Blocker")
	assert.False(t, ok)
}

func TestUnknownProjectMatchesNothing(t *testing.T) {
	reg := registryFrom(t, writeFile(t, "p.yaml", yamlTable))
	m := reg.For("OTHER")
	assert.Nil(t, m)

	_, ok := m.Mapping("Bug", "High", "High")
	assert.False(t, ok)
	_, ok = m.DueDate("Major")
	assert.False(t, ok)
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(writeFile(t, "p.json", `{}`))
	assert.ErrorContains(t, err, "unsupported format")

	_, err = LoadFile(writeFile(t, "p.yaml", "tables:\n  - rows: []\n"))
	assert.ErrorContains(t, err, "project is required")

	_, err = LoadFile(writeFile(t, "p.yaml", "tables:\n  - project: IP\n    rows:\n      - {issue_type: Bug, due_in: 4h}\n"))
	assert.ErrorContains(t, err, "due_in requires a priority")

	_, err = LoadFile(writeFile(t, "p.yaml", "tables:\n  - project: IP\n    rows:\n      - {issue_type: Bug, priority: 2, due_in: soon}\n"))
	assert.ErrorContains(t, err, "invalid duration")
}

func TestWatchReloads(t *testing.T) {
	path := writeFile(t, "p.yaml", yamlTable)
	reg := registryFrom(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, reg, nil) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`
tables:
  - project: IP2
    rows:
      - {issue_type: Bug, urgency: High, impact: High, priority: 3, due_in: 1h}
`), 0o600))

	assert.Eventually(t, func() bool {
		return reg.For("IP2") != nil && reg.For("IP") == nil
	}, 5*time.Second, 50*time.Millisecond)
}
