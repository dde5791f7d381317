package priority

import (
	"strings"
	"sync/atomic"
	"time"
)

// Mapping is the resolved outcome of a table row.
type Mapping struct {
	Priority *int       // nil: keep the source priority
	DueDate  *time.Time // nil: leave the due date alone
}

// Mapper answers lookups against one project's table. A nil *Mapper matches nothing.
type Mapper struct {
	table *Table
	now   func() time.Time
}

// Mapping returns the first row matching the triple.
func (m *Mapper) Mapping(issueType, urgency, impact string) (*Mapping, bool) {
	if m == nil || m.table == nil {
		return nil, false
	}
	for _, r := range m.table.Rows {
		if r.matches(issueType, urgency, impact) {
			mp := &Mapping{Priority: r.Priority}
			if r.DueIn != 0 {
				due := m.now().Add(time.Duration(r.DueIn))
				mp.DueDate = &due
			}
			return mp, true
		}
	}
	return nil, false
}

// DueDate returns the due date configured for a priority name.
func (m *Mapper) DueDate(priorityName string) (time.Time, bool) {
	if m == nil || m.table == nil || priorityName == "" {
		return time.Time{}, false
	}
	for name, d := range m.table.DueDates {
		if strings.EqualFold(name, priorityName) {
			return m.now().Add(time.Duration(d)), true
		}
	}
	return time.Time{}, false
}

// Registry holds the tables of every portal project and swaps them atomically
// on reload.
type Registry struct {
	tables atomic.Pointer[map[string]*Table]
	now    func() time.Time
}

// NewRegistry returns a registry serving tables.
func NewRegistry(tables []Table) *Registry {
	r := &Registry{now: time.Now}
	r.Replace(tables)
	return r
}

// SetClock overrides the clock due dates are computed from.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// Replace installs a new set of tables.
func (r *Registry) Replace(tables []Table) {
	m := make(map[string]*Table, len(tables))
	for i := range tables {
		t := tables[i]
		m[t.Project] = &t
	}
	r.tables.Store(&m)
}

// For returns the mapper of a portal project. Unknown projects get a mapper that
// matches nothing.
func (r *Registry) For(projectKey string) *Mapper {
	if r == nil {
		return nil
	}
	tables := r.tables.Load()
	if tables == nil {
		return nil
	}
	t, ok := (*tables)[projectKey]
	if !ok {
		return nil
	}
	return &Mapper{table: t, now: r.now}
}

// Projects lists the projects that have a table.
func (r *Registry) Projects() []string {
	tables := r.tables.Load()
	if tables == nil {
		return nil
	}
	keys := make([]string, 0, len(*tables))
	for k := range *tables {
		keys = append(keys, k)
	}
	return keys
}
