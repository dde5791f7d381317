package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/steveyegge/portalsync/internal/types"
)

// HostSettings carries the connection settings of a host.
type HostSettings struct {
	URL      string
	Username string
	APIToken string
	Timeout  time.Duration
	// Options holds adapter specific settings.
	Options map[string]string
	Logger  *slog.Logger
	// ExtraFields supplies the mirroring configuration of each project. Hosts
	// that keep it themselves may ignore it.
	ExtraFields ExtraFieldsSource
}

// ExtraFieldsSource resolves the mirroring configuration of a project.
type ExtraFieldsSource interface {
	ExtraFields(ctx context.Context, projectID int64) (*types.ProjectExtraFields, error)
}

// HostFactory connects to a host and returns its collaborators.
type HostFactory func(ctx context.Context, settings HostSettings) (*Host, error)

// Registry manages host adapters by name. Adapters register themselves at init
// time.
type Registry struct {
	mu    sync.RWMutex
	hosts map[string]HostFactory
}

// globalRegistry is the default registry used by Register and Get.
var globalRegistry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{hosts: make(map[string]HostFactory)}
}

// Register adds a host factory to the global registry.
// The name should be lowercase (e.g., "jira", "memory").
func Register(name string, factory HostFactory) {
	globalRegistry.Register(name, factory)
}

// Get retrieves a host factory from the global registry.
// Returns nil if no host with that name is registered.
func Get(name string) HostFactory {
	return globalRegistry.Get(name)
}

// List returns the names of all registered hosts.
func List() []string {
	return globalRegistry.List()
}

// NewHost connects to the named host using the global registry.
func NewHost(ctx context.Context, name string, settings HostSettings) (*Host, error) {
	return globalRegistry.NewHost(ctx, name, settings)
}

// Register adds a host factory to this registry.
func (r *Registry) Register(name string, factory HostFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts[name] = factory
}

// Get retrieves a host factory from this registry.
func (r *Registry) Get(name string) HostFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hosts[name]
}

// List returns the names of all registered hosts, sorted alphabetically.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.hosts))
	for name := range r.hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewHost connects to the named host.
func (r *Registry) NewHost(ctx context.Context, name string, settings HostSettings) (*Host, error) {
	factory := r.Get(name)
	if factory == nil {
		return nil, fmt.Errorf("unknown host %q (available: %v)", name, r.List())
	}
	h, err := factory(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", name, err)
	}
	return h, nil
}

// IsRegistered checks if a host with the given name is registered.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.hosts[name]
	return ok
}

// Clear removes all registered hosts. Used primarily for testing.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts = make(map[string]HostFactory)
}
