package plugin

import (
	"fmt"
	"regexp"

	"github.com/trakbridge/trakbridge/internal/syncmap"
)

// Factory constructs a fresh Plugin instance. Registries hold one Factory
// per identifier rather than a shared instance, so that each Stream Worker
// gets its own Plugin value (spec.md §4.5 "safe to call from one worker at
// a time; no cross-worker sharing of a single instance").
type Factory func() Plugin

// identifierPattern matches the allow-listed plugin identifier shape:
// lowercase alphanumerics, underscore and dash, no path separators
// (spec.md §4.5 "loader MUST refuse identifiers containing path traversal
// or non-identifier characters").
var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Registry enumerates built-in plugins and admits external plugins only by
// allow-listed identifier (spec.md §4.5 "Registry"). The zero value is not
// usable; construct with NewRegistry.
type Registry struct {
	factories *syncmap.Map[string, Factory]
	allowlist map[string]struct{}
}

// NewRegistry constructs an empty Registry. allowlist names the external
// plugin identifiers operators have opted into loading; built-ins
// registered via RegisterBuiltin are always permitted regardless of
// allowlist membership.
func NewRegistry(allowlist []string) *Registry {
	set := make(map[string]struct{}, len(allowlist))
	for _, id := range allowlist {
		set[id] = struct{}{}
	}
	return &Registry{
		factories: syncmap.New[string, Factory](),
		allowlist: set,
	}
}

// RegisterBuiltin registers a built-in plugin factory, bypassing the
// allow-list (spec.md §4.5 "Built-in plugin identifiers enumerated at
// startup"). cmd/trakbridged calls this once per built-in plugin at startup.
func (r *Registry) RegisterBuiltin(id string, f Factory) error {
	return r.register(id, f)
}

// RegisterExternal registers an externally loaded plugin factory, subject
// to the allow-list and identifier shape checks (spec.md §4.5 "External
// plugins").
func (r *Registry) RegisterExternal(id string, f Factory) error {
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("plugin: rejected identifier %q: must match %s", id, identifierPattern.String())
	}
	if _, allowed := r.allowlist[id]; !allowed {
		return fmt.Errorf("plugin: rejected identifier %q: not in allow-list", id)
	}
	return r.register(id, f)
}

func (r *Registry) register(id string, f Factory) error {
	if id == "" || f == nil {
		return fmt.Errorf("plugin: empty identifier or nil factory")
	}
	if _, exists := r.factories.Load(id); exists {
		return fmt.Errorf("plugin: identifier %q already registered", id)
	}
	r.factories.Store(id, f)
	return nil
}

// New constructs a fresh Plugin instance for id, or an error if id is not
// registered.
func (r *Registry) New(id string) (Plugin, error) {
	f, ok := r.factories.Load(id)
	if !ok {
		return nil, fmt.Errorf("plugin: unknown plugin identifier %q", id)
	}
	return f(), nil
}

// IDs returns every registered plugin identifier.
func (r *Registry) IDs() []string {
	return r.factories.Keys()
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.factories.Load(id)
	return ok
}
