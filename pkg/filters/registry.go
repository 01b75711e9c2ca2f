package filters

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Func transforms generated text. Args carries the literal arguments written
// after the filter name in the template source (e.g. truncate(20, "…")).
type Func func(input string, args ...any) (string, error)

// Registry stores filters by name. It is safe for concurrent use; templates
// take a Clone at construction so later registrations never leak into
// templates that were already built.
type Registry struct {
	mu      sync.RWMutex
	filters map[string]Func
}

// NewRegistry creates an empty registry instance.
func NewRegistry() *Registry {
	return &Registry{
		filters: make(map[string]Func),
	}
}

// Default returns a new registry pre-populated with the built-in filters.
func Default() *Registry {
	r := NewRegistry()
	for name, fn := range builtins() {
		r.MustRegister(name, fn)
	}
	return r
}

// Register adds a filter. Duplicate names return an error.
func (r *Registry) Register(name string, fn Func) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("filters: filter name is required")
	}
	if fn == nil {
		return fmt.Errorf("filters: filter %q has no function", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.filters[name]; exists {
		return fmt.Errorf("filters: filter %q already registered", name)
	}
	r.filters[name] = fn
	return nil
}

// MustRegister panics on registration failure. Useful for init-time wiring.
func (r *Registry) MustRegister(name string, fn Func) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Replace registers fn under name, overwriting any existing filter.
func (r *Registry) Replace(name string, fn Func) error {
	name = strings.TrimSpace(name)
	if name == "" || fn == nil {
		return fmt.Errorf("filters: filter name and function required")
	}
	r.mu.Lock()
	r.filters[name] = fn
	r.mu.Unlock()
	return nil
}

// Get retrieves a filter by name.
func (r *Registry) Get(name string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.filters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFilter, name)
	}
	return fn, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	_, ok := r.filters[name]
	r.mu.RUnlock()
	return ok
}

// List returns a sorted list of filter names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.filters))
	for name := range r.filters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy of the registry.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := &Registry{filters: make(map[string]Func, len(r.filters))}
	for name, fn := range r.filters {
		out.filters[name] = fn
	}
	return out
}

// Apply runs the named filter. Unknown filters and filter failures are both
// reported as *Error so callers can surface the failing name.
func (r *Registry) Apply(name, input string, args ...any) (string, error) {
	fn, err := r.Get(name)
	if err != nil {
		return "", &Error{Filter: name, Err: err}
	}
	out, err := fn(input, args...)
	if err != nil {
		return "", &Error{Filter: name, Err: err}
	}
	return out, nil
}
