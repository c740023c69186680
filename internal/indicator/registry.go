package indicator

import (
	"sort"
	"strings"
	"sync"
)

// Registry maps template names to indicator templates.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewRegistry returns a registry preloaded with the built-in templates:
// MA, EMA, SMMA, RSI, VOL.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[string]Template, 8)}
	for _, t := range []Template{maTemplate(), emaTemplate(), smmaTemplate(), rsiTemplate(), volTemplate()} {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a template. Names are case-insensitive.
func (r *Registry) Register(t Template) {
	r.mu.Lock()
	r.templates[strings.ToUpper(t.Name)] = t
	r.mu.Unlock()
}

// Lookup returns the template registered under name.
func (r *Registry) Lookup(name string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[strings.ToUpper(name)]
	return t, ok
}

// Names lists registered template names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for _, t := range r.templates {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}
