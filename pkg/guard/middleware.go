package guard

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/vango-dev/sessionbridge/pkg/session"
)

// Middleware returns HTTP middleware that redirects with 302 when the guard
// says so. It relies on the bootstrap middleware having stored the session
// in the request context.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := session.FromContext(r.Context())
		if sess == nil {
			g.logger.Warn("guard evaluated without a session", "path", r.URL.Path)
		}
		d := g.Evaluate(r.Context(), sess, r.URL.RequestURI())
		if d.Action == Redirect {
			http.Redirect(w, r, d.Location, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Registry holds the configured guards and the route patterns that
// non-global guards are attached to.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]*Guard
	order    []*Guard
	attached []attachment
}

type attachment struct {
	pattern string
	names   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Guard)}
}

// Register adds a guard. Names must be unique.
func (r *Registry) Register(g *Guard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[g.Name()]; ok {
		return fmt.Errorf("guard: %q already registered", g.Name())
	}
	r.byName[g.Name()] = g
	r.order = append(r.order, g)
	return nil
}

// Get returns a guard by name.
func (r *Registry) Get(name string) (*Guard, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.byName[name]
	return g, ok
}

// Globals returns the global guards in registration order.
func (r *Registry) Globals() []*Guard {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Guard
	for _, g := range r.order {
		if g.Global() {
			out = append(out, g)
		}
	}
	return out
}

// Resolve returns the global guards followed by the named ones, skipping
// duplicates. Unknown names are an error.
func (r *Registry) Resolve(names ...string) ([]*Guard, error) {
	guards := r.Globals()
	seen := make(map[string]bool, len(guards))
	for _, g := range guards {
		seen[g.Name()] = true
	}
	for _, name := range names {
		g, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("guard: %q not registered", name)
		}
		if !seen[name] {
			seen[name] = true
			guards = append(guards, g)
		}
	}
	return guards, nil
}

// Attach runs the named guards on every path matching pattern, using the
// same matching rules as Config.Patterns. Unknown names are an error.
func (r *Registry) Attach(pattern string, names ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		if _, ok := r.byName[name]; !ok {
			return fmt.Errorf("guard: %q not registered", name)
		}
	}
	r.attached = append(r.attached, attachment{pattern: pattern, names: append([]string(nil), names...)})
	return nil
}

// Unattached returns the non-global guards that no pattern attaches. They
// never run.
func (r *Registry) Unattached() []*Guard {
	r.mu.RLock()
	defer r.mu.RUnlock()
	used := make(map[string]bool)
	for _, a := range r.attached {
		for _, name := range a.names {
			used[name] = true
		}
	}
	var out []*Guard
	for _, g := range r.order {
		if !g.Global() && !used[g.Name()] {
			out = append(out, g)
		}
	}
	return out
}

// For returns the guards that apply to target: the global ones, then those
// attached to a pattern matching its path, without duplicates.
func (r *Registry) For(target string) []*Guard {
	path := pathOf(target)
	r.mu.RLock()
	var names []string
	for _, a := range r.attached {
		if Match([]string{a.pattern}, path) {
			names = append(names, a.names...)
		}
	}
	r.mu.RUnlock()
	guards, _ := r.Resolve(names...)
	return guards
}

// Middleware runs the guards that apply to each request's path and redirects
// with 302 on the first redirect decision.
func (r *Registry) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		target := req.URL.RequestURI()
		guards := r.For(target)
		if len(guards) == 0 {
			next.ServeHTTP(w, req)
			return
		}
		sess := session.FromContext(req.Context())
		if d := EvaluateAll(req.Context(), guards, sess, target); d.Action == Redirect {
			http.Redirect(w, req, d.Location, http.StatusFound)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// EvaluateAll runs guards in order and returns the first redirect, or the
// last allow decision.
func EvaluateAll(ctx context.Context, guards []*Guard, sess *session.Session, target string) Decision {
	d := Decision{Action: Allow, States: []State{Pending, SkippedRefresh, Allowed}}
	for _, g := range guards {
		d = g.Evaluate(ctx, sess, target)
		if d.Action == Redirect {
			return d
		}
	}
	return d
}
