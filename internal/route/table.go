// Package route holds the static path-to-backend table.
package route

import (
	"errors"
	"fmt"
	"net/url"
	"slices"

	"multiproxy/internal/model"
	"multiproxy/internal/transport"
)

// ErrInvalidTarget is returned when a backend URI cannot be used as a target.
var ErrInvalidTarget = errors.New("invalid backend target")

// Table maps exact request paths to backend targets. It is read-only after
// NewTable returns and is shared by pointer across all requests.
type Table struct {
	targets map[string]model.Target
}

// NewTable parses every backend URI and selects its transport once.
func NewTable(routes map[string]string) (*Table, error) {
	targets := make(map[string]model.Target, len(routes))
	for path, raw := range routes {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w: %w", path, ErrInvalidTarget, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("route %q: %w: unsupported scheme %q", path, ErrInvalidTarget, u.Scheme)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("route %q: %w: missing host in %q", path, ErrInvalidTarget, raw)
		}
		targets[path] = model.Target{
			Route:     path,
			URL:       u,
			Transport: transport.Select(u),
		}
	}
	return &Table{targets: targets}, nil
}

// Resolve looks path up by exact match. The returned target shares its URL
// with the table; callers must not modify it.
func (t *Table) Resolve(path string) (model.Target, bool) {
	target, ok := t.targets[path]
	return target, ok
}

// Len returns the number of routes.
func (t *Table) Len() int {
	return len(t.targets)
}

// Paths returns the configured route paths in sorted order.
func (t *Table) Paths() []string {
	paths := make([]string, 0, len(t.targets))
	for p := range t.targets {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}
