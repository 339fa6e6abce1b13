// Package modules collects the route registrars of every domain module so
// the server mounts them in one place.
package modules

import (
	"fmt"

	"github.com/labstack/echo/v4"
)

// RouteRegistrar is implemented by every domain handler. api is the
// authenticated group; public carries the few unauthenticated routes.
type RouteRegistrar interface {
	RegisterRoutes(api *echo.Group, public *echo.Group)
}

type entry struct {
	name   string
	routes RouteRegistrar
}

// Registry holds modules in registration order.
type Registry struct {
	entries []entry
	names   map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{names: make(map[string]bool)}
}

// Register adds a module. Names must be unique.
func (r *Registry) Register(name string, routes RouteRegistrar) error {
	if name == "" {
		return fmt.Errorf("module name is required")
	}
	if routes == nil {
		return fmt.Errorf("module %s: routes are required", name)
	}
	if r.names[name] {
		return fmt.Errorf("module %s already registered", name)
	}
	r.names[name] = true
	r.entries = append(r.entries, entry{name: name, routes: routes})
	return nil
}

// MustRegister is Register for wiring code where a duplicate is a bug.
func (r *Registry) MustRegister(name string, routes RouteRegistrar) {
	if err := r.Register(name, routes); err != nil {
		panic(err)
	}
}

// Mount registers every module's routes, in order.
func (r *Registry) Mount(api *echo.Group, public *echo.Group) {
	for _, e := range r.entries {
		e.routes.RegisterRoutes(api, public)
	}
}

func (r *Registry) Names() []string {
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.name
	}
	return out
}
