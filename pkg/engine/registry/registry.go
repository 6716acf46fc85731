// Package registry holds the set of monitored technologies: how each one
// is fetched, which configuration fields are ephemeral, which rules audit
// it, and which other technologies it depends on.
package registry

import (
	"fmt"
	"sort"

	"github.com/halcyon-sec/driftwatch/pkg/engine/auditor"
	"github.com/halcyon-sec/driftwatch/pkg/inventory"
	"github.com/halcyon-sec/driftwatch/pkg/store"
)

// Definition wires one technology into the engine.
type Definition struct {
	Name   store.Technology
	Source inventory.Source

	// EphemeralPaths are dotted config paths excluded from the durable
	// hash; a change confined to them never fans out to dependents.
	EphemeralPaths []string

	// Ignore lists name prefixes the watcher skips entirely.
	Ignore []string

	BatchSize        int
	ReauditEphemeral bool

	Rules []auditor.Rule

	// DependsOn names technologies whose durable changes require every
	// item of this technology to be re-audited.
	DependsOn []store.Technology
}

// Registry is the explicit definition set for one engine instance. It is
// populated during startup and read-only afterwards.
type Registry struct {
	defs  map[store.Technology]Definition
	order []store.Technology
}

func New() *Registry {
	return &Registry{defs: make(map[store.Technology]Definition)}
}

// Register adds a definition. Names are unique; dependency targets must
// already be registered so cycles cannot form.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("registry: definition needs a name")
	}
	if def.Source == nil {
		return fmt.Errorf("registry: %s has no source", def.Name)
	}
	if _, ok := r.defs[def.Name]; ok {
		return fmt.Errorf("registry: %s already registered", def.Name)
	}
	for _, dep := range def.DependsOn {
		if _, ok := r.defs[dep]; !ok {
			return fmt.Errorf("registry: %s depends on unregistered %s", def.Name, dep)
		}
	}
	r.defs[def.Name] = def
	r.order = append(r.order, def.Name)
	return nil
}

// Get returns the definition for tech.
func (r *Registry) Get(tech store.Technology) (Definition, bool) {
	def, ok := r.defs[tech]
	return def, ok
}

// Names returns every registered technology in registration order.
func (r *Registry) Names() []store.Technology {
	out := make([]store.Technology, len(r.order))
	copy(out, r.order)
	return out
}

// Dependents returns the technologies that must be re-audited when tech
// durably changes, sorted for deterministic fan-out.
func (r *Registry) Dependents(tech store.Technology) []Definition {
	var out []Definition
	for _, name := range r.order {
		def := r.defs[name]
		for _, dep := range def.DependsOn {
			if dep == tech {
				out = append(out, def)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
