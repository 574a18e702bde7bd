// Package scheduler implements the phase DAG and the per-tick pipeline
// that drives registered systems across it.
package scheduler

import (
	"sort"

	"github.com/fractalforge/ecsruntime/infrastructure/errors"
)

// Built-in phase names.
const (
	PhaseOnLoad          = "OnLoad"
	PhasePostLoad         = "PostLoad"
	PhasePreUpdate        = "PreUpdate"
	PhaseOnUpdate         = "OnUpdate"
	PhaseOnValidate       = "OnValidate"
	PhasePostUpdate       = "PostUpdate"
	PhasePreStore         = "PreStore"
	PhaseOnStore          = "OnStore"
	PhasePostFrame        = "PostFrame"
	PhaseOnPhysicsUpdate  = "OnPhysicsUpdate"
	PhaseOnCollisions     = "OnCollisions"
)

var builtinPhaseOrder = []string{
	PhaseOnLoad, PhasePostLoad, PhasePreUpdate, PhaseOnUpdate, PhaseOnValidate,
	PhasePostUpdate, PhasePreStore, PhaseOnStore, PhaseOnPhysicsUpdate,
	PhaseOnCollisions, PhasePostFrame,
}

type phaseNode struct {
	name      string
	dependsOn string // "" for none
}

// PhaseGraph holds the registered phases and their DependsOn edges.
type PhaseGraph struct {
	nodes map[string]phaseNode
	order []string
}

// NewPhaseGraph creates a PhaseGraph pre-populated with the eleven built-in
// phases, chained in their documented order.
func NewPhaseGraph() *PhaseGraph {
	g := &PhaseGraph{nodes: make(map[string]phaseNode)}
	prev := ""
	for _, name := range builtinPhaseOrder {
		g.nodes[name] = phaseNode{name: name, dependsOn: prev}
		prev = name
	}
	return g
}

// RegisterPhase adds a custom phase depending on dependsOn (may be "" for
// none, though in practice every phase should chain off something so it has
// a defined position).
func (g *PhaseGraph) RegisterPhase(name, dependsOn string) error {
	if dependsOn != "" {
		if _, ok := g.nodes[dependsOn]; !ok {
			return errors.UnknownPhaseDep(name, dependsOn)
		}
	}
	g.nodes[name] = phaseNode{name: name, dependsOn: dependsOn}
	g.order = nil
	return nil
}

// HasPhase reports whether name is a registered phase.
func (g *PhaseGraph) HasPhase(name string) bool {
	_, ok := g.nodes[name]
	return ok
}

// TopoOrder computes the topological order over phases, a linear extension
// of the DependsOn relation. Rejects cycles as fatal.
func (g *PhaseGraph) TopoOrder() ([]string, error) {
	if g.order != nil {
		return g.order, nil
	}

	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names) // deterministic tie-break among independent phases

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(names))
	order := make([]string, 0, len(names))
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			cycle := append(append([]string(nil), path...), name)
			return errors.PhaseCycle(cycle)
		}
		color[name] = gray
		path = append(path, name)

		if dep := g.nodes[name].dependsOn; dep != "" {
			if err := visit(dep); err != nil {
				return err
			}
		}

		path = path[:len(path)-1]
		color[name] = black
		order = append(order, name)
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	g.order = order
	return order, nil
}
