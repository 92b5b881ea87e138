// Package policy decides who may speak next and which tool calls may run.
package policy

import (
	"errors"
	"fmt"
	"sort"

	"github.com/soyeahso/roundtable/internal/domain"
)

// ErrPolicyViolation is the sentinel wrapped by every ViolationError.
var ErrPolicyViolation = errors.New("policy violation")

// ViolationError reports a nomination the graph does not allow.
type ViolationError struct {
	From domain.Role
	To   domain.Role
}

func (e *ViolationError) Error() string {
	if e.To == domain.RoleUnknown {
		return fmt.Sprintf("policy violation: %s nominated an unknown role", e.From)
	}
	return fmt.Sprintf("policy violation: %s may not hand the floor to %s", e.From, e.To)
}

func (e *ViolationError) Unwrap() error { return ErrPolicyViolation }

// Graph is an immutable directed graph of allowed speaker transitions.
// A role with no outgoing edges is terminal.
type Graph struct {
	edges map[domain.Role][]domain.Role
}

// Default returns the standard five-role graph.
func Default() *Graph {
	g, _ := NewGraph(map[domain.Role][]domain.Role{
		domain.RoleCoordinator:   {domain.RoleSqlSpecialist, domain.RoleJobSpecialist, domain.RoleReviewer},
		domain.RoleSqlSpecialist: {domain.RoleExecutor, domain.RoleCoordinator},
		domain.RoleJobSpecialist: {domain.RoleExecutor, domain.RoleCoordinator},
		domain.RoleExecutor:      {domain.RoleReviewer, domain.RoleCoordinator},
		domain.RoleReviewer:      {domain.RoleCoordinator},
	})
	return g
}

// NewGraph copies edges into a graph. Roles missing from the map are
// terminal. Duplicate targets are dropped, keeping first-seen order.
func NewGraph(edges map[domain.Role][]domain.Role) (*Graph, error) {
	g := &Graph{edges: make(map[domain.Role][]domain.Role, len(edges))}
	for from, targets := range edges {
		if !known(from) {
			return nil, fmt.Errorf("transition from unknown role %q", from)
		}
		seen := make(map[domain.Role]bool, len(targets))
		var out []domain.Role
		for _, to := range targets {
			if !known(to) {
				return nil, fmt.Errorf("transition %s -> unknown role %q", from, to)
			}
			if seen[to] {
				continue
			}
			seen[to] = true
			out = append(out, to)
		}
		g.edges[from] = out
	}
	return g, nil
}

// FromConfig builds a graph from role names as they appear in the config
// file. An empty map yields the default graph.
func FromConfig(transitions map[string][]string) (*Graph, error) {
	if len(transitions) == 0 {
		return Default(), nil
	}

	// Sorted so the first error reported is stable.
	keys := make([]string, 0, len(transitions))
	for k := range transitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	edges := make(map[domain.Role][]domain.Role, len(transitions))
	for _, k := range keys {
		from, err := domain.ParseRole(k)
		if err != nil {
			return nil, fmt.Errorf("policy.transitions: %w", err)
		}
		targets := make([]domain.Role, 0, len(transitions[k]))
		for _, name := range transitions[k] {
			to, err := domain.ParseRole(name)
			if err != nil {
				return nil, fmt.Errorf("policy.transitions.%s: %w", k, err)
			}
			targets = append(targets, to)
		}
		edges[from] = targets
	}
	return NewGraph(edges)
}

func known(r domain.Role) bool {
	for _, k := range domain.AllRoles {
		if r == k {
			return true
		}
	}
	return false
}

// AllowedNext returns a copy of the ordered set of roles that may follow r.
func (g *Graph) AllowedNext(r domain.Role) []domain.Role {
	return append([]domain.Role(nil), g.edges[r]...)
}

// Allows reports whether the floor may pass from one role to another.
func (g *Graph) Allows(from, to domain.Role) bool {
	for _, r := range g.edges[from] {
		if r == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether r has no allowed successor.
func (g *Graph) IsTerminal(r domain.Role) bool {
	return len(g.edges[r]) == 0
}

// Check returns a *ViolationError when to is not an allowed successor of
// from. Every nomination from a terminal role is a violation.
func (g *Graph) Check(from, to domain.Role) error {
	if g.Allows(from, to) {
		return nil
	}
	return &ViolationError{From: from, To: to}
}

// Edges returns a copy of the graph keyed by role, for display.
func (g *Graph) Edges() map[domain.Role][]domain.Role {
	out := make(map[domain.Role][]domain.Role, len(g.edges))
	for k, v := range g.edges {
		out[k] = append([]domain.Role(nil), v...)
	}
	return out
}
