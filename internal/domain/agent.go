package domain

import (
	"fmt"
	"strings"
)

// Role is the closed set of agent roles that can hold the floor.
type Role string

const (
	RoleUnknown       Role = ""
	RoleCoordinator   Role = "coordinator"
	RoleSqlSpecialist Role = "sql_specialist"
	RoleJobSpecialist Role = "job_specialist"
	RoleExecutor      Role = "executor"
	RoleReviewer      Role = "reviewer"
)

// AllRoles lists every role in roster order.
var AllRoles = []Role{
	RoleCoordinator,
	RoleSqlSpecialist,
	RoleJobSpecialist,
	RoleExecutor,
	RoleReviewer,
}

// ParseRole accepts either the canonical role string or a case-insensitive
// variant of it ("SqlSpecialist", "sql-specialist").
func ParseRole(s string) (Role, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	for _, r := range AllRoles {
		if norm == string(r) || norm == strings.ReplaceAll(string(r), "_", "") {
			return r, nil
		}
	}
	return RoleUnknown, fmt.Errorf("unknown role %q", s)
}

// Capabilities describes what a role may do in the round loop.
type Capabilities struct {
	RequestsTools bool // may emit tool_invocation turns
	ExecutesTools bool // produces tool_result turns from pending invocations
}

var capabilityTable = map[Role]Capabilities{
	RoleCoordinator:   {},
	RoleSqlSpecialist: {RequestsTools: true},
	RoleJobSpecialist: {RequestsTools: true},
	RoleExecutor:      {ExecutesTools: true},
	RoleReviewer:      {},
}

// Capabilities returns the capability row for the role.
func (r Role) Capabilities() Capabilities {
	return capabilityTable[r]
}

// Agent is a participant in a conversation.
type Agent struct {
	Name      string `json:"name"`
	Role      Role   `json:"role"`
	Directive string `json:"-"`
}

// MessageRole returns the message role used for this agent's plain turns.
// The coordinator speaks for the human, so its turns are user turns.
func (a Agent) MessageRole() MessageRole {
	if a.Role == RoleCoordinator {
		return RoleUser
	}
	return RoleAssistant
}

// Roster is an ordered, immutable set of agents keyed by role.
type Roster struct {
	agents []Agent
	byRole map[Role]Agent
	byName map[string]Agent
}

// NewRoster builds a roster. Every role must appear exactly once.
func NewRoster(agents []Agent) (*Roster, error) {
	r := &Roster{
		byRole: make(map[Role]Agent, len(agents)),
		byName: make(map[string]Agent, len(agents)),
	}
	for _, a := range agents {
		if a.Name == "" {
			return nil, fmt.Errorf("agent for role %q has no name", a.Role)
		}
		if _, dup := r.byRole[a.Role]; dup {
			return nil, fmt.Errorf("duplicate agent for role %q", a.Role)
		}
		if _, dup := r.byName[a.Name]; dup {
			return nil, fmt.Errorf("duplicate agent name %q", a.Name)
		}
		r.agents = append(r.agents, a)
		r.byRole[a.Role] = a
		r.byName[a.Name] = a
	}
	for _, role := range AllRoles {
		if _, ok := r.byRole[role]; !ok {
			return nil, fmt.Errorf("missing agent for role %q", role)
		}
	}
	return r, nil
}

// Agents returns the agents in roster order.
func (r *Roster) Agents() []Agent {
	return append([]Agent(nil), r.agents...)
}

// ByRole looks up the agent holding a role.
func (r *Roster) ByRole(role Role) (Agent, bool) {
	a, ok := r.byRole[role]
	return a, ok
}

// ByName looks up an agent by its display name.
func (r *Roster) ByName(name string) (Agent, bool) {
	a, ok := r.byName[name]
	return a, ok
}

// Names returns the participant names in roster order.
func (r *Roster) Names() []string {
	names := make([]string, len(r.agents))
	for i, a := range r.agents {
		names[i] = a.Name
	}
	return names
}
