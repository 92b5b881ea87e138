package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/rego"

	"github.com/soyeahso/roundtable/internal/domain"
	"github.com/soyeahso/roundtable/internal/logging"
)

// ErrToolDenied is the sentinel wrapped by every DeniedError.
var ErrToolDenied = errors.New("tool call denied")

// DeniedError lists the rules that rejected a tool call.
type DeniedError struct {
	Tool    string
	Reasons []string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("tool call %s denied: %s", e.Tool, strings.Join(e.Reasons, "; "))
}

func (e *DeniedError) Unwrap() error { return ErrToolDenied }

// DefaultToolPolicy restricts each specialist to its own tools and keeps
// the SQL tool read-only.
const DefaultToolPolicy = `
package roundtable.tools

import rego.v1

role_tools := {
	"sql_specialist": {"run_sql_statement"},
	"job_specialist": {"run_dq_job", "get_job_status"},
}

deny contains msg if {
	not role_tools[input.role][input.tool]
	msg := sprintf("role %s may not call %s", [input.role, input.tool])
}

deny contains "only single SELECT statements may run" if {
	input.tool == "run_sql_statement"
	not read_only
}

deny contains "run_dq_job needs connection_name, dataset, query and schema" if {
	input.tool == "run_dq_job"
	some field in ["connection_name", "dataset", "query", "schema"]
	not input.args[field]
}

read_only if {
	stmt := trim(lower(trim_space(input.args.sql_statement)), "; ")
	startswith(stmt, "select")
	not contains(stmt, ";")
}
`

// ToolGuard evaluates a Rego policy before any tool call runs.
type ToolGuard struct {
	query rego.PreparedEvalQuery
	log   *logging.Logger
}

// NewToolGuard compiles src. The module must define data.roundtable.tools.deny
// as a set of reason strings; an empty set allows the call.
func NewToolGuard(ctx context.Context, src string, log *logging.Logger) (*ToolGuard, error) {
	r := rego.New(
		rego.Query("data.roundtable.tools.deny"),
		rego.Module("tools.rego", src),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("preparing tool policy: %w", err)
	}
	return &ToolGuard{query: query, log: log.Sub("toolguard")}, nil
}

// LoadToolGuard reads a policy file. An empty path uses DefaultToolPolicy.
func LoadToolGuard(ctx context.Context, path string, log *logging.Logger) (*ToolGuard, error) {
	if path == "" {
		return NewToolGuard(ctx, DefaultToolPolicy, log)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tool policy: %w", err)
	}
	return NewToolGuard(ctx, string(data), log)
}

// Check returns a *DeniedError when the policy rejects the call. Arguments
// that are not a JSON object are passed to the policy as an empty object.
func (g *ToolGuard) Check(ctx context.Context, role domain.Role, inv domain.ToolInvocation) error {
	args := map[string]any{}
	if inv.Arguments != "" {
		if err := json.Unmarshal([]byte(inv.Arguments), &args); err != nil {
			g.log.Debug().Err(err).Str("tool", inv.Name).Msg("tool arguments are not an object")
			args = map[string]any{}
		}
	}

	input := map[string]any{
		"tool": inv.Name,
		"role": string(role),
		"args": args,
	}

	results, err := g.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return fmt.Errorf("evaluating tool policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil
	}

	set, ok := results[0].Expressions[0].Value.([]any)
	if !ok || len(set) == 0 {
		return nil
	}

	reasons := make([]string, 0, len(set))
	for _, v := range set {
		reasons = append(reasons, fmt.Sprint(v))
	}
	sort.Strings(reasons)

	g.log.Info().Str("tool", inv.Name).Str("role", string(role)).Strs("reasons", reasons).Msg("tool call denied")
	return &DeniedError{Tool: inv.Name, Reasons: reasons}
}
