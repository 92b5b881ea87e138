// Package agent turns a completion client into the conversation's
// provider: it picks the next speaker among the roles the transition
// policy allows and generates that agent's turn.
package agent

import (
	"fmt"

	"github.com/soyeahso/roundtable/internal/config"
	"github.com/soyeahso/roundtable/internal/domain"
)

// Profile is the built-in definition of an agent.
type Profile struct {
	Name        string
	Role        domain.Role
	Description string
	Directive   string
}

// DefaultProfiles are the five agents of the metadata and DQ panel.
var DefaultProfiles = []Profile{
	{
		Name:        "Admin_User",
		Role:        domain.RoleCoordinator,
		Description: "A team member that wants to efficiently complete tasks.",
		Directive: "A human admin. Interact with the assistants to complete the tasks. " +
			"A common workflow is identifying a connection name, then identifying a schema, " +
			"then identifying a table, then running a dq job, then checking the results.",
	},
	{
		Name:        "SQL_Assistant",
		Role:        domain.RoleSqlSpecialist,
		Description: "Answers questions about connections, schemas and tables by querying the 'metadata' table.",
		Directive: `SQL Assistant. You provide instructions to the executor to run a query on the 'metadata' table, in order to answer the most user questions.
REMEMBER:
- Only query the 'metadata' table.
- Only use the columns 'connection_name', 'schema_name', 'table_name'
    - 'connections' typically refers to the 'connection_name' column
    - 'schema' typically refers to the 'schema_name' column
    - 'table' typically refers to the 'table_name' column
- single quote for escape characters
- use lower() in the predicate portion of the query, for case insensitive where clauses.
- use wild cards to match substrings.
- focus on the immediate task, don't deviate from the task
- Try a distinct or a limit 10 query to narrow down the results.
- If you're unsure, you can try 1 attempt to interpret the question (best guess).
- If you're still not sure, or there are no results after trying a query, ask for clarification.
EXAMPLE_PROMPT: use sql, count total number of tables in this schema
EXAMPLE QUERY: select * from metadata where lower(connection_name) = lower('<CONNECTION_NAME>') and lower(schema_name) = lower('<SCHEMA>') and lower(table_name) like lower('%<SEARCH_STRING>%') limit 30
EXAMPLE QUERY: select * from metadata where lower(connection_name) like lower('%<CONNECTION_NAME>%') and lower(schema_name) like lower('%<SCHEMA>%') and lower(table_name) like lower('%<SEARCH_STRING>%') limit 30
IMPORTANT: If you can clearly answer the question, include the word 'TERMINATE' and summarize the answer, don't respond with the same query and don't ask to help with more tasks.`,
	},
	{
		Name:        "Job_Assistant",
		Role:        domain.RoleJobSpecialist,
		Description: "Runs dq jobs and checks dq job results and status.",
		Directive: `Job Assistant. You are able to run dq jobs and check dq job results/status.
You use the run_dq_job function to run dq jobs. You use the get_job_status function to check the results, one time each time you're asked.
Because these dq job functions trigger an API call, the user will want current (up to date) results, you should execute the functions rather than rely on the historical context.
Even if job was recently run, you can run it one more time if the user requests this.
Example: run a dq job for tables w/ 'xyz' in the name (run dq jobs, you need a connection_name, dataset, query, schema)
Example: whats the status of the dq jobs (check dq job results/status, no arguments needed)
Include the word 'TERMINATE' and summarize the answer, if you can answer the question from the context, rather than asking for more tasks.`,
	},
	{
		Name:        "Executor_User",
		Role:        domain.RoleExecutor,
		Description: "A computer terminal that performs no other action than running tool calls from sql_assistant or job_assistant.",
		Directive:   "Executor. Execute the instructions and tools suggested by sql_assistant or job_assistant and report the results.",
	},
	{
		Name:        "Reviewer_Assistant",
		Role:        domain.RoleReviewer,
		Description: "Summarizes the question and the results in a concise final answer.",
		Directive: `Review the prompt and results to concisely answer the question. Summarize the initial question and answer so it's easy to understand.
Use bullet points or lists if the sql or job assistant returns multiple results.
As the reviewer assistant, you do not include actions, arguments, or tool calls. Only the sql and job assistants include that information.
Include the word 'TERMINATE' with the summarized response, rather than asking for more tasks.`,
	},
}

// Profiles returns the default profiles with config overrides applied.
// Overrides are keyed by role.
func Profiles(overrides config.AgentsConfig) ([]Profile, error) {
	out := make([]Profile, len(DefaultProfiles))
	copy(out, DefaultProfiles)

	for key, entry := range overrides {
		role, err := domain.ParseRole(key)
		if err != nil {
			return nil, fmt.Errorf("agents.%s: %w", key, err)
		}
		for i := range out {
			if out[i].Role != role {
				continue
			}
			if entry.Name != "" {
				out[i].Name = entry.Name
			}
			if entry.Directive != "" {
				out[i].Directive = entry.Directive
			}
		}
	}
	return out, nil
}

// NewRoster builds the roster from profiles.
func NewRoster(profiles []Profile) (*domain.Roster, error) {
	agents := make([]domain.Agent, len(profiles))
	for i, p := range profiles {
		agents[i] = domain.Agent{Name: p.Name, Role: p.Role, Directive: p.Directive}
	}
	return domain.NewRoster(agents)
}
