package agent

import (
	"github.com/soyeahso/roundtable/internal/llm"
	"github.com/soyeahso/roundtable/internal/tools"
)

// DemoModel is the model name the scripted provider answers to.
const DemoModel = "sql-demo"

// SQLDemoScript replays a metadata question answered in three rounds: the
// SQL specialist requests a query, the executor runs it and the reviewer
// summarizes. Responses alternate between speaker selection and turns.
func SQLDemoScript() []llm.CompletionResponse {
	return []llm.CompletionResponse{
		{Content: "SQL_Assistant", Model: DemoModel},
		{
			Model: DemoModel,
			ToolCalls: []llm.ToolCall{{
				Name:  tools.SQLToolName,
				Input: `{"sql_statement":"select distinct connection_name from metadata order by connection_name limit 10"}`,
			}},
			StopReason: "tool_use",
		},
		{Content: "Reviewer_Assistant", Model: DemoModel},
		{
			Model: DemoModel,
			Content: "- The question asked which connections are available.\n" +
				"- The connections are listed in the query results above.\n\n" +
				"TERMINATE",
		},
	}
}
