package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// SQLToolName is the metadata query tool.
const SQLToolName = "run_sql_statement"

// DefaultRowLimit caps the rows returned by a metadata query.
const DefaultRowLimit = 15

var sqlCleaner = strings.NewReplacer(`\`, "", "```sql", "", "```", "")

// SQLTool runs SELECT statements against the metadata table.
type SQLTool struct {
	md    *Metadata
	limit int
}

// NewSQLTool creates the metadata query tool. A non-positive limit uses
// DefaultRowLimit.
func NewSQLTool(md *Metadata, limit int) *SQLTool {
	if limit <= 0 {
		limit = DefaultRowLimit
	}
	return &SQLTool{md: md, limit: limit}
}

func (t *SQLTool) Name() string { return SQLToolName }

func (t *SQLTool) Description() string {
	return "Runs A SELECT statement on 'metadata' table. Available columns: connection_name, schema_name, table_name"
}

func (t *SQLTool) InputSchema() string {
	return `{"type":"object","properties":{"sql_statement":{"type":"string","description":"SQL statement to execute"}},"required":["sql_statement"]}`
}

// Execute runs the statement and returns the rows as a fenced markdown
// table. Bad input and SQL failures are permanent errors.
func (t *SQLTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		SQLStatement string `json:"sql_statement"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", &ToolError{Tool: SQLToolName, Message: "Error executing SQL: invalid arguments: " + err.Error()}
	}
	if strings.TrimSpace(args.SQLStatement) == "" {
		return "", &ToolError{Tool: SQLToolName, Message: "Error executing SQL: sql_statement is required"}
	}

	cols, rows, err := t.md.Query(ctx, sqlCleaner.Replace(args.SQLStatement), t.limit)
	if err != nil {
		return "", &ToolError{Tool: SQLToolName, Message: "Error executing SQL: " + err.Error()}
	}
	return fmt.Sprintf("results: ~~~%s \n %s~~~", args.SQLStatement, renderTable(stylePipe, cols, rows)), nil
}
