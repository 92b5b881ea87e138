package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/roundtable/internal/config"
	"github.com/soyeahso/roundtable/internal/logging"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

const testCSV = `connection_name,schema_name,table_name
pg_prod,public,customers
pg_prod,public,orders
pg_prod,public,orders
snowflake,sales,invoices
`

func testMetadata(t *testing.T) *Metadata {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metadata.csv")
	require.NoError(t, os.WriteFile(path, []byte(testCSV), 0o600))
	md, err := OpenMetadata(path, silentLog())
	require.NoError(t, err)
	t.Cleanup(func() { md.Close() })
	return md
}

// --- registry ---

type echoTool struct{ panics bool }

func (e echoTool) Name() string        { return "echo" }
func (e echoTool) Description() string { return "echoes input" }
func (e echoTool) InputSchema() string { return `{"type":"object"}` }
func (e echoTool) Execute(_ context.Context, input string) (string, error) {
	if e.panics {
		panic("boom")
	}
	return input, nil
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(silentLog())
	reg.Register(echoTool{})
	reg.Register(NewJobStatusTool(nil))

	assert.Equal(t, []string{"echo", JobStatusToolName}, reg.Names())

	defs := reg.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "echo", defs[0].Name)

	defs = reg.Definitions(JobStatusToolName, "missing")
	require.Len(t, defs, 1)
	assert.Equal(t, "Check the status of DQ jobs", defs[0].Description)

	out, err := reg.Invoke(context.Background(), "echo", "")
	require.NoError(t, err)
	assert.Equal(t, "{}", out)
}

func TestRegistry_UnknownTool(t *testing.T) {
	reg := NewRegistry(silentLog())
	_, err := reg.Invoke(context.Background(), "nope", "{}")

	var te *ToolError
	require.True(t, errors.As(err, &te))
	assert.False(t, te.Temporary())
	assert.Equal(t, "unknown tool: nope", err.Error())
}

func TestRegistry_RecoversPanic(t *testing.T) {
	reg := NewRegistry(silentLog())
	reg.Register(echoTool{panics: true})

	_, err := reg.Invoke(context.Background(), "echo", "{}")
	var te *ToolError
	require.True(t, errors.As(err, &te))
	assert.Contains(t, te.Message, "panicked")
}

func TestToolError_Temporary(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{0, false},
		{400, false},
		{401, false},
		{408, true},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, (&ToolError{Code: tt.code}).Temporary(), "code %d", tt.code)
	}
}

// --- metadata / sql ---

func TestOpenMetadata_MissingFile(t *testing.T) {
	md, err := OpenMetadata(filepath.Join(t.TempDir(), "nope.csv"), silentLog())
	require.NoError(t, err)
	defer md.Close()

	cols, rows, err := md.Query(context.Background(), "SELECT * FROM metadata", 0)
	require.NoError(t, err)
	assert.Equal(t, metadataColumns, cols)
	assert.Empty(t, rows)
}

func TestSQLTool_Execute(t *testing.T) {
	tool := NewSQLTool(testMetadata(t), 0)
	stmt := "select schema_name, table_name from metadata where connection_name = 'pg_prod' order by table_name"
	input, _ := json.Marshal(map[string]string{"sql_statement": stmt})

	out, err := tool.Execute(context.Background(), string(input))
	require.NoError(t, err)

	want := "results: ~~~" + stmt + " \n " +
		"| schema_name | table_name |\n" +
		"|-------------|------------|\n" +
		"| public      | customers  |\n" +
		"| public      | orders     |~~~"
	assert.Equal(t, want, out)
}

func TestSQLTool_StripsFencesAndLimits(t *testing.T) {
	tool := NewSQLTool(testMetadata(t), 1)
	input, _ := json.Marshal(map[string]string{
		"sql_statement": "```sql\nSELECT DISTINCT connection_name FROM metadata ORDER BY 1\n```",
	})

	out, err := tool.Execute(context.Background(), string(input))
	require.NoError(t, err)
	assert.Contains(t, out, "pg_prod")
	assert.NotContains(t, out, "snowflake")
}

func TestSQLTool_Errors(t *testing.T) {
	tool := NewSQLTool(testMetadata(t), 0)

	tests := []struct {
		name  string
		input string
	}{
		{"bad column", `{"sql_statement":"SELECT nope FROM metadata"}`},
		{"empty", `{"sql_statement":"  "}`},
		{"not json", `select 1`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tool.Execute(context.Background(), tt.input)
			var te *ToolError
			require.True(t, errors.As(err, &te))
			assert.False(t, te.Temporary())
			assert.Contains(t, te.Message, "Error executing SQL:")
		})
	}
}

func TestMetadata_Exists(t *testing.T) {
	md := testMetadata(t)
	ctx := context.Background()

	ok, err := md.Exists(ctx, "pg", "public", "orders")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = md.Exists(ctx, "pg", "sales", "orders")
	require.NoError(t, err)
	assert.False(t, ok)
}

// --- dq ---

type dqServer struct {
	signins atomic.Int32
	lastJob JobRequest
	status  string
}

func (d *dqServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/auth/signin", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "acme", body["iss"])
		d.signins.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
	})
	mux.HandleFunc("/v2/run-job-json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&d.lastJob))
		_, _ = w.Write([]byte(`{"jobId":7}`))
	})
	mux.HandleFunc("/v2/getowlcheckq", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(d.status))
	})
	return mux
}

func testDQ(t *testing.T, password string) (*DQClient, *dqServer) {
	t.Helper()
	d := &dqServer{status: `{"data":[{"dataset":"AI_orders","status":"FINISHED","activity":100}]}`}
	srv := httptest.NewServer(d.handler(t))
	t.Cleanup(srv.Close)
	return NewDQClient(config.DQConfig{
		URL:        srv.URL,
		Username:   "admin",
		Credential: password,
		Tenant:     "acme",
	}, silentLog()), d
}

func TestNewDQClient_Disabled(t *testing.T) {
	assert.Nil(t, NewDQClient(config.DQConfig{}, silentLog()))
}

func TestRunJobTool(t *testing.T) {
	dq, srv := testDQ(t, "secret")
	tool := NewRunJobTool(dq, testMetadata(t))

	out, err := tool.Execute(context.Background(),
		`{"connection_name":"pg_prod","dataset":"orders","query":"select * from public.orders limit 10000","schema_name":"public"}`)
	require.NoError(t, err)
	assert.Equal(t, `Job triggered successfully for orders in schema public. Response: {"jobId":7}`, out)

	assert.Equal(t, "AI_orders", srv.lastJob.Dataset)
	assert.Equal(t, "pg_prod", srv.lastJob.Pushdown.ConnectionName)
	assert.Equal(t, "select * from public.orders limit 10000", srv.lastJob.Pushdown.SourceQuery)
	assert.NotEmpty(t, srv.lastJob.RunID)

	// token is reused across calls
	status := NewJobStatusTool(dq)
	out, err = status.Execute(context.Background(), "{}")
	require.NoError(t, err)
	assert.Contains(t, out, "job status: ~~~")
	assert.Contains(t, out, "AI_orders")
	assert.Contains(t, out, "FINISHED")
	assert.Equal(t, int32(1), srv.signins.Load())
}

func TestRunJobTool_UnknownTable(t *testing.T) {
	dq, srv := testDQ(t, "secret")
	tool := NewRunJobTool(dq, testMetadata(t))

	_, err := tool.Execute(context.Background(),
		`{"connection_name":"pg_prod","dataset":"payroll","query":"select * from hr.payroll","schema_name":"hr"}`)
	var te *ToolError
	require.True(t, errors.As(err, &te))
	assert.Contains(t, te.Message, "Unable to look-up and validate table payroll")
	assert.Equal(t, int32(0), srv.signins.Load())
}

func TestRunJobTool_Disabled(t *testing.T) {
	tool := NewRunJobTool(nil, nil)
	_, err := tool.Execute(context.Background(), `{"connection_name":"c","dataset":"d","query":"q"}`)
	var te *ToolError
	require.True(t, errors.As(err, &te))
	assert.False(t, te.Temporary())
}

func TestJobStatusTool_NoJobs(t *testing.T) {
	dq, srv := testDQ(t, "secret")
	srv.status = `{"data":[]}`

	out, err := NewJobStatusTool(dq).Execute(context.Background(), "{}")
	require.NoError(t, err)
	assert.Equal(t, "No jobs found in the last 5 runs", out)
}

func TestJobStatusTool_AuthFailure(t *testing.T) {
	dq, _ := testDQ(t, "wrong")

	_, err := NewJobStatusTool(dq).Execute(context.Background(), "{}")
	var te *ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusUnauthorized, te.Code)
	assert.Contains(t, te.Message, "Authentication failed")
}
