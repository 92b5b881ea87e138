package tools

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/soyeahso/roundtable/internal/config"
	"github.com/soyeahso/roundtable/internal/logging"
	"github.com/soyeahso/roundtable/internal/version"
)

const (
	RunJobToolName    = "run_dq_job"
	JobStatusToolName = "get_job_status"

	// signin tokens carry no expiry in the response body
	tokenLifetime = 10 * time.Minute
)

// SigninTokenSource implements oauth2.TokenSource against the DQ signin
// endpoint.
type SigninTokenSource struct {
	client   *http.Client
	baseURL  string
	username string
	password string
	tenant   string
}

// Token signs in and returns a bearer token.
func (s *SigninTokenSource) Token() (*oauth2.Token, error) {
	body, err := json.Marshal(map[string]string{
		"username": s.username,
		"password": s.password,
		"iss":      s.tenant,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, s.baseURL+"/v3/auth/signin", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error during auth: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &ToolError{Message: "Authentication failed: Invalid credentials or tenant", Code: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return nil, &ToolError{Message: fmt.Sprintf("Auth API returned status code %d", resp.StatusCode), Code: resp.StatusCode}
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to parse auth response: %w", err)
	}
	if out.Token == "" {
		return nil, &ToolError{Message: "No token in auth response"}
	}
	return &oauth2.Token{
		AccessToken: out.Token,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(tokenLifetime),
	}, nil
}

// DQClient talks to the data quality job API. Requests carry a bearer
// token that is fetched on first use and reused until it expires.
type DQClient struct {
	baseURL string
	tenant  string
	http    *http.Client
	log     *logging.Logger
	now     func() time.Time
}

// NewDQClient builds a client from config. It returns nil when the API is
// not configured.
func NewDQClient(cfg config.DQConfig, log *logging.Logger) *DQClient {
	if !cfg.Enabled() {
		return nil
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed DQ installs
	}
	base := &http.Client{Transport: transport, Timeout: timeout}
	baseURL := strings.TrimRight(cfg.URL, "/")

	src := &SigninTokenSource{
		client:   base,
		baseURL:  baseURL,
		username: cfg.Username,
		password: cfg.Credential,
		tenant:   cfg.Tenant,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	authed := oauth2.NewClient(ctx, src)
	authed.Timeout = timeout

	return &DQClient{
		baseURL: baseURL,
		tenant:  cfg.Tenant,
		http:    authed,
		log:     log.Sub("dq"),
		now:     time.Now,
	}
}

// JobRequest is the body of a run-job-json call.
type JobRequest struct {
	Dataset  string      `json:"dataset"`
	RunID    string      `json:"runId"`
	Pushdown JobPushdown `json:"pushdown"`
	AgentID  JobAgent    `json:"agentId"`
}

// JobPushdown points the job at a connection and source query.
type JobPushdown struct {
	ConnectionName string `json:"connectionName"`
	SourceQuery    string `json:"sourceQuery"`
}

// JobAgent selects the DQ agent; 0 lets the server choose.
type JobAgent struct {
	ID int `json:"id"`
}

// RunJob submits a job and returns the raw response body.
func (c *DQClient) RunJob(ctx context.Context, job JobRequest) (string, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/run-job-json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	c.log.Info().Str("dataset", job.Dataset).Str("connection", job.Pushdown.ConnectionName).Msg("submitting dq job")
	return c.do(req, RunJobToolName)
}

// JobStatus is one row of the recent job queue.
type JobStatus struct {
	Dataset  string
	Status   string
	Activity string
}

// RecentJobs returns up to limit recent jobs.
func (c *DQClient) RecentJobs(ctx context.Context, limit int) ([]JobStatus, error) {
	q := url.Values{}
	q.Set("jobStatus", "")
	q.Set("limit", fmt.Sprint(limit))
	if c.tenant != "" {
		q.Set("tenant", c.tenant)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/getowlcheckq?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	raw, err := c.do(req, JobStatusToolName)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw) == "" {
		return nil, &ToolError{Tool: JobStatusToolName, Message: "Error checking job status: API returned empty response"}
	}

	var out struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, &ToolError{Tool: JobStatusToolName, Message: "Error checking job status: failed to parse JSON response: " + err.Error()}
	}
	jobs := make([]JobStatus, 0, len(out.Data))
	for _, d := range out.Data {
		jobs = append(jobs, JobStatus{
			Dataset:  field(d, "dataset"),
			Status:   field(d, "status"),
			Activity: field(d, "activity"),
		})
	}
	return jobs, nil
}

func field(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// do sends req and returns the body of a 200 response. Other statuses
// become ToolErrors carrying the code.
func (c *DQClient) do(req *http.Request, tool string) (string, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading dq response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.log.Warn().Int("status", resp.StatusCode).Str("tool", tool).Msg("dq api error")
		return "", &ToolError{
			Tool:    tool,
			Message: fmt.Sprintf("%s failed with status code %d", tool, resp.StatusCode),
			Code:    resp.StatusCode,
		}
	}
	return string(body), nil
}

const dqDisabledMsg = "the DQ API is not configured (set tools.dq.url or DQ_URL)"

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// RunJobTool submits a DQ job after checking the table against the
// metadata catalog.
type RunJobTool struct {
	dq *DQClient
	md *Metadata
}

// NewRunJobTool creates the job submission tool. Either argument may be
// nil: without metadata the lookup is skipped, without a client every call
// fails.
func NewRunJobTool(dq *DQClient, md *Metadata) *RunJobTool {
	return &RunJobTool{dq: dq, md: md}
}

func (t *RunJobTool) Name() string { return RunJobToolName }

func (t *RunJobTool) Description() string {
	return "Submits a DQ Job to run a DQ check.\n" +
		"IMPORTANT: This requires a connection_name, dataset, query.\n" +
		"DATASET: Use the table name as the dataset name (e.g. not schema.table, just table.)\n" +
		"QUERY: The query should use schema.table format and have a limit 10000 to always limit results.\n" +
		"SCHEMA: Use the schema name as the schema name (e.g. not schema.table, just schema.)"
}

func (t *RunJobTool) InputSchema() string {
	return `{"type":"object","properties":{` +
		`"connection_name":{"type":"string","description":"connection name to use"},` +
		`"dataset":{"type":"string","description":"dataset name to use"},` +
		`"query":{"type":"string","description":"query to use"},` +
		`"schema_name":{"type":"string","description":"schema name to use"}},` +
		`"required":["connection_name","dataset","query"]}`
}

func (t *RunJobTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		ConnectionName string `json:"connection_name"`
		Dataset        string `json:"dataset"`
		Query          string `json:"query"`
		SchemaName     string `json:"schema_name"`
		Schema         string `json:"schema"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", &ToolError{Tool: RunJobToolName, Message: "Error running DQ job: invalid arguments: " + err.Error()}
	}
	if args.SchemaName == "" {
		args.SchemaName = args.Schema
	}
	if args.ConnectionName == "" || args.Dataset == "" || args.Query == "" {
		return "", &ToolError{Tool: RunJobToolName, Message: "Error running DQ job: connection_name, dataset and query are required"}
	}
	if t.dq == nil {
		return "", &ToolError{Tool: RunJobToolName, Message: dqDisabledMsg}
	}

	schema := args.SchemaName
	if t.md != nil {
		table := args.Dataset
		if schema != "" {
			table = strings.ReplaceAll(table, schema, "")
		}
		schema = nonAlnum.ReplaceAllString(schema, "")
		ok, err := t.md.Exists(ctx, args.ConnectionName, schema, table)
		if err != nil {
			return "", &ToolError{Tool: RunJobToolName, Message: fmt.Sprintf(
				"Error validating table %s in schema %s for connection %s.", args.Dataset, schema, args.ConnectionName)}
		}
		if !ok {
			return "", &ToolError{Tool: RunJobToolName, Message: fmt.Sprintf(
				"Unable to look-up and validate table %s in schema %s for connection %s.", args.Dataset, schema, args.ConnectionName)}
		}
	}

	resp, err := t.dq.RunJob(ctx, JobRequest{
		Dataset: "AI_" + args.Dataset,
		RunID:   t.dq.now().Format("2006-01-02"),
		Pushdown: JobPushdown{
			ConnectionName: args.ConnectionName,
			SourceQuery:    sqlCleaner.Replace(args.Query),
		},
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Job triggered successfully for %s in schema %s. Response: %s", args.Dataset, schema, strings.TrimSpace(resp)), nil
}

// JobStatusTool lists the most recent DQ jobs.
type JobStatusTool struct {
	dq *DQClient
}

// NewJobStatusTool creates the job status tool.
func NewJobStatusTool(dq *DQClient) *JobStatusTool {
	return &JobStatusTool{dq: dq}
}

func (t *JobStatusTool) Name() string { return JobStatusToolName }

func (t *JobStatusTool) Description() string { return "Check the status of DQ jobs" }

func (t *JobStatusTool) InputSchema() string {
	return `{"type":"object","properties":{}}`
}

func (t *JobStatusTool) Execute(ctx context.Context, _ string) (string, error) {
	if t.dq == nil {
		return "", &ToolError{Tool: JobStatusToolName, Message: dqDisabledMsg}
	}
	jobs, err := t.dq.RecentJobs(ctx, 5)
	if err != nil {
		return "", err
	}
	if len(jobs) == 0 {
		return "No jobs found in the last 5 runs", nil
	}
	rows := make([][]string, len(jobs))
	for i, j := range jobs {
		rows[i] = []string{j.Dataset, j.Status, j.Activity}
	}
	return "job status: ~~~" + renderTable(stylePresto, []string{"dataset", "status", "activity"}, rows) + "~~~", nil
}

// RegisterDefaults registers the metadata and DQ tools. dq may be nil.
func RegisterDefaults(reg *Registry, md *Metadata, dq *DQClient, rowLimit int) {
	reg.Register(NewSQLTool(md, rowLimit))
	reg.Register(NewRunJobTool(dq, md))
	reg.Register(NewJobStatusTool(dq))
}
