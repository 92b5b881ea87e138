package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/roundtable/internal/config"
	"github.com/soyeahso/roundtable/internal/domain"
	"github.com/soyeahso/roundtable/internal/gateway"
)

// isolate points the CLI at a fresh home directory and clears the
// environment overrides the loader honors.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("ROUNDTABLE_HOME", home)
	for _, k := range []string{
		"ROUNDTABLE_GATEWAY_PORT", "ROUNDTABLE_GATEWAY_BIND", "ROUNDTABLE_GATEWAY_TOKEN",
		"ROUNDTABLE_GATEWAY_PASSWORD", "ROUNDTABLE_LOG_LEVEL", "ROUNDTABLE_SESSION_STORE",
		"LLM_PROVIDER", "DQ_URL",
	} {
		t.Setenv(k, "")
	}
	return home
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--log-level", "silent"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"true", true},
		{"FALSE", false},
		{"42", 42},
		{"-3", -3},
		{"0.7", 0.7},
		{"sqlite", "sqlite"},
		{"1.2.3", "1.2.3"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseValue(tt.in))
		})
	}
}

func TestPrintValue(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printValue(&buf, "loopback"))
	assert.Equal(t, "loopback\n", buf.String())

	buf.Reset()
	require.NoError(t, printValue(&buf, map[string]any{"port": 1234}))
	assert.Equal(t, "port: 1234\n", buf.String())

	buf.Reset()
	require.NoError(t, printValue(&buf, []any{"openai", "gemini"}))
	assert.Equal(t, "- openai\n- gemini\n", buf.String())
}

func TestVersionCmd(t *testing.T) {
	isolate(t)
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "roundtable dev"), out)

	out, err = execute(t, "", "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}

func TestConfigSetGetUnset(t *testing.T) {
	home := isolate(t)

	_, err := execute(t, "", "config", "set", "orchestrator.maxRounds", "9")
	require.NoError(t, err)

	out, err := execute(t, "", "config", "get", "orchestrator.maxRounds")
	require.NoError(t, err)
	assert.Equal(t, "9\n", out)

	out, err = execute(t, "", "config", "get", "orchestrator")
	require.NoError(t, err)
	assert.Equal(t, "maxRounds: 9\n", out)

	_, err = execute(t, "", "config", "unset", "orchestrator.maxRounds")
	require.NoError(t, err)

	_, err = execute(t, "", "config", "get", "orchestrator.maxRounds")
	assert.ErrorContains(t, err, "not found")

	_, err = execute(t, "", "config", "unset", "orchestrator.maxRounds")
	assert.ErrorContains(t, err, "not found")

	out, err = execute(t, "", "config", "path")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "config.yaml")+"\n", out)
}

func TestConfigRejectsBlockedPath(t *testing.T) {
	isolate(t)
	_, err := execute(t, "", "config", "set", "__proto__.x", "1")
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	isolate(t)

	out, err := execute(t, "", "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, ": ok")

	_, err = execute(t, "", "config", "set", "orchestrator.busyPolicy", "sometimes")
	require.NoError(t, err)

	out, err = execute(t, "", "config", "validate")
	assert.ErrorContains(t, err, "1 validation issue(s)")
	assert.Contains(t, out, "orchestrator.busyPolicy")
}

func TestConfigFlagOverridesPath(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "alt.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gateway:\n  port: 4321\n"), 0o600))

	out, err := execute(t, "", "--config", path, "config", "get", "gateway.port")
	require.NoError(t, err)
	assert.Equal(t, "4321\n", out)
}

func TestAgentsList(t *testing.T) {
	isolate(t)

	out, err := execute(t, "", "agents", "list")
	require.NoError(t, err)
	for _, name := range []string{"Admin_User", "SQL_Assistant", "Job_Assistant", "Executor_User", "Reviewer_Assistant"} {
		assert.Contains(t, out, name)
	}
}

func TestAgentsInfo(t *testing.T) {
	isolate(t)

	out, err := execute(t, "", "agents", "info", "sql_specialist")
	require.NoError(t, err)
	assert.Contains(t, out, "Agent: SQL_Assistant (sql_specialist)")
	assert.Contains(t, out, "run_sql_statement")

	out, err = execute(t, "", "agents", "info", "executor_user")
	require.NoError(t, err)
	assert.Contains(t, out, "executes pending calls")

	_, err = execute(t, "", "agents", "info", "nobody")
	assert.ErrorContains(t, err, "agent not found")
}

func TestChatDemo(t *testing.T) {
	isolate(t)

	out, err := execute(t, "", "chat", "--demo", "which connections are available?")
	require.NoError(t, err)
	assert.Contains(t, out, "SQL_Assistant")
	assert.Contains(t, out, "run_sql_statement(")
	assert.Contains(t, out, "Executor_User")
	assert.Contains(t, out, "Reviewer_Assistant")
	assert.Contains(t, out, "terminated after 3 round(s)")
}

func TestChatDemoJSON(t *testing.T) {
	isolate(t)

	out, err := execute(t, "", "chat", "--demo", "--json", "--session", "j1", "which connections are available?")
	require.NoError(t, err)

	var res domain.OrchestrationResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "j1", res.SessionID)
	assert.True(t, res.Terminated)
	assert.Equal(t, domain.StopSentinel, res.Reason)
	assert.Equal(t, 3, res.Rounds)
}

func TestChatReadsPromptsFromStdin(t *testing.T) {
	isolate(t)

	out, err := execute(t, "\n  \nwhich connections are available?\n", "chat", "--demo")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "terminated after"))
}

func TestChatRejectsUnknownMode(t *testing.T) {
	isolate(t)
	_, err := execute(t, "", "chat", "--demo", "--mode", "freeform", "hi")
	assert.ErrorContains(t, err, "unknown mode")
}

func TestChatWithoutProviderFails(t *testing.T) {
	isolate(t)
	t.Setenv("OPENAI_API_KEY", "")
	_, err := execute(t, "", "chat", "hi")
	assert.ErrorContains(t, err, "no LLM provider available")
}

func TestSessionCommandsOverSQLite(t *testing.T) {
	isolate(t)
	t.Setenv("ROUNDTABLE_SESSION_STORE", "sqlite")

	_, err := execute(t, "", "session", "list")
	assert.ErrorContains(t, err, "no session database")

	_, err = execute(t, "", "chat", "--demo", "--session", "s1", "which connections are available?")
	require.NoError(t, err)

	out, err := execute(t, "", "session", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "s1")

	out, err = execute(t, "", "session", "show", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "Reviewer_Assistant")

	out, err = execute(t, "", "session", "search", "connections")
	require.NoError(t, err)
	assert.Contains(t, out, "s1 #")

	out, err = execute(t, "", "session", "clear", "--local", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted stored log for session s1")

	out, err = execute(t, "", "session", "clear", "--local", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "No stored log for session s1")

	out, err = execute(t, "", "session", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No stored sessions.")
}

// fakeGateway serves /health and /clear and points the CLI at it.
func fakeGateway(t *testing.T, token string) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(gateway.HealthResponse{Status: "healthy", Version: "dev", ActiveSessions: 2, Uptime: 30})
	})
	mux.HandleFunc("POST /clear", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req gateway.ClearRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.SessionID == "known" {
			json.NewEncoder(w).Encode(gateway.ClearResponse{Success: true, Message: "Successfully cleared session known"})
			return
		}
		json.NewEncoder(w).Encode(gateway.ClearResponse{Message: "Session " + req.SessionID + " not found"})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	t.Setenv("ROUNDTABLE_GATEWAY_PORT", u.Port())
	t.Setenv("ROUNDTABLE_GATEWAY_TOKEN", token)
}

func TestStatusReportsHealth(t *testing.T) {
	isolate(t)
	fakeGateway(t, "tok")

	out, err := execute(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Health:   healthy version=dev sessions=2 uptime=30s")
	assert.Contains(t, out, "auth=token")
	assert.Contains(t, out, "Provider: openai")
}

func TestSessionClearViaGateway(t *testing.T) {
	isolate(t)
	fakeGateway(t, "tok")

	out, err := execute(t, "", "session", "clear", "known")
	require.NoError(t, err)
	assert.Equal(t, "Successfully cleared session known\n", out)

	out, err = execute(t, "", "session", "clear", "ghost")
	assert.ErrorContains(t, err, "not cleared")
	assert.Equal(t, "Session ghost not found\n", out)
}

func TestGatewayURL(t *testing.T) {
	tests := []struct {
		gw   config.GatewayConfig
		want string
	}{
		{config.GatewayConfig{Port: 1234, Bind: "loopback"}, "http://127.0.0.1:1234"},
		{config.GatewayConfig{Port: 1234, Bind: "lan"}, "http://127.0.0.1:1234"},
		{config.GatewayConfig{Port: 80, Bind: "custom", CustomBindHost: "10.0.0.5"}, "http://10.0.0.5:80"},
		{config.GatewayConfig{Port: 443, TLS: config.GatewayTLS{Enabled: true}}, "https://127.0.0.1:443"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, gatewayURL(tt.gw))
	}
}

func TestGatewayCredential(t *testing.T) {
	assert.Equal(t, "t", gatewayCredential(config.GatewayAuth{Mode: "token", Token: "t", Password: "p"}))
	assert.Equal(t, "p", gatewayCredential(config.GatewayAuth{Mode: "password", Token: "t", Password: "p"}))
	assert.Equal(t, "p", gatewayCredential(config.GatewayAuth{Password: "p"}))
	assert.Empty(t, gatewayCredential(config.GatewayAuth{}))
}

func TestOrchestratorConfig(t *testing.T) {
	c := orchestratorConfig(config.Defaults().Orchestrator)
	assert.Equal(t, 7, c.MaxRounds)
	assert.Equal(t, 5, c.RoundChatMaxRounds)
	assert.Equal(t, 2, c.RetryBudget)
	assert.Equal(t, 2, c.RepromptBudget)
	assert.EqualValues(t, "serialize", c.BusyPolicy)
	assert.Equal(t, "2m0s", c.CallTimeout.String())
}

func TestHookCommands(t *testing.T) {
	cmds := hookCommands(config.HooksConfig{
		ExchangeEnd: []config.HookEntry{{Command: "notify", Timeout: 1500}},
	})
	require.Len(t, cmds["exchange_end"], 1)
	assert.Equal(t, "notify", cmds["exchange_end"][0].Command)
	assert.Equal(t, "1.5s", cmds["exchange_end"][0].Timeout.String())
	assert.NotContains(t, cmds, "gateway_start")
}
