package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/soyeahso/roundtable/internal/config"
	"github.com/soyeahso/roundtable/internal/domain"
	"github.com/soyeahso/roundtable/internal/logging"
	"github.com/soyeahso/roundtable/internal/orchestrator"
	"github.com/soyeahso/roundtable/internal/policy"
	"github.com/soyeahso/roundtable/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "rt-test-token"

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

// reviewerProvider hands the floor straight to the reviewer, who ends the
// exchange.
type reviewerProvider struct{}

func (reviewerProvider) ProposeNext(context.Context, []domain.Message, domain.Role, []domain.Role) (orchestrator.Proposal, error) {
	return orchestrator.Proposal{
		Next:    domain.RoleReviewer,
		Message: domain.Message{Content: "Nothing to run. TERMINATE"},
	}, nil
}

type failingProvider struct{}

func (failingProvider) ProposeNext(context.Context, []domain.Message, domain.Role, []domain.Role) (orchestrator.Proposal, error) {
	return orchestrator.Proposal{}, errors.New("upstream unavailable")
}

func testRegistry(t *testing.T, p orchestrator.Provider) *session.Registry {
	t.Helper()
	roster, err := domain.NewRoster([]domain.Agent{
		{Name: "Admin_User", Role: domain.RoleCoordinator},
		{Name: "SQL_Assistant", Role: domain.RoleSqlSpecialist},
		{Name: "Job_Assistant", Role: domain.RoleJobSpecialist},
		{Name: "Executor_User", Role: domain.RoleExecutor},
		{Name: "Reviewer_Assistant", Role: domain.RoleReviewer},
	})
	require.NoError(t, err)

	return session.NewRegistry(func(id string) (*orchestrator.Orchestrator, error) {
		return orchestrator.New(id, orchestrator.Deps{
			Roster:   roster,
			Graph:    policy.Default(),
			Provider: p,
		}, orchestrator.DefaultConfig(), silentLog())
	}, silentLog())
}

func testServer(t *testing.T, p orchestrator.Provider, opts ...ServerOption) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Gateway.Auth.Token = testToken

	srv := New(cfg, testRegistry(t, p), silentLog(), opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return srv, ts
}

func postJSON(t *testing.T, url string, body any, token string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req, err := http.NewRequest(http.MethodPost, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	srv, ts := testServer(t, reviewerProvider{})
	_, err := srv.sessions.GetOrCreate("warm")
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	h := decode[HealthResponse](t, resp)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "dev", h.Version)
	assert.Equal(t, 1, h.ActiveSessions)
	assert.GreaterOrEqual(t, h.Uptime, int64(0))
}

func TestHello(t *testing.T) {
	_, ts := testServer(t, reviewerProvider{})

	resp, err := http.Get(ts.URL + "/hello")
	require.NoError(t, err)
	defer resp.Body.Close()

	body := decode[map[string]string](t, resp)
	assert.Equal(t, "Hello, World!", body["message"])
}

func TestNotFound(t *testing.T) {
	_, ts := testServer(t, reviewerProvider{})

	resp, err := http.Get(ts.URL + "/retrieve")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChat(t *testing.T) {
	_, ts := testServer(t, reviewerProvider{})

	resp := postJSON(t, ts.URL+"/api/v1/chat", ChatRequest{
		Message:   "list the connections",
		SessionID: "s1",
		Metadata:  map[string]any{"source": "test"},
	}, testToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[ChatResponse](t, resp)
	assert.False(t, out.Error)
	assert.True(t, out.Terminated)
	assert.Equal(t, 1, out.Rounds)
	assert.Equal(t, "s1", out.SessionID)
	assert.Equal(t, "test", out.Metadata["source"])
	assert.Equal(t, "assistant", out.Response.Role)
	assert.Contains(t, out.Participants, "Reviewer_Assistant")

	require.NotEmpty(t, out.ChatHistory)
	last := out.ChatHistory[len(out.ChatHistory)-1]
	assert.Equal(t, "Reviewer_Assistant", last.Name)
	assert.Contains(t, last.Content, "TERMINATE")
	assert.Equal(t, out.ChatHistory, out.Response.Content)
}

func TestChatDefaultsSession(t *testing.T) {
	srv, ts := testServer(t, reviewerProvider{})

	resp := postJSON(t, ts.URL+"/api/v1/chat", map[string]string{"message": "hi"}, testToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[ChatResponse](t, resp)
	assert.Equal(t, "default", out.SessionID)
	assert.NotNil(t, out.Metadata)
	assert.Equal(t, []string{"default"}, srv.sessions.IDs())
}

func TestChatDegradedIsStillOK(t *testing.T) {
	_, ts := testServer(t, failingProvider{})

	resp := postJSON(t, ts.URL+"/api/v1/chat", ChatRequest{Message: "hi", SessionID: "s1"}, testToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[ChatResponse](t, resp)
	assert.True(t, out.Error)
	assert.Contains(t, out.ErrorMessage, "upstream unavailable")
	assert.Empty(t, out.ChatHistory)
	assert.Empty(t, out.Participants)
}

func TestChatBadRequests(t *testing.T) {
	_, ts := testServer(t, reviewerProvider{})

	tests := []struct {
		name string
		body any
	}{
		{"malformed json", `{"message": `},
		{"empty message", ChatRequest{Message: "   ", SessionID: "s1"}},
		{"unknown mode", ChatRequest{Message: "hi", Mode: "freeform"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/api/v1/chat", tt.body, testToken)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			out := decode[ChatResponse](t, resp)
			assert.True(t, out.Error)
			assert.NotEmpty(t, out.ErrorMessage)
			assert.NotNil(t, out.ChatHistory)
		})
	}
}

func TestChatRequiresToken(t *testing.T) {
	_, ts := testServer(t, reviewerProvider{})

	resp := postJSON(t, ts.URL+"/api/v1/chat", ChatRequest{Message: "hi"}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Bearer")

	resp = postJSON(t, ts.URL+"/api/v1/chat", ChatRequest{Message: "hi"}, "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestOpenGatewaySkipsAuth(t *testing.T) {
	cfg := config.Defaults()
	srv := New(cfg, testRegistry(t, reviewerProvider{}), silentLog())
	t.Cleanup(srv.Close)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp := postJSON(t, ts.URL+"/api/v1/chat", ChatRequest{Message: "hi"}, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClear(t *testing.T) {
	srv, ts := testServer(t, reviewerProvider{})
	_, err := srv.sessions.GetOrCreate("s1")
	require.NoError(t, err)

	resp := postJSON(t, ts.URL+"/clear", ClearRequest{SessionID: "s1"}, testToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[ClearResponse](t, resp)
	assert.True(t, out.Success)
	assert.Equal(t, "Successfully cleared session s1", out.Message)
	assert.Equal(t, 0, srv.sessions.Count())

	resp = postJSON(t, ts.URL+"/clear", ClearRequest{SessionID: "s1"}, testToken)
	out = decode[ClearResponse](t, resp)
	assert.False(t, out.Success)
	assert.Equal(t, "Session s1 not found", out.Message)

	resp = postJSON(t, ts.URL+"/clear", `{}`, testToken)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResolveBindAddr(t *testing.T) {
	tests := []struct {
		cfg  config.GatewayConfig
		want string
	}{
		{config.GatewayConfig{Port: 1234, Bind: "loopback"}, "127.0.0.1:1234"},
		{config.GatewayConfig{Port: 1234}, "127.0.0.1:1234"},
		{config.GatewayConfig{Port: 8080, Bind: "lan"}, "0.0.0.0:8080"},
		{config.GatewayConfig{Port: 8080, Bind: "custom", CustomBindHost: "10.0.0.5"}, "10.0.0.5:8080"},
		{config.GatewayConfig{Port: 8080, Bind: "custom"}, "0.0.0.0:8080"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, resolveBindAddr(tt.cfg))
	}
}

func TestStartAndShutdown(t *testing.T) {
	cfg := config.Defaults()
	cfg.Gateway.Port = 0
	srv := New(cfg, testRegistry(t, reviewerProvider{}), silentLog())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	<-srv.Ready()
	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	assert.NoError(t, <-done)
}
