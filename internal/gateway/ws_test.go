package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/roundtable/internal/config"
	"github.com/soyeahso/roundtable/internal/domain"
	"github.com/soyeahso/roundtable/internal/session"
	"github.com/soyeahso/roundtable/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(ts string) string {
	return "ws" + strings.TrimPrefix(ts, "http") + "/ws"
}

func dial(t *testing.T, base string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(base), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	return conn
}

func connect(t *testing.T, base, token string) (*websocket.Conn, Frame) {
	t.Helper()
	conn := dial(t, base)

	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))
	require.Equal(t, FrameTypeEvent, challenge.Type)
	require.Equal(t, EventConnectChallenge, challenge.Event)

	req, err := NewRequest("c1", "connect", ConnectParams{
		MinProtocol: 1,
		MaxProtocol: 1,
		Client:      ClientInfo{ID: "test-client", Version: "1.0.0"},
		Auth:        &ConnectAuth{Token: token},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var hello Frame
	require.NoError(t, conn.ReadJSON(&hello))
	return conn, hello
}

func call(t *testing.T, conn *websocket.Conn, id, method string, params any) (Frame, []Frame) {
	t.Helper()
	req, err := NewRequest(id, method, params)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var events []Frame
	for {
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == FrameTypeEvent {
			events = append(events, f)
			continue
		}
		if f.ID == id {
			return f, events
		}
	}
}

func payload[T any](t *testing.T, f Frame) T {
	t.Helper()
	require.NotNil(t, f.OK)
	require.True(t, *f.OK, "error: %+v", f.Error)
	var v T
	require.NoError(t, json.Unmarshal(f.Payload, &v))
	return v
}

func TestHandshake(t *testing.T) {
	_, ts := testServer(t, reviewerProvider{})
	_, hello := connect(t, ts.URL, testToken)

	require.NotNil(t, hello.OK)
	assert.Equal(t, "c1", hello.ID)
	h := payload[HelloOK](t, hello)
	assert.Equal(t, ProtocolVersion, h.Protocol)
	assert.NotEmpty(t, h.Server.ConnID)
	assert.Contains(t, h.Features.Methods, "chat.send")
	assert.Contains(t, h.Features.Events, EventChatRound)
	assert.Equal(t, maxPayload, h.Policy.MaxPayload)
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	srv, ts := testServer(t, reviewerProvider{})
	conn, hello := connect(t, ts.URL, "nope")

	require.NotNil(t, hello.OK)
	assert.False(t, *hello.OK)
	require.NotNil(t, hello.Error)
	assert.Equal(t, "unauthorized", hello.Error.Code)
	assert.Equal(t, "token_mismatch", hello.Error.Message)

	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Eventually(t, func() bool {
		srv.limiter.mu.Lock()
		defer srv.limiter.mu.Unlock()
		return len(srv.limiter.failures) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestHandshakeRequiresConnect(t *testing.T) {
	_, ts := testServer(t, reviewerProvider{})
	conn := dial(t, ts.URL)

	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))

	req, _ := NewRequest("x", "health", nil)
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "protocol_error", resp.Error.Code)
}

func TestHandshakeProtocolMismatch(t *testing.T) {
	_, ts := testServer(t, reviewerProvider{})
	conn := dial(t, ts.URL)

	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))

	req, _ := NewRequest("c1", "connect", ConnectParams{
		MinProtocol: 2,
		MaxProtocol: 3,
		Auth:        &ConnectAuth{Token: testToken},
	})
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "protocol_mismatch", resp.Error.Code)
}

func TestRPCHealthAndUnknownMethod(t *testing.T) {
	_, ts := testServer(t, reviewerProvider{})
	conn, _ := connect(t, ts.URL, testToken)

	resp, _ := call(t, conn, "r1", "health", nil)
	h := payload[HealthResponse](t, resp)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, 1, h.Clients)

	resp, _ = call(t, conn, "r2", "tools.list", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "method_not_found", resp.Error.Code)
}

func TestRPCChatSendStreamsRounds(t *testing.T) {
	_, ts := testServer(t, reviewerProvider{})
	conn, _ := connect(t, ts.URL, testToken)

	resp, events := call(t, conn, "r1", "chat.send", map[string]string{
		"message":   "check the orders table",
		"sessionId": "ws-1",
	})
	res := payload[domain.OrchestrationResult](t, resp)
	assert.False(t, res.Error)
	assert.True(t, res.Terminated)
	assert.Equal(t, "ws-1", res.SessionID)

	require.Len(t, events, 1)
	assert.Equal(t, EventChatRound, events[0].Event)
	assert.Equal(t, int64(1), events[0].Seq)

	var round ChatRound
	require.NoError(t, json.Unmarshal(events[0].Payload, &round))
	assert.Equal(t, "r1", round.RequestID)
	assert.Equal(t, "ws-1", round.SessionID)
	assert.Equal(t, 1, round.Round)
	assert.Equal(t, "Reviewer_Assistant", round.Message.Name)
	assert.Contains(t, round.Message.Content, "TERMINATE")
}

func TestRPCChatSendValidates(t *testing.T) {
	_, ts := testServer(t, reviewerProvider{})
	conn, _ := connect(t, ts.URL, testToken)

	resp, _ := call(t, conn, "r1", "chat.send", map[string]string{"message": ""})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "invalid_params", resp.Error.Code)

	resp, _ = call(t, conn, "r2", "chat.send", map[string]string{"message": "hi", "mode": "debate"})
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "debate")
}

func TestRPCSessionListAndClear(t *testing.T) {
	srv, ts := testServer(t, reviewerProvider{})
	conn, _ := connect(t, ts.URL, testToken)

	_, _ = call(t, conn, "r1", "chat.send", map[string]string{"message": "hi", "sessionId": "a"})

	resp, _ := call(t, conn, "r2", "session.list", nil)
	list := payload[struct {
		Sessions []session.Info `json:"sessions"`
	}](t, resp)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, "a", list.Sessions[0].ID)
	assert.True(t, list.Sessions[0].Terminated)

	resp, events := call(t, conn, "r3", "session.clear", map[string]string{"sessionId": "a"})
	out := payload[ClearResponse](t, resp)
	assert.True(t, out.Success)
	assert.Equal(t, 0, srv.sessions.Count())

	require.Len(t, events, 1)
	assert.Equal(t, EventSessionCleared, events[0].Event)

	resp, _ = call(t, conn, "r4", "session.clear", map[string]string{"sessionId": "a"})
	assert.False(t, payload[ClearResponse](t, resp).Success)

	resp, _ = call(t, conn, "r5", "session.clear", nil)
	require.NotNil(t, resp.Error)
}

func TestRESTClearBroadcasts(t *testing.T) {
	srv, ts := testServer(t, reviewerProvider{})
	conn, _ := connect(t, ts.URL, testToken)
	_, err := srv.sessions.GetOrCreate("s9")
	require.NoError(t, err)

	resp := postJSON(t, ts.URL+"/clear", ClearRequest{SessionID: "s9"}, testToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, EventSessionCleared, f.Event)
	var body map[string]string
	require.NoError(t, json.Unmarshal(f.Payload, &body))
	assert.Equal(t, "s9", body["sessionId"])
}

func TestRPCSessionSearch(t *testing.T) {
	_, ts := testServer(t, reviewerProvider{})
	conn, _ := connect(t, ts.URL, testToken)

	resp, _ := call(t, conn, "r1", "session.search", map[string]string{"query": "orders"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "unavailable", resp.Error.Code)

	db, err := store.Open(":memory:", silentLog())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ls := store.NewLogStore(db)
	ctx := context.Background()
	msg := domain.NewTextMessage(domain.RoleAssistant, "SQL_Assistant", "the orders table lives in sales")
	msg.SequenceID = 1
	require.NoError(t, ls.Append(ctx, "s1", msg))

	_, ts = testServer(t, reviewerProvider{}, WithLogStore(ls))
	conn, _ = connect(t, ts.URL, testToken)

	resp, _ = call(t, conn, "r2", "session.search", map[string]string{"query": "orders"})
	hits := payload[struct {
		Hits []store.SearchHit `json:"hits"`
	}](t, resp)
	require.Len(t, hits.Hits, 1)
	assert.Equal(t, "s1", hits.Hits[0].SessionID)

	resp, _ = call(t, conn, "r3", "session.list", nil)
	list := payload[map[string]json.RawMessage](t, resp)
	assert.Contains(t, string(list["stored"]), `"s1"`)

	resp, _ = call(t, conn, "r4", "session.search", map[string]string{"query": " "})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "invalid_params", resp.Error.Code)
}

func TestRPCConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := map[string]any{
		"orchestrator": map[string]any{"maxRounds": 7},
		"provider":     map[string]any{"apiKey": "sk-secret"},
	}
	_, ts := testServer(t, reviewerProvider{}, WithConfigRaw(raw), WithConfigFile(path))
	conn, _ := connect(t, ts.URL, testToken)

	resp, _ := call(t, conn, "r1", "config.get", map[string]string{"key": "orchestrator.maxRounds"})
	got := payload[map[string]any](t, resp)
	assert.Equal(t, float64(7), got["value"])

	resp, _ = call(t, conn, "r2", "config.get", map[string]string{"key": "provider.apiKey"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "forbidden", resp.Error.Code)

	resp, _ = call(t, conn, "r3", "config.get", map[string]string{"key": "session.store"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "not_found", resp.Error.Code)

	resp, _ = call(t, conn, "r4", "config.set", map[string]any{"key": "session.store", "value": "sqlite"})
	set := payload[map[string]any](t, resp)
	assert.Equal(t, true, set["persisted"])

	saved, err := config.LoadRaw(path)
	require.NoError(t, err)
	v, ok := config.GetValueAtPath(saved, []string{"session", "store"})
	require.True(t, ok)
	assert.Equal(t, "sqlite", v)

	resp, _ = call(t, conn, "r5", "config.set", map[string]any{"key": "gateway.auth.token", "value": "x"})
	require.NotNil(t, resp.Error)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "token")
}

func TestIsAllowedConfigPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"orchestrator", true},
		{"orchestrator.maxRounds", true},
		{"session.idleMinutes", true},
		{"provider.model", true},
		{"provider.fallbacks", true},
		{"tools.sqlRowLimit", true},
		{"gateway.port", true},
		{"gateway.auth", false},
		{"gateway.auth.token", false},
		{"gateway.tls.keyPath", false},
		{"provider.apiKey", false},
		{"provider.openaiKey", false},
		{"tools.dq.credential", false},
		{"orchestratorX", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, isAllowedConfigPath(tt.path))
		})
	}
}
