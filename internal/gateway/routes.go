package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/soyeahso/roundtable/internal/config"
	"github.com/soyeahso/roundtable/internal/domain"
	"github.com/soyeahso/roundtable/internal/orchestrator"
	"github.com/soyeahso/roundtable/internal/window"
)

const (
	defaultSessionID = "default"
	maxChatBody      = 1 << 20
)

// safeConfigPrefixes lists the config paths that config.get and config.set
// may touch. Credentials are never reachable.
var safeConfigPrefixes = []string{
	"gateway.port",
	"gateway.bind",
	"gateway.customBindHost",
	"gateway.allowedOrigins",
	"provider.name",
	"provider.model",
	"provider.fallbacks",
	"provider.maxTokens",
	"provider.temperature",
	"agents",
	"policy",
	"orchestrator",
	"session",
	"tools.metadataCsv",
	"tools.sqlRowLimit",
	"logging",
}

func isAllowedConfigPath(key string) bool {
	for _, prefix := range safeConfigPrefixes {
		if key == prefix || strings.HasPrefix(key, prefix+".") {
			return true
		}
	}
	return false
}

func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /hello", handleHello)
	mux.HandleFunc("POST /api/v1/chat", s.requireAuth(s.handleChat))
	mux.HandleFunc("POST /clear", s.requireAuth(s.handleClear))
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("/", handleNotFound)
}

func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("chat.send", s.rpcChatSend)
	s.Handle("session.clear", s.rpcSessionClear)
	s.Handle("session.list", s.rpcSessionList)
	s.Handle("session.search", s.rpcSessionSearch)
	s.Handle("config.get", s.rpcConfigGet)
	s.Handle("config.set", s.rpcConfigSet)
}

// HealthResponse is returned by GET /health and the health RPC.
type HealthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	ActiveSessions int    `json:"active_sessions"`
	Uptime         int64  `json:"uptime"`
	Clients        int    `json:"clients,omitempty"`
}

func (s *Server) health() HealthResponse {
	return HealthResponse{
		Status:         "healthy",
		Version:        s.version,
		ActiveSessions: s.sessions.Count(),
		Uptime:         int64(s.uptime().Seconds()),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.health())
}

func handleHello(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Hello, World!"})
}

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	Message   string         `json:"message"`
	SessionID string         `json:"session_id"`
	Metadata  map[string]any `json:"metadata"`
	Mode      string         `json:"mode,omitempty"`
}

// ResponseContent is the "response" member of a ChatResponse.
type ResponseContent struct {
	Content     []domain.DisplayMessage `json:"content"`
	Role        string                  `json:"role"`
	ChatHistory []domain.DisplayMessage `json:"chat_history"`
}

// ChatResponse is returned by POST /api/v1/chat, for failures too.
type ChatResponse struct {
	Response       ResponseContent         `json:"response"`
	SessionID      string                  `json:"session_id"`
	Metadata       map[string]any          `json:"metadata"`
	ChatHistory    []domain.DisplayMessage `json:"chat_history"`
	Participants   []string                `json:"participants"`
	Terminated     bool                    `json:"terminated"`
	Rounds         int                     `json:"rounds"`
	Error          bool                    `json:"error"`
	ErrorMessage   string                  `json:"error_message,omitempty"`
	CleanedMessage bool                    `json:"cleaned_message"`
}

func newChatResponse(req ChatRequest, res domain.OrchestrationResult) ChatResponse {
	msgs := res.Messages
	if msgs == nil {
		msgs = []domain.DisplayMessage{}
	}
	participants := res.Participants
	if participants == nil {
		participants = []string{}
	}
	meta := req.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return ChatResponse{
		Response:       ResponseContent{Content: msgs, Role: "assistant", ChatHistory: msgs},
		SessionID:      req.SessionID,
		Metadata:       meta,
		ChatHistory:    msgs,
		Participants:   participants,
		Terminated:     res.Terminated,
		Rounds:         res.Rounds,
		Error:          res.Error,
		ErrorMessage:   res.ErrorMessage,
		CleanedMessage: res.CleanedPrompt,
	}
}

func badChat(w http.ResponseWriter, req ChatRequest, err error) {
	res := domain.Degraded(req.SessionID, domain.ModeExchange, err)
	writeJSON(w, http.StatusBadRequest, newChatResponse(req, res))
}

// handleChat runs one exchange. Orchestration failures still answer 200
// with error set; only malformed requests get 400.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxChatBody))
	if err == nil {
		err = json.Unmarshal(body, &req)
	}
	if req.SessionID == "" {
		req.SessionID = defaultSessionID
	}
	if err != nil {
		badChat(w, req, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		badChat(w, req, errors.New("message is required"))
		return
	}
	mode, ok := domain.ParseMode(req.Mode)
	if !ok {
		badChat(w, req, fmt.Errorf("unknown mode %q", req.Mode))
		return
	}

	s.log.Info().Str("session", req.SessionID).Str("mode", string(mode)).Msg("chat request")

	ctx, cancel := context.WithTimeout(r.Context(), exchangeTimeout)
	defer cancel()
	res := s.sessions.Submit(ctx, req.SessionID, req.Message, mode)

	writeJSON(w, http.StatusOK, newChatResponse(req, res))
}

// ClearRequest is the body of POST /clear.
type ClearRequest struct {
	SessionID string `json:"session_id"`
}

// ClearResponse reports the outcome of a clear.
type ClearResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) clearSession(id string) ClearResponse {
	if !s.sessions.Clear(id) {
		return ClearResponse{Success: false, Message: fmt.Sprintf("Session %s not found", id)}
	}
	s.clients.Broadcast(EventSessionCleared, map[string]string{"sessionId": id})
	return ClearResponse{Success: true, Message: fmt.Sprintf("Successfully cleared session %s", id)}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req ClearRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxChatBody)).Decode(&req); err != nil || req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, ClearResponse{Message: "session_id is required"})
		return
	}
	writeJSON(w, http.StatusOK, s.clearSession(req.SessionID))
}

// RPC handlers

func (s *Server) rpcHealth(rc *RequestContext) {
	h := s.health()
	h.Clients = s.clients.Count()
	rc.Respond(h)
}

type chatSendParams struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
	Mode      string `json:"mode,omitempty"`
}

// rpcChatSend runs an exchange and pushes a chat.round event per round
// before the final response.
func (s *Server) rpcChatSend(rc *RequestContext) {
	var p chatSendParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if strings.TrimSpace(p.Message) == "" {
		rc.RespondError(CodeInvalidParams, "message is required")
		return
	}
	mode, ok := domain.ParseMode(p.Mode)
	if !ok {
		rc.RespondError(CodeInvalidParams, "unknown mode: "+p.Mode)
		return
	}
	if p.SessionID == "" {
		p.SessionID = defaultSessionID
	}

	ctx, cancel := context.WithTimeout(rc.Ctx, exchangeTimeout)
	defer cancel()

	observe := func(sessionID string, round int, msg domain.Message) {
		rc.Event(EventChatRound, ChatRound{
			RequestID: rc.Frame.ID,
			SessionID: sessionID,
			Round:     round,
			Message:   window.Display(msg, round),
		})
	}
	res := s.sessions.Submit(ctx, p.SessionID, p.Message, mode, orchestrator.WithObserver(observe))
	rc.Respond(res)
}

type sessionParams struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) rpcSessionClear(rc *RequestContext) {
	var p sessionParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if p.SessionID == "" {
		rc.RespondError(CodeInvalidParams, "sessionId is required")
		return
	}
	rc.Respond(s.clearSession(p.SessionID))
}

func (s *Server) rpcSessionList(rc *RequestContext) {
	out := map[string]any{"sessions": s.sessions.List()}
	if s.logs != nil {
		stored, err := s.logs.Sessions(rc.Ctx)
		if err != nil {
			rc.RespondError(CodeStoreError, err.Error())
			return
		}
		out["stored"] = stored
	}
	rc.Respond(out)
}

type searchParams struct {
	Query     string `json:"query"`
	SessionID string `json:"sessionId,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

func (s *Server) rpcSessionSearch(rc *RequestContext) {
	if s.logs == nil {
		rc.RespondError("unavailable", "search needs session.store=sqlite")
		return
	}
	var p searchParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if strings.TrimSpace(p.Query) == "" {
		rc.RespondError(CodeInvalidParams, "query is required")
		return
	}
	hits, err := s.logs.Search(rc.Ctx, p.SessionID, p.Query, p.Limit)
	if err != nil {
		rc.RespondError(CodeSearchError, err.Error())
		return
	}
	rc.Respond(map[string]any{"hits": hits})
}

type configParams struct {
	Key   string `json:"key"`
	Value any    `json:"value,omitempty"`
}

func (s *Server) configPathParam(rc *RequestContext) ([]string, string, any, bool) {
	var p configParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return nil, "", nil, false
	}
	if p.Key == "" {
		rc.RespondError(CodeInvalidParams, "key is required")
		return nil, "", nil, false
	}
	if !isAllowedConfigPath(p.Key) {
		rc.RespondError("forbidden", "access denied for config path: "+p.Key)
		return nil, "", nil, false
	}
	path, err := config.ParseConfigPath(p.Key)
	if err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return nil, "", nil, false
	}
	return path, p.Key, p.Value, true
}

func (s *Server) rpcConfigGet(rc *RequestContext) {
	path, key, _, ok := s.configPathParam(rc)
	if !ok {
		return
	}

	s.mu.RLock()
	val, found := config.GetValueAtPath(s.configRaw, path)
	s.mu.RUnlock()

	if !found {
		rc.RespondError(CodeNotFound, "key not found: "+key)
		return
	}
	rc.Respond(map[string]any{"key": key, "value": val})
}

// rpcConfigSet edits the raw config and, when a config file is known,
// saves it. Running sessions keep the config they were built with.
func (s *Server) rpcConfigSet(rc *RequestContext) {
	path, key, value, ok := s.configPathParam(rc)
	if !ok {
		return
	}

	s.mu.Lock()
	config.SetValueAtPath(s.configRaw, path, value)
	var err error
	if s.configPath != "" {
		err = config.SaveRaw(s.configPath, s.configRaw)
	}
	s.mu.Unlock()

	if err != nil {
		rc.RespondError(CodeSaveFailed, err.Error())
		return
	}
	s.log.Info().Str("key", key).Bool("persisted", s.configPath != "").Msg("config updated")
	rc.Respond(map[string]any{"key": key, "value": value, "persisted": s.configPath != ""})
}
