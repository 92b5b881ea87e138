package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/roundtable/internal/version"
)

// handshakeError is a connect attempt the gateway refused. The code and
// message have already been sent to the peer.
type handshakeError struct {
	code   string
	reason string
}

func (e *handshakeError) Error() string { return e.code + ": " + e.reason }

// handleWebSocket upgrades the request, runs the connect handshake and then
// serves RPC frames until the peer disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	remote := r.RemoteAddr
	if !s.limiter.allow(remote) {
		s.log.Warn().Str("remote", remote).Msg("websocket refused after repeated auth failures")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Str("remote", remote).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPayload)

	client, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", remote).Msg("handshake failed")
		s.limiter.recordFailure(remote)
		conn.Close()
		return
	}

	s.clients.Add(client)
	ctx, cancel := context.WithCancel(r.Context())
	var inflight sync.WaitGroup
	defer func() {
		cancel()
		inflight.Wait()
		s.clients.Remove(client.ConnID)
		client.Close()
	}()
	s.serveFrames(ctx, client, &inflight)
}

// reject answers the connect request with an error, closes the socket
// politely and returns the matching handshakeError.
func reject(conn *websocket.Conn, reqID, code, reason string) error {
	conn.WriteJSON(NewErrorResponse(reqID, ErrorShape{Code: code, Message: reason}))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
	return &handshakeError{code: code, reason: reason}
}

// handshake sends connect.challenge, expects a connect request within
// handshakeTimeout and answers it with HelloOK.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	challenge, err := NewEvent(EventConnectChallenge, map[string]any{
		"nonce": uuid.NewString(),
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("send challenge: %w", err)
	}

	var req Frame
	if err := conn.ReadJSON(&req); err != nil {
		return nil, fmt.Errorf("read connect: %w", err)
	}
	if req.Type != FrameTypeRequest || req.Method != "connect" {
		return nil, reject(conn, req.ID, CodeProtocolError, "expected connect request")
	}

	var params ConnectParams
	if len(req.Params) == 0 || json.Unmarshal(req.Params, &params) != nil {
		return nil, reject(conn, req.ID, CodeInvalidParams, "invalid connect params")
	}
	tooOld := params.MaxProtocol != 0 && params.MaxProtocol < ProtocolVersion
	if tooOld || params.MinProtocol > ProtocolVersion {
		return nil, reject(conn, req.ID, CodeProtocolMismatch, fmt.Sprintf("server speaks protocol %d", ProtocolVersion))
	}

	auth := Authorize(s.auth, params.Auth)
	if !auth.OK {
		return nil, reject(conn, req.ID, "unauthorized", auth.Reason)
	}
	conn.SetReadDeadline(time.Time{})

	client := NewClient(conn, params.Client, auth, s.log.Sub("ws"))
	hello, err := NewResponse(req.ID, HelloOK{
		Protocol: ProtocolVersion,
		Server:   ServerInfo{Version: s.version, Commit: version.Commit, ConnID: client.ConnID},
		Features: Features{Methods: s.Methods(), Events: serverEvents},
		Policy:   ServerPolicy{MaxPayload: maxPayload, TickIntervalMs: 30000},
	})
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(hello); err != nil {
		return nil, fmt.Errorf("send hello: %w", err)
	}

	s.log.Info().
		Str("conn", client.ConnID).
		Str("client", params.Client.ID).
		Str("client_version", params.Client.Version).
		Str("auth", auth.Method).
		Msg("client authenticated")
	return client, nil
}

// serveFrames reads until the connection drops. Every request gets its own
// goroutine so a long chat.send never blocks session.clear on the same
// connection.
func (s *Server) serveFrames(ctx context.Context, client *Client, inflight *sync.WaitGroup) {
	for {
		frame, err := client.ReadFrame()
		switch {
		case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
			s.log.Debug().Str("conn", client.ConnID).Msg("client closed connection")
			return
		case err != nil:
			s.log.Warn().Err(err).Str("conn", client.ConnID).Msg("read error")
			return
		case frame.Type != FrameTypeRequest:
			s.log.Debug().Str("type", frame.Type).Msg("ignoring non-request frame")
			continue
		}

		inflight.Add(1)
		go func() {
			defer inflight.Done()
			s.dispatch(ctx, client, frame)
		}()
	}
}

func (s *Server) dispatch(ctx context.Context, client *Client, frame Frame) {
	handler, ok := s.handlers[frame.Method]
	if !ok {
		client.RespondError(frame.ID, ErrorShape{Code: CodeMethodNotFound, Message: "unknown method: " + frame.Method})
		return
	}

	rc := &RequestContext{Ctx: ctx, Client: client, Frame: frame, Server: s}
	defer func() {
		if v := recover(); v != nil {
			s.log.Error().Interface("panic", v).Str("method", frame.Method).Msg("rpc handler panicked")
			rc.RespondError(CodeInternal, "internal error")
		}
	}()
	handler(rc)
}
