package gateway

import (
	"encoding/json"

	"github.com/soyeahso/roundtable/internal/domain"
)

// ProtocolVersion is the only WebSocket protocol revision spoken here.
const ProtocolVersion = 1

// Frame types.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// Server-pushed events.
const (
	EventConnectChallenge = "connect.challenge"
	EventChatRound        = "chat.round"
	EventSessionCleared   = "session.cleared"
)

var serverEvents = []string{EventConnectChallenge, EventChatRound, EventSessionCleared}

// Error codes carried in ErrorShape.Code.
const (
	CodeProtocolError    = "protocol_error"
	CodeProtocolMismatch = "protocol_mismatch"
	CodeMethodNotFound   = "method_not_found"
	CodeInvalidParams    = "invalid_params"
	CodeNotFound         = "not_found"
	CodeStoreError       = "store_error"
	CodeSearchError      = "search_error"
	CodeSaveFailed       = "save_failed"
	CodeInternal         = "internal_error"
)

// Frame is the envelope for every WebSocket message. Type selects which of
// the request, response or event fields are set.
type Frame struct {
	Type string `json:"type"`

	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`

	Event string `json:"event,omitempty"`
	Seq   int64  `json:"seq,omitempty"`
}

// ErrorShape is the body of a failed response. Retryable tells the client
// the same request may succeed later.
type ErrorShape struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ConnectParams open a session; the gateway accepts any range that
// includes ProtocolVersion.
type ConnectParams struct {
	MinProtocol int          `json:"minProtocol"`
	MaxProtocol int          `json:"maxProtocol"`
	Client      ClientInfo   `json:"client"`
	Auth        *ConnectAuth `json:"auth,omitempty"`
}

type ClientInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Version     string `json:"version"`
	Platform    string `json:"platform,omitempty"`
}

type ConnectAuth struct {
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

// HelloOK is the payload of a successful connect.
type HelloOK struct {
	Protocol int          `json:"protocol"`
	Server   ServerInfo   `json:"server"`
	Features Features     `json:"features"`
	Policy   ServerPolicy `json:"policy"`
}

type ServerInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	ConnID  string `json:"connId"`
}

// Features lists what the client may call and subscribe to.
type Features struct {
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
}

type ServerPolicy struct {
	MaxPayload     int `json:"maxPayload"`
	TickIntervalMs int `json:"tickIntervalMs"`
}

// ChatRound is the payload of a chat.round event, sent once per completed
// round while a chat.send request is running.
type ChatRound struct {
	RequestID string                `json:"requestId"`
	SessionID string                `json:"sessionId"`
	Round     int                   `json:"round"`
	Message   domain.DisplayMessage `json:"message"`
}

func raw(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// NewRequest builds a client request. Nil params are omitted.
func NewRequest(id, method string, params any) (Frame, error) {
	p, err := raw(params)
	return Frame{Type: FrameTypeRequest, ID: id, Method: method, Params: p}, err
}

// NewResponse builds a successful reply to request id.
func NewResponse(id string, payload any) (Frame, error) {
	p, err := raw(payload)
	ok := true
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Payload: p}, err
}

// NewErrorResponse builds a failed reply to request id.
func NewErrorResponse(id string, e ErrorShape) Frame {
	ok := false
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Error: &e}
}

// NewEvent builds a pushed event with sequence number seq.
func NewEvent(event string, payload any, seq int64) (Frame, error) {
	p, err := raw(payload)
	return Frame{Type: FrameTypeEvent, Event: event, Payload: p, Seq: seq}, err
}
