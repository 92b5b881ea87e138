package gateway

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/roundtable/internal/logging"
)

// writeWait bounds a single frame write to a slow peer.
const writeWait = 10 * time.Second

// Client is one WebSocket connection past the connect handshake. Event
// sequence numbers count from 1 per connection.
type Client struct {
	ConnID      string
	Info        ClientInfo
	Auth        AuthResult
	ConnectedAt time.Time

	conn *websocket.Conn
	seq  atomic.Int64

	writeMu sync.Mutex
	closed  bool
	log     *logging.Logger
}

func NewClient(conn *websocket.Conn, info ClientInfo, auth AuthResult, log *logging.Logger) *Client {
	c := &Client{
		ConnID:      uuid.NewString(),
		Info:        info,
		Auth:        auth,
		ConnectedAt: time.Now(),
		conn:        conn,
	}
	c.log = log.With("conn", c.ConnID)
	return c
}

// Send writes frame, failing with ErrClientClosed after Close.
func (c *Client) Send(frame Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(frame)
}

func (c *Client) SendEvent(event string, payload any) error {
	f, err := NewEvent(event, payload, c.seq.Add(1))
	if err != nil {
		return err
	}
	return c.Send(f)
}

func (c *Client) Respond(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return c.Send(f)
}

func (c *Client) RespondError(reqID string, e ErrorShape) error {
	return c.Send(NewErrorResponse(reqID, e))
}

// ReadFrame blocks for the next frame. Only the connection's read loop
// may call it.
func (c *Client) ReadFrame() (Frame, error) {
	var f Frame
	err := c.conn.ReadJSON(&f)
	return f, err
}

// Close is idempotent.
func (c *Client) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// ClientRegistry holds the live connections of one gateway.
type ClientRegistry struct {
	mu    sync.RWMutex
	conns map[string]*Client
	log   *logging.Logger
}

func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{conns: map[string]*Client{}, log: log}
}

func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	r.conns[c.ConnID] = c
	total := len(r.conns)
	r.mu.Unlock()
	r.log.Info().Str("conn", c.ConnID).Str("client", c.Info.ID).Int("connected", total).Msg("client connected")
}

func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	delete(r.conns, connID)
	r.mu.Unlock()
	r.log.Info().Str("conn", connID).Msg("client disconnected")
}

func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// IDs lists connection IDs in sorted order.
func (r *ClientRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.conns))
}

func (r *ClientRegistry) snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Collect(maps.Values(r.conns))
}

// Broadcast pushes event to every connection. A failed send is logged and
// does not stop delivery to the rest.
func (r *ClientRegistry) Broadcast(event string, payload any) {
	for _, c := range r.snapshot() {
		if err := c.SendEvent(event, payload); err != nil {
			r.log.Warn().Err(err).Str("conn", c.ConnID).Str("event", event).Msg("broadcast failed")
		}
	}
}

// CloseAll disconnects and forgets every connection.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = map[string]*Client{}
	r.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}
