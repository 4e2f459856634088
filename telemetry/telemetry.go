// Package telemetry carries monitoring events to the portal over a
// persistent WebSocket connection. Delivery is fire-and-forget; the engine
// never blocks an attempt on the channel.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// writeWait bounds how long a single emit may block on the socket.
const writeWait = 10 * time.Second

// envelope wraps every published event with its event name.
type envelope struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

// Publisher publishes typed events over one WebSocket connection. Safe for
// concurrent use.
type Publisher struct {
	conn *websocket.Conn
	mu   sync.Mutex
	log  zerolog.Logger
}

// Dial connects to the portal's real-time endpoint. The bearer token, when
// non-empty, is sent as a query parameter because WebSocket upgrades cannot
// carry custom headers from all clients.
func Dial(ctx context.Context, url, token string, log zerolog.Logger) (*Publisher, error) {
	if token != "" {
		url = url + "?token=" + token
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial telemetry channel: %w", err)
	}

	log.Info().Str("url", url).Msg("Telemetry channel connected")

	return NewPublisher(conn, log), nil
}

// NewPublisher wraps an established connection.
func NewPublisher(conn *websocket.Conn, log zerolog.Logger) *Publisher {
	return &Publisher{
		conn: conn,
		log:  log.With().Str("component", "telemetry").Logger(),
	}
}

// Emit publishes one event envelope with a write deadline.
func (p *Publisher) Emit(_ context.Context, event string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := p.conn.WriteJSON(envelope{Event: event, Payload: payload}); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// Close sends a close frame and tears down the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = p.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return p.conn.Close()
}

// Nop is a Publisher that drops every event, for attempts running without
// a reachable channel.
type Nop struct{}

// Emit discards the event.
func (Nop) Emit(context.Context, string, interface{}) error { return nil }
