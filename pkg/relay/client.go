package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a remote operator's connection to a relay.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Dial connects to a relay's /ws endpoint and reads its welcome message.
func Dial(ctx context.Context, url string) (*Client, Welcome, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, Welcome{}, fmt.Errorf("dial %s: %w", url, err)
	}

	var w Welcome
	_ = conn.SetReadDeadline(time.Now().Add(writeWait))
	if err := conn.ReadJSON(&w); err != nil {
		_ = conn.Close()
		return nil, Welcome{}, fmt.Errorf("read welcome: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if w.Type != TypeWelcome {
		_ = conn.Close()
		return nil, Welcome{}, fmt.Errorf("expected welcome, got %q", w.Type)
	}
	return &Client{conn: conn}, w, nil
}

// Send writes one command.
func (c *Client) Send(cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(cmd)
}

// Press sends a key_press.
func (c *Client) Press(key string) error {
	return c.Send(Command{Type: TypeKeyPress, Key: key})
}

// Release sends a key_release.
func (c *Client) Release(key string) error {
	return c.Send(Command{Type: TypeKeyRelease, Key: key})
}

// EmergencyStop toggles the emergency stop.
func (c *Client) EmergencyStop() error {
	return c.Send(Command{Type: TypeEmergencyStop})
}

// SetTarget sets one motor's target. An empty arm selects the default arm.
func (c *Client) SetTarget(arm string, motor int, position float64) error {
	return c.Send(Command{Type: TypeSetTarget, Arm: arm, MotorIdx: &motor, Position: &position})
}

// RequestStatus asks for an immediate status_update.
func (c *Client) RequestStatus() error {
	return c.Send(Command{Type: TypeGetStatus})
}

// Next reads the next server message. Keepalive pings are answered while
// reading.
func (c *Client) Next() (Message, error) {
	var m Message
	if err := c.conn.ReadJSON(&m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.conn.Close()
}

// SetReadDeadline bounds the next Next call.
func (c *Client) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}
