package lobbyserver

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peertable/peertable/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // 64 KB - enough for SDP payloads
)

// Client wraps a single websocket connection to one peer. PeerID is empty
// until the peer sends register-peer; the hub fills it in.
type Client struct {
	Hub *Hub

	Conn *websocket.Conn

	// PeerID is the registered identity. Owned by the hub goroutine.
	PeerID string

	// GameID is the game the peer belongs to, if any. Owned by the hub
	// goroutine.
	GameID string

	// Send is the buffered channel of outbound messages. The hub writes to
	// it; WritePump drains it onto the socket.
	Send chan *protocol.SignalMessage
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// Runs in a per-connection goroutine; all reads happen here so there is at
// most one reader per connection.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("websocket read failed", "addr", c.Conn.RemoteAddr(), "error", err)
			}
			break
		}

		// A frame that does not parse is dropped; only transport errors end
		// the connection.
		var msg protocol.SignalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("malformed signal dropped", "addr", c.Conn.RemoteAddr(), "error", err)
			continue
		}

		c.Hub.Inbound <- &inbound{client: c, msg: &msg}
	}
}

// WritePump pumps messages from the hub to the websocket connection and
// keeps the socket alive with periodic pings.
//
// Runs in a per-connection goroutine; all writes happen here so there is
// at most one writer per connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteJSON(message); err != nil {
				slog.Debug("websocket write failed", "addr", c.Conn.RemoteAddr(), "error", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
