// Package lobbyclient is the CLI's connection to the rendezvous service:
// a websocket with read/write pumps, typed senders for every signaling
// operation, and a handler that fans inbound messages out to channels.
package lobbyclient

import (
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peertable/peertable/internal/dns"
	"github.com/peertable/peertable/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client manages the websocket connection to the rendezvous server.
type Client struct {
	conn      *websocket.Conn
	serverURL string
	incoming  chan *protocol.SignalMessage
	outgoing  chan *protocol.SignalMessage
	done      chan struct{}
	closed    bool
}

func NewClient(serverURL string) *Client {
	return &Client{
		serverURL: serverURL,
		incoming:  make(chan *protocol.SignalMessage, 32),
		outgoing:  make(chan *protocol.SignalMessage, 32),
		done:      make(chan struct{}, 1),
	}
}

// Connect dials the server. Hostname resolution falls back to public DNS
// when the system resolver fails.
func (c *Client) Connect() error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := websocket.DefaultDialer
	dialer.NetDial = func(network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		resolvedIP, err := dns.Lookup(host)
		if err != nil {
			return nil, fmt.Errorf("dns lookup failed: %w", err)
		}
		return net.Dial(network, net.JoinHostPort(resolvedIP, port))
	}

	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.conn = conn
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return nil
}

func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var msg protocol.SignalMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		c.incoming <- &msg
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Send queues a message for the server.
func (c *Client) Send(msg *protocol.SignalMessage) {
	c.outgoing <- msg
}

// Incoming returns the channel of server messages.
func (c *Client) Incoming() <-chan *protocol.SignalMessage {
	return c.incoming
}

// Close shuts the connection down. Idempotent.
func (c *Client) Close() {
	if c.closed {
		return
	}
	c.closed = true

	close(c.done)
}

// Register binds this peer's id on the server; a host also creates its
// game in the same breath.
func (c *Client) Register(peerID, gameID, hostName string, isHost bool) error {
	msg, err := protocol.NewSignal(protocol.SignalRegisterPeer, protocol.RegisterPeer{
		PeerID:   peerID,
		GameID:   gameID,
		IsHost:   isHost,
		HostName: hostName,
	})
	if err != nil {
		return err
	}
	c.Send(msg)
	return nil
}

// Discover asks for the current games listing; the reply arrives on the
// handler's GamesList channel.
func (c *Client) Discover() {
	c.Send(&protocol.SignalMessage{Type: protocol.SignalDiscoverGames})
}

// Join asks to join a game; success arrives as a player-joined roster
// broadcast, failure as join-error.
func (c *Client) Join(gameID, playerName string) error {
	msg, err := protocol.NewSignal(protocol.SignalJoinGame, protocol.JoinGame{
		GameID:     gameID,
		PlayerName: playerName,
	})
	if err != nil {
		return err
	}
	c.Send(msg)
	return nil
}

// SendOffer relays a local offer to the named peer.
func (c *Client) SendOffer(to string, desc protocol.SessionDescription) error {
	return c.sendSignal(protocol.SignalOffer, to, desc)
}

// SendAnswer relays a local answer to the named peer.
func (c *Client) SendAnswer(to string, desc protocol.SessionDescription) error {
	return c.sendSignal(protocol.SignalAnswer, to, desc)
}

// SendCandidate relays a gathered ICE candidate to the named peer.
func (c *Client) SendCandidate(to string, candidate protocol.ICECandidate) error {
	return c.sendSignal(protocol.SignalICECandidate, to, candidate)
}

func (c *Client) sendSignal(t protocol.SignalType, to string, payload any) error {
	msg, err := protocol.NewSignal(t, payload)
	if err != nil {
		return err
	}
	msg.To = to
	c.Send(msg)
	return nil
}
