// Package lobbyserver implements the signaling rendezvous service: peer
// registration, game discovery, join/leave bookkeeping, and best-effort
// relay of WebRTC negotiation payloads between named peers.
package lobbyserver

import (
	"log/slog"

	"github.com/peertable/peertable/internal/protocol"
)

// inbound pairs a parsed signaling message with the socket it arrived on.
type inbound struct {
	client *Client
	msg    *protocol.SignalMessage
}

// Hub is the central brain of the rendezvous service. A single goroutine
// (Run) consumes all socket events, so peer bindings and roster mutations
// are atomic with respect to each other without locking; the registry's
// own mutex exists only for the REST reader.
type Hub struct {
	registry *Registry
	logger   *slog.Logger

	// peers maps registered peer ids to their current socket. A duplicate
	// registration rebinds the id; last registration wins.
	peers map[string]*Client

	Register   chan *Client
	Unregister chan *Client
	Inbound    chan *inbound
}

func NewHub(registry *Registry, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		registry:   registry,
		logger:     logger,
		peers:      make(map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Inbound:    make(chan *inbound, 64),
	}
}

// Registry exposes the session registry for the REST discovery endpoint.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Run starts the hub's main processing loop. Each inbound event runs to
// completion before the next is processed.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			// The socket is up but anonymous until register-peer arrives.
			h.logger.Debug("socket connected", "addr", client.Conn.RemoteAddr())

		case client := <-h.Unregister:
			h.disconnect(client)

		case in := <-h.Inbound:
			h.dispatch(in.client, in.msg)
		}
	}
}

func (h *Hub) dispatch(c *Client, msg *protocol.SignalMessage) {
	switch msg.Type {
	case protocol.SignalRegisterPeer:
		h.handleRegister(c, msg)

	case protocol.SignalDiscoverGames:
		h.handleDiscover(c)

	case protocol.SignalOffer, protocol.SignalAnswer, protocol.SignalICECandidate:
		h.relay(c, msg)

	case protocol.SignalJoinGame:
		h.handleJoin(c, msg)

	default:
		h.logger.Warn("unknown signal type", "type", msg.Type, "addr", c.Conn.RemoteAddr())
	}
}

// handleRegister binds a peer id to this socket and, for a host naming a
// game, creates the game with the host as sole member. An existing game
// under the same id is silently replaced.
func (h *Hub) handleRegister(c *Client, msg *protocol.SignalMessage) {
	var reg protocol.RegisterPeer
	if err := msg.DecodePayload(&reg); err != nil {
		h.logger.Warn("malformed register-peer", "addr", c.Conn.RemoteAddr(), "error", err)
		return
	}
	if reg.PeerID == "" {
		h.logger.Warn("register-peer without peer id", "addr", c.Conn.RemoteAddr())
		return
	}

	c.PeerID = reg.PeerID
	h.peers[reg.PeerID] = c
	h.logger.Info("peer registered", "peer", reg.PeerID, "host", reg.IsHost)

	if reg.IsHost && reg.GameID != "" {
		h.registry.Create(reg.GameID, reg.PeerID, reg.HostName)
		c.GameID = reg.GameID
		h.logger.Info("game created", "game", reg.GameID, "host", reg.PeerID)
	}
}

func (h *Hub) handleDiscover(c *Client) {
	reply, err := protocol.NewSignal(protocol.SignalGamesList, protocol.GamesList{Games: h.registry.List()})
	if err != nil {
		h.logger.Error("encode games-list", "error", err)
		return
	}
	h.send(c, reply)
}

// relay forwards a negotiation payload verbatim to the target peer's
// socket, re-tagged with the sender's id. At-most-once and best-effort: an
// unregistered target is a silent no-op.
func (h *Hub) relay(c *Client, msg *protocol.SignalMessage) {
	if c.PeerID == "" {
		h.logger.Warn("relay from unregistered socket", "addr", c.Conn.RemoteAddr(), "type", msg.Type)
		return
	}

	target, ok := h.peers[msg.To]
	if !ok {
		h.logger.Debug("relay target not registered", "type", msg.Type, "from", c.PeerID, "to", msg.To)
		return
	}

	h.send(target, &protocol.SignalMessage{
		Type:    msg.Type,
		From:    c.PeerID,
		To:      msg.To,
		Payload: msg.Payload,
	})
}

func (h *Hub) handleJoin(c *Client, msg *protocol.SignalMessage) {
	if c.PeerID == "" {
		h.logger.Warn("join-game from unregistered socket", "addr", c.Conn.RemoteAddr())
		return
	}

	var join protocol.JoinGame
	if err := msg.DecodePayload(&join); err != nil {
		h.logger.Warn("malformed join-game", "peer", c.PeerID, "error", err)
		return
	}

	// A peer already sitting in another game leaves it first.
	if c.GameID != "" && c.GameID != join.GameID {
		h.leaveGame(c)
	}

	roster, already, err := h.registry.Join(join.GameID, c.PeerID, join.PlayerName)
	if err != nil {
		h.logger.Info("join refused", "game", join.GameID, "peer", c.PeerID, "reason", err)
		h.sendJoinError(c, err.Error())
		return
	}

	c.GameID = join.GameID

	// A repeated join from a member changes nothing; rebroadcasting it
	// would make the host renegotiate an already-connected peer.
	if already {
		h.logger.Debug("join repeated by member", "game", join.GameID, "peer", c.PeerID)
		return
	}

	h.logger.Info("peer joined game", "game", join.GameID, "peer", c.PeerID, "players", len(roster))
	h.broadcastRoster(protocol.SignalPlayerJoined, c.PeerID, roster)
}

// disconnect tears down a socket's registration and game membership. The
// peers map check keeps a stale socket (one whose id was re-registered on
// a newer connection) from unbinding the live one.
func (h *Hub) disconnect(c *Client) {
	defer close(c.Send)

	h.logger.Debug("socket disconnected", "addr", c.Conn.RemoteAddr(), "peer", c.PeerID)

	if c.PeerID == "" || h.peers[c.PeerID] != c {
		return
	}
	delete(h.peers, c.PeerID)
	h.leaveGame(c)
}

// leaveGame removes the peer from its game. A departing host destroys the
// game with no further notification; remaining members learn through
// their direct peer connections. A departing guest triggers a player-left
// roster broadcast to everyone still in the game.
func (h *Hub) leaveGame(c *Client) {
	gameID, roster, wasHost, ok := h.registry.Leave(c.PeerID)
	if !ok {
		c.GameID = ""
		return
	}

	if wasHost {
		h.logger.Info("game removed", "game", gameID, "host", c.PeerID)
	} else {
		h.logger.Info("peer left game", "game", gameID, "peer", c.PeerID)
		h.broadcastRoster(protocol.SignalPlayerLeft, c.PeerID, roster)
	}
	c.GameID = ""
}

// broadcastRoster sends a roster update to every current member that has
// a registered socket.
func (h *Hub) broadcastRoster(t protocol.SignalType, playerID string, roster []protocol.Player) {
	msg, err := protocol.NewSignal(t, protocol.RosterUpdate{PlayerID: playerID, Players: roster})
	if err != nil {
		h.logger.Error("encode roster update", "error", err)
		return
	}
	for _, member := range roster {
		if client, ok := h.peers[member.ID]; ok {
			h.send(client, msg)
		}
	}
}

func (h *Hub) sendJoinError(c *Client, message string) {
	msg, err := protocol.NewSignal(protocol.SignalJoinError, protocol.JoinError{Message: message})
	if err != nil {
		h.logger.Error("encode join-error", "error", err)
		return
	}
	h.send(c, msg)
}

// send queues a message for a client without blocking the hub loop. A
// client whose send buffer is full has the message dropped.
func (h *Hub) send(c *Client, msg *protocol.SignalMessage) {
	select {
	case c.Send <- msg:
	default:
		h.logger.Warn("client send buffer full, dropping", "peer", c.PeerID, "type", msg.Type)
	}
}
