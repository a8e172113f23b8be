// Package webrtc owns, per remote peer, the offer/answer/ICE negotiation
// state machine and the resulting ordered, reliable data channel. It
// translates local calls into negotiation primitives and remote traffic
// into a typed event stream for the application layer.
package webrtc

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	pion "github.com/pion/webrtc/v4"

	"github.com/peertable/peertable/internal/protocol"
)

// DefaultNegotiationTimeout bounds how long a connection may sit in
// negotiating before it is failed. The upstream protocol has no such
// deadline; this is a deliberate hardening deviation.
const DefaultNegotiationTimeout = 30 * time.Second

// eventBuffer sizes the manager's event stream. Delivery never blocks a
// pion callback: on overflow the event is dropped with a warning.
const eventBuffer = 128

// Config carries the manager's tunables.
type Config struct {
	// STUNServers are the ICE server URLs, e.g. "stun:stun.l.google.com:19302".
	STUNServers []string

	// NegotiationTimeout overrides DefaultNegotiationTimeout when positive.
	NegotiationTimeout time.Duration

	// IncludeLoopback admits loopback ICE candidates, required when both
	// peers run on one machine (tests, local play).
	IncludeLoopback bool

	Logger *slog.Logger
}

// Manager manages N independent remote-peer connections for one local
// peer. Map mutations are serialized by the mutex; each connection
// progresses on pion's own goroutines, so negotiating with one peer never
// blocks another.
type Manager struct {
	api    *pion.API
	ice    []pion.ICEServer
	dead   time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]*conn

	events chan Event
}

func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.NegotiationTimeout
	if timeout <= 0 {
		timeout = DefaultNegotiationTimeout
	}

	settings := pion.SettingEngine{}
	if cfg.IncludeLoopback {
		settings.SetIncludeLoopbackCandidate(true)
	}

	var servers []pion.ICEServer
	if len(cfg.STUNServers) > 0 {
		servers = []pion.ICEServer{{URLs: cfg.STUNServers}}
	}

	return &Manager{
		api:    pion.NewAPI(pion.WithSettingEngine(settings)),
		ice:    servers,
		dead:   timeout,
		logger: logger,
		conns:  make(map[string]*conn),
		events: make(chan Event, eventBuffer),
	}
}

// Events is the manager's typed notification stream. Consumers must drain
// it; events that find the buffer full are dropped.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Open allocates connection state for a remote peer. Idempotent: opening
// an id that already has a connection returns it untouched rather than
// resetting it.
func (m *Manager) Open(peerID string) error {
	m.mu.Lock()
	if _, ok := m.conns[peerID]; ok {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	pc, err := m.api.NewPeerConnection(pion.Configuration{ICEServers: m.ice})
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	c := &conn{peerID: peerID, pc: pc, state: StateNew}

	pc.OnICECandidate(func(candidate *pion.ICECandidate) {
		if candidate == nil {
			return
		}
		m.emit(CandidateReady{PeerID: peerID, Candidate: fromPionCandidate(candidate.ToJSON())})
	})

	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		m.handleStateChange(c, state)
	})

	// The answering side receives the channel the offerer created.
	pc.OnDataChannel(func(dc *pion.DataChannel) {
		if dc.Label() != channelLabel {
			m.logger.Warn("ignoring unexpected data channel", "peer", peerID, "label", dc.Label())
			return
		}
		c.setChannel(dc)
		m.wireChannel(c, dc)
	})

	m.mu.Lock()
	// A concurrent Open may have won the race; the first stays.
	if _, ok := m.conns[peerID]; ok {
		m.mu.Unlock()
		pc.Close()
		return nil
	}
	m.conns[peerID] = c
	m.mu.Unlock()

	m.logger.Debug("connection opened", "peer", peerID)
	return nil
}

// CreateOffer produces the local description for a connection and marks
// it negotiating. The offering side also creates the data channel here.
func (m *Manager) CreateOffer(peerID string) (protocol.SessionDescription, error) {
	c, ok := m.lookup(peerID)
	if !ok {
		return protocol.SessionDescription{}, fmt.Errorf("create offer for %s: %w", peerID, ErrConnectionNotFound)
	}

	dc, err := c.pc.CreateDataChannel(channelLabel, orderedReliable())
	if err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("create data channel: %w", err)
	}
	c.setChannel(dc)
	m.wireChannel(c, dc)

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}

	m.beginNegotiation(c)
	return fromPionDescription(c.pc.LocalDescription()), nil
}

// CreateAnswer applies a relayed offer as the remote description, then
// produces and applies the local answer.
func (m *Manager) CreateAnswer(peerID string, offer protocol.SessionDescription) (protocol.SessionDescription, error) {
	c, ok := m.lookup(peerID)
	if !ok {
		return protocol.SessionDescription{}, fmt.Errorf("create answer for %s: %w", peerID, ErrConnectionNotFound)
	}

	if err := c.pc.SetRemoteDescription(toPionDescription(offer)); err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("set remote description: %w", err)
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}

	m.beginNegotiation(c)
	return fromPionDescription(c.pc.LocalDescription()), nil
}

// SetRemoteDescription applies a relayed answer (or renegotiated offer).
func (m *Manager) SetRemoteDescription(peerID string, desc protocol.SessionDescription) error {
	c, ok := m.lookup(peerID)
	if !ok {
		return fmt.Errorf("set remote description for %s: %w", peerID, ErrConnectionNotFound)
	}
	if err := c.pc.SetRemoteDescription(toPionDescription(desc)); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// AddICECandidate applies a relayed candidate.
func (m *Manager) AddICECandidate(peerID string, candidate protocol.ICECandidate) error {
	c, ok := m.lookup(peerID)
	if !ok {
		return fmt.Errorf("add ice candidate for %s: %w", peerID, ErrConnectionNotFound)
	}
	if err := c.pc.AddICECandidate(toPionCandidate(candidate)); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// Send serializes and transmits an envelope on the peer's data channel.
// Silently drops when the channel is not open: no error, no queueing.
func (m *Manager) Send(peerID string, env protocol.Envelope) {
	c, ok := m.lookup(peerID)
	if !ok {
		m.logger.Debug("send to unknown peer dropped", "peer", peerID, "type", env.Type)
		return
	}

	b, err := env.Marshal()
	if err != nil {
		m.logger.Warn("marshal envelope", "peer", peerID, "type", env.Type, "error", err)
		return
	}

	sent, err := c.send(b)
	if !sent {
		m.logger.Debug("send on closed channel dropped", "peer", peerID, "type", env.Type)
		return
	}
	if err != nil {
		m.logger.Warn("data channel send", "peer", peerID, "type", env.Type, "error", err)
	}
}

// Broadcast sends an envelope to every peer with an open channel. One
// peer's channel closing mid-iteration never aborts delivery to the rest.
func (m *Manager) Broadcast(env protocol.Envelope) {
	for _, peerID := range m.Peers() {
		m.Send(peerID, env)
	}
}

// Peers lists the ids of all open connections.
func (m *Manager) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	return ids
}

// IsChannelOpen reports whether the peer's data channel is open now.
func (m *Manager) IsChannelOpen(peerID string) bool {
	c, ok := m.lookup(peerID)
	return ok && c.isChannelOpen()
}

// State returns the connection state for a peer, if one was opened.
func (m *Manager) State(peerID string) (State, bool) {
	c, ok := m.lookup(peerID)
	if !ok {
		return "", false
	}
	return c.currentState(), true
}

// Close tears down one peer's connection and channel. Idempotent.
func (m *Manager) Close(peerID string) error {
	m.mu.Lock()
	c, ok := m.conns[peerID]
	if ok {
		delete(m.conns, peerID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return m.teardown(c)
}

// CloseAll tears down every connection, aggregating per-peer failures.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	conns := make([]*conn, 0, len(m.conns))
	for id, c := range m.conns {
		conns = append(conns, c)
		delete(m.conns, id)
	}
	m.mu.Unlock()

	var result *multierror.Error
	for _, c := range conns {
		if err := m.teardown(c); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s: %w", c.peerID, err))
		}
	}
	return result.ErrorOrNil()
}

func (m *Manager) teardown(c *conn) error {
	if c.transition(StateClosed) {
		m.emit(StateChanged{PeerID: c.peerID, State: StateClosed})
	}
	c.markChannel(false)
	return c.pc.Close()
}

func (m *Manager) lookup(peerID string) (*conn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[peerID]
	return c, ok
}

// beginNegotiation marks the connection negotiating and arms the deadline
// that fails it if the handshake never completes.
func (m *Manager) beginNegotiation(c *conn) {
	if c.transition(StateNegotiating) {
		m.emit(StateChanged{PeerID: c.peerID, State: StateNegotiating})
	}

	c.armTimer(m.dead, func() {
		if c.currentState() != StateNegotiating {
			return
		}
		m.logger.Warn("negotiation deadline passed", "peer", c.peerID, "timeout", m.dead)
		m.fail(c, fmt.Errorf("%w after %s", ErrNegotiationTimeout, m.dead))
	})
}

// fail moves a connection to its terminal failed state. Only this one
// peer's connection dies; the session carries on for everyone else.
func (m *Manager) fail(c *conn, err error) {
	if !c.transition(StateFailed) {
		return
	}
	c.markChannel(false)
	m.emit(StateChanged{PeerID: c.peerID, State: StateFailed})
	m.emit(ConnectionFailed{PeerID: c.peerID, Err: err})
	c.pc.Close()
}

func (m *Manager) handleStateChange(c *conn, state pion.PeerConnectionState) {
	m.logger.Debug("transport state change", "peer", c.peerID, "state", state.String())

	switch state {
	case pion.PeerConnectionStateConnecting:
		if c.transition(StateNegotiating) {
			m.emit(StateChanged{PeerID: c.peerID, State: StateNegotiating})
		}
	case pion.PeerConnectionStateConnected:
		if c.transition(StateConnected) {
			m.emit(StateChanged{PeerID: c.peerID, State: StateConnected})
		}
	case pion.PeerConnectionStateDisconnected:
		// No automatic recovery: once disconnected, stays down.
		if c.transition(StateDisconnected) {
			c.markChannel(false)
			m.emit(StateChanged{PeerID: c.peerID, State: StateDisconnected})
		}
	case pion.PeerConnectionStateFailed:
		m.fail(c, ErrNegotiationFailed)
	case pion.PeerConnectionStateClosed:
		if c.transition(StateClosed) {
			c.markChannel(false)
			m.emit(StateChanged{PeerID: c.peerID, State: StateClosed})
		}
	}
}

// wireChannel attaches the open/message/close handlers to the peer's data
// channel. Malformed envelopes are logged and dropped; they never kill
// the channel.
func (m *Manager) wireChannel(c *conn, dc *pion.DataChannel) {
	dc.OnOpen(func() {
		m.logger.Debug("data channel opened", "peer", c.peerID)
		c.markChannel(true)
		m.emit(ChannelOpened{PeerID: c.peerID})
	})

	dc.OnMessage(func(msg pion.DataChannelMessage) {
		env, err := protocol.DecodeEnvelope(msg.Data)
		if err != nil {
			m.logger.Warn("malformed envelope dropped", "peer", c.peerID, "error", err)
			return
		}
		m.emit(MessageReceived{PeerID: c.peerID, Envelope: env})
	})

	dc.OnClose(func() {
		m.logger.Debug("data channel closed", "peer", c.peerID)
		c.markChannel(false)
	})
}

// emit delivers an event without ever blocking a pion callback.
func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.logger.Warn("event buffer full, dropping", "event", fmt.Sprintf("%T", ev))
	}
}

// orderedReliable is the channel init for turn-based traffic: ordered
// delivery with no retransmit limit.
func orderedReliable() *pion.DataChannelInit {
	ordered := true
	return &pion.DataChannelInit{Ordered: &ordered}
}
