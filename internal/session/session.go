// Package session is the host-authoritative application layer on top of
// the connection manager: it conducts the per-peer negotiation
// choreography, accepts move submissions, and keeps every guest's game
// state equal to the host's latest broadcast.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/peertable/peertable/internal/protocol"
	"github.com/peertable/peertable/internal/webrtc"
)

// MinPlayers gates start-game: a match needs at least two members.
const MinPlayers = 2

// pingInterval is the data-channel keepalive period.
const pingInterval = 10 * time.Second

var (
	ErrNotHost       = errors.New("only the host can start the game")
	ErrNotEnough     = errors.New("not enough players to start")
	ErrAlreadyActive = errors.New("game already started")
)

// Rules owns turn ownership and move legality; the session owns
// transport and authority. The split keeps gameplay pluggable.
type Rules interface {
	// Init produces the opening snapshot for the given roster.
	Init(players []protocol.Player) (json.RawMessage, error)

	// Apply validates and applies one move, returning the next snapshot.
	Apply(state json.RawMessage, playerID string, move json.RawMessage) (json.RawMessage, error)
}

// Compile-time interface check.
var _ Transport = (*webrtc.Manager)(nil)

// Transport is the connection-manager surface the session drives.
// *webrtc.Manager satisfies it; tests substitute a fake.
type Transport interface {
	Open(peerID string) error
	CreateOffer(peerID string) (protocol.SessionDescription, error)
	CreateAnswer(peerID string, offer protocol.SessionDescription) (protocol.SessionDescription, error)
	SetRemoteDescription(peerID string, desc protocol.SessionDescription) error
	AddICECandidate(peerID string, candidate protocol.ICECandidate) error
	Send(peerID string, env protocol.Envelope)
	Broadcast(env protocol.Envelope)
	IsChannelOpen(peerID string) bool
	Close(peerID string) error
	CloseAll() error
	Events() <-chan webrtc.Event
}

// Relay sends negotiation payloads outward through the rendezvous
// service. The lobby client satisfies it.
type Relay interface {
	SendOffer(to string, desc protocol.SessionDescription) error
	SendAnswer(to string, desc protocol.SessionDescription) error
	SendCandidate(to string, candidate protocol.ICECandidate) error
}

type command interface{ isCommand() }

type cmdOffer struct {
	from string
	desc protocol.SessionDescription
}

type cmdAnswer struct {
	from string
	desc protocol.SessionDescription
}

type cmdCandidate struct {
	from      string
	candidate protocol.ICECandidate
}

type cmdRoster struct {
	joined   bool
	playerID string
	players  []protocol.Player
}

type cmdMove struct {
	move json.RawMessage
}

type cmdStart struct {
	reply chan error
}

func (cmdOffer) isCommand()     {}
func (cmdAnswer) isCommand()    {}
func (cmdCandidate) isCommand() {}
func (cmdRoster) isCommand()    {}
func (cmdMove) isCommand()      {}
func (cmdStart) isCommand()     {}

type pingRecord struct {
	peerID string
	sentAt time.Time
}

// Session is a single-goroutine actor: all state is owned by the Run
// loop, public methods post commands into its inbox.
type Session struct {
	self      protocol.Player
	gameID    string
	rules     Rules
	transport Transport
	relay     Relay
	logger    *slog.Logger

	inbox   chan command
	updates chan Update
	done    chan struct{}

	// Loop-owned state.
	roster  []protocol.Player
	hostID  string
	state   json.RawMessage
	started bool
	nonce   int64
	pings   map[int64]pingRecord
}

func New(self protocol.Player, gameID string, rules Rules, transport Transport, relay Relay, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		self:      self,
		gameID:    gameID,
		rules:     rules,
		transport: transport,
		relay:     relay,
		logger:    logger,
		inbox:     make(chan command, 64),
		updates:   make(chan Update, 64),
		done:      make(chan struct{}),
		pings:     make(map[int64]pingRecord),
	}
	if self.Host {
		s.hostID = self.ID
		s.roster = []protocol.Player{self}
	}
	return s
}

// Updates is the session's notification stream.
func (s *Session) Updates() <-chan Update {
	return s.updates
}

// HandleOffer feeds a relayed offer into the session.
func (s *Session) HandleOffer(from string, desc protocol.SessionDescription) {
	s.post(cmdOffer{from: from, desc: desc})
}

// HandleAnswer feeds a relayed answer into the session.
func (s *Session) HandleAnswer(from string, desc protocol.SessionDescription) {
	s.post(cmdAnswer{from: from, desc: desc})
}

// HandleCandidate feeds a relayed ICE candidate into the session.
func (s *Session) HandleCandidate(from string, candidate protocol.ICECandidate) {
	s.post(cmdCandidate{from: from, candidate: candidate})
}

// HandleRoster feeds a player-joined or player-left broadcast into the
// session.
func (s *Session) HandleRoster(joined bool, playerID string, players []protocol.Player) {
	s.post(cmdRoster{joined: joined, playerID: playerID, players: players})
}

// SubmitMove submits a move. A guest's move is only true once the host
// echoes a resulting snapshot; rejections surface as MoveRejected.
func (s *Session) SubmitMove(move json.RawMessage) {
	s.post(cmdMove{move: move})
}

// Start begins the match. Host-only, minimum two members.
func (s *Session) Start() error {
	reply := make(chan error, 1)
	s.post(cmdStart{reply: reply})
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return errors.New("session closed")
	}
}

func (s *Session) post(c command) {
	select {
	case s.inbox <- c:
	case <-s.done:
	}
}

// Run drives the session until ctx is cancelled. On exit it announces a
// graceful leave and tears down every connection.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()

		case c := <-s.inbox:
			s.handleCommand(c)

		case ev := <-s.transport.Events():
			s.handleTransport(ev)

		case <-ticker.C:
			s.sendPings()
		}
	}
}

func (s *Session) shutdown() {
	if env, err := protocol.NewEnvelope(protocol.EnvLeave, s.self.ID, protocol.LeaveData{PlayerID: s.self.ID}); err == nil {
		s.transport.Broadcast(env)
	}
	if err := s.transport.CloseAll(); err != nil {
		s.logger.Warn("connection teardown", "error", err)
	}
	close(s.updates)
}

func (s *Session) handleCommand(c command) {
	switch cmd := c.(type) {
	case cmdRoster:
		s.applyRoster(cmd)

	case cmdOffer:
		// Guests answer the host's relayed offer.
		if err := s.transport.Open(cmd.from); err != nil {
			s.logger.Warn("open connection", "peer", cmd.from, "error", err)
			return
		}
		answer, err := s.transport.CreateAnswer(cmd.from, cmd.desc)
		if err != nil {
			s.logger.Warn("create answer", "peer", cmd.from, "error", err)
			return
		}
		if err := s.relay.SendAnswer(cmd.from, answer); err != nil {
			s.logger.Warn("relay answer", "peer", cmd.from, "error", err)
		}

	case cmdAnswer:
		if err := s.transport.SetRemoteDescription(cmd.from, cmd.desc); err != nil {
			s.logger.Warn("apply answer", "peer", cmd.from, "error", err)
		}

	case cmdCandidate:
		if err := s.transport.AddICECandidate(cmd.from, cmd.candidate); err != nil {
			s.logger.Warn("apply candidate", "peer", cmd.from, "error", err)
		}

	case cmdMove:
		s.submitMove(cmd.move)

	case cmdStart:
		cmd.reply <- s.start()
	}
}

// applyRoster records the new membership and, on the host, opens and
// offers a connection to a freshly joined guest.
func (s *Session) applyRoster(cmd cmdRoster) {
	s.roster = cmd.players
	if len(s.roster) > 0 {
		// The first member is always the host.
		s.hostID = s.roster[0].ID
	}
	s.emit(RosterChanged{Players: cmd.players})

	if !cmd.joined || !s.self.Host || cmd.playerID == s.self.ID {
		return
	}

	if err := s.transport.Open(cmd.playerID); err != nil {
		s.logger.Warn("open connection", "peer", cmd.playerID, "error", err)
		return
	}
	offer, err := s.transport.CreateOffer(cmd.playerID)
	if err != nil {
		s.logger.Warn("create offer", "peer", cmd.playerID, "error", err)
		return
	}
	if err := s.relay.SendOffer(cmd.playerID, offer); err != nil {
		s.logger.Warn("relay offer", "peer", cmd.playerID, "error", err)
	}
}

func (s *Session) handleTransport(ev webrtc.Event) {
	switch e := ev.(type) {
	case webrtc.CandidateReady:
		if err := s.relay.SendCandidate(e.PeerID, e.Candidate); err != nil {
			s.logger.Warn("relay candidate", "peer", e.PeerID, "error", err)
		}

	case webrtc.ChannelOpened:
		s.emit(PeerConnected{PeerID: e.PeerID})
		if s.self.Host {
			// Late joiners catch up with the current snapshot.
			if s.started && s.state != nil {
				s.sendState(e.PeerID)
			}
		} else {
			if env, err := protocol.NewEnvelope(protocol.EnvJoin, s.self.ID, protocol.JoinData{PlayerID: s.self.ID, Name: s.self.Name}); err == nil {
				s.transport.Send(e.PeerID, env)
			}
		}

	case webrtc.MessageReceived:
		s.handleEnvelope(e.PeerID, e.Envelope)

	case webrtc.StateChanged:
		if e.State == webrtc.StateDisconnected {
			s.peerDown(e.PeerID)
		}

	case webrtc.ConnectionFailed:
		s.logger.Warn("connection failed", "peer", e.PeerID, "error", e.Err)
		s.peerDown(e.PeerID)
	}
}

func (s *Session) peerDown(peerID string) {
	// Forget outstanding keepalives; a dead peer never answers them.
	for nonce, rec := range s.pings {
		if rec.peerID == peerID {
			delete(s.pings, nonce)
		}
	}

	s.emit(PeerDown{PeerID: peerID})
	if !s.self.Host && peerID == s.hostID {
		s.emit(HostGone{})
	}
}

func (s *Session) handleEnvelope(peerID string, env protocol.Envelope) {
	switch env.Type {
	case protocol.EnvJoin:
		var join protocol.JoinData
		if err := env.DecodeData(&join); err != nil {
			s.logger.Warn("malformed join", "peer", peerID, "error", err)
			return
		}
		s.logger.Info("peer announced", "peer", peerID, "name", join.Name)

	case protocol.EnvLeave:
		if err := s.transport.Close(peerID); err != nil {
			s.logger.Warn("close connection", "peer", peerID, "error", err)
		}
		s.peerDown(peerID)

	case protocol.EnvMove:
		if !s.self.Host {
			s.logger.Warn("move received by guest, dropping", "peer", peerID)
			return
		}
		var move protocol.MoveData
		if err := env.DecodeData(&move); err != nil {
			s.logger.Warn("malformed move", "peer", peerID, "error", err)
			return
		}
		s.applyMove(peerID, move.Move)

	case protocol.EnvGameState:
		if s.self.Host {
			s.logger.Warn("snapshot received by host, dropping", "peer", peerID)
			return
		}
		if peerID != s.hostID {
			// Only the host authors snapshots.
			s.logger.Warn("snapshot from non-host, dropping", "peer", peerID)
			return
		}
		var snap protocol.GameStateData
		if err := env.DecodeData(&snap); err != nil {
			s.logger.Warn("malformed snapshot", "peer", peerID, "error", err)
			return
		}
		// Wholesale overwrite: guests never merge.
		s.state = snap.State
		s.started = true
		s.emit(StateApplied{State: snap.State})

	case protocol.EnvPing:
		var ping protocol.PingData
		if err := env.DecodeData(&ping); err != nil {
			return
		}
		if pong, err := protocol.NewEnvelope(protocol.EnvPong, s.self.ID, protocol.PongData{Nonce: ping.Nonce}); err == nil {
			s.transport.Send(peerID, pong)
		}

	case protocol.EnvPong:
		var pong protocol.PongData
		if err := env.DecodeData(&pong); err != nil {
			return
		}
		if rec, ok := s.pings[pong.Nonce]; ok && rec.peerID == peerID {
			delete(s.pings, pong.Nonce)
			s.emit(PeerRTT{PeerID: peerID, RTT: time.Since(rec.sentAt)})
		}

	case protocol.EnvError:
		var data protocol.ErrorData
		if err := env.DecodeData(&data); err != nil {
			return
		}
		s.emit(MoveRejected{Message: data.Message})

	default:
		s.logger.Warn("unknown envelope type dropped", "peer", peerID, "type", env.Type)
	}
}

// submitMove handles the local player's own move: the host applies it
// directly, a guest ships it to the host.
func (s *Session) submitMove(move json.RawMessage) {
	if s.self.Host {
		s.applyMove(s.self.ID, move)
		return
	}
	env, err := protocol.NewEnvelope(protocol.EnvMove, s.self.ID, protocol.MoveData{Move: move})
	if err != nil {
		s.logger.Warn("encode move", "error", err)
		return
	}
	s.transport.Send(s.hostID, env)
}

// applyMove runs on the host only, strictly in receipt order. A legal
// move yields a fresh snapshot broadcast to every connected guest; an
// illegal one earns the offender an error envelope and nothing else.
func (s *Session) applyMove(playerID string, move json.RawMessage) {
	if !s.started {
		s.rejectMove(playerID, "game has not started")
		return
	}

	next, err := s.rules.Apply(s.state, playerID, move)
	if err != nil {
		s.rejectMove(playerID, err.Error())
		return
	}

	s.state = next
	s.emit(StateApplied{State: next})
	s.broadcastState()
}

func (s *Session) rejectMove(playerID, reason string) {
	s.logger.Info("move rejected", "player", playerID, "reason", reason)
	if playerID == s.self.ID {
		s.emit(MoveRejected{Message: reason})
		return
	}
	if env, err := protocol.NewEnvelope(protocol.EnvError, s.self.ID, protocol.ErrorData{Message: reason}); err == nil {
		s.transport.Send(playerID, env)
	}
}

func (s *Session) start() error {
	if !s.self.Host {
		return ErrNotHost
	}
	if s.started {
		return ErrAlreadyActive
	}
	if len(s.roster) < MinPlayers {
		return fmt.Errorf("%w: have %d, need %d", ErrNotEnough, len(s.roster), MinPlayers)
	}

	state, err := s.rules.Init(s.roster)
	if err != nil {
		return fmt.Errorf("initialize game: %w", err)
	}

	s.state = state
	s.started = true
	s.emit(StateApplied{State: state})
	s.broadcastState()
	return nil
}

func (s *Session) broadcastState() {
	env, err := protocol.NewEnvelope(protocol.EnvGameState, s.self.ID, protocol.GameStateData{State: s.state})
	if err != nil {
		s.logger.Error("encode snapshot", "error", err)
		return
	}
	s.transport.Broadcast(env)
}

func (s *Session) sendState(peerID string) {
	env, err := protocol.NewEnvelope(protocol.EnvGameState, s.self.ID, protocol.GameStateData{State: s.state})
	if err != nil {
		s.logger.Error("encode snapshot", "error", err)
		return
	}
	s.transport.Send(peerID, env)
}

func (s *Session) sendPings() {
	for _, peerID := range peersOf(s.roster, s.self.ID) {
		if !s.transport.IsChannelOpen(peerID) {
			continue
		}
		s.nonce++
		s.pings[s.nonce] = pingRecord{peerID: peerID, sentAt: time.Now()}
		if env, err := protocol.NewEnvelope(protocol.EnvPing, s.self.ID, protocol.PingData{Nonce: s.nonce}); err == nil {
			s.transport.Send(peerID, env)
		}
	}
}

// emit delivers an update without blocking the loop; a consumer that has
// fallen 64 updates behind loses the oldest ones.
func (s *Session) emit(u Update) {
	select {
	case s.updates <- u:
	default:
		s.logger.Warn("update buffer full, dropping", "update", fmt.Sprintf("%T", u))
	}
}

func peersOf(roster []protocol.Player, selfID string) []string {
	out := make([]string, 0, len(roster))
	for _, p := range roster {
		if p.ID != selfID {
			out = append(out, p.ID)
		}
	}
	return out
}
