// Package protocol defines the wire vocabulary shared by the rendezvous
// server, the signaling client, and the peer-to-peer data channels. It is
// pure contract: typed message constants, payload structs, and the
// marshal/unmarshal helpers, no behavior.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MaxPlayers is the capacity bound of a game. It is enforced at join time
// only; membership is never re-checked afterwards.
const MaxPlayers = 4

// SignalType discriminates messages on the websocket signaling channel.
type SignalType string

const (
	// Client → server.
	SignalRegisterPeer  SignalType = "register-peer"
	SignalDiscoverGames SignalType = "discover-games"
	SignalJoinGame      SignalType = "join-game"

	// Client → server → relayed client. The server forwards the payload
	// verbatim and rewrites From to the sender's peer id.
	SignalOffer        SignalType = "offer"
	SignalAnswer       SignalType = "answer"
	SignalICECandidate SignalType = "ice-candidate"

	// Server → client.
	SignalGamesList    SignalType = "games-list"
	SignalPlayerJoined SignalType = "player-joined"
	SignalPlayerLeft   SignalType = "player-left"
	SignalJoinError    SignalType = "join-error"
)

// SignalMessage is the envelope for every signaling exchange. To addresses
// a relay target; From is filled in by the server before forwarding so a
// receiver always knows who is negotiating with it.
type SignalMessage struct {
	Type    SignalType      `json:"type"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RegisterPeer binds a peer id to its socket. A host also names the game it
// is creating; guests register with just their id and join later.
type RegisterPeer struct {
	PeerID   string `json:"peerId"`
	GameID   string `json:"gameId,omitempty"`
	IsHost   bool   `json:"isHost"`
	HostName string `json:"hostName,omitempty"`
}

// JoinGame asks the server to add the sender to an existing game.
type JoinGame struct {
	GameID     string `json:"gameId"`
	PlayerName string `json:"playerName"`
}

// JoinError carries the human-readable reason a join was refused.
type JoinError struct {
	Message string `json:"message"`
}

// Player is one roster entry. Exactly one member of a game has Host set.
type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Host bool   `json:"host"`
}

// RosterUpdate is broadcast as player-joined / player-left. PlayerID names
// the peer that triggered the change; Players is the full roster after it.
type RosterUpdate struct {
	PlayerID string   `json:"playerId"`
	Players  []Player `json:"players"`
}

// GameInfo is one row of a discovery listing.
type GameInfo struct {
	ID          string    `json:"id"`
	HostName    string    `json:"hostName"`
	PlayerCount int       `json:"playerCount"`
	MaxPlayers  int       `json:"maxPlayers"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// GamesList answers discover-games.
type GamesList struct {
	Games []GameInfo `json:"games"`
}

// SessionDescription carries an SDP offer or answer through the relay.
// It mirrors the pion shape so either side can convert without loss.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate carries one trickled candidate through the relay.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// NewSignal wraps a typed payload into a SignalMessage.
func NewSignal(t SignalType, payload any) (*SignalMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return &SignalMessage{Type: t, Payload: raw}, nil
}

// DecodePayload unmarshals the signal payload into out.
func (m *SignalMessage) DecodePayload(out any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// EnvelopeType discriminates messages on a peer-to-peer data channel.
type EnvelopeType string

const (
	// EnvJoin announces a guest on a freshly opened channel.
	EnvJoin EnvelopeType = "join"

	// EnvLeave is a graceful goodbye before closing the channel.
	EnvLeave EnvelopeType = "leave"

	// EnvMove submits a move to the host.
	EnvMove EnvelopeType = "move"

	// EnvGameState is the host's authoritative snapshot broadcast.
	EnvGameState EnvelopeType = "gameState"

	// EnvPing / EnvPong are the data-channel keepalive pair.
	EnvPing EnvelopeType = "ping"
	EnvPong EnvelopeType = "pong"

	// EnvError reports a per-peer failure, e.g. a rejected move.
	EnvError EnvelopeType = "error"
)

// Envelope is the framing for every data-channel message. From is the
// sender's peer id; envelopes are immutable once sent. Ordering is
// guaranteed only within a single channel.
type Envelope struct {
	Type EnvelopeType    `json:"type"`
	From string          `json:"from,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// JoinData announces the sending peer.
type JoinData struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
}

// LeaveData announces a graceful departure.
type LeaveData struct {
	PlayerID string `json:"playerId"`
}

// MoveData wraps one move submission. The move itself is opaque to the
// session layer; only the gameplay rules interpret it.
type MoveData struct {
	Move json.RawMessage `json:"move"`
}

// GameStateData wraps one authoritative snapshot. Guests apply it
// wholesale; they never merge.
type GameStateData struct {
	State json.RawMessage `json:"state"`
}

// PingData / PongData carry the keepalive nonce. A pong echoes the nonce
// of the ping it answers.
type PingData struct {
	Nonce int64 `json:"nonce"`
}

type PongData struct {
	Nonce int64 `json:"nonce"`
}

// ErrorData carries a human-readable failure message.
type ErrorData struct {
	Message string `json:"message"`
}

// NewEnvelope wraps a typed payload into an Envelope from the given peer.
func NewEnvelope(t EnvelopeType, from string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s data: %w", t, err)
	}
	return Envelope{Type: t, From: from, Data: raw}, nil
}

// DecodeEnvelope parses raw bytes off a data channel. Callers switch on
// Type and then DecodeData into the matching struct.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

// DecodeData unmarshals the envelope data into out.
func (e Envelope) DecodeData(out any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty data", e.Type)
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", e.Type, err)
	}
	return nil
}

// Marshal encodes the envelope for transmission.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
