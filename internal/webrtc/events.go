package webrtc

import "github.com/peertable/peertable/internal/protocol"

// State is the lifecycle of one remote-peer connection:
// new → negotiating → connected → {disconnected | failed | closed}.
// failed is terminal; closed is reached only via explicit Close; there is
// no transition out of disconnected back to connected.
type State string

const (
	StateNew          State = "new"
	StateNegotiating  State = "negotiating"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
	StateClosed       State = "closed"
)

// terminal reports whether no further transitions may leave s.
func (s State) terminal() bool {
	return s == StateFailed || s == StateClosed
}

// Event is the sealed set of notifications the manager raises to the
// application layer. Consumers switch on the concrete type.
type Event interface{ isEvent() }

// StateChanged reports a connection state transition.
type StateChanged struct {
	PeerID string
	State  State
}

// ChannelOpened reports that the peer's data channel is ready for Send.
type ChannelOpened struct {
	PeerID string
}

// MessageReceived carries one decoded envelope off the peer's channel.
type MessageReceived struct {
	PeerID   string
	Envelope protocol.Envelope
}

// CandidateReady carries a locally gathered ICE candidate that the
// application layer must relay outward through the rendezvous service.
type CandidateReady struct {
	PeerID    string
	Candidate protocol.ICECandidate
}

// ConnectionFailed reports a terminal negotiation failure for one peer.
// It never tears down the other peers' connections.
type ConnectionFailed struct {
	PeerID string
	Err    error
}

func (StateChanged) isEvent()     {}
func (ChannelOpened) isEvent()    {}
func (MessageReceived) isEvent()  {}
func (CandidateReady) isEvent()   {}
func (ConnectionFailed) isEvent() {}
