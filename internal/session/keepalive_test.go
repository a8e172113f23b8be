package session

import (
	"testing"

	"github.com/matryer/is"

	"github.com/peertable/peertable/internal/protocol"
	"github.com/peertable/peertable/internal/webrtc"
)

// stubTransport is the minimal Transport for exercising keepalive
// bookkeeping directly, without running the session loop.
type stubTransport struct {
	events chan webrtc.Event
}

func (stubTransport) Open(string) error { return nil }
func (stubTransport) CreateOffer(string) (protocol.SessionDescription, error) {
	return protocol.SessionDescription{}, nil
}
func (stubTransport) CreateAnswer(string, protocol.SessionDescription) (protocol.SessionDescription, error) {
	return protocol.SessionDescription{}, nil
}
func (stubTransport) SetRemoteDescription(string, protocol.SessionDescription) error { return nil }
func (stubTransport) AddICECandidate(string, protocol.ICECandidate) error            { return nil }
func (stubTransport) Send(string, protocol.Envelope)                                 {}
func (stubTransport) Broadcast(protocol.Envelope)                                    {}
func (stubTransport) IsChannelOpen(string) bool                                      { return true }
func (stubTransport) Close(string) error                                             { return nil }
func (stubTransport) CloseAll() error                                                { return nil }
func (s stubTransport) Events() <-chan webrtc.Event                                  { return s.events }

type stubRelay struct{}

func (stubRelay) SendOffer(string, protocol.SessionDescription) error  { return nil }
func (stubRelay) SendAnswer(string, protocol.SessionDescription) error { return nil }
func (stubRelay) SendCandidate(string, protocol.ICECandidate) error    { return nil }

func TestPeerDownPurgesOutstandingPings(t *testing.T) {
	is := is.New(t)

	self := protocol.Player{ID: "host", Name: "host", Host: true}
	s := New(self, "G1", nil, stubTransport{events: make(chan webrtc.Event)}, stubRelay{}, nil)
	s.roster = []protocol.Player{self, {ID: "g1"}, {ID: "g2"}}

	// Two keepalive rounds with no answers: one outstanding nonce per
	// peer per round.
	s.sendPings()
	s.sendPings()
	is.Equal(len(s.pings), 4)

	// A peer going down takes its unanswered nonces with it; the map must
	// not grow forever on peers that never pong.
	s.peerDown("g1")
	is.Equal(len(s.pings), 2)
	for _, rec := range s.pings {
		is.Equal(rec.peerID, "g2")
	}
}
