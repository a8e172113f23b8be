package webrtc_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/peertable/peertable/internal/protocol"
	"github.com/peertable/peertable/internal/webrtc"
)

const eventWait = 15 * time.Second

func newManager(t *testing.T, timeout time.Duration) *webrtc.Manager {
	t.Helper()

	m := webrtc.NewManager(webrtc.Config{
		NegotiationTimeout: timeout,
		IncludeLoopback:    true, // test environments may only have loopback
	})
	t.Cleanup(func() { m.CloseAll() })
	return m
}

// connectPair negotiates two managers in-process: the offer/answer exchange
// runs directly and candidate events are relayed by pump goroutines, which
// also forward all other events for assertions.
func connectPair(t *testing.T) (*webrtc.Manager, *webrtc.Manager, chan webrtc.Event, chan webrtc.Event) {
	t.Helper()
	is := is.New(t)

	a := newManager(t, 0)
	b := newManager(t, 0)

	is.NoErr(a.Open("B"))
	is.NoErr(b.Open("A"))

	offer, err := a.CreateOffer("B")
	is.NoErr(err)
	answer, err := b.CreateAnswer("A", offer)
	is.NoErr(err)
	is.NoErr(a.SetRemoteDescription("B", answer))

	// Pumps start only after both descriptions are applied, so no
	// candidate is relayed into a connection that cannot accept it yet.
	// Earlier candidates sit buffered in the event stream.
	aEvents := pump(t, a, b, "A")
	bEvents := pump(t, b, a, "B")
	return a, b, aEvents, bEvents
}

func pump(t *testing.T, from, to *webrtc.Manager, fromID string) chan webrtc.Event {
	t.Helper()

	out := make(chan webrtc.Event, 128)
	go func() {
		for ev := range from.Events() {
			if candidate, ok := ev.(webrtc.CandidateReady); ok {
				to.AddICECandidate(fromID, candidate.Candidate)
				continue
			}
			out <- ev
		}
	}()
	return out
}

func waitChannelOpen(t *testing.T, events chan webrtc.Event) {
	t.Helper()

	deadline := time.After(eventWait)
	for {
		select {
		case ev := <-events:
			if _, ok := ev.(webrtc.ChannelOpened); ok {
				return
			}
		case <-deadline:
			t.Fatal("channel never opened")
		}
	}
}

func recvEnvelope(t *testing.T, events chan webrtc.Event) protocol.Envelope {
	t.Helper()

	deadline := time.After(eventWait)
	for {
		select {
		case ev := <-events:
			if msg, ok := ev.(webrtc.MessageReceived); ok {
				return msg.Envelope
			}
		case <-deadline:
			t.Fatal("no envelope arrived")
		}
	}
}

func TestChannelOpensAndDeliversInOrder(t *testing.T) {
	is := is.New(t)
	a, b, aEvents, bEvents := connectPair(t)

	waitChannelOpen(t, aEvents)
	waitChannelOpen(t, bEvents)
	is.True(a.IsChannelOpen("B"))
	is.True(b.IsChannelOpen("A"))

	state, ok := a.State("B")
	is.True(ok)
	is.Equal(state, webrtc.StateConnected)

	// Messages on one channel arrive in the exact order sent.
	const n = 25
	for i := 0; i < n; i++ {
		env, err := protocol.NewEnvelope(protocol.EnvMove, "A", protocol.MoveData{
			Move: json.RawMessage(fmt.Sprintf("%d", i)),
		})
		is.NoErr(err)
		a.Send("B", env)
	}

	for i := 0; i < n; i++ {
		env := recvEnvelope(t, bEvents)
		is.Equal(env.Type, protocol.EnvMove)
		var move protocol.MoveData
		is.NoErr(env.DecodeData(&move))
		is.Equal(string(move.Move), fmt.Sprintf("%d", i))
	}

	// And the channel carries traffic both ways.
	env, err := protocol.NewEnvelope(protocol.EnvPing, "B", protocol.PingData{Nonce: 7})
	is.NoErr(err)
	b.Send("A", env)

	got := recvEnvelope(t, aEvents)
	is.Equal(got.Type, protocol.EnvPing)
}

func TestSendOnClosedChannelDrops(t *testing.T) {
	is := is.New(t)
	a, _, aEvents, bEvents := connectPair(t)

	waitChannelOpen(t, aEvents)
	waitChannelOpen(t, bEvents)

	is.NoErr(a.Close("B"))
	is.True(!a.IsChannelOpen("B"))

	// Dropped, never queued: no error, no panic, no delivery.
	env, err := protocol.NewEnvelope(protocol.EnvMove, "A", protocol.MoveData{Move: json.RawMessage(`1`)})
	is.NoErr(err)
	a.Send("B", env)

	// Send to a peer that was never opened is the same silent drop.
	a.Send("nobody", env)
}

func TestConnectionNotFoundContract(t *testing.T) {
	is := is.New(t)
	m := newManager(t, 0)

	_, err := m.CreateOffer("ghost")
	is.True(errors.Is(err, webrtc.ErrConnectionNotFound))

	_, err = m.CreateAnswer("ghost", protocol.SessionDescription{Type: "offer"})
	is.True(errors.Is(err, webrtc.ErrConnectionNotFound))

	err = m.SetRemoteDescription("ghost", protocol.SessionDescription{Type: "answer"})
	is.True(errors.Is(err, webrtc.ErrConnectionNotFound))

	err = m.AddICECandidate("ghost", protocol.ICECandidate{})
	is.True(errors.Is(err, webrtc.ErrConnectionNotFound))

	_, ok := m.State("ghost")
	is.True(!ok)
	is.True(!m.IsChannelOpen("ghost"))
}

func TestOpenIsIdempotent(t *testing.T) {
	is := is.New(t)
	m := newManager(t, 0)

	is.NoErr(m.Open("peer"))
	state, ok := m.State("peer")
	is.True(ok)
	is.Equal(state, webrtc.StateNew)

	// Re-opening returns the existing connection, not a reset.
	is.NoErr(m.Open("peer"))
	is.Equal(len(m.Peers()), 1)
}

func TestCloseIsIdempotent(t *testing.T) {
	is := is.New(t)
	m := newManager(t, 0)

	is.NoErr(m.Close("never-opened"))

	is.NoErr(m.Open("peer"))
	is.NoErr(m.Close("peer"))
	is.NoErr(m.Close("peer"))
	is.NoErr(m.CloseAll())
}

func TestNegotiationTimeoutFailsConnection(t *testing.T) {
	is := is.New(t)
	m := newManager(t, 250*time.Millisecond)

	is.NoErr(m.Open("silent"))
	_, err := m.CreateOffer("silent")
	is.NoErr(err)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-m.Events():
			if failed, ok := ev.(webrtc.ConnectionFailed); ok {
				is.Equal(failed.PeerID, "silent")
				is.True(errors.Is(failed.Err, webrtc.ErrNegotiationTimeout))

				state, ok := m.State("silent")
				is.True(ok)
				is.Equal(state, webrtc.StateFailed)
				return
			}
		case <-deadline:
			t.Fatal("negotiation never timed out")
		}
	}
}
