package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/peertable/peertable/internal/game"
	"github.com/peertable/peertable/internal/protocol"
	"github.com/peertable/peertable/internal/session"
	"github.com/peertable/peertable/internal/webrtc"
)

const waitFor = 2 * time.Second

type sentEnvelope struct {
	peerID string
	env    protocol.Envelope
}

// fakeTransport stands in for the connection manager: the test controls
// which channels are open and what events the session sees, and records
// everything the session sends.
type fakeTransport struct {
	mu     sync.Mutex
	opened map[string]bool
	open   map[string]bool
	closed []string

	events     chan webrtc.Event
	sends      chan sentEnvelope
	broadcasts chan protocol.Envelope
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		opened:     make(map[string]bool),
		open:       make(map[string]bool),
		events:     make(chan webrtc.Event, 64),
		sends:      make(chan sentEnvelope, 64),
		broadcasts: make(chan protocol.Envelope, 64),
	}
}

func (f *fakeTransport) Open(peerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened[peerID] = true
	return nil
}

func (f *fakeTransport) CreateOffer(peerID string) (protocol.SessionDescription, error) {
	return protocol.SessionDescription{Type: "offer", SDP: "sdp-for-" + peerID}, nil
}

func (f *fakeTransport) CreateAnswer(peerID string, offer protocol.SessionDescription) (protocol.SessionDescription, error) {
	return protocol.SessionDescription{Type: "answer", SDP: "sdp-for-" + peerID}, nil
}

func (f *fakeTransport) SetRemoteDescription(peerID string, desc protocol.SessionDescription) error {
	return nil
}

func (f *fakeTransport) AddICECandidate(peerID string, candidate protocol.ICECandidate) error {
	return nil
}

func (f *fakeTransport) Send(peerID string, env protocol.Envelope) {
	f.sends <- sentEnvelope{peerID: peerID, env: env}
}

func (f *fakeTransport) Broadcast(env protocol.Envelope) {
	f.broadcasts <- env
}

func (f *fakeTransport) IsChannelOpen(peerID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open[peerID]
}

func (f *fakeTransport) Close(peerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, peerID)
	return nil
}

func (f *fakeTransport) CloseAll() error { return nil }

func (f *fakeTransport) Events() <-chan webrtc.Event { return f.events }

func (f *fakeTransport) wasOpened(peerID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened[peerID]
}

type relayedDesc struct {
	to   string
	desc protocol.SessionDescription
}

type fakeRelay struct {
	offers     chan relayedDesc
	answers    chan relayedDesc
	candidates chan string
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		offers:     make(chan relayedDesc, 16),
		answers:    make(chan relayedDesc, 16),
		candidates: make(chan string, 16),
	}
}

func (f *fakeRelay) SendOffer(to string, desc protocol.SessionDescription) error {
	f.offers <- relayedDesc{to: to, desc: desc}
	return nil
}

func (f *fakeRelay) SendAnswer(to string, desc protocol.SessionDescription) error {
	f.answers <- relayedDesc{to: to, desc: desc}
	return nil
}

func (f *fakeRelay) SendCandidate(to string, candidate protocol.ICECandidate) error {
	f.candidates <- to
	return nil
}

func player(id string, host bool) protocol.Player {
	return protocol.Player{ID: id, Name: "name-" + id, Host: host}
}

func startSession(t *testing.T, self protocol.Player, rules session.Rules) (*session.Session, *fakeTransport, *fakeRelay) {
	t.Helper()

	tr := newFakeTransport()
	relay := newFakeRelay()
	sess := session.New(self, "G1", rules, tr, relay, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return sess, tr, relay
}

// waitUpdate reads updates until one of type T arrives, skipping others.
func waitUpdate[T session.Update](t *testing.T, sess *session.Session) T {
	t.Helper()

	deadline := time.After(waitFor)
	for {
		select {
		case u, ok := <-sess.Updates():
			if !ok {
				t.Fatal("update stream closed")
			}
			if want, match := u.(T); match {
				return want
			}
		case <-deadline:
			var zero T
			t.Fatalf("no %T update arrived", zero)
		}
	}
}

func recvSend(t *testing.T, tr *fakeTransport, want protocol.EnvelopeType) sentEnvelope {
	t.Helper()

	deadline := time.After(waitFor)
	for {
		select {
		case sent := <-tr.sends:
			if sent.env.Type == want {
				return sent
			}
		case <-deadline:
			t.Fatalf("no %s envelope was sent", want)
		}
	}
}

func recvBroadcast(t *testing.T, tr *fakeTransport, want protocol.EnvelopeType) protocol.Envelope {
	t.Helper()

	deadline := time.After(waitFor)
	for {
		select {
		case env := <-tr.broadcasts:
			if env.Type == want {
				return env
			}
		case <-deadline:
			t.Fatalf("no %s broadcast", want)
		}
	}
}

func recvNoSend(t *testing.T, tr *fakeTransport, window time.Duration) {
	t.Helper()

	select {
	case sent := <-tr.sends:
		t.Fatalf("unexpected %s envelope to %s", sent.env.Type, sent.peerID)
	case env := <-tr.broadcasts:
		t.Fatalf("unexpected %s broadcast", env.Type)
	case <-time.After(window):
	}
}

func moveEnvelope(t *testing.T, from, move string) protocol.Envelope {
	t.Helper()

	env, err := protocol.NewEnvelope(protocol.EnvMove, from, protocol.MoveData{
		Move: json.RawMessage(move),
	})
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func decodeLog(t *testing.T, raw json.RawMessage) game.State {
	t.Helper()

	var state game.State
	if err := json.Unmarshal(raw, &state); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return state
}

func TestHostOffersToNewGuest(t *testing.T) {
	is := is.New(t)
	host := player("host", true)
	sess, tr, relay := startSession(t, host, game.MoveLog{})

	sess.HandleRoster(true, "g1", []protocol.Player{host, player("g1", false)})

	changed := waitUpdate[session.RosterChanged](t, sess)
	is.Equal(len(changed.Players), 2)

	select {
	case offer := <-relay.offers:
		is.Equal(offer.to, "g1")
		is.Equal(offer.desc.Type, "offer")
	case <-time.After(waitFor):
		t.Fatal("host never offered to the new guest")
	}
	is.True(tr.wasOpened("g1"))
}

func TestGuestAnswersRelayedOffer(t *testing.T) {
	is := is.New(t)
	sess, tr, relay := startSession(t, player("g1", false), game.MoveLog{})

	sess.HandleOffer("host", protocol.SessionDescription{Type: "offer", SDP: "v=0"})

	select {
	case answer := <-relay.answers:
		is.Equal(answer.to, "host")
		is.Equal(answer.desc.Type, "answer")
	case <-time.After(waitFor):
		t.Fatal("guest never answered")
	}
	is.True(tr.wasOpened("host"))
}

func TestStartGating(t *testing.T) {
	is := is.New(t)

	guest, _, _ := startSession(t, player("g1", false), game.MoveLog{})
	is.True(errors.Is(guest.Start(), session.ErrNotHost))

	host := player("host", true)
	sess, tr, _ := startSession(t, host, game.MoveLog{})

	// Alone at the table: below the minimum.
	is.True(errors.Is(sess.Start(), session.ErrNotEnough))

	sess.HandleRoster(true, "g1", []protocol.Player{host, player("g1", false)})
	waitUpdate[session.RosterChanged](t, sess)

	is.NoErr(sess.Start())
	is.True(errors.Is(sess.Start(), session.ErrAlreadyActive))

	// Starting broadcasts the opening snapshot with the full roster.
	env := recvBroadcast(t, tr, protocol.EnvGameState)
	var snap protocol.GameStateData
	is.NoErr(env.DecodeData(&snap))
	state := decodeLog(t, snap.State)
	is.Equal(state.Players, []string{"host", "g1"})
	is.Equal(state.Turn, 0)
}

func TestHostAppliesMovesInReceiptOrder(t *testing.T) {
	is := is.New(t)
	host := player("host", true)
	sess, tr, _ := startSession(t, host, game.MoveLog{})

	sess.HandleRoster(true, "g1", []protocol.Player{host, player("g1", false)})
	sess.HandleRoster(true, "g2", []protocol.Player{host, player("g1", false), player("g2", false)})
	is.NoErr(sess.Start())
	recvBroadcast(t, tr, protocol.EnvGameState)

	// Round-robin follows roster order: host, then g1, then g2. Each
	// accepted move produces one snapshot broadcast.
	sess.SubmitMove(json.RawMessage(`"a"`))
	recvBroadcast(t, tr, protocol.EnvGameState)

	tr.events <- webrtc.MessageReceived{PeerID: "g1", Envelope: moveEnvelope(t, "g1", `"b"`)}
	recvBroadcast(t, tr, protocol.EnvGameState)

	tr.events <- webrtc.MessageReceived{PeerID: "g2", Envelope: moveEnvelope(t, "g2", `"c"`)}
	env := recvBroadcast(t, tr, protocol.EnvGameState)

	var snap protocol.GameStateData
	is.NoErr(env.DecodeData(&snap))
	state := decodeLog(t, snap.State)
	is.Equal(state.Turn, 3)
	is.Equal(len(state.Moves), 3)
	is.Equal(state.Moves[0].PlayerID, "host")
	is.Equal(state.Moves[1].PlayerID, "g1")
	is.Equal(state.Moves[2].PlayerID, "g2")
}

func TestOutOfTurnMoveAnswersOffenderOnly(t *testing.T) {
	is := is.New(t)
	host := player("host", true)
	sess, tr, _ := startSession(t, host, game.MoveLog{})

	sess.HandleRoster(true, "g1", []protocol.Player{host, player("g1", false)})
	is.NoErr(sess.Start())
	recvBroadcast(t, tr, protocol.EnvGameState)

	// It is the host's turn; g1 moving now is illegal. The refusal goes
	// to g1 alone and no snapshot is produced.
	tr.events <- webrtc.MessageReceived{PeerID: "g1", Envelope: moveEnvelope(t, "g1", `"x"`)}

	sent := recvSend(t, tr, protocol.EnvError)
	is.Equal(sent.peerID, "g1")

	var data protocol.ErrorData
	is.NoErr(sent.env.DecodeData(&data))
	is.True(strings.Contains(data.Message, "not your turn"))

	recvNoSend(t, tr, 200*time.Millisecond)
}

func TestOwnMoveBeforeStartIsRejectedLocally(t *testing.T) {
	is := is.New(t)
	sess, _, _ := startSession(t, player("host", true), game.MoveLog{})

	sess.SubmitMove(json.RawMessage(`"early"`))

	rejected := waitUpdate[session.MoveRejected](t, sess)
	is.Equal(rejected.Message, "game has not started")
}

func TestGuestOverwritesStateWholesale(t *testing.T) {
	is := is.New(t)
	guest := player("g1", false)
	sess, tr, _ := startSession(t, guest, game.MoveLog{})

	sess.HandleRoster(true, "g1", []protocol.Player{player("host", true), guest})
	waitUpdate[session.RosterChanged](t, sess)

	snapshot := json.RawMessage(`{"players":["host","g1"],"turn":1,"moves":[{"playerId":"host","move":"a"}]}`)
	env, err := protocol.NewEnvelope(protocol.EnvGameState, "host", protocol.GameStateData{State: snapshot})
	is.NoErr(err)
	tr.events <- webrtc.MessageReceived{PeerID: "host", Envelope: env}

	applied := waitUpdate[session.StateApplied](t, sess)
	is.Equal(string(applied.State), string(snapshot))

	// A snapshot from anyone but the host is dropped.
	forged := json.RawMessage(`{"players":["g2"],"turn":9}`)
	env, err = protocol.NewEnvelope(protocol.EnvGameState, "g2", protocol.GameStateData{State: forged})
	is.NoErr(err)
	tr.events <- webrtc.MessageReceived{PeerID: "g2", Envelope: env}

	select {
	case u := <-sess.Updates():
		if applied, ok := u.(session.StateApplied); ok {
			t.Fatalf("forged snapshot applied: %s", applied.State)
		}
	case <-time.After(200 * time.Millisecond):
	}
}

func TestLateJoinerReceivesSnapshotOnChannelOpen(t *testing.T) {
	is := is.New(t)
	host := player("host", true)
	sess, tr, _ := startSession(t, host, game.MoveLog{})

	sess.HandleRoster(true, "g1", []protocol.Player{host, player("g1", false)})
	is.NoErr(sess.Start())
	recvBroadcast(t, tr, protocol.EnvGameState)

	sess.HandleRoster(true, "g2", []protocol.Player{host, player("g1", false), player("g2", false)})
	tr.events <- webrtc.ChannelOpened{PeerID: "g2"}

	sent := recvSend(t, tr, protocol.EnvGameState)
	is.Equal(sent.peerID, "g2")

	var snap protocol.GameStateData
	is.NoErr(sent.env.DecodeData(&snap))
	state := decodeLog(t, snap.State)
	is.Equal(state.Players, []string{"host", "g1"})
}

func TestGuestAnnouncesOnChannelOpen(t *testing.T) {
	is := is.New(t)
	guest := player("g1", false)
	sess, tr, _ := startSession(t, guest, game.MoveLog{})

	tr.events <- webrtc.ChannelOpened{PeerID: "host"}

	connected := waitUpdate[session.PeerConnected](t, sess)
	is.Equal(connected.PeerID, "host")

	sent := recvSend(t, tr, protocol.EnvJoin)
	is.Equal(sent.peerID, "host")

	var join protocol.JoinData
	is.NoErr(sent.env.DecodeData(&join))
	is.Equal(join.PlayerID, "g1")
	is.Equal(join.Name, "name-g1")
}

func TestHostGoneWhenHostPeerDrops(t *testing.T) {
	is := is.New(t)
	guest := player("g1", false)
	sess, tr, _ := startSession(t, guest, game.MoveLog{})

	sess.HandleRoster(true, "g1", []protocol.Player{player("host", true), guest})
	waitUpdate[session.RosterChanged](t, sess)

	tr.events <- webrtc.StateChanged{PeerID: "host", State: webrtc.StateDisconnected}

	down := waitUpdate[session.PeerDown](t, sess)
	is.Equal(down.PeerID, "host")
	waitUpdate[session.HostGone](t, sess)
}

func TestGuestPeerDropDoesNotEndGame(t *testing.T) {
	is := is.New(t)
	host := player("host", true)
	sess, tr, _ := startSession(t, host, game.MoveLog{})

	sess.HandleRoster(true, "g1", []protocol.Player{host, player("g1", false)})
	waitUpdate[session.RosterChanged](t, sess)

	tr.events <- webrtc.StateChanged{PeerID: "g1", State: webrtc.StateDisconnected}

	down := waitUpdate[session.PeerDown](t, sess)
	is.Equal(down.PeerID, "g1")

	select {
	case u := <-sess.Updates():
		if _, gone := u.(session.HostGone); gone {
			t.Fatal("guest drop ended the game")
		}
	case <-time.After(200 * time.Millisecond):
	}
}

func TestPingIsEchoedAsPong(t *testing.T) {
	is := is.New(t)
	_, tr, _ := startSession(t, player("g1", false), game.MoveLog{})

	env, err := protocol.NewEnvelope(protocol.EnvPing, "host", protocol.PingData{Nonce: 42})
	is.NoErr(err)
	tr.events <- webrtc.MessageReceived{PeerID: "host", Envelope: env}

	sent := recvSend(t, tr, protocol.EnvPong)
	is.Equal(sent.peerID, "host")

	var pong protocol.PongData
	is.NoErr(sent.env.DecodeData(&pong))
	is.Equal(pong.Nonce, int64(42))
}
