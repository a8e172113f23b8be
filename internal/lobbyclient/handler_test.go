package lobbyclient

import (
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/peertable/peertable/internal/protocol"
)

func TestHandlerRoutesAndClosesOnSocketEnd(t *testing.T) {
	is := is.New(t)

	client := NewClient("ws://unused")
	h := NewHandler(client)

	done := make(chan struct{})
	go func() {
		h.Start()
		close(done)
	}()

	msg, err := protocol.NewSignal(protocol.SignalPlayerJoined, protocol.RosterUpdate{
		PlayerID: "p1",
		Players:  []protocol.Player{{ID: "p1", Name: "ada"}},
	})
	is.NoErr(err)
	client.incoming <- msg

	select {
	case ev := <-h.Roster:
		is.True(ev.Joined)
		is.Equal(ev.PlayerID, "p1")
	case <-time.After(2 * time.Second):
		t.Fatal("roster event never dispatched")
	}

	// The incoming stream ending (socket gone) stops the handler and
	// closes every fan-out channel, so consumers see the connection end.
	close(client.incoming)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never stopped")
	}

	_, ok := <-h.Roster
	is.True(!ok)
	_, ok = <-h.GamesList
	is.True(!ok)
	_, ok = <-h.JoinError
	is.True(!ok)
}
