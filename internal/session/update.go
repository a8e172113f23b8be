package session

import (
	"encoding/json"
	"time"

	"github.com/peertable/peertable/internal/protocol"
)

// Update is the sealed set of notifications a session raises to its
// consumer (the CLI prompt). Consumers switch on the concrete type.
type Update interface{ isUpdate() }

// RosterChanged reports the roster after a player joined or left.
type RosterChanged struct {
	Players []protocol.Player
}

// PeerConnected reports that a peer's data channel opened.
type PeerConnected struct {
	PeerID string
}

// PeerDown reports that a peer's connection dropped or failed. There is
// no reconnection; the roster entry is simply degraded.
type PeerDown struct {
	PeerID string
}

// HostGone is terminal for a guest: the host's connection is down and the
// session is over.
type HostGone struct{}

// StateApplied reports the authoritative snapshot now in effect locally.
type StateApplied struct {
	State json.RawMessage
}

// MoveRejected reports that the host refused a submitted move.
type MoveRejected struct {
	Message string
}

// PeerRTT reports a measured data-channel round trip for one peer.
type PeerRTT struct {
	PeerID string
	RTT    time.Duration
}

func (RosterChanged) isUpdate() {}
func (PeerConnected) isUpdate() {}
func (PeerDown) isUpdate()      {}
func (HostGone) isUpdate()      {}
func (StateApplied) isUpdate()  {}
func (MoveRejected) isUpdate()  {}
func (PeerRTT) isUpdate()       {}
