package webrtc

import (
	"sync"
	"time"

	pion "github.com/pion/webrtc/v4"

	"github.com/peertable/peertable/internal/protocol"
)

// channelLabel is the single ordered, reliable data channel each pair of
// peers shares for gameplay traffic.
const channelLabel = "game"

// conn is the per-remote-peer negotiation state plus the resulting message
// channel. Each conn progresses independently of the others; pion drives
// its handlers on its own goroutines, so all mutable fields sit behind mu.
type conn struct {
	peerID string
	pc     *pion.PeerConnection

	mu          sync.Mutex
	state       State
	channel     *pion.DataChannel
	channelOpen bool
	timer       *time.Timer // pending negotiation deadline, nil when idle
}

func (c *conn) currentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *conn) isChannelOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelOpen && c.channel != nil
}

// transition applies a state change, enforcing the machine's rules:
// terminal states absorb everything, and a disconnected connection never
// returns to connected (no reconnection). Returns false when the change
// was refused or is a no-op.
func (c *conn) transition(next State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == next || c.state.terminal() {
		return false
	}
	if c.state == StateDisconnected && next == StateConnected {
		return false
	}

	c.state = next
	if next == StateConnected || next.terminal() {
		c.stopTimerLocked()
	}
	return true
}

// armTimer schedules the negotiation deadline; fire runs if the deadline
// passes before the connection leaves negotiating.
func (c *conn) armTimer(d time.Duration, fire func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopTimerLocked()
	c.timer = time.AfterFunc(d, fire)
}

func (c *conn) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *conn) setChannel(dc *pion.DataChannel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channel = dc
}

func (c *conn) markChannel(open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channelOpen = open
}

// send transmits raw bytes if the channel is open right now. Callers must
// not assume delivery: a non-open channel drops the message.
func (c *conn) send(b []byte) (bool, error) {
	c.mu.Lock()
	dc := c.channel
	open := c.channelOpen
	c.mu.Unlock()

	if !open || dc == nil || dc.ReadyState() != pion.DataChannelStateOpen {
		return false, nil
	}
	return true, dc.Send(b)
}

// toPionDescription converts a relayed description into pion's type.
func toPionDescription(d protocol.SessionDescription) pion.SessionDescription {
	return pion.SessionDescription{
		Type: pion.NewSDPType(d.Type),
		SDP:  d.SDP,
	}
}

func fromPionDescription(d *pion.SessionDescription) protocol.SessionDescription {
	return protocol.SessionDescription{
		Type: d.Type.String(),
		SDP:  d.SDP,
	}
}

func toPionCandidate(c protocol.ICECandidate) pion.ICECandidateInit {
	return pion.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func fromPionCandidate(c pion.ICECandidateInit) protocol.ICECandidate {
	return protocol.ICECandidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
