package lobbyclient

import (
	"log/slog"

	"github.com/peertable/peertable/internal/protocol"
)

// RosterEvent is a player-joined or player-left broadcast.
type RosterEvent struct {
	Joined   bool
	PlayerID string
	Players  []protocol.Player
}

// DescriptionEvent is a relayed offer or answer.
type DescriptionEvent struct {
	From        string
	Description protocol.SessionDescription
}

// CandidateEvent is a relayed ICE candidate.
type CandidateEvent struct {
	From      string
	Candidate protocol.ICECandidate
}

// Handler routes incoming signaling messages to typed channels. Malformed
// payloads are logged and dropped.
type Handler struct {
	client *Client

	GamesList chan []protocol.GameInfo
	Roster    chan *RosterEvent
	Offer     chan *DescriptionEvent
	Answer    chan *DescriptionEvent
	Candidate chan *CandidateEvent
	JoinError chan string
}

func NewHandler(client *Client) *Handler {
	return &Handler{
		client:    client,
		GamesList: make(chan []protocol.GameInfo, 1),
		Roster:    make(chan *RosterEvent, 8),
		Offer:     make(chan *DescriptionEvent, 8),
		Answer:    make(chan *DescriptionEvent, 8),
		Candidate: make(chan *CandidateEvent, 32),
		JoinError: make(chan string, 1),
	}
}

// Start consumes the client's incoming stream until the socket closes,
// then closes every handler channel so consumers see the connection end.
func (h *Handler) Start() {
	defer h.close()

	for msg := range h.client.Incoming() {
		switch msg.Type {
		case protocol.SignalGamesList:
			var list protocol.GamesList
			if err := msg.DecodePayload(&list); err != nil {
				slog.Warn("malformed games-list", "error", err)
				continue
			}
			h.GamesList <- list.Games

		case protocol.SignalPlayerJoined, protocol.SignalPlayerLeft:
			var roster protocol.RosterUpdate
			if err := msg.DecodePayload(&roster); err != nil {
				slog.Warn("malformed roster update", "error", err)
				continue
			}
			h.Roster <- &RosterEvent{
				Joined:   msg.Type == protocol.SignalPlayerJoined,
				PlayerID: roster.PlayerID,
				Players:  roster.Players,
			}

		case protocol.SignalOffer:
			if ev, ok := decodeDescription(msg); ok {
				h.Offer <- ev
			}

		case protocol.SignalAnswer:
			if ev, ok := decodeDescription(msg); ok {
				h.Answer <- ev
			}

		case protocol.SignalICECandidate:
			var candidate protocol.ICECandidate
			if err := msg.DecodePayload(&candidate); err != nil {
				slog.Warn("malformed ice-candidate", "from", msg.From, "error", err)
				continue
			}
			h.Candidate <- &CandidateEvent{From: msg.From, Candidate: candidate}

		case protocol.SignalJoinError:
			var joinErr protocol.JoinError
			if err := msg.DecodePayload(&joinErr); err != nil {
				h.JoinError <- "unknown error from server"
				continue
			}
			h.JoinError <- joinErr.Message

		default:
			slog.Debug("unhandled signal type", "type", msg.Type)
		}
	}
}

func decodeDescription(msg *protocol.SignalMessage) (*DescriptionEvent, bool) {
	var desc protocol.SessionDescription
	if err := msg.DecodePayload(&desc); err != nil {
		slog.Warn("malformed description", "type", msg.Type, "from", msg.From, "error", err)
		return nil, false
	}
	return &DescriptionEvent{From: msg.From, Description: desc}, true
}

func (h *Handler) close() {
	close(h.GamesList)
	close(h.Roster)
	close(h.Offer)
	close(h.Answer)
	close(h.Candidate)
	close(h.JoinError)
}
