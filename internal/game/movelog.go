// Package game ships the reference gameplay rules used by the CLI: a
// round-robin move log. It tracks whose turn it is and appends accepted
// moves, enough to exercise turn ownership without any board logic.
package game

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/peertable/peertable/internal/protocol"
	"github.com/peertable/peertable/internal/session"
)

var ErrOutOfTurn = errors.New("not your turn")

// Compile-time interface check.
var _ session.Rules = MoveLog{}

// State is the move log's snapshot. Turn order follows join order.
type State struct {
	Players []string `json:"players"`
	Turn    int      `json:"turn"`
	Moves   []Entry  `json:"moves"`
}

// Entry is one accepted move.
type Entry struct {
	PlayerID string          `json:"playerId"`
	Move     json.RawMessage `json:"move"`
}

// MoveLog implements session.Rules with strict round-robin turns.
type MoveLog struct{}

func (MoveLog) Init(players []protocol.Player) (json.RawMessage, error) {
	if len(players) == 0 {
		return nil, errors.New("no players")
	}
	ids := make([]string, len(players))
	for i, p := range players {
		ids[i] = p.ID
	}
	return json.Marshal(State{Players: ids})
}

func (MoveLog) Apply(state json.RawMessage, playerID string, move json.RawMessage) (json.RawMessage, error) {
	var s State
	if err := json.Unmarshal(state, &s); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if len(s.Players) == 0 {
		return nil, errors.New("empty roster")
	}

	current := s.Players[s.Turn%len(s.Players)]
	if playerID != current {
		return nil, fmt.Errorf("%w: waiting on %s", ErrOutOfTurn, current)
	}

	s.Moves = append(s.Moves, Entry{PlayerID: playerID, Move: move})
	s.Turn++
	return json.Marshal(s)
}
