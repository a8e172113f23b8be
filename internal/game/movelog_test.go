package game_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/matryer/is"

	"github.com/peertable/peertable/internal/game"
	"github.com/peertable/peertable/internal/protocol"
)

func roster(ids ...string) []protocol.Player {
	players := make([]protocol.Player, len(ids))
	for i, id := range ids {
		players[i] = protocol.Player{ID: id, Name: id}
	}
	return players
}

func TestInitFollowsRosterOrder(t *testing.T) {
	is := is.New(t)

	rules := game.MoveLog{}
	raw, err := rules.Init(roster("host", "g1", "g2"))
	is.NoErr(err)

	var state game.State
	is.NoErr(json.Unmarshal(raw, &state))
	is.Equal(state.Players, []string{"host", "g1", "g2"})
	is.Equal(state.Turn, 0)
	is.Equal(len(state.Moves), 0)

	_, err = rules.Init(nil)
	is.True(err != nil)
}

func TestRoundRobinTurns(t *testing.T) {
	is := is.New(t)

	rules := game.MoveLog{}
	state, err := rules.Init(roster("a", "b", "c"))
	is.NoErr(err)

	// Two full rounds: the turn wraps back to the first player.
	order := []string{"a", "b", "c", "a", "b", "c"}
	for i, id := range order {
		state, err = rules.Apply(state, id, json.RawMessage(`"m"`))
		is.NoErr(err)

		var decoded game.State
		is.NoErr(json.Unmarshal(state, &decoded))
		is.Equal(decoded.Turn, i+1)
		is.Equal(decoded.Moves[i].PlayerID, id)
	}
}

func TestOutOfTurnMoveRefused(t *testing.T) {
	is := is.New(t)

	rules := game.MoveLog{}
	state, err := rules.Init(roster("a", "b"))
	is.NoErr(err)

	_, err = rules.Apply(state, "b", json.RawMessage(`"m"`))
	is.True(errors.Is(err, game.ErrOutOfTurn))

	// The refused move left the state untouched: "a" can still move.
	state, err = rules.Apply(state, "a", json.RawMessage(`"m"`))
	is.NoErr(err)

	var decoded game.State
	is.NoErr(json.Unmarshal(state, &decoded))
	is.Equal(len(decoded.Moves), 1)
}

func TestApplyRejectsUnknownPlayerAndBadState(t *testing.T) {
	is := is.New(t)

	rules := game.MoveLog{}
	state, err := rules.Init(roster("a", "b"))
	is.NoErr(err)

	// A stranger is never the current player.
	_, err = rules.Apply(state, "intruder", json.RawMessage(`"m"`))
	is.True(errors.Is(err, game.ErrOutOfTurn))

	_, err = rules.Apply(json.RawMessage(`garbage`), "a", json.RawMessage(`"m"`))
	is.True(err != nil)
}
