package gameid_test

import (
	"strings"
	"testing"

	"github.com/matryer/is"

	"github.com/peertable/peertable/internal/gameid"
)

func TestNewGameIDFormat(t *testing.T) {
	is := is.New(t)

	id := gameid.NewGameID()
	parts := strings.Split(id, "-")
	is.Equal(len(parts), 3)
	for _, part := range parts {
		is.True(part != "")
	}
}

func TestNewPeerIDFormat(t *testing.T) {
	is := is.New(t)

	id := gameid.NewPeerID()
	is.Equal(len(id), 8)
	for _, r := range id {
		is.True(strings.ContainsRune("0123456789abcdef", r))
	}

	// Two draws colliding would mean the generator is broken.
	is.True(id != gameid.NewPeerID())
}
