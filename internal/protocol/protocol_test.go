package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/matryer/is"

	"github.com/peertable/peertable/internal/protocol"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	is := is.New(t)

	env, err := protocol.NewEnvelope(protocol.EnvMove, "p1", protocol.MoveData{
		Move: json.RawMessage(`{"square":7}`),
	})
	is.NoErr(err)

	b, err := env.Marshal()
	is.NoErr(err)

	decoded, err := protocol.DecodeEnvelope(b)
	is.NoErr(err)
	is.Equal(decoded.Type, protocol.EnvMove)
	is.Equal(decoded.From, "p1")

	var move protocol.MoveData
	is.NoErr(decoded.DecodeData(&move))
	is.Equal(string(move.Move), `{"square":7}`)
}

func TestDecodeEnvelopeMalformed(t *testing.T) {
	is := is.New(t)

	_, err := protocol.DecodeEnvelope([]byte(`not json`))
	is.True(err != nil)

	// Valid JSON but no type tag is still malformed.
	_, err = protocol.DecodeEnvelope([]byte(`{"data":{}}`))
	is.True(err != nil)
}

func TestSignalPayloadRoundTrip(t *testing.T) {
	is := is.New(t)

	msg, err := protocol.NewSignal(protocol.SignalJoinGame, protocol.JoinGame{
		GameID:     "G1",
		PlayerName: "ada",
	})
	is.NoErr(err)
	is.Equal(msg.Type, protocol.SignalJoinGame)

	var join protocol.JoinGame
	is.NoErr(msg.DecodePayload(&join))
	is.Equal(join.GameID, "G1")
	is.Equal(join.PlayerName, "ada")
}

func TestRelayTaggingShape(t *testing.T) {
	is := is.New(t)

	// A relayed message keeps the payload verbatim and carries the sender
	// in From; only the server sets From.
	original, err := protocol.NewSignal(protocol.SignalOffer, protocol.SessionDescription{
		Type: "offer",
		SDP:  "v=0...",
	})
	is.NoErr(err)
	original.To = "p2"

	relayed := protocol.SignalMessage{
		Type:    original.Type,
		From:    "p1",
		To:      original.To,
		Payload: original.Payload,
	}

	var desc protocol.SessionDescription
	is.NoErr(relayed.DecodePayload(&desc))
	is.Equal(desc.SDP, "v=0...")
	is.Equal(relayed.From, "p1")
}
