// Package gameid generates the client-side identifiers: memorable
// hyphenated game ids and opaque peer ids.
package gameid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"math/big"
)

// NewGameID creates a random, memorable game id.
// Format: adjective-animal-thing (e.g., "fluffy-otter-stardust").
// Ids are generated by the host, so collisions are not checked here; a
// duplicate registration simply replaces the earlier game.
func NewGameID() string {
	return fmt.Sprintf("%s-%s-%s",
		adjectives[randomIndex(len(adjectives))],
		animals[randomIndex(len(animals))],
		things[randomIndex(len(things))],
	)
}

// NewPeerID creates an opaque 8-hex-char peer identity.
func NewPeerID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		log.Panic("Failed to generate peer id:", err)
	}
	return hex.EncodeToString(b)
}

// randomIndex returns a cryptographically secure random index for a slice
// of given length.
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		log.Panic("Failed to generate random index:", err)
	}
	return int(n.Int64())
}
