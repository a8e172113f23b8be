package lobbyserver

import (
	"errors"
	"sync"
	"time"

	"github.com/peertable/peertable/internal/protocol"
)

// Registry errors, surfaced to joining clients as join-error messages.
var (
	ErrGameNotFound = errors.New("Game not found")
	ErrGameFull     = errors.New("Game is full")
)

// Phase is a game's lifecycle phase as the rendezvous server sees it. The
// server only ever observes waiting → removed: gameplay phases advance on
// the host's side, over the data channels, after discovery is done.
type Phase string

const (
	PhaseWaiting  Phase = "waiting"
	PhaseActive   Phase = "active"
	PhaseFinished Phase = "finished"
	PhaseRemoved  Phase = "removed"
)

// Game is one registered session: a host, up to MaxPlayers members, and a
// lifecycle phase. The host is always Members[0].
type Game struct {
	ID        string
	HostID    string
	Members   []protocol.Player
	Capacity  int
	Phase     Phase
	CreatedAt time.Time
}

// Registry is the authoritative record of active games and their rosters.
// It is the only mutation path for session state: the hub goroutine drives
// all writes, and the mutex additionally lets the REST discovery endpoint
// read concurrently.
type Registry struct {
	mu    sync.Mutex
	games map[string]*Game
}

func NewRegistry() *Registry {
	return &Registry{games: make(map[string]*Game)}
}

// Create registers a new game with the given host as its sole member and
// phase waiting. A game already registered under the same id is silently
// replaced: last registration wins.
func (r *Registry) Create(gameID, hostID, hostName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.games[gameID] = &Game{
		ID:     gameID,
		HostID: hostID,
		Members: []protocol.Player{
			{ID: hostID, Name: hostName, Host: true},
		},
		Capacity:  protocol.MaxPlayers,
		Phase:     PhaseWaiting,
		CreatedAt: time.Now(),
	}
}

// Join appends a guest to the game and returns the roster after the
// change. Fails with ErrGameNotFound or ErrGameFull; membership never
// exceeds the capacity bound. Joining a game the peer is already a member
// of is a no-op: the current roster is returned with already set, so the
// caller knows not to announce anything.
func (r *Registry) Join(gameID, peerID, playerName string) (roster []protocol.Player, already bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	game, ok := r.games[gameID]
	if !ok {
		return nil, false, ErrGameNotFound
	}
	for _, m := range game.Members {
		if m.ID == peerID {
			return rosterCopy(game.Members), true, nil
		}
	}
	if len(game.Members) >= game.Capacity {
		return nil, false, ErrGameFull
	}

	game.Members = append(game.Members, protocol.Player{ID: peerID, Name: playerName})
	return rosterCopy(game.Members), false, nil
}

// Leave removes the peer from whichever game it belongs to. A departing
// host destroys the game: it transitions to removed and is purged, with no
// guest promoted in its place. The returned roster is the membership after
// the change (nil when the game was destroyed); ok reports whether the
// peer was a member of anything.
func (r *Registry) Leave(peerID string) (gameID string, roster []protocol.Player, wasHost, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, game := range r.games {
		idx := -1
		for i, m := range game.Members {
			if m.ID == peerID {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}

		if game.HostID == peerID {
			game.Phase = PhaseRemoved
			delete(r.games, id)
			return id, nil, true, true
		}

		game.Members = append(game.Members[:idx], game.Members[idx+1:]...)
		return id, rosterCopy(game.Members), false, true
	}
	return "", nil, false, false
}

// Members returns the current roster of a game.
func (r *Registry) Members(gameID string) ([]protocol.Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	game, ok := r.games[gameID]
	if !ok {
		return nil, false
	}
	return rosterCopy(game.Members), true
}

// List is a lazily computed snapshot of all non-removed games, used by
// both discover-games and the REST endpoint.
func (r *Registry) List() []protocol.GameInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]protocol.GameInfo, 0, len(r.games))
	for _, game := range r.games {
		hostName := ""
		if len(game.Members) > 0 {
			hostName = game.Members[0].Name
		}
		infos = append(infos, protocol.GameInfo{
			ID:          game.ID,
			HostName:    hostName,
			PlayerCount: len(game.Members),
			MaxPlayers:  game.Capacity,
			Status:      string(game.Phase),
			CreatedAt:   game.CreatedAt,
		})
	}
	return infos
}

func rosterCopy(members []protocol.Player) []protocol.Player {
	out := make([]protocol.Player, len(members))
	copy(out, members)
	return out
}
