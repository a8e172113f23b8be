package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peertable/peertable/internal/lobbyclient"
	"github.com/peertable/peertable/internal/protocol"
	"github.com/peertable/peertable/internal/session"
	"github.com/peertable/peertable/internal/ui"
)

// peerStatus is the runner's per-peer view for the roster table.
type peerStatus struct {
	connected bool
	rtt       time.Duration
}

// runSession drives a hosted or joined game: it bridges relayed signaling
// into the session, prints session updates, and reads player commands
// from a minimal line prompt until the game ends or the player quits.
func runSession(sess *session.Session, handler *lobbyclient.Handler, self protocol.Player) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go bridgeSignaling(ctx, sess, handler)

	runErr := make(chan error, 1)
	go func() {
		runErr <- sess.Run(ctx)
	}()

	lines := readLines()

	roster := []protocol.Player{self}
	peers := make(map[string]*peerStatus)

	for {
		select {
		case update, ok := <-sess.Updates():
			if !ok {
				err := <-runErr
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			roster = printUpdate(update, roster, peers, self, stop)

		case line, ok := <-lines:
			if !ok {
				stop()
				continue
			}
			handleLine(line, sess, roster, peers, self, stop)
		}
	}
}

// bridgeSignaling feeds relayed signaling into the session until the
// context ends or the handler channels close (the server socket died).
func bridgeSignaling(ctx context.Context, sess *session.Session, handler *lobbyclient.Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-handler.Roster:
			if !ok {
				return
			}
			sess.HandleRoster(ev.Joined, ev.PlayerID, ev.Players)
		case ev, ok := <-handler.Offer:
			if !ok {
				return
			}
			sess.HandleOffer(ev.From, ev.Description)
		case ev, ok := <-handler.Answer:
			if !ok {
				return
			}
			sess.HandleAnswer(ev.From, ev.Description)
		case ev, ok := <-handler.Candidate:
			if !ok {
				return
			}
			sess.HandleCandidate(ev.From, ev.Candidate)
		case msg, ok := <-handler.JoinError:
			if !ok {
				return
			}
			ui.PrintError(msg)
		}
	}
}

func printUpdate(update session.Update, roster []protocol.Player, peers map[string]*peerStatus, self protocol.Player, stop func()) []protocol.Player {
	switch u := update.(type) {
	case session.RosterChanged:
		roster = u.Players
		names := make([]string, len(u.Players))
		for i, p := range u.Players {
			names[i] = p.Name
		}
		ui.PrintInfof("Players: %s", strings.Join(names, ", "))

	case session.PeerConnected:
		status(peers, u.PeerID).connected = true
		ui.PrintSuccessf("Connected to %s", playerName(roster, u.PeerID))

	case session.PeerDown:
		status(peers, u.PeerID).connected = false
		ui.PrintWarning(fmt.Sprintf("%s disconnected", playerName(roster, u.PeerID)))

	case session.HostGone:
		ui.PrintError("Host is gone - game over")
		stop()

	case session.StateApplied:
		printState(u.State)

	case session.MoveRejected:
		ui.PrintError(u.Message)

	case session.PeerRTT:
		status(peers, u.PeerID).rtt = u.RTT
	}
	return roster
}

func handleLine(line string, sess *session.Session, roster []protocol.Player, peers map[string]*peerStatus, self protocol.Player, stop func()) {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch cmd {
	case "":

	case "help":
		fmt.Println("Commands: start | move TEXT | players | quit")

	case "start":
		if err := sess.Start(); err != nil {
			ui.PrintError(err.Error())
		}

	case "move", "m":
		if rest == "" {
			ui.PrintError("usage: move TEXT")
			return
		}
		move, err := json.Marshal(rest)
		if err != nil {
			ui.PrintError(err.Error())
			return
		}
		sess.SubmitMove(move)

	case "players", "p":
		rows := make([]ui.RosterRow, len(roster))
		for i, p := range roster {
			row := ui.RosterRow{Player: p}
			if st, ok := peers[p.ID]; ok {
				row.Connected = st.connected
				row.RTT = st.rtt
			}
			rows[i] = row
		}
		ui.RenderRosterTable(rows, self.ID)

	case "quit", "q", "exit":
		stop()

	default:
		ui.PrintErrorf("unknown command %q - type 'help'", cmd)
	}
}

func printState(raw json.RawMessage) {
	// The snapshot is opaque to the session layer; render the move log
	// shape when it parses, raw JSON otherwise.
	var state struct {
		Players []string `json:"players"`
		Turn    int      `json:"turn"`
		Moves   []struct {
			PlayerID string          `json:"playerId"`
			Move     json.RawMessage `json:"move"`
		} `json:"moves"`
	}
	if err := json.Unmarshal(raw, &state); err != nil || len(state.Players) == 0 {
		ui.PrintInfof("State: %s", string(raw))
		return
	}

	if len(state.Moves) > 0 {
		last := state.Moves[len(state.Moves)-1]
		ui.PrintInfof("Move %d by %s: %s", len(state.Moves), last.PlayerID, string(last.Move))
	}
	next := state.Players[state.Turn%len(state.Players)]
	ui.PrintInfof("Next turn: %s", next)
}

func readLines() <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

func status(peers map[string]*peerStatus, peerID string) *peerStatus {
	if st, ok := peers[peerID]; ok {
		return st
	}
	st := &peerStatus{}
	peers[peerID] = st
	return st
}

func playerName(roster []protocol.Player, peerID string) string {
	for _, p := range roster {
		if p.ID == peerID {
			return p.Name
		}
	}
	return peerID
}
