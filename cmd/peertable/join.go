package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/peertable/peertable/internal/game"
	"github.com/peertable/peertable/internal/gameid"
	"github.com/peertable/peertable/internal/lobbyclient"
	"github.com/peertable/peertable/internal/protocol"
	"github.com/peertable/peertable/internal/session"
	"github.com/peertable/peertable/internal/ui"
	"github.com/peertable/peertable/internal/webrtc"
)

var joinCmd = &cobra.Command{
	Use:   "join GAME_ID",
	Short: "Join an existing game",
	Long: `Join a game by id as a guest.

Examples:
  peertable join fluffy-otter-stardust
  peertable join fluffy-otter-stardust --name Grace`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinGame(args[0])
	},
}

func joinGame(gameID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	self := protocol.Player{ID: gameid.NewPeerID(), Name: cfg.PlayerName}

	stopSpinner := ui.RunConnectionSpinner("Connecting to server...")
	defer stopSpinner()
	client, handler, err := connect(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Register(self.ID, "", "", false); err != nil {
		return err
	}
	if err := client.Join(gameID, self.Name); err != nil {
		return err
	}
	stopSpinner()

	roster, err := awaitJoin(handler, self.ID)
	if err != nil {
		return err
	}

	ui.PrintSuccessf("Joined %s (%d players)", gameID, len(roster.Players))

	manager := webrtc.NewManager(webrtc.Config{
		STUNServers: cfg.GetSTUNServers(),
		Logger:      slog.Default(),
	})
	sess := session.New(self, gameID, game.MoveLog{}, manager, client, slog.Default())

	// The join broadcast arrived before the session existed; replay it so
	// the roster is seeded.
	sess.HandleRoster(true, roster.PlayerID, roster.Players)

	return runSession(sess, handler, self)
}

// awaitJoin waits for the roster broadcast that includes our own id (the
// server's way of confirming the join) or for a join-error.
func awaitJoin(handler *lobbyclient.Handler, selfID string) (*lobbyclient.RosterEvent, error) {
	stopSpinner := ui.RunWaitingSpinner("Joining game...")
	defer stopSpinner()

	for {
		select {
		case ev, ok := <-handler.Roster:
			if !ok {
				return nil, fmt.Errorf("server connection closed")
			}
			if ev.Joined && ev.PlayerID == selfID {
				return ev, nil
			}
		case msg, ok := <-handler.JoinError:
			if !ok {
				return nil, fmt.Errorf("server connection closed")
			}
			return nil, fmt.Errorf("%s", msg)
		case <-time.After(10 * time.Second):
			return nil, fmt.Errorf("timed out joining game")
		}
	}
}

func init() {
	rootCmd.AddCommand(joinCmd)
}
