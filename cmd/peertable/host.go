package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/peertable/peertable/internal/game"
	"github.com/peertable/peertable/internal/gameid"
	"github.com/peertable/peertable/internal/protocol"
	"github.com/peertable/peertable/internal/session"
	"github.com/peertable/peertable/internal/ui"
	"github.com/peertable/peertable/internal/webrtc"
)

var flagGameID string

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Create a game and wait for players",
	Long: `Create a new game on the rendezvous server and host it.

Examples:
  peertable host
  peertable host --name Ada
  peertable host --game fluffy-otter-stardust --domain localhost:8080 --insecure`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return hostGame()
	},
}

func hostGame() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	gameID := flagGameID
	if gameID == "" {
		gameID = gameid.NewGameID()
	}
	self := protocol.Player{ID: gameid.NewPeerID(), Name: cfg.PlayerName, Host: true}

	stopSpinner := ui.RunConnectionSpinner("Connecting to server...")
	defer stopSpinner()
	client, handler, err := connect(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Register(self.ID, gameID, self.Name, true); err != nil {
		return err
	}
	stopSpinner()

	ui.RenderGameInfo(gameID, self.Name)
	ui.PrintInfo("Waiting for players. Type 'help' for commands.")

	manager := webrtc.NewManager(webrtc.Config{
		STUNServers: cfg.GetSTUNServers(),
		Logger:      slog.Default(),
	})
	sess := session.New(self, gameID, game.MoveLog{}, manager, client, slog.Default())

	return runSession(sess, handler, self)
}

func init() {
	rootCmd.AddCommand(hostCmd)

	hostCmd.Flags().StringVarP(&flagGameID, "game", "g", "", "Game ID to create (generated when omitted)")
}
