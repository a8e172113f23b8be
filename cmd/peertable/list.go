package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/peertable/peertable/internal/ui"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List open games on the rendezvous server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listGames()
	},
}

func listGames() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	stopSpinner := ui.RunConnectionSpinner("Connecting to server...")
	defer stopSpinner()
	client, handler, err := connect(cfg)
	if err != nil {
		return err
	}
	defer client.Close()
	stopSpinner()

	client.Discover()

	select {
	case games, ok := <-handler.GamesList:
		if !ok {
			return fmt.Errorf("server connection closed")
		}
		fmt.Println()
		ui.RenderGamesTable(games)
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("timed out waiting for games list")
	}
}

func init() {
	rootCmd.AddCommand(listCmd)
}
