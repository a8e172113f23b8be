package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/peertable/peertable/internal/config"
	"github.com/peertable/peertable/internal/lobbyclient"
	"github.com/peertable/peertable/internal/ui"
	"github.com/peertable/peertable/internal/version"
)

var (
	flagDomain   string
	flagSTUN     string
	flagInsecure bool
	flagName     string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "peertable",
	Short:   "Peer-to-peer turn-based game sessions over WebRTC",
	Long:    `PeerTable hosts and joins small turn-based game sessions that run directly between players. A rendezvous server handles discovery and connection negotiation; once peers are linked, all gameplay traffic flows peer-to-peer with the host as the authority.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(config.Options{
		Domain:     flagDomain,
		Insecure:   flagInsecure,
		STUNServer: flagSTUN,
		PlayerName: flagName,
	})
}

// connect dials the rendezvous server and starts the message handler.
func connect(cfg *config.Config) (*lobbyclient.Client, *lobbyclient.Handler, error) {
	client := lobbyclient.NewClient(cfg.WebSocketURL)
	if err := client.Connect(); err != nil {
		return nil, nil, err
	}

	handler := lobbyclient.NewHandler(client)
	go handler.Start()

	return client, handler, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagDomain, "domain", "d", "", "Custom rendezvous server domain")
	rootCmd.PersistentFlags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	rootCmd.PersistentFlags().BoolVarP(&flagInsecure, "insecure", "k", false, "Use ws:// instead of wss://")
	rootCmd.PersistentFlags().StringVarP(&flagName, "name", "n", "", "Display name shown to other players")
}
