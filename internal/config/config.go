// Package config layers the CLI's settings: flags beat environment
// variables beat defaults.
package config

import (
	"fmt"
	"os"
)

// Default configuration values.
const (
	DefaultDomain = "play.peertable.io"
	DefaultSTUN   = "stun:stun.l.google.com:19302"
)

// Config holds the player CLI's configuration.
type Config struct {
	// Domain is the rendezvous server domain (host or host:port).
	Domain string

	// Insecure switches the websocket to ws:// for local servers.
	Insecure bool

	// WebSocketURL is constructed from Domain and Insecure.
	WebSocketURL string

	// STUNServer is the ICE server used during negotiation.
	STUNServer string

	// PlayerName is the display name announced to other players.
	PlayerName string
}

// Options carries CLI flag overrides into Load.
type Options struct {
	Domain     string
	Insecure   bool
	STUNServer string
	PlayerName string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	domain := opts.Domain
	if domain == "" {
		domain = os.Getenv("PEERTABLE_DOMAIN")
	}
	if domain == "" {
		domain = DefaultDomain
	}

	stunServer := opts.STUNServer
	if stunServer == "" {
		stunServer = os.Getenv("PEERTABLE_STUN")
	}
	if stunServer == "" {
		stunServer = DefaultSTUN
	}

	playerName := opts.PlayerName
	if playerName == "" {
		playerName = os.Getenv("PEERTABLE_NAME")
	}
	if playerName == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "player"
		}
		playerName = hostname
	}

	scheme := "wss"
	if opts.Insecure || os.Getenv("PEERTABLE_INSECURE") == "1" {
		scheme = "ws"
	}

	return &Config{
		Domain:       domain,
		Insecure:     scheme == "ws",
		WebSocketURL: fmt.Sprintf("%s://%s/ws", scheme, domain),
		STUNServer:   stunServer,
		PlayerName:   playerName,
	}, nil
}

// GetSTUNServers returns the STUN server URLs for the connection manager.
func (c *Config) GetSTUNServers() []string {
	return []string{c.STUNServer}
}
