package config_test

import (
	"testing"

	"github.com/matryer/is"

	"github.com/peertable/peertable/internal/config"
)

func TestDefaults(t *testing.T) {
	is := is.New(t)

	cfg, err := config.Load(config.Options{})
	is.NoErr(err)
	is.Equal(cfg.Domain, config.DefaultDomain)
	is.Equal(cfg.STUNServer, config.DefaultSTUN)
	is.Equal(cfg.WebSocketURL, "wss://"+config.DefaultDomain+"/ws")
	is.True(!cfg.Insecure)
	is.True(cfg.PlayerName != "")
}

func TestEnvironmentBeatsDefaults(t *testing.T) {
	is := is.New(t)

	t.Setenv("PEERTABLE_DOMAIN", "lobby.example.com:9000")
	t.Setenv("PEERTABLE_STUN", "stun:stun.example.com:3478")
	t.Setenv("PEERTABLE_NAME", "ada")
	t.Setenv("PEERTABLE_INSECURE", "1")

	cfg, err := config.Load(config.Options{})
	is.NoErr(err)
	is.Equal(cfg.Domain, "lobby.example.com:9000")
	is.Equal(cfg.STUNServer, "stun:stun.example.com:3478")
	is.Equal(cfg.PlayerName, "ada")
	is.True(cfg.Insecure)
	is.Equal(cfg.WebSocketURL, "ws://lobby.example.com:9000/ws")
}

func TestFlagsBeatEnvironment(t *testing.T) {
	is := is.New(t)

	t.Setenv("PEERTABLE_DOMAIN", "lobby.example.com")
	t.Setenv("PEERTABLE_NAME", "ada")

	cfg, err := config.Load(config.Options{
		Domain:     "localhost:8080",
		Insecure:   true,
		PlayerName: "grace",
	})
	is.NoErr(err)
	is.Equal(cfg.Domain, "localhost:8080")
	is.Equal(cfg.PlayerName, "grace")
	is.Equal(cfg.WebSocketURL, "ws://localhost:8080/ws")
	is.Equal(cfg.GetSTUNServers(), []string{config.DefaultSTUN})
}
