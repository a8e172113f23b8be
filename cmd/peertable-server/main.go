package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/peertable/peertable/internal/lobbyserver"
	"github.com/peertable/peertable/internal/logging"
	"github.com/peertable/peertable/internal/server"
)

type Config struct {
	Addr     string `envconfig:"ADDR" default:":8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

func loadConfig() (*Config, error) {
	config := new(Config)
	if err := envconfig.Process("PEERTABLE", config); err != nil {
		return nil, err
	}
	return config, nil
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func erringMain() error {
	config, err := loadConfig()
	if err != nil {
		return fmt.Errorf("could not process config: %w", err)
	}

	logger := logging.New(logLevel(config.LogLevel))
	slog.SetDefault(logger)

	registry := lobbyserver.NewRegistry()
	hub := lobbyserver.NewHub(registry, logger)
	go hub.Run()

	srv := &http.Server{
		Addr:    config.Addr,
		Handler: server.SetupRoutes(hub),
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("rendezvous server listening", "addr", config.Addr)
		errc <- srv.ListenAndServe()
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-signalChan:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func main() {
	if err := erringMain(); err != nil {
		fmt.Fprintf(os.Stderr, "peertable-server: %v\n", err)
		os.Exit(1)
	}
}
