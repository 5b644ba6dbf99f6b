package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/poshub/internal/auth"
	"github.com/adred-codev/poshub/internal/clock"
	"github.com/adred-codev/poshub/internal/config"
	"github.com/adred-codev/poshub/internal/hub"
	"github.com/adred-codev/poshub/internal/lock"
	"github.com/adred-codev/poshub/internal/monitoring"
	"github.com/adred-codev/poshub/internal/store"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	cfg, err := config.Load(nil)
	if err != nil {
		bootstrap := monitoring.NewLogger(monitoring.LoggerConfig{Level: "info", Format: "json"})
		bootstrap.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := monitoring.NewLogger(monitoring.LoggerConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	cfg.LogConfig(logger)

	// Wiring is unidirectional: clock, store and lock manager first, then
	// the session layer over them.
	clk := &clock.Clock{}
	eventStore := store.New(cfg.MaxEvents, logger)
	lockManager := lock.NewManager(cfg.LockTTL, cfg.SweepInterval(), logger)
	authenticator := auth.NewStaticAuthenticator(
		auth.DefaultUsers(),
		auth.NewJWTManager(cfg.JWTSecret, cfg.SessionTTL),
	)

	server := hub.New(cfg, logger, clk, eventStore, lockManager, authenticator)
	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start hub")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("Shutting down")
	if err := server.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
	}
	lockManager.Shutdown()
}
