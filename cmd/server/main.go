// Blockvest - risk assessment service for peer-to-peer investments
package main

import (
	"context"
	"os"

	"github.com/blockvest/blockvest/internal/config"
	"github.com/blockvest/blockvest/internal/logging"
	"github.com/blockvest/blockvest/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Bootstrap logger until the configured level and format are known
	logger := logging.New("info", "text")

	logger.Info("starting blockvest risk service",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("configuration loaded",
		"env", cfg.Env,
		"postgres", cfg.DatabaseURL != "",
		"redis", cfg.RedisURL != "",
		"tracing", cfg.OTLPEndpoint != "",
		"stale_after", cfg.StaleAfter,
		"source_timeout", cfg.SourceTimeout,
	)

	// Create and run server
	srv, err := server.New(cfg, server.WithLogger(logger), server.WithVersion(Version))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
