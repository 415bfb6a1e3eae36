package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/app"
	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/server"
)

var (
	// Command-line flags
	dataDir        = flag.String("dir", "", "Data directory holding conductor.toml and the database")
	serverPort     = flag.Int("port", 0, "Server port (overrides config)")
	serverHost     = flag.String("host", "", "Server host (overrides config)")
	debugLog       = flag.Bool("debug", false, "Enable debug logging")
	noAuth         = flag.Bool("no-auth", false, "Disable authentication; every request acts as operator")
	insecureCookie = flag.Bool("insecure-cookie", false, "Allow session cookies over plain HTTP")
	showVersion    = flag.Bool("version", false, "Print version information")
)

func main() {
	// Subcommands take over before flag parsing.
	if len(os.Args) > 1 && os.Args[1] == "user" {
		os.Exit(runUserCommand(os.Args[2:]))
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("Conductor version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	config, logger := loadConfig()

	common.PrintBanner(common.GetVersion())

	logger.Info().
		Str("data_dir", config.DataDir).
		Int("port", config.Server.Port).
		Str("host", config.Server.Host).
		Msg("Configuration loaded")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer application.Close()

	srv := server.New(application)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Fatal().Str("panic", fmt.Sprintf("%v", r)).Msg("Server goroutine panicked")
			}
		}()

		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Give the listener a moment to come up before announcing readiness
	time.Sleep(100 * time.Millisecond)

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Msg("Server ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info().Msg("Interrupt signal received")

	logger.Info().Msg("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}

	logger.Info().Msg("Server stopped")
}

// loadConfig resolves the data directory, loads conductor.toml when present
// and applies CLI overrides on top.
func loadConfig() (*common.Config, arbor.ILogger) {
	dir := *dataDir
	if dir == "" {
		dir = "."
	}

	configFile := filepath.Join(dir, "conductor.toml")
	if _, err := os.Stat(configFile); err != nil {
		// A missing file falls back to defaults; the directory still anchors
		// the database path.
		configFile = ""
	}

	config, err := common.LoadFromFiles(configFile)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Str("path", configFile).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	if *dataDir != "" {
		config.DataDir = *dataDir
		config.Storage.Badger.Path = filepath.Join(*dataDir, "db")
	}
	if *serverPort != 0 {
		config.Server.Port = *serverPort
	}
	if *serverHost != "" {
		config.Server.Host = *serverHost
	}
	if *debugLog {
		config.Logging.Level = "debug"
	}
	if *noAuth {
		config.Auth.Disabled = true
	}
	if *insecureCookie {
		config.Server.InsecureCookie = true
	}

	logger := common.InitLogger(config)
	return config, logger
}
