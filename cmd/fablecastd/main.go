package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fablecast/fablecast/internal/config"
	"github.com/fablecast/fablecast/internal/runtime"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		showVersion bool
		unitID      string
		runOnce     bool
	)

	flag.StringVar(&configPath, "config", "fablecast.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.StringVar(&unitID, "unit", "", "Process only this unit")
	flag.BoolVar(&runOnce, "once", false, "Run a single sweep and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	// Local .env files carry the API keys; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Telemetry.LogLevel),
	}))

	rt := runtime.New(cfg, runtime.Options{UnitFilter: unitID, RunOnce: runOnce}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
