// Command authd is the authorization server. It hands trading parameter
// snapshots to pairbot processes, tracks their heartbeat sessions, and
// acts as the remote kill switch.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantfell/pairbot/internal/authserver"
	"github.com/quantfell/pairbot/internal/config"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to server configuration file")
	paramsPath := flag.String("params", "", "path to initial trading parameters JSON")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	params, err := loadParams(*paramsPath)
	if err != nil {
		logger.Error("failed to load trading parameters",
			slog.String("path", *paramsPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	state := authserver.NewConfigState(params)
	hub := authserver.NewHub(logger)
	srv := authserver.NewServer(authserver.Options{
		Port:          cfg.Port,
		AdminToken:    cfg.AdminToken,
		VerifyWindow:  cfg.VerifyWindow.Duration,
		PurgeWindow:   cfg.PurgeWindow.Duration,
		SweepInterval: cfg.SweepInterval.Duration,
	}, state, hub, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return srv.RunSweep(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("authd exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger.Info("authd stopped")
}

// loadParams reads the initial parameter set, falling back to safe
// defaults when no file is given.
func loadParams(path string) (config.TradingParams, error) {
	params := config.TradingParams{
		ConfigVersion:     1,
		HeartbeatInterval: 30,
		EntryGapThreshold: 20,
		TargetProfit:      10,
		Leverage:          3,
		PositionNotional:  1000,
	}
	if path == "" {
		return params, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return config.TradingParams{}, err
	}
	if err := json.Unmarshal(data, &params); err != nil {
		return config.TradingParams{}, err
	}
	if err := params.Validate(); err != nil {
		return config.TradingParams{}, err
	}
	return params, nil
}

// logLevel maps the config value onto a slog level.
func logLevel(s string) slog.Level {
	switch s {
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
