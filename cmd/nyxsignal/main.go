package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luciancaetano/nyxsignal/internal/bridge"
	"github.com/luciancaetano/nyxsignal/internal/config"
	"github.com/luciancaetano/nyxsignal/internal/logging"
	"github.com/luciancaetano/nyxsignal/internal/metrics"
	"github.com/luciancaetano/nyxsignal/ws"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("nyxsignal", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	addr := fs.String("addr", "", "listen address, overrides config and environment")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", "", "log format (json, console)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath, os.Getenv)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logFormat != "" {
		cfg.LogFormat = *logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		return err
	}

	logger.Info().
		Str("addr", cfg.Addr).
		Int("max_message_bytes", cfg.MaxMessageBytes).
		Int("rate_limit_messages", cfg.RateLimitMessages).
		Dur("rate_limit_window", cfg.RateLimitWindow).
		Dur("heartbeat_interval", cfg.HeartbeatInterval).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Bool("trust_proxy_headers", cfg.TrustProxyHeaders).
		Bool("bridge", cfg.BridgeURL != "").
		Msg("starting nyxsignal")

	m := metrics.New()
	serverCfg := ws.NewConfig(cfg.Addr, limitsFrom(cfg), ws.AllowOrigins(cfg.AllowedOrigins...), nil, nil)
	serverCfg.Logger = &logger
	serverCfg.Metrics = m
	serverCfg.TrustProxyHeaders = cfg.TrustProxyHeaders

	if cfg.BridgeURL != "" {
		b, err := bridge.New(cfg.BridgeURL, bridge.Options{
			Channel: cfg.BridgeChannel,
			Logger:  &logger,
			Metrics: m,
		})
		if err != nil {
			return fmt.Errorf("start bridge: %w", err)
		}
		serverCfg.Bridge = b
	}

	relay := ws.New(serverCfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := relay.Start(context.Background()); err != nil {
		if serverCfg.Bridge != nil {
			_ = serverCfg.Bridge.Close()
		}
		return err
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := relay.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown incomplete")
		return err
	}

	st := relay.Stats()
	logger.Info().
		Int("rooms", st.Rooms).
		Int("connections", st.Connections).
		Interface("events", m.Snapshot()).
		Msg("stopped")
	return nil
}

func limitsFrom(cfg config.Config) ws.Limits {
	return ws.Limits{
		MaxMessageBytes:      cfg.MaxMessageBytes,
		RateLimitMessages:    cfg.RateLimitMessages,
		RateLimitWindow:      cfg.RateLimitWindow,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		SendQueueSize:        cfg.SendQueueSize,
		WriteTimeout:         cfg.WriteTimeout,
		MaxUpgradesPerSecond: cfg.MaxUpgradesPerSecond,
		UpgradeBurst:         cfg.UpgradeBurst,
	}
}
