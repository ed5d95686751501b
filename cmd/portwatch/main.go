package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/portwatch/portwatch/internal/alerter"
	"github.com/portwatch/portwatch/internal/api"
	"github.com/portwatch/portwatch/internal/clock"
	"github.com/portwatch/portwatch/internal/config"
	"github.com/portwatch/portwatch/internal/notifier"
	"github.com/portwatch/portwatch/internal/prober"
	"github.com/portwatch/portwatch/internal/scheduler"
	"github.com/portwatch/portwatch/internal/store"
	"github.com/portwatch/portwatch/internal/types"
	"github.com/portwatch/portwatch/internal/uptime"
	"github.com/portwatch/portwatch/internal/version"
	"github.com/portwatch/portwatch/internal/webui"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "/config/monitor.yaml", "Path to monitor configuration")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		os.Stdout.WriteString(version.Get().String() + "\n")
		return
	}

	// Create log buffer for the API (captures last 1000 log entries)
	logBuffer := webui.NewLogBuffer(1000)

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logLevelParsed, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logLevelParsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevelParsed)

	// Write to both stdout and the log buffer
	multiWriter := io.MultiWriter(os.Stdout, logBuffer)
	info := version.Get()
	logger := zerolog.New(multiWriter).With().
		Timestamp().
		Str("version", info.Version).
		Str("commit", info.Commit).
		Logger()

	logger.Info().Msg("Starting portwatch")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("config_path", *configPath).
			Msg("Failed to load configuration")
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load display timezone")
	}

	logger.Info().
		Int("seed_endpoints", len(cfg.Endpoints)).
		Dur("check_interval", cfg.Global.CheckInterval).
		Int("failure_threshold", cfg.Global.FailureThreshold).
		Msg("Configuration loaded")

	clk := clock.Real{}

	st, err := store.Open(cfg.Storage.Path, clk, logger)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("path", cfg.Storage.Path).
			Msg("Failed to open database")
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seed := make([]types.Endpoint, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		seed = append(seed, types.Endpoint{Name: ep.Name, Host: ep.Host, Port: ep.Port, Public: ep.Public})
	}
	if n, err := st.SeedIfEmpty(ctx, seed); err != nil {
		logger.Fatal().Err(err).Msg("Failed to seed endpoints")
	} else if n > 0 {
		logger.Info().Int("count", n).Msg("Seeded endpoint registry from configuration")
	}

	// Create notifier
	recipients, err := notifier.FromConfig(cfg.Notifications.Channels, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to configure notification channels")
	}
	dispatcher := notifier.NewDispatcher(recipients, loc, logger)

	var flap *alerter.FlapDetector
	if cfg.Notifications.FlapDetection.Enabled {
		flap = alerter.NewFlapDetector(logger, cfg.Notifications.FlapDetection.Threshold, cfg.Notifications.FlapDetection.Window, clk)
	}

	// Create alert engine
	alertEngine := alerter.NewEngine(cfg.Global.FailureThreshold, st, dispatcher, flap, clk, logger)

	calc := uptime.NewCalculator(st, clk, loc, logger)

	sched := scheduler.New(prober.New(nil, logger), st, st, alertEngine, scheduler.Options{
		Interval: cfg.Global.CheckInterval,
		Policy: prober.Policy{
			Timeout:    cfg.Global.CheckSingleTimeout,
			Retries:    cfg.Global.CheckRetries,
			RetryDelay: cfg.Global.CheckRetryDelay,
		},
		MaxConcurrent: cfg.Global.MaxConcurrentProbes,
	}, clk, logger)

	hub := api.NewHub(logger)
	go hub.Run(ctx)
	sched.OnCycle(hub.PublishCycle)

	if err := sched.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	apiServer := api.NewServer(st, alertEngine, calc, sched, hub, logger, strconv.Itoa(cfg.API.Port))
	apiServer.SetLogBuffer(logBuffer)
	apiServer.SetUptimeWindow(cfg.Global.UptimeWindow)
	apiServer.SetVersion(info)

	go func() {
		if err := apiServer.Start(ctx); err != nil {
			logger.Error().
				Err(err).
				Msg("API server error")
		}
	}()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info().
		Int("port", cfg.API.Port).
		Msg("portwatch running, press Ctrl+C to stop")

	<-sigChan
	logger.Info().Msg("Shutting down...")

	sched.Stop()
	cancel()
	logger.Info().Msg("portwatch stopped")
}
