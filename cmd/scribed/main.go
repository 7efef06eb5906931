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

	"github.com/panyeroa1/translateq/internal/agc"
	"github.com/panyeroa1/translateq/internal/capture"
	"github.com/panyeroa1/translateq/internal/config"
	"github.com/panyeroa1/translateq/internal/metrics"
	"github.com/panyeroa1/translateq/internal/playback"
	"github.com/panyeroa1/translateq/internal/relay"
	"github.com/panyeroa1/translateq/internal/server"
	"github.com/panyeroa1/translateq/internal/session"
	"github.com/panyeroa1/translateq/internal/sessionlog"
	"github.com/panyeroa1/translateq/internal/settings"
	"github.com/panyeroa1/translateq/internal/sink"
	"github.com/panyeroa1/translateq/internal/transport"
	"github.com/panyeroa1/translateq/internal/turn"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "translateq"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	playbackDir := flag.String("playback-dir", "playback", "Directory for rendered playback segments")
	autoStart := flag.Bool("start", false, "Begin a capture session immediately")
	flag.Parse()

	// Load optional .env overrides before reading the config
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Environment overrides keep credentials out of the config file
	if key := os.Getenv("SPEECH_API_KEY"); key != "" {
		cfg.Speech.APIKey = key
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("speech_url", cfg.Speech.URL),
		slog.String("speech_model", cfg.Speech.Model),
		slog.String("capture_device", cfg.Capture.Device),
		slog.Float64("turn_inactivity_timeout", cfg.Turn.InactivityTimeout),
		slog.Int("turn_sentence_threshold", cfg.Turn.SentenceThreshold),
		slog.Bool("relay_enabled", cfg.Relay.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Microphone capture path
	device, err := capture.NewPCMDevice(cfg.Capture.Device)
	if err != nil {
		logger.Error("Failed to create capture device", slog.String("error", err.Error()))
		os.Exit(1)
	}
	controller := agc.NewController()
	pipeline, err := capture.NewPipeline(device, controller, logger)
	if err != nil {
		logger.Error("Failed to create capture pipeline", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Playback path rendering agent audio to WAV segments
	clock := playback.NewSystemClock()
	fileSink, err := playback.NewFileSink(*playbackDir, clock, logger)
	if err != nil {
		logger.Error("Failed to create playback sink", slog.String("error", err.Error()))
		os.Exit(1)
	}
	player, err := playback.NewScheduler(fileSink, clock, nil, logger)
	if err != nil {
		logger.Error("Failed to create playback scheduler", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Turn finalization and session log
	turns := turn.NewMachine(turn.Options{
		InactivityTimeout: cfg.Turn.GetInactivityTimeout(),
		SentenceThreshold: cfg.Turn.SentenceThreshold,
		FinalizeDelay:     cfg.Turn.GetFinalizeDelay(),
	}, nil, logger)
	sessionLog := sessionlog.NewLog(logger)

	// Transcription relay with optional local mirror
	hub := relay.NewHub(logger)
	var mirror *relay.Mirror
	if cfg.Relay.Enabled {
		mirror, err = relay.ConnectMirror(cfg.Relay.URL, hub, logger)
		if err != nil {
			// The mirror is best effort; the session runs without it
			logger.Warn("Relay mirror unavailable",
				slog.String("url", cfg.Relay.URL),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("Relay mirror connected", slog.String("url", cfg.Relay.URL))
		}
	}

	// External delivery sinks
	var sinks []sink.Sink
	if cfg.Sinks.LoggingURL != "" {
		loggingSink, err := sink.NewLoggingSink(cfg.Sinks.LoggingURL)
		if err != nil {
			logger.Error("Failed to create logging sink", slog.String("error", err.Error()))
			os.Exit(1)
		}
		sinks = append(sinks, loggingSink)
	}
	if cfg.Sinks.WebhookURL != "" {
		webhookSink, err := sink.NewWebhookSink(cfg.Sinks.WebhookURL)
		if err != nil {
			logger.Error("Failed to create webhook sink", slog.String("error", err.Error()))
			os.Exit(1)
		}
		sinks = append(sinks, webhookSink)
	}
	fanout := sink.NewFanout(logger, sinks...)
	fanout.SetObserver(appMetrics.RecordSinkDelivery)

	// Persisted user settings
	store, err := settings.NewStore(cfg.Settings.Path, logger)
	if err != nil {
		logger.Error("Failed to load user settings", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Session manager ties the pieces together
	manager, err := session.NewManager(session.Deps{
		Config:     cfg,
		Logger:     logger,
		Metrics:    appMetrics,
		Controller: controller,
		Pipeline:   pipeline,
		Player:     player,
		Turns:      turns,
		Log:        sessionLog,
		Hub:        hub,
		Fanout:     fanout,
		Settings:   store,
	})
	if err != nil {
		logger.Error("Failed to create session manager", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Speech service transport feeding the manager
	client, err := transport.NewClient(manager.HandleEvent, logger)
	if err != nil {
		logger.Error("Failed to create speech transport", slog.String("error", err.Error()))
		os.Exit(1)
	}
	manager.SetTransport(client)
	logger.Info("Session manager initialized",
		slog.String("session_id", sessionLog.SessionID()),
	)

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, manager, store, appMetrics)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	// Optionally begin capturing right away
	if *autoStart {
		if err := manager.Start(ctx); err != nil {
			logger.Error("Failed to start session", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop the session (releases the microphone and upstream connection)
	manager.Stop()

	// Detach the relay mirror and flush any open playback segment
	if mirror != nil {
		mirror.Close()
	}
	fileSink.Flush()

	// Get final statistics
	stats := manager.GetStats()
	logger.Info("Final session statistics",
		slog.Uint64("frames_read", stats.Capture.FramesRead),
		slog.Uint64("chunks_emitted", stats.Capture.ChunksEmitted),
		slog.Uint64("turns_finalized", stats.Turns.TurnsFinalized),
		slog.Uint64("relay_delivered", stats.Relay.Delivered),
		slog.Uint64("sink_deliveries", stats.Sinks.Delivered),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
