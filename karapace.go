package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amstee/karapace/cfg"
	"github.com/amstee/karapace/db"
	"github.com/amstee/karapace/master"
	"github.com/amstee/karapace/notify"
	"github.com/amstee/karapace/reader"
	"github.com/amstee/karapace/server"
	"github.com/amstee/karapace/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("node_id", cfg.Config.NodeID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Karapace - Kafka-backed Schema Registry")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	// Materialized view and the wait/notify surfaces around it
	database := db.NewInMemoryDatabase()
	watcher := reader.NewOffsetWatcher()
	hub := notify.NewHub()

	var leadership reader.LeadershipProvider = master.Standalone{}
	if !cfg.Config.Master.Eligibility {
		leadership = master.NewStatus(false)
	}

	// Connect to the schemas topic
	log.Info().
		Strs("bootstrap_servers", cfg.Config.Kafka.BootstrapServers).
		Str("topic", cfg.Config.Kafka.Topic).
		Msg("Connecting to schemas topic")

	dialCtx, dialCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Config.Kafka.DialTimeoutMS)*time.Millisecond,
	)
	consumer, err := reader.NewKafkaConsumer(dialCtx, reader.KafkaConsumerConfig{
		Brokers:       cfg.Config.Kafka.BootstrapServers,
		Topic:         cfg.Config.Kafka.Topic,
		Partition:     cfg.Config.Kafka.Partition,
		ClientID:      cfg.Config.Kafka.ClientID,
		DialTimeout:   time.Duration(cfg.Config.Kafka.DialTimeoutMS) * time.Millisecond,
		PollTimeout:   time.Duration(cfg.Config.Kafka.PollTimeoutMS) * time.Millisecond,
		MaxBatchBytes: cfg.Config.Kafka.MaxBatchBytes,
	})
	dialCancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to schemas topic")
		return
	}

	// Start replay and wait for the reader to catch up
	schemaReader := reader.NewSchemaReader(consumer, database, watcher, leadership, hub)
	schemaReader.Start()

	startupCtx, startupCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Config.Reader.StartupTimeoutSec)*time.Second,
	)
	if err := schemaReader.WaitReady(startupCtx); err != nil {
		startupCancel()
		schemaReader.Stop()
		log.Fatal().Err(err).Msg("Schema reader failed to catch up during startup")
		return
	}
	startupCancel()
	log.Info().Msg("Schema reader caught up, registry is serving")

	// Periodic stats collection
	collector := telemetry.NewMetricsCollector(database, watcher, 10*time.Second)
	collector.Start()
	defer collector.Stop()

	// Read-only HTTP surface
	var httpServer *server.Server
	if cfg.Config.HTTP.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.Config.HTTP.BindAddress, cfg.Config.HTTP.Port)
		httpServer, err = server.New(addr, database, schemaReader, hub, cfg.Config.HTTP.SchemaCacheSz)
		if err != nil {
			schemaReader.Stop()
			log.Fatal().Err(err).Msg("Failed to create HTTP server")
			return
		}
		httpServer.Start()
	}

	log.Info().
		Uint64("node_id", cfg.Config.NodeID).
		Str("topic", cfg.Config.Kafka.Topic).
		Int("http_port", cfg.Config.HTTP.Port).
		Msg("Schema registry is operational")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutdown signal received, stopping registry...")
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Stop(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP server shutdown failed")
		}
		shutdownCancel()
	}
	schemaReader.Stop()

	log.Info().Msg("Schema registry stopped")
}
