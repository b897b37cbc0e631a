// Package main is the entry point for the OPC UA monitored-item server.
// It initializes all components and manages the application lifecycle.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexus-edge/opcua-server/internal/adapter/config"
	"github.com/nexus-edge/opcua-server/internal/adapter/mqtt"
	"github.com/nexus-edge/opcua-server/internal/health"
	"github.com/nexus-edge/opcua-server/internal/metrics"
	"github.com/nexus-edge/opcua-server/internal/monitor"
	"github.com/nexus-edge/opcua-server/internal/service"
	"github.com/nexus-edge/opcua-server/pkg/logging"
)

const (
	serviceName    = "opcua-server"
	serviceVersion = "1.0.0"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger := logging.New(serviceName, serviceVersion, cfg.Logging.Level, cfg.Logging.Format)
	logger.Info().Str("env", cfg.Service.Environment).Msg("Starting OPC UA monitored-item server")

	// Initialize metrics
	metricsRegistry := metrics.NewRegistry()

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Build the address space from the node-set file
	space, err := config.LoadNodes(cfg.NodesConfigPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load node definitions")
	}
	logger.Info().Int("count", space.Len()).Msg("Loaded address space nodes")

	// Initialize MQTT publisher
	mqttPublisher, err := mqtt.NewPublisher(mqtt.Config{
		BrokerURL:      cfg.MQTT.BrokerURL,
		ClientID:       cfg.MQTT.ClientID,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		TopicPrefix:    cfg.MQTT.TopicPrefix,
		QoS:            byte(cfg.MQTT.QoS),
		KeepAlive:      cfg.MQTT.KeepAlive,
		CleanSession:   cfg.MQTT.CleanSession,
		ReconnectDelay: cfg.MQTT.ReconnectDelay,
	}, logger, metricsRegistry)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create MQTT publisher")
	}

	if err := mqttPublisher.Connect(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to MQTT broker")
	}
	defer mqttPublisher.Disconnect()

	// Initialize the subscription
	subscription := service.NewSubscription(service.SubscriptionConfig{
		ID:                 1,
		PublishingInterval: cfg.Subscription.PublishingInterval,
		Limits: monitor.Limits{
			MinSamplingInterval:     cfg.Monitoring.MinSamplingIntervalMS,
			MaxSamplingInterval:     cfg.Monitoring.MaxSamplingIntervalMS,
			DefaultSamplingInterval: cfg.Monitoring.DefaultSamplingIntervalMS,
			MaxQueueSize:            cfg.Monitoring.MaxQueueSize,
		},
	}, space, mqttPublisher, logger, metricsRegistry)

	if err := subscription.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start subscription")
	}

	// Route MQTT write commands into the address space
	commandHandler := service.NewCommandHandler(
		mqttPublisher.Client(),
		space,
		service.DefaultCommandConfig(),
		logger,
		metricsRegistry,
	)
	if err := commandHandler.Start(); err != nil {
		logger.Error().Err(err).Msg("Failed to start command handler")
	}

	// Log configuration reloads; running components keep their settings
	// until restart.
	config.Watch(func(updated *config.Config) {
		logger.Info().Str("env", updated.Service.Environment).Msg("Configuration file changed")
	})

	// Initialize health checker
	healthChecker := health.NewChecker(mqttPublisher, subscription, logger)

	// Start HTTP server for health and metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthChecker.HealthHandler)
	mux.HandleFunc("/health/live", healthChecker.LiveHandler)
	mux.HandleFunc("/health/ready", healthChecker.ReadyHandler)
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info().Int("port", cfg.HTTP.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := commandHandler.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping command handler")
	}
	if err := subscription.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error stopping subscription")
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down HTTP server")
	}

	logger.Info().Msg("OPC UA monitored-item server shutdown complete")
}
