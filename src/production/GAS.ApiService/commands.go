package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.ApiService/server"
	broker "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Broker"
	config "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Config"
	container "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Container"
	logger "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Logger"
)

var rootCmd = &cobra.Command{
	Use:   "gas-telemetry",
	Short: "Gas sensor telemetry ingestion service",
	Long: `Accepts alcohol sensor readings over HTTP, MQTT and Kafka, stores them
and serves them back through a small query API.

Running without a subcommand starts the server.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the configured ingestion workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var topicCmd = &cobra.Command{
	Use:   "topic",
	Short: "Manage the Kafka readings topic",
}

var topicEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Create the readings topic if it does not exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadBroker()
		if err != nil {
			return err
		}
		log := logger.NewLogger(&cfg.Logging)

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		created, err := broker.NewTopicAdmin(cfg.Kafka, log).EnsureTopic(ctx)
		if err != nil {
			return fmt.Errorf("failed to create kafka topic: %w", err)
		}
		if created {
			fmt.Fprintln(cmd.OutOrStdout(), "Topic created successfully")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "Topic already exists")
		}
		return nil
	},
}

func init() {
	topicCmd.AddCommand(topicEnsureCmd)
	rootCmd.AddCommand(serveCmd, topicCmd)
}

func serve(parent context.Context) error {
	ctr, err := container.NewContainer()
	if err != nil {
		return fmt.Errorf("failed to initialize container: %w", err)
	}
	defer ctr.Shutdown(context.Background())

	log := ctr.GetLogger()
	cfg := ctr.GetConfig()
	log.Info("Starting gas telemetry service")

	initCtx, cancel := context.WithTimeout(parent, 30*time.Second)
	defer cancel()
	if err := ctr.Initialize(initCtx); err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}

	runCtx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ctr.Start(runCtx); err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	router := server.NewRouter(server.Dependencies{
		Config:     cfg,
		Logger:     log,
		Metrics:    ctr.GetMetrics(),
		Ingester:   ctr.GetGateway(),
		Readings:   ctr.GetReadingRepository(),
		Cache:      ctr.GetLatestCache(),
		TopicAdmin: ctr.GetTopicAdmin(),
		Health:     ctr.GetHealthChecker(),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting on port " + cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	log.Info("Service running... press Ctrl+C to stop")

	var runErr error
	select {
	case <-runCtx.Done():
		log.Info("Shutting down...")
	case err := <-serverErr:
		runErr = fmt.Errorf("http server: %w", err)
	case err := <-ctr.Errors():
		// only with SUBSCRIBER_FAIL_FAST
		runErr = fmt.Errorf("kafka subscriber: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.ErrorWithError(err, "Server forced to shutdown")
	}

	return runErr
}
