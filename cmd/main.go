/*
Package main is the entry point for the notesync collaboration server.

It loads configuration, initializes the global logger, connects to the change
bus, starts the collaboration hub and the HTTP server, and shuts everything
down in order on SIGINT or SIGTERM.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notesync/internal/app/bus"
	"notesync/internal/app/collab"
	"notesync/internal/configs"
	"notesync/internal/handler"
	"notesync/internal/pkg/logx"
	"notesync/internal/pkg/randx"
)

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.IsDevelopment())

	instanceID, err := randx.InstanceID()
	if err != nil {
		logx.Fatal(err, "Failed to generate instance id")
	}

	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("bus_driver", cfg.BusDriver).
		Str("bus_channel", cfg.BusChannel).
		Bool("echo_to_sender", cfg.EchoToSender).
		Str("instance_id", instanceID).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	openCtx, cancelOpen := context.WithTimeout(ctx, 15*time.Second)
	changeBus, err := bus.Open(openCtx, cfg)
	cancelOpen()
	if err != nil {
		logx.Fatal(err, "Failed to connect to change bus", "driver", cfg.BusDriver)
	}

	hub := collab.NewHub(changeBus, collab.OptionsFromConfig(cfg, instanceID))
	if err := hub.Start(context.Background()); err != nil {
		logx.Fatal(err, "Failed to subscribe to change bus", "channel", cfg.BusChannel)
	}

	// Setup HTTP server and routes
	router := handler.Router(ctx, &handler.AppDeps{
		Hub:    hub,
		Config: cfg,
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("notesync starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 5 seconds.
	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	hub.Shutdown()

	if err := changeBus.Close(); err != nil {
		logx.Error(err, "Failed to close change bus")
	}

	logx.Info("Server gracefully stopped.")
}
