package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soar/wheelbridge/internal/bridge"
	"github.com/soar/wheelbridge/internal/calibration"
	"github.com/soar/wheelbridge/internal/config"
	"github.com/soar/wheelbridge/internal/console"
	"github.com/soar/wheelbridge/internal/device"
	"github.com/soar/wheelbridge/internal/hub"
	"github.com/soar/wheelbridge/internal/server"
	"github.com/soar/wheelbridge/internal/tray"
	"github.com/soar/wheelbridge/internal/vpad"
)

// Cross-platform signal handling: use os.Interrupt on all platforms
// On Windows: os.Interrupt is sent when Ctrl+C is pressed
// On Unix: os.Interrupt is equivalent to syscall.SIGINT
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

func main() {
	configPath := ""
	args := os.Args[1:]
	// A leading --config FILE is handled before the regular flags so the
	// file can supply defaults for them.
	if len(args) >= 2 && args[0] == "--config" {
		configPath = args[1]
		args = args[2:]
	}
	cfg, err := config.Load(args, configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Create cancellable context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, shutdownSignals...)

	// Windows needs its own console control handler when running tray-only
	fromConsole := console.IsRunningFromConsole()
	consoleShutdown := make(chan struct{})
	console.SetupConsoleHandler(consoleShutdown)

	store := calibration.NewStore(cfg.ProfilePath)
	coord := bridge.NewCoordinator(cfg, device.NewBackend(), vpad.NewController, store)

	// Create and start hub
	h := hub.NewHub()
	go h.Run()

	// Create broadcaster
	broadcaster := hub.NewBroadcaster(h, coord.Changes())
	go broadcaster.Run()

	// Create and start diagnostics server
	srv := server.New(h, broadcaster, coord, cfg.StatusAddr)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	log.Printf("WheelBridge started: ws://%s/ws", cfg.StatusAddr)

	// Channel for tray-triggered shutdown
	shutdownRequested := make(chan struct{})

	if cfg.Tray {
		go func() {
			t := tray.New(func() {
				close(shutdownRequested)
			}, coord.Recalibrate)
			t.Run(tray.GetIcon())
		}()
	}
	if fromConsole {
		log.Println("Press Ctrl+C to exit")
	}

	// Run the bridge session
	sessionDone := make(chan error, 1)
	go func() {
		sessionDone <- coord.Run(ctx)
	}()

	// Wait for shutdown signal, tray request, session end, or server error
	select {
	case <-sigCh:
		log.Println("Shutting down...")
		cancel()
		<-sessionDone
	case <-consoleShutdown:
		log.Println("Shutting down...")
		cancel()
		<-sessionDone
	case <-shutdownRequested:
		log.Println("Shutdown requested from tray")
		cancel()
		<-sessionDone
	case err := <-serverErrCh:
		log.Printf("Diagnostics server error: %v", err)
		cancel()
		<-sessionDone
	case err := <-sessionDone:
		if err != nil && err != context.Canceled {
			log.Printf("Session ended: %v", err)
		}
		cancel()
	}

	// Shutdown the HTTP server gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Diagnostics server shutdown error: %v", err)
	}

	log.Println("WheelBridge stopped")
}
