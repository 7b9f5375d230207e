// GoTLSProxy is an HTTP proxy service that replays caller requests with a
// real Chrome TLS and HTTP/2 fingerprint.
//
// Startup sequence:
//  1. Load configuration from the environment.
//  2. Initialise the logger and the Chrome 133 browser profile.
//  3. Create the proxy engine and start its session sweeper.
//  4. Start the REST API server.
//  5. Monitor metrics in a background goroutine.
//  6. Block until OS signals SIGINT or SIGTERM, then perform a clean shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/firasghr/GoTLSProxy/api"
	"github.com/firasghr/GoTLSProxy/config"
	"github.com/firasghr/GoTLSProxy/engine"
	"github.com/firasghr/GoTLSProxy/fingerprint"
	"github.com/firasghr/GoTLSProxy/logger"
)

func main() {
	// ── Logger ─────────────────────────────────────────────────────────────
	log := logger.New(logger.LevelInfo)
	log.Info("GoTLSProxy starting up")

	// ── Configuration ──────────────────────────────────────────────────────
	cfg, err := config.FromEnv()
	if err != nil {
		log.Errorf("failed to load configuration: %v", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Errorf("invalid configuration: %v", err)
		os.Exit(1)
	}
	if cfg.APIKey == "" {
		log.Warn("API_KEY is empty; the /proxy endpoints are unauthenticated")
	}
	log.Infof("config – port: %d | session TTL: %s | max sessions: %d | request timeout: %s",
		cfg.Port, cfg.SessionTTL, cfg.MaxSessions, cfg.RequestTimeout)

	// ── Engine ─────────────────────────────────────────────────────────────
	profile := fingerprint.Chrome133Profile()
	log.Infof("browser profile: %s", profile.Name)

	eng := engine.New(cfg, profile, log)
	eng.Start()

	// ── API server ─────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           api.New(eng, cfg.APIKey, log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof("API server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("API server error: %v", err)
			os.Exit(1)
		}
	}()

	// ── Metrics monitor ────────────────────────────────────────────────────
	// Print a summary line every 10 seconds.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			total, success, failed := eng.Metrics().Snapshot()
			log.Infof("metrics – total: %d | success: %d | failed: %d | rps: %.1f | sessions: %d/%d",
				total, success, failed, eng.Metrics().RequestsPerSecond(),
				eng.ActiveSessions(), eng.MaxSessions())
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Println() // newline after ^C
	log.Infof("received signal %s; shutting down", sig)

	// Stop accepting API calls, letting in-flight requests drain.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("API server shutdown: %v", err)
	}

	// Stop the sweeper and close all sessions.
	eng.Stop()

	total, success, failed := eng.Metrics().Snapshot()
	log.Infof("final metrics – total: %d | success: %d | failed: %d", total, success, failed)
	log.Info("GoTLSProxy shut down cleanly")
}
