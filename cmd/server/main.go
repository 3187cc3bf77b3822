package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ChaoticNebula5/Janmitra/internal/archive"
	"github.com/ChaoticNebula5/Janmitra/internal/bot"
	"github.com/ChaoticNebula5/Janmitra/internal/config"
	httpserver "github.com/ChaoticNebula5/Janmitra/internal/httpserver"
	"github.com/ChaoticNebula5/Janmitra/internal/log"
	"github.com/ChaoticNebula5/Janmitra/internal/rtc"
)

func main() {
	transport := flag.String("transport", "webrtc", "client transport (webrtc)")
	flag.Parse()

	cfg := config.Load()

	if *transport != "webrtc" {
		log.Error("unsupported transport", "transport", *transport)
		return
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	var opts []bot.Option
	if cfg.ArchiveEnabled() {
		store, err := archive.NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey, cfg.SupabaseBucket)
		if err != nil {
			log.Warn("transcript archive disabled", "err", err)
		} else {
			opts = append(opts, bot.WithArchive(store))
		}
	}
	b := bot.New(cfg, opts...)

	// Sessions outlive the request that negotiated them and end with the process.
	sessionsCtx, stopSessions := context.WithCancel(context.Background())
	defer stopSessions()

	srv := httpserver.New(cfg, func(conn *rtc.Connection) {
		go func() {
			if err := b.Run(sessionsCtx, bot.WebRTCArguments{Connection: conn}); err != nil {
				log.Error("session failed", "conn", conn.ID(), "err", err)
			}
			_ = conn.Close()
		}()
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "err", err)
			os.Exit(1)
		}
	case sig := <-sigChan:
		log.Info("shutdown signal received", "signal", sig.String())
	}

	stopSessions()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn("graceful shutdown failed", "err", err)
		_ = server.Close()
	}
}
