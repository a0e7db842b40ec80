package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/briefly-app/briefly/internal/capture"
	"github.com/briefly-app/briefly/internal/config"
	"github.com/briefly-app/briefly/internal/extract"
	"github.com/briefly-app/briefly/internal/google"
	httpserver "github.com/briefly-app/briefly/internal/http"
	"github.com/briefly-app/briefly/internal/llm"
	"github.com/briefly-app/briefly/internal/store"
	"github.com/briefly-app/briefly/internal/syncer"
	"github.com/briefly-app/briefly/internal/vault"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Error("failed to create db pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := store.ApplyMigrations(ctx, pool); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}

	st := store.New(pool)

	cipher, err := vault.NewCipher(cfg.EncryptionSecret, logger)
	if err != nil {
		logger.Error("failed to initialize credential cipher", "error", err)
		os.Exit(1)
	}
	credentials := vault.New(cipher, st.Settings, logger)
	handshakes := vault.NewHandshakeStore(time.Duration(cfg.HandshakeTTLMinutes)*time.Minute, logger)

	var provider llm.Provider
	if cfg.OpenAI.APIKey != "" {
		provider = llm.NewClient(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, 30*time.Second)
	} else {
		logger.Warn("OPENAI_API_KEY not set; extraction will return degraded results")
	}

	analyzer := extract.New(provider, st.Events, logger, extract.Options{
		Model:       cfg.OpenAI.Model,
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Temperature: cfg.OpenAI.Temperature,
	})
	orchestrator := capture.NewOrchestrator(st.Sessions, analyzer, logger)

	oauth := google.NewOAuthClient(cfg, credentials, handshakes, logger)
	calendarClient := google.NewCalendarClient(oauth, logger)
	eventSyncer := syncer.New(calendarClient, st.Events, st.Sessions, st.Settings, logger)

	go handshakes.Run(ctx, time.Minute)
	go orchestrator.Run(ctx, 15*time.Minute)

	handler := httpserver.NewHandler(cfg, st, orchestrator, oauth, calendarClient, eventSyncer, logger)
	r := httpserver.NewRouter(cfg, handler)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
