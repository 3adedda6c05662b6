package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/config"
	"github.com/mcdev12/typerace/go/internal/race/service"
	"github.com/mcdev12/typerace/go/internal/race/transport/natsbus"
	"github.com/mcdev12/typerace/go/internal/race/watchdog"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(config.GetEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nc, err := natsbus.Connect(cfg.NATS.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to NATS")
	}
	defer nc.Close()

	store := service.NewClient(&http.Client{Timeout: 30 * time.Second}, cfg.Service.URL)

	wdCfg := watchdog.DefaultConfig()
	wdCfg.CountdownTicks = cfg.Race.CountdownTicks
	wdCfg.Grace = cfg.Watchdog.Grace
	wdCfg.WordsLimit = cfg.Watchdog.WordsLimit
	wdCfg.StreamName = cfg.NATS.EventStream

	dog := watchdog.New(store, wdCfg)
	if err := dog.Bind(ctx, nc); err != nil {
		log.Fatal().Err(err).Msg("failed to bind watchdog consumer")
	}

	log.Info().
		Str("race_service_url", cfg.Service.URL).
		Str("nats_url", cfg.NATS.URL).
		Dur("grace", wdCfg.Grace).
		Msg("starting race watchdog")

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !nc.IsConnected() {
			http.Error(w, "NATS disconnected", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{
			"pending": dog.Pending(),
			"ended":   dog.Ended(),
		})
	})
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Watchdog.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server failed")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- dog.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("watchdog stopped")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server shutdown failed")
	}
	log.Info().Msg("race watchdog shutdown complete")
}
