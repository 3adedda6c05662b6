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
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/config"
	"github.com/mcdev12/typerace/go/internal/race/gateway"
	"github.com/mcdev12/typerace/go/internal/race/racesync"
	"github.com/mcdev12/typerace/go/internal/race/service"
	"github.com/mcdev12/typerace/go/internal/race/transport/natsbus"
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

	natsCfg := natsbus.DefaultConfig()
	natsCfg.PresenceBucket = cfg.NATS.PresenceBucket
	natsCfg.PresenceTTL = cfg.NATS.PresenceTTL

	transports := func(ctx context.Context, clientID string) (racesync.Transport, error) {
		return natsbus.New(ctx, nc, clientID, natsCfg)
	}
	observer, err := natsbus.New(ctx, nc, gateway.GatewayClientID, natsCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("create presence observer")
	}

	store := service.NewClient(http.DefaultClient, cfg.Service.URL)

	gwCfg := gateway.DefaultConfig()
	gwCfg.ConnectionConfig.MessagesPerSec = cfg.Gateway.MessagesPerSec
	gwCfg.ConnectionConfig.MessageBurst = cfg.Gateway.MessageBurst
	gwCfg.JetStreamConfig.StreamName = cfg.NATS.EventStream
	hostname, _ := os.Hostname()
	gwCfg.JetStreamConfig.ConsumerName = consumerName(hostname, cfg.Gateway.Port)

	gatewayService := gateway.NewService(gwCfg, store, observer, transports)
	gatewayService.EventConsumer().RelayTo(observer)
	if err := gatewayService.EventConsumer().Bind(ctx, nc); err != nil {
		// Rooms still work without durable events; race:end from the host
		// ends races on its own.
		log.Error().Err(err).Msg("durable event consumer unavailable")
	}

	mux := http.NewServeMux()
	gatewayService.RegisterRoutes(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"service":     "race-gateway",
			"connections": gatewayService.Stats().TotalConnections,
			"nats":        nc.IsConnected(),
		})
	})

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
		AllowedHeaders: []string{"*"},
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Gateway.Port),
		Handler:           c.Handler(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := observer.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("close presence observer")
	}
	log.Info().Msg("race gateway shutdown complete")
}

// consumerName gives each gateway instance its own durable consumer.
func consumerName(hostname, port string) string {
	if hostname == "" {
		hostname = "local"
	}
	name := fmt.Sprintf("race-gateway-%s-%s", hostname, port)
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
