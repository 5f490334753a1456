package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/flashbid/flashbid/internal/auction"
	"github.com/flashbid/flashbid/internal/dbconfig"
	"github.com/flashbid/flashbid/internal/events"
	"github.com/flashbid/flashbid/internal/ledger"
	"github.com/flashbid/flashbid/internal/ratelimit"
	"github.com/flashbid/flashbid/internal/sweeper"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Warn().Err(err).Msg("could not load config file, using defaults")
		cfg = &Config{}
	}

	port := cfg.Server.Port
	if port == "" {
		port = getEnv("API_PORT", "8080")
	}

	// Database
	dbCfg := dbconfig.NewConfigFromEnv()
	db, err := dbconfig.Open(dbCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	log.Info().
		Str("database", dbCfg.Database).
		Str("port", port).
		Msg("starting flashbid api")

	clock := clockwork.NewRealClock()
	repo := auction.NewRepository(db)

	// Event hand-off to the relay: NATS when configured, else HTTP, else
	// drop. Failures never affect the bid or sweep that produced the event.
	var publisher events.Publisher = events.NopPublisher{}
	switch {
	case cfg.Broadcast.NATSURL != "":
		subject := cfg.Broadcast.NATSSubject
		if subject == "" {
			subject = events.DefaultSubject
		}
		natsPub, err := events.NewNATSPublisher(cfg.Broadcast.NATSURL, subject)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect NATS publisher")
		}
		defer natsPub.Close()
		publisher = natsPub
	case cfg.Broadcast.RelayURL != "":
		publisher = events.NewHTTPPublisher(cfg.Broadcast.RelayURL)
	default:
		log.Warn().Msg("no relay configured, events will be dropped")
	}

	// Rate limiter: process-local by default, Redis when the deployment
	// needs the window shared across instances.
	window := duration(cfg.Bidding.RateLimitWindow, 2*time.Second)
	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter(window, clock)
	if cfg.RateLimit.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RateLimit.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to ping redis")
		}
		limiter = ratelimit.NewRedisLimiter(client, window)
		log.Info().Str("addr", cfg.RateLimit.RedisAddr).Msg("using redis rate limiter")
	}

	service := ledger.NewService(repo, limiter, publisher, clock)
	sweep := sweeper.New(repo, publisher, clock, sweeper.Config{
		Interval: duration(cfg.Sweeper.Interval, 15*time.Second),
	})

	router := ledger.SetupRouter(ledger.NewHandler(service, sweep))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sweep.Run(ctx)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	cancel()

	log.Info().Msg("flashbid api shutdown complete")
}
