/**
 * @description
 * This is the main entry point for the ledger-service. It is responsible for
 * initializing all components of the service: configuration, the field
 * encryption codec, the database connection pool, the optional RabbitMQ
 * producer and Redis login throttle, the core application service, and the
 * HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pool.
 * - github.com/redis/go-redis/v9: Redis client for the login throttle.
 * - internal/api, internal/app, internal/config, internal/crypto, internal/store, pkg/rabbitmq.
 */

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/vaultbank/ledger-service/internal/api"
	"github.com/vaultbank/ledger-service/internal/app"
	"github.com/vaultbank/ledger-service/internal/config"
	"github.com/vaultbank/ledger-service/internal/crypto"
	"github.com/vaultbank/ledger-service/internal/store"
	"github.com/vaultbank/ledger-service/pkg/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "err", err)
		os.Exit(1)
	}
	logger.Info("starting ledger-service", "port", cfg.ServerPort)

	codec, err := crypto.NewCodecFromBase64(cfg.AESKeyB64)
	if err != nil {
		logger.Error("field encryption key invalid", "err", err)
		os.Exit(1)
	}

	initialBalance, err := decimal.NewFromString(cfg.InitialBalance)
	if err != nil {
		logger.Error("initial balance invalid", "value", cfg.InitialBalance, "err", err)
		os.Exit(1)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("database url parse failed", "err", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connected")

	// The producer is optional: a broker outage degrades to no events, not to
	// a dead service.
	var producer rabbitmq.Publisher
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		p, err := rabbitmq.NewProducer(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Warn("rabbitmq producer unavailable; transfer events disabled", "err", err)
		} else {
			defer p.Close()
			producer = p
			logger.Info("rabbitmq producer connected")
		}
	}

	repo := store.NewPostgresRepository(dbpool)
	service := app.NewService(repo, codec, producer, logger)
	service.ConfigureAuth([]byte(cfg.JWTSecret), cfg.JWTTTL(), initialBalance)

	if strings.TrimSpace(cfg.RedisURL) != "" && cfg.LoginRateLimit > 0 {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			logger.Warn("redis url parse failed; login throttle disabled", "err", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if pingErr != nil {
				logger.Warn("redis ping failed; login throttle disabled", "err", pingErr)
			} else {
				defer redisClient.Close()
				service.SetLoginRateLimiter(app.NewRedisLoginRateLimiter(redisClient, cfg.LoginRateLimit, cfg.LoginRateWindow()))
				logger.Info("login throttle enabled", "limit", cfg.LoginRateLimit, "window", cfg.LoginRateWindow())
			}
		}
	}

	handlers := api.NewBankingHandlers(service, logger)
	router := api.Routes(handlers, []byte(cfg.JWTSecret))

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownErr := make(chan error, 1)
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		received := <-sig
		logger.Info("shutdown signal received", "signal", received.String())

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		shutdownErr <- server.Shutdown(ctx)
	}()

	logger.Info("http server listening", "addr", server.Addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "err", err)
		os.Exit(1)
	}
	if err := <-shutdownErr; err != nil {
		logger.Error("graceful shutdown failed", "err", err)
		os.Exit(1)
	}
	logger.Info("ledger-service stopped")
}
