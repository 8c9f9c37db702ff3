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

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/accord/internal/api"
	"github.com/lalith-99/accord/internal/auth"
	"github.com/lalith-99/accord/internal/broker"
	"github.com/lalith-99/accord/internal/config"
	"github.com/lalith-99/accord/internal/db"
	"github.com/lalith-99/accord/internal/middleware"
	"github.com/lalith-99/accord/internal/observ"
	"github.com/lalith-99/accord/internal/realtime"
	"github.com/lalith-99/accord/internal/repository"
	"github.com/lalith-99/accord/internal/repository/memory"
	"github.com/lalith-99/accord/internal/repository/postgres"
	"github.com/lalith-99/accord/internal/repository/sqlite"
	"github.com/lalith-99/accord/internal/router"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ---------------------------------------------------------------
	// 1. Load config
	// ---------------------------------------------------------------
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// ---------------------------------------------------------------
	// 2. Create logger
	// ---------------------------------------------------------------
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	// Cancelled on SIGINT/SIGTERM. Everything long-running hangs off it.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------------------------------------------------------
	// 3. Open storage
	// ---------------------------------------------------------------
	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.close()

	for _, username := range cfg.SeedUsernames() {
		if _, err := store.users.Ensure(ctx, username); err != nil {
			return fmt.Errorf("seed user %q: %w", username, err)
		}
	}

	// ---------------------------------------------------------------
	// 4. Core services
	// ---------------------------------------------------------------
	gate := auth.NewGate(store.users, cfg.JWTSecret, cfg.JWTIssuer, logger)

	channels := router.NewChannelResolver(store.channels)
	if _, err := channels.Default(ctx); err != nil {
		return err
	}
	chatRouter := router.New(store.messages, channels, router.Options{
		UsernameMinLength: cfg.UsernameMinLength,
		UsernameMaxLength: cfg.UsernameMaxLength,
		MessageMaxLength:  cfg.MessageMaxLength,
	}, logger)

	// ---------------------------------------------------------------
	// 5. Fan-out: in-process hub, optionally relayed through Redis
	// ---------------------------------------------------------------
	hub := broker.NewHub(logger)
	var publisher broker.Publisher = hub
	if cfg.RedisURL != "" {
		rdb, relay, err := startRedisRelay(ctx, cfg, hub, logger)
		if err != nil {
			return err
		}
		defer rdb.Close()
		publisher = relay
	}

	// ---------------------------------------------------------------
	// 6. HTTP routes
	// ---------------------------------------------------------------
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.RequestLogger(logger))

	// Health check is public so load balancers can reach it.
	engine.GET("/v1/health", func(c *gin.Context) {
		if err := store.ping(c.Request.Context()); err != nil {
			logger.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	messages := api.NewMessageHandler(store.messages, logger)
	apiGroup := engine.Group("/api")
	apiGroup.Use(middleware.AuthMiddleware(gate))
	apiGroup.GET("/messages", messages.Recent)

	channelHandler := api.NewChannelHandler(store.channels, logger)
	apiGroup.GET("/channels/default", channelHandler.Default)
	apiGroup.GET("/channels/:id", channelHandler.GetByID)

	wsOpts := realtime.DefaultOptions()
	wsOpts.MaxFrameBytes = cfg.MaxFrameBytes
	wsOpts.SendRate = rate.Limit(cfg.SendRatePerSecond)
	wsOpts.SendBurst = cfg.SendBurst
	ws := realtime.NewHandler(gate, chatRouter, hub, publisher,
		realtime.NewOriginPolicy(cfg.Origins(), logger), wsOpts, logger)
	engine.GET("/ws", ws.ServeWS)

	// ---------------------------------------------------------------
	// 7. Serve until signalled
	// ---------------------------------------------------------------
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting accord",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Env),
			zap.String("storage", cfg.StorageDriver),
			zap.Bool("redis", cfg.RedisURL != ""),
		)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	// Hijacked websocket connections are not closed by srv.Shutdown.
	ws.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

type userStore interface {
	repository.UserRepository
	repository.UserSeeder
}

type storage struct {
	messages repository.MessageRepository
	channels repository.ChannelRepository
	users    userStore
	ping     func(context.Context) error
	close    func()
}

func openStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storage, error) {
	switch cfg.StorageDriver {
	case config.StoragePostgres:
		database, err := db.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		pool := database.Pool()
		return &storage{
			messages: postgres.NewMessageStore(pool),
			channels: postgres.NewChannelStore(pool),
			users:    postgres.NewUserStore(pool),
			ping:     database.Health,
			close:    database.Close,
		}, nil

	case config.StorageSQLite:
		conn, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return &storage{
			messages: sqlite.NewMessageStore(conn),
			channels: sqlite.NewChannelStore(conn),
			users:    sqlite.NewUserStore(conn),
			ping:     conn.PingContext,
			close:    func() { _ = conn.Close() },
		}, nil

	default:
		logger.Warn("using in-memory storage; messages are lost on restart")
		return &storage{
			messages: memory.NewMessageStore(),
			channels: memory.NewChannelStore(),
			users:    memory.NewUserStore(),
			ping:     func(context.Context) error { return nil },
			close:    func() {},
		}, nil
	}
}

// startRedisRelay connects to Redis and starts relaying published frames
// into hub. It returns once the pattern subscription is confirmed.
func startRedisRelay(ctx context.Context, cfg *config.Config, hub *broker.Hub, logger *zap.Logger) (*redis.Client, *broker.RedisRelay, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}

	relay := broker.NewRedisRelay(rdb, hub, cfg.RedisChannelPrefix, logger)
	ready := make(chan struct{})
	failed := make(chan error, 1)
	go func() {
		if err := relay.Run(ctx, ready); err != nil {
			logger.Error("redis relay stopped", zap.Error(err))
			failed <- err
		}
	}()

	select {
	case <-ready:
		return rdb, relay, nil
	case err := <-failed:
		_ = rdb.Close()
		return nil, nil, err
	case <-ctx.Done():
		_ = rdb.Close()
		return nil, nil, ctx.Err()
	}
}
