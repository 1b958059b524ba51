package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"quizbattle/internal/cache"
	"quizbattle/internal/config"
	"quizbattle/internal/repository"
	"quizbattle/internal/service"
	"quizbattle/internal/transport/rest"
	"quizbattle/internal/transport/ws"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()
	ctx := context.Background()

	// MongoDB connection
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		logger.Error("failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	defer mongoClient.Disconnect(ctx)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := mongoClient.Ping(pingCtx, nil); err != nil {
		cancel()
		logger.Error("failed to ping MongoDB", "error", err)
		os.Exit(1)
	}
	cancel()
	logger.Info("connected to MongoDB")

	db := mongoClient.Database(cfg.MongoDB)

	// Redis connection
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	defer rdb.Close()

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		logger.Error("failed to ping Redis", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to Redis")

	// Repositories
	roomRepo := repository.NewRoomRepo(db)
	questionRepo := repository.NewQuestionRepo(db)
	userRepo := repository.NewUserRepo(db)
	historyRepo := repository.NewHistoryRepo(db)

	// Shared battle state
	stateCache := cache.NewBattleStateCache(rdb, cfg.StateTTL)
	roomLocker := cache.NewRoomLocker(rdb, cfg.LockExpiry, cfg.LockRetries)

	// Services
	authSvc := service.NewAuthService(userRepo, cfg.JWTSecret)
	roomSvc := service.NewRoomService(roomRepo)
	battleSvc := service.NewBattleService(
		stateCache,
		roomLocker,
		roomRepo,
		questionRepo,
		userRepo,
		historyRepo,
		service.BattleConfig{
			RoundLimit:      cfg.RoundLimit,
			Countdown:       time.Duration(cfg.CountdownSec) * time.Second,
			InterRoundDelay: cfg.InterRoundDelay,
		},
		logger,
	)

	// WebSocket hub (implements service.Broadcaster)
	wsHub := ws.NewHub(logger)
	battleSvc.SetBroadcaster(wsHub)

	router := rest.NewRouter(&rest.Container{
		AuthService:   authSvc,
		RoomService:   roomSvc,
		BattleService: battleSvc,
		WSHub:         wsHub,
		Logger:        logger,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited")
}
