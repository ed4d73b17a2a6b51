package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rl-arena/rl-arena-matchmaker/internal/api"
	"github.com/rl-arena/rl-arena-matchmaker/internal/api/handlers"
	"github.com/rl-arena/rl-arena-matchmaker/internal/config"
	"github.com/rl-arena/rl-arena-matchmaker/internal/repository"
	"github.com/rl-arena/rl-arena-matchmaker/internal/service"
	"github.com/rl-arena/rl-arena-matchmaker/internal/websocket"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/database"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/distributed"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/logger"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/mongodb"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/ratelimit"
)

// stores 선택된 저장소 백엔드
type stores struct {
	queue  repository.QueueRepository
	match  repository.MatchRepository
	health map[string]handlers.Pinger
	close  func()
}

func main() {
	// 설정 로드
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 로거 초기화
	if err := logger.Init(cfg.LogLevel, cfg.Env); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting RL-Arena Matchmaker",
		"port", cfg.Port,
		"env", cfg.Env,
		"store", cfg.StoreBackend,
		"lock", cfg.LockBackend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open store", "backend", cfg.StoreBackend, "error", err)
	}
	defer st.close()

	// Redis (선택)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("Invalid REDIS_URL", "error", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("Failed to connect to redis", "error", err)
		}
		defer redisClient.Close()

		st.health["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
		logger.Info("Redis connection established")
	}

	// WebSocket Hub
	hub := websocket.NewHub(logger.Named("websocket"))
	go hub.Run(ctx)

	// 이벤트 전달: Redis 가 있으면 Pub/Sub 을 거쳐 모든 인스턴스의 Hub 로
	var events service.EventPublisher = hub
	if redisClient != nil {
		bus := distributed.NewMatchEventBus(redisClient, logger.Named("event-bus"), distributed.DefaultEventChannel)
		go func() {
			if err := bus.Start(ctx, hub.Deliver); err != nil && ctx.Err() == nil {
				logger.Error("Matchmaking event bus stopped", "error", err)
			}
		}()
		defer bus.Stop()
		events = bus
	}

	// 락
	var locker service.Locker = service.NewLocalLocker()
	var sweepLock service.SweepLock
	if cfg.LockBackend == config.LockRedis {
		locker = distributed.NewRedisPairLocker(redisClient, logger.Named("lock"), distributed.PairLockerConfig{})
		sweepLock = distributed.NewRedisLockManager(redisClient)
	}

	matchmakingService := service.NewMatchmakingService(
		st.queue,
		st.match,
		locker,
		events,
		logger.Named("matchmaking"),
		service.MatchmakingConfig{
			ScoreWindow:         cfg.ScoreWindow,
			ExpandedScoreWindow: cfg.ExpandedScoreWindow,
		},
	)

	reaperService := service.NewReaperService(
		st.queue,
		events,
		sweepLock,
		logger.Named("reaper"),
		cfg.QueueTimeout,
		cfg.ReaperInterval,
	)
	reaperService.Start()
	defer reaperService.Stop()

	// 대기열 요청 제한
	var queueLimiter ratelimit.Limiter
	if cfg.QueueRateLimit > 0 {
		if redisClient != nil {
			queueLimiter = ratelimit.NewRedisLimiter(redisClient, "", cfg.QueueRateLimit, time.Minute)
		} else {
			local := ratelimit.NewLocalLimiter(cfg.QueueRateLimit, time.Minute)
			go local.RunCleanup(ctx)
			queueLimiter = local
		}
	}

	router := api.SetupRouter(api.Dependencies{
		Env:          cfg.Env,
		Matchmaking:  matchmakingService,
		Reaper:       reaperService,
		Hub:          hub,
		QueueLimiter: queueLimiter,
		HealthChecks: st.health,
	})

	// 서버 설정
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("Server exited")
}

// openStores STORE_BACKEND 에 따라 저장소 생성 및 스키마 준비
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return &stores{
			queue:  repository.NewPostgresQueueRepository(db),
			match:  repository.NewPostgresMatchRepository(db),
			health: map[string]handlers.Pinger{"postgres": db},
			close:  func() { db.Close() },
		}, nil

	case config.StoreMongo:
		db, err := mongodb.Connect(ctx, cfg.MongoURL, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		if err := db.EnsureIndexes(ctx); err != nil {
			db.Close(context.Background())
			return nil, err
		}
		return &stores{
			queue:  repository.NewMongoQueueRepository(db),
			match:  repository.NewMongoMatchRepository(db),
			health: map[string]handlers.Pinger{"mongo": db},
			close: func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				db.Close(ctx)
			},
		}, nil

	default:
		logger.Warn("Using in-memory store; queue and matches are lost on restart")
		return &stores{
			queue:  repository.NewMemoryQueueRepository(),
			match:  repository.NewMemoryMatchRepository(),
			health: map[string]handlers.Pinger{},
			close:  func() {},
		}, nil
	}
}
