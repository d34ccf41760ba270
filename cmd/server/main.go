package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	jwtpkg "ditmail/backend/internal/auth/jwt"
	"ditmail/backend/internal/cache"
	"ditmail/backend/internal/config"
	"ditmail/backend/internal/domain"
	"ditmail/backend/internal/health"
	"ditmail/backend/internal/logger"
	"ditmail/backend/internal/middleware"
	"ditmail/backend/internal/monitoring"
	"ditmail/backend/internal/pool"
	"ditmail/backend/internal/security"
	"ditmail/backend/internal/service"
	"ditmail/backend/internal/smtp"
	"ditmail/backend/internal/storage/memory"
	"ditmail/backend/internal/storage/postgres"
	redisstore "ditmail/backend/internal/storage/redis"
	httptransport "ditmail/backend/internal/transport/http"
	"ditmail/backend/internal/websocket"
)

const (
	smtpMaxConns       = 100
	smtpConnsPerSecond = 20
	rateLimiterIdle    = 10 * time.Minute
)

// main 启动 HTTP API、WebSocket、SMTP 接收与后台任务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if cfg.Log.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.NewLogger(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync() //nolint:errcheck

	log.Info("starting ditmail server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 存储层
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)

	// 两级缓存。配置了 Redis 时 Tier A 放在 Redis，Tier B 失效通过 pub/sub 广播。
	var (
		redisClient *redisstore.Client
		lists       cache.ListCache
		tagBus      *redisstore.TagBus
		rdb         goredis.UniversalClient
	)
	fabricOpts := []cache.Option{
		cache.WithMetrics(metrics),
		cache.WithTTL(cfg.Cache.ListTTL, cfg.Cache.ResourceTTL),
	}
	if cfg.Redis.Enabled() {
		redisClient, err = redisstore.New(cfg.Redis, log)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisClient.Close()

		rdb = redisClient.Client()
		lists = redisstore.NewListCache(redisClient)
		tagBus = redisstore.NewTagBus(redisClient, cfg.Cache.TagChannel, log.Named("tagbus"))
		fabricOpts = append(fabricOpts, cache.WithPublisher(tagBus))
		log.Info("using redis list cache", zap.String("address", cfg.Redis.Address))
	} else {
		memLists := cache.NewMemoryListCache()
		defer memLists.Close()
		lists = memLists
		log.Info("using in-process list cache")
	}
	resources := cache.NewTagCache(cfg.Cache.LocalMaxEntries, cfg.Cache.ResourceTTL)
	defer resources.Close()
	fabric := cache.NewFabric(lists, resources, log.Named("cache"), fabricOpts...)

	// 事件投递：WebSocket 推送 + Webhook
	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, metrics, log.Named("websocket"))
	webhookPool := pool.NewWorkerPool("webhook", cfg.Webhook.Workers, cfg.Webhook.QueueSize, log.Named("pool"))
	webhookService := service.NewWebhookService(store, webhookPool, cfg.Webhook.Timeout, log.Named("webhook"))
	dispatcher := service.NewMultiDispatcher(metrics,
		service.NamedDispatcher{Name: "websocket", Dispatcher: wsHub},
		service.NamedDispatcher{Name: "webhook", Dispatcher: webhookService},
	)

	// 服务层
	coordinator := service.NewMutationCoordinator(store, fabric, dispatcher, log.Named("coordinator"),
		service.WithBulkParallelism(cfg.Mailbox.BulkParallelism),
		service.WithCoordinatorMetrics(metrics),
	)
	contentFilter := security.NewContentFilter()
	draftService := service.NewDraftService(store, coordinator, contentFilter, dispatcher, cfg.SMTP.Domain, log.Named("drafts"))

	jwtManager := jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessExpiry)
	healthChecker := health.NewHealthChecker(store, rdb, log.Named("health"))
	bulkLimiter := middleware.NewRateLimiter("bulk", cfg.Mailbox.BulkPerMinute, cfg.Mailbox.BulkBurst, metrics)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:         cfg,
		Coordinator:    coordinator,
		MessageService: service.NewMessageService(store, fabric),
		Counts:         service.NewCountsProjection(store, fabric),
		DraftService:   draftService,
		DraftResolver:  service.NewDraftResolver(store),
		FolderService:  service.NewFolderService(store, coordinator, fabric, dispatcher, log.Named("folders")),
		LabelService:   service.NewLabelService(store, coordinator, fabric, dispatcher, log.Named("labels")),
		WebhookService: webhookService,
		Users:          store,
		JWTManager:     jwtManager,
		WebSocketHub:   wsHub,
		Health:         healthChecker,
		Metrics:        metrics,
		BulkLimiter:    bulkLimiter,
		Logger:         log,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var smtpServer *gosmtp.Server
	if cfg.SMTP.Enabled {
		smtpBackend := smtp.NewBackend(store, coordinator, contentFilter, smtp.Options{
			Domain:          cfg.SMTP.Domain,
			MaxMessageBytes: cfg.SMTP.MaxMessageBytes,
			Limiter:         smtp.NewConnectionLimiter(smtpMaxConns, smtpConnsPerSecond),
		}, log.Named("smtp"))
		smtpServer = smtp.NewServer(smtpBackend, cfg.SMTP.BindAddr, cfg.SMTP.MaxRecipients)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// SMTP 服务器 goroutine
	if smtpServer != nil {
		group.Go(func() error {
			log.Info("starting SMTP server",
				zap.String("address", cfg.SMTP.BindAddr),
				zap.String("domain", cfg.SMTP.Domain),
			)
			if err := smtpServer.ListenAndServe(); err != nil && !errors.Is(err, gosmtp.ErrServerClosed) {
				log.Error("SMTP server error", zap.Error(err))
				return err
			}
			return nil
		})
	}

	// WebSocket Hub goroutine
	group.Go(func() error {
		wsHub.Run(groupCtx)
		return nil
	})

	// Webhook 投递与失败重试
	webhookPool.Start(groupCtx)
	group.Go(func() error {
		log.Info("starting webhook retry task", zap.Duration("interval", cfg.Webhook.RetryInterval))
		webhookService.RunRetryLoop(groupCtx, cfg.Webhook.RetryInterval)
		return nil
	})

	// 其他实例的缓存失效广播。订阅失败不影响服务，本实例的缓存最多过期 TTL。
	if tagBus != nil {
		group.Go(func() error {
			if err := tagBus.Subscribe(groupCtx, fabric.ApplyRemote); err != nil {
				log.Error("tag bus subscription ended", zap.Error(err))
			}
			return nil
		})
	}

	group.Go(func() error {
		bulkLimiter.Cleanup(groupCtx, rateLimiterIdle)
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if smtpServer != nil {
			if err := smtpServer.Shutdown(shutdownCtx); err != nil {
				log.Warn("SMTP server shutdown warning", zap.Error(err))
			}
		}
		webhookPool.Stop()

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// openStore 根据 database.type 选择存储实现，未配置时使用内存存储（开发环境）
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (domain.Store, error) {
	switch cfg.Database.Type {
	case "postgres":
		client, err := postgres.New(ctx, cfg.Database, log.Named("postgres"))
		if err != nil {
			return nil, err
		}
		store, err := postgres.NewStore(client)
		if err != nil {
			client.Close()
			return nil, err
		}
		log.Info("using postgres storage")
		return store, nil

	case "mysql":
		store, err := postgres.NewMySQLStore(cfg.Database)
		if err != nil {
			return nil, err
		}
		log.Info("using mysql storage")
		return store, nil

	default:
		log.Info("using memory storage (development mode)")
		return memory.NewStore(), nil
	}
}
