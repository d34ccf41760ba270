package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	jwtpkg "ditmail/backend/internal/auth/jwt"
	"ditmail/backend/internal/config"
	"ditmail/backend/internal/domain"
	"ditmail/backend/internal/health"
	"ditmail/backend/internal/middleware"
	"ditmail/backend/internal/monitoring"
	"ditmail/backend/internal/service"
	"ditmail/backend/internal/websocket"
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	coordinator *service.MutationCoordinator
	messages    *service.MessageService
	counts      *service.CountsProjection
	drafts      *service.DraftService
	resolver    *service.DraftResolver
	folders     *service.FolderService
	labels      *service.LabelService
	webhooks    *service.WebhookService
	log         *zap.Logger
}

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	Coordinator    *service.MutationCoordinator
	MessageService *service.MessageService
	Counts         *service.CountsProjection
	DraftService   *service.DraftService
	DraftResolver  *service.DraftResolver
	FolderService  *service.FolderService
	LabelService   *service.LabelService
	WebhookService *service.WebhookService
	Users          domain.UserRepository
	JWTManager     *jwtpkg.Manager
	WebSocketHub   *websocket.Hub
	Health         *health.HealthChecker // 为空时不注册健康检查路由
	Metrics        *monitoring.Metrics
	BulkLimiter    *middleware.RateLimiter // 为空时批量接口不限流
	Logger         *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()

	mon := middleware.NewMonitoringMiddleware(deps.Metrics, log)
	router.Use(mon.PanicRecovery())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())
	router.Use(mon.HTTPMetrics())
	router.Use(middleware.BodySizeLimit(middleware.DraftBodyLimit))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := &Handler{
		coordinator: deps.Coordinator,
		messages:    deps.MessageService,
		counts:      deps.Counts,
		drafts:      deps.DraftService,
		resolver:    deps.DraftResolver,
		folders:     deps.FolderService,
		labels:      deps.LabelService,
		webhooks:    deps.WebhookService,
		log:         log.Named("http"),
	}

	// 监控与健康检查
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}
	if deps.Health != nil {
		router.GET("/health/live", gin.WrapF(deps.Health.LiveHandler()))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyHandler()))
	}

	jwtAuth := middleware.NewJWTAuth(deps.JWTManager, log)
	v1 := router.Group("/v1")
	v1.Use(jwtAuth.RequireAuth())
	if deps.Users != nil {
		v1.Use(middleware.UserDirectorySync(deps.Users, log))
	}
	{
		smallBody := middleware.BodySizeLimit(middleware.DefaultBodyLimit)

		bulk := []gin.HandlerFunc{smallBody}
		if deps.BulkLimiter != nil {
			bulk = append(bulk, deps.BulkLimiter.Handler())
		}
		v1.POST("/bulk-update", append(bulk, handler.bulkUpdate)...)

		// 邮件
		messageRoutes := v1.Group("/messages")
		messageRoutes.Use(smallBody)
		{
			messageRoutes.GET("", handler.listMessages)
			messageRoutes.GET("/counts", handler.folderCounts)
			messageRoutes.GET("/:id", handler.getMessage)
			messageRoutes.PATCH("/:id", handler.patchMessage)
			messageRoutes.DELETE("/:id", handler.deleteMessage)
			messageRoutes.PATCH("/:id/labels", handler.patchMessageLabels)
		}
		v1.GET("/threads/:threadId", handler.getThread)

		// 草稿正文可能较大，使用全局上限
		draftRoutes := v1.Group("/drafts")
		{
			draftRoutes.GET("", handler.listDrafts)
			draftRoutes.POST("", handler.createDraft)
			draftRoutes.GET("/by-thread/:threadId", handler.draftForThread)
			draftRoutes.GET("/:id", handler.getDraft)
			draftRoutes.PATCH("/:id", handler.updateDraft)
			draftRoutes.DELETE("/:id", handler.deleteDraft)
			draftRoutes.POST("/:id/send", handler.sendDraft)
		}

		// 文件夹与标签
		v1.GET("/folders", handler.listFolders)
		v1.POST("/folders", handler.createFolder)
		v1.DELETE("/folders/:id", handler.deleteFolder)
		v1.GET("/labels", handler.listLabels)
		v1.POST("/labels", handler.createLabel)
		v1.PATCH("/labels/:id", handler.updateLabel)
		v1.DELETE("/labels/:id", handler.deleteLabel)

		// Webhook
		if deps.WebhookService != nil {
			webhookRoutes := v1.Group("/webhooks")
			{
				webhookRoutes.GET("", handler.listWebhooks)
				webhookRoutes.POST("", handler.createWebhook)
				webhookRoutes.PATCH("/:id", handler.updateWebhook)
				webhookRoutes.DELETE("/:id", handler.deleteWebhook)
				webhookRoutes.GET("/:id/deliveries", handler.getWebhookDeliveries)
			}
		}

		// WebSocket 事件流
		if deps.WebSocketHub != nil {
			v1.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub))
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(404, Response{Code: 404, Msg: "接口不存在"})
	})

	return router
}
