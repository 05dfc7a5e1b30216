package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"recipe-importer/internal/api/handlers/health"
	"recipe-importer/internal/api/handlers/imports"
	"recipe-importer/internal/api/middleware"
	"recipe-importer/internal/core/queue"
	"recipe-importer/internal/core/store"
	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/pkg/common"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// 超時設置，匯入在背景執行所以請求本身很短
	timeoutDuration = 30 * time.Second
	// 請求體大小限制 (64KB)
	maxBodySize = 64 << 10
)

// Dependencies 路由需要的服務
type Dependencies struct {
	Queue *queue.Manager
	Store store.Store
}

// SetupRouter 設置路由
func SetupRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	common.LogInfo("Starting router setup",
		zap.Bool("debug_mode", cfg.App.Debug),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Env),
	)

	// 設置 gin 模式
	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// 註冊基礎中間件
	router.Use(middleware.Recovery())
	router.Use(requestid.New()) // 自動生成請求 ID
	router.Use(middleware.Logger())

	// CORS 設置
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "Location", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	// 請求體大小限制
	router.Use(middleware.BodySizeLimit(maxBodySize))

	// 設置超時並注入依賴
	router.Use(func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeoutDuration)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		c.Set(health.ConfigKey, cfg)
		if deps.Queue != nil {
			c.Set(health.QueueKey, deps.Queue)
		}
		if deps.Store != nil {
			c.Set(health.PingerKey, deps.Store)
		}

		c.Next()

		if ctx.Err() == context.DeadlineExceeded && !c.Writer.Written() {
			common.LogError("Request timeout",
				zap.String("path", c.Request.URL.Path),
				zap.String("request_id", requestid.Get(c)),
				zap.Duration("timeout", timeoutDuration),
			)
			status, resp := common.ToErrorResponse(common.ErrGatewayTimeout, false)
			c.AbortWithStatusJSON(status, resp)
		}
	})

	// 健康檢查路由
	router.GET("/health", health.HealthCheck)
	router.GET("/ready", health.ReadinessCheck)
	router.GET("/live", health.LivenessCheck)

	h := imports.NewHandler(deps.Queue, deps.Store, cfg.Importer.DefaultCount, cfg.Importer.MaxRange, cfg.App.Debug)

	// API 路由組
	v1 := router.Group("/api/v1")
	{
		importGroup := v1.Group("/imports")
		if cfg.RateLimit.Enabled {
			importGroup.POST("", middleware.RateLimit(cfg.RateLimit.Requests, cfg.RateLimit.Window),
				middleware.Deduplication(cfg.DedupWindow), h.HandleCreateImport)
		} else {
			importGroup.POST("", middleware.Deduplication(cfg.DedupWindow), h.HandleCreateImport)
		}
		importGroup.GET("/:id", h.HandleGetImport)

		v1.GET("/stats", h.HandleStats)
	}

	router.NoRoute(func(c *gin.Context) {
		common.WriteErrorResponse(c.Writer, common.ErrNotFound, false)
	})

	common.LogInfo("Router setup completed successfully",
		zap.Bool("rate_limit", cfg.RateLimit.Enabled),
		zap.Duration("dedup_window", cfg.DedupWindow),
		zap.Duration("timeout", timeoutDuration),
		zap.Int64("max_body_size", maxBodySize),
	)

	return router
}

// NewServer 以設定建立 HTTP 伺服器
func NewServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}
