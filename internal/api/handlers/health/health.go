package health

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"recipe-importer/internal/core/queue"
	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/pkg/common"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Context keys 由路由注入
const (
	ConfigKey = "config"
	QueueKey  = "queue"
	PingerKey = "store"
)

// Pinger 可測試連線的依賴
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueStatusProvider 提供隊列狀態
type QueueStatusProvider interface {
	GetQueueStatus() *queue.Status
}

// HealthResponse 健康檢查響應
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Runtime   map[string]interface{} `json:"runtime"`
	Queue     *queue.Status          `json:"queue,omitempty"`
}

// HealthCheck 健康檢查處理器
func HealthCheck(c *gin.Context) {
	// 獲取配置
	cfg, ok := c.MustGet(ConfigKey).(*config.Config)
	if !ok {
		common.LogError("Invalid configuration type in context")
		status, resp := common.ToErrorResponse(common.ErrInternalError, false)
		c.JSON(status, resp)
		return
	}

	// 獲取運行時信息
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   cfg.App.Version,
		Runtime: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"memory": map[string]interface{}{
				"alloc":       m.Alloc,
				"total_alloc": m.TotalAlloc,
				"sys":         m.Sys,
				"num_gc":      m.NumGC,
			},
		},
	}

	if q, ok := c.Get(QueueKey); ok {
		if provider, ok := q.(QueueStatusProvider); ok {
			response.Queue = provider.GetQueueStatus()
		}
	}

	common.LogDebug("Health check request",
		zap.String("client_ip", c.ClientIP()),
		zap.String("path", c.Request.URL.Path),
	)

	c.JSON(http.StatusOK, response)
}

// ReadinessCheck 就緒檢查處理器，儲存無法連線時回傳 503
func ReadinessCheck(c *gin.Context) {
	if p, ok := c.Get(PingerKey); ok {
		if pinger, ok := p.(Pinger); ok {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()

			if err := pinger.Ping(ctx); err != nil {
				common.LogWarn("Store not ready", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status": "unavailable",
					"store":  err.Error(),
				})
				return
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}

// LivenessCheck 存活檢查處理器
func LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
	})
}
