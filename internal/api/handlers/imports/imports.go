package imports

import (
	"context"
	"errors"
	"io"
	"net/http"

	"recipe-importer/internal/core/importer"
	"recipe-importer/internal/core/queue"
	"recipe-importer/internal/core/store"
	"recipe-importer/internal/pkg/common"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ImportRequest 匯入請求，from/to 與 count 擇一，都省略時使用預設數量
type ImportRequest struct {
	From  *int `json:"from,omitempty"`
	To    *int `json:"to,omitempty"`
	Count *int `json:"count,omitempty"`
}

// Range 將請求轉換為 id 範圍
func (r ImportRequest) Range(defaultCount, maxRange int) (importer.Range, error) {
	return importer.ResolveRange(r.From, r.To, r.Count, defaultCount, maxRange)
}

// JobQueue 匯入任務隊列
type JobQueue interface {
	Enqueue(rng importer.Range) (*queue.Job, error)
	Get(id string) (*queue.Job, bool)
}

// CountsReader 讀取資料筆數
type CountsReader interface {
	Counts(ctx context.Context) (store.Counts, error)
}

// Handler 匯入處理程序
type Handler struct {
	queue        JobQueue
	counts       CountsReader
	defaultCount int
	maxRange     int
	debug        bool
}

// NewHandler 創建新的匯入處理程序
func NewHandler(q JobQueue, counts CountsReader, defaultCount, maxRange int, debug bool) *Handler {
	return &Handler{
		queue:        q,
		counts:       counts,
		defaultCount: defaultCount,
		maxRange:     maxRange,
		debug:        debug,
	}
}

// HandleCreateImport 將匯入範圍加入隊列，回傳 202
func (h *Handler) HandleCreateImport(c *gin.Context) {
	reqID := requestid.Get(c)

	var req ImportRequest
	if err := common.DecodeJSONStrict(c.Request.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		common.LogWarn("請求格式無效",
			zap.Error(err),
			zap.String("request_id", reqID),
		)
		h.fail(c, common.ErrInvalidRequest.Wrap(err))
		return
	}

	rng, err := req.Range(h.defaultCount, h.maxRange)
	if err != nil {
		h.fail(c, common.ErrInvalidRange.Wrap(err))
		return
	}

	job, err := h.queue.Enqueue(rng)
	if err != nil {
		common.LogWarn("Import job rejected",
			zap.Error(err),
			zap.String("request_id", reqID),
		)
		h.fail(c, err)
		return
	}

	c.Header("Location", "/api/v1/imports/"+job.ID)
	c.JSON(http.StatusAccepted, job)
}

// HandleGetImport 查詢匯入任務
func (h *Handler) HandleGetImport(c *gin.Context) {
	job, ok := h.queue.Get(c.Param("id"))
	if !ok {
		h.fail(c, common.ErrJobNotFound)
		return
	}
	c.JSON(http.StatusOK, job)
}

// HandleStats 回傳各資料表筆數
func (h *Handler) HandleStats(c *gin.Context) {
	counts, err := h.counts.Counts(c.Request.Context())
	if err != nil {
		common.LogError("Failed to read counts",
			zap.Error(err),
			zap.String("request_id", requestid.Get(c)),
		)
		h.fail(c, common.ErrServiceUnavailable.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (h *Handler) fail(c *gin.Context, err error) {
	status, resp := common.ToErrorResponse(err, h.debug)
	c.AbortWithStatusJSON(status, resp)
}
