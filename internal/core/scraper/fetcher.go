package scraper

import (
	"context"
	"fmt"
	"net/http"

	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/pkg/common"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// PageCache 頁面快取
type PageCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte) error
}

// Page 抓取到的原始頁面
type Page struct {
	ID        int
	URL       string
	Body      []byte
	FromCache bool
}

// PageFetcher 依食譜 id 抓取來源頁面
type PageFetcher struct {
	client    *resty.Client
	urlFormat string
	cache     PageCache
}

// NewPageFetcher 創建頁面抓取器，cache 可為 nil
func NewPageFetcher(cfg config.ScraperConfig, cache PageCache) *PageFetcher {
	// resty.Client 可在多個 goroutine 間共用
	client := resty.New().
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(0).
		SetHeader("Accept", "text/html").
		SetHeader("Accept-Language", "bg,en;q=0.8")
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}

	return &PageFetcher{
		client:    client,
		urlFormat: cfg.URLFormat,
		cache:     cache,
	}
}

// URL 產生食譜 id 對應的來源網址
func (f *PageFetcher) URL(id int) string {
	return fmt.Sprintf(f.urlFormat, id)
}

// Fetch 抓取單一頁面，不重試
func (f *PageFetcher) Fetch(ctx context.Context, id int) (*Page, error) {
	url := f.URL(id)
	if id <= 0 {
		return nil, &TransportError{URL: url, Err: fmt.Errorf("invalid recipe id %d", id)}
	}

	if f.cache != nil {
		if body, ok := f.cache.Get(ctx, url); ok {
			common.LogCacheHit("page", url)
			return &Page{ID: id, URL: url, Body: body, FromCache: true}, nil
		}
		common.LogCacheMiss("page", url)
	}

	resp, err := f.client.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}

	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", url, ErrPageNotFound)
	}
	if !resp.IsSuccess() {
		return nil, &TransportError{URL: url, StatusCode: resp.StatusCode()}
	}

	body := resp.Body()
	if f.cache != nil {
		if err := f.cache.Set(ctx, url, body); err != nil {
			common.LogWarn("Failed to cache page",
				zap.String("url", url),
				zap.Error(err),
			)
		}
	}

	common.LogDebug("Page fetched",
		zap.Int("id", id),
		zap.Int("status", resp.StatusCode()),
		zap.Int("bytes", len(body)),
		zap.Duration("latency", resp.Time()),
	)

	return &Page{ID: id, URL: url, Body: body}, nil
}
