package scraper

import (
	"context"
	"errors"
	"sync"
	"time"

	"recipe-importer/internal/core/recipe"
	"recipe-importer/internal/pkg/common"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Fetcher 抓取單一 id 的頁面
type Fetcher interface {
	Fetch(ctx context.Context, id int) (*Page, error)
}

// RecipeExtractor 將頁面解析為食譜
type RecipeExtractor interface {
	Extract(page *Page) (*recipe.ExtractedRecipe, error)
}

// Outcome 單一 id 的抓取結果
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeNotFound       Outcome = "not_found"
	OutcomeTransportError Outcome = "transport_error"
	OutcomeParseError     Outcome = "parse_error"
)

// Result 單一 id 的處理結果
type Result struct {
	ID      int                     `json:"id"`
	Outcome Outcome                 `json:"outcome"`
	Recipe  *recipe.ExtractedRecipe `json:"-"`
	Err     error                   `json:"-"`
}

// Stats 抓取統計
type Stats struct {
	Attempted       int `json:"attempted"`
	Succeeded       int `json:"succeeded"`
	NotFound        int `json:"not_found"`
	TransportFailed int `json:"transport_failed"`
	ParseFailed     int `json:"parse_failed"`
}

// ScrapeResult 一次範圍抓取的結果，Recipes 不保證順序
type ScrapeResult struct {
	Recipes []*recipe.ExtractedRecipe `json:"-"`
	Results []Result                  `json:"results"`
	Stats   Stats                     `json:"stats"`
}

// Coordinator 以固定數量的 worker 抓取一段 id 範圍
type Coordinator struct {
	fetcher   Fetcher
	extractor RecipeExtractor
	workers   int
}

// NewCoordinator 創建抓取協調器
func NewCoordinator(fetcher Fetcher, extractor RecipeExtractor, workers int) *Coordinator {
	if workers <= 0 {
		workers = 1
	}
	return &Coordinator{
		fetcher:   fetcher,
		extractor: extractor,
		workers:   workers,
	}
}

// Scrape 抓取 [from, to] 內每個 id，單一 id 失敗不影響整批。
// ctx 取消後不再派發新的 id，已派發的會完成。
func (c *Coordinator) Scrape(ctx context.Context, from, to int) *ScrapeResult {
	start := time.Now()
	col := &collector{}

	var g errgroup.Group
	g.SetLimit(c.workers)

	for id := from; id <= to; id++ {
		if ctx.Err() != nil {
			common.LogWarn("Scrape cancelled",
				zap.Int("next_id", id),
				zap.Error(ctx.Err()),
			)
			break
		}
		g.Go(func() error {
			col.add(c.scrapeOne(ctx, id))
			return nil
		})
		// to 為 math.MaxInt 時 id++ 會溢位
		if id == to {
			break
		}
	}
	_ = g.Wait()

	res := col.result()
	common.LogInfo("Scrape finished",
		zap.Int("from", from),
		zap.Int("to", to),
		zap.Int("attempted", res.Stats.Attempted),
		zap.Int("succeeded", res.Stats.Succeeded),
		zap.Int("not_found", res.Stats.NotFound),
		zap.Int("transport_failed", res.Stats.TransportFailed),
		zap.Int("parse_failed", res.Stats.ParseFailed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res
}

func (c *Coordinator) scrapeOne(ctx context.Context, id int) Result {
	page, err := c.fetcher.Fetch(ctx, id)
	if err != nil {
		if errors.Is(err, ErrPageNotFound) {
			common.LogDebug("Recipe page not found", zap.Int("id", id))
			return Result{ID: id, Outcome: OutcomeNotFound, Err: err}
		}
		common.LogWarn("Recipe page fetch failed", zap.Int("id", id), zap.Error(err))
		return Result{ID: id, Outcome: OutcomeTransportError, Err: err}
	}

	rec, err := c.extractor.Extract(page)
	if err != nil {
		common.LogWarn("Recipe page parse failed", zap.Int("id", id), zap.Error(err))
		return Result{ID: id, Outcome: OutcomeParseError, Err: err}
	}

	return Result{ID: id, Outcome: OutcomeSuccess, Recipe: rec}
}

// collector 併發安全、只追加的結果收集器
type collector struct {
	mu      sync.Mutex
	recipes []*recipe.ExtractedRecipe
	results []Result
	stats   Stats
}

func (c *collector) add(r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results = append(c.results, r)
	c.stats.Attempted++
	switch r.Outcome {
	case OutcomeSuccess:
		c.stats.Succeeded++
		c.recipes = append(c.recipes, r.Recipe)
	case OutcomeNotFound:
		c.stats.NotFound++
	case OutcomeTransportError:
		c.stats.TransportFailed++
	case OutcomeParseError:
		c.stats.ParseFailed++
	}
}

func (c *collector) result() *ScrapeResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	return &ScrapeResult{
		Recipes: c.recipes,
		Results: c.results,
		Stats:   c.stats,
	}
}
