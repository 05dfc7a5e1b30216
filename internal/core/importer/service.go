package importer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"recipe-importer/internal/core/archive"
	"recipe-importer/internal/core/cache"
	"recipe-importer/internal/core/recipe"
	"recipe-importer/internal/core/scraper"
	"recipe-importer/internal/pkg/common"

	"go.uber.org/zap"
)

// Range 匯入的 id 範圍，兩端皆包含
type Range struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// RangeFromCount 總數 n 對應範圍 [1, n]
func RangeFromCount(n int) Range {
	return Range{From: 1, To: n}
}

// ResolveRange 由 from/to 或 count 決定範圍，兩者擇一，都未指定時使用 defaultCount。
// maxRange > 0 時限制範圍內的 id 數量。
func ResolveRange(from, to, count *int, defaultCount, maxRange int) (Range, error) {
	var rng Range
	switch {
	case count != nil && (from != nil || to != nil):
		return rng, common.NewValidationError("count cannot be combined with from/to")
	case count != nil:
		rng = RangeFromCount(*count)
	case from != nil && to != nil:
		rng = Range{From: *from, To: *to}
	case from != nil || to != nil:
		return rng, common.NewValidationError("from and to must be given together")
	default:
		rng = RangeFromCount(defaultCount)
	}
	return rng, rng.ValidateMax(maxRange)
}

// Validate 驗證範圍
func (r Range) Validate() error {
	if r.From <= 0 {
		return common.NewValidationError("from must be greater than 0")
	}
	if r.To < r.From {
		return common.NewValidationError(fmt.Sprintf("to (%d) must not be less than from (%d)", r.To, r.From))
	}
	return nil
}

// ValidateMax 驗證範圍並限制 id 數量，limit <= 0 表示不限制
func (r Range) ValidateMax(limit int) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if limit > 0 && r.Size() > limit {
		return common.NewValidationError(fmt.Sprintf("range of %d ids exceeds max range %d", r.Size(), limit))
	}
	return nil
}

// Size 範圍內的 id 數量
func (r Range) Size() int {
	return r.To - r.From + 1
}

// Scraper 抓取一段 id 範圍
type Scraper interface {
	Scrape(ctx context.Context, from, to int) *scraper.ScrapeResult
}

// Report 單次匯入的摘要
type Report struct {
	Range      Range         `json:"range"`
	Scrape     scraper.Stats `json:"scrape"`
	Import     ImportStats   `json:"import"`
	Archived   int           `json:"archived"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Elapsed    string        `json:"elapsed"`
	Error      string        `json:"error,omitempty"`
}

// Service 串接抓取、封存與寫入
type Service struct {
	scraper    Scraper
	reconciler *Reconciler
	archive    archive.Archive
	locker     cache.Locker
	maxRange   int
}

// NewService 創建匯入服務，archive 與 locker 可為 nil
func NewService(s Scraper, rc *Reconciler, a archive.Archive, l cache.Locker) *Service {
	if a == nil {
		a = archive.NopArchive{}
	}
	if l == nil {
		l = cache.NewLocalLocker()
	}
	return &Service{
		scraper:    s,
		reconciler: rc,
		archive:    a,
		locker:     l,
	}
}

// WithMaxRange 限制單次匯入的 id 數量
func (s *Service) WithMaxRange(n int) *Service {
	s.maxRange = n
	return s
}

// Import 抓取整個範圍後依序寫入，回傳時範圍內每個 id 都已嘗試過。
// 寫入失敗時仍回傳目前為止的報告。
func (s *Service) Import(ctx context.Context, rng Range) (*Report, error) {
	if err := rng.ValidateMax(s.maxRange); err != nil {
		return nil, common.ErrInvalidRange.Wrap(err)
	}

	release, err := s.locker.Acquire(ctx)
	if err != nil {
		if errors.Is(err, cache.ErrLockHeld) {
			return nil, common.ErrImportRunning.Wrap(err)
		}
		return nil, err
	}
	defer release()

	report := &Report{Range: rng, StartedAt: time.Now()}
	common.LogInfo("Import started",
		zap.Int("from", rng.From),
		zap.Int("to", rng.To),
	)

	res := s.scraper.Scrape(ctx, rng.From, rng.To)
	report.Scrape = res.Stats
	records := orderedRecipes(res)

	if n, err := s.archive.Save(ctx, records); err != nil {
		common.LogWarn("Archive failed", zap.Error(err))
	} else {
		report.Archived = n
	}

	stats, err := s.reconciler.Reconcile(ctx, records)
	report.Import = *stats
	report.FinishedAt = time.Now()
	report.Elapsed = report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond).String()
	if err != nil {
		report.Error = err.Error()
	}

	common.LogInfo("Import finished",
		zap.Int("from", rng.From),
		zap.Int("to", rng.To),
		zap.Int("attempted", report.Scrape.Attempted),
		zap.Int("succeeded", report.Scrape.Succeeded),
		zap.Int("parse_failed", report.Scrape.ParseFailed),
		zap.Int("imported", report.Import.Imported),
		zap.Int("skipped_duplicate", report.Import.SkippedDuplicate),
		zap.Int("failed_store", report.Import.FailedStore),
		zap.String("elapsed", report.Elapsed),
		zap.Error(err),
	)
	return report, err
}

// orderedRecipes 依 id 排序，重複名稱時保留 id 最小的
func orderedRecipes(res *scraper.ScrapeResult) []*recipe.ExtractedRecipe {
	results := make([]scraper.Result, 0, len(res.Results))
	for _, r := range res.Results {
		if r.Outcome == scraper.OutcomeSuccess && r.Recipe != nil {
			results = append(results, r)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })

	records := make([]*recipe.ExtractedRecipe, len(results))
	for i, r := range results {
		records[i] = r.Recipe
	}
	return records
}
