package importer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"recipe-importer/internal/core/recipe"
	"recipe-importer/internal/core/store"
	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/pkg/common"

	"go.uber.org/zap"
)

// Options 寫入設定
type Options struct {
	// BatchSize 每處理幾筆提交一次
	BatchSize   int
	DedupByName bool
	// OnStoreError 為 skip 時略過失敗的食譜，abort 時回滾目前批次並停止
	OnStoreError string
}

// OptionsFromConfig 由設定建立 Options
func OptionsFromConfig(cfg config.ImporterConfig) Options {
	return Options{
		BatchSize:    cfg.BatchSize,
		DedupByName:  cfg.DedupByName,
		OnStoreError: cfg.OnStoreError,
	}
}

// ImportStats 寫入統計，Imported 只計入已提交的食譜
type ImportStats struct {
	Processed        int `json:"processed"`
	Imported         int `json:"imported"`
	SkippedDuplicate int `json:"skipped_duplicate"`
	FailedStore      int `json:"failed_store"`
	RolledBack       int `json:"rolled_back"`
	Batches          int `json:"batches"`
}

// Reconciler 依序將解析結果寫入儲存，必須是唯一的寫入者
type Reconciler struct {
	store store.Store
	opts  Options
}

// NewReconciler 創建寫入器
func NewReconciler(s store.Store, opts Options) *Reconciler {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	if opts.OnStoreError == "" {
		opts.OnStoreError = config.OnStoreErrorSkip
	}
	return &Reconciler{store: s, opts: opts}
}

// batch 目前尚未提交的批次
type batch struct {
	tx       store.Tx
	records  int
	imported int
}

// Reconcile 依序寫入每筆食譜。已提交的批次不受後續失敗影響，
// 中斷時最多遺失目前這一批。
func (r *Reconciler) Reconcile(ctx context.Context, records []*recipe.ExtractedRecipe) (*ImportStats, error) {
	stats := &ImportStats{}
	var b *batch

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			r.rollback(ctx, b, stats)
			return stats, err
		}

		if b == nil {
			tx, err := r.store.Begin(ctx)
			if err != nil {
				return stats, err
			}
			b = &batch{tx: tx}
		}

		stats.Processed++
		b.records++

		imported, err := r.importOne(ctx, b.tx, rec)
		switch {
		case err != nil:
			stats.FailedStore++
			common.LogWarn("Recipe store failed",
				zap.String("source_url", rec.SourceURL),
				zap.String("recipe", rec.RecipeName),
				zap.String("policy", r.opts.OnStoreError),
				zap.Error(err),
			)
			if r.opts.OnStoreError == config.OnStoreErrorAbort {
				r.rollback(ctx, b, stats)
				return stats, fmt.Errorf("import aborted at %s: %w", rec.SourceURL, err)
			}
		case imported:
			b.imported++
		default:
			stats.SkippedDuplicate++
			common.LogDebug("Duplicate recipe skipped",
				zap.String("source_url", rec.SourceURL),
				zap.String("recipe", rec.RecipeName),
			)
		}

		if b.records >= r.opts.BatchSize {
			if err := r.commit(ctx, b, stats); err != nil {
				return stats, err
			}
			b = nil
		}
	}

	if b != nil {
		if err := r.commit(ctx, b, stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (r *Reconciler) commit(ctx context.Context, b *batch, stats *ImportStats) error {
	if err := b.tx.Commit(ctx); err != nil {
		_ = b.tx.Rollback(ctx)
		stats.RolledBack += b.imported
		common.LogError("Batch commit failed",
			zap.Int("batch", stats.Batches+1),
			zap.Int("lost", b.imported),
			zap.Error(err),
		)
		return fmt.Errorf("commit batch %d: %w", stats.Batches+1, err)
	}

	stats.Batches++
	stats.Imported += b.imported
	common.LogInfo("Batch committed",
		zap.Int("batch", stats.Batches),
		zap.Int("records", b.records),
		zap.Int("imported", b.imported),
		zap.Int("total_imported", stats.Imported),
	)
	return nil
}

func (r *Reconciler) rollback(ctx context.Context, b *batch, stats *ImportStats) {
	if b == nil {
		return
	}
	stats.RolledBack += b.imported
	if err := b.tx.Rollback(ctx); err != nil {
		common.LogError("Batch rollback failed", zap.Error(err))
	}
}

// importOne 在 savepoint 內寫入一筆食譜，重複時回傳 false。
// 失敗或重複時 savepoint 整個回滾，批次內其他食譜不受影響。
func (r *Reconciler) importOne(ctx context.Context, tx store.Tx, rec *recipe.ExtractedRecipe) (bool, error) {
	sp, err := tx.Savepoint(ctx)
	if err != nil {
		return false, err
	}

	written, err := r.writeRecipe(ctx, sp, rec)
	if err != nil || !written {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return false, errors.Join(err, rbErr)
		}
		return false, err
	}
	if err := sp.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// writeRecipe 重複檢查在建立分類之前，避免留下沒有食譜的分類
func (r *Reconciler) writeRecipe(ctx context.Context, tx store.Tx, rec *recipe.ExtractedRecipe) (bool, error) {
	if r.opts.DedupByName {
		exists, err := tx.Recipes().ExistsByName(ctx, rec.RecipeName)
		if err != nil || exists {
			return false, err
		}
	}

	cat, err := lookupOrCreateCategory(ctx, tx, rec.CategoryName)
	if err != nil {
		return false, err
	}

	row := recipe.NewRecipe(rec, cat.ID)
	if err := tx.Recipes().Add(ctx, row); err != nil {
		return false, err
	}

	names := make([]string, 0, len(rec.Ingredients))
	for name := range rec.Ingredients {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ing, err := lookupOrCreateIngredient(ctx, tx, name)
		if err != nil {
			return false, err
		}
		link := &recipe.RecipeIngredient{
			RecipeID:     row.ID,
			IngredientID: ing.ID,
			Quantity:     rec.Ingredients[name],
		}
		if err := tx.RecipeIngredients().Add(ctx, link); err != nil {
			return false, err
		}
	}

	if err := tx.Images().Add(ctx, &recipe.Image{RecipeID: row.ID, RemoteImageURL: rec.ImageURL}); err != nil {
		return false, err
	}
	return true, nil
}

func lookupOrCreateCategory(ctx context.Context, tx store.Tx, name string) (*recipe.Category, error) {
	c, err := tx.Categories().FindByName(ctx, name)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	c = &recipe.Category{Name: name}
	if err := tx.Categories().Add(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func lookupOrCreateIngredient(ctx context.Context, tx store.Tx, name string) (*recipe.Ingredient, error) {
	i, err := tx.Ingredients().FindByName(ctx, name)
	if err == nil {
		return i, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	i = &recipe.Ingredient{Name: name}
	if err := tx.Ingredients().Add(ctx, i); err != nil {
		return nil, err
	}
	return i, nil
}
