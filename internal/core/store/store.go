// Package store 定義匯入流程使用的儲存庫介面與交易單位，
// 並提供記憶體與 PostgreSQL 兩種實作。
package store

import (
	"context"
	"errors"
	"fmt"

	"recipe-importer/internal/core/recipe"
)

// ErrNotFound 依名稱查無資料
var ErrNotFound = errors.New("not found")

// ErrTxDone 交易已提交或回滾
var ErrTxDone = errors.New("transaction already finished")

// 實體名稱，用於錯誤訊息與故障注入
const (
	EntityCategory         = "category"
	EntityIngredient       = "ingredient"
	EntityRecipe           = "recipe"
	EntityRecipeIngredient = "recipe_ingredient"
	EntityImage            = "image"
)

// StoreError 儲存層寫入或查詢失敗
type StoreError struct {
	Op     string
	Entity string
	Err    error
}

func (e *StoreError) Error() string {
	if e.Entity == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Entity, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// CategoryRepository 分類儲存庫
type CategoryRepository interface {
	FindByName(ctx context.Context, name string) (*recipe.Category, error)
	Add(ctx context.Context, c *recipe.Category) error
}

// IngredientRepository 食材儲存庫
type IngredientRepository interface {
	FindByName(ctx context.Context, name string) (*recipe.Ingredient, error)
	Add(ctx context.Context, i *recipe.Ingredient) error
}

// RecipeRepository 食譜儲存庫
type RecipeRepository interface {
	ExistsByName(ctx context.Context, name string) (bool, error)
	Add(ctx context.Context, r *recipe.Recipe) error
}

// RecipeIngredientRepository 食譜食材關聯儲存庫
type RecipeIngredientRepository interface {
	Add(ctx context.Context, ri *recipe.RecipeIngredient) error
}

// ImageRepository 圖片儲存庫
type ImageRepository interface {
	Add(ctx context.Context, img *recipe.Image) error
}

// Tx 交易單位。Savepoint 回傳的子交易 Commit 時併入上層，
// Rollback 只撤銷自己的寫入。
type Tx interface {
	Categories() CategoryRepository
	Ingredients() IngredientRepository
	Recipes() RecipeRepository
	RecipeIngredients() RecipeIngredientRepository
	Images() ImageRepository

	Savepoint(ctx context.Context) (Tx, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Counts 各實體資料筆數
type Counts struct {
	Categories        int64 `json:"categories"`
	Ingredients       int64 `json:"ingredients"`
	Recipes           int64 `json:"recipes"`
	RecipeIngredients int64 `json:"recipe_ingredients"`
	Images            int64 `json:"images"`
}

// Store 持久化儲存
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Counts(ctx context.Context) (Counts, error)
	Ping(ctx context.Context) error
	Close()
}
