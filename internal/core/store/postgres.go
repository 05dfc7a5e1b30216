package store

import (
	"context"
	_ "embed"
	"errors"
	"time"

	"recipe-importer/internal/core/recipe"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore PostgreSQL 儲存，Savepoint 對應 SAVEPOINT
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore 以既有連線池建立儲存
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema 建立不存在的資料表，不處理欄位變更
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return &StoreError{Op: "ensure schema", Err: err}
	}
	return nil
}

// Begin 開始交易
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, &StoreError{Op: "begin", Err: err}
	}
	return &pgTx{tx: tx}, nil
}

// Counts 統計各資料表筆數
func (s *PostgresStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM categories),
			(SELECT count(*) FROM ingredients),
			(SELECT count(*) FROM recipes),
			(SELECT count(*) FROM recipe_ingredients),
			(SELECT count(*) FROM images)`,
	).Scan(&c.Categories, &c.Ingredients, &c.Recipes, &c.RecipeIngredients, &c.Images)
	if err != nil {
		return Counts{}, &StoreError{Op: "count", Err: err}
	}
	return c, nil
}

// Ping 測試連線
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close 關閉連線池
func (s *PostgresStore) Close() {
	s.pool.Close()
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Categories() CategoryRepository               { return pgCategories{t.tx} }
func (t *pgTx) Ingredients() IngredientRepository             { return pgIngredients{t.tx} }
func (t *pgTx) Recipes() RecipeRepository                     { return pgRecipes{t.tx} }
func (t *pgTx) RecipeIngredients() RecipeIngredientRepository { return pgRecipeIngredients{t.tx} }
func (t *pgTx) Images() ImageRepository                       { return pgImages{t.tx} }

func (t *pgTx) Savepoint(ctx context.Context) (Tx, error) {
	child, err := t.tx.Begin(ctx)
	if err != nil {
		return nil, &StoreError{Op: "savepoint", Err: err}
	}
	return &pgTx{tx: child}, nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return ErrTxDone
		}
		return &StoreError{Op: "commit", Err: err}
	}
	return nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return &StoreError{Op: "rollback", Err: err}
	}
	return nil
}

func interval(d time.Duration) pgtype.Interval {
	return pgtype.Interval{Microseconds: d.Microseconds(), Valid: true}
}

type pgCategories struct{ tx pgx.Tx }

func (r pgCategories) FindByName(ctx context.Context, name string) (*recipe.Category, error) {
	var c recipe.Category
	err := r.tx.QueryRow(ctx, `SELECT id, name FROM categories WHERE name = $1`, name).Scan(&c.ID, &c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StoreError{Op: "find", Entity: EntityCategory, Err: err}
	}
	return &c, nil
}

func (r pgCategories) Add(ctx context.Context, c *recipe.Category) error {
	err := r.tx.QueryRow(ctx, `INSERT INTO categories (name) VALUES ($1) RETURNING id`, c.Name).Scan(&c.ID)
	if err != nil {
		return &StoreError{Op: "add", Entity: EntityCategory, Err: err}
	}
	return nil
}

type pgIngredients struct{ tx pgx.Tx }

func (r pgIngredients) FindByName(ctx context.Context, name string) (*recipe.Ingredient, error) {
	var i recipe.Ingredient
	err := r.tx.QueryRow(ctx, `SELECT id, name FROM ingredients WHERE name = $1`, name).Scan(&i.ID, &i.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StoreError{Op: "find", Entity: EntityIngredient, Err: err}
	}
	return &i, nil
}

func (r pgIngredients) Add(ctx context.Context, i *recipe.Ingredient) error {
	err := r.tx.QueryRow(ctx, `INSERT INTO ingredients (name) VALUES ($1) RETURNING id`, i.Name).Scan(&i.ID)
	if err != nil {
		return &StoreError{Op: "add", Entity: EntityIngredient, Err: err}
	}
	return nil
}

type pgRecipes struct{ tx pgx.Tx }

func (r pgRecipes) ExistsByName(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM recipes WHERE name = $1)`, name).Scan(&exists)
	if err != nil {
		return false, &StoreError{Op: "find", Entity: EntityRecipe, Err: err}
	}
	return exists, nil
}

func (r pgRecipes) Add(ctx context.Context, rec *recipe.Recipe) error {
	err := r.tx.QueryRow(ctx, `
		INSERT INTO recipes (
			name, instructions, preparation_time, cooking_time,
			portions_count, original_url, category_id, added_by_user_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		rec.Name,
		rec.Instructions,
		interval(rec.PreparationTime),
		interval(rec.CookingTime),
		rec.PortionsCount,
		rec.SourceURL,
		rec.CategoryID,
		rec.AddedByUserID,
	).Scan(&rec.ID)
	if err != nil {
		return &StoreError{Op: "add", Entity: EntityRecipe, Err: err}
	}
	return nil
}

type pgRecipeIngredients struct{ tx pgx.Tx }

func (r pgRecipeIngredients) Add(ctx context.Context, ri *recipe.RecipeIngredient) error {
	_, err := r.tx.Exec(ctx,
		`INSERT INTO recipe_ingredients (recipe_id, ingredient_id, quantity) VALUES ($1, $2, $3)`,
		ri.RecipeID, ri.IngredientID, ri.Quantity,
	)
	if err != nil {
		return &StoreError{Op: "add", Entity: EntityRecipeIngredient, Err: err}
	}
	return nil
}

type pgImages struct{ tx pgx.Tx }

func (r pgImages) Add(ctx context.Context, img *recipe.Image) error {
	err := r.tx.QueryRow(ctx,
		`INSERT INTO images (recipe_id, remote_image_url) VALUES ($1, $2) RETURNING id`,
		img.RecipeID, img.RemoteImageURL,
	).Scan(&img.ID)
	if err != nil {
		return &StoreError{Op: "add", Entity: EntityImage, Err: err}
	}
	return nil
}
