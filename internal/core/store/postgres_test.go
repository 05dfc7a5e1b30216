package store

import (
	"context"
	"os"
	"testing"
	"time"

	"recipe-importer/internal/core/recipe"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 需要 TEST_DATABASE_URL 指向可清空的資料庫
func newTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)

	s := NewPostgresStore(pool)
	require.NoError(t, s.EnsureSchema(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE images, recipe_ingredients, recipes, ingredients, categories RESTART IDENTITY`)
	require.NoError(t, err)

	t.Cleanup(s.Close)
	return s
}

func TestPostgresStore_RecipeGraph(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	cat := &recipe.Category{Name: "Сладкиши"}
	require.NoError(t, tx.Categories().Add(ctx, cat))

	rec := &recipe.Recipe{
		Name:            "Торти",
		Instructions:    "Печете.",
		PreparationTime: 30 * time.Minute,
		CookingTime:     recipe.MaxDuration,
		PortionsCount:   4,
		SourceURL:       "https://recepti.gotvach.bg/r-42",
		CategoryID:      cat.ID,
	}
	require.NoError(t, tx.Recipes().Add(ctx, rec))

	ing := &recipe.Ingredient{Name: "Брашно"}
	require.NoError(t, tx.Ingredients().Add(ctx, ing))
	require.NoError(t, tx.RecipeIngredients().Add(ctx, &recipe.RecipeIngredient{RecipeID: rec.ID, IngredientID: ing.ID, Quantity: "500 г"}))
	require.NoError(t, tx.Images().Add(ctx, &recipe.Image{RecipeID: rec.ID, RemoteImageURL: "https://recepti.gotvach.bg/files/42.jpg"}))
	require.NoError(t, tx.Commit(ctx))

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Categories: 1, Ingredients: 1, Recipes: 1, RecipeIngredients: 1, Images: 1}, counts)

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	found, err := tx.Categories().FindByName(ctx, "Сладкиши")
	require.NoError(t, err)
	assert.Equal(t, cat.ID, found.ID)

	_, err = tx.Ingredients().FindByName(ctx, "Захар")
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err := tx.Recipes().ExistsByName(ctx, "Торти")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPostgresStore_SavepointRollback(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Categories().Add(ctx, &recipe.Category{Name: "Супи"}))

	sp, err := tx.Savepoint(ctx)
	require.NoError(t, err)
	require.NoError(t, sp.Ingredients().Add(ctx, &recipe.Ingredient{Name: "Сол"}))
	// 重複名稱違反 UNIQUE，整個 savepoint 作廢
	assert.Error(t, sp.Ingredients().Add(ctx, &recipe.Ingredient{Name: "Сол"}))
	require.NoError(t, sp.Rollback(ctx))

	require.NoError(t, tx.Commit(ctx))

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Categories)
	assert.Zero(t, counts.Ingredients)
}
