package recipe

import (
	"time"
)

// MaxDuration 單一時長上限，來源頁面回報一天以上時會被截斷
const MaxDuration = 23*time.Hour + 59*time.Minute + 59*time.Second

// ExtractedRecipe 從來源頁面解析出的食譜，只在單次匯入中使用
type ExtractedRecipe struct {
	CategoryName    string            `json:"category_name" bson:"category_name"`
	RecipeName      string            `json:"recipe_name" bson:"recipe_name"`
	Instructions    string            `json:"instructions" bson:"instructions"`
	PreparationTime time.Duration     `json:"preparation_time" bson:"preparation_time"`
	CookingTime     time.Duration     `json:"cooking_time" bson:"cooking_time"`
	PortionsCount   int               `json:"portions_count" bson:"portions_count"`
	ImageURL        string            `json:"image_url" bson:"image_url"`
	SourceURL       string            `json:"source_url" bson:"source_url"`
	Ingredients     map[string]string `json:"ingredients" bson:"ingredients"`
}

// Normalize 截斷超出上限的時長
func (r *ExtractedRecipe) Normalize() {
	r.PreparationTime = ClampDuration(r.PreparationTime)
	r.CookingTime = ClampDuration(r.CookingTime)
}

// ClampDuration 將時長限制在 0 到 23:59:59 之間
func ClampDuration(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > MaxDuration {
		return MaxDuration
	}
	return d
}

// Category 分類
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Ingredient 食材
type Ingredient struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Recipe 食譜
type Recipe struct {
	ID              int64         `json:"id"`
	Name            string        `json:"name"`
	Instructions    string        `json:"instructions"`
	PreparationTime time.Duration `json:"preparation_time"`
	CookingTime     time.Duration `json:"cooking_time"`
	PortionsCount   int           `json:"portions_count"`
	SourceURL       string        `json:"source_url"`
	CategoryID      int64         `json:"category_id"`
	// AddedByUserID 匯入建立的食譜一律為 nil
	AddedByUserID *string `json:"added_by_user_id,omitempty"`
}

// RecipeIngredient 食譜與食材的關聯，每一行來源食材對應一筆
type RecipeIngredient struct {
	RecipeID     int64  `json:"recipe_id"`
	IngredientID int64  `json:"ingredient_id"`
	Quantity     string `json:"quantity"`
}

// Image 食譜圖片，以遠端網址表示
type Image struct {
	ID             int64  `json:"id"`
	RecipeID       int64  `json:"recipe_id"`
	RemoteImageURL string `json:"remote_image_url"`
}

// NewRecipe 由解析結果建立待寫入的食譜
func NewRecipe(r *ExtractedRecipe, categoryID int64) *Recipe {
	return &Recipe{
		Name:            r.RecipeName,
		Instructions:    r.Instructions,
		PreparationTime: ClampDuration(r.PreparationTime),
		CookingTime:     ClampDuration(r.CookingTime),
		PortionsCount:   r.PortionsCount,
		SourceURL:       r.SourceURL,
		CategoryID:      categoryID,
	}
}
