package archive

import (
	"context"
	"fmt"
	"sort"
	"time"

	"recipe-importer/internal/core/recipe"
	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/pkg/common"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Archive 保存解析結果原貌，與關聯式資料庫無關
type Archive interface {
	Save(ctx context.Context, records []*recipe.ExtractedRecipe) (int, error)
	Close(ctx context.Context) error
}

// NopArchive 未啟用封存時使用
type NopArchive struct{}

func (NopArchive) Save(_ context.Context, _ []*recipe.ExtractedRecipe) (int, error) { return 0, nil }
func (NopArchive) Close(_ context.Context) error                                 { return nil }

// ingredientLine 封存文件中的食材行
type ingredientLine struct {
	Name     string `bson:"name"`
	Quantity string `bson:"quantity"`
}

// document 封存文件，以 source_url 為唯一鍵
type document struct {
	SourceURL          string           `bson:"source_url"`
	CategoryName       string           `bson:"category_name"`
	RecipeName         string           `bson:"recipe_name"`
	Instructions       string           `bson:"instructions"`
	PreparationMinutes int64            `bson:"preparation_minutes"`
	CookingMinutes     int64            `bson:"cooking_minutes"`
	PortionsCount      int              `bson:"portions_count"`
	ImageURL           string           `bson:"image_url"`
	Ingredients        []ingredientLine `bson:"ingredients"`
	ArchivedAt         time.Time        `bson:"archived_at"`
}

// 食材名稱可能含有 "." 所以不直接當作欄位名稱
func toDocument(r *recipe.ExtractedRecipe, now time.Time) document {
	lines := make([]ingredientLine, 0, len(r.Ingredients))
	for name, qty := range r.Ingredients {
		lines = append(lines, ingredientLine{Name: name, Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].Name < lines[j].Name })

	return document{
		SourceURL:          r.SourceURL,
		CategoryName:       r.CategoryName,
		RecipeName:         r.RecipeName,
		Instructions:       r.Instructions,
		PreparationMinutes: int64(r.PreparationTime / time.Minute),
		CookingMinutes:     int64(r.CookingTime / time.Minute),
		PortionsCount:      r.PortionsCount,
		ImageURL:           r.ImageURL,
		Ingredients:        lines,
		ArchivedAt:         now.UTC(),
	}
}

// MongoArchive MongoDB 封存
type MongoArchive struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

// NewMongoArchive 連線 MongoDB 並確保 source_url 唯一索引
func NewMongoArchive(ctx context.Context, cfg config.ArchiveConfig) (*MongoArchive, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "source_url", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo create index: %w", err)
	}

	common.LogInfo("Connected to MongoDB archive",
		zap.String("database", cfg.Database),
		zap.String("collection", cfg.Collection),
	)
	return &MongoArchive{client: client, coll: coll, now: time.Now}, nil
}

// Save 以 source_url upsert，重複匯入只會覆蓋
func (a *MongoArchive) Save(ctx context.Context, records []*recipe.ExtractedRecipe) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	now := a.now()
	models := make([]mongo.WriteModel, 0, len(records))
	for _, r := range records {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"source_url": r.SourceURL}).
			SetReplacement(toDocument(r, now)).
			SetUpsert(true))
	}

	res, err := a.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, fmt.Errorf("mongo bulk write: %w", err)
	}
	return int(res.UpsertedCount + res.MatchedCount), nil
}

// Close 中斷連線
func (a *MongoArchive) Close(ctx context.Context) error {
	return a.client.Disconnect(ctx)
}
