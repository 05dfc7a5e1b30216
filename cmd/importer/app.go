package main

import (
	"context"
	"fmt"

	"recipe-importer/internal/core/archive"
	"recipe-importer/internal/core/cache"
	"recipe-importer/internal/core/importer"
	"recipe-importer/internal/core/scraper"
	"recipe-importer/internal/core/store"
	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/infrastructure/database"
	"recipe-importer/internal/pkg/common"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// app 依設定組裝的元件
type app struct {
	cfg         *config.Config
	store       store.Store
	coordinator *scraper.Coordinator
	service     *importer.Service
	closers     []func()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg

	// 儲存
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		pool, err := database.OpenPool(ctx, cfg.Database)
		if err != nil {
			return err
		}
		pg := store.NewPostgresStore(pool)
		a.store = pg
		a.closers = append(a.closers, pg.Close)
		if cfg.Database.AutoCreateSchema {
			if err := pg.EnsureSchema(ctx); err != nil {
				return err
			}
		}
	default:
		a.store = store.NewMemoryStore()
		common.LogWarn("Using in-memory store, data is lost on exit")
	}

	// Redis 同時提供頁面快取與跨程序匯入鎖
	var rdb *redis.Client
	if cfg.Cache.Enabled && cfg.Cache.Backend == config.CacheBackendRedis {
		client, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		rdb = client
		a.closers = append(a.closers, func() { _ = rdb.Close() })
	}

	// 頁面快取
	var pageCache scraper.PageCache
	if cfg.Cache.Enabled {
		if rdb != nil {
			pageCache = cache.NewRedisStore(rdb, cfg.Cache.TTL)
		} else {
			m := cache.NewManager(cfg.Cache)
			pageCache = m
			a.closers = append(a.closers, func() { _ = m.Close() })
		}
	}

	var locker cache.Locker = cache.NewLocalLocker()
	if rdb != nil {
		locker = cache.NewRedisLocker(rdb, cfg.Redis.LockTTL)
	}

	// 封存
	var arc archive.Archive = archive.NopArchive{}
	if cfg.Archive.Enabled {
		m, err := archive.NewMongoArchive(ctx, cfg.Archive)
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		arc = m
		a.closers = append(a.closers, func() { _ = m.Close(context.Background()) })
	}

	fetcher := scraper.NewPageFetcher(cfg.Scraper, pageCache)
	a.coordinator = scraper.NewCoordinator(fetcher, scraper.NewExtractor(), cfg.Scraper.Workers)
	reconciler := importer.NewReconciler(a.store, importer.OptionsFromConfig(cfg.Importer))
	a.service = importer.NewService(a.coordinator, reconciler, arc, locker).WithMaxRange(cfg.Importer.MaxRange)

	common.LogInfo("Components initialized",
		zap.String("driver", cfg.Database.Driver),
		zap.Bool("cache_enabled", cfg.Cache.Enabled),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Bool("archive_enabled", cfg.Archive.Enabled),
		zap.Int("workers", cfg.Scraper.Workers),
		zap.Int("batch_size", cfg.Importer.BatchSize),
		zap.Bool("dedup_by_name", cfg.Importer.DedupByName),
		zap.String("on_store_error", cfg.Importer.OnStoreError),
	)
	return nil
}

// Close 依建立的相反順序釋放資源
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
