package database

import (
	"context"
	"fmt"

	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/pkg/common"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// OpenPool 建立 PostgreSQL 連線池並測試連線
func OpenPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	common.LogInfo("Connected to PostgreSQL",
		zap.String("dsn", config.MaskDSN(cfg.DSN)),
		zap.Int32("max_conns", poolCfg.MaxConns),
		zap.Bool("via_bouncer", cfg.ViaBouncer),
	)
	return pool, nil
}

// PoolConfig 解析 DSN 並套用連線池設定
func PoolConfig(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres dsn parse: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 2
	}
	poolCfg.MaxConns = int32(maxConns)
	if cfg.ViaBouncer {
		poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}
	return poolCfg, nil
}
