package main

import (
	"context"
	"testing"
	"time"

	"recipe-importer/internal/core/importer"
	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Scraper: config.ScraperConfig{
			URLFormat:      "http://127.0.0.1:0/r-%d",
			Workers:        2,
			RequestTimeout: time.Second,
		},
		Importer: config.ImporterConfig{
			BatchSize:    10,
			DedupByName:  true,
			OnStoreError: config.OnStoreErrorSkip,
			DefaultCount: 25,
		},
		Database: config.DatabaseConfig{Driver: config.DriverMemory},
		Cache: config.CacheConfig{
			Enabled:         true,
			Backend:         config.CacheBackendMemory,
			MaxSize:         10,
			TTL:             time.Minute,
			CleanupInterval: time.Minute,
		},
		Queue: config.QueueConfig{Workers: 1, MaxSize: 1},
	}
}

func TestNewApp_Memory(t *testing.T) {
	a, err := newApp(context.Background(), memoryConfig())
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.service)
	assert.NotNil(t, a.coordinator)

	counts, err := a.store.Counts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts.Recipes)
}

func TestNewApp_PostgresUnreachable(t *testing.T) {
	c := memoryConfig()
	c.Database = config.DatabaseConfig{Driver: config.DriverPostgres, DSN: "postgres://u:p@127.0.0.1:1/db?connect_timeout=1"}

	_, err := newApp(context.Background(), c)
	assert.Error(t, err)
}

func TestRangeFromFlags(t *testing.T) {
	cfg = memoryConfig()

	rng, err := rangeFromFlags(scrapeCmd)
	require.NoError(t, err)
	assert.Equal(t, importer.Range{From: 1, To: 25}, rng)

	require.NoError(t, scrapeCmd.Flags().Set("from", "3"))
	require.NoError(t, scrapeCmd.Flags().Set("to", "7"))
	rng, err = rangeFromFlags(scrapeCmd)
	require.NoError(t, err)
	assert.Equal(t, importer.Range{From: 3, To: 7}, rng)

	require.NoError(t, scrapeCmd.Flags().Set("count", "5"))
	_, err = rangeFromFlags(scrapeCmd)
	assert.True(t, common.IsValidationError(err))
}

func TestApplyFlags(t *testing.T) {
	cfg = memoryConfig()

	require.NoError(t, importCmd.Flags().Set("batch-size", "50"))
	require.NoError(t, importCmd.Flags().Set("on-store-error", "abort"))
	require.NoError(t, importCmd.Flags().Set("dedup", "false"))
	require.NoError(t, applyFlags(importCmd))

	assert.Equal(t, 50, cfg.Importer.BatchSize)
	assert.Equal(t, config.OnStoreErrorAbort, cfg.Importer.OnStoreError)
	assert.False(t, cfg.Importer.DedupByName)

	require.NoError(t, importCmd.Flags().Set("on-store-error", "retry"))
	assert.True(t, common.IsValidationError(applyFlags(importCmd)))
}
