package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"recipe-importer/internal/api"
	"recipe-importer/internal/core/importer"
	"recipe-importer/internal/core/queue"
	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/pkg/common"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfg *config.Config

	logLevel     string
	fromID       int
	toID         int
	count        int
	batchSize    int
	dedup        bool
	workers      int
	onStoreError string
)

var rootCmd = &cobra.Command{
	Use:           "recipe-importer",
	Short:         "Recipe importer for recepti.gotvach.bg",
	Long:          `Scrapes recipe pages by numeric id and imports them into the recipe store.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if err := common.InitLogger(cfg.LogLevel); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		common.Sync()
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Scrape an id range and import it",
	Long: `Scrape every id in the range and write the recipes to the store.
Example: recipe-importer import --from 1 --to 500 --batch-size 100`,
	RunE: runImport,
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape an id range without writing to the store",
	RunE:  runScrape,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background import queue",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	for _, c := range []*cobra.Command{importCmd, scrapeCmd} {
		c.Flags().IntVar(&fromID, "from", 0, "First recipe id")
		c.Flags().IntVar(&toID, "to", 0, "Last recipe id (inclusive)")
		c.Flags().IntVarP(&count, "count", "n", 0, "Import ids 1..count")
		c.Flags().IntVarP(&workers, "workers", "w", 0, "Concurrent page fetches")
	}

	importCmd.Flags().IntVar(&batchSize, "batch-size", 0, "Records per commit")
	importCmd.Flags().BoolVar(&dedup, "dedup", true, "Skip recipes whose name already exists")
	importCmd.Flags().StringVar(&onStoreError, "on-store-error", "", "skip or abort when a recipe cannot be stored")

	rootCmd.AddCommand(importCmd, scrapeCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// applyFlags 以命令列參數覆寫設定
func applyFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Scraper.Workers = workers
	}
	if flags.Changed("batch-size") {
		cfg.Importer.BatchSize = batchSize
	}
	if flags.Changed("dedup") {
		cfg.Importer.DedupByName = dedup
	}
	if flags.Changed("on-store-error") {
		cfg.Importer.OnStoreError = onStoreError
	}

	if cfg.Scraper.Workers <= 0 {
		return common.NewValidationError("workers must be greater than 0")
	}
	if cfg.Importer.BatchSize <= 0 {
		return common.NewValidationError("batch size must be greater than 0")
	}
	switch cfg.Importer.OnStoreError {
	case config.OnStoreErrorSkip, config.OnStoreErrorAbort:
	default:
		return common.NewValidationError(fmt.Sprintf("invalid on-store-error %q", cfg.Importer.OnStoreError))
	}
	return nil
}

// rangeFromFlags 未指定的參數以 nil 表示
func rangeFromFlags(cmd *cobra.Command) (importer.Range, error) {
	var from, to, n *int
	if cmd.Flags().Changed("from") {
		from = &fromID
	}
	if cmd.Flags().Changed("to") {
		to = &toID
	}
	if cmd.Flags().Changed("count") {
		n = &count
	}
	return importer.ResolveRange(from, to, n, cfg.Importer.DefaultCount, cfg.Importer.MaxRange)
}

func runImport(cmd *cobra.Command, args []string) error {
	if err := applyFlags(cmd); err != nil {
		return err
	}
	rng, err := rangeFromFlags(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.service.Import(ctx, rng)
	if report != nil {
		if werr := common.WriteJSONIndent(os.Stdout, report); werr != nil {
			common.LogError("Failed to write report", zap.Error(werr))
		}
	}
	return err
}

func runScrape(cmd *cobra.Command, args []string) error {
	if err := applyFlags(cmd); err != nil {
		return err
	}
	rng, err := rangeFromFlags(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 只抓取不寫入，不需要連線資料庫
	cfg.Database.Driver = config.DriverMemory
	cfg.Archive.Enabled = false
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res := a.coordinator.Scrape(ctx, rng.From, rng.To)
	return common.WriteJSONIndent(os.Stdout, struct {
		Stats   any `json:"stats"`
		Recipes any `json:"recipes"`
	}{res.Stats, res.Recipes})
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// 初始化匯入隊列
	q := queue.NewManager(cfg.Queue)
	q.Start(ctx, a.service.Import)
	defer func() {
		cancel()
		q.Close()
	}()

	router := api.SetupRouter(cfg, api.Dependencies{Queue: q, Store: a.store})
	srv := api.NewServer(cfg, router)

	// 啟動服務器
	errCh := make(chan error, 1)
	go func() {
		common.LogInfo("啟動應用",
			zap.String("version", cfg.App.Version),
			zap.String("env", cfg.App.Env),
			zap.Bool("debug", cfg.App.Debug),
			zap.String("addr", srv.Addr),
		)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待中斷信號
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case err := <-errCh:
		common.LogError("Failed to start server", zap.Error(err))
		return err
	}

	common.LogInfo("Shutting down server...")

	// 設置關閉超時
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		common.LogError("Server forced to shutdown", zap.Error(err))
		return err
	}

	// 執行中的匯入會被取消，已提交的批次保留
	common.LogInfo("Server exited")
	return nil
}
