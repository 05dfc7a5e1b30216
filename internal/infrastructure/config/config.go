package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 寫入失敗處理策略
const (
	OnStoreErrorSkip  = "skip"
	OnStoreErrorAbort = "abort"
)

// 儲存後端
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// 快取後端
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Config 應用配置
type Config struct {
	App         AppConfig       `mapstructure:"app"`
	Server      ServerConfig    `mapstructure:"server"`
	Scraper     ScraperConfig   `mapstructure:"scraper"`
	Importer    ImporterConfig  `mapstructure:"importer"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Cache       CacheConfig     `mapstructure:"cache"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Archive     ArchiveConfig   `mapstructure:"archive"`
	Queue       QueueConfig     `mapstructure:"queue"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	DedupWindow time.Duration   `mapstructure:"dedup_window"`
	LogLevel    string          `mapstructure:"log_level"`
}

// AppConfig 應用程式設定
type AppConfig struct {
	Env     string `mapstructure:"env"`
	Debug   bool   `mapstructure:"debug"`
	Version string `mapstructure:"version"`
	Name    string `mapstructure:"name"`
}

// ServerConfig 服務器配置
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// ScraperConfig 抓取設定
type ScraperConfig struct {
	// URLFormat 以 fmt 格式帶入食譜 id
	URLFormat      string        `mapstructure:"url_format"`
	Workers        int           `mapstructure:"workers"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// ImporterConfig 匯入設定
type ImporterConfig struct {
	BatchSize    int    `mapstructure:"batch_size"`
	DedupByName  bool   `mapstructure:"dedup_by_name"`
	OnStoreError string `mapstructure:"on_store_error"`
	DefaultCount int    `mapstructure:"default_count"`
	// MaxRange 單次匯入允許的最大 id 數量
	MaxRange int `mapstructure:"max_range"`
}

// DatabaseConfig 資料庫設定
type DatabaseConfig struct {
	Driver           string `mapstructure:"driver"`
	DSN              string `mapstructure:"dsn"`
	MaxConns         int    `mapstructure:"max_conns"`
	AutoCreateSchema bool   `mapstructure:"auto_create_schema"`
	// ViaBouncer 經由 PgBouncer 交易池時改用 simple protocol
	ViaBouncer bool `mapstructure:"via_bouncer"`
}

// CacheConfig 頁面快取配置
type CacheConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Backend         string        `mapstructure:"backend"`
	MaxSize         int           `mapstructure:"max_size"`
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// RedisConfig Redis 連線設定
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// ArchiveConfig MongoDB 原始資料封存設定
type ArchiveConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	MongoURI   string `mapstructure:"mongo_uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// QueueConfig 匯入任務隊列設定
type QueueConfig struct {
	Workers int `mapstructure:"workers"`
	MaxSize int `mapstructure:"max_size"`
	// JobRetention 已完成任務保留多久可供查詢
	JobRetention time.Duration `mapstructure:"job_retention"`
	MaxJobs      int           `mapstructure:"max_jobs"`
}

// RateLimitConfig 速率限制配置
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// LoadConfig 載入設定
func LoadConfig() (*Config, error) {
	// .env 不存在時改用環境變數與預設值
	_ = godotenv.Load()

	viper.Reset()

	// 設定預設值
	setDefaults()

	// 設定環境變數前綴
	viper.SetEnvPrefix("APP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 綁定環境變量
	viper.BindEnv("database.driver", "APP_DATABASE_DRIVER", "DATABASE_DRIVER")
	viper.BindEnv("database.dsn", "APP_DATABASE_DSN", "DATABASE_URL")
	viper.BindEnv("redis.addr", "APP_REDIS_ADDR", "REDIS_ADDR")
	viper.BindEnv("redis.password", "APP_REDIS_PASSWORD", "REDIS_PASSWORD")
	viper.BindEnv("archive.mongo_uri", "APP_ARCHIVE_MONGO_URI", "MONGO_URI")
	viper.BindEnv("scraper.workers", "APP_SCRAPER_WORKERS", "SCRAPER_WORKERS")
	viper.BindEnv("cache.enabled", "APP_CACHE_ENABLED", "CACHE_ENABLED")
	viper.BindEnv("rate_limit.enabled", "APP_RATE_LIMIT_ENABLED", "RATE_LIMIT_ENABLED")
	viper.BindEnv("rate_limit.requests", "APP_RATE_LIMIT_REQUESTS", "RATE_LIMIT_REQUESTS")
	viper.BindEnv("rate_limit.window", "APP_RATE_LIMIT_WINDOW", "RATE_LIMIT_WINDOW")
	viper.BindEnv("dedup_window", "APP_DEDUP_WINDOW", "DEDUP_WINDOW")
	viper.BindEnv("log_level", "APP_LOG_LEVEL", "LOG_LEVEL")

	// 設定設定檔名稱和路徑
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")

	// 讀取設定檔
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// 解析設定
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 驗證必要設定
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// MaskDSN 遮罩連線字串中的密碼
func MaskDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		return dsn[:scheme+3] + creds[:colon] + ":****" + dsn[at:]
	}
	return dsn
}

// setDefaults 設定預設值
func setDefaults() {
	// 應用程式設定
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.debug", true)
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.name", "recipe-importer")

	// 伺服器設定
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")

	// 抓取設定
	viper.SetDefault("scraper.url_format", "https://recepti.gotvach.bg/r-%d")
	viper.SetDefault("scraper.workers", 8)
	viper.SetDefault("scraper.request_timeout", "30s")
	viper.SetDefault("scraper.user_agent", "recipe-importer/1.0")

	// 匯入設定
	viper.SetDefault("importer.batch_size", 1000)
	viper.SetDefault("importer.dedup_by_name", true)
	viper.SetDefault("importer.on_store_error", OnStoreErrorSkip)
	viper.SetDefault("importer.default_count", 1000)
	viper.SetDefault("importer.max_range", 100000)

	// 資料庫設定
	viper.SetDefault("database.driver", DriverMemory)
	viper.SetDefault("database.max_conns", 4)
	viper.SetDefault("database.auto_create_schema", false)
	viper.SetDefault("database.via_bouncer", false)

	// 快取設定
	viper.SetDefault("cache.enabled", false)
	viper.SetDefault("cache.backend", CacheBackendMemory)
	viper.SetDefault("cache.max_size", 1000)
	viper.SetDefault("cache.ttl", "24h")
	viper.SetDefault("cache.cleanup_interval", "10m")

	// Redis 設定
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.lock_ttl", "2h")

	// 封存設定
	viper.SetDefault("archive.enabled", false)
	viper.SetDefault("archive.database", "recipe_importer")
	viper.SetDefault("archive.collection", "extracted_recipes")

	// 隊列設定
	viper.SetDefault("queue.workers", 1)
	viper.SetDefault("queue.max_size", 16)
	viper.SetDefault("queue.job_retention", "1h")
	viper.SetDefault("queue.max_jobs", 1000)

	// 限流設定
	viper.SetDefault("rate_limit.enabled", true)
	viper.SetDefault("rate_limit.requests", 30)
	viper.SetDefault("rate_limit.window", "1m")

	viper.SetDefault("dedup_window", "1s")
	viper.SetDefault("log_level", "info")
}

// validateConfig 驗證設定
func validateConfig(config *Config) error {
	// 驗證伺服器設定
	if config.Server.Port == 0 {
		return fmt.Errorf("server port is required")
	}

	// 驗證抓取設定
	if !strings.Contains(config.Scraper.URLFormat, "%d") {
		return fmt.Errorf("scraper url format must contain %%d")
	}
	if config.Scraper.Workers <= 0 {
		return fmt.Errorf("invalid scraper workers")
	}
	if config.Scraper.RequestTimeout <= 0 {
		return fmt.Errorf("invalid scraper request timeout")
	}

	// 驗證匯入設定
	if config.Importer.BatchSize <= 0 {
		return fmt.Errorf("invalid importer batch size")
	}
	if config.Importer.MaxRange <= 0 {
		return fmt.Errorf("invalid importer max range")
	}
	if config.Importer.DefaultCount <= 0 || config.Importer.DefaultCount > config.Importer.MaxRange {
		return fmt.Errorf("importer default count must be between 1 and max range")
	}
	switch config.Importer.OnStoreError {
	case OnStoreErrorSkip, OnStoreErrorAbort:
	default:
		return fmt.Errorf("invalid importer on_store_error %q", config.Importer.OnStoreError)
	}

	// 驗證資料庫設定
	switch config.Database.Driver {
	case DriverMemory:
	case DriverPostgres:
		if config.Database.DSN == "" {
			return fmt.Errorf("database dsn is required for postgres")
		}
	default:
		return fmt.Errorf("invalid database driver %q", config.Database.Driver)
	}

	// 驗證快取設定
	if config.Cache.Enabled {
		if config.Cache.Backend != CacheBackendMemory && config.Cache.Backend != CacheBackendRedis {
			return fmt.Errorf("invalid cache backend %q", config.Cache.Backend)
		}
		if config.Cache.MaxSize <= 0 {
			return fmt.Errorf("invalid cache max size")
		}
		if config.Cache.TTL <= 0 {
			return fmt.Errorf("invalid cache ttl")
		}
		if config.Cache.CleanupInterval <= 0 {
			return fmt.Errorf("invalid cache cleanup interval")
		}
	}

	if config.Archive.Enabled && config.Archive.MongoURI == "" {
		return fmt.Errorf("archive mongo uri is required")
	}

	// 驗證隊列設定
	if config.Queue.Workers <= 0 {
		return fmt.Errorf("invalid queue workers")
	}
	if config.Queue.MaxSize <= 0 {
		return fmt.Errorf("invalid queue max size")
	}
	if config.Queue.JobRetention <= 0 {
		return fmt.Errorf("invalid queue job retention")
	}
	if config.Queue.MaxJobs < config.Queue.MaxSize {
		return fmt.Errorf("queue max jobs must not be less than max size")
	}

	return nil
}
