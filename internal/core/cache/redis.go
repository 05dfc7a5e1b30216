package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/pkg/common"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	pageKeyPrefix = "recipes:"
	importLockKey = "recipes:import:lock"
)

// ErrLockHeld 另一個寫入者正在匯入
var ErrLockHeld = errors.New("import lock is held by another writer")

// NewRedisClient 建立並測試 Redis 連線
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// 測試連接
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// RedisStore Redis 頁面快取，跨程序共用
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore 創建 Redis 頁面快取
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Get 獲取緩存，Redis 錯誤視為未命中
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := s.client.Get(ctx, pageKeyPrefix+hashKey(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			common.LogWarn("Redis cache get failed", zap.Error(err))
		}
		return nil, false
	}
	return data, true
}

// Set 設置緩存
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, pageKeyPrefix+hashKey(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// Close 關閉連線
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Locker 匯入寫入鎖，確保同時只有一個寫入者
type Locker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// 只在持有者相符時刪除
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// 只在持有者相符時延長過期時間
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker 以 SET NX 實作的跨程序鎖，持有期間每 ttl/3 續期一次
type RedisLocker struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisLocker 創建 Redis 匯入鎖
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, key: importLockKey, ttl: ttl}
}

// Acquire 取得鎖，已被持有時回傳 ErrLockHeld
func (l *RedisLocker) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire import lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := unlockScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
				common.LogWarn("Failed to release import lock", zap.Error(err))
			}
		})
	}, nil
}

// keepAlive 續期直到 stop 關閉或鎖被他人取得
func (l *RedisLocker) keepAlive(token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if l.ttl <= 0 {
		return
	}

	interval := l.ttl / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := renewScript.Run(ctx, l.client, []string{l.key}, token, l.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil {
				common.LogWarn("Failed to renew import lock", zap.Error(err))
				continue
			}
			if n == 0 {
				common.LogError("Import lock lost", zap.String("key", l.key))
				return
			}
		}
	}
}

// LocalLocker 單一程序內的匯入鎖
type LocalLocker struct {
	mu sync.Mutex
}

// NewLocalLocker 創建程序內匯入鎖
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{}
}

// Acquire 取得鎖，已被持有時回傳 ErrLockHeld
func (l *LocalLocker) Acquire(_ context.Context) (func(), error) {
	if !l.mu.TryLock() {
		return nil, ErrLockHeld
	}
	var once sync.Once
	return func() { once.Do(l.mu.Unlock) }, nil
}
