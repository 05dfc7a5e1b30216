package cache

import (
	"context"
	"testing"
	"time"

	"recipe-importer/internal/infrastructure/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	return mr
}

func TestRedisStore(t *testing.T) {
	mr := newTestRedis(t)
	ctx := context.Background()

	client, err := NewRedisClient(ctx, config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	store := NewRedisStore(client, time.Hour)
	defer store.Close()

	_, ok := store.Get(ctx, "https://recepti.gotvach.bg/r-1")
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "https://recepti.gotvach.bg/r-1", []byte("<html>")))
	got, ok := store.Get(ctx, "https://recepti.gotvach.bg/r-1")
	assert.True(t, ok)
	assert.Equal(t, []byte("<html>"), got)

	key := pageKeyPrefix + hashKey("https://recepti.gotvach.bg/r-1")
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Hour, mr.TTL(key))

	mr.FastForward(2 * time.Hour)
	_, ok = store.Get(ctx, "https://recepti.gotvach.bg/r-1")
	assert.False(t, ok)
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr := newTestRedis(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisClient(context.Background(), config.RedisConfig{Addr: addr})
	assert.Error(t, err)
}

func TestRedisLocker(t *testing.T) {
	mr := newTestRedis(t)
	ctx := context.Background()

	client, err := NewRedisClient(ctx, config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	first := NewRedisLocker(client, time.Minute)
	second := NewRedisLocker(client, time.Minute)

	release, err := first.Acquire(ctx)
	require.NoError(t, err)

	_, err = second.Acquire(ctx)
	assert.ErrorIs(t, err, ErrLockHeld)

	release()
	release()
	assert.False(t, mr.Exists(importLockKey))

	release2, err := second.Acquire(ctx)
	require.NoError(t, err)
	defer release2()
}

func TestRedisLocker_RenewsWhileHeld(t *testing.T) {
	mr := newTestRedis(t)
	ctx := context.Background()

	client, err := NewRedisClient(ctx, config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	const ttl = 300 * time.Millisecond
	release, err := NewRedisLocker(client, ttl).Acquire(ctx)
	require.NoError(t, err)

	mr.FastForward(250 * time.Millisecond)
	require.Eventually(t, func() bool {
		return mr.TTL(importLockKey) > 250*time.Millisecond
	}, time.Second, 10*time.Millisecond)

	// 已超過最初的 ttl，鎖仍在
	mr.FastForward(250 * time.Millisecond)
	assert.True(t, mr.Exists(importLockKey))
	_, err = NewRedisLocker(client, ttl).Acquire(ctx)
	assert.ErrorIs(t, err, ErrLockHeld)

	release()
	assert.False(t, mr.Exists(importLockKey))
}

func TestRedisLocker_StopsRenewingLostLock(t *testing.T) {
	mr := newTestRedis(t)
	ctx := context.Background()

	client, err := NewRedisClient(ctx, config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	release, err := NewRedisLocker(client, 300*time.Millisecond).Acquire(ctx)
	require.NoError(t, err)
	defer release()

	require.NoError(t, mr.Set(importLockKey, "someone-else"))
	mr.SetTTL(importLockKey, time.Minute)
	time.Sleep(250 * time.Millisecond)

	v, err := mr.Get(importLockKey)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
	assert.Equal(t, time.Minute, mr.TTL(importLockKey))
}

func TestRedisLocker_ReleaseKeepsForeignLock(t *testing.T) {
	mr := newTestRedis(t)
	ctx := context.Background()

	client, err := NewRedisClient(ctx, config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	release, err := NewRedisLocker(client, time.Minute).Acquire(ctx)
	require.NoError(t, err)

	// 鎖過期後被其他程序取得
	require.NoError(t, mr.Set(importLockKey, "someone-else"))
	release()

	v, err := mr.Get(importLockKey)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
}

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	release, err := l.Acquire(ctx)
	require.NoError(t, err)

	_, err = l.Acquire(ctx)
	assert.ErrorIs(t, err, ErrLockHeld)

	release()
	release()

	release, err = l.Acquire(ctx)
	require.NoError(t, err)
	release()
}
