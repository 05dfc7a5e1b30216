package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"recipe-importer/internal/infrastructure/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapCache struct {
	mu    sync.Mutex
	pages map[string][]byte
}

func newMapCache() *mapCache {
	return &mapCache{pages: make(map[string][]byte)}
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.pages[key]
	return v, ok
}

func (c *mapCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[key] = value
	return nil
}

func testScraperConfig(baseURL string) config.ScraperConfig {
	return config.ScraperConfig{
		URLFormat:      baseURL + "/r-%d",
		Workers:        4,
		RequestTimeout: 2 * time.Second,
		UserAgent:      "recipe-importer-test",
	}
}

func TestPageFetcher_Fetch(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/r-1":
			assert.Equal(t, "recipe-importer-test", r.Header.Get("User-Agent"))
			w.Write([]byte("<html>ok</html>"))
		case "/r-2":
			http.NotFound(w, r)
		case "/r-3":
			w.WriteHeader(http.StatusInternalServerError)
		case "/r-4":
			time.Sleep(500 * time.Millisecond)
			w.Write([]byte("late"))
		}
	}))
	defer srv.Close()

	t.Run("success", func(t *testing.T) {
		f := NewPageFetcher(testScraperConfig(srv.URL), nil)
		page, err := f.Fetch(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, 1, page.ID)
		assert.Equal(t, srv.URL+"/r-1", page.URL)
		assert.Equal(t, "<html>ok</html>", string(page.Body))
		assert.False(t, page.FromCache)
	})

	t.Run("404 is absence", func(t *testing.T) {
		f := NewPageFetcher(testScraperConfig(srv.URL), nil)
		_, err := f.Fetch(context.Background(), 2)
		assert.True(t, errors.Is(err, ErrPageNotFound))

		var terr *TransportError
		assert.False(t, errors.As(err, &terr))
	})

	t.Run("5xx is transport error", func(t *testing.T) {
		f := NewPageFetcher(testScraperConfig(srv.URL), nil)
		_, err := f.Fetch(context.Background(), 3)

		var terr *TransportError
		require.True(t, errors.As(err, &terr))
		assert.Equal(t, http.StatusInternalServerError, terr.StatusCode)
		assert.False(t, errors.Is(err, ErrPageNotFound))
	})

	t.Run("per request timeout", func(t *testing.T) {
		cfg := testScraperConfig(srv.URL)
		cfg.RequestTimeout = 50 * time.Millisecond
		f := NewPageFetcher(cfg, nil)

		_, err := f.Fetch(context.Background(), 4)
		var terr *TransportError
		require.True(t, errors.As(err, &terr))
		assert.Error(t, terr.Err)
	})

	t.Run("invalid id", func(t *testing.T) {
		f := NewPageFetcher(testScraperConfig(srv.URL), nil)
		before := hits.Load()
		_, err := f.Fetch(context.Background(), 0)

		var terr *TransportError
		require.True(t, errors.As(err, &terr))
		assert.Equal(t, before, hits.Load())
	})
}

func TestPageFetcher_Cache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/r-9" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("page"))
	}))
	defer srv.Close()

	cache := newMapCache()
	f := NewPageFetcher(testScraperConfig(srv.URL), cache)

	first, err := f.Fetch(context.Background(), 5)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := f.Fetch(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, "page", string(second.Body))
	assert.Equal(t, int32(1), hits.Load())

	_, err = f.Fetch(context.Background(), 9)
	require.ErrorIs(t, err, ErrPageNotFound)
	_, cached := cache.Get(context.Background(), srv.URL+"/r-9")
	assert.False(t, cached)
}
