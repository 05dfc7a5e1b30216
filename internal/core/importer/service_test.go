package importer

import (
	"context"
	"errors"
	"math"
	"testing"

	"recipe-importer/internal/core/cache"
	"recipe-importer/internal/core/recipe"
	"recipe-importer/internal/core/scraper"
	"recipe-importer/internal/core/store"
	"recipe-importer/internal/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScraper struct {
	results []scraper.Result
	calls   []Range
}

func (f *fakeScraper) Scrape(_ context.Context, from, to int) *scraper.ScrapeResult {
	f.calls = append(f.calls, Range{From: from, To: to})
	res := &scraper.ScrapeResult{}
	for _, r := range f.results {
		if r.ID < from || r.ID > to {
			continue
		}
		res.Results = append(res.Results, r)
		res.Stats.Attempted++
		switch r.Outcome {
		case scraper.OutcomeSuccess:
			res.Stats.Succeeded++
			res.Recipes = append(res.Recipes, r.Recipe)
		case scraper.OutcomeNotFound:
			res.Stats.NotFound++
		case scraper.OutcomeParseError:
			res.Stats.ParseFailed++
		}
	}
	return res
}

type fakeArchive struct {
	saved []*recipe.ExtractedRecipe
	err   error
}

func (a *fakeArchive) Save(_ context.Context, records []*recipe.ExtractedRecipe) (int, error) {
	if a.err != nil {
		return 0, a.err
	}
	a.saved = append(a.saved, records...)
	return len(records), nil
}

func (a *fakeArchive) Close(_ context.Context) error { return nil }

func TestRange_Validate(t *testing.T) {
	tests := []struct {
		name    string
		rng     Range
		wantErr bool
	}{
		{"single id", Range{From: 1, To: 1}, false},
		{"count", RangeFromCount(1000), false},
		{"zero from", Range{From: 0, To: 5}, true},
		{"reversed", Range{From: 10, To: 3}, true},
		{"zero count", RangeFromCount(0), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rng.Validate()
			if tt.wantErr {
				assert.True(t, common.IsValidationError(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.Equal(t, Range{From: 1, To: 1000}, RangeFromCount(1000))
	assert.Equal(t, 3, Range{From: 5, To: 7}.Size())
}

func TestService_Import(t *testing.T) {
	s := store.NewMemoryStore()
	fs := &fakeScraper{results: []scraper.Result{
		// 收集順序與 id 無關
		{ID: 3, Outcome: scraper.OutcomeSuccess, Recipe: extracted(3, "Сладкиши", "Торти", nil)},
		{ID: 2, Outcome: scraper.OutcomeNotFound},
		{ID: 1, Outcome: scraper.OutcomeSuccess, Recipe: extracted(1, "Сладкиши", "Торти", nil)},
		{ID: 4, Outcome: scraper.OutcomeParseError},
	}}
	arc := &fakeArchive{}
	svc := NewService(fs, NewReconciler(s, skipOptions()), arc, nil)

	report, err := svc.Import(context.Background(), RangeFromCount(4))
	require.NoError(t, err)

	assert.Equal(t, []Range{{From: 1, To: 4}}, fs.calls)
	assert.Equal(t, scraper.Stats{Attempted: 4, Succeeded: 2, NotFound: 1, ParseFailed: 1}, report.Scrape)
	assert.Equal(t, 1, report.Import.Imported)
	assert.Equal(t, 1, report.Import.SkippedDuplicate)
	assert.Equal(t, 2, report.Archived)
	assert.Empty(t, report.Error)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))

	// 重複名稱保留 id 最小的
	recipes := s.Recipes()
	require.Len(t, recipes, 1)
	assert.Equal(t, "https://recepti.gotvach.bg/r-1", recipes[0].SourceURL)
}

func TestService_ArchiveFailureDoesNotStopImport(t *testing.T) {
	s := store.NewMemoryStore()
	fs := &fakeScraper{results: []scraper.Result{
		{ID: 1, Outcome: scraper.OutcomeSuccess, Recipe: extracted(1, "Супи", "Таратор", nil)},
	}}
	svc := NewService(fs, NewReconciler(s, skipOptions()), &fakeArchive{err: errors.New("mongo down")}, nil)

	report, err := svc.Import(context.Background(), Range{From: 1, To: 1})
	require.NoError(t, err)
	assert.Zero(t, report.Archived)
	assert.Equal(t, 1, report.Import.Imported)
}

func TestService_InvalidRange(t *testing.T) {
	fs := &fakeScraper{}
	svc := NewService(fs, NewReconciler(store.NewMemoryStore(), skipOptions()), nil, nil)

	_, err := svc.Import(context.Background(), Range{From: 5, To: 1})
	require.Error(t, err)

	var ce *common.CustomError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, common.ErrInvalidRange.Code, ce.Code)
	assert.Empty(t, fs.calls)
}

func TestService_LockHeld(t *testing.T) {
	locker := cache.NewLocalLocker()
	release, err := locker.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	fs := &fakeScraper{}
	svc := NewService(fs, NewReconciler(store.NewMemoryStore(), skipOptions()), nil, locker)

	_, err = svc.Import(context.Background(), Range{From: 1, To: 1})
	require.ErrorIs(t, err, cache.ErrLockHeld)

	var ce *common.CustomError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, common.ErrImportRunning.Code, ce.Code)
	assert.Empty(t, fs.calls)
}

func TestResolveRange(t *testing.T) {
	n := func(v int) *int { return &v }

	rng, err := ResolveRange(nil, nil, nil, 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, Range{From: 1, To: 1000}, rng)

	rng, err = ResolveRange(n(5), n(9), nil, 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, Range{From: 5, To: 9}, rng)

	rng, err = ResolveRange(nil, nil, n(20), 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, Range{From: 1, To: 20}, rng)

	_, err = ResolveRange(n(1), nil, n(20), 1000, 0)
	assert.True(t, common.IsValidationError(err))

	_, err = ResolveRange(nil, n(3), nil, 1000, 0)
	assert.True(t, common.IsValidationError(err))

	_, err = ResolveRange(nil, nil, n(5001), 1000, 5000)
	assert.True(t, common.IsValidationError(err))

	_, err = ResolveRange(n(1), n(math.MaxInt), nil, 1000, 5000)
	assert.True(t, common.IsValidationError(err))

	rng, err = ResolveRange(n(math.MaxInt-1), n(math.MaxInt), nil, 1000, 5000)
	require.NoError(t, err)
	assert.Equal(t, 2, rng.Size())
}

func TestService_RangeOverMax(t *testing.T) {
	fs := &fakeScraper{}
	svc := NewService(fs, NewReconciler(store.NewMemoryStore(), skipOptions()), nil, nil).WithMaxRange(100)

	_, err := svc.Import(context.Background(), Range{From: 1, To: math.MaxInt})
	require.Error(t, err)

	var ce *common.CustomError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, common.ErrInvalidRange.Code, ce.Code)
	assert.Empty(t, fs.calls)
}

func TestService_ImportAtEndOfIntRange(t *testing.T) {
	fs := &fakeScraper{results: []scraper.Result{
		{ID: math.MaxInt, Outcome: scraper.OutcomeSuccess, Recipe: extracted(1, "Супи", "Таратор", nil)},
	}}
	svc := NewService(fs, NewReconciler(store.NewMemoryStore(), skipOptions()), nil, nil).WithMaxRange(100)

	report, err := svc.Import(context.Background(), Range{From: math.MaxInt - 1, To: math.MaxInt})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Import.Imported)

	// 鎖已釋放
	_, err = svc.Import(context.Background(), Range{From: math.MaxInt - 1, To: math.MaxInt})
	require.NoError(t, err)
}
