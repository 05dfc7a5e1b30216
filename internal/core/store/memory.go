package store

import (
	"context"
	"sync"

	"recipe-importer/internal/core/recipe"
)

// Fault 故障注入，回傳非 nil 時該操作失敗
type Fault func(op, entity string, value any) error

// MemoryStore 記憶體儲存。同一時間只允許一個交易寫入，
// 未提交的資料對其他讀取者不可見。
type MemoryStore struct {
	mu     sync.RWMutex
	writer chan struct{}
	fault  Fault

	nextID            int64
	categories        map[string]recipe.Category
	ingredients       map[string]recipe.Ingredient
	recipes           []recipe.Recipe
	recipeNames       map[string]int
	recipeIngredients []recipe.RecipeIngredient
	images            []recipe.Image
}

// NewMemoryStore 創建記憶體儲存
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		writer:      make(chan struct{}, 1),
		categories:  make(map[string]recipe.Category),
		ingredients: make(map[string]recipe.Ingredient),
		recipeNames: make(map[string]int),
	}
}

// SetFault 設定故障注入
func (s *MemoryStore) SetFault(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

func (s *MemoryStore) check(op, entity string, value any) error {
	s.mu.RLock()
	f := s.fault
	s.mu.RUnlock()
	if f == nil {
		return nil
	}
	if err := f(op, entity, value); err != nil {
		return &StoreError{Op: op, Entity: entity, Err: err}
	}
	return nil
}

func (s *MemoryStore) newID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID
}

// Begin 開始交易，已有寫入者時等待
func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	select {
	case s.writer <- struct{}{}:
	case <-ctx.Done():
		return nil, &StoreError{Op: "begin", Err: ctx.Err()}
	}
	return &memTx{s: s, p: newPending()}, nil
}

// Counts 統計已提交的資料筆數
func (s *MemoryStore) Counts(_ context.Context) (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Counts{
		Categories:        int64(len(s.categories)),
		Ingredients:       int64(len(s.ingredients)),
		Recipes:           int64(len(s.recipes)),
		RecipeIngredients: int64(len(s.recipeIngredients)),
		Images:            int64(len(s.images)),
	}, nil
}

// Ping 記憶體儲存永遠可用
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close 記憶體儲存無需釋放資源
func (s *MemoryStore) Close() {}

// Recipes 回傳已提交食譜的副本
func (s *MemoryStore) Recipes() []recipe.Recipe {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]recipe.Recipe(nil), s.recipes...)
}

// RecipeIngredients 回傳已提交關聯的副本
func (s *MemoryStore) RecipeIngredients() []recipe.RecipeIngredient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]recipe.RecipeIngredient(nil), s.recipeIngredients...)
}

// Images 回傳已提交圖片的副本
func (s *MemoryStore) Images() []recipe.Image {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]recipe.Image(nil), s.images...)
}

// pending 交易中尚未提交的寫入
type pending struct {
	categories        map[string]recipe.Category
	ingredients       map[string]recipe.Ingredient
	recipes           []recipe.Recipe
	recipeNames       map[string]bool
	recipeIngredients []recipe.RecipeIngredient
	images            []recipe.Image
}

func newPending() *pending {
	return &pending{
		categories:  make(map[string]recipe.Category),
		ingredients: make(map[string]recipe.Ingredient),
		recipeNames: make(map[string]bool),
	}
}

func (p *pending) mergeInto(dst *pending) {
	for k, v := range p.categories {
		dst.categories[k] = v
	}
	for k, v := range p.ingredients {
		dst.ingredients[k] = v
	}
	for k := range p.recipeNames {
		dst.recipeNames[k] = true
	}
	dst.recipes = append(dst.recipes, p.recipes...)
	dst.recipeIngredients = append(dst.recipeIngredients, p.recipeIngredients...)
	dst.images = append(dst.images, p.images...)
}

type memTx struct {
	s      *MemoryStore
	parent *memTx
	p      *pending
	done   bool
}

func (t *memTx) Categories() CategoryRepository               { return memCategories{t} }
func (t *memTx) Ingredients() IngredientRepository             { return memIngredients{t} }
func (t *memTx) Recipes() RecipeRepository                     { return memRecipes{t} }
func (t *memTx) RecipeIngredients() RecipeIngredientRepository { return memRecipeIngredients{t} }
func (t *memTx) Images() ImageRepository                       { return memImages{t} }

func (t *memTx) Savepoint(_ context.Context) (Tx, error) {
	if t.done {
		return nil, ErrTxDone
	}
	return &memTx{s: t.s, parent: t, p: newPending()}, nil
}

func (t *memTx) Commit(_ context.Context) error {
	if t.done {
		return ErrTxDone
	}
	if t.parent != nil {
		t.p.mergeInto(t.parent.p)
		t.done = true
		return nil
	}

	if err := t.s.check("commit", "", nil); err != nil {
		t.finish()
		return err
	}

	t.s.mu.Lock()
	for k, v := range t.p.categories {
		t.s.categories[k] = v
	}
	for k, v := range t.p.ingredients {
		t.s.ingredients[k] = v
	}
	for _, r := range t.p.recipes {
		t.s.recipes = append(t.s.recipes, r)
		t.s.recipeNames[r.Name]++
	}
	t.s.recipeIngredients = append(t.s.recipeIngredients, t.p.recipeIngredients...)
	t.s.images = append(t.s.images, t.p.images...)
	t.s.mu.Unlock()

	t.finish()
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.finish()
	return nil
}

func (t *memTx) finish() {
	t.done = true
	t.p = newPending()
	if t.parent == nil {
		<-t.s.writer
	}
}

type memCategories struct{ t *memTx }

func (r memCategories) FindByName(_ context.Context, name string) (*recipe.Category, error) {
	for tx := r.t; tx != nil; tx = tx.parent {
		if c, ok := tx.p.categories[name]; ok {
			return &c, nil
		}
	}
	r.t.s.mu.RLock()
	defer r.t.s.mu.RUnlock()
	if c, ok := r.t.s.categories[name]; ok {
		return &c, nil
	}
	return nil, ErrNotFound
}

func (r memCategories) Add(_ context.Context, c *recipe.Category) error {
	if r.t.done {
		return ErrTxDone
	}
	if err := r.t.s.check("add", EntityCategory, c); err != nil {
		return err
	}
	c.ID = r.t.s.newID()
	r.t.p.categories[c.Name] = *c
	return nil
}

type memIngredients struct{ t *memTx }

func (r memIngredients) FindByName(_ context.Context, name string) (*recipe.Ingredient, error) {
	for tx := r.t; tx != nil; tx = tx.parent {
		if i, ok := tx.p.ingredients[name]; ok {
			return &i, nil
		}
	}
	r.t.s.mu.RLock()
	defer r.t.s.mu.RUnlock()
	if i, ok := r.t.s.ingredients[name]; ok {
		return &i, nil
	}
	return nil, ErrNotFound
}

func (r memIngredients) Add(_ context.Context, i *recipe.Ingredient) error {
	if r.t.done {
		return ErrTxDone
	}
	if err := r.t.s.check("add", EntityIngredient, i); err != nil {
		return err
	}
	i.ID = r.t.s.newID()
	r.t.p.ingredients[i.Name] = *i
	return nil
}

type memRecipes struct{ t *memTx }

func (r memRecipes) ExistsByName(_ context.Context, name string) (bool, error) {
	for tx := r.t; tx != nil; tx = tx.parent {
		if tx.p.recipeNames[name] {
			return true, nil
		}
	}
	r.t.s.mu.RLock()
	defer r.t.s.mu.RUnlock()
	return r.t.s.recipeNames[name] > 0, nil
}

func (r memRecipes) Add(_ context.Context, rec *recipe.Recipe) error {
	if r.t.done {
		return ErrTxDone
	}
	if err := r.t.s.check("add", EntityRecipe, rec); err != nil {
		return err
	}
	rec.ID = r.t.s.newID()
	r.t.p.recipes = append(r.t.p.recipes, *rec)
	r.t.p.recipeNames[rec.Name] = true
	return nil
}

type memRecipeIngredients struct{ t *memTx }

func (r memRecipeIngredients) Add(_ context.Context, ri *recipe.RecipeIngredient) error {
	if r.t.done {
		return ErrTxDone
	}
	if err := r.t.s.check("add", EntityRecipeIngredient, ri); err != nil {
		return err
	}
	r.t.p.recipeIngredients = append(r.t.p.recipeIngredients, *ri)
	return nil
}

type memImages struct{ t *memTx }

func (r memImages) Add(_ context.Context, img *recipe.Image) error {
	if r.t.done {
		return ErrTxDone
	}
	if err := r.t.s.check("add", EntityImage, img); err != nil {
		return err
	}
	img.ID = r.t.s.newID()
	r.t.p.images = append(r.t.p.images, *img)
	return nil
}
