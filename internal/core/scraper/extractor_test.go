package scraper

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"recipe-importer/internal/core/recipe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recipePage 組出與來源站點結構相同的頁面
type recipePage struct {
	Breadcrumb  string
	Paragraphs  []string
	Timings     []string
	Portions    string
	Image       string
	Ingredients []string
}

func (p recipePage) html() string {
	var b strings.Builder
	b.WriteString("<html><body>")
	if p.Breadcrumb != "" {
		fmt.Fprintf(&b, `<div id="recEntity"><div class="breadcrumb">%s</div></div>`, p.Breadcrumb)
	}
	b.WriteString(`<div class="text">`)
	for _, para := range p.Paragraphs {
		fmt.Fprintf(&b, "<p>%s</p>", para)
	}
	b.WriteString(`</div><div class="mbox">`)
	for _, t := range p.Timings {
		fmt.Fprintf(&b, `<div class="feat small">%s</div>`, t)
	}
	if p.Portions != "" {
		fmt.Fprintf(&b, `<div class="feat"><span>%s</span></div>`, p.Portions)
	}
	b.WriteString(`</div>`)
	if p.Image != "" {
		fmt.Fprintf(&b, `<div id="newsGal"><div class="image"><img src="%s"></div></div>`, p.Image)
	}
	b.WriteString(`<div class="products"><ul>`)
	for _, ing := range p.Ingredients {
		fmt.Fprintf(&b, "<li>%s</li>", ing)
	}
	b.WriteString("</ul></div></body></html>")
	return b.String()
}

func validPage() recipePage {
	return recipePage{
		Breadcrumb:  "Сладкиши » Торти",
		Paragraphs:  []string{"Смесете брашното и захарта.", "Добавете яйцата и печете.  "},
		Timings:     []string{"Приготвяне30 мин.", "Готвене45 мин."},
		Portions:    "4",
		Image:       "https://recepti.gotvach.bg/files/lib/600x350/torta.jpg",
		Ingredients: []string{"Брашно -  500 г", "Захар -  200 г", "Яйца -  3 бр."},
	}
}

func pageFor(id int, p recipePage) *Page {
	return &Page{ID: id, URL: fmt.Sprintf("https://recepti.gotvach.bg/r-%d", id), Body: []byte(p.html())}
}

func TestExtractor_Extract(t *testing.T) {
	got, err := NewExtractor().Extract(pageFor(42, validPage()))
	require.NoError(t, err)

	assert.Equal(t, "Сладкиши", got.CategoryName)
	assert.Equal(t, "Торти", got.RecipeName)
	assert.Equal(t, 30*time.Minute, got.PreparationTime)
	assert.Equal(t, 45*time.Minute, got.CookingTime)
	assert.Equal(t, 4, got.PortionsCount)
	assert.Equal(t, "https://recepti.gotvach.bg/r-42", got.SourceURL)
	assert.Equal(t, "https://recepti.gotvach.bg/files/lib/600x350/torta.jpg", got.ImageURL)
	assert.Equal(t, "Смесете брашното и захарта.\nДобавете яйцата и печете.", got.Instructions)
	assert.Equal(t, map[string]string{
		"Брашно": "500 г",
		"Захар":  "200 г",
		"Яйца":   "3 бр.",
	}, got.Ingredients)
}

func TestExtractor_LongBreadcrumb(t *testing.T) {
	p := validPage()
	p.Breadcrumb = "Начало » Рецепти » Десерти » Шоколадова торта"

	got, err := NewExtractor().Extract(pageFor(1, p))
	require.NoError(t, err)
	assert.Equal(t, "Шоколадова торта", got.RecipeName)
	assert.Equal(t, "Десерти", got.CategoryName)
}

func TestExtractor_BreadcrumbSkipsBlankSegments(t *testing.T) {
	p := validPage()
	p.Breadcrumb = "Сладкиши » Торти »   » "

	got, err := NewExtractor().Extract(pageFor(1, p))
	require.NoError(t, err)
	assert.Equal(t, "Торти", got.RecipeName)
	assert.Equal(t, "Сладкиши", got.CategoryName)
}

func TestExtractor_ClampsDurations(t *testing.T) {
	p := validPage()
	p.Timings = []string{"Приготвяне1440 мин.", "Готвене 2880 мин."}

	got, err := NewExtractor().Extract(pageFor(1, p))
	require.NoError(t, err)
	assert.Equal(t, 23*time.Hour+59*time.Minute+59*time.Second, got.PreparationTime)
	assert.Equal(t, recipe.MaxDuration, got.CookingTime)
}

func TestExtractor_MissingTimingsDefaultToZero(t *testing.T) {
	t.Run("no timing elements", func(t *testing.T) {
		p := validPage()
		p.Timings = nil

		got, err := NewExtractor().Extract(pageFor(1, p))
		require.NoError(t, err)
		assert.Zero(t, got.PreparationTime)
		assert.Zero(t, got.CookingTime)
	})

	t.Run("only preparation", func(t *testing.T) {
		p := validPage()
		p.Timings = []string{"Приготвяне15 мин."}

		got, err := NewExtractor().Extract(pageFor(1, p))
		require.NoError(t, err)
		assert.Equal(t, 15*time.Minute, got.PreparationTime)
		assert.Zero(t, got.CookingTime)
	})
}

func TestExtractor_RelativeImageIsResolved(t *testing.T) {
	p := validPage()
	p.Image = "/files/lib/250x250/42.jpg"

	got, err := NewExtractor().Extract(pageFor(42, p))
	require.NoError(t, err)
	assert.Equal(t, "https://recepti.gotvach.bg/files/lib/250x250/42.jpg", got.ImageURL)
}

func TestExtractor_ParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *recipePage)
		step   string
	}{
		{"missing breadcrumb", func(p *recipePage) { p.Breadcrumb = "" }, StepBreadcrumb},
		{"single breadcrumb segment", func(p *recipePage) { p.Breadcrumb = "Торти" }, StepBreadcrumb},
		{"missing portions", func(p *recipePage) { p.Portions = "" }, StepPortions},
		{"non numeric portions", func(p *recipePage) { p.Portions = "четири" }, StepPortions},
		{"zero portions", func(p *recipePage) { p.Portions = "0" }, StepPortions},
		{"missing image", func(p *recipePage) { p.Image = "" }, StepImage},
		{"non numeric timing", func(p *recipePage) { p.Timings = []string{"Приготвянеоколо час"} }, StepTimings},
		{"ingredient without separator", func(p *recipePage) {
			p.Ingredients = append(p.Ingredients, "Сол на вкус")
		}, StepIngredients},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPage()
			tt.mutate(&p)

			got, err := NewExtractor().Extract(pageFor(3, p))
			require.Error(t, err)
			assert.Nil(t, got)

			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.step, perr.Step)
			assert.Equal(t, "https://recepti.gotvach.bg/r-3", perr.URL)
		})
	}
}

func TestExtractor_DuplicateIngredientLastWins(t *testing.T) {
	p := validPage()
	p.Ingredients = []string{"Сол -  щипка", "Захар -  200 г", "Сол -  1 ч.л."}

	got, err := NewExtractor().Extract(pageFor(1, p))
	require.NoError(t, err)
	assert.Len(t, got.Ingredients, 2)
	assert.Equal(t, "1 ч.л.", got.Ingredients["Сол"])
}

func TestExtractor_QuantityKeepsInnerSeparators(t *testing.T) {
	p := validPage()
	p.Ingredients = []string{"Мляко -  1 ч.ч. -  прясно"}

	got, err := NewExtractor().Extract(pageFor(1, p))
	require.NoError(t, err)
	assert.Equal(t, "1 ч.ч. -  прясно", got.Ingredients["Мляко"])
}
