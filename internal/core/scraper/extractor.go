package scraper

import (
	"bytes"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"recipe-importer/internal/core/recipe"

	"github.com/PuerkitoBio/goquery"
)

// 來源頁面的選擇器與標籤
const (
	breadcrumbSelector  = "#recEntity > div.breadcrumb"
	instructionSelector = ".text > p"
	timingSelector      = ".mbox > .feat.small"
	portionsSelector    = ".mbox > .feat > span"
	imageSelector       = "#newsGal > div.image > img"
	ingredientSelector  = ".products > ul > li"

	breadcrumbSeparator = " »"
	ingredientSeparator = " -  "

	preparationLabel = "Приготвяне"
	cookingLabel     = "Готвене"
	minutesUnit      = "мин."
)

// Extractor 將頁面解析為 ExtractedRecipe，不保存狀態
type Extractor struct{}

// NewExtractor 創建解析器
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract 解析頁面，任何步驟失敗都回傳 *ParseError
func (e *Extractor) Extract(page *Page) (*recipe.ExtractedRecipe, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, &ParseError{URL: page.URL, Step: StepDocument, Reason: "invalid html", Err: err}
	}

	out := &recipe.ExtractedRecipe{SourceURL: page.URL}

	out.RecipeName, out.CategoryName, err = parseBreadcrumb(doc, page.URL)
	if err != nil {
		return nil, err
	}

	out.Instructions = parseInstructions(doc)

	out.PreparationTime, out.CookingTime, err = parseTimings(doc, page.URL)
	if err != nil {
		return nil, err
	}

	out.PortionsCount, err = parsePortions(doc, page.URL)
	if err != nil {
		return nil, err
	}

	out.ImageURL, err = parseImage(doc, page.URL)
	if err != nil {
		return nil, err
	}

	out.Ingredients, err = parseIngredients(doc, page.URL)
	if err != nil {
		return nil, err
	}

	out.Normalize()
	return out, nil
}

// parseBreadcrumb 最後一段為食譜名稱，倒數第二段為分類。
// 只含空白的段落與空段落一樣略過，名稱不會是空白字串。
func parseBreadcrumb(doc *goquery.Document, pageURL string) (name, category string, err error) {
	sel := doc.Find(breadcrumbSelector).First()
	if sel.Length() == 0 {
		return "", "", &ParseError{URL: pageURL, Step: StepBreadcrumb, Reason: "element not found"}
	}

	var segments []string
	for _, part := range strings.Split(sel.Text(), breadcrumbSeparator) {
		if part = strings.TrimSpace(part); part != "" {
			segments = append(segments, part)
		}
	}
	if len(segments) < 2 {
		return "", "", &ParseError{URL: pageURL, Step: StepBreadcrumb, Reason: "fewer than two segments"}
	}

	return segments[len(segments)-1], segments[len(segments)-2], nil
}

func parseInstructions(doc *goquery.Document) string {
	var paragraphs []string
	doc.Find(instructionSelector).Each(func(_ int, s *goquery.Selection) {
		paragraphs = append(paragraphs, s.Text())
	})
	return strings.TrimRightFunc(strings.Join(paragraphs, "\n"), unicode.IsSpace)
}

// parseTimings 第一個元素為準備時間，第二個為烹調時間，缺少時為 0
func parseTimings(doc *goquery.Document, pageURL string) (prep, cook time.Duration, err error) {
	feats := doc.Find(timingSelector)
	if feats.Length() > 0 {
		if prep, err = parseMinutes(feats.Eq(0).Text(), preparationLabel); err != nil {
			return 0, 0, &ParseError{URL: pageURL, Step: StepTimings, Reason: "invalid preparation time", Err: err}
		}
	}
	if feats.Length() > 1 {
		if cook, err = parseMinutes(feats.Eq(1).Text(), cookingLabel); err != nil {
			return 0, 0, &ParseError{URL: pageURL, Step: StepTimings, Reason: "invalid cooking time", Err: err}
		}
	}
	return prep, cook, nil
}

func parseMinutes(text, label string) (time.Duration, error) {
	s := strings.ReplaceAll(text, label, "")
	s = strings.TrimSpace(strings.ReplaceAll(s, minutesUnit, ""))
	minutes, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(minutes) * time.Minute, nil
}

func parsePortions(doc *goquery.Document, pageURL string) (int, error) {
	sel := doc.Find(portionsSelector).Last()
	if sel.Length() == 0 {
		return 0, &ParseError{URL: pageURL, Step: StepPortions, Reason: "element not found"}
	}
	portions, err := strconv.Atoi(strings.TrimSpace(sel.Text()))
	if err != nil {
		return 0, &ParseError{URL: pageURL, Step: StepPortions, Reason: "not a number", Err: err}
	}
	if portions <= 0 {
		return 0, &ParseError{URL: pageURL, Step: StepPortions, Reason: "must be positive"}
	}
	return portions, nil
}

// parseImage 相對路徑以頁面網址補全
func parseImage(doc *goquery.Document, pageURL string) (string, error) {
	src, ok := doc.Find(imageSelector).First().Attr("src")
	src = strings.TrimSpace(src)
	if !ok || src == "" {
		return "", &ParseError{URL: pageURL, Step: StepImage, Reason: "element not found"}
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return src, nil
	}
	ref, err := url.Parse(src)
	if err != nil {
		return "", &ParseError{URL: pageURL, Step: StepImage, Reason: "invalid src", Err: err}
	}
	return base.ResolveReference(ref).String(), nil
}

// parseIngredients 同名食材以最後一行為準
func parseIngredients(doc *goquery.Document, pageURL string) (map[string]string, error) {
	ingredients := make(map[string]string)
	var perr *ParseError

	doc.Find(ingredientSelector).EachWithBreak(func(i int, s *goquery.Selection) bool {
		parts := strings.SplitN(s.Text(), ingredientSeparator, 2)
		if len(parts) < 2 {
			perr = &ParseError{
				URL:    pageURL,
				Step:   StepIngredients,
				Reason: "line " + strconv.Itoa(i+1) + " has no quantity separator",
			}
			return false
		}
		ingredients[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		return true
	})

	if perr != nil {
		return nil, perr
	}
	return ingredients, nil
}
