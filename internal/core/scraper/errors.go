package scraper

import (
	"errors"
	"fmt"
)

// ErrPageNotFound 來源站點回報 404，表示該 id 沒有食譜
var ErrPageNotFound = errors.New("page not found")

// TransportError 連線、逾時或非 2xx/404 狀態碼
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ParseError 頁面結構不符預期
type ParseError struct {
	URL    string
	Step   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse %s: %s: %s", e.URL, e.Step, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// 解析步驟名稱
const (
	StepDocument     = "document"
	StepBreadcrumb   = "breadcrumb"
	StepInstructions = "instructions"
	StepTimings      = "timings"
	StepPortions     = "portions"
	StepImage        = "image"
	StepIngredients  = "ingredients"
)
