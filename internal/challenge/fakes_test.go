// internal/challenge/fakes_test.go
package challenge

import (
	"context"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/xkilldash9x/unflare/api/schemas"
	"github.com/xkilldash9x/unflare/internal/browser"
)

// fakePage is a Probe backed by an HTML snapshot; selectors are evaluated
// with goquery so the tests exercise real CSS matching.
type fakePage struct {
	title string
	doc   *goquery.Document
}

func newFakePage(title, htmlSrc string) (*fakePage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlSrc))
	if err != nil {
		return nil, err
	}
	return &fakePage{title: title, doc: doc}, nil
}

func (p *fakePage) Title(context.Context) (string, error) { return p.title, nil }

func (p *fakePage) MatchCount(_ context.Context, selector string) (int, error) {
	return p.doc.Find(selector).Length(), nil
}

// pointerCall records a single pointer interaction on the fake driver.
type pointerCall struct {
	kind   string // "move" or "click"
	x, y   float64
	clicks int
}

// scriptDriver is a scriptable browser.Driver for waiter and recovery tests.
// Behavior is driven by the overridable function fields; everything else is
// a no-op. Counters are mutex-guarded because the waiter may be polled from
// test goroutines.
type scriptDriver struct {
	mu sync.Mutex

	titleFn func() (string, error)
	matchFn func(selector string) (int, error)
	rootFn  func() (int64, error)
	boxFn   func(selector string) (*browser.Box, error)

	alignCalls  int
	alignURLs   []string
	newTabCalls int
	pointer     []pointerCall
}

func (d *scriptDriver) Title(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.titleFn == nil {
		return "", nil
	}
	return d.titleFn()
}

func (d *scriptDriver) MatchCount(_ context.Context, selector string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.matchFn == nil {
		return 0, nil
	}
	return d.matchFn(selector)
}

func (d *scriptDriver) RootNodeID(context.Context) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rootFn == nil {
		return 1, nil
	}
	return d.rootFn()
}

func (d *scriptDriver) AlignTabs(_ context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alignCalls++
	d.alignURLs = append(d.alignURLs, url)
	return nil
}

func (d *scriptDriver) alignedWith() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.alignURLs...)
}

func (d *scriptDriver) NewTab(context.Context, string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.newTabCalls++
	return nil
}

func (d *scriptDriver) ElementBox(_ context.Context, selector string) (*browser.Box, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.boxFn == nil {
		return nil, browser.ErrElementNotFound
	}
	return d.boxFn(selector)
}

func (d *scriptDriver) MoveMouse(_ context.Context, x, y float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pointer = append(d.pointer, pointerCall{kind: "move", x: x, y: y})
	return nil
}

func (d *scriptDriver) ClickAt(_ context.Context, x, y float64, clicks int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pointer = append(d.pointer, pointerCall{kind: "click", x: x, y: y, clicks: clicks})
	return nil
}

func (d *scriptDriver) stats() (align, tabs int, pointer []pointerCall) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.alignCalls, d.newTabCalls, append([]pointerCall(nil), d.pointer...)
}

// Remaining Driver methods are inert.
func (d *scriptDriver) Navigate(context.Context, string) error { return nil }
func (d *scriptDriver) NavigatePost(context.Context, string, string) error { return nil }
func (d *scriptDriver) Reload(context.Context) error { return nil }
func (d *scriptDriver) CurrentURL(context.Context) (string, error) { return "", nil }
func (d *scriptDriver) Content(context.Context) (string, error) { return "", nil }
func (d *scriptDriver) UserAgent(context.Context) (string, error) { return "", nil }
func (d *scriptDriver) Cookies(context.Context) ([]schemas.Cookie, error) { return nil, nil }
func (d *scriptDriver) SetCookies(context.Context, string, []schemas.Cookie) error {
	return nil
}
func (d *scriptDriver) ApplyInitHooks(context.Context) error { return nil }
func (d *scriptDriver) Close() error                         { return nil }

var _ browser.Driver = (*scriptDriver)(nil)
var _ Probe = (*fakePage)(nil)
