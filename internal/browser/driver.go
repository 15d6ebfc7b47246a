// internal/browser/driver.go

// Package browser provides the driver facade over a real Chrome/Chromium
// instance controlled through the DevTools protocol. The rest of the
// application only sees the Driver interface, which keeps the challenge
// engine and the session store testable without a browser.
package browser

import (
	"context"

	"github.com/xkilldash9x/unflare/api/schemas"
)

// Box is an element's viewport-relative geometry.
type Box struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Center returns the midpoint of the box.
func (b Box) Center() (x, y float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Driver is the contract a browser instance fulfills. Every blocking call
// takes a context carrying the per-request deadline; implementations combine
// it with the tab's own lifetime.
type Driver interface {
	// Navigate loads the given URL in the current tab and blocks until the
	// load event fires.
	Navigate(ctx context.Context, url string) error

	// NavigatePost performs a POST to the given URL by rendering a
	// self-submitting form and waiting for the response document.
	NavigatePost(ctx context.Context, url, postData string) error

	// Reload reloads the current document.
	Reload(ctx context.Context) error

	// Title returns the current document title.
	Title(ctx context.Context) (string, error)

	// MatchCount reports how many elements match the CSS selector.
	MatchCount(ctx context.Context, selector string) (int, error)

	// CurrentURL returns the tab's current location.
	CurrentURL(ctx context.Context) (string, error)

	// Content returns the serialized markup of the current document.
	Content(ctx context.Context) (string, error)

	// UserAgent returns the user agent the browser presents to sites.
	UserAgent(ctx context.Context) (string, error)

	// Cookies returns all cookies visible to the browser.
	Cookies(ctx context.Context) ([]schemas.Cookie, error)

	// SetCookies replaces any same-named cookies with the given ones.
	// pageURL scopes cookies that carry no explicit domain.
	SetCookies(ctx context.Context, pageURL string, cookies []schemas.Cookie) error

	// RootNodeID returns the backend node id of the document root. The id
	// changes when the page navigates, which is how staleness is observed.
	RootNodeID(ctx context.Context) (int64, error)

	// AlignTabs re-acquires the working tab: it keeps the most recently
	// opened page whose location starts with url, closes every other page
	// and attaches to the kept one. Challenges spawn popups and replace
	// tabs mid-flight; this is how the driver finds its way back.
	AlignTabs(ctx context.Context, url string) error

	// NewTab opens a fresh tab at the given URL, re-applies init hooks,
	// attaches to it, and closes the previous tab.
	NewTab(ctx context.Context, url string) error

	// ApplyInitHooks installs scripts that must run on every new document
	// in the current tab.
	ApplyInitHooks(ctx context.Context) error

	// ElementBox returns the geometry of the first element matching the
	// selector, or an error when nothing matches.
	ElementBox(ctx context.Context, selector string) (*Box, error)

	// MoveMouse dispatches a mouse move to viewport coordinates.
	MoveMouse(ctx context.Context, x, y float64) error

	// ClickAt dispatches a click (press and release) at viewport
	// coordinates. clicks selects single or double click.
	ClickAt(ctx context.Context, x, y float64, clicks int) error

	// Close tears down the tab, the browser process and any helper
	// infrastructure. Safe to call more than once.
	Close() error
}
