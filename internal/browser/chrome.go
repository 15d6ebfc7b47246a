// internal/browser/chrome.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"github.com/xkilldash9x/unflare/api/schemas"
	"github.com/xkilldash9x/unflare/internal/browser/stealth"
	"github.com/xkilldash9x/unflare/internal/config"
	"go.uber.org/zap"
)

var _ Driver = (*Chrome)(nil)

// ErrElementNotFound is returned by ElementBox when the selector matches
// nothing.
var ErrElementNotFound = errors.New("element not found")

// Chrome drives a dedicated Chrome/Chromium process over the DevTools
// protocol. Each instance owns its own process, profile directory and, for
// authenticated proxies, a local credential relay.
type Chrome struct {
	cfg     config.BrowserConfig
	logger  *zap.Logger
	persona stealth.Persona
	relay   *ProxyRelay

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu            sync.Mutex
	tabCtx        context.Context
	tabCancel     context.CancelFunc
	currentTarget target.ID

	closeOnce sync.Once
	closeErr  error
}

// NewChrome launches a browser process configured for the optional upstream
// proxy and returns a ready-to-use driver. ctx bounds the launch, not the
// driver's lifetime.
func NewChrome(ctx context.Context, cfg config.BrowserConfig, proxy *schemas.Proxy, logger *zap.Logger) (*Chrome, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("chrome")

	c := &Chrome{
		cfg:     cfg,
		logger:  log,
		persona: stealth.DefaultPersona,
	}

	var proxyAddr string
	if proxy != nil {
		if proxy.Username != "" {
			relay, err := StartProxyRelay(proxy, log)
			if err != nil {
				return nil, fmt.Errorf("failed to start proxy relay: %w", err)
			}
			c.relay = relay
			proxyAddr = relay.Addr()
		} else {
			proxyAddr = proxy.Address()
		}
	}

	// Every instance gets a private profile so concurrent browsers never
	// fight over profile locks.
	if cfg.UserDataDir != "" {
		cfg.UserDataDir = filepath.Join(cfg.UserDataDir, uuid.NewString())
		c.cfg = cfg
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), execOptions(cfg, proxyAddr)...)
	c.allocCancel = allocCancel

	c.browserCtx, c.browserCancel = chromedp.NewContext(allocCtx)
	c.tabCtx = c.browserCtx
	c.tabCancel = nil

	// First Run starts the process and attaches the initial tab.
	startCtx, cancel := CombineContext(c.browserCtx, ctx)
	err := chromedp.Run(startCtx, stealth.Apply(c.persona, log))
	cancel()
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	if tc := chromedp.FromContext(c.browserCtx); tc != nil && tc.Target != nil {
		c.currentTarget = tc.Target.TargetID
	}

	return c, nil
}

// Probe reports the browser build and the user agent it presents. Used as a
// startup smoke test.
func (c *Chrome) Probe(ctx context.Context) (version, userAgent string, err error) {
	err = c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, product, _, ua, _, err := cdpbrowser.GetVersion().Do(ctx)
		if err != nil {
			return err
		}
		version, userAgent = product, ua
		return nil
	}))
	return version, userAgent, err
}

// run executes actions on the current tab, bounded by the caller's context.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	c.mu.Lock()
	tab := c.tabCtx
	c.mu.Unlock()

	combined, cancel := CombineContext(tab, ctx)
	defer cancel()
	return chromedp.Run(combined, actions...)
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	return c.run(ctx, chromedp.Navigate(url))
}

func (c *Chrome) NavigatePost(ctx context.Context, url, postData string) error {
	dataURL, err := PostFormDataURL(url, postData)
	if err != nil {
		return err
	}
	if err := c.run(ctx, chromedp.Navigate(dataURL)); err != nil {
		return err
	}

	// The form submits itself on load; wait until the tab has left the
	// data: document for the real response.
	for {
		loc, err := c.CurrentURL(ctx)
		if err == nil && loc != "" && !strings.HasPrefix(loc, "data:") {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for post response: %w", ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
	}
	return c.run(ctx, chromedp.WaitReady("body", chromedp.ByQuery))
}

func (c *Chrome) Reload(ctx context.Context) error {
	return c.run(ctx, chromedp.Reload())
}

func (c *Chrome) Title(ctx context.Context) (string, error) {
	var title string
	err := c.run(ctx, chromedp.Title(&title))
	return title, err
}

func (c *Chrome) MatchCount(ctx context.Context, selector string) (int, error) {
	js := fmt.Sprintf("document.querySelectorAll(%s).length", strconv.Quote(selector))
	var count int
	err := c.run(ctx, chromedp.Evaluate(js, &count))
	return count, err
}

func (c *Chrome) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	err := c.run(ctx, chromedp.Location(&loc))
	return loc, err
}

func (c *Chrome) Content(ctx context.Context) (string, error) {
	var html string
	err := c.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (c *Chrome) UserAgent(ctx context.Context) (string, error) {
	var ua string
	err := c.run(ctx, chromedp.Evaluate("navigator.userAgent", &ua))
	return ua, err
}

func (c *Chrome) Cookies(ctx context.Context) ([]schemas.Cookie, error) {
	var cookies []schemas.Cookie
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		raw, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		cookies = make([]schemas.Cookie, 0, len(raw))
		for _, ck := range raw {
			cookies = append(cookies, schemas.Cookie{
				Name:     ck.Name,
				Value:    ck.Value,
				Domain:   ck.Domain,
				Path:     ck.Path,
				Expires:  ck.Expires,
				Size:     int(ck.Size),
				HTTPOnly: ck.HTTPOnly,
				Secure:   ck.Secure,
				Session:  ck.Session,
				SameSite: string(ck.SameSite),
			})
		}
		return nil
	}))
	return cookies, err
}

func (c *Chrome) SetCookies(ctx context.Context, pageURL string, cookies []schemas.Cookie) error {
	return c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, ck := range cookies {
			del := network.DeleteCookies(ck.Name)
			if ck.Domain != "" {
				del = del.WithDomain(ck.Domain)
			} else {
				del = del.WithURL(pageURL)
			}
			if err := del.Do(ctx); err != nil {
				return fmt.Errorf("deleting cookie %q: %w", ck.Name, err)
			}

			set := network.SetCookie(ck.Name, ck.Value)
			if ck.Domain != "" {
				set = set.WithDomain(ck.Domain)
			} else {
				set = set.WithURL(pageURL)
			}
			if ck.Path != "" {
				set = set.WithPath(ck.Path)
			}
			if ck.Expires > 0 {
				expires := cdp.TimeSinceEpoch(time.Unix(int64(ck.Expires), 0))
				set = set.WithExpires(&expires)
			}
			set = set.WithHTTPOnly(ck.HTTPOnly).WithSecure(ck.Secure)
			if ck.SameSite != "" {
				set = set.WithSameSite(network.CookieSameSite(ck.SameSite))
			}
			if err := set.Do(ctx); err != nil {
				return fmt.Errorf("setting cookie %q: %w", ck.Name, err)
			}
		}
		return nil
	}))
}

func (c *Chrome) RootNodeID(ctx context.Context) (int64, error) {
	var id int64
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		node, err := dom.GetDocument().Do(ctx)
		if err != nil {
			return err
		}
		id = int64(node.BackendNodeID)
		return nil
	}))
	return id, err
}

func (c *Chrome) AlignTabs(ctx context.Context, url string) error {
	c.mu.Lock()
	tab := c.tabCtx
	current := c.currentTarget
	c.mu.Unlock()

	infos, err := chromedp.Targets(tab)
	if err != nil {
		return fmt.Errorf("listing targets: %w", err)
	}

	var pages []*target.Info
	for _, info := range infos {
		if info.Type == "page" {
			pages = append(pages, info)
		}
	}
	if len(pages) == 0 {
		return errors.New("no page targets left")
	}

	keep, extraneous := pickAlignTarget(pages, current, url)
	for _, id := range extraneous {
		c.closeTarget(id)
	}
	if keep == current {
		return nil
	}
	return c.attach(keep)
}

// pickAlignTarget chooses which page target to keep: the most recently
// opened one whose location starts with urlPrefix. When none matches, the
// current target survives if it is still alive, otherwise the newest page.
// Everything else is extraneous and gets closed.
func pickAlignTarget(pages []*target.Info, current target.ID, urlPrefix string) (keep target.ID, extraneous []target.ID) {
	for i := len(pages) - 1; i >= 0; i-- {
		if strings.HasPrefix(pages[i].URL, urlPrefix) {
			keep = pages[i].TargetID
			break
		}
	}
	if keep == "" {
		for _, info := range pages {
			if info.TargetID == current {
				keep = current
				break
			}
		}
	}
	if keep == "" {
		keep = pages[len(pages)-1].TargetID
	}

	for _, info := range pages {
		if info.TargetID != keep {
			extraneous = append(extraneous, info.TargetID)
		}
	}
	return keep, extraneous
}

// closeTarget closes a page target on the browser connection, detached from
// any request deadline. Best effort.
func (c *Chrome) closeTarget(id target.ID) {
	closeCtx, cancel := context.WithTimeout(Detach(c.browserCtx), 5*time.Second)
	defer cancel()
	if err := chromedp.Run(closeCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return target.CloseTarget(id).Do(ctx)
	})); err != nil {
		c.logger.Debug("Failed to close tab.", zap.String("target", string(id)), zap.Error(err))
	}
}

func (c *Chrome) NewTab(ctx context.Context, url string) error {
	combined, cancel := CombineContext(c.browserCtx, ctx)
	defer cancel()

	var newID target.ID
	err := chromedp.Run(combined, chromedp.ActionFunc(func(ctx context.Context) error {
		id, err := target.CreateTarget("about:blank").Do(ctx)
		if err != nil {
			return err
		}
		newID = id
		return nil
	}))
	if err != nil {
		return fmt.Errorf("creating tab: %w", err)
	}

	c.mu.Lock()
	oldID := c.currentTarget
	c.mu.Unlock()

	if err := c.attach(newID); err != nil {
		return err
	}

	if err := c.ApplyInitHooks(ctx); err != nil {
		c.logger.Warn("Failed to re-apply init hooks on new tab.", zap.Error(err))
	}

	if err := c.Navigate(ctx, url); err != nil {
		return err
	}

	if oldID != "" && oldID != newID {
		c.closeTarget(oldID)
	}
	return nil
}

// attach switches the driver to the given page target.
func (c *Chrome) attach(id target.ID) error {
	newCtx, newCancel := chromedp.NewContext(c.browserCtx, chromedp.WithTargetID(id))
	// Force the attachment so failures surface here, not on the next call.
	if err := chromedp.Run(newCtx); err != nil {
		newCancel()
		return fmt.Errorf("attaching to target %s: %w", id, err)
	}

	c.mu.Lock()
	oldCancel := c.tabCancel
	c.tabCtx = newCtx
	c.tabCancel = newCancel
	c.currentTarget = id
	c.mu.Unlock()

	if oldCancel != nil {
		oldCancel()
	}
	return nil
}

func (c *Chrome) ApplyInitHooks(ctx context.Context) error {
	return c.run(ctx, stealth.Apply(c.persona, c.logger))
}

func (c *Chrome) ElementBox(ctx context.Context, selector string) (*Box, error) {
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) { return null; }
		const r = el.getBoundingClientRect();
		return {X: r.x, Y: r.y, Width: r.width, Height: r.height};
	})()`, strconv.Quote(selector))

	var box *Box
	if err := c.run(ctx, chromedp.Evaluate(js, &box)); err != nil {
		return nil, err
	}
	if box == nil {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return box, nil
}

func (c *Chrome) MoveMouse(ctx context.Context, x, y float64) error {
	return c.run(ctx, input.DispatchMouseEvent(input.MouseMoved, x, y))
}

func (c *Chrome) ClickAt(ctx context.Context, x, y float64, clicks int) error {
	if clicks < 1 {
		clicks = 1
	}
	press := input.DispatchMouseEvent(input.MousePressed, x, y).
		WithButton(input.MouseButton("left")).
		WithClickCount(int64(clicks))
	release := input.DispatchMouseEvent(input.MouseReleased, x, y).
		WithButton(input.MouseButton("left")).
		WithClickCount(int64(clicks))
	return c.run(ctx, press, release)
}

func (c *Chrome) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		tabCancel := c.tabCancel
		c.mu.Unlock()
		if tabCancel != nil {
			tabCancel()
		}

		// Graceful browser shutdown, then tear the contexts down.
		if c.browserCtx != nil {
			_ = chromedp.Cancel(c.browserCtx)
		}
		if c.browserCancel != nil {
			c.browserCancel()
		}
		if c.allocCancel != nil {
			c.allocCancel()
		}
		if c.relay != nil {
			c.closeErr = c.relay.Close()
		}
	})
	return c.closeErr
}
