// Package stealth makes a DevTools-driven browser look like a user-operated
// one. Anti-bot interstitials fingerprint headless automation aggressively,
// so these patches have to land before any page script runs.
package stealth

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Persona defines the browser characteristics to emulate.
type Persona struct {
	// UserAgent overrides the browser's own user agent when non-empty.
	// Leave empty to keep the real one, which callers may want to report.
	UserAgent string
	Languages []string
	Timezone  string
	Locale    string
}

// DefaultPersona provides a realistic default browser profile.
var DefaultPersona = Persona{
	Languages: []string{"en-US", "en"},
	Timezone:  "America/Los_Angeles",
	Locale:    "en-US",
}

// Apply constructs the sequence of DevTools actions that installs the
// persona on a tab. The evasions script is registered to run on every new
// document, so it persists across the navigations a challenge performs.
func Apply(p Persona, logger *zap.Logger) chromedp.Tasks {
	logger.Debug("Applying browser stealth persona",
		zap.String("timezone", p.Timezone),
		zap.String("locale", p.Locale),
	)

	tasks := chromedp.Tasks{
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(evasionsScript).Do(ctx)
			if err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),
		emulation.SetTimezoneOverride(p.Timezone),
		emulation.SetLocaleOverride().WithLocale(p.Locale),
	}

	if p.UserAgent != "" {
		tasks = append(tasks, emulation.SetUserAgentOverride(p.UserAgent))
	}

	if len(p.Languages) > 0 {
		acceptLanguage := p.Languages[0]
		if len(p.Languages) > 1 {
			acceptLanguage = fmt.Sprintf("%s,%s;q=0.9", p.Languages[0], p.Languages[1])
		}
		tasks = append(tasks, network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": acceptLanguage,
		}))
	}

	return tasks
}

// evasionsScript patches the JavaScript surface commonly probed by anti-bot
// systems. Idempotent: safe to register multiple times on the same tab.
const evasionsScript = `
(() => {
    'use strict';

    if (window.__patchesApplied) {
        return;
    }
    window.__patchesApplied = true;

    try {

    // Challenge widgets hide inside closed shadow roots; force them open so
    // their markup stays reachable from the document.
    if (!Element.prototype._as) {
        Element.prototype._as = Element.prototype.attachShadow;
        Element.prototype.attachShadow = function (params) {
            return this._as({mode: "open"});
        };
    }

    // navigator.webdriver is the loudest automation tell.
    Object.defineProperty(navigator, 'webdriver', {
        get: () => undefined,
        configurable: true
    });

    // Headless builds ship with an empty plugin list.
    Object.defineProperty(navigator, 'plugins', {
        get: () => {
            const plugins = [
                {
                    name: 'Chrome PDF Plugin',
                    filename: 'internal-pdf-viewer',
                    description: 'Portable Document Format',
                    length: 1,
                    item: () => null,
                    namedItem: () => null,
                    [Symbol.iterator]: function* () {}
                },
                {
                    name: 'Chrome PDF Viewer',
                    filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai',
                    description: '',
                    length: 1,
                    item: () => null,
                    namedItem: () => null,
                    [Symbol.iterator]: function* () {}
                }
            ];
            plugins.length = 2;
            plugins.item = (index) => plugins[index] || null;
            plugins.namedItem = (name) => plugins.find(p => p.name === name) || null;
            plugins.refresh = () => {};
            return plugins;
        },
        configurable: true
    });

    Object.defineProperty(navigator, 'languages', {
        get: () => ['en-US', 'en'],
        configurable: true
    });

    // Real Chrome exposes window.chrome with a runtime object.
    if (!window.chrome) {
        window.chrome = {};
    }
    if (!window.chrome.runtime) {
        window.chrome.runtime = {
            connect: function() { return { onMessage: { addListener: function() {} }, postMessage: function() {} }; },
            sendMessage: function() {},
            onMessage: { addListener: function() {} },
            id: undefined
        };
    }

    // Notification permission queries behave oddly under automation.
    if (window.navigator && window.navigator.permissions && window.navigator.permissions.query) {
        const originalQuery = window.navigator.permissions.query.bind(window.navigator.permissions);
        window.navigator.permissions.query = (parameters) => {
            if (parameters.name === 'notifications') {
                return Promise.resolve({
                    state: typeof Notification !== 'undefined' ? Notification.permission : 'default',
                    onchange: null
                });
            }
            return originalQuery(parameters);
        };
    }

    // Containers report odd hardware shapes.
    Object.defineProperty(navigator, 'hardwareConcurrency', {
        get: () => 8,
        configurable: true
    });
    Object.defineProperty(navigator, 'deviceMemory', {
        get: () => 8,
        configurable: true
    });

    // WebGL vendor strings expose virtualized GPUs.
    try {
        const UNMASKED_VENDOR_WEBGL = 37445;
        const UNMASKED_RENDERER_WEBGL = 37446;

        ['WebGLRenderingContext', 'WebGL2RenderingContext'].forEach(function(ctxName) {
            try {
                const ctx = window[ctxName];
                if (!ctx || !ctx.prototype) return;

                const originalGetParameter = ctx.prototype.getParameter;
                if (typeof originalGetParameter !== 'function') return;
                if (originalGetParameter.__patched) return;

                ctx.prototype.getParameter = function(param) {
                    if (param === UNMASKED_VENDOR_WEBGL) {
                        return 'Intel Inc.';
                    }
                    if (param === UNMASKED_RENDERER_WEBGL) {
                        return 'Intel Iris OpenGL Engine';
                    }
                    return originalGetParameter.call(this, param);
                };
                ctx.prototype.getParameter.__patched = true;
            } catch (e) {
                // Skip this context.
            }
        });
    } catch (e) {
        // WebGL spoofing failed, continue anyway.
    }

    if (typeof Notification !== 'undefined') {
        Object.defineProperty(Notification, 'permission', {
            get: () => 'default',
            configurable: true
        });
    }

    } catch (e) {
        // A failed patch must never break the page.
    }
})();
`
