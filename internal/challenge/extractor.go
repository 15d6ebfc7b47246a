// internal/challenge/extractor.go
package challenge

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/unflare/api/schemas"
	"github.com/xkilldash9x/unflare/internal/browser"
	"go.uber.org/zap"
)

// Extractor assembles the final solution from a cleared page.
type Extractor struct {
	Logger *zap.Logger

	// FallbackUserAgent is reported when the driver cannot supply one.
	FallbackUserAgent string

	// LogHTML dumps the page source at debug level. Noisy.
	LogHTML bool
}

// Extract reads the cleared page's URL, cookies, user agent and markup.
//
// Status is pinned to 200 and headers to an empty map: the DevTools session
// observes the rendered document, not the HTTP exchange that produced it.
func (e *Extractor) Extract(ctx context.Context, drv browser.Driver, returnOnlyCookies bool) (*schemas.Solution, error) {
	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	currentURL, err := drv.CurrentURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading final url: %w", err)
	}

	cookies, err := drv.Cookies(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading cookies: %w", err)
	}
	if cookies == nil {
		cookies = []schemas.Cookie{}
	}

	userAgent, err := drv.UserAgent(ctx)
	if err != nil || userAgent == "" {
		logger.Warn("Driver did not report a user agent, using fallback.", zap.Error(err))
		userAgent = e.FallbackUserAgent
	}

	solution := &schemas.Solution{
		URL:       currentURL,
		Status:    200,
		Cookies:   cookies,
		UserAgent: userAgent,
	}

	if !returnOnlyCookies {
		solution.Headers = map[string]string{}
		body, err := drv.Content(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading page source: %w", err)
		}
		solution.Response = body

		if e.LogHTML {
			logger.Debug("Response HTML.", zap.String("html", body))
		}
	}

	return solution, nil
}
