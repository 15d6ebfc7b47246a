// internal/browser/options.go
package browser

import (
	"strings"

	"github.com/chromedp/chromedp"
	"github.com/xkilldash9x/unflare/internal/config"
)

// execOptions translates the application config into chromedp allocator
// options. proxyAddr, when non-empty, is the host:port the browser should
// tunnel all traffic through (either the upstream proxy itself or the local
// credential relay).
func execOptions(cfg config.BrowserConfig, proxyAddr string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		// Required on hardened systems where the sandbox cannot start.
		chromedp.NoSandbox,
		// Recommended for stability in containers/headless envs.
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	if cfg.BinaryPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.BinaryPath))
	}

	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}

	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}

	if cfg.DisableCache {
		opts = append(opts, chromedp.Flag("disk-cache-size", "0"))
	}

	if cfg.Lang != "" {
		opts = append(opts, chromedp.Flag("lang", cfg.Lang))
	}

	if proxyAddr != "" {
		opts = append(opts, chromedp.ProxyServer(proxyAddr))
	}

	// Additional flags from the config file's 'args' slice.
	for _, arg := range cfg.Args {
		arg = strings.TrimPrefix(arg, "--")
		if !strings.Contains(arg, "=") {
			opts = append(opts, chromedp.Flag(arg, true))
			continue
		}
		parts := strings.SplitN(arg, "=", 2)
		opts = append(opts, chromedp.Flag(parts[0], parts[1]))
	}

	return opts
}
