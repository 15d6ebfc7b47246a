// internal/challenge/detector.go

// Package challenge implements detection and resolution of anti-bot
// interstitials (Cloudflare, DDoS-Guard). Detection is a pure classification
// over a page probe; resolution is a retry state machine that outwaits the
// challenge in a real browser.
package challenge

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Bounds for individual waits inside the resolution loop. The overall
// resolution is bounded by the request context, not by these.
const (
	ShortTimeout = 1 * time.Second
	LongTimeout  = 5 * time.Second
)

// Exact page titles that mean the IP is banned outright.
var AccessDeniedTitles = []string{
	// Cloudflare
	"Access denied",
	// Cloudflare http://bitturk.net/ Firefox
	"Attention Required! | Cloudflare",
}

// Selectors that identify a hard block page.
var AccessDeniedSelectors = []string{
	// Cloudflare
	"div.cf-error-title span.cf-code-label span",
	// Cloudflare http://bitturk.net/ Firefox
	"#cf-error-details div.cf-error-overview h1",
}

// Titles shown while a challenge is still being evaluated. Compared
// case-insensitively.
var ChallengeTitles = []string{
	// Cloudflare
	"Just a moment...",
	// DDoS-GUARD
	"DDoS-Guard",
}

// Selectors present while a challenge is still being evaluated.
var ChallengeSelectors = []string{
	// Cloudflare
	"#cf-challenge-running", ".ray_id", ".attack-box", "#cf-please-wait", "#challenge-spinner", "#trk_jschal_js", "#turnstile-wrapper", ".lds-ring",
	// Custom CloudFlare for EbookParadijs, Film-Paleis, MuziekFabriek and Puur-Hollands
	"td.info #js_info",
	// Fairlane / pararius.com
	"div.vc div.text-box h2",
}

// Verdict classifies a loaded page.
type Verdict int

const (
	// VerdictClear means no interstitial is present.
	VerdictClear Verdict = iota
	// VerdictChallenged means a solvable challenge is running.
	VerdictChallenged
	// VerdictBlocked means the site refuses this client outright.
	VerdictBlocked
)

func (v Verdict) String() string {
	switch v {
	case VerdictClear:
		return "clear"
	case VerdictChallenged:
		return "challenged"
	case VerdictBlocked:
		return "blocked"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Probe is the minimal read-only view of a page the detector needs. The
// browser driver satisfies it; tests use HTML snapshots.
type Probe interface {
	Title(ctx context.Context) (string, error)
	MatchCount(ctx context.Context, selector string) (int, error)
}

// Detection is the classification outcome. Indicator names the matching
// title or selector; ByTitle distinguishes the two.
type Detection struct {
	Verdict   Verdict
	Indicator string
	ByTitle   bool
}

// Classify inspects the page once and returns its verdict. Blocked beats
// challenged: access-denied markers are checked first, so a block page that
// also carries challenge markup is still a block.
func Classify(ctx context.Context, p Probe) (Detection, error) {
	title, err := p.Title(ctx)
	if err != nil {
		return Detection{}, fmt.Errorf("reading page title: %w", err)
	}

	for _, denied := range AccessDeniedTitles {
		if title == denied {
			return Detection{Verdict: VerdictBlocked, Indicator: denied, ByTitle: true}, nil
		}
	}
	for _, selector := range AccessDeniedSelectors {
		n, err := p.MatchCount(ctx, selector)
		if err != nil {
			return Detection{}, fmt.Errorf("matching selector %q: %w", selector, err)
		}
		if n > 0 {
			return Detection{Verdict: VerdictBlocked, Indicator: selector}, nil
		}
	}

	for _, challenge := range ChallengeTitles {
		if strings.EqualFold(title, challenge) {
			return Detection{Verdict: VerdictChallenged, Indicator: challenge, ByTitle: true}, nil
		}
	}
	for _, selector := range ChallengeSelectors {
		n, err := p.MatchCount(ctx, selector)
		if err != nil {
			return Detection{}, fmt.Errorf("matching selector %q: %w", selector, err)
		}
		if n > 0 {
			return Detection{Verdict: VerdictChallenged, Indicator: selector}, nil
		}
	}

	return Detection{Verdict: VerdictClear}, nil
}
