// internal/challenge/detector_test.go
package challenge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cloudflareChallengeHTML = `<!DOCTYPE html>
<html lang="en-US">
<head><title>Just a moment...</title></head>
<body>
  <div class="main-wrapper">
    <h1 class="zone-name-title h1">example.com</h1>
    <div id="challenge-spinner" class="spinner"></div>
    <div id="turnstile-wrapper"></div>
  </div>
</body>
</html>`

const cloudflareBlockHTML = `<!DOCTYPE html>
<html>
<head><title>Attention Required! | Cloudflare</title></head>
<body>
  <div id="cf-error-details">
    <div class="cf-error-overview">
      <h1>Sorry, you have been blocked</h1>
    </div>
  </div>
  <div class="cf-error-title">
    <span class="cf-code-label">Error <span>1020</span></span>
  </div>
</body>
</html>`

const ddosGuardHTML = `<!DOCTYPE html>
<html>
<head><title>DDoS-Guard</title></head>
<body>
  <table><tr><td class="info"><div id="js_info">Checking your browser</div></td></tr></table>
</body>
</html>`

const fairlaneHTML = `<!DOCTYPE html>
<html>
<head><title>pararius.com</title></head>
<body>
  <div class="vc"><div class="text-box"><h2>Even geduld aub...</h2></div></div>
</body>
</html>`

const clearedHTML = `<!DOCTYPE html>
<html>
<head><title>Welcome to example.com</title></head>
<body><h1>Hello</h1><p>Regular content.</p></body>
</html>`

func TestClassify(t *testing.T) {
	ctx := context.Background()

	t.Run("should report clear for a normal page", func(t *testing.T) {
		page, err := newFakePage("Welcome to example.com", clearedHTML)
		require.NoError(t, err)

		det, err := Classify(ctx, page)
		require.NoError(t, err)
		assert.Equal(t, VerdictClear, det.Verdict)
		assert.Empty(t, det.Indicator)
	})

	t.Run("should detect a cloudflare challenge by title", func(t *testing.T) {
		page, err := newFakePage("Just a moment...", cloudflareChallengeHTML)
		require.NoError(t, err)

		det, err := Classify(ctx, page)
		require.NoError(t, err)
		assert.Equal(t, VerdictChallenged, det.Verdict)
		assert.Equal(t, "Just a moment...", det.Indicator)
		assert.True(t, det.ByTitle)
	})

	t.Run("should match challenge titles case-insensitively", func(t *testing.T) {
		page, err := newFakePage("JUST A MOMENT...", clearedHTML)
		require.NoError(t, err)

		det, err := Classify(ctx, page)
		require.NoError(t, err)
		assert.Equal(t, VerdictChallenged, det.Verdict)
		assert.True(t, det.ByTitle)
	})

	t.Run("should detect a challenge by selector when the title is unhelpful", func(t *testing.T) {
		page, err := newFakePage("example.com", cloudflareChallengeHTML)
		require.NoError(t, err)

		det, err := Classify(ctx, page)
		require.NoError(t, err)
		assert.Equal(t, VerdictChallenged, det.Verdict)
		assert.Equal(t, "#challenge-spinner", det.Indicator)
		assert.False(t, det.ByTitle)
	})

	t.Run("should detect a ddos-guard challenge", func(t *testing.T) {
		page, err := newFakePage("ddos-guard", ddosGuardHTML)
		require.NoError(t, err)

		det, err := Classify(ctx, page)
		require.NoError(t, err)
		assert.Equal(t, VerdictChallenged, det.Verdict)
	})

	t.Run("should detect a fairlane challenge by selector", func(t *testing.T) {
		page, err := newFakePage("pararius.com", fairlaneHTML)
		require.NoError(t, err)

		det, err := Classify(ctx, page)
		require.NoError(t, err)
		assert.Equal(t, VerdictChallenged, det.Verdict)
		assert.Equal(t, "div.vc div.text-box h2", det.Indicator)
	})

	t.Run("should detect a block page by exact title", func(t *testing.T) {
		page, err := newFakePage("Attention Required! | Cloudflare", clearedHTML)
		require.NoError(t, err)

		det, err := Classify(ctx, page)
		require.NoError(t, err)
		assert.Equal(t, VerdictBlocked, det.Verdict)
		assert.True(t, det.ByTitle)
	})

	t.Run("should not match access denied titles case-insensitively", func(t *testing.T) {
		page, err := newFakePage("ACCESS DENIED", clearedHTML)
		require.NoError(t, err)

		det, err := Classify(ctx, page)
		require.NoError(t, err)
		assert.Equal(t, VerdictClear, det.Verdict)
	})

	t.Run("should detect a block page by selector", func(t *testing.T) {
		page, err := newFakePage("example.com | 1020", cloudflareBlockHTML)
		require.NoError(t, err)

		det, err := Classify(ctx, page)
		require.NoError(t, err)
		assert.Equal(t, VerdictBlocked, det.Verdict)
		assert.False(t, det.ByTitle)
	})

	t.Run("should prefer blocked over challenged", func(t *testing.T) {
		// A block page that still carries challenge markup.
		page, err := newFakePage("Access denied", cloudflareChallengeHTML)
		require.NoError(t, err)

		det, err := Classify(ctx, page)
		require.NoError(t, err)
		assert.Equal(t, VerdictBlocked, det.Verdict)
	})
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "clear", VerdictClear.String())
	assert.Equal(t, "challenged", VerdictChallenged.String())
	assert.Equal(t, "blocked", VerdictBlocked.String())
}
