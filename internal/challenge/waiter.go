// internal/challenge/waiter.go
package challenge

import (
	"context"
	"strings"
	"time"

	"github.com/xkilldash9x/unflare/internal/browser"
	"go.uber.org/zap"
)

// waitResult tags the outcome of a bounded wait. Timeouts are expected
// control flow here, not errors.
type waitResult int

const (
	waitCleared waitResult = iota
	waitTimedOut
)

// Waiter runs the resolution loop: it repeatedly waits for every challenge
// indicator to disappear, nudging the page through the Recovery action when
// a wait times out. The loop has no attempt cap; the caller bounds it with
// the request context.
type Waiter struct {
	Driver   browser.Driver
	Recovery Recovery
	Logger   *zap.Logger

	// Overridable wait bounds, defaulting to LongTimeout/ShortTimeout.
	LongWait     time.Duration
	ShortWait    time.Duration
	PollInterval time.Duration

	// TabCyclePause is the settle time after opening a fresh tab.
	TabCyclePause time.Duration
}

// NewWaiter builds a waiter with production wait bounds.
func NewWaiter(drv browser.Driver, rec Recovery, logger *zap.Logger) *Waiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rec == nil {
		rec = NoopRecovery{}
	}
	return &Waiter{
		Driver:        drv,
		Recovery:      rec,
		Logger:        logger.Named("waiter"),
		LongWait:      LongTimeout,
		ShortWait:     ShortTimeout,
		PollInterval:  250 * time.Millisecond,
		TabCyclePause: 5 * time.Second,
	}
}

// Await blocks until every challenge indicator has disappeared from the
// page, then waits briefly for the final redirect. Returns an error only
// when ctx ends first.
func (w *Waiter) Await(ctx context.Context, url string) error {
	rootID, err := w.Driver.RootNodeID(ctx)
	if err != nil {
		w.Logger.Debug("Failed to capture document root.", zap.Error(err))
	}

	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempt++

		if err := w.Driver.AlignTabs(ctx, url); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.Logger.Debug("Tab realign failed.", zap.Int("attempt", attempt), zap.Error(err))
		}

		// The page occasionally wedges; a fresh tab with re-applied init
		// hooks unsticks it.
		if attempt%3 == 0 {
			w.Logger.Debug("Cycling to a new tab.", zap.Int("attempt", attempt))
			if err := w.Driver.NewTab(ctx, url); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.Logger.Debug("Tab cycle failed.", zap.Error(err))
			}
			if err := sleep(ctx, w.TabCyclePause); err != nil {
				return err
			}
		}

		result, err := w.awaitIndicatorsGone(ctx, attempt)
		if err != nil {
			return err
		}
		if result == waitCleared {
			break
		}

		// Timed out: nudge the page and re-capture the root, since the
		// challenge reloads the document every few seconds.
		w.Logger.Debug("Timeout waiting for challenge to clear.", zap.Int("attempt", attempt))
		if err := w.Recovery.Nudge(ctx, w.Driver); err != nil {
			return err
		}
		if id, err := w.Driver.RootNodeID(ctx); err == nil {
			rootID = id
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	// All indicators gone; give the final redirect a moment. A timeout
	// here just means the page swapped without replacing the document.
	w.Logger.Debug("Waiting for redirect.")
	res, err := w.poll(ctx, w.ShortWait, func(ctx context.Context) (bool, error) {
		id, err := w.Driver.RootNodeID(ctx)
		if err != nil {
			return false, err
		}
		return id != rootID, nil
	})
	if err != nil {
		return err
	}
	if res == waitTimedOut {
		w.Logger.Debug("Timeout waiting for redirect.")
	}
	return nil
}

// awaitIndicatorsGone waits for each challenge title, then each selector, to
// stop matching. The first timed-out indicator aborts the pass.
func (w *Waiter) awaitIndicatorsGone(ctx context.Context, attempt int) (waitResult, error) {
	for _, title := range ChallengeTitles {
		w.Logger.Debug("Waiting for title.", zap.Int("attempt", attempt), zap.String("title", title))
		res, err := w.poll(ctx, w.LongWait, func(ctx context.Context) (bool, error) {
			current, err := w.Driver.Title(ctx)
			if err != nil {
				return false, err
			}
			return !strings.EqualFold(current, title), nil
		})
		if err != nil || res == waitTimedOut {
			return waitTimedOut, err
		}
	}

	for _, selector := range ChallengeSelectors {
		w.Logger.Debug("Waiting for selector.", zap.Int("attempt", attempt), zap.String("selector", selector))
		res, err := w.poll(ctx, w.LongWait, func(ctx context.Context) (bool, error) {
			n, err := w.Driver.MatchCount(ctx, selector)
			if err != nil {
				return false, err
			}
			return n == 0, nil
		})
		if err != nil || res == waitTimedOut {
			return waitTimedOut, err
		}
	}

	return waitCleared, nil
}

// poll evaluates cond every PollInterval until it holds, the bound elapses,
// or ctx ends. Condition errors are treated as transient: the challenge
// reloads the page constantly, which breaks in-flight protocol calls.
func (w *Waiter) poll(ctx context.Context, bound time.Duration, cond func(context.Context) (bool, error)) (waitResult, error) {
	deadline := time.NewTimer(bound)
	defer deadline.Stop()
	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	for {
		ok, err := cond(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return waitTimedOut, ctx.Err()
			}
			w.Logger.Debug("Probe failed during wait, retrying.", zap.Error(err))
		} else if ok {
			return waitCleared, nil
		}

		select {
		case <-ctx.Done():
			return waitTimedOut, ctx.Err()
		case <-deadline.C:
			return waitTimedOut, nil
		case <-ticker.C:
		}
	}
}
