// internal/challenge/recovery.go
package challenge

import (
	"context"
	"errors"
	"time"

	"github.com/xkilldash9x/unflare/internal/browser"
	"go.uber.org/zap"
)

// Recovery is the pluggable action the waiter runs when a wait times out.
// Implementations nudge the page towards clearing (clicking the Turnstile
// checkbox, for instance). Nudges are best effort: anything short of a
// context error is swallowed.
type Recovery interface {
	Nudge(ctx context.Context, drv browser.Driver) error
}

// NoopRecovery does nothing. Used in tests and when interaction is disabled.
type NoopRecovery struct{}

func (NoopRecovery) Nudge(context.Context, browser.Driver) error { return nil }

// PivotClick approximates a human clicking the verification checkbox. The
// checkbox sits inside a closed shadow DOM, so it cannot be targeted
// directly; instead the pointer is positioned relative to a known pivot
// element on the challenge page and clicked at a fixed offset.
type PivotClick struct {
	Logger *zap.Logger

	// PivotSelector locates the anchor element on the challenge page.
	PivotSelector string
	// OffsetX/OffsetY are applied to the pivot's center to land on the
	// checkbox.
	OffsetX float64
	OffsetY float64

	// Pacing between pointer steps. Values tuned against the page's own
	// ~5s reload cycle.
	StepPause  time.Duration
	SettleWait time.Duration
}

// NewPivotClick returns the default pointer sequence.
func NewPivotClick(logger *zap.Logger) *PivotClick {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PivotClick{
		Logger:        logger.Named("recovery"),
		PivotSelector: "h1.zone-name-title.h1",
		OffsetX:       -430,
		OffsetY:       130,
		StepPause:     1 * time.Second,
		SettleWait:    15 * time.Second,
	}
}

// Nudge moves to the pivot, double-clicks, then clicks at the offset
// position and waits for the page to react. Returns an error only when the
// context is done.
func (p *PivotClick) Nudge(ctx context.Context, drv browser.Driver) error {
	box, err := drv.ElementBox(ctx, p.PivotSelector)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, browser.ErrElementNotFound) {
			p.Logger.Debug("Pivot element not found, skipping nudge.")
		} else {
			p.Logger.Debug("Failed to locate pivot element.", zap.Error(err))
		}
		return nil
	}

	cx, cy := box.Center()
	p.Logger.Debug("Attempting verification click.",
		zap.Float64("pivotX", cx), zap.Float64("pivotY", cy),
		zap.Float64("offsetX", p.OffsetX), zap.Float64("offsetY", p.OffsetY),
	)

	steps := []func(context.Context) error{
		func(ctx context.Context) error { return drv.MoveMouse(ctx, cx, cy) },
		func(ctx context.Context) error { return sleep(ctx, p.StepPause) },
		func(ctx context.Context) error { return drv.ClickAt(ctx, cx, cy, 2) },
		func(ctx context.Context) error { return sleep(ctx, 2*p.StepPause) },
		func(ctx context.Context) error { return drv.MoveMouse(ctx, cx+p.OffsetX, cy+p.OffsetY) },
		func(ctx context.Context) error { return sleep(ctx, 2*p.StepPause) },
		func(ctx context.Context) error { return drv.ClickAt(ctx, cx+p.OffsetX, cy+p.OffsetY, 1) },
		func(ctx context.Context) error { return sleep(ctx, p.SettleWait) },
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			p.Logger.Debug("Verification click step failed.", zap.Error(err))
			return nil
		}
	}

	p.Logger.Debug("Verification click attempted.")
	return nil
}

// sleep pauses for d unless ctx ends first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
