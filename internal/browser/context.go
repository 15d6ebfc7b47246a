// internal/browser/context.go
package browser

import (
	"context"
	"time"
)

// CombineContext derives a context from ctx1 (the tab context carrying CDP
// connection values) that is canceled when either ctx1 or ctx2 (the
// operational deadline) is done. chromedp needs the values from ctx1, so the
// combined context must inherit from it, not from ctx2.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(ctx1)

	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}

// valueOnlyContext inherits all values from its parent but ignores the
// parent's deadline and cancellation signal.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach returns a context that keeps ctx's values (CDP target information)
// but is not canceled when ctx is. Used for cleanup that must outlive a
// request deadline.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
