// Package render abstracts the page-rendering backend the scrapers drive.
// Two backends exist: a headless Chrome session (chromedp) and a static
// HTTP fetch parsed with goquery, which cannot run scripts.
package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"car-scraper/utils"
)

var (
	// ErrTimeout reports a navigation or wait that did not finish in time.
	ErrTimeout = errors.New("render: timed out")
	// ErrUnsupported is returned by backends lacking a capability.
	ErrUnsupported = errors.New("render: not supported by this backend")
	// ErrNotFound reports a query or parent lookup that matched nothing.
	ErrNotFound = errors.New("render: element not found")
)

// Launcher opens rendering sessions. Every opened Page must be closed.
type Launcher interface {
	Open(ctx context.Context) (Page, error)
}

// Page is one browser tab (or fetched document).
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitFor(ctx context.Context, selector string) error
	Query(ctx context.Context, selector string) (Element, error)
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	// Evaluate runs script in the page and decodes its result into out.
	Evaluate(ctx context.Context, script string, out any) error
	Screenshot(ctx context.Context) ([]byte, error)
	Content(ctx context.Context) (string, error)
	URL() string
	Close() error
}

// Element is a handle to one DOM element of a Page.
type Element interface {
	// Attribute returns the attribute value and whether it is present.
	Attribute(ctx context.Context, name string) (string, bool, error)
	InnerText(ctx context.Context) (string, error)
	// TagName is lower-case.
	TagName(ctx context.Context) (string, error)
	Parent(ctx context.Context) (Element, error)
	Query(ctx context.Context, selector string) (Element, error)
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	ComputedStyle(ctx context.Context, property string) (string, error)
	// Evaluate calls a JavaScript function declaration with the element as
	// `this` and decodes its return value into out.
	Evaluate(ctx context.Context, function string, out any) error
}

// LoadOptions controls how Load brings a page into a scrapeable state.
type LoadOptions struct {
	NavigationTimeout time.Duration
	WaitSelector      string
	WaitTimeout       time.Duration
	SettleDelay       time.Duration
	// ScrollSteps scrolls the page this many times to trigger lazy images.
	ScrollSteps int
}

// LoadResult describes the page state after Load.
type LoadResult struct {
	// ResultsVisible is false when WaitSelector never appeared.
	ResultsVisible bool
}

const scrollScript = `(function(step, steps) {
	window.scrollTo(0, document.body.scrollHeight * step / steps);
	return true;
})(%d, %d)`

// Load navigates page to url and waits for it to settle. Only the navigation
// itself is fatal; a missing wait selector or an unsupported scroll is
// reported through the result and the log.
func Load(ctx context.Context, page Page, url string, opts LoadOptions, logger *utils.Logger) (LoadResult, error) {
	res := LoadResult{ResultsVisible: true}

	navCtx, cancel := withOptionalTimeout(ctx, opts.NavigationTimeout)
	err := page.Navigate(navCtx, url)
	cancel()
	if err != nil {
		return res, fmt.Errorf("navigate %s: %w", url, err)
	}

	if opts.WaitSelector != "" {
		waitCtx, cancel := withOptionalTimeout(ctx, opts.WaitTimeout)
		err := page.WaitFor(waitCtx, opts.WaitSelector)
		cancel()
		if err != nil {
			res.ResultsVisible = false
			logger.Warn("[render] %q not visible on %s: %v", opts.WaitSelector, url, err)
		}
	}

	if err := Sleep(ctx, opts.SettleDelay); err != nil {
		return res, err
	}

	for step := 1; step <= opts.ScrollSteps; step++ {
		err := page.Evaluate(ctx, fmt.Sprintf(scrollScript, step, opts.ScrollSteps), nil)
		if errors.Is(err, ErrUnsupported) {
			break
		}
		if err != nil {
			logger.Debug("[render] scroll step %d failed: %v", step, err)
			break
		}
		if err := Sleep(ctx, opts.SettleDelay/2); err != nil {
			return res, err
		}
	}
	return res, nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// timeoutErr maps context deadline errors onto ErrTimeout.
func timeoutErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
