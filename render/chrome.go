package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"car-scraper/utils"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	objectGroup = "car-scraper"
)

// ChromeLauncher starts one headless Chrome process per session.
type ChromeLauncher struct {
	// ExecPath overrides binary discovery when set.
	ExecPath  string
	UserAgent string
	Logger    *utils.Logger
}

// NewChromeLauncher creates a launcher; chromeBin may be empty.
func NewChromeLauncher(chromeBin string, logger *utils.Logger) *ChromeLauncher {
	return &ChromeLauncher{ExecPath: chromeBin, UserAgent: defaultUserAgent, Logger: logger}
}

// Open starts the browser and a single tab. The session lives until Close,
// independent of ctx, which only bounds start-up.
func (l *ChromeLauncher) Open(ctx context.Context) (Page, error) {
	bin := l.ExecPath
	if bin == "" {
		bin = FindChromeBinary()
	}
	ua := l.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(ua),
	)
	if bin != "" {
		opts = append(opts, chromedp.ExecPath(bin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	page := &chromePage{
		ctx: tabCtx,
		cancel: func() {
			cancelTab()
			cancelAlloc()
		},
		logger: l.Logger,
	}

	// The first Run allocates the browser and binds its process to the
	// context it is given, so it must run on the tab context itself. ctx
	// can only abort start-up by tearing the whole session down.
	stop := context.AfterFunc(ctx, page.cancel)
	err := chromedp.Run(tabCtx)
	if !stop() {
		err = errors.Join(err, ctx.Err())
	}
	if err != nil {
		page.cancel()
		return nil, fmt.Errorf("start chrome (%s): %w", bin, err)
	}
	l.Logger.Debug("[render] chrome session opened using %q", bin)
	return page, nil
}

type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *utils.Logger

	mu     sync.Mutex
	url    string
	closed bool
}

// run executes actions on the tab, bounded by the caller's ctx. The browser
// must already be running: cancelling the derived context then only aborts
// these actions.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return timeoutErr(runCtx, chromedp.Run(runCtx, actions...))
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	// handles from the previous document die with it
	_ = p.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return runtime.ReleaseObjectGroup(objectGroup).Do(c)
	}))

	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return err
	}
	var current string
	if err := p.run(ctx, chromedp.Location(&current)); err != nil || current == "" {
		current = url
	}
	p.mu.Lock()
	p.url = current
	p.mu.Unlock()
	p.logger.Debug("[render] navigated to %s", current)
	return nil
}

func (p *chromePage) WaitFor(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitReady(selector, chromedp.ByQuery))
}

func (p *chromePage) Query(ctx context.Context, selector string) (Element, error) {
	doc, err := p.document(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Query(ctx, selector)
}

func (p *chromePage) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	doc, err := p.document(ctx)
	if err != nil {
		return nil, err
	}
	return doc.QueryAll(ctx, selector)
}

func (p *chromePage) Evaluate(ctx context.Context, script string, out any) error {
	if out == nil {
		var discard any
		return p.run(ctx, chromedp.Evaluate(script, &discard))
	}
	return p.run(ctx, chromedp.Evaluate(script, out))
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, 80)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *chromePage) Content(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (p *chromePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *chromePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.cancel()
	return nil
}

func (p *chromePage) document(ctx context.Context) (*chromeElement, error) {
	var obj *runtime.RemoteObject
	err := p.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		res, exc, err := runtime.Evaluate("document").WithObjectGroup(objectGroup).Do(c)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("evaluate document: %s", exc.Text)
		}
		obj = res
		return nil
	}))
	if err != nil {
		return nil, err
	}
	if obj == nil || obj.ObjectID == "" {
		return nil, ErrNotFound
	}
	return &chromeElement{page: p, id: obj.ObjectID}, nil
}

// chromeElement addresses a DOM node through its remote object id.
type chromeElement struct {
	page *chromePage
	id   runtime.RemoteObjectID
}

// call invokes fn on the element. With byValue the JSON result is decoded
// into out; otherwise the returned remote object is handed back.
func (e *chromeElement) call(ctx context.Context, fn string, byValue bool, out any) (*runtime.RemoteObject, error) {
	var obj *runtime.RemoteObject
	err := e.page.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		res, exc, err := runtime.CallFunctionOn(fn).
			WithObjectID(e.id).
			WithObjectGroup(objectGroup).
			WithReturnByValue(byValue).
			Do(c)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("script exception: %s", exc.Text)
		}
		obj = res
		return nil
	}))
	if err != nil {
		return nil, err
	}
	if byValue && out != nil && obj != nil && len(obj.Value) > 0 {
		if err := json.Unmarshal([]byte(obj.Value), out); err != nil {
			return nil, fmt.Errorf("decode script result: %w", err)
		}
	}
	return obj, nil
}

func (e *chromeElement) element(ctx context.Context, fn string) (Element, error) {
	obj, err := e.call(ctx, fn, false, nil)
	if err != nil {
		return nil, err
	}
	if obj == nil || obj.ObjectID == "" {
		return nil, ErrNotFound
	}
	return &chromeElement{page: e.page, id: obj.ObjectID}, nil
}

func (e *chromeElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	var val *string
	fn := fmt.Sprintf(`function() { return this.hasAttribute(%[1]s) ? this.getAttribute(%[1]s) : null; }`, jsString(name))
	if _, err := e.call(ctx, fn, true, &val); err != nil {
		return "", false, err
	}
	if val == nil {
		return "", false, nil
	}
	return *val, true, nil
}

func (e *chromeElement) InnerText(ctx context.Context) (string, error) {
	var text string
	_, err := e.call(ctx, `function() { return this.innerText || this.textContent || ""; }`, true, &text)
	return text, err
}

func (e *chromeElement) TagName(ctx context.Context) (string, error) {
	var tag string
	_, err := e.call(ctx, `function() { return (this.tagName || "").toLowerCase(); }`, true, &tag)
	return tag, err
}

func (e *chromeElement) Parent(ctx context.Context) (Element, error) {
	return e.element(ctx, `function() { return this.parentElement; }`)
}

func (e *chromeElement) Query(ctx context.Context, selector string) (Element, error) {
	return e.element(ctx, fmt.Sprintf(`function() { return this.querySelector(%s); }`, jsString(selector)))
}

func (e *chromeElement) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	var count int
	countFn := fmt.Sprintf(`function() { return this.querySelectorAll(%s).length; }`, jsString(selector))
	if _, err := e.call(ctx, countFn, true, &count); err != nil {
		return nil, err
	}

	out := make([]Element, 0, count)
	for i := 0; i < count; i++ {
		fn := fmt.Sprintf(`function() { return this.querySelectorAll(%s)[%d] || null; }`, jsString(selector), i)
		el, err := e.element(ctx, fn)
		if errors.Is(err, ErrNotFound) {
			// the DOM shrank between calls
			break
		}
		if err != nil {
			return out, err
		}
		out = append(out, el)
	}
	return out, nil
}

func (e *chromeElement) ComputedStyle(ctx context.Context, property string) (string, error) {
	var val string
	fn := fmt.Sprintf(`function() { return window.getComputedStyle(this).getPropertyValue(%s) || ""; }`, jsString(property))
	_, err := e.call(ctx, fn, true, &val)
	return val, err
}

func (e *chromeElement) Evaluate(ctx context.Context, function string, out any) error {
	_, err := e.call(ctx, function, true, out)
	return err
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// FindChromeBinary locates a Chrome/Chromium binary. CHROME_BIN wins; an
// empty result lets chromedp fall back to its own search.
func FindChromeBinary() string {
	if bin := strings.TrimSpace(os.Getenv("CHROME_BIN")); bin != "" {
		return bin
	}

	for _, name := range []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	for _, p := range []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
