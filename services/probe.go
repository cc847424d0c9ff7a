package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"car-scraper/render"
	"car-scraper/scraper/willhaben"
	"car-scraper/utils"
)

const probeSampleLength = 500

var probeSelectors = []string{
	willhaben.ResultSelector,
	".search-result-entry",
	"article",
	`[class*="SearchResult"]`,
	`[class*="search"]`,
	`a[href*="/iad/"]`,
}

// SelectorCount is how many elements one selector matched.
type SelectorCount struct {
	Selector string `json:"selector"`
	Count    int    `json:"count"`
}

// ProbeReport describes what a rendering session saw at a URL.
type ProbeReport struct {
	URL              string          `json:"url"`
	Status           string          `json:"status"`
	Steps            []string        `json:"steps"`
	PageTitle        string          `json:"page_title,omitempty"`
	ResultsVisible   bool            `json:"results_visible"`
	Selectors        []SelectorCount `json:"selectors"`
	HTMLSample       string          `json:"html_sample,omitempty"`
	HTMLLength       int             `json:"html_length"`
	ScreenshotBase64 string          `json:"screenshot_base64,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// Prober opens a session, loads one URL and reports selector hits. It is a
// diagnostic for when discovery suddenly finds nothing.
type Prober struct {
	launcher   render.Launcher
	load       render.LoadOptions
	defaultURL string
	logger     *utils.Logger
}

func NewProber(launcher render.Launcher, defaultURL string, load render.LoadOptions, logger *utils.Logger) *Prober {
	if defaultURL == "" {
		defaultURL = willhaben.DefaultSearchURL
	}
	if load.WaitSelector == "" {
		load.WaitSelector = willhaben.ResultSelector
	}
	return &Prober{launcher: launcher, load: load, defaultURL: defaultURL, logger: logger.With("component", "probe")}
}

// Probe never returns a nil report; err is set when the page could not be
// opened or loaded, and the report says how far it got.
func (p *Prober) Probe(ctx context.Context, url string) (*ProbeReport, error) {
	if strings.TrimSpace(url) == "" {
		url = p.defaultURL
	}
	r := &ProbeReport{URL: url, Status: "running", Steps: []string{}, Selectors: []SelectorCount{}}
	fail := func(err error) (*ProbeReport, error) {
		r.Status = "failed"
		r.Error = err.Error()
		p.logger.Warn("[probe] %s failed: %v", url, err)
		return r, err
	}

	page, err := p.launcher.Open(ctx)
	if err != nil {
		return fail(fmt.Errorf("open session: %w", err))
	}
	defer func() {
		if err := page.Close(); err != nil {
			p.logger.Warn("[probe] closing session: %v", err)
		}
	}()
	r.step("Session opened")

	r.step("Navigating to %s", url)
	loaded, err := render.Load(ctx, page, url, p.load, p.logger)
	if err != nil {
		return fail(err)
	}
	r.ResultsVisible = loaded.ResultsVisible
	r.step("Navigation complete, results visible: %v", loaded.ResultsVisible)

	if el, err := page.Query(ctx, "title"); err == nil {
		if title, err := el.InnerText(ctx); err == nil {
			r.PageTitle = strings.TrimSpace(title)
			r.step("Page title: %s", r.PageTitle)
		}
	}

	for _, sel := range probeSelectors {
		els, err := page.QueryAll(ctx, sel)
		if err != nil {
			r.step("Selector %q: %v", sel, err)
			continue
		}
		r.Selectors = append(r.Selectors, SelectorCount{Selector: sel, Count: len(els)})
		r.step("Selector %q: %d elements found", sel, len(els))
	}

	if content, err := page.Content(ctx); err == nil {
		r.HTMLLength = len(content)
		r.HTMLSample = content
		if len(content) > probeSampleLength {
			r.HTMLSample = content[:probeSampleLength]
		}
	}

	shot, err := page.Screenshot(ctx)
	switch {
	case err == nil:
		r.ScreenshotBase64 = base64.StdEncoding.EncodeToString(shot)
		r.step("Screenshot captured (%d bytes)", len(shot))
	case errors.Is(err, render.ErrUnsupported):
		r.step("Screenshot not available with this renderer")
	default:
		r.step("Screenshot failed: %v", err)
	}

	r.Status = "completed"
	p.logger.Info("[probe] %s: %d selectors checked, %d bytes of markup", url, len(r.Selectors), r.HTMLLength)
	return r, nil
}

func (r *ProbeReport) step(format string, args ...any) {
	r.Steps = append(r.Steps, fmt.Sprintf(format, args...))
}
