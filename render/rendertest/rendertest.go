// Package rendertest provides fault-injecting wrappers around render
// backends for tests.
package rendertest

import (
	"context"
	"errors"
	"sync/atomic"

	"car-scraper/render"
)

// ErrDetached is what a FaultyElement returns for reads.
var ErrDetached = errors.New("rendertest: node detached from document")

// FaultyElement behaves like a node that vanished after it was queried:
// attributes still resolve from the wrapped element but text and tree reads
// fail (or panic when Panic is set).
type FaultyElement struct {
	render.Element
	Panic bool
}

func (f *FaultyElement) InnerText(ctx context.Context) (string, error) {
	if f.Panic {
		panic("rendertest: innerText on detached node")
	}
	return "", ErrDetached
}

func (f *FaultyElement) Parent(ctx context.Context) (render.Element, error) {
	return nil, ErrDetached
}

// Page wraps a page so that anchors whose href satisfies Faulty come back
// as FaultyElements from QueryAll.
type Page struct {
	render.Page
	Faulty func(href string) bool
	Panic  bool

	onClose func()
}

func (p *Page) QueryAll(ctx context.Context, selector string) ([]render.Element, error) {
	els, err := p.Page.QueryAll(ctx, selector)
	if err != nil || p.Faulty == nil {
		return els, err
	}
	for i, el := range els {
		href, ok, err := el.Attribute(ctx, "href")
		if err == nil && ok && p.Faulty(href) {
			els[i] = &FaultyElement{Element: el, Panic: p.Panic}
		}
	}
	return els, nil
}

func (p *Page) Close() error {
	if p.onClose != nil {
		p.onClose()
	}
	return p.Page.Close()
}

// Launcher wraps another launcher, injecting faults into its pages and
// counting sessions so tests can check every Open is paired with a Close.
type Launcher struct {
	Inner  render.Launcher
	Faulty func(href string) bool
	Panic  bool
	// Err, when set, is returned from Open instead of a page.
	Err error

	opened atomic.Int32
	closed atomic.Int32
}

func (l *Launcher) Open(ctx context.Context) (render.Page, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	page, err := l.Inner.Open(ctx)
	if err != nil {
		return nil, err
	}
	l.opened.Add(1)
	return &Page{
		Page:    page,
		Faulty:  l.Faulty,
		Panic:   l.Panic,
		onClose: func() { l.closed.Add(1) },
	}, nil
}

// Opened returns how many sessions were opened.
func (l *Launcher) Opened() int { return int(l.opened.Load()) }

// Closed returns how many sessions were closed.
func (l *Launcher) Closed() int { return int(l.closed.Load()) }
