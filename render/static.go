package render

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// StaticLauncher fetches pages over plain HTTP and parses them with goquery.
// Nothing is executed, so client-rendered markup is not visible to it.
type StaticLauncher struct {
	Client    *http.Client
	UserAgent string
}

// NewStaticLauncher creates a launcher using client, or a default client
// with a 30s timeout when nil.
func NewStaticLauncher(client *http.Client) *StaticLauncher {
	if client == nil {
		client = defaultClient
	}
	return &StaticLauncher{Client: client, UserAgent: defaultUserAgent}
}

func (l *StaticLauncher) Open(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client := l.Client
	if client == nil {
		client = defaultClient
	}
	ua := l.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &staticPage{client: client, userAgent: ua}, nil
}

// NewStaticPage wraps already fetched markup as a Page.
func NewStaticPage(pageURL, markup string) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	return &staticPage{client: defaultClient, userAgent: defaultUserAgent, doc: doc, url: pageURL}, nil
}

type staticPage struct {
	client    *http.Client
	userAgent string

	mu  sync.RWMutex
	doc *goquery.Document
	url string
}

func (p *staticPage) Navigate(ctx context.Context, url string) error {
	body, final, err := fetchUTF8(ctx, p.client, url, p.userAgent)
	if err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return fmt.Errorf("parse %s: %w", url, err)
	}
	p.mu.Lock()
	p.doc, p.url = doc, final
	p.mu.Unlock()
	return nil
}

func (p *staticPage) document() (*goquery.Document, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.doc == nil {
		return nil, fmt.Errorf("%w: no document loaded", ErrNotFound)
	}
	return p.doc, nil
}

// WaitFor cannot wait for anything; the selector is either there or not.
func (p *staticPage) WaitFor(ctx context.Context, selector string) error {
	doc, err := p.document()
	if err != nil {
		return err
	}
	if doc.Find(selector).Length() == 0 {
		return fmt.Errorf("%w: %q not present", ErrTimeout, selector)
	}
	return nil
}

func (p *staticPage) Query(ctx context.Context, selector string) (Element, error) {
	doc, err := p.document()
	if err != nil {
		return nil, err
	}
	return first(doc.Selection, selector)
}

func (p *staticPage) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	doc, err := p.document()
	if err != nil {
		return nil, err
	}
	return all(doc.Selection, selector), nil
}

func (p *staticPage) Evaluate(ctx context.Context, script string, out any) error {
	return ErrUnsupported
}

func (p *staticPage) Screenshot(ctx context.Context) ([]byte, error) {
	return nil, ErrUnsupported
}

func (p *staticPage) Content(ctx context.Context) (string, error) {
	doc, err := p.document()
	if err != nil {
		return "", err
	}
	return doc.Html()
}

func (p *staticPage) URL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.url
}

func (p *staticPage) Close() error { return nil }

func first(sel *goquery.Selection, selector string) (Element, error) {
	found := sel.Find(selector).First()
	if found.Length() == 0 {
		return nil, ErrNotFound
	}
	return &staticElement{sel: found}, nil
}

func all(sel *goquery.Selection, selector string) []Element {
	found := sel.Find(selector)
	out := make([]Element, 0, found.Length())
	found.Each(func(_ int, s *goquery.Selection) {
		out = append(out, &staticElement{sel: s})
	})
	return out
}

// staticElement wraps a single-node goquery selection.
type staticElement struct {
	sel *goquery.Selection
}

func (e *staticElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	val, ok := e.sel.Attr(name)
	return val, ok, nil
}

func (e *staticElement) InnerText(ctx context.Context) (string, error) {
	if len(e.sel.Nodes) == 0 {
		return "", ErrNotFound
	}
	return innerText(e.sel.Nodes[0]), nil
}

func (e *staticElement) TagName(ctx context.Context) (string, error) {
	return strings.ToLower(goquery.NodeName(e.sel)), nil
}

func (e *staticElement) Parent(ctx context.Context) (Element, error) {
	parent := e.sel.Parent()
	if parent.Length() == 0 {
		return nil, ErrNotFound
	}
	return &staticElement{sel: parent}, nil
}

func (e *staticElement) Query(ctx context.Context, selector string) (Element, error) {
	return first(e.sel, selector)
}

func (e *staticElement) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	return all(e.sel, selector), nil
}

// ComputedStyle only sees inline style declarations.
func (e *staticElement) ComputedStyle(ctx context.Context, property string) (string, error) {
	style, ok := e.sel.Attr("style")
	if !ok {
		return "", nil
	}
	return inlineStyle(style, property), nil
}

func (e *staticElement) Evaluate(ctx context.Context, function string, out any) error {
	return ErrUnsupported
}

func inlineStyle(style, property string) string {
	property = strings.ToLower(strings.TrimSpace(property))
	for _, decl := range splitDeclarations(style) {
		name, value, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		if strings.ToLower(strings.TrimSpace(name)) == property {
			return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(value), "!important"))
		}
	}
	return ""
}

// splitDeclarations splits on ';' outside parentheses so url(...) values
// carrying semicolons survive.
func splitDeclarations(style string) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range style {
		switch r {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ';':
			if depth == 0 {
				out = append(out, style[start:i])
				start = i + 1
			}
		}
	}
	return append(out, style[start:])
}

var blockTags = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "br": true,
	"dd": true, "div": true, "dl": true, "dt": true, "figcaption": true, "figure": true,
	"footer": true, "form": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"h6": true, "header": true, "hr": true, "li": true, "main": true, "nav": true, "ol": true,
	"p": true, "pre": true, "section": true, "table": true, "tr": true, "ul": true,
}

// innerText approximates the browser's rendering of element text: block
// elements start new lines, whitespace runs collapse and blank lines vanish.
func innerText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			}
		}
		block := n.Type == html.ElementNode && blockTags[n.Data]
		if block {
			b.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			b.WriteByte('\n')
		}
	}
	walk(n)

	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
