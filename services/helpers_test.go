package services

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"car-scraper/models"
	"car-scraper/render"
	"car-scraper/render/rendertest"
)

const searchPath = "/iad/gebrauchtwagen/auto/gebrauchtwagenboerse"

type card struct {
	id, title, price string
}

// searchPage renders a minimal result list with one article per card.
func searchPage(cards ...card) string {
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><head><meta charset="utf-8"></head><body><main>`)
	b.WriteString(`<a href="/iad/gebrauchtwagen/auto/gebrauchtwagenboerse?page=2">Weiter</a>`)
	for _, c := range cards {
		fmt.Fprintf(&b, `
<article data-testid="search-result-entry">
  <a href="/iad/gebrauchtwagen/d/auto/inserat-%s/"><img src="https://cache.willhaben.at/mmo/%s.jpg" alt="">%s</a>
  <p>€ %s</p>
  <p>1010 Wien</p>
</article>`, c.id, c.id, c.title, c.price)
	}
	b.WriteString(`</main></body></html>`)
	return b.String()
}

func numberedCards(first, n int) []card {
	out := make([]card, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, card{
			id:    fmt.Sprintf("%d", first+i),
			title: fmt.Sprintf("Volkswagen Golf %d", i+1),
			price: fmt.Sprintf("%d.990", 5+i),
		})
	}
	return out
}

// siteServer serves whatever markup is current for every path under /iad/.
type siteServer struct {
	*httptest.Server
	mu     sync.Mutex
	pages  map[string]string
	status int
}

func newSiteServer(t *testing.T) *siteServer {
	t.Helper()
	s := &siteServer{pages: make(map[string]string), status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		body, ok := s.pages[r.URL.Path]
		status := s.status
		s.mu.Unlock()
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *siteServer) set(path, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[path] = body
}

func (s *siteServer) fail(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *siteServer) launcher() *rendertest.Launcher {
	return &rendertest.Launcher{Inner: render.NewStaticLauncher(s.Client())}
}

func storedListing(id string, seen time.Time) *models.Listing {
	return &models.Listing{
		ID:          id,
		Title:       "Opel Corsa " + id,
		Price:       &models.Price{Amount: decimal.NewFromInt(3000), Currency: models.DefaultCurrency},
		DetailURL:   "https://www.willhaben.at/iad/gebrauchtwagen/d/auto/inserat-" + id + "/",
		ImageRefs:   []string{},
		FirstSeenAt: seen,
		LastSeenAt:  seen,
		Active:      true,
	}
}
