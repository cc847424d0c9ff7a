package extract

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultBrands are the makes recognised in listing titles. Spelling here is
// what BrandModel returns.
var DefaultBrands = []string{
	"Alfa Romeo", "Aston Martin", "Audi", "Bentley", "BMW", "BYD", "Cadillac", "Chevrolet",
	"Chrysler", "Citroën", "Cupra", "Dacia", "Daihatsu", "Dodge", "DS", "Ferrari", "Fiat",
	"Ford", "Honda", "Hyundai", "Infiniti", "Isuzu", "Iveco", "Jaguar", "Jeep", "Kia", "Lada",
	"Lamborghini", "Lancia", "Land Rover", "Lexus", "Maserati", "Mazda", "McLaren",
	"Mercedes-Benz", "Mercedes", "MG", "Mini", "Mitsubishi", "Nissan", "Opel", "Peugeot",
	"Polestar", "Porsche", "Renault", "Rolls-Royce", "Saab", "Seat", "Skoda", "Smart",
	"SsangYong", "Subaru", "Suzuki", "Tesla", "Toyota", "Volvo", "VW", "Volkswagen",
}

type catalogEntry struct {
	canonical string
	tokens    []string
}

// Catalog matches brand names in titles, ignoring case and diacritics.
type Catalog struct {
	entries []catalogEntry
}

// NewCatalog builds a catalog over the given brand spellings.
func NewCatalog(brands []string) *Catalog {
	c := &Catalog{}
	for _, b := range brands {
		tokens := tokenize(b)
		if len(tokens) == 0 {
			continue
		}
		folded := make([]string, len(tokens))
		for i, t := range tokens {
			folded[i] = fold(t)
		}
		c.entries = append(c.entries, catalogEntry{canonical: b, tokens: folded})
	}
	// longest brand first so it wins ties at the same position
	sort.SliceStable(c.entries, func(i, j int) bool {
		return len(c.entries[i].tokens) > len(c.entries[j].tokens)
	})
	return c
}

var defaultCatalog = NewCatalog(DefaultBrands)

// BrandModel derives brand and model from a title using the default catalog.
func BrandModel(title string) (brand, model string, ok bool) {
	return defaultCatalog.BrandModel(title)
}

// BrandModel returns the canonical brand of the earliest catalog match in
// title and the following token as model. ok is false when no brand is
// found; model is empty when the brand is the last token.
func (c *Catalog) BrandModel(title string) (brand, model string, ok bool) {
	words := strings.Fields(title)
	folded := make([]string, len(words))
	for i, w := range words {
		folded[i] = fold(trimPunct(w))
	}

	for pos := range words {
		for _, e := range c.entries {
			if !e.matchAt(folded, pos) {
				continue
			}
			next := pos + len(e.tokens)
			if next < len(words) {
				model = trimPunct(words[next])
			}
			return e.canonical, model, true
		}
	}
	return "", "", false
}

func (e catalogEntry) matchAt(folded []string, pos int) bool {
	if pos+len(e.tokens) > len(folded) {
		return false
	}
	for i, t := range e.tokens {
		if folded[pos+i] != t {
			return false
		}
	}
	return true
}

// tokenize splits a brand name on spaces only; hyphenated names stay whole.
func tokenize(s string) []string {
	return strings.Fields(s)
}

func fold(s string) string {
	// transformers carry state, so each call builds its own chain
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

func trimPunct(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
