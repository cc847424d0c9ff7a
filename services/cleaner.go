package services

import (
	"strings"

	"car-scraper/extract"
	"car-scraper/models"
	"car-scraper/utils"
)

// Cleaner validates and normalises assembled listings before they reach
// the store. Records are deduplicated by id; the first occurrence wins.
type Cleaner struct {
	logger *utils.Logger
}

// NewCleaner creates a Cleaner with the given logger.
func NewCleaner(logger *utils.Logger) *Cleaner {
	return &Cleaner{logger: logger}
}

// Clean returns the cleaned batch in input order.
func (c *Cleaner) Clean(batch []*models.Listing) []*models.Listing {
	seen := utils.NewIDSet()
	result := make([]*models.Listing, 0, len(batch))

	for _, l := range batch {
		if l == nil {
			continue
		}
		id := strings.TrimSpace(l.ID)
		if id == "" || strings.TrimSpace(l.DetailURL) == "" {
			c.logger.Warn("[cleaner] Dropping listing without id or url: %q", l.Title)
			continue
		}
		if !seen.Add(id) {
			c.logger.Debug("[cleaner] Duplicate id skipped: %s", id)
			continue
		}

		out := l.Clone()
		out.ID = id
		out.DetailURL = strings.TrimSpace(l.DetailURL)
		out.Title = extract.Truncate(extract.NormalizeText(l.Title), models.MaxTitleLength)
		if out.Title == "" {
			out.Title = "Listing " + id
		}
		out.Description = extract.Truncate(extract.NormalizeText(l.Description), models.MaxDescriptionLength)
		out.Brand = normaliseOptional(l.Brand)
		out.Model = normaliseOptional(l.Model)
		out.Location = normaliseOptional(l.Location)
		if out.Mileage != nil && *out.Mileage < 0 {
			out.Mileage = nil
		}
		if out.Price != nil && out.Price.Amount.IsNegative() {
			out.Price = nil
		}
		out.ImageRefs = normaliseImageRefs(l.ImageRefs)

		result = append(result, out)
	}

	c.logger.Info("[cleaner] Cleaned %d → %d listings (dropped %d)",
		len(batch), len(result), len(batch)-len(result))
	return result
}

func normaliseOptional(s *string) *string {
	if s == nil {
		return nil
	}
	return models.StringPtr(extract.NormalizeText(*s))
}

// normaliseImageRefs drops blanks and duplicates and applies the cap.
func normaliseImageRefs(refs []string) []string {
	out := make([]string, 0, len(refs))
	seen := make(map[string]struct{}, len(refs))
	for _, r := range refs {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
		if len(out) == models.MaxImageRefs {
			break
		}
	}
	return out
}
