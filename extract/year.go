package extract

import (
	"regexp"
	"strconv"
	"time"
)

// MinPlausibleYear is the oldest first-registration year accepted.
const MinPlausibleYear = 1990

var (
	// labelled registration years: "Baujahr 2021", "EZ 03/2019", "Erstzulassung: 05.2018"
	labelledYearRegexp = regexp.MustCompile(
		`(?i)\b(?:Baujahr|Erstzulassung|EZ)\b[:\s]*(?:\d{1,2}[./])?(?:\d{1,2}[./])?(\d{4})\b`)
	bareYearRegexp = regexp.MustCompile(`\b(\d{4})\b`)
	dateRegexp     = regexp.MustCompile(`\b\d{1,2}\.\d{1,2}\.\d{4}\b`)
)

// Year returns the vehicle year found in text. Labelled tokens are tried
// first, then bare four-digit tokens that are not part of a DD.MM.YYYY date
// or the postal code Location picks. The first token in [1990, year(now)+1] wins.
func Year(text string, now time.Time) (int, bool) {
	maxYear := now.Year() + 1

	for _, m := range labelledYearRegexp.FindAllStringSubmatch(text, -1) {
		if y, err := strconv.Atoi(m[1]); err == nil && y >= MinPlausibleYear && y <= maxYear {
			return y, true
		}
	}

	excluded := dateRegexp.FindAllStringIndex(text, -1)
	excluded = append(excluded, postalSpans(text)...)

	for _, idx := range bareYearRegexp.FindAllStringSubmatchIndex(text, -1) {
		start, end := idx[2], idx[3]
		if overlaps(start, end, excluded) {
			continue
		}
		y, err := strconv.Atoi(text[start:end])
		if err != nil || y < 1900 || y > 2099 {
			continue
		}
		if y >= MinPlausibleYear && y <= maxYear {
			return y, true
		}
	}
	return 0, false
}

func overlaps(start, end int, spans [][]int) bool {
	for _, s := range spans {
		if start < s[1] && s[0] < end {
			return true
		}
	}
	return false
}
