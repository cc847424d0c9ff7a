package extract

import (
	"regexp"
	"strconv"
	"strings"
)

var mileageRegexp = regexp.MustCompile(
	`(?i)\b(\d{1,3}(?:\.\d{3})+|\d+)[ \t\x{00a0}]*km\b`)

// Mileage returns the kilometre count of the first "<number> km" token.
func Mileage(text string) (int, bool) {
	m := mileageRegexp.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, m[1])
	km, err := strconv.Atoi(digits)
	if err != nil || km < 0 {
		return 0, false
	}
	return km, true
}
