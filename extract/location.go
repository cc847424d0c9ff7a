package extract

import (
	"regexp"
	"strings"
)

// postal code followed by a capitalised city name run at the end of a line,
// e.g. "4020 Linz", "2700 Wiener Neustadt", "5700 Zell am See".
var locationRegexp = regexp.MustCompile(
	`(?m)(?:^|[\s,])(\d{4})[ \t]+(\p{Lu}[\p{L}.'\-]*(?:[ \t]+[\p{L}.'\-]+)*)[ \t\r]*$`)

// Card lines such as "2019 Diesel" have the same shape as a location.
var vehicleWords = map[string]bool{
	"diesel": true, "benzin": true, "elektro": true, "hybrid": true,
	"erdgas": true, "autogas": true, "lpg": true, "cng": true,
	"automatik": true, "schaltgetriebe": true, "schaltung": true, "manuell": true,
	"allrad": true, "km": true, "ps": true, "kw": true,
}

// Location returns "<postal code> <city>" from the last line ending in one.
func Location(text string) (string, bool) {
	m := locationMatch(text)
	if m == nil {
		return "", false
	}
	return text[m[2]:m[3]] + " " + NormalizeText(text[m[4]:m[5]]), true
}

// locationMatch returns the submatch indices of the location Location picks,
// or nil.
func locationMatch(text string) []int {
	all := locationRegexp.FindAllStringSubmatchIndex(text, -1)
	for i := len(all) - 1; i >= 0; i-- {
		m := all[i]
		first := strings.Fields(text[m[4]:m[5]])[0]
		if vehicleWords[strings.ToLower(strings.Trim(first, ".'-"))] {
			continue
		}
		return m
	}
	return nil
}

// postalSpans returns the postal code span of the chosen location.
func postalSpans(text string) [][]int {
	if m := locationMatch(text); m != nil {
		return [][]int{{m[2], m[3]}}
	}
	return nil
}
