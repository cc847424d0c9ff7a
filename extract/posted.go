package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// SiteTimeZone is the zone absolute timestamps on the site are written in.
const SiteTimeZone = "Europe/Vienna"

var (
	labelRegexp = regexp.MustCompile(
		`(?i)(?:zuletzt geändert|letzte änderung|erstellt|veröffentlicht)(?:\s+am)?\s*:?\s*`)
	relativeRegexp = regexp.MustCompile(
		`(?i)\bvor\s+(\d+)\s+(minuten?|min\.?|stunden?|std\.?|tag(?:en)?|wochen?)\b`)
	justNowRegexp   = regexp.MustCompile(`(?i)\bgerade\s+eben\b`)
	todayRegexp     = regexp.MustCompile(`(?i)\bheute\b(?:\s*,?\s*(?:um\s+)?(\d{1,2}):(\d{2}))?`)
	yesterdayRegexp = regexp.MustCompile(`(?i)\bgestern\b(?:\s*,?\s*(?:um\s+)?(\d{1,2}):(\d{2}))?`)
	absoluteRegexp  = regexp.MustCompile(`\b(\d{1,2})\.(\d{1,2})\.(\d{4})\b(?:\s*,?\s*(?:um\s+)?(\d{1,2}):(\d{2}))?`)
)

// TimeParser turns localized posting timestamps into absolute times.
// Offset is a calibration added to every parsed result.
type TimeParser struct {
	Location *time.Location
	Offset   time.Duration
}

// NewTimeParser creates a parser in the site's zone with the given offset.
// It falls back to UTC if the zone database is unavailable.
func NewTimeParser(offset time.Duration) *TimeParser {
	loc, err := time.LoadLocation(SiteTimeZone)
	if err != nil {
		loc = time.UTC
	}
	return &TimeParser{Location: loc, Offset: offset}
}

// Parse returns the posting time described in text relative to now.
// Labelled timestamps take priority over relative phrases, which take
// priority over bare dates.
func (p *TimeParser) Parse(text string, now time.Time) (time.Time, bool) {
	if text == "" {
		return time.Time{}, false
	}
	if t, ok := p.parseLabelled(text, now); ok {
		return t.Add(p.Offset), true
	}
	if t, ok := p.parseRelative(text, now); ok {
		return t.Add(p.Offset), true
	}
	if t, ok := p.parseAbsolute(text); ok {
		return t.Add(p.Offset), true
	}
	return time.Time{}, false
}

func (p *TimeParser) parseLabelled(text string, now time.Time) (time.Time, bool) {
	for _, idx := range labelRegexp.FindAllStringIndex(text, -1) {
		rest := firstLineOf(text[idx[1]:])
		if t, ok := p.parseRelative(rest, now); ok {
			return t, true
		}
		if t, ok := p.parseAbsolute(rest); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func (p *TimeParser) parseRelative(text string, now time.Time) (time.Time, bool) {
	loc := p.location()

	if m := relativeRegexp.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, false
		}
		unit := strings.ToLower(m[2])
		switch {
		case strings.HasPrefix(unit, "min"):
			return now.Add(-time.Duration(n) * time.Minute), true
		case strings.HasPrefix(unit, "st"):
			return now.Add(-time.Duration(n) * time.Hour), true
		case strings.HasPrefix(unit, "tag"):
			return now.AddDate(0, 0, -n), true
		case strings.HasPrefix(unit, "woche"):
			return now.AddDate(0, 0, -7*n), true
		}
	}

	if justNowRegexp.MatchString(text) {
		return now, true
	}

	if m := todayRegexp.FindStringSubmatch(text); m != nil {
		if m[1] == "" {
			return now, true
		}
		return atClock(now.In(loc), 0, m[1], m[2])
	}

	if m := yesterdayRegexp.FindStringSubmatch(text); m != nil {
		if m[1] == "" {
			return now.AddDate(0, 0, -1), true
		}
		return atClock(now.In(loc), -1, m[1], m[2])
	}

	return time.Time{}, false
}

func (p *TimeParser) parseAbsolute(text string) (time.Time, bool) {
	m := absoluteRegexp.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	hour, minute := 0, 0
	if m[4] != "" {
		hour, _ = strconv.Atoi(m[4])
		minute, _ = strconv.Atoi(m[5])
	}
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, p.location())
	if t.Day() != day {
		// 31.02. and friends normalise into the next month
		return time.Time{}, false
	}
	return t, true
}

func (p *TimeParser) location() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

func atClock(day time.Time, dayOffset int, hh, mm string) (time.Time, bool) {
	hour, err1 := strconv.Atoi(hh)
	minute, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil || hour > 23 || minute > 59 {
		return time.Time{}, false
	}
	d := day.AddDate(0, 0, dayOffset)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, day.Location()), true
}

func firstLineOf(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
