package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Document is one fetched copy of the ministry page.
type Document struct {
	URL         string
	Body        []byte
	FetchedAt   time.Time
	ContentHash string // hex SHA-256 of Body
}

// DateLayout is the ISO 8601 calendar date format of the time-series files.
const DateLayout = "2006-01-02"

// reportDateRe finds a German dd.mm.yyyy date, e.g. "(Stand 01.04.2020, 09:30 Uhr)".
var reportDateRe = regexp.MustCompile(`(\d{1,2})\.\s?(\d{1,2})\.\s?(\d{4})`)

// parenRe captures the contents of each parenthesised fragment.
var parenRe = regexp.MustCompile(`\(([^()]*)\)`)

// NewDate returns midnight UTC of the given calendar day.
func NewDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders a report date in ISO form.
func FormatDate(t time.Time) string { return t.Format(DateLayout) }

// ParseDate parses an ISO calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// FindReportDate extracts the first dd.mm.yyyy date that appears inside a
// parenthesised fragment of text. It returns false when none is present or
// the date does not exist on the calendar.
func FindReportDate(text string) (time.Time, bool) {
	for _, frag := range parenRe.FindAllStringSubmatch(text, -1) {
		m := reportDateRe.FindStringSubmatch(frag[1])
		if m == nil {
			continue
		}
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		t := NewDate(year, time.Month(month), day)
		// time.Date normalizes 31.02 to 03.03; reject instead.
		if t.Day() != day || int(t.Month()) != month {
			continue
		}
		return t, true
	}
	return time.Time{}, false
}
