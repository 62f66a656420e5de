// Package validate normalizes free-form receipt dates and checks them
// against the validity window.
package validate

import (
	"strings"
	"time"
)

// MaxAgeDays is the accepted look-back window. Receipts are near-term
// artifacts: a date outside the window is more likely a misread than a true
// business fact, and silently accepting it would corrupt downstream
// analytics.
const MaxAgeDays = 365

// dateLayouts covers the formats extractors actually emit, most specific
// first. Day-first layouts outrank month-first: the service's receipts skew
// toward locales that print DD/MM/YYYY.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"01/02/2006",
	"2/1/2006",
	"02/01/06",
	"Jan 2, 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"2006-01-02T15:04:05Z07:00",
}

// PurchaseDate parses a free-form date expression and accepts it only inside
// the validity window: not after now, not more than MaxAgeDays in the past.
// The second return is false when parsing fails or the window check rejects
// the date; callers surface that as an absent purchase date, not an error.
func PurchaseDate(raw string, now time.Time) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}

	var parsed time.Time
	ok := false
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			parsed = t
			ok = true
			break
		}
	}
	if !ok {
		return time.Time{}, false
	}

	// Window comparison at calendar-day granularity; the time of day the
	// job happens to run must not shift the boundary.
	day := truncateToDay(parsed)
	today := truncateToDay(now)
	if day.After(today) {
		return time.Time{}, false
	}
	if day.Before(today.AddDate(0, 0, -MaxAgeDays)) {
		return time.Time{}, false
	}
	return day, true
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
