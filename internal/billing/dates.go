package billing

import (
	"errors"
	"time"

	"github.com/vnmchuo/usage-tracker/internal/apperr"
)

const invalidDateMessage = "Invalid date format. Please use ISO format (YYYY-MM-DD or YYYY-MM-DDTHH:MM:SS)"

var errBadTimestamp = errors.New("unrecognised timestamp")

// Layouts without an offset are read as UTC.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// isoLayout matches the naive ISO-8601 form echoed back to callers.
const isoLayout = "2006-01-02T15:04:05"

// FormatISO renders t in UTC as YYYY-MM-DDTHH:MM:SS, with six fractional
// digits only when t has sub-second precision.
func FormatISO(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond()/int(time.Microsecond) != 0 {
		return t.Format(isoLayout + ".000000")
	}
	return t.Format(isoLayout)
}

// ParseTimestamp reads an ISO-8601 timestamp or a bare date. dateOnly
// reports the latter.
func ParseTimestamp(s string) (t time.Time, dateOnly bool, err error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), false, nil
		}
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, true, nil
	}
	return time.Time{}, false, errBadTimestamp
}

// Range is a validated query window. Both bounds are inclusive; a bare date
// is midnight UTC.
type Range struct {
	Start time.Time
	End   time.Time
	Days  int
}

// ParseRange validates a start/end pair.
func ParseRange(start, end string) (Range, error) {
	from, _, err := ParseTimestamp(start)
	if err != nil {
		return Range{}, apperr.Invalid("start_date", invalidDateMessage)
	}
	to, _, err := ParseTimestamp(end)
	if err != nil {
		return Range{}, apperr.Invalid("end_date", invalidDateMessage)
	}
	if to.Before(from) {
		return Range{}, apperr.Invalid("end_date", "end_date must not be before start_date")
	}

	return Range{Start: from, End: to, Days: int(to.Sub(from) / (24 * time.Hour))}, nil
}
