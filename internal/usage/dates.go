package usage

import (
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/coxstatus/internal/errs"
)

const lastUpdatePrefix = "usage as of"

// ResolveYear picks the year of a bare month relative to pivot. December seen
// in January belongs to the previous year and January seen in December to the
// next; anything else is in the pivot's year.
func ResolveYear(month time.Month, pivot time.Time) int {
	switch {
	case month == time.December && pivot.Month() == time.January:
		return pivot.Year() - 1
	case month == time.January && pivot.Month() == time.December:
		return pivot.Year() + 1
	default:
		return pivot.Year()
	}
}

// ParseMonthDay parses "June 1", "Jun 1", "6/1" or "06/01" into a date in the
// pivot's location, with the year chosen by ResolveYear. A "6/1/24" form with
// an explicit year is taken as is.
func ParseMonthDay(s string, pivot time.Time) (time.Time, error) {
	raw := s
	s = strings.TrimSpace(s)

	var (
		month time.Month
		day   int
		year  = -1
		err   error
	)

	if strings.Contains(s, "/") {
		month, day, year, err = parseNumericDate(s)
	} else {
		month, day, err = parseTextDate(s)
	}
	if err != nil {
		return time.Time{}, errs.Wrap(errs.KindParse, "usage.date", "unparseable date "+strconv.Quote(raw), err)
	}

	if year < 0 {
		year = ResolveYear(month, pivot)
	}

	date := time.Date(year, month, day, 0, 0, 0, 0, pivot.Location())
	if date.Month() != month || date.Day() != day {
		return time.Time{}, errs.Newf(errs.KindParse, "usage.date", "date %q does not exist", raw)
	}
	return date, nil
}

func parseNumericDate(s string) (time.Month, int, int, error) {
	parts := strings.Split(s, "/")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, 0, errs.New(errs.KindParse, "usage.date", "expected month/day")
	}

	m, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || m < 1 || m > 12 {
		return 0, 0, 0, errs.Newf(errs.KindParse, "usage.date", "invalid month %q", parts[0])
	}
	d, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, 0, errs.Newf(errs.KindParse, "usage.date", "invalid day %q", parts[1])
	}

	year := -1
	if len(parts) == 3 {
		year, err = strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil || year < 0 {
			return 0, 0, 0, errs.Newf(errs.KindParse, "usage.date", "invalid year %q", parts[2])
		}
		if year < 100 {
			year += 2000
		}
	}
	return time.Month(m), d, year, nil
}

func parseTextDate(s string) (time.Month, int, error) {
	fields := strings.Fields(strings.ReplaceAll(s, ",", " "))
	if len(fields) != 2 {
		return 0, 0, errs.New(errs.KindParse, "usage.date", "expected <month> <day>")
	}

	month, ok := lookupMonth(fields[0])
	if !ok {
		return 0, 0, errs.Newf(errs.KindParse, "usage.date", "unknown month %q", fields[0])
	}
	day, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, errs.Newf(errs.KindParse, "usage.date", "invalid day %q", fields[1])
	}
	return month, day, nil
}

// lookupMonth accepts full names and abbreviations of at least three letters
// ("Sep", "Sept", "September").
func lookupMonth(name string) (time.Month, bool) {
	name = strings.ToLower(strings.TrimSuffix(name, "."))
	if len(name) < 3 {
		return 0, false
	}
	for m := time.January; m <= time.December; m++ {
		if strings.HasPrefix(strings.ToLower(m.String()), name) {
			return m, true
		}
	}
	return 0, false
}

// ParseCycle splits "<Month> <Day> - <Month> <Day>" into its start and end dates.
func ParseCycle(s string, pivot time.Time) (time.Time, time.Time, error) {
	startRaw, endRaw, ok := strings.Cut(s, "-")
	if !ok {
		return time.Time{}, time.Time{}, errs.Newf(errs.KindParse, "usage.cycle", "malformed usage cycle %q", s)
	}

	start, err := ParseMonthDay(startRaw, pivot)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := ParseMonthDay(endRaw, pivot)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// ParseLastUpdate parses "Usage as of <Month> <Day>".
func ParseLastUpdate(s string, pivot time.Time) (time.Time, error) {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) >= len(lastUpdatePrefix) && strings.EqualFold(trimmed[:len(lastUpdatePrefix)], lastUpdatePrefix) {
		trimmed = trimmed[len(lastUpdatePrefix):]
	}
	return ParseMonthDay(trimmed, pivot)
}

// truncateDay returns midnight of t's calendar date.
func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// daysBetween counts calendar days from a to b, ignoring DST shifts.
func daysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
