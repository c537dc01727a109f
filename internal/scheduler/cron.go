package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cronSchedule is a parsed 5-field cron expression: minute hour
// day-of-month month day-of-week. Each field is one of "*", a
// comma-separated list, or a "*/N" step; that is every form the job
// catalog needs.
type cronSchedule struct {
	minute     fieldMatcher
	hour       fieldMatcher
	dayOfMonth fieldMatcher
	month      fieldMatcher
	dayOfWeek  fieldMatcher
}

type fieldMatcher func(v int) bool

func parseCron(expr string) (cronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return cronSchedule{}, fmt.Errorf("cron expression %q: expected 5 fields, got %d", expr, len(fields))
	}

	minute, err := parseField(fields[0], 0, 59)
	if err != nil {
		return cronSchedule{}, fmt.Errorf("minute field: %w", err)
	}
	hour, err := parseField(fields[1], 0, 23)
	if err != nil {
		return cronSchedule{}, fmt.Errorf("hour field: %w", err)
	}
	dom, err := parseField(fields[2], 1, 31)
	if err != nil {
		return cronSchedule{}, fmt.Errorf("day-of-month field: %w", err)
	}
	month, err := parseField(fields[3], 1, 12)
	if err != nil {
		return cronSchedule{}, fmt.Errorf("month field: %w", err)
	}
	dow, err := parseField(fields[4], 0, 6)
	if err != nil {
		return cronSchedule{}, fmt.Errorf("day-of-week field: %w", err)
	}

	return cronSchedule{minute: minute, hour: hour, dayOfMonth: dom, month: month, dayOfWeek: dow}, nil
}

func parseField(field string, lo, hi int) (fieldMatcher, error) {
	if field == "*" {
		return func(int) bool { return true }, nil
	}

	if strings.HasPrefix(field, "*/") {
		step, err := strconv.Atoi(field[2:])
		if err != nil || step <= 0 {
			return nil, fmt.Errorf("invalid step %q", field)
		}
		return func(v int) bool { return (v-lo)%step == 0 }, nil
	}

	allowed := map[int]bool{}
	for _, part := range strings.Split(field, ",") {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q", part)
		}
		if n < lo || n > hi {
			return nil, fmt.Errorf("value %d out of range [%d,%d]", n, lo, hi)
		}
		allowed[n] = true
	}
	return func(v int) bool { return allowed[v] }, nil
}

// matches reports whether t falls within this minute's firing set.
// Standard cron semantics: day-of-month and day-of-week are OR'd when
// both are restricted (non-"*"), otherwise whichever is restricted
// applies alone.
func (c cronSchedule) matches(t time.Time) bool {
	if !c.minute(t.Minute()) || !c.hour(t.Hour()) || !c.month(int(t.Month())) {
		return false
	}
	domAny := isAlwaysTrue(c.dayOfMonth)
	dowAny := isAlwaysTrue(c.dayOfWeek)
	domMatch := c.dayOfMonth(t.Day())
	dowMatch := c.dayOfWeek(int(t.Weekday()))

	switch {
	case domAny && dowAny:
		return true
	case domAny:
		return dowMatch
	case dowAny:
		return domMatch
	default:
		return domMatch || dowMatch
	}
}

func isAlwaysTrue(m fieldMatcher) bool {
	for v := 0; v <= 59; v++ {
		if !m(v) {
			return false
		}
	}
	return true
}
