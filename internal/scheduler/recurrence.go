package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/reportd-data/reportd/internal/domain"
)

// cronParser accepts standard five-field cron expressions for the advanced
// schedule override.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ComputeNextRun returns the first occurrence of the schedule strictly
// after from. All computation happens in the schedule's timezone, not the
// caller's local time. When CronExpr is set it takes precedence over the
// frequency fields.
func ComputeNextRun(spec domain.ScheduleSpec, from time.Time) (time.Time, error) {
	loc := time.UTC
	if spec.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(spec.Timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("load timezone %q: %w", spec.Timezone, err)
		}
	}
	from = from.In(loc)

	if spec.CronExpr != "" {
		sched, err := cronParser.Parse(spec.CronExpr)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron %q: %w", spec.CronExpr, err)
		}
		return sched.Next(from), nil
	}

	hour, minute, err := parseClock(spec.Time)
	if err != nil {
		return time.Time{}, err
	}

	switch spec.Frequency {
	case domain.FreqDaily:
		next := time.Date(from.Year(), from.Month(), from.Day(), hour, minute, 0, 0, loc)
		if !next.After(from) {
			next = next.AddDate(0, 0, 1)
		}
		return next, nil

	case domain.FreqWeekly:
		target := time.Monday
		if spec.DayOfWeek != nil {
			target = time.Weekday(*spec.DayOfWeek % 7)
		}
		next := time.Date(from.Year(), from.Month(), from.Day(), hour, minute, 0, 0, loc)
		for i := 0; i < 8; i++ {
			if next.Weekday() == target && next.After(from) {
				return next, nil
			}
			next = next.AddDate(0, 0, 1)
		}
		return next, nil

	case domain.FreqMonthly:
		day := 1
		if spec.DayOfMonth != nil {
			day = *spec.DayOfMonth
		}
		next := monthlyOccurrence(from.Year(), from.Month(), day, hour, minute, loc)
		if !next.After(from) {
			y, m := from.Year(), from.Month()+1
			next = monthlyOccurrence(y, m, day, hour, minute, loc)
		}
		return next, nil

	case domain.FreqQuarterly:
		day := 1
		if spec.DayOfMonth != nil {
			day = *spec.DayOfMonth
		}
		// Quarters open in January, April, July, October. Try the current
		// quarter's opening month first, then step quarter by quarter.
		month := quarterStart(from.Month())
		next := monthlyOccurrence(from.Year(), month, day, hour, minute, loc)
		for i := 0; i < 5 && !next.After(from); i++ {
			month += 3
			next = monthlyOccurrence(from.Year(), month, day, hour, minute, loc)
		}
		return next, nil
	}

	return time.Time{}, fmt.Errorf("unknown frequency %q", spec.Frequency)
}

// parseClock parses "HH:MM".
func parseClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

// monthlyOccurrence builds the occurrence in the given month, clamping the
// day to the month's length (day 31 in February lands on the 28th or 29th).
// Month overflow is normalized by time.Date.
func monthlyOccurrence(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	norm := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	if last := daysIn(norm.Year(), norm.Month()); day > last {
		day = last
	}
	return time.Date(norm.Year(), norm.Month(), day, hour, minute, 0, 0, loc)
}

// daysIn returns the number of days in a month.
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// quarterStart returns the opening month of the quarter containing m.
func quarterStart(m time.Month) time.Month {
	return time.Month((int(m)-1)/3*3 + 1)
}
