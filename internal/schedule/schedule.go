// Package schedule decides whether a job runs on a given day.
//
// Supported forms (case and whitespace insensitive):
//   - "d": every day
//   - "mo,we,fr": listed weekdays (mo tu we th fr sa su)
//   - "w": Mondays
//   - "m": first day of the month
//   - "1,15": listed days of the month
//
// Anything else never runs. Evaluation is pure and never fails.
package schedule

import (
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Kind is the normalized kind of a schedule string.
type Kind int

const (
	KindNever Kind = iota
	KindDaily
	KindWeekdays
	KindWeekly
	KindMonthly
	KindMonthDays
)

func (k Kind) String() string {
	switch k {
	case KindDaily:
		return "daily"
	case KindWeekdays:
		return "weekdays"
	case KindWeekly:
		return "weekly"
	case KindMonthly:
		return "monthly"
	case KindMonthDays:
		return "month_days"
	default:
		return "never"
	}
}

var weekdayTokens = map[string]time.Weekday{
	"mo": time.Monday,
	"tu": time.Tuesday,
	"we": time.Wednesday,
	"th": time.Thursday,
	"fr": time.Friday,
	"sa": time.Saturday,
	"su": time.Sunday,
}

// Spec is a parsed schedule string.
type Spec struct {
	Kind     Kind
	Weekdays map[time.Weekday]bool
	Days     map[int]bool
	Source   string // normalized input
}

// Parse normalizes raw and classifies it. Unparseable input yields KindNever.
//
// Weekday tokens take precedence over day-of-month numbers: "1,mo" is a
// weekday schedule that runs on Mondays only.
func Parse(raw string) Spec {
	s := Normalize(raw)
	sp := Spec{Source: s}
	if s == "" {
		return sp
	}
	if s == "d" {
		sp.Kind = KindDaily
		return sp
	}

	tokens := strings.Split(s, ",")
	for _, tok := range tokens {
		if wd, ok := weekdayTokens[tok]; ok {
			if sp.Weekdays == nil {
				sp.Weekdays = make(map[time.Weekday]bool, len(tokens))
			}
			sp.Weekdays[wd] = true
		}
	}
	if len(sp.Weekdays) > 0 {
		sp.Kind = KindWeekdays
		return sp
	}

	switch s {
	case "w":
		sp.Kind = KindWeekly
		return sp
	case "m":
		sp.Kind = KindMonthly
		return sp
	}

	days := make(map[int]bool, len(tokens))
	for _, tok := range tokens {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return Spec{Source: s}
		}
		days[n] = true
	}
	sp.Kind = KindMonthDays
	sp.Days = days
	return sp
}

// Normalize trims, drops all whitespace and lowercases raw.
func Normalize(raw string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, raw)
}

// Matches reports whether the schedule fires on the calendar day of today.
func (sp Spec) Matches(today time.Time) bool {
	switch sp.Kind {
	case KindDaily:
		return true
	case KindWeekdays:
		return sp.Weekdays[today.Weekday()]
	case KindWeekly:
		return today.Weekday() == time.Monday
	case KindMonthly:
		return today.Day() == 1
	case KindMonthDays:
		return sp.Days[today.Day()]
	default:
		return false
	}
}

// ShouldRun is Parse(raw).Matches(today).
func ShouldRun(raw string, today time.Time) bool {
	return Parse(raw).Matches(today)
}
