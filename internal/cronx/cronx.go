// Package cronx resolves occurrences of 5-field cron rules in a rule-local
// timezone. It is a pure computation layer: no clocks, no I/O.
package cronx

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrRuleParse marks an unparsable recurrence rule. Callers treat a rule
// that fails to parse as contributing no candidate occurrence.
var ErrRuleParse = errors.New("invalid recurrence rule")

// ErrNoOccurrence means the rule parsed but yields no occurrence inside
// the search horizon: Prev looks back roughly one year, Next is bounded by
// the cron library's forward search. Expressions naming impossible dates
// ("0 0 31 2 *") parse fine and land here.
var ErrNoOccurrence = errors.New("no occurrence found")

// Rule is a recurrence expression (minute, hour, day-of-month, month,
// day-of-week) plus an IANA timezone name. An empty TZ means UTC.
type Rule struct {
	Expr string
	TZ   string
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate reports whether the rule's expression and timezone are usable.
func Validate(r Rule) error {
	_, _, err := compile(r)
	return err
}

func compile(r Rule) (cron.Schedule, *time.Location, error) {
	expr := strings.TrimSpace(r.Expr)
	if expr == "" {
		return nil, nil, fmt.Errorf("%w: empty expression", ErrRuleParse)
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %q: %v", ErrRuleParse, expr, err)
	}

	loc := time.UTC
	if tz := strings.TrimSpace(r.TZ); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: timezone %q: %v", ErrRuleParse, tz, err)
		}
	}
	return sched, loc, nil
}

// Next returns the earliest occurrence of the rule strictly after ref,
// evaluated in the rule's timezone.
func Next(r Rule, ref time.Time) (time.Time, error) {
	sched, loc, err := compile(r)
	if err != nil {
		return time.Time{}, err
	}
	// The schedule reports "no occurrence found" as the zero time; handing
	// that to callers as a real instant would let it win every earliest-of
	// comparison.
	n := sched.Next(ref.In(loc))
	if n.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q after %s", ErrNoOccurrence, r.Expr, ref.Format(time.RFC3339))
	}
	return n, nil
}

// Prev returns the latest occurrence of the rule strictly before ref.
//
// The cron library only walks forward, so Prev rewinds by a widening window
// and walks occurrences forward until it passes ref. The widening ladder
// keeps the forward walk short for dense rules (found within the first
// window) while still covering sparse rules up to a year apart.
func Prev(r Rule, ref time.Time) (time.Time, error) {
	sched, loc, err := compile(r)
	if err != nil {
		return time.Time{}, err
	}
	ref = ref.In(loc)

	windows := []time.Duration{
		26 * time.Hour,
		8 * 24 * time.Hour,
		35 * 24 * time.Hour,
		366 * 24 * time.Hour,
	}
	for _, back := range windows {
		t := ref.Add(-back)
		var prev time.Time
		for {
			n := sched.Next(t)
			if n.IsZero() || !n.Before(ref) {
				break
			}
			prev = n
			t = n
		}
		if !prev.IsZero() {
			return prev, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q before %s", ErrNoOccurrence, r.Expr, ref.Format(time.RFC3339))
}
