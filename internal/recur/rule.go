package recur

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// ErrMalformedRule marks a base event whose recurrence rule cannot be parsed
// or expanded. The series is skipped; sibling series in the same batch are
// unaffected.
var ErrMalformedRule = errors.New("malformed recurrence rule")

// RFC 5545 value layouts accepted in EXDATE/RDATE lines and emitted in
// generated UNTIL clauses.
const (
	icalDateTimeUTC   = "20060102T150405Z"
	icalDateTimeLocal = "20060102T150405"
	icalDate          = "20060102"
)

// parseRuleSet builds an expandable rule set from a recurrence array
// (RRULE/EXDATE/RDATE lines, bare or prefixed), anchored at start.
func parseRuleSet(lines []string, start time.Time) (*rrule.Set, error) {
	var set rrule.Set
	haveRule := false

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "EXDATE"):
			for _, t := range parseDateValues(line, start.Location()) {
				set.ExDate(t)
			}
		case strings.HasPrefix(line, "RDATE"):
			for _, t := range parseDateValues(line, start.Location()) {
				set.RDate(t)
			}
		default:
			content := strings.TrimPrefix(line, "RRULE:")
			r, err := rrule.StrToRRule(content)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrMalformedRule, line, err)
			}
			r.DTStart(start)
			set.RRule(r)
			haveRule = true
		}
	}

	if !haveRule {
		return nil, fmt.Errorf("%w: no RRULE line", ErrMalformedRule)
	}
	return &set, nil
}

// parseDateValues extracts the timestamps from an EXDATE/RDATE line,
// tolerating TZID parameters and comma-separated values. Unparseable values
// are skipped; an exception date we cannot read must not kill the series.
func parseDateValues(line string, loc *time.Location) []time.Time {
	idx := strings.LastIndex(line, ":")
	if idx < 0 || idx == len(line)-1 {
		return nil
	}
	var out []time.Time
	for _, v := range strings.Split(line[idx+1:], ",") {
		v = strings.TrimSpace(v)
		var t time.Time
		var err error
		switch {
		case strings.HasSuffix(v, "Z"):
			t, err = time.Parse(icalDateTimeUTC, v)
		case strings.Contains(v, "T"):
			t, err = time.ParseInLocation(icalDateTimeLocal, v, loc)
		default:
			t, err = time.ParseInLocation(icalDate, v, loc)
		}
		if err == nil {
			out = append(out, t)
		}
	}
	return out
}

// untilValue renders the UNTIL clause that ends a series immediately before
// the given split point: the previous day for all-day series, one second
// before the split for timed series.
func untilValue(split time.Time, allDay bool) string {
	if allDay {
		return split.AddDate(0, 0, -1).Format(icalDate)
	}
	return split.Add(-time.Second).UTC().Format(icalDateTimeUTC)
}

// truncateRule returns a copy of the recurrence array with the RRULE line's
// UNTIL clause replaced by until. Non-RRULE lines pass through unchanged.
func truncateRule(lines []string, until string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		if isRRuleLine(line) {
			out[i] = stripUntilClause(line) + ";UNTIL=" + until
		} else {
			out[i] = line
		}
	}
	return out
}

// stripUntil returns a copy of the recurrence array with any UNTIL clause
// removed from the RRULE line, making the series open-ended.
func stripUntil(lines []string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		if isRRuleLine(line) {
			out[i] = stripUntilClause(line)
		} else {
			out[i] = line
		}
	}
	return out
}

func isRRuleLine(line string) bool {
	return !strings.HasPrefix(line, "EXDATE") && !strings.HasPrefix(line, "RDATE")
}

func stripUntilClause(line string) string {
	prefix := ""
	content := line
	if strings.HasPrefix(line, "RRULE:") {
		prefix = "RRULE:"
		content = strings.TrimPrefix(line, "RRULE:")
	}
	parts := strings.Split(content, ";")
	kept := parts[:0]
	for _, p := range parts {
		if strings.HasPrefix(strings.ToUpper(p), "UNTIL=") {
			continue
		}
		kept = append(kept, p)
	}
	return prefix + strings.Join(kept, ";")
}
