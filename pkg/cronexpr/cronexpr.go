package cronexpr

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gravitational/trace"
)

// Expression is a parsed five-field cron expression. Each field is a bitmask
// over the valid value range. Expressions are comparable: two expressions are
// equal iff they match the same set of instants.
type Expression struct {
	minute uint64 // 0-59
	hour   uint64 // 0-23
	dom    uint64 // 1-31
	month  uint64 // 1-12
	dow    uint64 // 0-6, Sunday=0
}

type fieldSpec struct {
	name string
	min  int
	max  int
}

var fieldSpecs = [5]fieldSpec{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// maxSearch bounds Next to one year of minutes.
const maxSearch = 366 * 24 * time.Hour

// Parse parses a five-field cron expression. Recognized field forms are "*",
// single integers, comma lists, ranges "a-b", and steps "*/n" or "a-b/n".
// Values outside the field range are discarded; a field left with no values
// is an error.
func Parse(expr string) (Expression, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return Expression{}, trace.BadParameter("cron expression must have 5 fields, got %d: %q", len(parts), expr)
	}

	var masks [5]uint64
	for i, part := range parts {
		mask, err := parseField(part, fieldSpecs[i])
		if err != nil {
			return Expression{}, trace.Wrap(err)
		}
		if mask == 0 {
			return Expression{}, trace.BadParameter("cron field %s has no valid values: %q", fieldSpecs[i].name, part)
		}
		masks[i] = mask
	}

	return Expression{
		minute: masks[0],
		hour:   masks[1],
		dom:    masks[2],
		month:  masks[3],
		dow:    masks[4],
	}, nil
}

// MustParse is like Parse but panics on error. For tests and constants.
func MustParse(expr string) Expression {
	e, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return e
}

// parseField parses a single comma-separated field into a bitmask.
func parseField(field string, spec fieldSpec) (uint64, error) {
	var mask uint64
	for _, term := range strings.Split(field, ",") {
		m, err := parseTerm(term, spec)
		if err != nil {
			return 0, trace.Wrap(err)
		}
		mask |= m
	}
	return mask, nil
}

// parseTerm parses one term: "*", "n", "a-b", "*/n" or "a-b/n".
func parseTerm(term string, spec fieldSpec) (uint64, error) {
	step := 1
	base := term

	if idx := strings.IndexByte(term, '/'); idx >= 0 {
		base = term[:idx]
		n, err := strconv.Atoi(term[idx+1:])
		if err != nil || n <= 0 {
			return 0, trace.BadParameter("invalid step in cron field %s: %q", spec.name, term)
		}
		if base != "*" && !strings.Contains(base, "-") {
			return 0, trace.BadParameter("step requires * or a range in cron field %s: %q", spec.name, term)
		}
		step = n
	}

	lo, hi := spec.min, spec.max
	switch {
	case base == "*":
		// full range
	case strings.Contains(base, "-"):
		bounds := strings.SplitN(base, "-", 2)
		a, err1 := strconv.Atoi(bounds[0])
		b, err2 := strconv.Atoi(bounds[1])
		if err1 != nil || err2 != nil {
			return 0, trace.BadParameter("invalid range in cron field %s: %q", spec.name, term)
		}
		if a > b {
			return 0, trace.BadParameter("inverted range in cron field %s: %q", spec.name, term)
		}
		lo, hi = a, b
	default:
		n, err := strconv.Atoi(base)
		if err != nil {
			return 0, trace.BadParameter("invalid value in cron field %s: %q", spec.name, term)
		}
		lo, hi = n, n
	}

	// Out-of-range values are discarded, not rejected.
	var mask uint64
	for v := lo; v <= hi; v += step {
		if v >= spec.min && v <= spec.max {
			mask |= 1 << uint(v)
		}
	}
	return mask, nil
}

// Matches reports whether the instant, at minute granularity in the given
// location, satisfies all five fields. Day-of-month and day-of-week are
// conjunctive: both must match.
func (e Expression) Matches(t time.Time, loc *time.Location) bool {
	lt := t.In(loc)
	return e.minute&(1<<uint(lt.Minute())) != 0 &&
		e.hour&(1<<uint(lt.Hour())) != 0 &&
		e.dom&(1<<uint(lt.Day())) != 0 &&
		e.month&(1<<uint(lt.Month())) != 0 &&
		e.dow&(1<<uint(lt.Weekday())) != 0
}

// Next returns the smallest minute-aligned instant strictly after the given
// time that matches the expression in loc. The search is bounded to one year;
// expressions with no reachable instant fail with a LimitExceeded error.
func (e Expression) Next(after time.Time, loc *time.Location) (time.Time, error) {
	t := after.In(loc).Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(maxSearch)

	for t.Before(limit) {
		if e.month&(1<<uint(t.Month())) == 0 {
			// Jump to the first minute of the next month.
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, 1, 0)
			continue
		}
		if e.dom&(1<<uint(t.Day())) == 0 || e.dow&(1<<uint(t.Weekday())) == 0 {
			// Jump to midnight of the next day.
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
			continue
		}
		if e.hour&(1<<uint(t.Hour())) == 0 {
			// Wall-clock hour boundary; Truncate would misalign in zones
			// with non-whole-hour offsets.
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc).Add(time.Hour)
			continue
		}
		if e.minute&(1<<uint(t.Minute())) == 0 {
			t = t.Add(time.Minute)
			continue
		}
		return t, nil
	}

	return time.Time{}, trace.LimitExceeded("cron expression %q matches no instant within one year after %v", e.String(), after)
}

// String renders the expression in normalized form. Parsing the result yields
// an equal Expression.
func (e Expression) String() string {
	fields := [5]uint64{e.minute, e.hour, e.dom, e.month, e.dow}
	out := make([]string, 5)
	for i, mask := range fields {
		out[i] = formatField(mask, fieldSpecs[i])
	}
	return strings.Join(out, " ")
}

// formatField renders a bitmask as "*", or comma-separated values and ranges.
func formatField(mask uint64, spec fieldSpec) string {
	full := true
	for v := spec.min; v <= spec.max; v++ {
		if mask&(1<<uint(v)) == 0 {
			full = false
			break
		}
	}
	if full {
		return "*"
	}

	var parts []string
	v := spec.min
	for v <= spec.max {
		if mask&(1<<uint(v)) == 0 {
			v++
			continue
		}
		start := v
		for v <= spec.max && mask&(1<<uint(v)) != 0 {
			v++
		}
		end := v - 1
		switch {
		case start == end:
			parts = append(parts, strconv.Itoa(start))
		case end == start+1:
			parts = append(parts, strconv.Itoa(start), strconv.Itoa(end))
		default:
			parts = append(parts, fmt.Sprintf("%d-%d", start, end))
		}
	}
	return strings.Join(parts, ",")
}

// Values returns the sorted set of values a field matches. Field index order
// is minute, hour, day-of-month, month, day-of-week.
func (e Expression) Values(field int) []int {
	masks := [5]uint64{e.minute, e.hour, e.dom, e.month, e.dow}
	if field < 0 || field >= len(masks) {
		return nil
	}
	spec := fieldSpecs[field]
	var vals []int
	for v := spec.min; v <= spec.max; v++ {
		if masks[field]&(1<<uint(v)) != 0 {
			vals = append(vals, v)
		}
	}
	return vals
}
