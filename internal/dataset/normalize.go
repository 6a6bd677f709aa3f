package dataset

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Defaults match the source data: US-style dates, 12-hour clock, US Eastern
// civil time. All three are overridable through configuration.
const (
	DefaultTimezone   = "America/New_York"
	DefaultDateLayout = "1/2/2006"
	DefaultTimeLayout = "3:04 PM"
)

// Normalizer derives normalized datasets from raw record tables. The zero
// value is not usable; construct with New.
type Normalizer struct {
	loc        *time.Location
	dateLayout string
	timeLayout string
}

// New builds a Normalizer for the given timezone and layouts. Empty
// arguments fall back to the package defaults. An unknown timezone is a
// structural configuration error.
func New(timezone, dateLayout, timeLayout string) (*Normalizer, error) {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	if dateLayout == "" {
		dateLayout = DefaultDateLayout
	}
	if timeLayout == "" {
		timeLayout = DefaultTimeLayout
	}
	return &Normalizer{loc: loc, dateLayout: dateLayout, timeLayout: timeLayout}, nil
}

// Normalize transforms a raw table into a Dataset. It is a pure function
// of its input: the argument records are not mutated, the output preserves
// cardinality and order, and repeated application yields identical output.
//
// Per record: the victim type is cleansed (exact "" and " " collapse into
// the "unknown" bucket, everything else passes through verbatim) and a
// timestamp is derived by parsing date and time joined with a single
// space. A row whose date/time pair does not parse keeps OccurredAt nil;
// that is a data-quality signal, never an error.
//
// Per dataset: distinct cleansed categories are ordered by ascending
// frequency, ties broken by first appearance in the table.
func (n *Normalizer) Normalize(rows []Record) Dataset {
	records := make([]Record, len(rows))
	counts := make(map[string]int)
	firstSeen := make(map[string]int)

	for i, raw := range rows {
		rec := raw
		rec.VictimCategory = CleanseCategory(raw.VictimType)
		rec.OccurredAt = n.parseTimestamp(raw.Date, raw.Time)
		if _, ok := firstSeen[rec.VictimCategory]; !ok {
			firstSeen[rec.VictimCategory] = i
		}
		counts[rec.VictimCategory]++
		records[i] = rec
	}

	order := make([]string, 0, len(counts))
	for cat := range counts {
		order = append(order, cat)
	}
	sort.SliceStable(order, func(i, j int) bool {
		if counts[order[i]] != counts[order[j]] {
			return counts[order[i]] < counts[order[j]]
		}
		return firstSeen[order[i]] < firstSeen[order[j]]
	})

	return Dataset{Records: records, CategoryOrder: order, CategoryCounts: counts}
}

// CleanseCategory maps the two empty sentinels onto the canonical unknown
// bucket. Any other value, however unusual, is its own category.
func CleanseCategory(victimType string) string {
	if victimType == "" || victimType == " " {
		return UnknownCategory
	}
	return victimType
}

func (n *Normalizer) parseTimestamp(date, clock string) *time.Time {
	if strings.TrimSpace(date) == "" || strings.TrimSpace(clock) == "" {
		return nil
	}
	layout := n.dateLayout + " " + n.timeLayout
	ts, err := time.ParseInLocation(layout, date+" "+clock, n.loc)
	if err != nil {
		return nil
	}
	return &ts
}
