// Package summary derives the aggregate tables downstream chart consumers
// read: frequency tables, histogram counts, and crosstab proportions. All
// computation is pure; categorical ordering always follows the dataset's
// CategoryOrder.
package summary

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"crashdata/internal/dataset"
)

type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

type BucketCount struct {
	Bucket string `json:"bucket"`
	Count  int    `json:"count"`
}

// CategoryShare is one segment of a stacked-proportion row.
type CategoryShare struct {
	Category string  `json:"category"`
	Count    int     `json:"count"`
	Share    float64 `json:"share"`
}

// MixRow is one group of the child/adult x victim-category crosstab.
type MixRow struct {
	Group  string          `json:"group"`
	Total  int             `json:"total"`
	Shares []CategoryShare `json:"shares"`
}

type Charges struct {
	Filed int             `json:"filed"`
	Total int             `json:"total"`
	Rate  float64         `json:"rate"`
	Top   []CategoryCount `json:"top"`
}

// Summary bundles every derived table for one dataset.
type Summary struct {
	Total       int             `json:"total"`
	Complete    int             `json:"complete"`
	VictimTypes []CategoryCount `json:"victim_types"`
	Hourly      []int           `json:"hourly"`
	Weekdays    []BucketCount   `json:"weekdays"`
	Ages        []BucketCount   `json:"ages"`
	Genders     []CategoryCount `json:"genders"`
	VictimMix   []MixRow        `json:"victim_mix"`
	Charges     Charges         `json:"charges"`
}

const topChargesLimit = 10

// Compute derives all summary tables from a normalized dataset. Time-based
// tables (hourly, weekdays) use only the complete subset; categorical
// tables use the full table.
func Compute(ds dataset.Dataset) Summary {
	complete := ds.Complete()
	s := Summary{
		Total:       len(ds.Records),
		Complete:    len(complete),
		VictimTypes: victimTypes(ds),
		Hourly:      hourly(complete),
		Weekdays:    weekdays(complete),
		Ages:        ages(ds.Records),
		Genders:     genders(ds.Records),
		VictimMix:   victimMix(ds),
		Charges:     charges(ds.Records),
	}
	return s
}

func victimTypes(ds dataset.Dataset) []CategoryCount {
	out := make([]CategoryCount, 0, len(ds.CategoryOrder))
	for _, cat := range ds.CategoryOrder {
		out = append(out, CategoryCount{Category: cat, Count: ds.CategoryCounts[cat]})
	}
	return out
}

func hourly(complete []dataset.Record) []int {
	counts := make([]int, 24)
	for _, r := range complete {
		counts[r.OccurredAt.Hour()]++
	}
	return counts
}

func weekdays(complete []dataset.Record) []BucketCount {
	counts := make([]int, 7)
	for _, r := range complete {
		counts[int(r.OccurredAt.Weekday())]++
	}
	out := make([]BucketCount, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		out[d] = BucketCount{Bucket: d.String(), Count: counts[d]}
	}
	return out
}

func ages(records []dataset.Record) []BucketCount {
	buckets := make([]int, 10)
	unknown := 0
	for _, r := range records {
		if r.Age == nil {
			unknown++
			continue
		}
		b := *r.Age / 10
		if b < 0 {
			continue
		}
		if b > 9 {
			b = 9
		}
		buckets[b]++
	}
	out := make([]BucketCount, 0, 11)
	for i, n := range buckets {
		label := bucketLabel(i)
		out = append(out, BucketCount{Bucket: label, Count: n})
	}
	if unknown > 0 {
		out = append(out, BucketCount{Bucket: "unknown", Count: unknown})
	}
	return out
}

func bucketLabel(i int) string {
	if i >= 9 {
		return "90+"
	}
	return fmt.Sprintf("%d-%d", i*10, i*10+9)
}

func genders(records []dataset.Record) []CategoryCount {
	return countCanonical(records, func(r dataset.Record) string { return canonicalLabel(r.Gender) })
}

// countCanonical tallies a label per record in first-seen order.
func countCanonical(records []dataset.Record, label func(dataset.Record) string) []CategoryCount {
	counts := make(map[string]int)
	var order []string
	for _, r := range records {
		l := label(r)
		if _, ok := counts[l]; !ok {
			order = append(order, l)
		}
		counts[l]++
	}
	out := make([]CategoryCount, 0, len(order))
	for _, l := range order {
		out = append(out, CategoryCount{Category: l, Count: counts[l]})
	}
	return out
}

func victimMix(ds dataset.Dataset) []MixRow {
	type groupTally struct {
		total    int
		byCat    map[string]int
		firstIdx int
	}
	groups := make(map[string]*groupTally)
	var order []string
	for i, r := range ds.Records {
		g := canonicalLabel(r.ChildAdult)
		t, ok := groups[g]
		if !ok {
			t = &groupTally{byCat: make(map[string]int), firstIdx: i}
			groups[g] = t
			order = append(order, g)
		}
		t.total++
		t.byCat[r.VictimCategory]++
	}
	out := make([]MixRow, 0, len(order))
	for _, g := range order {
		t := groups[g]
		row := MixRow{Group: g, Total: t.total}
		for _, cat := range ds.CategoryOrder {
			n := t.byCat[cat]
			if n == 0 {
				continue
			}
			row.Shares = append(row.Shares, CategoryShare{
				Category: cat,
				Count:    n,
				Share:    float64(n) / float64(t.total),
			})
		}
		out = append(out, row)
	}
	return out
}

func charges(records []dataset.Record) Charges {
	c := Charges{Total: len(records)}
	counts := make(map[string]int)
	var order []string
	for _, r := range records {
		v := strings.TrimSpace(r.Charges)
		if v == "" {
			continue
		}
		c.Filed++
		if _, ok := counts[v]; !ok {
			order = append(order, v)
		}
		counts[v]++
	}
	if c.Total > 0 {
		c.Rate = float64(c.Filed) / float64(c.Total)
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > topChargesLimit {
		order = order[:topChargesLimit]
	}
	for _, v := range order {
		c.Top = append(c.Top, CategoryCount{Category: v, Count: counts[v]})
	}
	return c
}

// canonicalLabel folds case and whitespace variants of a free-text label;
// blanks join the unknown bucket.
func canonicalLabel(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return dataset.UnknownCategory
	}
	return strings.ToUpper(v[:1]) + v[1:]
}
