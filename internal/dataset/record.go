package dataset

import "time"

// Canonical column names expected in source files. Header names are
// canonicalized (lowercased, spaces to underscores) before matching.
const (
	ColDate       = "date"
	ColTime       = "time"
	ColVictimType = "victim_type"
	ColGender     = "gender"
	ColAge        = "age"
	ColChildAdult = "child_adult"
	ColCharges    = "charges"
)

// UnknownCategory absorbs the empty-string and single-space victim types.
const UnknownCategory = "unknown"

// Record is one incident row. The typed fields mirror the canonical
// columns; Fields keeps every source column verbatim so no information
// from the file is dropped. VictimCategory and OccurredAt are the two
// augmented fields produced by normalization.
type Record struct {
	Date       string            `json:"date"`
	Time       string            `json:"time"`
	VictimType string            `json:"victim_type"`
	Gender     string            `json:"gender"`
	Age        *int              `json:"age"`
	ChildAdult string            `json:"child_adult"`
	Charges    string            `json:"charges"`
	Fields     map[string]string `json:"fields,omitempty"`

	VictimCategory string     `json:"victim_type_category,omitempty"`
	OccurredAt     *time.Time `json:"occurred_at,omitempty"`
}

// Dataset is the output of normalization: the full record table plus the
// dataset-level category metadata. CategoryOrder is a total order over the
// distinct VictimCategory values, ascending by frequency with first-seen
// tie-break. It is recomputed on every normalization and belongs to the
// dataset as a whole, not to any single record.
type Dataset struct {
	Records        []Record       `json:"records"`
	CategoryOrder  []string       `json:"category_order"`
	CategoryCounts map[string]int `json:"category_counts"`
}

// Complete returns the records whose timestamp could be derived, in their
// original relative order.
func (d Dataset) Complete() []Record {
	out := make([]Record, 0, len(d.Records))
	for _, r := range d.Records {
		if r.OccurredAt != nil {
			out = append(out, r)
		}
	}
	return out
}
