package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// SchemaError reports required columns missing from a source header.
// It is a structural precondition failure, distinct from per-row data
// quality, and aborts the load.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("source schema missing required column(s): %s", strings.Join(e.Missing, ", "))
}

var requiredColumns = []string{ColDate, ColTime, ColVictimType}

// ReadFile loads raw records from a CSV file. The header is validated
// before any row is read.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer f.Close()
	recs, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return recs, nil
}

// Read parses CSV from r into raw records. The first row must be a header
// naming at least date, time, and victim_type; extra columns pass through
// into Fields untouched. An input with only a header yields an empty slice.
func Read(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err == io.EOF {
		return nil, &SchemaError{Missing: requiredColumns}
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := make([]string, len(header))
	index := make(map[string]int, len(header))
	for i, h := range header {
		name := canonicalColumn(h)
		cols[i] = name
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}
	var missing []string
	for _, req := range requiredColumns {
		if _, ok := index[req]; !ok {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Missing: missing}
	}

	var records []Record
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(records)+2, err)
		}
		records = append(records, rowToRecord(cols, row))
	}
	return records, nil
}

func rowToRecord(cols []string, row []string) Record {
	fields := make(map[string]string, len(cols))
	for i, name := range cols {
		if i < len(row) {
			fields[name] = row[i]
		}
	}
	rec := Record{
		Date:       fields[ColDate],
		Time:       fields[ColTime],
		VictimType: fields[ColVictimType],
		Gender:     fields[ColGender],
		ChildAdult: fields[ColChildAdult],
		Charges:    fields[ColCharges],
		Fields:     fields,
	}
	if v := strings.TrimSpace(fields[ColAge]); v != "" {
		if age, err := strconv.Atoi(v); err == nil {
			rec.Age = &age
		} else if f, err := strconv.ParseFloat(v, 64); err == nil {
			age := int(f)
			rec.Age = &age
		}
	}
	return rec
}

// canonicalColumn maps header spellings like "Victim Type" onto the
// canonical snake_case column names.
func canonicalColumn(h string) string {
	name := strings.ToLower(strings.TrimSpace(h))
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "/", "_")
	return name
}
