package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRejectsMissingRequiredColumns(t *testing.T) {
	_, err := Read(strings.NewReader("date,gender,age\n01/01/2016,F,30\n"))
	require.Error(t, err)
	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, []string{ColTime, ColVictimType}, schemaErr.Missing)
	assert.Contains(t, err.Error(), "time")
}

func TestReadRejectsEmptyInput(t *testing.T) {
	_, err := Read(strings.NewReader(""))
	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
}

func TestReadCanonicalizesHeaderNames(t *testing.T) {
	in := "Date,Time,Victim Type,Gender,Age,Child/Adult,Charges\n" +
		"03/05/2016,11:45 PM,Pedestrian,F,34,Adult,DUI\n"
	recs, err := Read(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	r := recs[0]
	assert.Equal(t, "03/05/2016", r.Date)
	assert.Equal(t, "11:45 PM", r.Time)
	assert.Equal(t, "Pedestrian", r.VictimType)
	assert.Equal(t, "F", r.Gender)
	require.NotNil(t, r.Age)
	assert.Equal(t, 34, *r.Age)
	assert.Equal(t, "Adult", r.ChildAdult)
	assert.Equal(t, "DUI", r.Charges)
	assert.Equal(t, "Pedestrian", r.Fields["victim_type"])
}

func TestReadPreservesSingleSpaceVictimType(t *testing.T) {
	in := "date,time,victim_type\n" +
		"03/05/2016,11:45 PM, \n" +
		"03/06/2016,1:00 AM,\n"
	recs, err := Read(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, " ", recs[0].VictimType)
	assert.Equal(t, "", recs[1].VictimType)
}

func TestReadHeaderOnlyYieldsEmptyTable(t *testing.T) {
	recs, err := Read(strings.NewReader("date,time,victim_type\n"))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestReadAgeVariants(t *testing.T) {
	in := "date,time,victim_type,age\n" +
		"a,b,x,25\n" +
		"a,b,x,25.0\n" +
		"a,b,x,\n" +
		"a,b,x,notanumber\n"
	recs, err := Read(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, recs, 4)
	require.NotNil(t, recs[0].Age)
	assert.Equal(t, 25, *recs[0].Age)
	require.NotNil(t, recs[1].Age)
	assert.Equal(t, 25, *recs[1].Age)
	assert.Nil(t, recs[2].Age)
	assert.Nil(t, recs[3].Age)
}

func TestReadKeepsExtraColumns(t *testing.T) {
	in := "date,time,victim_type,location\n" +
		"03/05/2016,11:45 PM,Driver,Main St\n"
	recs, err := Read(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, "Main St", recs[0].Fields["location"])
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "absent.csv"))
	require.Error(t, err)
}

func TestReadFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	content := "date,time,victim_type\n03/05/2016,11:45 PM,Driver\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	recs, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Driver", recs[0].VictimType)
}
