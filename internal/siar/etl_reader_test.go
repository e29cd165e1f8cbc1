package siar

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const csvBody = `date,station_id,station_name,province,temperature,humidity,precipitation
2019-06-01,5279X,Linares,Jaen,22.5,48.0,0.0
2019-06-02,5279X,Linares,Jaen,23.1,45.5,1.2
2019-07-15,5279X,Linares,Jaen,31.0,30.0,0.0
`

func writeTestCSV(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "siar.csv")
	require.NoError(t, os.WriteFile(path, []byte(csvBody), 0o644))
	return path
}

func TestLoadRecords(t *testing.T) {
	path := writeTestCSV(t)
	r := NewETLReader(path)
	recs, err := r.LoadRecords()
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, 22.5, recs[0].Temperature)
}

func TestReadFiltersByRange(t *testing.T) {
	path := writeTestCSV(t)
	r := NewETLReader(path)

	points, err := r.Read(time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2019, 6, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, points, 2)
	assert.Equal(t, "weather_data", points[0].Measurement)
	assert.Equal(t, "siar_etl", points[0].Tags["data_source"])
}

func TestReadMissingColumnErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("date,temperature\n2019-06-01,20\n"), 0o644))

	r := NewETLReader(path)
	_, err := r.Read(time.Time{}, time.Now())
	assert.Error(t, err)
}
