package siar

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/aristath/chocofactory/internal/store"
)

// expectedHeader is the column layout the historical SIAR/datosclima ETL
// writes: date, station identifiers, and the weather fields this system
// tracks. A reader of a foreign-format file should fail loudly rather than
// silently reinterpret columns.
var expectedHeader = []string{"date", "station_id", "station_name", "province", "temperature", "humidity", "precipitation"}

// ETLReader reads the CSV layout produced by the out-of-scope one-shot
// SIAR/datosclima historical ETL: one row per station-day.
type ETLReader struct {
	path string
}

// NewETLReader builds a reader over a single CSV file at path.
func NewETLReader(path string) *ETLReader {
	return &ETLReader{path: path}
}

// LoadRecords reads the whole file into siar.Record values, for use as the
// Analyzer's historical dataset.
func (r *ETLReader) LoadRecords() ([]Record, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open siar dataset: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read siar dataset header: %w", err)
	}
	cols, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var records []Record
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read siar dataset row: %w", err)
		}

		date, err := time.Parse("2006-01-02", row[cols["date"]])
		if err != nil {
			continue
		}
		temp, _ := strconv.ParseFloat(row[cols["temperature"]], 64)
		hum, _ := strconv.ParseFloat(row[cols["humidity"]], 64)

		records = append(records, Record{Date: date, Temperature: temp, Humidity: hum})
	}

	return records, nil
}

// Read returns points for the rows falling within [start, end], shaped as
// store.Point so a backfill caller can write them straight through without
// a separate conversion step.
func (r *ETLReader) Read(start, end time.Time) ([]store.Point, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open siar dataset: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read siar dataset header: %w", err)
	}
	cols, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var points []store.Point
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read siar dataset row: %w", err)
		}

		date, err := time.Parse("2006-01-02", row[cols["date"]])
		if err != nil {
			continue
		}
		if date.Before(start) || date.After(end) {
			continue
		}

		temp, _ := strconv.ParseFloat(row[cols["temperature"]], 64)
		hum, _ := strconv.ParseFloat(row[cols["humidity"]], 64)
		prec, _ := strconv.ParseFloat(row[cols["precipitation"]], 64)

		points = append(points, store.Point{
			Measurement: store.MeasurementWeatherData,
			Tags: map[string]string{
				"station_id":   row[cols["station_id"]],
				"station_name": row[cols["station_name"]],
				"province":     row[cols["province"]],
				"data_source":  "siar_etl",
				"data_type":    "historical",
			},
			Fields: map[string]interface{}{
				"temperature":   temp,
				"humidity":      hum,
				"precipitation": prec,
			},
			Time: date,
		})
	}

	return points, nil
}

func columnIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	for _, want := range expectedHeader {
		if _, ok := idx[want]; !ok {
			return nil, fmt.Errorf("siar dataset missing column %q", want)
		}
	}
	return idx, nil
}
