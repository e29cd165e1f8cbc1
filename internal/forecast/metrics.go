package forecast

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/aristath/chocofactory/internal/alerts"
)

// metricsMu serializes CSV appends across Forecaster instances sharing the
// same file path, the way the teacher's database package serializes
// writes to a single SQLite file via its own mutex.
var metricsMu sync.Mutex

var metricsHeader = []string{"timestamp", "mae", "rmse", "r2", "ci_coverage", "train_samples", "test_samples"}

// appendMetrics appends one row to the metrics CSV (creating it with a
// header if absent) and returns the trailing 30 rows (including the one
// just appended) for degradation comparison.
func (f *Forecaster) appendMetrics(m Metrics) ([]Metrics, error) {
	if f.metricsPath == "" {
		return nil, nil
	}

	metricsMu.Lock()
	defer metricsMu.Unlock()

	existing, err := readMetricsFile(f.metricsPath)
	if err != nil {
		return nil, err
	}

	needsHeader := true
	flags := os.O_APPEND | os.O_CREATE | os.O_WRONLY
	if len(existing) > 0 {
		needsHeader = false
	}

	file, err := os.OpenFile(f.metricsPath, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open metrics history: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if needsHeader {
		if err := w.Write(metricsHeader); err != nil {
			return nil, fmt.Errorf("write metrics header: %w", err)
		}
	}
	if err := w.Write(metricsRow(m)); err != nil {
		return nil, fmt.Errorf("write metrics row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush metrics history: %w", err)
	}

	all := append(existing, m)
	if len(all) > 30 {
		all = all[len(all)-30:]
	}
	return all, nil
}

func metricsRow(m Metrics) []string {
	return []string{
		m.Timestamp.UTC().Format(time.RFC3339),
		strconv.FormatFloat(m.MAE, 'f', -1, 64),
		strconv.FormatFloat(m.RMSE, 'f', -1, 64),
		strconv.FormatFloat(m.R2, 'f', -1, 64),
		strconv.FormatFloat(m.CICoverage, 'f', -1, 64),
		strconv.Itoa(m.TrainSamples),
		strconv.Itoa(m.TestSamples),
	}
}

// readMetricsFile reads all existing metrics rows, tolerating a missing
// file (first-ever training run).
func readMetricsFile(path string) ([]Metrics, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open metrics history: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read metrics history: %w", err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}

	out := make([]Metrics, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) < 7 {
			continue
		}
		ts, _ := time.Parse(time.RFC3339, row[0])
		mae, _ := strconv.ParseFloat(row[1], 64)
		rmse, _ := strconv.ParseFloat(row[2], 64)
		r2, _ := strconv.ParseFloat(row[3], 64)
		ci, _ := strconv.ParseFloat(row[4], 64)
		train, _ := strconv.Atoi(row[5])
		test, _ := strconv.Atoi(row[6])
		out = append(out, Metrics{Timestamp: ts, MAE: mae, RMSE: rmse, R2: r2, CICoverage: ci, TrainSamples: train, TestSamples: test})
	}
	return out, nil
}

// checkDegradation compares current against the median of the trailing
// 30-run history (excluding the current run) and emits an alert if either
// MAE doubles or R² halves relative to that baseline.
func (f *Forecaster) checkDegradation(current Metrics, history []Metrics) {
	if f.alerts == nil || len(history) < 2 {
		return
	}

	baseline := history[:len(history)-1] // exclude the just-appended current run
	if len(baseline) == 0 {
		return
	}

	baselineMAE := median(maeValues(baseline))
	baselineR2 := median(r2Values(baseline))

	degraded := current.MAE > 2*baselineMAE || current.R2 < 0.5*baselineR2
	if !degraded {
		return
	}

	f.alerts.Send(degradationTopic, alerts.SeverityWarning,
		fmt.Sprintf("forecast model degraded: mae=%.4f (baseline %.4f), r2=%.3f (baseline %.3f)",
			current.MAE, baselineMAE, current.R2, baselineR2))
}

func maeValues(m []Metrics) []float64 {
	out := make([]float64, len(m))
	for i, v := range m {
		out[i] = v.MAE
	}
	return out
}

func r2Values(m []Metrics) []float64 {
	out := make([]float64, len(m))
	for i, v := range m {
		out[i] = v.R2
	}
	return out
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64{}, values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
