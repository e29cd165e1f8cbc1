package forecast

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syntheticHistory(hours int) []HourlyPrice {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]HourlyPrice, hours)
	for i := 0; i < hours; i++ {
		t := base.Add(time.Duration(i) * time.Hour)
		price := 0.15 + 0.02*float64(t.Hour()%24)/24.0
		out[i] = HourlyPrice{TimestampUTC: t, PriceEURkWh: price}
	}
	return out
}

func TestTrainProducesMetricsAndArtifact(t *testing.T) {
	dir := t.TempDir()
	f := New(Config{ArtifactDir: dir, MetricsPath: filepath.Join(dir, "metrics.csv")}, nil)

	metrics, err := f.Train(syntheticHistory(24 * 14))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, metrics.R2, -1.0) // sanity bound, not a fixed expectation
	assert.Equal(t, 24*14, metrics.TrainSamples+metrics.TestSamples)

	status := f.Status()
	assert.True(t, status.ModelOK)
}

func TestTrainRejectsTooFewSamples(t *testing.T) {
	f := New(Config{}, nil)
	_, err := f.Train(syntheticHistory(10))
	assert.Error(t, err)
}

func TestForecastRejectsOutOfRangeHours(t *testing.T) {
	dir := t.TempDir()
	f := New(Config{ArtifactDir: dir, MetricsPath: filepath.Join(dir, "metrics.csv")}, nil)
	_, err := f.Train(syntheticHistory(24 * 14))
	require.NoError(t, err)

	_, err = f.Forecast(0)
	assert.Error(t, err)
	_, err = f.Forecast(169)
	assert.Error(t, err)
}

func TestForecastReturnsExactLengthAndMonotonicTimestamps(t *testing.T) {
	dir := t.TempDir()
	f := New(Config{ArtifactDir: dir, MetricsPath: filepath.Join(dir, "metrics.csv")}, nil)
	_, err := f.Train(syntheticHistory(24 * 14))
	require.NoError(t, err)

	points, err := f.Forecast(168)
	require.NoError(t, err)
	require.Len(t, points, 168)

	for i := 1; i < len(points); i++ {
		assert.True(t, points[i].TimestampUTC.After(points[i-1].TimestampUTC))
		assert.Equal(t, time.Hour, points[i].TimestampUTC.Sub(points[i-1].TimestampUTC))
	}
	for _, p := range points {
		assert.LessOrEqual(t, p.Lower, p.Predicted)
		assert.LessOrEqual(t, p.Predicted, p.Upper)
	}
}

func TestForecastWithoutTrainedModelErrors(t *testing.T) {
	f := New(Config{}, nil)
	_, err := f.Forecast(24)
	assert.Error(t, err)
}

func TestLoadLatestRoundTripsArtifact(t *testing.T) {
	dir := t.TempDir()
	metricsPath := filepath.Join(dir, "metrics.csv")
	f1 := New(Config{ArtifactDir: dir, MetricsPath: metricsPath}, nil)
	_, err := f1.Train(syntheticHistory(24 * 14))
	require.NoError(t, err)

	f2 := New(Config{ArtifactDir: dir, MetricsPath: metricsPath}, nil)
	require.NoError(t, f2.LoadLatest())

	points, err := f2.Forecast(24)
	require.NoError(t, err)
	assert.Len(t, points, 24)
}

func TestMedianEvenAndOdd(t *testing.T) {
	assert.Equal(t, 2.0, median([]float64{1, 2, 3}))
	assert.Equal(t, 2.5, median([]float64{1, 2, 3, 4}))
}

func TestNextFullHourRoundsUp(t *testing.T) {
	t1 := time.Date(2025, 1, 1, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 1, 1, 11, 0, 0, 0, time.UTC), nextFullHour(t1))

	t2 := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, t2, nextFullHour(t2))
}
