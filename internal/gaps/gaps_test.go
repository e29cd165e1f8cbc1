package gaps

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimestamps struct {
	ts  []time.Time
	err error
}

func (f *fakeTimestamps) Timestamps(ctx context.Context, measurement string, tagFilter map[string]string, start, end time.Time) ([]time.Time, error) {
	return f.ts, f.err
}

func TestDetectGapsEmptyMeasurementIsOneCriticalGap(t *testing.T) {
	windowStart := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 10, 23, 9, 0, 0, 0, time.UTC)

	d := New(&fakeTimestamps{})
	g, err := d.DetectGaps(context.Background(), "energy_prices", nil, windowStart, now)

	require.NoError(t, err)
	require.Len(t, g, 1)
	assert.Equal(t, SeverityCritical, g[0].Severity)
	assert.Equal(t, windowStart, g[0].StartTime)
	assert.Equal(t, now, g[0].EndTime)
}

func TestDetectGapsFindsInteriorGap(t *testing.T) {
	base := time.Date(2025, 10, 22, 0, 0, 0, 0, time.UTC)
	ts := []time.Time{
		base,
		base.Add(1 * time.Hour),
		base.Add(2 * time.Hour),
		base.Add(10 * time.Hour), // 8h gap from previous
		base.Add(11 * time.Hour),
	}
	d := New(&fakeTimestamps{ts: ts})
	now := base.Add(11 * time.Hour) // no tail gap

	g, err := d.DetectGaps(context.Background(), "weather_data", nil, base, now)

	require.NoError(t, err)
	require.Len(t, g, 1)
	assert.Equal(t, base.Add(2*time.Hour), g[0].StartTime)
	assert.Equal(t, base.Add(10*time.Hour), g[0].EndTime)
	assert.Equal(t, SeverityModerate, g[0].Severity)
}

func TestDetectGapsMissingTail(t *testing.T) {
	base := time.Date(2025, 10, 22, 0, 0, 0, 0, time.UTC)
	ts := []time.Time{base, base.Add(1 * time.Hour)}
	now := base.Add(20 * time.Hour)

	d := New(&fakeTimestamps{ts: ts})
	g, err := d.DetectGaps(context.Background(), "energy_prices", nil, base, now)

	require.NoError(t, err)
	require.Len(t, g, 1)
	assert.Equal(t, base.Add(1*time.Hour), g[0].StartTime)
	assert.Equal(t, now, g[0].EndTime)
	assert.Equal(t, SeverityCritical, g[0].Severity)
}

func TestGapInvariants(t *testing.T) {
	base := time.Date(2025, 10, 22, 0, 0, 0, 0, time.UTC)
	ts := []time.Time{base, base.Add(5 * time.Hour)}
	now := base.Add(5 * time.Hour)

	d := New(&fakeTimestamps{ts: ts})
	g, err := d.DetectGaps(context.Background(), "energy_prices", nil, base, now)
	require.NoError(t, err)
	require.Len(t, g, 1)

	assert.Greater(t, g[0].DurationHours, 1.5*ExpectedInterval.Hours())
	assert.True(t, g[0].StartTime.Before(g[0].EndTime))
}

func TestSeverityClassification(t *testing.T) {
	assert.Equal(t, SeverityMinor, classify(1.5))
	assert.Equal(t, SeverityMinor, classify(2.0))
	assert.Equal(t, SeverityModerate, classify(2.1))
	assert.Equal(t, SeverityModerate, classify(12.0))
	assert.Equal(t, SeverityCritical, classify(12.1))
}
