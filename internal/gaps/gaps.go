// Package gaps scans a measurement's timestamps over a window and emits
// gap descriptors with severity, per §4.4. Its one I/O call is the
// timestamp query that DetectGaps makes through the Timestamps interface
// (satisfied by store.Store); the rest is pure computation over the result.
package gaps

import (
	"context"
	"time"

	"github.com/aristath/chocofactory/internal/store"
)

// ExpectedInterval is the cadence both measurements are expected at:
// hourly, for live sources.
const ExpectedInterval = time.Hour

// gapThresholdFactor scales the expected interval into the gap threshold:
// consecutive points more than 1.5x the expected interval apart form a gap.
const gapThresholdFactor = 1.5

// Severity buckets, by gap duration.
type Severity string

const (
	SeverityMinor    Severity = "minor"    // <= 2h
	SeverityModerate Severity = "moderate" // 2-12h
	SeverityCritical Severity = "critical" // > 12h
)

// Gap describes one contiguous interval with no points where points were
// expected.
type Gap struct {
	Measurement     string
	StartTime       time.Time
	EndTime         time.Time
	DurationHours   float64
	ExpectedRecords int
	Severity        Severity
}

func classify(durationHours float64) Severity {
	switch {
	case durationHours <= 2:
		return SeverityMinor
	case durationHours <= 12:
		return SeverityModerate
	default:
		return SeverityCritical
	}
}

func newGap(measurement string, start, end time.Time) Gap {
	duration := end.Sub(start)
	hours := duration.Hours()
	return Gap{
		Measurement:     measurement,
		StartTime:       start,
		EndTime:         end,
		DurationHours:   hours,
		ExpectedRecords: int(duration / ExpectedInterval),
		Severity:        classify(hours),
	}
}

// Timestamps is the minimal read surface DetectGaps needs, satisfied by
// store.Store.
type Timestamps interface {
	Timestamps(ctx context.Context, measurement string, tagFilter map[string]string, start, end time.Time) ([]time.Time, error)
}

// Detector scans timestamps and emits gap descriptors.
type Detector struct {
	store Timestamps
}

// New builds a Detector.
func New(s Timestamps) *Detector {
	return &Detector{store: s}
}

// DetectGaps scans measurement over [windowStart, now] and returns one
// descriptor per contiguous gap, in chronological order. An empty result
// set (no data at all) becomes a single critical gap covering the whole
// window. A missing tail (latest point older than now - interval) is
// reported as a gap from latest to now.
func (d *Detector) DetectGaps(ctx context.Context, measurement string, tagFilter map[string]string, windowStart, now time.Time) ([]Gap, error) {
	timestamps, err := d.store.Timestamps(ctx, measurement, tagFilter, windowStart, now)
	if err != nil {
		return nil, err
	}

	if len(timestamps) == 0 {
		g := newGap(measurement, windowStart, now)
		g.Severity = SeverityCritical
		return []Gap{g}, nil
	}

	threshold := time.Duration(float64(ExpectedInterval) * gapThresholdFactor)

	var out []Gap
	for i := 1; i < len(timestamps); i++ {
		delta := timestamps[i].Sub(timestamps[i-1])
		if delta > threshold {
			out = append(out, newGap(measurement, timestamps[i-1], timestamps[i]))
		}
	}

	// missing tail: latest point older than now - expected interval
	latest := timestamps[len(timestamps)-1]
	if now.Sub(latest) > ExpectedInterval {
		out = append(out, newGap(measurement, latest, now))
	}

	return out, nil
}

// Summary aggregates REE and weather gap state as reported at /gaps/summary.
type Summary struct {
	REEGapHours     float64
	WeatherGapHours float64
	LastREETime     time.Time
	LastWeatherTime time.Time
}

// LatestTimestamps is satisfied by store.Store.
type LatestTimestamps interface {
	LatestTimestamp(ctx context.Context, measurement string, tagFilter map[string]string) (time.Time, error)
}

// BuildSummary computes the advisory summary from the latest timestamp of
// each measurement. This is advisory only — CountInRange remains the
// authoritative coverage count per §9's open-question resolution.
func BuildSummary(ctx context.Context, s LatestTimestamps, now time.Time) (Summary, error) {
	reeLatest, err := s.LatestTimestamp(ctx, store.MeasurementEnergyPrices, map[string]string{"provider": "ree"})
	if err != nil {
		return Summary{}, err
	}
	weatherLatest, err := s.LatestTimestamp(ctx, store.MeasurementWeatherData, nil)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{LastREETime: reeLatest, LastWeatherTime: weatherLatest}
	if !reeLatest.IsZero() {
		summary.REEGapHours = now.Sub(reeLatest).Hours()
	}
	if !weatherLatest.IsZero() {
		summary.WeatherGapHours = now.Sub(weatherLatest).Hours()
	}
	return summary, nil
}
