package backfill

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/chocofactory/internal/clients/ree"
	"github.com/aristath/chocofactory/internal/gaps"
	"github.com/aristath/chocofactory/internal/store"
)

func TestSeverityRankOrdersCriticalFirst(t *testing.T) {
	assert.Greater(t, severityRank(gaps.SeverityCritical), severityRank(gaps.SeverityModerate))
	assert.Greater(t, severityRank(gaps.SeverityModerate), severityRank(gaps.SeverityMinor))
}

func TestIsCurrentMonth(t *testing.T) {
	now := time.Date(2025, 10, 23, 12, 0, 0, 0, time.UTC)
	assert.True(t, isCurrentMonth(time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC), now))
	assert.False(t, isCurrentMonth(time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC), now))
}

func TestMaxRetriesForSeverity(t *testing.T) {
	assert.Equal(t, MaxRetriesModerate, maxRetriesFor(gaps.SeverityCritical))
	assert.Equal(t, MaxRetriesModerate, maxRetriesFor(gaps.SeverityModerate))
	assert.Equal(t, MaxRetriesMinor, maxRetriesFor(gaps.SeverityMinor))
}

func TestSourceForWeatherCurrentMonthIsAEMET(t *testing.T) {
	now := time.Date(2025, 10, 23, 0, 0, 0, 0, time.UTC)
	g := gaps.Gap{Measurement: store.MeasurementWeatherData, StartTime: time.Date(2025, 10, 5, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, "aemet", sourceFor(g, now))
}

func TestSourceForWeatherOlderMonthPrefersETL(t *testing.T) {
	now := time.Date(2025, 10, 23, 0, 0, 0, 0, time.UTC)
	g := gaps.Gap{Measurement: store.MeasurementWeatherData, StartTime: time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, "aemet_or_etl", sourceFor(g, now))
}

func TestSourceForREEIsAlwaysREE(t *testing.T) {
	now := time.Date(2025, 10, 23, 0, 0, 0, 0, time.UTC)
	g := gaps.Gap{Measurement: store.MeasurementEnergyPrices, StartTime: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, "ree", sourceFor(g, now))
}

func TestGapIDIsDeterministic(t *testing.T) {
	g := gaps.Gap{Measurement: "weather_data", StartTime: time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, gapID(g), gapID(g))
}

// fakeRetryTracker is an in-memory RetryTracker stand-in, used to check
// that backfillREE records an attempt once the failed-chunk count passes
// the gap's retry budget.
type fakeRetryTracker struct {
	recorded []string
}

func (f *fakeRetryTracker) Attempts(gapID string) (int, error) { return 0, nil }

func (f *fakeRetryTracker) RecordAttempt(gapID, measurement string, start, end time.Time, err error) error {
	f.recorded = append(f.recorded, gapID)
	return nil
}

func TestBackfillREERecordsRetryOnlyPastBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest) // every chunk fails
	}))
	defer srv.Close()

	retries := &fakeRetryTracker{}
	e := &Engine{
		ree:     ree.New(ree.Config{BaseURL: srv.URL, Timeout: 2 * time.Second}, zerolog.Nop()),
		retries: retries,
		log:     zerolog.Nop(),
	}

	// a minor gap from Oct 1 to Oct 4: FetchPrices includes the end day, so
	// 4 failed daily chunks, which exceeds MaxRetriesMinor (2)
	g := gaps.Gap{
		Measurement: store.MeasurementEnergyPrices,
		Severity:    gaps.SeverityMinor,
		StartTime:   time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC),
		EndTime:     time.Date(2025, 10, 4, 0, 0, 0, 0, time.UTC),
	}
	var gr GapReport
	e.backfillREE(context.Background(), g, &gr)

	require.Len(t, retries.recorded, 1)
	assert.Equal(t, gapID(g), retries.recorded[0])
	assert.Equal(t, 0, gr.RecordsObtained)
	assert.NotEmpty(t, gr.Errors)
}
