package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	r := New()

	r.JobRuns.WithLabelValues("ree_ingest").Inc()
	r.JobFailures.WithLabelValues("ree_ingest").Inc()
	r.JobDuration.WithLabelValues("ree_ingest").Observe(0.2)
	r.GapsDetected.WithLabelValues("energy_prices", "minor").Inc()
	r.RecordsIngested.WithLabelValues("energy_prices", "ree").Add(24)
	r.RecordsBackfilled.WithLabelValues("weather_data", "aemet").Add(10)

	assert.Equal(t, float64(1), testutil.ToFloat64(r.JobRuns.WithLabelValues("ree_ingest")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.JobFailures.WithLabelValues("ree_ingest")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.GapsDetected.WithLabelValues("energy_prices", "minor")))
	assert.Equal(t, float64(24), testutil.ToFloat64(r.RecordsIngested.WithLabelValues("energy_prices", "ree")))
	assert.Equal(t, float64(10), testutil.ToFloat64(r.RecordsBackfilled.WithLabelValues("weather_data", "aemet")))
}

func TestGathererReturnsUnderlyingRegistry(t *testing.T) {
	r := New()
	mfs, err := r.Gatherer().Gather()
	assert := assert.New(t)
	assert.NoError(err)
	assert.NotEmpty(mfs)
}
