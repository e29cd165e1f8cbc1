package ree

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTariffPeriodForWeekend(t *testing.T) {
	sat := time.Date(2025, 10, 25, 12, 0, 0, 0, time.UTC) // Saturday
	assert.Equal(t, "P6", tariffPeriodFor(sat))
}

func TestTariffPeriodForWeekdayPeak(t *testing.T) {
	wed := time.Date(2025, 10, 22, 11, 0, 0, 0, time.UTC) // Wednesday, 11:00
	assert.Equal(t, "P1", tariffPeriodFor(wed))
}

func TestTariffPeriodForWeekdayValley(t *testing.T) {
	wed := time.Date(2025, 10, 22, 3, 0, 0, 0, time.UTC) // Wednesday, 03:00
	assert.Equal(t, "P3", tariffPeriodFor(wed))
}

// TestFetchPricesPartialFailure pulls a 3-day range where the middle day's
// request fails with a non-retryable status. The other two days must still
// come back, and the failure must surface as one of the returned errors
// rather than wiping out the whole range.
func TestFetchPricesPartialFailure(t *testing.T) {
	failDay := "2025-10-21" // the middle day of the range below

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := r.URL.Query().Get("start_date")
		if len(start) >= len(failDay) && start[:len(failDay)] == failDay {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"indicator":{"values":[{"value":0.15,"datetime":"%sT12:00:00Z","geo_id":8741}]}}`, start[:len(failDay)])
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: 5 * time.Second}, zerolog.Nop())

	start := time.Date(2025, 10, 20, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 10, 22, 0, 0, 0, 0, time.UTC)

	points, errs := c.FetchPrices(context.Background(), start, end)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), failDay)

	require.Len(t, points, 2)
	assert.Equal(t, 0.15, points[0].PriceEURkWh)
}
