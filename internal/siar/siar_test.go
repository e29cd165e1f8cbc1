package siar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEfficiencyOptimalBandScoresMax(t *testing.T) {
	assert.Equal(t, 100.0, Efficiency(20, 55))
}

func TestEfficiencyDecaysOutsideBand(t *testing.T) {
	inBand := Efficiency(20, 55)
	outBand := Efficiency(35, 55)
	assert.Less(t, outBand, inBand)
}

func TestEfficiencyFloorsAtZero(t *testing.T) {
	// the temperature sub-score floors at 0 instead of going negative; the
	// in-band humidity still contributes 100*0.4
	assert.Equal(t, 40.0, Efficiency(100, 55))
}

func sampleRecords() []Record {
	base := time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	var recs []Record
	for i := 0; i < 365; i++ {
		d := base.AddDate(0, 0, i)
		temp := 15 + 10*float64(d.Month())/12.0
		hum := 50.0
		recs = append(recs, Record{Date: d, Temperature: temp, Humidity: hum})
	}
	return recs
}

func TestCorrelationsWithinUnitRange(t *testing.T) {
	a := New(sampleRecords())
	c := a.Correlations()
	assert.GreaterOrEqual(t, c.TemperatureR2, 0.0)
	assert.LessOrEqual(t, c.TemperatureR2, 1.0)
}

func TestSeasonalPatternsRanksAllMonths(t *testing.T) {
	a := New(sampleRecords())
	s := a.SeasonalPatterns()
	assert.Len(t, s.ByMonth, 12)
	assert.NotEqual(t, time.Month(0), s.Best)
	assert.NotEqual(t, time.Month(0), s.Worst)
}

func TestCriticalThresholdsOrdered(t *testing.T) {
	a := New(sampleRecords())
	th := a.CriticalThresholds()
	assert.LessOrEqual(t, th.Temperature.P90, th.Temperature.P95)
	assert.LessOrEqual(t, th.Temperature.P95, th.Temperature.P99)
}

func TestContextualizeOptimalDayGetsOptimalRecommendation(t *testing.T) {
	recs := []Record{
		{Date: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), Temperature: 20, Humidity: 55},
		{Date: time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), Temperature: 21, Humidity: 54},
	}
	a := New(recs)
	ctx := a.Contextualize([]ForecastInput{{Date: time.Now(), Temperature: 20.5, Humidity: 54.5}})
	require.Len(t, ctx, 1)
	assert.Equal(t, "optimal", ctx[0].Recommendation)
	assert.Equal(t, 2, ctx[0].AnalogDayCount)
}

func TestContextualizeExtremeDayEscalates(t *testing.T) {
	recs := sampleRecords()
	a := New(recs)
	th := a.CriticalThresholds()
	extreme := th.Temperature.P99 + 5
	ctx := a.Contextualize([]ForecastInput{{Date: time.Now(), Temperature: extreme, Humidity: 55}})
	require.Len(t, ctx, 1)
	assert.Equal(t, []string{"P99"}, ctx[0].ExceededThresholds)
	assert.Equal(t, "halt or shift to night", ctx[0].Recommendation)
}

func TestRecommendationForTiers(t *testing.T) {
	assert.Equal(t, "optimal", recommendationFor(nil))
	assert.Equal(t, "monitor; consider -10%", recommendationFor([]string{"P90"}))
	assert.Equal(t, "reduce production 15-20%", recommendationFor([]string{"P95"}))
	assert.Equal(t, "halt or shift to night", recommendationFor([]string{"P99"}))
}
