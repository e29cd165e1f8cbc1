package optimizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatPrices(cheapHour int) [24]HourlyPrice {
	base := time.Date(2025, 10, 23, 0, 0, 0, 0, time.UTC)
	var prices [24]HourlyPrice
	for h := 0; h < 24; h++ {
		price := 0.25
		period := "P1"
		if h == cheapHour || (h >= cheapHour && h < cheapHour+8) {
			price = 0.08
			period = "P3"
		}
		prices[h] = HourlyPrice{TimestampUTC: base.Add(time.Duration(h) * time.Hour), PriceEURkWh: price, TariffPeriod: period}
	}
	return prices
}

func mildClimate() [24]ClimateHour {
	base := time.Date(2025, 10, 23, 0, 0, 0, 0, time.UTC)
	var climate [24]ClimateHour
	for h := 0; h < 24; h++ {
		climate[h] = ClimateHour{TimeUTCHelper(base, h), 20, 50}
	}
	return climate
}

// TimeUTCHelper avoids repeating the same Add expression in every test
// fixture builder.
func TimeUTCHelper(base time.Time, h int) time.Time {
	return base.Add(time.Duration(h) * time.Hour)
}

func TestPlanDailyRejectsEmptyRequests(t *testing.T) {
	_, err := PlanDaily(flatPrices(2), mildClimate(), 30, 32, 70, 75, nil)
	assert.Error(t, err)
}

func TestPlanDailyPacksStandardBatchIntoCheapWindow(t *testing.T) {
	plan, err := PlanDaily(flatPrices(2), mildClimate(), 30, 32, 70, 75, []BatchRequest{{Grade: GradeStandard, KG: 500}})
	require.NoError(t, err)
	require.Len(t, plan.Batches, 1)

	b := plan.Batches[0]
	assert.Equal(t, 6, b.EndHour-b.StartHour)
	assert.GreaterOrEqual(t, b.StartHour, 2)
	assert.LessOrEqual(t, b.EndHour, 10)
}

func TestPlanDailyAvoidsClimatePenalizedHours(t *testing.T) {
	climate := mildClimate()
	// make the cheap window (hours 2-9) climate-penalized
	for h := 2; h < 10; h++ {
		climate[h].Temperature = 40
	}
	plan, err := PlanDaily(flatPrices(2), climate, 30, 32, 70, 75, []BatchRequest{{Grade: GradeStandard, KG: 500}})
	require.NoError(t, err)
	require.Len(t, plan.Batches, 1)

	b := plan.Batches[0]
	for h := b.StartHour; h < b.EndHour; h++ {
		assert.GreaterOrEqual(t, h, 10) // must avoid [2,10); hours 0-1 cannot hold a 6-hour batch
	}
}

func TestPlanDailySavingsIsPositiveForValleyPacking(t *testing.T) {
	plan, err := PlanDaily(flatPrices(2), mildClimate(), 30, 32, 70, 75, []BatchRequest{{Grade: GradeStandard, KG: 500}})
	require.NoError(t, err)
	assert.Greater(t, plan.SavingsVsBaseline, 0.0)
}

func TestPlanDailyRejectsUnknownGrade(t *testing.T) {
	_, err := PlanDaily(flatPrices(2), mildClimate(), 30, 32, 70, 75, []BatchRequest{{Grade: "bogus", KG: 1}})
	assert.Error(t, err)
}

func TestMachineForOffsetSpansFullSequence(t *testing.T) {
	assert.Equal(t, MachineMezcladora, machineForOffset(0, 6))
	assert.Equal(t, MachineTempladora, machineForOffset(5, 6))
}

func TestBuildSummaryReportsFixedCapability(t *testing.T) {
	s := BuildSummary()
	assert.Len(t, s.SupportedGrades, 3)
	assert.Equal(t, Sequence, s.MachineSequence)
}
