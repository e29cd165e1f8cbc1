// Package siar answers questions about the historical climate record: how
// strongly temperature and humidity correlate with a proxy production
// efficiency score, which months run best and worst, what the extreme
// percentile thresholds are, and how a forecast compares to analogous
// historical days. Every output is a pure function of the in-memory
// dataset, cached with a 24h TTL since the dataset itself never changes
// underneath a running process.
package siar

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Record is one historical daily observation.
type Record struct {
	Date        time.Time
	Temperature float64
	Humidity    float64
}

// optimal production band; efficiency decays linearly outside it.
const (
	tempOptimalLow   = 15.0
	tempOptimalHigh  = 25.0
	humidityOptimalLow  = 40.0
	humidityOptimalHigh = 70.0
)

// Efficiency computes the proxy production-efficiency score for one
// (temperature, humidity) pair: 100 inside the optimal band on each axis,
// decaying linearly outside, combined 0.6/0.4.
func Efficiency(temperature, humidity float64) float64 {
	return subscore(temperature, tempOptimalLow, tempOptimalHigh)*0.6 + subscore(humidity, humidityOptimalLow, humidityOptimalHigh)*0.4
}

func subscore(v, lo, hi float64) float64 {
	if v >= lo && v <= hi {
		return 100
	}
	var delta float64
	if v < lo {
		delta = lo - v
	} else {
		delta = v - hi
	}
	// decays to 0 over a 20-unit band past the edge; floors at 0
	score := 100 - delta*5
	if score < 0 {
		return 0
	}
	return score
}

// Correlations reports R² between each variable and the efficiency score.
type Correlations struct {
	TemperatureR2 float64
	HumidityR2    float64
}

// MonthStat is one calendar month's aggregate efficiency.
type MonthStat struct {
	Month          time.Month
	AvgEfficiency  float64
	SampleCount    int
}

// SeasonalPatterns ranks calendar months by average efficiency.
type SeasonalPatterns struct {
	ByMonth []MonthStat
	Best    time.Month
	Worst   time.Month
}

// Thresholds holds the p90/p95/p99 cutoff and historical occurrence count
// for one variable.
type Thresholds struct {
	P90               float64
	P95               float64
	P99               float64
	ExceedP90Count    int
	ExceedP95Count    int
	ExceedP99Count    int
}

// CriticalThresholds holds percentile thresholds per tracked variable.
type CriticalThresholds struct {
	Temperature Thresholds
	Humidity    Thresholds
}

// DayContext is the historical analogue summary attached to one forecast
// day by Contextualize.
type DayContext struct {
	Date               time.Time
	ForecastTemp       float64
	ForecastHumidity   float64
	AnalogDayCount     int
	AvgHistoricalEff   float64
	ExceededThresholds []string // "P90", "P95", "P99" labels that apply
	Recommendation     string
}

// ForecastInput is one day's forecast temperature/humidity, the input to
// Contextualize.
type ForecastInput struct {
	Date        time.Time
	Temperature float64
	Humidity    float64
}

const cacheTTL = 24 * time.Hour

// Analyzer answers queries over a fixed historical dataset, with cached
// results since nothing in the dataset changes between restarts.
type Analyzer struct {
	records []Record

	mu                sync.Mutex
	correlations      *Correlations
	correlationsAt     time.Time
	seasonal          *SeasonalPatterns
	seasonalAt        time.Time
	thresholds        *CriticalThresholds
	thresholdsAt      time.Time
}

// New builds an Analyzer over a fixed set of historical records.
func New(records []Record) *Analyzer {
	return &Analyzer{records: records}
}

func fresh(at time.Time) bool {
	return !at.IsZero() && time.Since(at) < cacheTTL
}

// Correlations returns R² between temperature/humidity and the efficiency
// proxy score, computed once and cached for 24h.
func (a *Analyzer) Correlations() Correlations {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.correlations != nil && fresh(a.correlationsAt) {
		return *a.correlations
	}

	temps := make([]float64, len(a.records))
	hums := make([]float64, len(a.records))
	effs := make([]float64, len(a.records))
	for i, r := range a.records {
		temps[i] = r.Temperature
		hums[i] = r.Humidity
		effs[i] = Efficiency(r.Temperature, r.Humidity)
	}

	result := Correlations{
		TemperatureR2: rSquared(temps, effs),
		HumidityR2:    rSquared(hums, effs),
	}
	a.correlations = &result
	a.correlationsAt = time.Now()
	return result
}

// rSquared computes the coefficient of determination for a simple linear
// fit of y on x.
func rSquared(x, y []float64) float64 {
	n := len(x)
	if n < 2 {
		return 0
	}
	var sumX, sumY float64
	for i := range x {
		sumX += x[i]
		sumY += y[i]
	}
	meanX := sumX / float64(n)
	meanY := sumY / float64(n)

	var sxy, sxx, syy float64
	for i := range x {
		dx := x[i] - meanX
		dy := y[i] - meanY
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0
	}
	r := sxy / math.Sqrt(sxx*syy)
	return r * r
}

// SeasonalPatterns returns per-month average efficiency with best/worst
// ranking, cached for 24h.
func (a *Analyzer) SeasonalPatterns() SeasonalPatterns {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seasonal != nil && fresh(a.seasonalAt) {
		return *a.seasonal
	}

	sums := map[time.Month]float64{}
	counts := map[time.Month]int{}
	for _, r := range a.records {
		m := r.Date.Month()
		sums[m] += Efficiency(r.Temperature, r.Humidity)
		counts[m]++
	}

	var stats []MonthStat
	for m := time.January; m <= time.December; m++ {
		if counts[m] == 0 {
			continue
		}
		stats = append(stats, MonthStat{Month: m, AvgEfficiency: sums[m] / float64(counts[m]), SampleCount: counts[m]})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Month < stats[j].Month })

	result := SeasonalPatterns{ByMonth: stats}
	if len(stats) > 0 {
		best, worst := stats[0], stats[0]
		for _, s := range stats {
			if s.AvgEfficiency > best.AvgEfficiency {
				best = s
			}
			if s.AvgEfficiency < worst.AvgEfficiency {
				worst = s
			}
		}
		result.Best = best.Month
		result.Worst = worst.Month
	}

	a.seasonal = &result
	a.seasonalAt = time.Now()
	return result
}

// CriticalThresholds returns p90/p95/p99 cutoffs and historical occurrence
// counts for temperature and humidity, cached for 24h.
func (a *Analyzer) CriticalThresholds() CriticalThresholds {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.thresholds != nil && fresh(a.thresholdsAt) {
		return *a.thresholds
	}

	temps := make([]float64, len(a.records))
	hums := make([]float64, len(a.records))
	for i, r := range a.records {
		temps[i] = r.Temperature
		hums[i] = r.Humidity
	}

	result := CriticalThresholds{
		Temperature: thresholdsFor(temps),
		Humidity:    thresholdsFor(hums),
	}
	a.thresholds = &result
	a.thresholdsAt = time.Now()
	return result
}

func thresholdsFor(values []float64) Thresholds {
	if len(values) == 0 {
		return Thresholds{}
	}
	sorted := append([]float64{}, values...)
	sort.Float64s(sorted)

	t := Thresholds{
		P90: percentile(sorted, 0.90),
		P95: percentile(sorted, 0.95),
		P99: percentile(sorted, 0.99),
	}
	for _, v := range values {
		if v > t.P90 {
			t.ExceedP90Count++
		}
		if v > t.P95 {
			t.ExceedP95Count++
		}
		if v > t.P99 {
			t.ExceedP99Count++
		}
	}
	return t
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := p * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// analogTemp/HumidityDelta bound how close a historical day must be to
// count as an analogue of a forecast day.
const (
	analogTempDelta     = 2.0
	analogHumidityDelta = 5.0
)

// Contextualize matches each forecast day against historical analogues
// (days within ±2°C and ±5% humidity) and emits a recommendation tier
// based on which percentile thresholds the forecast exceeds.
func (a *Analyzer) Contextualize(forecast []ForecastInput) []DayContext {
	thresholds := a.CriticalThresholds()
	out := make([]DayContext, 0, len(forecast))

	for _, f := range forecast {
		var analogs []Record
		for _, r := range a.records {
			if math.Abs(r.Temperature-f.Temperature) <= analogTempDelta && math.Abs(r.Humidity-f.Humidity) <= analogHumidityDelta {
				analogs = append(analogs, r)
			}
		}

		ctx := DayContext{
			Date:             f.Date,
			ForecastTemp:     f.Temperature,
			ForecastHumidity: f.Humidity,
			AnalogDayCount:   len(analogs),
		}

		if len(analogs) > 0 {
			var sum float64
			for _, r := range analogs {
				sum += Efficiency(r.Temperature, r.Humidity)
			}
			ctx.AvgHistoricalEff = sum / float64(len(analogs))
		}

		if f.Temperature > thresholds.Temperature.P99 || f.Humidity > thresholds.Humidity.P99 {
			ctx.ExceededThresholds = append(ctx.ExceededThresholds, "P99")
		} else if f.Temperature > thresholds.Temperature.P95 || f.Humidity > thresholds.Humidity.P95 {
			ctx.ExceededThresholds = append(ctx.ExceededThresholds, "P95")
		} else if f.Temperature > thresholds.Temperature.P90 || f.Humidity > thresholds.Humidity.P90 {
			ctx.ExceededThresholds = append(ctx.ExceededThresholds, "P90")
		}

		ctx.Recommendation = recommendationFor(ctx.ExceededThresholds)
		out = append(out, ctx)
	}

	return out
}

func recommendationFor(exceeded []string) string {
	if len(exceeded) == 0 {
		return "optimal"
	}
	switch exceeded[len(exceeded)-1] {
	case "P99":
		return "halt or shift to night"
	case "P95":
		return "reduce production 15-20%"
	case "P90":
		return "monitor; consider -10%"
	default:
		return "optimal"
	}
}
