// Package forecast fits an additive daily+weekly seasonal decomposition
// plus a linear trend over historical electricity prices, and serves
// hourly forecasts with confidence bounds from the most recently trained
// model. Training appends a metrics record to an append-only CSV log and
// checks for degradation against a rolling 30-run baseline.
package forecast

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/chocofactory/internal/alerts"
	"github.com/aristath/chocofactory/internal/apperrors"
)

// MinForecastHours/MaxForecastHours bound Forecast's hours argument.
const (
	MinForecastHours = 1
	MaxForecastHours = 168
)

const degradationTopic = "prophet_model_degradation"

// HourlyPrice is one training observation.
type HourlyPrice struct {
	TimestampUTC time.Time
	PriceEURkWh  float64
}

// Point is one forecast entry.
type Point struct {
	TimestampUTC time.Time
	Predicted    float64
	Lower        float64
	Upper        float64
}

// Metrics describes one train run's held-out performance.
type Metrics struct {
	Timestamp      time.Time
	MAE            float64
	RMSE           float64
	R2             float64
	CICoverage     float64
	TrainSamples   int
	TestSamples    int
}

// Status summarizes the currently loaded model.
type Status struct {
	LastTraining time.Time
	Metrics      Metrics
	ModelOK      bool
}

// model is the trained additive decomposition: an intercept + trend slope,
// 24 hour-of-day seasonal offsets, and 7 day-of-week seasonal offsets.
// Residual standard deviation backs the forecast's confidence interval.
type model struct {
	TrainedAt    time.Time
	Intercept    float64
	TrendPerHour float64
	HourOfDay    [24]float64
	DayOfWeek    [7]float64
	ResidualStd  float64
	TrainOrigin  time.Time // t=0 reference for the trend term
}

// Forecaster trains and serves price forecasts.
type Forecaster struct {
	alerts      *alerts.Sink
	metricsPath string
	artifactDir string

	mu          sync.RWMutex
	current     *model
	lastMetrics Metrics
}

// Config wires a Forecaster's storage locations.
type Config struct {
	ArtifactDir string // directory holding prophet_<iso>.pkl + prophet_latest.pkl
	MetricsPath string // models/metrics_history.csv
}

// New builds a Forecaster. It does not load an existing artifact; call
// LoadLatest to do that at startup.
func New(cfg Config, sink *alerts.Sink) *Forecaster {
	return &Forecaster{
		alerts:      sink,
		metricsPath: cfg.MetricsPath,
		artifactDir: cfg.ArtifactDir,
	}
}

// Train fits the model on history (expected to already be filtered to the
// desired months-back window by the caller) using an 80/20 chronological
// split, persists the artifact, appends metrics, and checks for
// degradation.
func (f *Forecaster) Train(history []HourlyPrice) (Metrics, error) {
	if len(history) < 48 {
		return Metrics{}, fmt.Errorf("%w: need at least 48 hourly observations to train, got %d", apperrors.ErrValidation, len(history))
	}

	sorted := append([]HourlyPrice{}, history...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TimestampUTC.Before(sorted[j].TimestampUTC) })

	splitIdx := int(float64(len(sorted)) * 0.8)
	train := sorted[:splitIdx]
	test := sorted[splitIdx:]
	if len(test) == 0 {
		test = sorted[len(sorted)-1:]
	}

	m := fitModel(train)

	metrics := evaluate(m, test)
	metrics.Timestamp = time.Now().UTC()
	metrics.TrainSamples = len(train)
	metrics.TestSamples = len(test)

	if err := f.persistArtifact(m); err != nil {
		return metrics, err
	}

	history30, err := f.appendMetrics(metrics)
	if err != nil {
		return metrics, err
	}

	f.mu.Lock()
	f.current = m
	f.lastMetrics = metrics
	f.mu.Unlock()

	f.checkDegradation(metrics, history30)

	return metrics, nil
}

// fitModel computes an intercept + linear trend (via gonum least squares)
// and per-hour-of-day / per-day-of-week additive offsets from the
// residuals of the trend fit.
func fitModel(train []HourlyPrice) *model {
	n := len(train)
	origin := train[0].TimestampUTC

	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, p := range train {
		xs[i] = p.TimestampUTC.Sub(origin).Hours()
		ys[i] = p.PriceEURkWh
	}

	intercept, slope := linearLeastSquares(xs, ys)

	hourSum := [24]float64{}
	hourCount := [24]int{}
	daySum := [7]float64{}
	dayCount := [7]int{}

	residuals := make([]float64, n)
	for i, p := range train {
		trendVal := intercept + slope*xs[i]
		resid := ys[i] - trendVal
		residuals[i] = resid

		h := p.TimestampUTC.Hour()
		hourSum[h] += resid
		hourCount[h]++

		d := int(p.TimestampUTC.Weekday())
		daySum[d] += resid
		dayCount[d]++
	}

	m := &model{
		TrainedAt:    time.Now().UTC(),
		Intercept:    intercept,
		TrendPerHour: slope,
		TrainOrigin:  origin,
	}
	for h := 0; h < 24; h++ {
		if hourCount[h] > 0 {
			m.HourOfDay[h] = hourSum[h] / float64(hourCount[h])
		}
	}
	for d := 0; d < 7; d++ {
		if dayCount[d] > 0 {
			m.DayOfWeek[d] = daySum[d] / float64(dayCount[d])
		}
	}

	// residual std after removing both seasonal components, for CI width
	var sqSum float64
	for i, p := range train {
		seasonal := m.HourOfDay[p.TimestampUTC.Hour()] + m.DayOfWeek[int(p.TimestampUTC.Weekday())]
		err := residuals[i] - seasonal
		sqSum += err * err
	}
	if n > 0 {
		m.ResidualStd = math.Sqrt(sqSum / float64(n))
	}

	return m
}

// linearLeastSquares fits y = a + b*x via gonum's normal-equations solve
// over a simple 2-column design matrix.
func linearLeastSquares(xs, ys []float64) (intercept, slope float64) {
	n := len(xs)
	a := mat.NewDense(n, 2, nil)
	b := mat.NewVecDense(n, ys)
	for i := 0; i < n; i++ {
		a.Set(i, 0, 1)
		a.Set(i, 1, xs[i])
	}

	var ata mat.Dense
	ata.Mul(a.T(), a)
	var atb mat.Dense
	atb.Mul(a.T(), b)

	var coeffs mat.Dense
	if err := coeffs.Solve(&ata, &atb); err != nil {
		return meanOf(ys), 0
	}

	return coeffs.At(0, 0), coeffs.At(1, 0)
}

func meanOf(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

// predict returns the point forecast and residual-derived bounds for t.
func (m *model) predict(t time.Time) Point {
	hoursSinceOrigin := t.Sub(m.TrainOrigin).Hours()
	trendVal := m.Intercept + m.TrendPerHour*hoursSinceOrigin
	seasonal := m.HourOfDay[t.Hour()] + m.DayOfWeek[int(t.Weekday())]
	predicted := trendVal + seasonal

	// 95% CI: +/- 1.96 residual std
	margin := 1.96 * m.ResidualStd
	return Point{
		TimestampUTC: t,
		Predicted:    predicted,
		Lower:        predicted - margin,
		Upper:        predicted + margin,
	}
}

// evaluate computes MAE/RMSE/R²/CI-coverage of m against held-out data.
func evaluate(m *model, test []HourlyPrice) Metrics {
	n := len(test)
	if n == 0 {
		return Metrics{}
	}

	var sumAbs, sumSq, sumY float64
	var inCI int
	actual := make([]float64, n)
	for i, p := range test {
		actual[i] = p.PriceEURkWh
		sumY += p.PriceEURkWh
	}
	meanY := sumY / float64(n)

	var ssRes, ssTot float64
	for i, p := range test {
		pred := m.predict(p.TimestampUTC)
		err := p.PriceEURkWh - pred.Predicted
		sumAbs += math.Abs(err)
		sumSq += err * err
		ssRes += err * err
		ssTot += (p.PriceEURkWh - meanY) * (p.PriceEURkWh - meanY)
		if p.PriceEURkWh >= pred.Lower && p.PriceEURkWh <= pred.Upper {
			inCI++
		}
	}

	r2 := 0.0
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}

	return Metrics{
		MAE:        sumAbs / float64(n),
		RMSE:       math.Sqrt(sumSq / float64(n)),
		R2:         r2,
		CICoverage: float64(inCI) / float64(n),
	}
}

// Forecast returns exactly hours entries starting at the next full hour,
// using the currently loaded model.
func (f *Forecaster) Forecast(hours int) ([]Point, error) {
	if hours < MinForecastHours || hours > MaxForecastHours {
		return nil, fmt.Errorf("%w: hours must be in [%d,%d], got %d", apperrors.ErrValidation, MinForecastHours, MaxForecastHours, hours)
	}

	f.mu.RLock()
	m := f.current
	f.mu.RUnlock()
	if m == nil {
		return nil, fmt.Errorf("%w: no trained model loaded", apperrors.ErrModelUnavailable)
	}

	start := nextFullHour(time.Now().UTC())
	out := make([]Point, hours)
	for i := 0; i < hours; i++ {
		out[i] = m.predict(start.Add(time.Duration(i) * time.Hour))
	}
	return out, nil
}

func nextFullHour(t time.Time) time.Time {
	truncated := t.Truncate(time.Hour)
	if truncated.Before(t) {
		truncated = truncated.Add(time.Hour)
	}
	return truncated
}

// Status reports the currently loaded model's training time and last
// evaluated metrics.
func (f *Forecaster) Status() Status {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.current == nil {
		return Status{}
	}
	return Status{
		LastTraining: f.current.TrainedAt,
		Metrics:      f.lastMetrics,
		ModelOK:      true,
	}
}

// persistArtifact gob-encodes the model and writes it to a timestamped
// file, then atomically updates the "latest" pointer via rename. The
// ".pkl" extension is kept to match the persisted-state layout's naming,
// even though the payload is gob, not pickle.
func (f *Forecaster) persistArtifact(m *model) error {
	if f.artifactDir == "" {
		return nil
	}
	if err := os.MkdirAll(f.artifactDir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return fmt.Errorf("encode model artifact: %w", err)
	}

	name := fmt.Sprintf("prophet_%s.pkl", m.TrainedAt.Format("20060102T150405Z"))
	versioned := filepath.Join(f.artifactDir, name)
	if err := os.WriteFile(versioned, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write model artifact: %w", err)
	}

	latest := filepath.Join(f.artifactDir, "prophet_latest.pkl")
	tmp := latest + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write latest artifact staging file: %w", err)
	}
	if err := os.Rename(tmp, latest); err != nil {
		return fmt.Errorf("publish latest artifact: %w", err)
	}

	return nil
}

// LoadLatest reads prophet_latest.pkl into memory, for use at startup.
func (f *Forecaster) LoadLatest() error {
	if f.artifactDir == "" {
		return fmt.Errorf("%w: no artifact directory configured", apperrors.ErrModelUnavailable)
	}
	path := filepath.Join(f.artifactDir, "prophet_latest.pkl")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read latest artifact: %v", apperrors.ErrModelUnavailable, err)
	}

	var m model
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return fmt.Errorf("%w: decode latest artifact: %v", apperrors.ErrModelUnavailable, err)
	}

	f.mu.Lock()
	f.current = &m
	f.mu.Unlock()
	return nil
}
