// Package backfill picks a strategy per gap (recent vs historical, which
// source), chunks the work, invokes the appropriate client, writes
// through the time-series store, and reports per-gap outcomes. It never
// makes external calls in tight loops: it respects each client's own rate
// limiter and sleeps between AEMET chunks per §4.5's invariant.
package backfill

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/chocofactory/internal/alerts"
	"github.com/aristath/chocofactory/internal/clients/aemet"
	"github.com/aristath/chocofactory/internal/clients/ree"
	"github.com/aristath/chocofactory/internal/gaps"
	"github.com/aristath/chocofactory/internal/siar"
	"github.com/aristath/chocofactory/internal/store"
)

// interChunkSleepMin/Max bound the pause between AEMET backfill chunks,
// empirically required to avoid sustained 429s.
const (
	interChunkSleepMin = 8 * time.Second
	interChunkSleepMax = 15 * time.Second
)

// MaxRetriesModerate/Minor bound the per-gap chunk retry counter by
// severity, per §4.5.
const (
	MaxRetriesModerate = 3
	MaxRetriesMinor    = 2
)

// DefaultAutoThresholdHours is RunAuto's default gate.
const DefaultAutoThresholdHours = 6.0

// GapReport is the outcome of backfilling one gap.
type GapReport struct {
	Gap               gaps.Gap
	RecordsRequested  int
	RecordsObtained   int
	RecordsWritten    int
	Attempts          int
	Errors            []string
}

// Report is the outcome of a full backfill run.
type Report struct {
	NoActionNeeded       bool
	Gaps                 []GapReport
	RecordsRequested     int
	RecordsObtained      int
	RecordsWritten       int
	PerSourceSuccessRate map[string]float64
}

// RetryTracker persists per-gap retry counters across restarts, keyed by
// a deterministic gap id (measurement + start timestamp).
type RetryTracker interface {
	Attempts(gapID string) (int, error)
	RecordAttempt(gapID, measurement string, start, end time.Time, err error) error
}

// Engine runs backfill cycles.
type Engine struct {
	store    *store.Store
	detector *gaps.Detector
	ree      *ree.Client
	aemet    *aemet.Client
	etl      *siar.ETLReader
	alerts   *alerts.Sink
	retries  RetryTracker
	station  string
	log      zerolog.Logger

	sleep func(time.Duration) // overridable for tests
}

// Config wires an Engine's collaborators.
type Config struct {
	Store          *store.Store
	Detector       *gaps.Detector
	REE            *ree.Client
	AEMET          *aemet.Client
	ETL            *siar.ETLReader
	Alerts         *alerts.Sink
	Retries        RetryTracker
	DefaultStation string
}

// New builds an Engine.
func New(cfg Config, log zerolog.Logger) *Engine {
	return &Engine{
		store:    cfg.Store,
		detector: cfg.Detector,
		ree:      cfg.REE,
		aemet:    cfg.AEMET,
		etl:      cfg.ETL,
		alerts:   cfg.Alerts,
		retries:  cfg.Retries,
		station:  cfg.DefaultStation,
		log:      log.With().Str("component", "backfill").Logger(),
		sleep:    time.Sleep,
	}
}

func gapID(g gaps.Gap) string {
	return fmt.Sprintf("%s:%d", g.Measurement, g.StartTime.Unix())
}

// RunAuto scans both measurements over the trailing 7 days; if the worst
// gap is within threshold, it returns NoActionNeeded without making any
// external calls — the threshold gate that keeps this from polling
// upstreams on every scheduler tick.
func (e *Engine) RunAuto(ctx context.Context, thresholdHours float64) (Report, error) {
	now := time.Now().UTC()
	windowStart := now.AddDate(0, 0, -7)

	reeGaps, err := e.detector.DetectGaps(ctx, store.MeasurementEnergyPrices, map[string]string{"provider": "ree"}, windowStart, now)
	if err != nil {
		return Report{}, err
	}
	weatherGaps, err := e.detector.DetectGaps(ctx, store.MeasurementWeatherData, nil, windowStart, now)
	if err != nil {
		return Report{}, err
	}

	worst := 0.0
	for _, g := range append(append([]gaps.Gap{}, reeGaps...), weatherGaps...) {
		if g.DurationHours > worst {
			worst = g.DurationHours
		}
	}

	if worst <= thresholdHours {
		return Report{NoActionNeeded: true}, nil
	}

	all := append(reeGaps, weatherGaps...)
	return e.runGaps(ctx, all, now)
}

// RunRange backfills a specific date range for a single source ("ree" or
// "weather"), ignoring gap detection — used by the request layer's
// explicit range-backfill operation.
func (e *Engine) RunRange(ctx context.Context, start, end time.Time, source string) (Report, error) {
	var measurement string
	switch source {
	case "ree":
		measurement = store.MeasurementEnergyPrices
	case "weather":
		measurement = store.MeasurementWeatherData
	default:
		return Report{}, fmt.Errorf("unknown backfill source %q", source)
	}

	g := gaps.Gap{Measurement: measurement, StartTime: start, EndTime: end, DurationHours: end.Sub(start).Hours()}
	return e.runGaps(ctx, []gaps.Gap{g}, time.Now().UTC())
}

// RunManual backfills the trailing daysBack days for both measurements,
// regardless of whether a gap was detected — a forced re-pull.
func (e *Engine) RunManual(ctx context.Context, daysBack int) (Report, error) {
	now := time.Now().UTC()
	start := now.AddDate(0, 0, -daysBack)

	g := []gaps.Gap{
		{Measurement: store.MeasurementEnergyPrices, StartTime: start, EndTime: now, DurationHours: now.Sub(start).Hours()},
		{Measurement: store.MeasurementWeatherData, StartTime: start, EndTime: now, DurationHours: now.Sub(start).Hours()},
	}
	return e.runGaps(ctx, g, now)
}

// runGaps processes gaps in severity order (critical first), then
// chronologically, applying the strategy table of §4.5.
func (e *Engine) runGaps(ctx context.Context, gapList []gaps.Gap, now time.Time) (Report, error) {
	sort.SliceStable(gapList, func(i, j int) bool {
		si, sj := severityRank(gapList[i].Severity), severityRank(gapList[j].Severity)
		if si != sj {
			return si > sj
		}
		return gapList[i].StartTime.Before(gapList[j].StartTime)
	})

	report := Report{PerSourceSuccessRate: map[string]float64{}}
	sourceRequested := map[string]int{}
	sourceObtained := map[string]int{}

	for _, g := range gapList {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		gr := e.runOneGap(ctx, g, now)
		report.Gaps = append(report.Gaps, gr)
		report.RecordsRequested += gr.RecordsRequested
		report.RecordsObtained += gr.RecordsObtained
		report.RecordsWritten += gr.RecordsWritten

		src := sourceFor(g, now)
		sourceRequested[src] += gr.RecordsRequested
		sourceObtained[src] += gr.RecordsObtained
	}

	for src, req := range sourceRequested {
		if req == 0 {
			report.PerSourceSuccessRate[src] = 1.0
			continue
		}
		report.PerSourceSuccessRate[src] = float64(sourceObtained[src]) / float64(req)
	}

	if e.alerts != nil {
		e.alerts.Send("backfill_completed", alerts.SeverityInfo,
			fmt.Sprintf("backfill run wrote %d/%d requested records across %d gaps", report.RecordsWritten, report.RecordsRequested, len(gapList)))
	}

	return report, nil
}

func severityRank(s gaps.Severity) int {
	switch s {
	case gaps.SeverityCritical:
		return 2
	case gaps.SeverityModerate:
		return 1
	default:
		return 0
	}
}

func sourceFor(g gaps.Gap, now time.Time) string {
	if g.Measurement == store.MeasurementEnergyPrices {
		return "ree"
	}
	if isCurrentMonth(g.StartTime, now) {
		return "aemet"
	}
	return "aemet_or_etl"
}

func isCurrentMonth(t, now time.Time) bool {
	return t.Year() == now.Year() && t.Month() == now.Month()
}

func maxRetriesFor(s gaps.Severity) int {
	switch s {
	case gaps.SeverityModerate, gaps.SeverityCritical:
		return MaxRetriesModerate
	default:
		return MaxRetriesMinor
	}
}

// runOneGap backfills a single gap using the source appropriate to its
// measurement and age, chunking per the client's own tolerance.
func (e *Engine) runOneGap(ctx context.Context, g gaps.Gap, now time.Time) GapReport {
	gr := GapReport{Gap: g}

	if g.Measurement == store.MeasurementEnergyPrices {
		e.backfillREE(ctx, g, &gr)
		return gr
	}

	if isCurrentMonth(g.StartTime, now) {
		e.backfillAEMET(ctx, g, &gr)
		return gr
	}

	// older than current month: prefer the historical ETL reader if data
	// is available for the window, else fall back to AEMET with high
	// tolerance (errors don't abort the gap, just reduce records obtained)
	if e.etl != nil {
		if pts, err := e.etl.Read(g.StartTime, g.EndTime); err == nil && len(pts) > 0 {
			gr.RecordsRequested = g.ExpectedRecords
			gr.RecordsObtained = len(pts)
			e.writeETLPoints(ctx, pts, &gr)
			return gr
		}
	}
	e.backfillAEMET(ctx, g, &gr)
	return gr
}

func (e *Engine) backfillREE(ctx context.Context, g gaps.Gap, gr *GapReport) {
	maxRetries := maxRetriesFor(g.Severity)
	gr.RecordsRequested = g.ExpectedRecords

	prices, errs := e.ree.FetchPrices(ctx, g.StartTime, g.EndTime)
	gr.Attempts = len(errs) + 1
	for _, err := range errs {
		gr.Errors = append(gr.Errors, err.Error())
	}
	if len(errs) > maxRetries && e.retries != nil {
		_ = e.retries.RecordAttempt(gapID(g), g.Measurement, g.StartTime, g.EndTime, fmt.Errorf("%d chunk failures", len(errs)))
	}
	if len(prices) == 0 && len(errs) > 0 {
		return
	}

	gr.RecordsObtained = len(prices)
	points := make([]store.Point, 0, len(prices))
	for _, p := range prices {
		points = append(points, store.Point{
			Measurement: store.MeasurementEnergyPrices,
			Tags: map[string]string{
				"provider":      "ree",
				"data_source":   "ree_historical",
				"tariff_period": p.TariffPeriod,
			},
			Fields: map[string]interface{}{"price_eur_kwh": p.PriceEURkWh},
			Time:   p.TimestampUTC,
		})
	}

	if err := e.store.WritePoints(ctx, points); err != nil {
		gr.Errors = append(gr.Errors, err.Error())
		return
	}
	gr.RecordsWritten = len(points)
}

func (e *Engine) backfillAEMET(ctx context.Context, g gaps.Gap, gr *GapReport) {
	gr.RecordsRequested = g.ExpectedRecords
	maxRetries := maxRetriesFor(g.Severity)

	// one client call per quarter chunk, pausing between consecutive chunks
	var points []aemet.WeatherPoint
	var errs []error
	for cs := g.StartTime; cs.Before(g.EndTime); cs = cs.AddDate(0, 0, aemet.MaxChunkDays) {
		if cs.After(g.StartTime) {
			e.sleep(interChunkSleep())
		}
		ce := cs.AddDate(0, 0, aemet.MaxChunkDays-1)
		if ce.After(g.EndTime) {
			ce = g.EndTime
		}
		chunkPoints, chunkErrs := e.aemet.FetchDailyClimatological(ctx, e.station, cs, ce)
		points = append(points, chunkPoints...)
		errs = append(errs, chunkErrs...)
	}
	gr.Attempts = len(errs) + 1
	for _, err := range errs {
		gr.Errors = append(gr.Errors, err.Error())
	}
	if len(errs) > maxRetries && e.retries != nil {
		_ = e.retries.RecordAttempt(gapID(g), g.Measurement, g.StartTime, g.EndTime, fmt.Errorf("%d chunk failures", len(errs)))
	}

	gr.RecordsObtained = len(points)

	storePoints := make([]store.Point, 0, len(points))
	for _, p := range points {
		fields := make(map[string]interface{}, len(p.Fields))
		for k, v := range p.Fields {
			fields[k] = v
		}
		storePoints = append(storePoints, store.Point{
			Measurement: store.MeasurementWeatherData,
			Tags: map[string]string{
				"station_id":   p.StationID,
				"station_name": p.StationName,
				"province":     p.Province,
				"data_source":  "aemet",
				"data_type":    p.DataType,
			},
			Fields: fields,
			Time:   p.TimestampUTC,
		})
	}

	// the points of all chunks are written as one batch, then one more pause
	// keeps the next gap's first AEMET call from following this one at once.
	if err := e.store.WritePoints(ctx, storePoints); err != nil {
		gr.Errors = append(gr.Errors, err.Error())
		return
	}
	gr.RecordsWritten = len(storePoints)

	e.sleep(interChunkSleep())
}

func (e *Engine) writeETLPoints(ctx context.Context, pts []store.Point, gr *GapReport) {
	if err := e.store.WritePoints(ctx, pts); err != nil {
		gr.Errors = append(gr.Errors, err.Error())
		return
	}
	gr.RecordsWritten = len(pts)
}

// interChunkSleep picks a duration in [interChunkSleepMin, interChunkSleepMax].
// Deterministic at the midpoint rather than randomized, since nothing in
// this codebase should depend on wall-clock jitter for correctness.
func interChunkSleep() time.Duration {
	return (interChunkSleepMin + interChunkSleepMax) / 2
}
