// Package ingest fans out calls to the external API clients, normalizes
// their responses into store.Points, and batch-writes them through the
// time-series store, one batch per source per cycle.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/chocofactory/internal/alerts"
	"github.com/aristath/chocofactory/internal/apperrors"
	"github.com/aristath/chocofactory/internal/clients/aemet"
	"github.com/aristath/chocofactory/internal/clients/openweathermap"
	"github.com/aristath/chocofactory/internal/clients/ree"
	"github.com/aristath/chocofactory/internal/store"
)

// Stats summarizes one ingestion cycle.
type Stats struct {
	RecordsWritten int
	RecordsFetched int
	SuccessRate    float64
	SourceUsed     string
	LatencyMS      int64
}

// Orchestrator drives REE and hybrid-weather ingestion cycles.
type Orchestrator struct {
	store    *store.Store
	ree      *ree.Client
	aemet    *aemet.Client
	owm      *openweathermap.Client
	alerts   *alerts.Sink
	station  string
	log      zerolog.Logger

	mu               sync.Mutex
	reeFailures      []time.Time
	weatherFailures  []time.Time
}

// Config wires an Orchestrator's collaborators.
type Config struct {
	Store          *store.Store
	REE            *ree.Client
	AEMET          *aemet.Client
	OWM            *openweathermap.Client
	Alerts         *alerts.Sink
	DefaultStation string
}

// New builds an Orchestrator.
func New(cfg Config, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:   cfg.Store,
		ree:     cfg.REE,
		aemet:   cfg.AEMET,
		owm:     cfg.OWM,
		alerts:  cfg.Alerts,
		station: cfg.DefaultStation,
		log:     log.With().Str("component", "ingest").Logger(),
	}
}

// IngestREE fetches the latest hourly price and writes it to the store.
// It fetches the last 2 hours to self-heal any single-hour gaps from a
// missed cycle without relying on the backfill engine for the common
// case.
func (o *Orchestrator) IngestREE(ctx context.Context) (Stats, error) {
	start := time.Now()
	end := time.Now().UTC()
	from := end.Add(-2 * time.Hour)

	prices, errs := o.ree.FetchPrices(ctx, from, end)
	if len(errs) > 0 {
		o.recordFailure(&o.reeFailures)
		o.maybeAlertConsecutiveFailures(&o.reeFailures, "ree_ingestion_failure")
		return Stats{}, fmt.Errorf("%w: ree fetch: %v", apperrors.ErrTransientUpstream, errs[0])
	}
	o.clearFailures(&o.reeFailures)

	points := make([]store.Point, 0, len(prices))
	for _, p := range prices {
		points = append(points, store.Point{
			Measurement: store.MeasurementEnergyPrices,
			Tags: map[string]string{
				"provider":      "ree",
				"data_source":   "ree_realtime",
				"tariff_period": p.TariffPeriod,
			},
			Fields: map[string]interface{}{
				"price_eur_kwh": p.PriceEURkWh,
			},
			Time: p.TimestampUTC,
		})
	}

	if err := o.store.WritePoints(ctx, points); err != nil {
		return Stats{}, err
	}

	return Stats{
		RecordsWritten: len(points),
		RecordsFetched: len(prices),
		SuccessRate:    successRate(len(points), len(prices)),
		SourceUsed:     "ree",
		LatencyMS:      time.Since(start).Milliseconds(),
	}, nil
}

// IngestWeatherHybrid applies the hybrid source-selection policy (§4.3):
// AEMET is preferred during its 00:00-08:00 UTC observation window,
// OpenWeatherMap otherwise. On primary failure it falls back to the
// alternate source and tags the point with the source that actually
// produced it.
func (o *Orchestrator) IngestWeatherHybrid(ctx context.Context) (Stats, error) {
	start := time.Now()
	now := time.Now().UTC()
	preferAEMET := now.Hour() >= 0 && now.Hour() < 8

	point, source, err := o.fetchWeather(ctx, preferAEMET)
	if err != nil {
		// fall back to the alternate source
		point, source, err = o.fetchWeather(ctx, !preferAEMET)
	}
	if err != nil {
		o.recordFailure(&o.weatherFailures)
		o.maybeAlertConsecutiveFailures(&o.weatherFailures, "weather_ingestion_failure")
		return Stats{}, fmt.Errorf("%w: weather fetch: %v", apperrors.ErrTransientUpstream, err)
	}
	o.clearFailures(&o.weatherFailures)

	if err := o.store.WritePoints(ctx, []store.Point{point}); err != nil {
		return Stats{}, err
	}

	return Stats{
		RecordsWritten: 1,
		RecordsFetched: 1,
		SuccessRate:    1.0,
		SourceUsed:     source,
		LatencyMS:      time.Since(start).Milliseconds(),
	}, nil
}

// fetchWeather fetches one current-weather point from AEMET or
// OpenWeatherMap, tagging the point with whichever source actually
// produced it.
func (o *Orchestrator) fetchWeather(ctx context.Context, useAEMET bool) (store.Point, string, error) {
	if useAEMET {
		wp, err := o.aemet.FetchCurrentObservation(ctx, o.station)
		if err != nil {
			return store.Point{}, "", err
		}
		return weatherPointToStorePoint(wp.TimestampUTC, wp.StationID, wp.StationName, wp.Province, "aemet", wp.DataType, wp.Fields), "aemet", nil
	}

	wp, err := o.owm.FetchCurrent(ctx)
	if err != nil {
		return store.Point{}, "", err
	}
	return weatherPointToStorePoint(wp.TimestampUTC, "", "", "", "openweathermap", wp.DataType, wp.Fields), "openweathermap", nil
}

func weatherPointToStorePoint(ts time.Time, stationID, stationName, province, dataSource, dataType string, fields map[string]float64) store.Point {
	f := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		f[k] = v
	}
	return store.Point{
		Measurement: store.MeasurementWeatherData,
		Tags: map[string]string{
			"station_id":   stationID,
			"station_name": stationName,
			"province":     province,
			"data_source":  dataSource,
			"data_type":    dataType,
		},
		Fields: f,
		Time:   ts,
	}
}

// IngestManual re-runs a specific source's ingestion on demand, bypassing
// the scheduler. force is accepted for interface symmetry with the
// request layer's contract; this package has no cache to bypass.
func (o *Orchestrator) IngestManual(ctx context.Context, source string, force bool) (Stats, error) {
	switch source {
	case "ree":
		return o.IngestREE(ctx)
	case "weather":
		return o.IngestWeatherHybrid(ctx)
	default:
		return Stats{}, fmt.Errorf("%w: unknown ingestion source %q", apperrors.ErrValidation, source)
	}
}

func successRate(written, fetched int) float64 {
	if fetched == 0 {
		return 1.0
	}
	return float64(written) / float64(fetched)
}

// recordFailure appends the current time to a failure window, used by
// maybeAlertConsecutiveFailures to detect 3 failures within 1 hour.
func (o *Orchestrator) recordFailure(window *[]time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	*window = append(*window, time.Now())
}

func (o *Orchestrator) clearFailures(window *[]time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	*window = nil
}

// maybeAlertConsecutiveFailures fires topic when 3+ failures have
// occurred within the trailing hour.
func (o *Orchestrator) maybeAlertConsecutiveFailures(window *[]time.Time, topic string) {
	o.mu.Lock()
	cutoff := time.Now().Add(-1 * time.Hour)
	recent := (*window)[:0]
	for _, t := range *window {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	*window = recent
	count := len(recent)
	o.mu.Unlock()

	if count >= 3 && o.alerts != nil {
		o.alerts.Send(topic, alerts.SeverityWarning, fmt.Sprintf("%d consecutive ingestion failures in the last hour", count))
	}
}
