package di

import (
	"context"
	"time"

	"github.com/aristath/chocofactory/internal/alerts"
	"github.com/aristath/chocofactory/internal/backfill"
	"github.com/aristath/chocofactory/internal/clients/aemet"
	"github.com/aristath/chocofactory/internal/config"
	"github.com/aristath/chocofactory/internal/forecast"
	"github.com/aristath/chocofactory/internal/ingest"
	"github.com/aristath/chocofactory/internal/scheduler"
	"github.com/aristath/chocofactory/internal/store"
	"github.com/aristath/chocofactory/internal/telemetry"
)

// maxRuntime bounds for each recurring job, preventing one stuck upstream
// call from wedging the scheduler's overlap protection forever.
const (
	ingestMaxRuntime   = 2 * time.Minute
	backfillMaxRuntime = 30 * time.Minute
	trainMaxRuntime    = 10 * time.Minute
	healthMaxRuntime   = 30 * time.Second
	tokenMaxRuntime    = 30 * time.Second
)

// registerJobs wires the canonical recurring job table: REE and weather
// ingestion every 5 minutes, an auto-backfill gap check every 2 hours, a
// forecast-retrain check every 6 hours, a health check every 15 minutes, a
// daily token refresh at 03:00 UTC, and a daily historical backfill sweep
// at 01:00 UTC.
func registerJobs(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	ingestor *ingest.Orchestrator,
	backfillEngine *backfill.Engine,
	forecaster *forecast.Forecaster,
	aemetClient *aemet.Client,
	ts *store.Store,
	alertSink *alerts.Sink,
	metrics *telemetry.Registry,
) {
	sched.Register(scheduler.Job{
		Name:       "ree_ingest",
		Schedule:   scheduler.Schedule{Interval: 5 * time.Minute},
		MaxRuntime: ingestMaxRuntime,
		Run: func(ctx context.Context) error {
			stats, err := ingestor.IngestREE(ctx)
			metrics.RecordsIngested.WithLabelValues(store.MeasurementEnergyPrices, stats.SourceUsed).Add(float64(stats.RecordsWritten))
			return err
		},
	})

	sched.Register(scheduler.Job{
		Name:       "weather_ingest",
		Schedule:   scheduler.Schedule{Interval: 5 * time.Minute},
		MaxRuntime: ingestMaxRuntime,
		Run: func(ctx context.Context) error {
			stats, err := ingestor.IngestWeatherHybrid(ctx)
			metrics.RecordsIngested.WithLabelValues(store.MeasurementWeatherData, stats.SourceUsed).Add(float64(stats.RecordsWritten))
			return err
		},
	})

	sched.Register(scheduler.Job{
		Name:       "auto_backfill_check",
		Schedule:   scheduler.Schedule{Interval: 2 * time.Hour},
		MaxRuntime: backfillMaxRuntime,
		Run: func(ctx context.Context) error {
			report, err := backfillEngine.RunAuto(ctx, cfg.AutoBackfillThresholdHours)
			recordBackfillMetrics(metrics, report)
			return err
		},
	})

	sched.Register(scheduler.Job{
		Name:       "ensure_forecast_model",
		Schedule:   scheduler.Schedule{Interval: 6 * time.Hour},
		MaxRuntime: trainMaxRuntime,
		Run: func(ctx context.Context) error {
			return ensureForecastModel(ctx, ts, forecaster, cfg.ForecastTrainMonthsBack)
		},
	})

	sched.Register(scheduler.Job{
		Name:       "health_check",
		Schedule:   scheduler.Schedule{Interval: 15 * time.Minute},
		MaxRuntime: healthMaxRuntime,
		Run: func(ctx context.Context) error {
			return ts.Health(ctx)
		},
	})

	sched.Register(scheduler.Job{
		Name:       "token_refresh",
		Schedule:   scheduler.Schedule{DailyAt: &scheduler.DailyTime{Hour: 3, Minute: 0}},
		MaxRuntime: tokenMaxRuntime,
		Run: func(ctx context.Context) error {
			_, err := aemetClient.RefreshToken(ctx)
			return err
		},
	})

	sched.Register(scheduler.Job{
		Name:       "daily_backfill",
		Schedule:   scheduler.Schedule{DailyAt: &scheduler.DailyTime{Hour: 1, Minute: 0}},
		MaxRuntime: backfillMaxRuntime,
		Run: func(ctx context.Context) error {
			report, err := backfillEngine.RunAuto(ctx, 3)
			recordBackfillMetrics(metrics, report)
			return err
		},
	})
}

// recordBackfillMetrics tallies a backfill report's gaps and records
// written into the shared telemetry registry, by measurement and severity
// for the gap counter and by measurement and source for records written.
func recordBackfillMetrics(metrics *telemetry.Registry, report backfill.Report) {
	for _, gr := range report.Gaps {
		metrics.GapsDetected.WithLabelValues(gr.Gap.Measurement, string(gr.Gap.Severity)).Inc()
		source := "ree"
		if gr.Gap.Measurement == store.MeasurementWeatherData {
			source = "aemet_or_etl"
		}
		metrics.RecordsBackfilled.WithLabelValues(gr.Gap.Measurement, source).Add(float64(gr.RecordsWritten))
	}
}

// ensureForecastModel retrains when no model is loaded yet, or when the
// loaded model is older than the retrain cadence implied by this job's own
// 6h interval — re-training every tick would be wasteful, so it only acts
// when the model is stale or missing.
func ensureForecastModel(ctx context.Context, ts *store.Store, forecaster *forecast.Forecaster, monthsBack int) error {
	status := forecaster.Status()
	if status.ModelOK && time.Since(status.LastTraining) < 6*time.Hour {
		return nil
	}

	end := time.Now().UTC()
	start := end.AddDate(0, -monthsBack, 0)

	series, err := ts.FieldSeries(ctx, store.MeasurementEnergyPrices, "price_eur_kwh", map[string]string{"provider": "ree"}, start, end)
	if err != nil {
		return err
	}

	if len(series) < 48 {
		return nil // not enough history yet to train; retried on the next tick
	}

	history := make([]forecast.HourlyPrice, len(series))
	for i, v := range series {
		history[i] = forecast.HourlyPrice{TimestampUTC: v.Time, PriceEURkWh: v.Value}
	}

	_, err = forecaster.Train(history)
	return err
}
