// Package di wires every component built from internal/config.Config into
// a single Container, the way the teacher's di.Wire assembles its
// databases/repositories/services/work-processor graph. This system has a
// much flatter dependency graph (a time-series store, three upstream
// clients, and the pipelines built on top of them), so one file suffices.
package di

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/aristath/chocofactory/internal/alerts"
	"github.com/aristath/chocofactory/internal/backfill"
	"github.com/aristath/chocofactory/internal/clients/aemet"
	"github.com/aristath/chocofactory/internal/clients/openweathermap"
	"github.com/aristath/chocofactory/internal/clients/ree"
	"github.com/aristath/chocofactory/internal/config"
	"github.com/aristath/chocofactory/internal/database"
	"github.com/aristath/chocofactory/internal/forecast"
	"github.com/aristath/chocofactory/internal/gaps"
	"github.com/aristath/chocofactory/internal/ingest"
	"github.com/aristath/chocofactory/internal/scheduler"
	"github.com/aristath/chocofactory/internal/siar"
	"github.com/aristath/chocofactory/internal/state"
	"github.com/aristath/chocofactory/internal/store"
	"github.com/aristath/chocofactory/internal/telemetry"
)

// Container holds every wired component, for the entrypoint and (when
// built) the request layer to reach into.
type Container struct {
	StateDB *database.DB

	Store *store.Store

	REEClient   *ree.Client
	AEMETClient *aemet.Client
	OWMClient   *openweathermap.Client

	Alerts *alerts.Sink

	Ingestor *ingest.Orchestrator
	Gaps     *gaps.Detector
	Backfill *backfill.Engine
	Forecast *forecast.Forecaster
	SIAR     *siar.Analyzer

	Scheduler *scheduler.Scheduler
	Metrics   *telemetry.Registry
}

// Close releases every resource the container opened.
func (c *Container) Close() {
	if c.Store != nil {
		c.Store.Close()
	}
	if c.StateDB != nil {
		_ = c.StateDB.Close()
	}
}

// Wire constructs every component from cfg, registers the canonical
// scheduler job table, and returns the assembled Container. Nothing is
// started here — Start does that once the caller is ready.
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	stateDB, err := database.New(database.Config{
		Name: "state",
		Path: filepath.Join(cfg.DataDir, "state.db"),
	})
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	if err := stateDB.Migrate(); err != nil {
		stateDB.Close()
		return nil, fmt.Errorf("migrate state database: %w", err)
	}

	ts, err := store.New(store.Config{
		URL:    cfg.InfluxURL,
		Token:  cfg.InfluxToken,
		Org:    cfg.InfluxOrg,
		Bucket: cfg.InfluxBucket,
	}, log)
	if err != nil {
		stateDB.Close()
		return nil, fmt.Errorf("open time-series store: %w", err)
	}

	tokenStore := aemet.NewFileTokenStore(cfg.DataDir)

	reeClient := ree.New(ree.Config{BaseURL: cfg.REEBaseURL}, log)
	aemetClient := aemet.New(aemet.Config{BaseURL: cfg.AEMETBaseURL, APIKey: cfg.AEMETAPIKey}, tokenStore, log)
	owmClient := openweathermap.New(openweathermap.Config{
		BaseURL: cfg.OWMBaseURL,
		APIKey:  cfg.OWMAPIKey,
		Lat:     cfg.OWMLat,
		Lon:     cfg.OWMLon,
	}, log)

	var alertChannel alerts.Channel = alerts.UnconfiguredChannel{}
	if cfg.AlertChannelToken != "" && cfg.AlertTargetID != "" {
		alertChannel = alerts.NewTelegramChannel(cfg.AlertChannelToken, cfg.AlertTargetID)
	}
	alertSink := alerts.New(cfg.AlertsEnabled, alertChannel, log)

	ingestor := ingest.New(ingest.Config{
		Store:          ts,
		REE:            reeClient,
		AEMET:          aemetClient,
		OWM:            owmClient,
		Alerts:         alertSink,
		DefaultStation: cfg.AEMETStation,
	}, log)

	gapDetector := gaps.New(ts)

	etlPath := filepath.Join(cfg.DataDir, "siar", "historical.csv")
	etlReader := siar.NewETLReader(etlPath)

	gapRetries := state.NewGapRetryStore(stateDB.Conn(), log)

	backfillEngine := backfill.New(backfill.Config{
		Store:          ts,
		Detector:       gapDetector,
		REE:            reeClient,
		AEMET:          aemetClient,
		ETL:            etlReader,
		Alerts:         alertSink,
		Retries:        gapRetries,
		DefaultStation: cfg.AEMETStation,
	}, log)

	forecaster := forecast.New(forecast.Config{
		ArtifactDir: filepath.Join(cfg.DataDir, "models", "forecasting"),
		MetricsPath: filepath.Join(cfg.DataDir, "models", "metrics_history.csv"),
	}, alertSink)
	if err := forecaster.LoadLatest(); err != nil {
		log.Info().Err(err).Msg("no forecast model artifact found yet, starting untrained")
	}

	var historicalRecords []siar.Record
	if recs, err := etlReader.LoadRecords(); err == nil {
		historicalRecords = recs
	} else {
		log.Info().Err(err).Msg("no siar historical dataset found yet, analyzer starting empty")
	}
	analyzer := siar.New(historicalRecords)

	metrics := telemetry.New()

	sched := scheduler.New(log, metrics)
	registerJobs(sched, cfg, ingestor, backfillEngine, forecaster, aemetClient, ts, alertSink, metrics)

	jobCounters := state.NewJobCounterStore(stateDB.Conn(), log)
	if err := sched.AttachPersister(jobCounters); err != nil {
		log.Warn().Err(err).Msg("failed to restore persisted job counters, starting from zero")
	}

	return &Container{
		StateDB:     stateDB,
		Store:       ts,
		REEClient:   reeClient,
		AEMETClient: aemetClient,
		OWMClient:   owmClient,
		Alerts:      alertSink,
		Ingestor:    ingestor,
		Gaps:        gapDetector,
		Backfill:    backfillEngine,
		Forecast:    forecaster,
		SIAR:        analyzer,
		Scheduler:   sched,
		Metrics:     metrics,
	}, nil
}
