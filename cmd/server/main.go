// Package main is the entry point for the chocolate factory monitoring
// and optimization system. It ingests REE electricity price data and
// AEMET/OpenWeatherMap weather observations, detects and backfills gaps
// in the time-series history, forecasts prices, and produces daily
// production schedules against the fixed machine sequence.
//
// This binary owns no HTTP surface: it wires the background pipelines and
// runs their scheduler. A separate API layer (out of scope here) would
// call into the same di.Container to expose the operations over HTTP.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aristath/chocofactory/internal/config"
	"github.com/aristath/chocofactory/internal/di"
	"github.com/aristath/chocofactory/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})
	log.Info().Msg("starting chocofactory")

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire dependencies")
	}
	defer container.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container.Scheduler.Start(ctx)
	log.Info().Msg("scheduler started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutdown signal received, stopping scheduler")
	cancel()
	container.Scheduler.Stop()

	log.Info().Msg("chocofactory stopped")
}
