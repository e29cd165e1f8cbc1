// Package scheduler drives the fixed set of recurring jobs this service
// runs: periodic ingestion, gap-triggered backfill checks, forecast
// retraining, health checks, and daily maintenance. Each job runs on its
// own ticker, never overlaps itself, and is bounded by a max-runtime
// context so a stuck upstream call can't wedge the whole process.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/chocofactory/internal/telemetry"
	"github.com/aristath/chocofactory/internal/utils"
)

// ShutdownGrace bounds how long Stop waits for in-flight job runs to
// finish before returning anyway.
const ShutdownGrace = 30 * time.Second

// JobFunc is one job's body. It must return promptly after ctx is
// cancelled.
type JobFunc func(ctx context.Context) error

// Schedule describes when a job runs: either a fixed interval, or a daily
// time-of-day (UTC). Exactly one of Interval or DailyAt should be set.
type Schedule struct {
	Interval time.Duration
	DailyAt  *DailyTime // nil unless this is a once-a-day job
}

// DailyTime is a UTC hour:minute the job fires at once per day.
type DailyTime struct {
	Hour   int
	Minute int
}

// Job is one registered unit of recurring work.
type Job struct {
	Name       string
	Schedule   Schedule
	MaxRuntime time.Duration
	Run        JobFunc
}

// Counters tracks a job's run history for status reporting.
type Counters struct {
	Runs         int
	Failures     int
	LastRunAt    time.Time
	LastError    string
	LastDuration time.Duration
	NextRun      time.Time // computed live from the job's schedule, not persisted
}

// Status is the scheduler's point-in-time snapshot, keyed by job name.
type Status map[string]Counters

// JobPersister durably records each job run and restores counters on
// startup, so Status survives a restart instead of resetting to zero. A
// Scheduler with no persister attached keeps counters in memory only.
type JobPersister interface {
	LoadAll() (map[string]Counters, error)
	RecordRun(runID, jobName string, startedAt, finishedAt time.Time, runErr error) error
}

// Scheduler runs a fixed set of Jobs, each on its own goroutine, each
// self-excluding overlap.
type Scheduler struct {
	log     zerolog.Logger
	metrics *telemetry.Registry

	mu       sync.Mutex
	jobs     []*Job
	counters map[string]*Counters
	inFlight map[string]bool
	persist  JobPersister

	stop    chan struct{}
	wg      sync.WaitGroup
	started bool

	now func() time.Time // overridable for tests
}

// New builds an empty Scheduler. Register jobs with Register before
// calling Start. metrics may be nil in tests; production callers should
// pass a shared telemetry.Registry.
func New(log zerolog.Logger, metrics *telemetry.Registry) *Scheduler {
	return &Scheduler{
		log:      log.With().Str("component", "scheduler").Logger(),
		metrics:  metrics,
		counters: map[string]*Counters{},
		inFlight: map[string]bool{},
		stop:     make(chan struct{}),
		now:      time.Now,
	}
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(j Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &j)
	s.counters[j.Name] = &Counters{}
}

// Start launches one driver goroutine per registered job. Non-blocking.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	jobs := append([]*Job{}, s.jobs...)
	s.mu.Unlock()

	for _, j := range jobs {
		j := j
		s.wg.Add(1)
		go s.drive(ctx, j)
	}
}

// Stop signals all job drivers to stop and waits up to ShutdownGrace for
// in-flight runs to finish.
func (s *Scheduler) Stop() {
	close(s.stop)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(ShutdownGrace):
		s.log.Warn().Msg("shutdown grace period elapsed with jobs still running")
	}
}

// AttachPersister wires p as the Scheduler's durable counter store.
// Called once after every job has been Registered: it loads any counters
// p already has for those jobs (restoring state across a restart) and
// every later run is recorded through p. Must be called before Start.
func (s *Scheduler) AttachPersister(p JobPersister) error {
	restored, err := p.LoadAll()
	if err != nil {
		return fmt.Errorf("load persisted job counters: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.persist = p
	for name, c := range restored {
		if existing, ok := s.counters[name]; ok {
			c := c
			*existing = c
		}
	}
	return nil
}

// Status returns a snapshot of every job's run counters, each one's
// NextRun filled in from its schedule as of now.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(Status, len(s.counters))
	for name, c := range s.counters {
		snap := *c
		for _, j := range s.jobs {
			if j.Name == name {
				snap.NextRun = s.now().Add(s.nextFireIn(j.Schedule))
				break
			}
		}
		out[name] = snap
	}
	return out
}

// drive is one job's ticking loop: wait for the next fire time, run if not
// already in flight, repeat until stop.
func (s *Scheduler) drive(ctx context.Context, j *Job) {
	defer s.wg.Done()

	for {
		wait := s.nextFireIn(j.Schedule)
		timer := time.NewTimer(wait)

		select {
		case <-s.stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.runOnce(ctx, j)
		}
	}
}

func (s *Scheduler) nextFireIn(sched Schedule) time.Duration {
	if sched.DailyAt != nil {
		now := s.now().UTC()
		next := time.Date(now.Year(), now.Month(), now.Day(), sched.DailyAt.Hour, sched.DailyAt.Minute, 0, 0, time.UTC)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next.Sub(now)
	}
	return sched.Interval
}

// runOnce executes a job body once, skipping if an earlier run of the
// same job is still in flight, bounding it by MaxRuntime, and recording
// counters.
func (s *Scheduler) runOnce(ctx context.Context, j *Job) {
	s.mu.Lock()
	if s.inFlight[j.Name] {
		s.mu.Unlock()
		s.log.Debug().Str("job", j.Name).Msg("skipping tick, previous run still in flight")
		return
	}
	s.inFlight[j.Name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inFlight, j.Name)
		s.mu.Unlock()
	}()

	runCtx := ctx
	var cancel context.CancelFunc
	if j.MaxRuntime > 0 {
		runCtx, cancel = context.WithTimeout(ctx, j.MaxRuntime)
		defer cancel()
	}

	runID := uuid.New().String()
	timer := utils.NewTimer(j.Name, s.log)
	start := s.now()
	err := j.Run(runCtx)
	duration := timer.Stop()

	s.mu.Lock()
	c := s.counters[j.Name]
	c.Runs++
	c.LastRunAt = start
	c.LastDuration = duration
	if err != nil {
		c.Failures++
		c.LastError = err.Error()
	} else {
		c.LastError = ""
	}
	persist := s.persist
	s.mu.Unlock()

	if persist != nil {
		if perr := persist.RecordRun(runID, j.Name, start, start.Add(duration), err); perr != nil {
			s.log.Warn().Err(perr).Str("job", j.Name).Msg("failed to persist job run counters")
		}
	}

	if s.metrics != nil {
		s.metrics.JobRuns.WithLabelValues(j.Name).Inc()
		s.metrics.JobDuration.WithLabelValues(j.Name).Observe(duration.Seconds())
		if err != nil {
			s.metrics.JobFailures.WithLabelValues(j.Name).Inc()
		}
	}

	if err != nil {
		s.log.Error().Err(err).Str("job", j.Name).Str("run_id", runID).Dur("duration", duration).Msg("job run failed")
	} else {
		s.log.Debug().Str("job", j.Name).Str("run_id", runID).Dur("duration", duration).Msg("job run completed")
	}
}

// RunNow executes a registered job immediately, bypassing its schedule but
// still respecting overlap protection and MaxRuntime. Used by the manual
// trigger operations the out-of-scope HTTP layer would call.
func (s *Scheduler) RunNow(ctx context.Context, name string) bool {
	s.mu.Lock()
	var job *Job
	for _, j := range s.jobs {
		if j.Name == name {
			job = j
			break
		}
	}
	s.mu.Unlock()

	if job == nil {
		return false
	}
	s.runOnce(ctx, job)
	return true
}
