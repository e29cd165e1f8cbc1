package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunOnceRecordsSuccess(t *testing.T) {
	s := New(zerolog.Nop(), nil)
	var calls int32

	s.Register(Job{
		Name:     "ping",
		Schedule: Schedule{Interval: time.Hour},
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
	})

	ok := s.RunNow(context.Background(), "ping")
	require.True(t, ok)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	status := s.Status()
	require.Contains(t, status, "ping")
	assert.Equal(t, 1, status["ping"].Runs)
	assert.Equal(t, 0, status["ping"].Failures)
}

func TestRunOnceRecordsFailure(t *testing.T) {
	s := New(zerolog.Nop(), nil)
	s.Register(Job{
		Name:     "flaky",
		Schedule: Schedule{Interval: time.Hour},
		Run: func(ctx context.Context) error {
			return assertError()
		},
	})

	s.RunNow(context.Background(), "flaky")
	status := s.Status()
	assert.Equal(t, 1, status["flaky"].Failures)
	assert.NotEmpty(t, status["flaky"].LastError)
}

func assertError() error {
	return errTestFailure
}

var errTestFailure = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestRunNowUnknownJobReturnsFalse(t *testing.T) {
	s := New(zerolog.Nop(), nil)
	assert.False(t, s.RunNow(context.Background(), "nonexistent"))
}

func TestOverlapProtectionSkipsConcurrentRun(t *testing.T) {
	s := New(zerolog.Nop(), nil)
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32

	s.Register(Job{
		Name:     "slow",
		Schedule: Schedule{Interval: time.Hour},
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			close(started)
			<-release
			return nil
		},
	})

	go s.RunNow(context.Background(), "slow")
	<-started

	// second invocation while the first is still in flight should skip
	s.mu.Lock()
	inFlight := s.inFlight["slow"]
	s.mu.Unlock()
	assert.True(t, inFlight)

	close(release)
	time.Sleep(10 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestNextFireInDailyAtWrapsToNextDay(t *testing.T) {
	s := New(zerolog.Nop(), nil)
	fixedNow := time.Date(2025, 10, 23, 4, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixedNow }

	wait := s.nextFireIn(Schedule{DailyAt: &DailyTime{Hour: 3, Minute: 0}})
	assert.Equal(t, 23*time.Hour, wait)
}

func TestNextFireInDailyAtSameDay(t *testing.T) {
	s := New(zerolog.Nop(), nil)
	fixedNow := time.Date(2025, 10, 23, 1, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixedNow }

	wait := s.nextFireIn(Schedule{DailyAt: &DailyTime{Hour: 3, Minute: 0}})
	assert.Equal(t, 2*time.Hour, wait)
}

func TestNextFireInIntervalJob(t *testing.T) {
	s := New(zerolog.Nop(), nil)
	wait := s.nextFireIn(Schedule{Interval: 5 * time.Minute})
	assert.Equal(t, 5*time.Minute, wait)
}

// fakePersister is an in-memory JobPersister stand-in, used to verify
// Scheduler calls through to persistence without a real database.
type fakePersister struct {
	restore map[string]Counters
	runs    []string
}

func (f *fakePersister) LoadAll() (map[string]Counters, error) {
	return f.restore, nil
}

func (f *fakePersister) RecordRun(runID, jobName string, startedAt, finishedAt time.Time, runErr error) error {
	f.runs = append(f.runs, jobName)
	return nil
}

func TestAttachPersisterRestoresCounters(t *testing.T) {
	s := New(zerolog.Nop(), nil)
	s.Register(Job{Name: "ping", Schedule: Schedule{Interval: time.Hour}, Run: func(ctx context.Context) error { return nil }})

	fp := &fakePersister{restore: map[string]Counters{"ping": {Runs: 7, Failures: 2}}}
	require.NoError(t, s.AttachPersister(fp))

	status := s.Status()
	assert.Equal(t, 7, status["ping"].Runs)
	assert.Equal(t, 2, status["ping"].Failures)
}

func TestRunOnceRecordsThroughPersister(t *testing.T) {
	s := New(zerolog.Nop(), nil)
	s.Register(Job{Name: "ping", Schedule: Schedule{Interval: time.Hour}, Run: func(ctx context.Context) error { return nil }})

	fp := &fakePersister{}
	require.NoError(t, s.AttachPersister(fp))

	s.RunNow(context.Background(), "ping")
	assert.Equal(t, []string{"ping"}, fp.runs)
}
