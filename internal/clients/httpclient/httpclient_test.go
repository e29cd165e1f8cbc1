package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/chocofactory/internal/apperrors"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestDoRetriesOn500ThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New("test", RateLimit{Requests: 100, Window: time.Minute}, time.Second, testLogger(), nil)
	body, status, err := c.Do(context.Background(), func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", string(body))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(2))
}

func TestDoDoesNotRetryOn400(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New("test", RateLimit{Requests: 100, Window: time.Minute}, time.Second, testLogger(), nil)
	_, status, err := c.Do(context.Background(), func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestDoReturnsAuthExpiredOn401WithoutRetry(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("test", RateLimit{Requests: 100, Window: time.Minute}, time.Second, testLogger(), nil)
	_, _, err := c.Do(context.Background(), func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAuthExpired)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestRateLimitConversion(t *testing.T) {
	rl := RateLimit{Requests: 30, Window: time.Minute}
	lim := rl.limiter()
	// 30 requests/minute == 0.5/sec
	assert.InDelta(t, 0.5, float64(lim.Limit()), 0.0001)
	assert.Equal(t, 30, lim.Burst())
}
