// Package ree is the client for Spain's electricity market operator spot
// price API (PVPC). No authentication is required.
package ree

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/aristath/chocofactory/internal/apperrors"
	"github.com/aristath/chocofactory/internal/clients/httpclient"
)

// PricePoint is one normalized hourly PVPC record.
type PricePoint struct {
	TimestampUTC time.Time
	PriceEURkWh  float64
	TariffPeriod string // P1..P6
}

// Config configures the client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client fetches REE spot prices.
type Client struct {
	http    *httpclient.Client
	baseURL string
}

// New builds a REE client. Rate limit per spec: 30 req/min, 60-120s fixed
// backoff on 429.
func New(cfg Config, log zerolog.Logger) *Client {
	on429 := func() backoff.BackOff {
		return backoff.NewConstantBackOff(90 * time.Second)
	}
	return &Client{
		http:    httpclient.New("ree", httpclient.RateLimit{Requests: 30, Window: time.Minute}, cfg.Timeout, log, on429),
		baseURL: cfg.BaseURL,
	}
}

// indicatorResponse mirrors ESIOS's indicator payload shape closely
// enough for the one field this client reads: hourly values with an
// ISO-8601 datetime and a price.
type indicatorResponse struct {
	Indicator struct {
		Values []struct {
			Value     float64 `json:"value"`
			Datetime  string  `json:"datetime"`
			GeoID     int     `json:"geo_id"`
			TariffTag string  `json:"tariff_period,omitempty"`
		} `json:"values"`
	} `json:"indicator"`
}

// FetchPrices returns hourly prices for [start, end]. Ranges longer than
// one day are split into daily chunks, one request per day, per §4.2. On a
// failed chunk, the error is recorded and the remaining days are still
// attempted — a single bad day is tolerated rather than discarding every
// day already fetched. Partial success is the expected outcome; the
// caller decides whether the error count warrants a retry.
func (c *Client) FetchPrices(ctx context.Context, start, end time.Time) ([]PricePoint, []error) {
	start = start.UTC()
	end = end.UTC()
	if end.Before(start) {
		return nil, []error{fmt.Errorf("%w: end before start", apperrors.ErrValidation)}
	}

	var (
		out  []PricePoint
		errs []error
	)
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		dayEnd := day.AddDate(0, 0, 1)
		if dayEnd.After(end) {
			dayEnd = end
		}
		points, err := c.fetchDay(ctx, day, dayEnd)
		if err != nil {
			errs = append(errs, fmt.Errorf("day %s: %w", day.Format("2006-01-02"), err))
			continue
		}
		out = append(out, points...)
	}
	return out, errs
}

func (c *Client) fetchDay(ctx context.Context, start, end time.Time) ([]PricePoint, error) {
	q := url.Values{}
	q.Set("start_date", start.Format(time.RFC3339))
	q.Set("end_date", end.Format(time.RFC3339))
	q.Set("time_trunc", "hour")
	reqURL := fmt.Sprintf("%s/indicators/1001?%s", c.baseURL, q.Encode())

	body, _, err := c.http.Do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var parsed indicatorResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode ree response: %v", apperrors.ErrTransientUpstream, err)
	}

	points := make([]PricePoint, 0, len(parsed.Indicator.Values))
	for _, v := range parsed.Indicator.Values {
		ts, err := time.Parse(time.RFC3339, v.Datetime)
		if err != nil {
			continue
		}
		period := v.TariffTag
		if period == "" {
			period = tariffPeriodFor(ts.UTC())
		}
		points = append(points, PricePoint{
			TimestampUTC: ts.UTC(),
			PriceEURkWh:  v.Value,
			TariffPeriod: period,
		})
	}
	return points, nil
}

// tariffPeriodFor derives a P1-P6 label from the hour when the upstream
// payload doesn't carry one directly. P1 is peak (weekday 10-14, 18-22),
// P3/P6 are the valley hours used preferentially by the optimizer.
func tariffPeriodFor(t time.Time) string {
	h := t.Hour()
	weekday := t.Weekday()
	if weekday == time.Saturday || weekday == time.Sunday {
		return "P6"
	}
	switch {
	case h >= 10 && h < 14, h >= 18 && h < 22:
		return "P1"
	case h >= 8 && h < 10, h >= 14 && h < 18, h >= 22 && h < 24:
		return "P2"
	default:
		return "P3"
	}
}
