// Package openweathermap is the client for OpenWeatherMap's current
// weather and 3-hour-step forecast endpoints (v2.5). Used as the hybrid
// weather source for hours outside AEMET's observation window, and for
// forecast diagnostics only (never ingested).
package openweathermap

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

// WeatherPoint is one normalized weather observation.
type WeatherPoint struct {
	TimestampUTC time.Time
	DataType     string // current, forecast
	Fields       map[string]float64
}

// Config configures the client.
type Config struct {
	BaseURL string
	APIKey  string
	Lat     float64
	Lon     float64
	Timeout time.Duration
}

// Client fetches OpenWeatherMap data.
type Client struct {
	http    *httpclient.Client
	baseURL string
	apiKey  string
	lat     float64
	lon     float64
}

// New builds an OpenWeatherMap client. Rate limit: 60 req/min, 1s linear
// backoff on 429 — OWM's free tier recovers fast, unlike REE's long cooldown.
func New(cfg Config, log zerolog.Logger) *Client {
	on429 := func() backoff.BackOff {
		return backoff.NewConstantBackOff(1 * time.Second)
	}
	return &Client{
		http:    httpclient.New("openweathermap", httpclient.RateLimit{Requests: 60, Window: time.Minute}, cfg.Timeout, log, on429),
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		lat:     cfg.Lat,
		lon:     cfg.Lon,
	}
}

type currentResponse struct {
	Dt   int64 `json:"dt"`
	Main struct {
		Temp     float64 `json:"temp"`
		Pressure float64 `json:"pressure"`
		Humidity float64 `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
		Deg   float64 `json:"deg"`
	} `json:"wind"`
	Rain struct {
		OneHour float64 `json:"1h"`
	} `json:"rain"`
}

// FetchCurrent fetches the current weather for the configured coordinates.
func (c *Client) FetchCurrent(ctx context.Context) (WeatherPoint, error) {
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%f", c.lat))
	q.Set("lon", fmt.Sprintf("%f", c.lon))
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")
	reqURL := fmt.Sprintf("%s/weather?%s", c.baseURL, q.Encode())

	body, _, err := c.http.Do(ctx, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, reqURL, nil)
	})
	if err != nil {
		return WeatherPoint{}, err
	}

	var r currentResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return WeatherPoint{}, fmt.Errorf("%w: decode owm current: %v", apperrors.ErrTransientUpstream, err)
	}

	return WeatherPoint{
		TimestampUTC: time.Unix(r.Dt, 0).UTC(),
		DataType:     "current",
		Fields: map[string]float64{
			"temperature":    r.Main.Temp,
			"humidity":       r.Main.Humidity,
			"pressure":       r.Main.Pressure,
			"wind_speed":     r.Wind.Speed,
			"wind_direction": r.Wind.Deg,
			"precipitation":  r.Rain.OneHour,
		},
	}, nil
}

type forecastResponse struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp     float64 `json:"temp"`
			Humidity float64 `json:"humidity"`
			Pressure float64 `json:"pressure"`
		} `json:"main"`
		Wind struct {
			Speed float64 `json:"speed"`
			Deg   float64 `json:"deg"`
		} `json:"wind"`
	} `json:"list"`
}

// FetchForecast returns the 3-hour-step forecast. Diagnostics only; the
// orchestrator never writes these points to the store.
func (c *Client) FetchForecast(ctx context.Context) ([]WeatherPoint, error) {
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%f", c.lat))
	q.Set("lon", fmt.Sprintf("%f", c.lon))
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")
	reqURL := fmt.Sprintf("%s/forecast?%s", c.baseURL, q.Encode())

	body, _, err := c.http.Do(ctx, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, reqURL, nil)
	})
	if err != nil {
		return nil, err
	}

	var r forecastResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("%w: decode owm forecast: %v", apperrors.ErrTransientUpstream, err)
	}

	points := make([]WeatherPoint, 0, len(r.List))
	for _, item := range r.List {
		points = append(points, WeatherPoint{
			TimestampUTC: time.Unix(item.Dt, 0).UTC(),
			DataType:     "forecast",
			Fields: map[string]float64{
				"temperature":    item.Main.Temp,
				"humidity":       item.Main.Humidity,
				"pressure":       item.Main.Pressure,
				"wind_speed":     item.Wind.Speed,
				"wind_direction": item.Wind.Deg,
			},
		})
	}
	return points, nil
}
