// Package aemet is the client for Spain's state meteorological agency
// OpenData API: current observations and daily climatological values.
// AEMET's daily endpoint is fragile (frequent 429s, empty responses,
// rolling-window timeouts), so this client chunks requests into windows
// of at most 90 days and tolerates empty/failed chunks rather than
// failing the whole call.
package aemet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/aristath/chocofactory/internal/apperrors"
	"github.com/aristath/chocofactory/internal/clients/httpclient"
)

// MaxChunkDays is the largest date range AEMET's daily climatological
// endpoint tolerates in one request.
const MaxChunkDays = 90

// TokenTTL is how long a cached token is trusted before renewal. AEMET
// issues tokens with roughly a 6-day lifetime; the scheduler's
// token_refresh job renews it daily at 03:00 UTC, well ahead of expiry.
const TokenTTL = 6 * 24 * time.Hour

// WeatherPoint is one normalized weather observation.
type WeatherPoint struct {
	TimestampUTC time.Time
	StationID    string
	StationName  string
	Province     string
	DataType     string // current, observed
	Fields       map[string]float64
}

// TokenStore persists the bearer token across restarts. A single file,
// mode 600, per §6's persisted-state layout; single-writer (the
// token_refresh job), many readers who tolerate a stale token and let
// the 401-retry path above them refresh it.
type TokenStore interface {
	Load() (token string, expiresAt time.Time, err error)
	Save(token string, issuedAt, expiresAt time.Time) error
}

// Config configures the client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client fetches AEMET observations and climatological series.
type Client struct {
	http    *httpclient.Client
	raw     *http.Client // AEMET's two-step handshake returns a URL to re-fetch; reused directly, bypassing the rate limiter for that second hop since it isn't counted against AEMET's own quota
	baseURL string
	apiKey  string
	tokens  TokenStore

	cachedToken   string
	cachedExpires time.Time
}

// New builds an AEMET client. Rate limit per spec: 20 req/min, exponential
// backoff on 429 up to 120s.
func New(cfg Config, tokens TokenStore, log zerolog.Logger) *Client {
	on429 := func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 2 * time.Second
		b.MaxInterval = 120 * time.Second
		b.MaxElapsedTime = 5 * time.Minute
		return b
	}
	return &Client{
		http:    httpclient.New("aemet", httpclient.RateLimit{Requests: 20, Window: time.Minute}, cfg.Timeout, log, on429),
		raw:     &http.Client{Timeout: cfg.Timeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		tokens:  tokens,
	}
}

// token returns a still-valid token, loading from the store or minting a
// fresh one via the API key. AEMET's auth model is just the API key sent
// as a header — the "token" here is AEMET's own terminology for the key.
func (c *Client) token(ctx context.Context) (string, error) {
	if c.cachedToken != "" && time.Now().Before(c.cachedExpires) {
		return c.cachedToken, nil
	}
	if c.tokens != nil {
		if tok, exp, err := c.tokens.Load(); err == nil && tok != "" && time.Now().Before(exp) {
			c.cachedToken = tok
			c.cachedExpires = exp
			return tok, nil
		}
	}
	return c.RefreshToken(ctx)
}

// RefreshToken mints (or re-caches) the AEMET API key as a token with a
// fresh TTL and persists it. Called directly by the scheduler's daily
// token_refresh job, and indirectly on AuthExpired.
func (c *Client) RefreshToken(ctx context.Context) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("%w: no AEMET api key configured", apperrors.ErrAuthExpired)
	}
	now := time.Now()
	expires := now.Add(TokenTTL)
	c.cachedToken = c.apiKey
	c.cachedExpires = expires
	if c.tokens != nil {
		if err := c.tokens.Save(c.apiKey, now, expires); err != nil {
			return c.apiKey, fmt.Errorf("persist token cache: %w", err)
		}
	}
	return c.apiKey, nil
}

// handshakeResponse is AEMET's two-step envelope: the initial call
// returns a URL where the actual payload lives.
type handshakeResponse struct {
	Estado  int    `json:"estado"`
	Datos   string `json:"datos"`
	Metadat string `json:"metadatos"`
}

// fetchJSON performs AEMET's two-step handshake: call endpoint with the
// api_key query param, follow the returned "datos" URL, decode into out.
func (c *Client) fetchJSON(ctx context.Context, endpoint string, out interface{}) error {
	tok, err := c.token(ctx)
	if err != nil {
		return err
	}

	get := func(tok string) ([]byte, int, error) {
		reqURL := fmt.Sprintf("%s%s?api_key=%s", c.baseURL, endpoint, tok)
		return c.http.Do(ctx, func() (*http.Request, error) {
			req, err := http.NewRequest(http.MethodGet, reqURL, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Accept", "application/json")
			return req, nil
		})
	}
	body, status, err := get(tok)
	if err != nil && status == http.StatusUnauthorized {
		// one token refresh, then a single retry of the original call
		if newTok, rerr := c.RefreshToken(ctx); rerr == nil {
			body, _, err = get(newTok)
		}
	}
	if err != nil {
		return err
	}

	var hs handshakeResponse
	if err := json.Unmarshal(body, &hs); err != nil || hs.Datos == "" {
		return fmt.Errorf("%w: unexpected aemet handshake payload", apperrors.ErrTransientUpstream)
	}

	dataResp, err := c.raw.Get(hs.Datos)
	if err != nil {
		return fmt.Errorf("%w: fetch aemet data url: %v", apperrors.ErrTransientUpstream, err)
	}
	defer dataResp.Body.Close()

	if err := json.NewDecoder(dataResp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode aemet data: %v", apperrors.ErrTransientUpstream, err)
	}
	return nil
}

// currentObservation mirrors the fields AEMET's "observacion/convencional"
// endpoint returns for a station.
type currentObservation struct {
	Fint  string  `json:"fint"`
	Idema string  `json:"idema"`
	Ubi   string  `json:"ubi"`
	Ta    float64 `json:"ta"`  // temperature
	Hr    float64 `json:"hr"`  // humidity
	Pres  float64 `json:"pres"`
	Vv    float64 `json:"vv"`  // wind speed
	Dv    float64 `json:"dv"`  // wind direction
	Prec  float64 `json:"prec"`
}

// FetchCurrentObservation fetches the latest observation for a station
// (default station per config is "5279X", Linares).
func (c *Client) FetchCurrentObservation(ctx context.Context, stationID string) (WeatherPoint, error) {
	var obs []currentObservation
	endpoint := fmt.Sprintf("/observacion/convencional/datos/estacion/%s", stationID)
	if err := c.fetchJSON(ctx, endpoint, &obs); err != nil {
		return WeatherPoint{}, err
	}
	if len(obs) == 0 {
		return WeatherPoint{}, fmt.Errorf("%w: no observation data for station %s", apperrors.ErrTransientUpstream, stationID)
	}

	latest := obs[len(obs)-1]
	ts, err := time.ParseInLocation("2006-01-02T15:04:05", latest.Fint, time.UTC)
	if err != nil {
		ts = time.Now().UTC()
	}

	return WeatherPoint{
		TimestampUTC: ts,
		StationID:    latest.Idema,
		StationName:  latest.Ubi,
		DataType:     "current",
		Fields: map[string]float64{
			"temperature":  latest.Ta,
			"humidity":     latest.Hr,
			"pressure":     latest.Pres,
			"wind_speed":   latest.Vv,
			"wind_direction": latest.Dv,
			"precipitation":  latest.Prec,
		},
	}, nil
}

// dailyClimatological mirrors the fields of AEMET's "climatologias/diarios"
// endpoint.
type dailyClimatological struct {
	Fecha    string `json:"fecha"`
	Indicativo string `json:"indicativo"`
	Nombre   string `json:"nombre"`
	Provincia string `json:"provincia"`
	Tmed     string `json:"tmed"`
	Tmax     string `json:"tmax"`
	Tmin     string `json:"tmin"`
	HrMedia  string `json:"hrMedia"`
	Prec     string `json:"prec"`
	Altitud  string `json:"altitud"`
}

// parseDecimal parses AEMET's comma-decimal numeric strings, returning 0
// for missing/placeholder values ("Ip" = trace precipitation, etc).
func parseDecimal(s string) float64 {
	if s == "" || s == "Ip" {
		return 0
	}
	var whole, frac int
	neg := false
	i := 0
	if len(s) > 0 && s[0] == '-' {
		neg = true
		i = 1
	}
	val := 0.0
	divisor := 1.0
	seenComma := false
	for ; i < len(s); i++ {
		switch {
		case s[i] == ',' || s[i] == '.':
			seenComma = true
		case s[i] >= '0' && s[i] <= '9':
			d := float64(s[i] - '0')
			if !seenComma {
				whole = whole*10 + int(d)
			} else {
				divisor *= 10
				frac = frac*10 + int(d)
			}
		}
	}
	val = float64(whole) + float64(frac)/divisor
	if divisor == 1.0 {
		val = float64(whole)
	}
	if neg {
		val = -val
	}
	return val
}

// FetchDailyClimatological fetches daily values for [start, end], chunked
// into windows of at most MaxChunkDays. On an empty or failed chunk, the
// chunk is skipped (a failure's error is returned to the caller in the
// error slice) and the remaining chunks are
// still attempted — a gap is tolerated rather than aborting the whole
// range.
func (c *Client) FetchDailyClimatological(ctx context.Context, stationID string, start, end time.Time) ([]WeatherPoint, []error) {
	var (
		points []WeatherPoint
		errs   []error
	)

	for chunkStart := start; chunkStart.Before(end); chunkStart = chunkStart.AddDate(0, 0, MaxChunkDays) {
		chunkEnd := chunkStart.AddDate(0, 0, MaxChunkDays-1)
		if chunkEnd.After(end) {
			chunkEnd = end
		}

		endpoint := fmt.Sprintf("/valores/climatologicos/diarios/datos/fechaini/%sT00:00:00UTC/fechafin/%sT23:59:59UTC/estacion/%s",
			chunkStart.Format("2006-01-02"), chunkEnd.Format("2006-01-02"), stationID)

		var raw []dailyClimatological
		if err := c.fetchJSON(ctx, endpoint, &raw); err != nil {
			errs = append(errs, fmt.Errorf("chunk %s..%s: %w", chunkStart.Format("2006-01-02"), chunkEnd.Format("2006-01-02"), err))
			continue
		}

		for _, r := range raw {
			ts, err := time.ParseInLocation("2006-01-02", r.Fecha, time.UTC)
			if err != nil {
				continue
			}
			points = append(points, WeatherPoint{
				TimestampUTC: ts,
				StationID:    r.Indicativo,
				StationName:  r.Nombre,
				Province:     r.Provincia,
				DataType:     "observed",
				Fields: map[string]float64{
					"temperature":     parseDecimal(r.Tmed),
					"temperature_max": parseDecimal(r.Tmax),
					"temperature_min": parseDecimal(r.Tmin),
					"humidity":        parseDecimal(r.HrMedia),
					"precipitation":   parseDecimal(r.Prec),
					"altitude":        parseDecimal(r.Altitud),
				},
			})
		}
	}

	return points, errs
}
