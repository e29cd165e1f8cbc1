// Package store wraps the time-series database that backs every
// measurement the ingestion and backfill pipelines write. It is the only
// boundary in the system that knows the storage dialect (InfluxDB/Flux);
// every other component speaks the Point abstraction below.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"github.com/aristath/chocofactory/internal/apperrors"
	"github.com/aristath/chocofactory/internal/utils"
)

// Measurement names recognized by the store. Anything else is rejected by
// WritePoints at the boundary.
const (
	MeasurementEnergyPrices = "energy_prices"
	MeasurementWeatherData  = "weather_data"
)

// knownFloatFields records every "measurement.field" key WritePoints has
// accepted. Every field in this system is float64; the int-to-float
// coercion itself is done by toFloat64 in WritePoints, and nothing reads
// this set back.
var knownFloatFields = map[string]bool{}

// Point is the canonical unit written to the store: a measurement, a
// timestamp (UTC, second precision or finer), a low-cardinality tag set,
// and a numeric field set.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]interface{}
	Time        time.Time
}

// Config configures the connection to the backing time-series database.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Store is a thin, synchronous wrapper over the InfluxDB client.
type Store struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	query  api.QueryAPI
	bucket string
	org    string
	log    zerolog.Logger
}

// New creates a Store and verifies connectivity with a bounded health
// check. It does not create the bucket — that's provisioned out of band.
func New(cfg Config, log zerolog.Logger) (*Store, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: influxdb health check: %v", apperrors.ErrTransientUpstream, err)
	}
	if health.Status != "pass" {
		msg := "unknown"
		if health.Message != nil {
			msg = *health.Message
		}
		client.Close()
		return nil, fmt.Errorf("%w: influxdb unhealthy: %s", apperrors.ErrTransientUpstream, msg)
	}

	return &Store{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		query:  client.QueryAPI(cfg.Org),
		bucket: cfg.Bucket,
		org:    cfg.Org,
		log:    log.With().Str("component", "store").Logger(),
	}, nil
}

// Close releases the underlying client.
func (s *Store) Close() {
	s.client.Close()
}

// WritePoints writes a batch of points synchronously. The caller sees the
// write confirmed or a classified error. Integer fields are coerced to
// float64 before being handed to the client, enforcing the invariant that
// every field in this system is numeric-float, never integer.
func (s *Store) WritePoints(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	ips := make([]*write.Point, 0, len(points))
	for _, p := range points {
		if p.Measurement != MeasurementEnergyPrices && p.Measurement != MeasurementWeatherData {
			return fmt.Errorf("%w: unknown measurement %q", apperrors.ErrValidation, p.Measurement)
		}

		fields := make(map[string]interface{}, len(p.Fields))
		for k, v := range p.Fields {
			f, err := toFloat64(v)
			if err != nil {
				return fmt.Errorf("%w: %s.%s: %v", apperrors.ErrFieldTypeConflict, p.Measurement, k, err)
			}
			key := p.Measurement + "." + k
			knownFloatFields[key] = true
			fields[k] = f
		}

		ips = append(ips, influxdb2.NewPoint(p.Measurement, p.Tags, fields, p.Time.UTC()))
	}

	if err := s.write.WritePoint(ctx, ips...); err != nil {
		return fmt.Errorf("%w: write point batch: %v", apperrors.ErrTransientUpstream, err)
	}

	return nil
}

// toFloat64 coerces supported numeric kinds to float64. Anything else is a
// writer defect, surfaced as a type conflict rather than silently dropped.
func toFloat64(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("unsupported field type %T", v)
	}
}

// Row is one record returned by Query, flattened from the Flux table
// result into a field-name → value map plus its tags and timestamp.
type Row struct {
	Time   time.Time
	Tags   map[string]string
	Fields map[string]interface{}
}

// Query runs a raw Flux query and returns flattened rows, one per
// (_time, tag-set) group after a pivot on _field. Callers that need a
// shape other than pivoted-wide should write their own Flux and still use
// this for iteration.
func (s *Store) Query(ctx context.Context, flux string) ([]Row, error) {
	done := utils.MeasureDBQuery("flux_query", s.log)
	var rowCount int64
	defer func() { done(rowCount) }()

	result, err := s.query.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", apperrors.ErrTransientUpstream, err)
	}
	if result == nil {
		return nil, nil
	}
	defer result.Close()

	var rows []Row
	for result.Next() {
		rec := result.Record()
		row := Row{
			Time:   rec.Time(),
			Tags:   map[string]string{},
			Fields: map[string]interface{}{},
		}
		for k, v := range rec.Values() {
			switch {
			case k == "_time" || k == "_start" || k == "_stop" || k == "_measurement" || k == "result" || k == "table":
				continue
			case k == "_field" || k == "_value":
				// non-pivoted result; fall back to raw field/value
				if f, ok := rec.Values()["_field"].(string); ok {
					row.Fields[f] = rec.Value()
				}
			case strings.HasPrefix(k, "_"):
				continue
			default:
				if s, ok := v.(string); ok {
					row.Tags[k] = s
				} else {
					row.Fields[k] = v
				}
			}
		}
		rows = append(rows, row)
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("%w: query iteration: %v", apperrors.ErrTransientUpstream, result.Err())
	}

	rowCount = int64(len(rows))
	return rows, nil
}

// buildTagFilter renders a Flux filter clause ANDing every tag in filter.
func buildTagFilter(filter map[string]string) string {
	if len(filter) == 0 {
		return ""
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, ` |> filter(fn: (r) => r.%s == "%s")`, k, filter[k])
	}
	return b.String()
}

// LatestTimestamp returns the most recent point timestamp for a
// measurement matching tagFilter, or the zero Time if none exists.
func (s *Store) LatestTimestamp(ctx context.Context, measurement string, tagFilter map[string]string) (time.Time, error) {
	flux := fmt.Sprintf(`
		from(bucket: "%s")
		  |> range(start: -10y)
		  |> filter(fn: (r) => r._measurement == "%s")%s
		  |> last()
	`, s.bucket, measurement, buildTagFilter(tagFilter))

	rows, err := s.Query(ctx, flux)
	if err != nil {
		return time.Time{}, err
	}
	if len(rows) == 0 {
		return time.Time{}, nil
	}

	latest := rows[0].Time
	for _, r := range rows[1:] {
		if r.Time.After(latest) {
			latest = r.Time
		}
	}
	return latest, nil
}

// CountInRange counts points for a measurement matching tagFilter within
// [start, end). This is the authoritative coverage count — any advisory
// counter exposed elsewhere must be derived from this, not vice versa.
func (s *Store) CountInRange(ctx context.Context, measurement string, tagFilter map[string]string, start, end time.Time) (int, error) {
	flux := fmt.Sprintf(`
		from(bucket: "%s")
		  |> range(start: %s, stop: %s)
		  |> filter(fn: (r) => r._measurement == "%s")%s
		  |> filter(fn: (r) => exists r._value)
		  |> group()
		  |> count()
	`, s.bucket, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339), measurement, buildTagFilter(tagFilter))

	rows, err := s.Query(ctx, flux)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, r := range rows {
		for _, v := range r.Fields {
			if n, ok := toCount(v); ok {
				total += n
			}
		}
	}
	return total, nil
}

func toCount(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// Timestamps returns sorted ascending timestamps for a measurement
// matching tagFilter within [start, end), one per distinct point in time.
// GapDetector scans the result of this call.
func (s *Store) Timestamps(ctx context.Context, measurement string, tagFilter map[string]string, start, end time.Time) ([]time.Time, error) {
	flux := fmt.Sprintf(`
		from(bucket: "%s")
		  |> range(start: %s, stop: %s)
		  |> filter(fn: (r) => r._measurement == "%s")%s
		  |> keep(columns: ["_time"])
		  |> distinct(column: "_time")
		  |> sort(columns: ["_time"])
	`, s.bucket, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339), measurement, buildTagFilter(tagFilter))

	rows, err := s.Query(ctx, flux)
	if err != nil {
		return nil, err
	}

	times := make([]time.Time, 0, len(rows))
	for _, r := range rows {
		times = append(times, r.Time)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	return times, nil
}

// FieldSeries returns (time, value) pairs for a single numeric field of a
// measurement within [start, end), sorted ascending by time. The
// forecaster's training reader uses this to pull a plain price series
// without dealing with Row's generic tag/field map.
func (s *Store) FieldSeries(ctx context.Context, measurement, field string, tagFilter map[string]string, start, end time.Time) ([]TimedValue, error) {
	flux := fmt.Sprintf(`
		from(bucket: "%s")
		  |> range(start: %s, stop: %s)
		  |> filter(fn: (r) => r._measurement == "%s")%s
		  |> filter(fn: (r) => r._field == "%s")
		  |> sort(columns: ["_time"])
	`, s.bucket, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339), measurement, buildTagFilter(tagFilter), field)

	rows, err := s.Query(ctx, flux)
	if err != nil {
		return nil, err
	}

	out := make([]TimedValue, 0, len(rows))
	for _, r := range rows {
		if v, ok := r.Fields[field]; ok {
			if f, ok := toFloat64Any(v); ok {
				out = append(out, TimedValue{Time: r.Time, Value: f})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// TimedValue is one (timestamp, numeric value) pair, the shape FieldSeries
// returns.
type TimedValue struct {
	Time  time.Time
	Value float64
}

func toFloat64Any(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Health pings the underlying store.
func (s *Store) Health(ctx context.Context) error {
	health, err := s.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("%w: health: %v", apperrors.ErrTransientUpstream, err)
	}
	if health.Status != "pass" {
		return fmt.Errorf("%w: store unhealthy", apperrors.ErrTransientUpstream)
	}
	return nil
}
