// Package config provides configuration management functionality.
//
// Configuration Loading Order:
// 1. Load from .env file (if exists)
// 2. Load from environment variables
//
// Data Directory Priority (highest to lowest):
// 1. dataDirOverride argument to Load (if provided; cmd/server passes none)
// 2. CHOCOFACTORY_DATA_DIR environment variable
// 3. ./data (default)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration, loaded from environment variables
// with sensible, safe-by-default fallbacks (alerts disabled, forecasts off
// until first train).
type Config struct {
	DataDir  string // Base directory for model artifacts and the state database
	LogLevel string // Log level (debug, info, warn, error)
	Port     int    // HTTP server port (owned by the excluded request layer)
	DevMode  bool

	// InfluxDB (TimeSeriesStore backing store)
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// REE
	REEBaseURL string

	// AEMET
	AEMETBaseURL  string
	AEMETAPIKey   string
	AEMETStation  string // default observation station, e.g. "5279X" (Linares)
	AEMETTokenTTL time.Duration

	// OpenWeatherMap
	OWMBaseURL string
	OWMAPIKey  string
	OWMLat     float64
	OWMLon     float64

	// Alerting
	AlertsEnabled     bool
	AlertChannelToken string
	AlertTargetID     string

	// Auth (consumed by the excluded HTTP layer; passed through here since
	// it's read from the same environment)
	AuthEnabled bool
	AdminAllow  []string

	// Gap/backfill thresholds
	AutoBackfillThresholdHours float64

	// Forecasting
	ForecastTrainMonthsBack int
}

// Load reads configuration from environment variables.
func Load(dataDirOverride ...string) (*Config, error) {
	_ = godotenv.Load()

	var dataDir string
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	} else {
		dataDir = getEnv("CHOCOFACTORY_DATA_DIR", "")
		if dataDir == "" {
			dataDir = "./data"
		}
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnvAsInt("GO_PORT", 8000),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		InfluxURL:    getEnv("INFLUXDB_URL", "http://localhost:8086"),
		InfluxToken:  getEnv("INFLUXDB_TOKEN", ""),
		InfluxOrg:    getEnv("INFLUXDB_ORG", "chocolate-factory"),
		InfluxBucket: getEnv("INFLUXDB_BUCKET", "energy_data"),

		REEBaseURL: getEnv("REE_BASE_URL", "https://api.esios.ree.es"),

		AEMETBaseURL:  getEnv("AEMET_BASE_URL", "https://opendata.aemet.es/opendata/api"),
		AEMETAPIKey:   getEnv("AEMET_API_KEY", ""),
		AEMETStation:  getEnv("AEMET_STATION_ID", "5279X"),
		AEMETTokenTTL: time.Duration(getEnvAsInt("AEMET_TOKEN_TTL_HOURS", 6*24)) * time.Hour,

		OWMBaseURL: getEnv("OWM_BASE_URL", "https://api.openweathermap.org/data/2.5"),
		OWMAPIKey:  getEnv("OWM_API_KEY", ""),
		OWMLat:     getEnvAsFloat("OWM_LAT", 38.0951), // Linares, Jaén
		OWMLon:     getEnvAsFloat("OWM_LON", -3.6356),

		AlertsEnabled:     getEnvAsBool("ALERTS_ENABLED", false),
		AlertChannelToken: getEnv("ALERT_CHANNEL_TOKEN", ""),
		AlertTargetID:     getEnv("ALERT_TARGET_ID", ""),

		AuthEnabled: getEnvAsBool("AUTH_ENABLED", false),
		AdminAllow:  parseCSV(getEnv("ADMIN_ALLOW_LIST", "")),

		AutoBackfillThresholdHours: getEnvAsFloat("AUTO_BACKFILL_THRESHOLD_HOURS", 6.0),
		ForecastTrainMonthsBack:    getEnvAsInt("FORECAST_TRAIN_MONTHS_BACK", 12),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present. Credentials are
// intentionally not required here: a missing REE/AEMET/OWM key degrades the
// corresponding ingestion job to repeated TransientUpstream failures rather
// than preventing startup, so the rest of the system stays usable.
func (c *Config) Validate() error {
	if c.InfluxBucket == "" {
		return fmt.Errorf("influxdb bucket must not be empty")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			v := trimSpace(s[start:i])
			if v != "" {
				out = append(out, v)
			}
			start = i + 1
		}
	}
	return out
}

func trimSpace(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}
