package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the biomass API server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Model    ModelConfig
	EE       EarthEngineConfig
	Pipeline PipelineConfig
	Archive  ArchiveConfig
}

type ServerConfig struct {
	Port               int
	Env                string
	RateLimitPerMinute int
	// BootstrapAdmin, when set, names a user that gets an admin key at
	// startup if it has none yet.
	BootstrapAdmin string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// ModelConfig selects the regressor that backs the biomass predictor.
type ModelConfig struct {
	Provider     string
	ArtifactPath string
	BaseURL      string
	Timeout      time.Duration
}

type EarthEngineConfig struct {
	Project     string
	Credentials string
}

type PipelineConfig struct {
	StartYear         int
	SampleSize        int
	ScaleMeters       int
	MaxConcurrentJobs int
	JobStateTTL       time.Duration
	ReportCacheTTL    time.Duration
}

// ArchiveConfig is optional; an empty bucket disables upload archiving.
type ArchiveConfig struct {
	Bucket string
}

var validProviders = map[string]bool{
	"linear": true,
	"http":   true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:               envInt("BIOMASS_PORT", 8080),
			Env:                envString("BIOMASS_ENV", "development"),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
			BootstrapAdmin:     os.Getenv("BIOMASS_BOOTSTRAP_ADMIN"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Model: ModelConfig{
			Provider:     envString("MODEL_PROVIDER", "linear"),
			ArtifactPath: envString("MODEL_ARTIFACT_PATH", "model/biomass.json"),
			BaseURL:      os.Getenv("MODEL_BASE_URL"),
			Timeout:      envDuration("MODEL_TIMEOUT", 60*time.Second),
		},
		EE: EarthEngineConfig{
			Project:     os.Getenv("EE_PROJECT"),
			Credentials: os.Getenv("EE_CREDENTIALS"),
		},
		Pipeline: PipelineConfig{
			StartYear:         envInt("PIPELINE_START_YEAR", 2019),
			SampleSize:        envInt("PIPELINE_SAMPLE_SIZE", 1000),
			ScaleMeters:       envInt("PIPELINE_SCALE_METERS", 100),
			MaxConcurrentJobs: envInt("MAX_CONCURRENT_JOBS", 4),
			JobStateTTL:       envDuration("JOB_STATE_TTL", 24*time.Hour),
			ReportCacheTTL:    envDuration("REPORT_CACHE_TTL", 10*time.Minute),
		},
		Archive: ArchiveConfig{
			Bucket: os.Getenv("ARCHIVE_GCS_BUCKET"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.EE.Project == "" {
		return fmt.Errorf("EE_PROJECT is required")
	}

	if !validProviders[c.Model.Provider] {
		return fmt.Errorf("MODEL_PROVIDER must be one of linear, http; got %q", c.Model.Provider)
	}
	if c.Model.Provider == "linear" && c.Model.ArtifactPath == "" {
		return fmt.Errorf("MODEL_ARTIFACT_PATH is required when MODEL_PROVIDER is linear")
	}
	if c.Model.Provider == "http" {
		if c.Model.BaseURL == "" {
			return fmt.Errorf("MODEL_BASE_URL is required when MODEL_PROVIDER is http")
		}
		if !strings.HasPrefix(c.Model.BaseURL, "http://") && !strings.HasPrefix(c.Model.BaseURL, "https://") {
			return fmt.Errorf("MODEL_BASE_URL must start with http:// or https://, got %q", c.Model.BaseURL)
		}
	}

	if c.Pipeline.StartYear <= 0 || c.Pipeline.StartYear > time.Now().Year() {
		return fmt.Errorf("PIPELINE_START_YEAR must be a past calendar year, got %d", c.Pipeline.StartYear)
	}
	if c.Pipeline.SampleSize <= 0 {
		return fmt.Errorf("PIPELINE_SAMPLE_SIZE must be positive, got %d", c.Pipeline.SampleSize)
	}
	if c.Pipeline.ScaleMeters <= 0 {
		return fmt.Errorf("PIPELINE_SCALE_METERS must be positive, got %d", c.Pipeline.ScaleMeters)
	}
	if c.Pipeline.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be positive, got %d", c.Pipeline.MaxConcurrentJobs)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
