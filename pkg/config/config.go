package config

import (
	"fmt"
	"os"
	"time"
	_ "time/tzdata" // scheduler timezone must resolve on minimal images

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/robfig/cron/v3"
)

// Config holds all configuration for piculi-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, tokens) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// AdminToken guards the /api/admin routes. Required.
	AdminToken string `yaml:"-" env:"ADMIN_TOKEN"`

	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Site      SiteConfig      `yaml:"site"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Retention RetentionConfig `yaml:"retention"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Occupancy OccupancyConfig `yaml:"occupancy"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"piculi"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"piculi"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis configuration. Redis is optional: an empty host
// disables the cross-process pipeline lock.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// AnalyticsConfig points at the SQLite file holding user action logs.
type AnalyticsConfig struct {
	Path string `yaml:"path" env:"ANALYTICS_DB_PATH" env-default:"./data/analytics.db"`
}

// SiteConfig describes the university site the pipeline scrapes.
type SiteConfig struct {
	ScheduleURL  string        `yaml:"schedule_url" env:"SITE_SCHEDULE_URL" env-default:"https://www.vyatsu.ru/studentu-1/spravochnaya-informatsiya/raspisanie-zanyatiy-dlya-studentov.html"`
	OccupancyURL string        `yaml:"occupancy_url" env:"SITE_OCCUPANCY_URL" env-default:"https://www.vyatsu.ru/studentu-1/spravochnaya-informatsiya/zanyatost-auditoriy.html"`
	BaseURL      string        `yaml:"base_url" env:"SITE_BASE_URL" env-default:"https://www.vyatsu.ru/"`
	UserAgent    string        `yaml:"user_agent" env:"SITE_USER_AGENT" env-default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"`
	Timeout      time.Duration `yaml:"timeout" env:"SITE_TIMEOUT" env-default:"30s"`
}

// StorageConfig holds local artifact storage settings.
// Schedule documents live under DataDir/pdf, scratch files under DataDir/temp.
type StorageConfig struct {
	DataDir string `yaml:"data_dir" env:"DATA_DIR" env-default:"./data"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"` // json or console
	File   string `yaml:"file" env:"LOG_FILE" env-default:"./logs/engine.log"`
}

// SchedulerConfig holds cron specs for the recurring jobs.
type SchedulerConfig struct {
	Enabled       bool   `yaml:"enabled" env:"SCHEDULER_ENABLED" env-default:"true"`
	RunOnStartup  bool   `yaml:"run_on_startup" env:"SCHEDULER_RUN_ON_STARTUP" env-default:"false"`
	Timezone      string `yaml:"timezone" env:"SCHEDULER_TIMEZONE" env-default:"Europe/Moscow"`
	PipelineSpec  string `yaml:"pipeline_spec" env:"SCHEDULER_PIPELINE_SPEC" env-default:"50 6 * * *"`
	DirectorySpec string `yaml:"directory_spec" env:"SCHEDULER_DIRECTORY_SPEC" env-default:"0 5 * * *"`
	MaintainSpec  string `yaml:"maintenance_spec" env:"SCHEDULER_MAINTENANCE_SPEC" env-default:"0 4 * * 0"`
}

// RetentionConfig holds the retention windows used by maintenance and the
// schedule link validity filter.
type RetentionConfig struct {
	FileAge      time.Duration `yaml:"file_age" env:"RETENTION_FILE_AGE" env-default:"840h"`              // 5 weeks
	LinkValidity time.Duration `yaml:"link_validity" env:"RETENTION_LINK_VALIDITY" env-default:"840h"`    // 5 weeks
	LessonAge    time.Duration `yaml:"lesson_age" env:"RETENTION_LESSON_AGE" env-default:"4368h"`         // 26 weeks
	ActionLogAge time.Duration `yaml:"action_log_age" env:"RETENTION_ACTION_LOG_AGE" env-default:"2160h"` // 90 days
}

// FetchConfig bounds concurrent document downloads.
type FetchConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" env:"FETCH_MAX_CONCURRENT" env-default:"8"`
}

// OccupancyConfig controls which occupancy reports are considered current.
type OccupancyConfig struct {
	MaxReportsPerBuilding int           `yaml:"max_reports_per_building" env:"OCCUPANCY_MAX_REPORTS" env-default:"3"`
	Lookback              time.Duration `yaml:"lookback" env:"OCCUPANCY_LOOKBACK" env-default:"24h"`
	Lookahead             time.Duration `yaml:"lookahead" env:"OCCUPANCY_LOOKAHEAD" env-default:"336h"` // 2 weeks
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// A missing config.yaml is not an error: defaults and environment are used.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	if c.AdminToken == "" {
		return fmt.Errorf("ADMIN_TOKEN is required")
	}

	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("unknown scheduler timezone %q: %w", c.Scheduler.Timezone, err)
	}

	for name, spec := range map[string]string{
		"pipeline_spec":    c.Scheduler.PipelineSpec,
		"directory_spec":   c.Scheduler.DirectorySpec,
		"maintenance_spec": c.Scheduler.MaintainSpec,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, spec, err)
		}
	}

	r := c.Retention
	if r.FileAge <= 0 || r.LinkValidity <= 0 || r.LessonAge <= 0 || r.ActionLogAge <= 0 {
		return fmt.Errorf("retention windows must be positive")
	}

	if c.Site.Timeout <= 0 {
		return fmt.Errorf("site timeout must be positive")
	}

	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
