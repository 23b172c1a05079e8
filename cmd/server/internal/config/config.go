// Package config loads runtime configuration from an optional YAML file
// overlaid by environment variables. Environment variables always win so
// container deployments can override a baked-in config file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the unified configuration of the transcription server.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Data     DataConfig     `yaml:"data"`
	Log      LogConfig      `yaml:"log"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Device   DeviceConfig   `yaml:"device"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Speakers SpeakersConfig `yaml:"speakers"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Env  string `yaml:"env"` // dev, staging, production
	Port string `yaml:"port"`
}

// DataConfig holds filesystem and database locations.
type DataConfig struct {
	DatabasePath string `yaml:"database_path"`
	MediaDir     string `yaml:"media_dir"`
	IndexDir     string `yaml:"index_dir"` // per-user similarity index files
}

// LogConfig holds structured-logging settings.
type LogConfig struct {
	Level      string `yaml:"level"` // debug, info, warn, error
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// PipelineConfig holds orchestration settings.
type PipelineConfig struct {
	MaxConcurrent  int     `yaml:"max_concurrent"`
	ModelName      string  `yaml:"model_name"`
	MinSpeechRatio float64 `yaml:"min_speech_ratio"`
}

// DeviceConfig holds compute-device selection settings.
type DeviceConfig struct {
	Preferred string `yaml:"preferred"` // auto, discrete, integrated, cpu
}

// MonitorConfig holds consistency-sweep settings.
type MonitorConfig struct {
	Interval            time.Duration `yaml:"interval"`
	StaleAfter          time.Duration `yaml:"stale_after"`
	MaxTranscription    time.Duration `yaml:"max_transcription"`
	MaxDefault          time.Duration `yaml:"max_default"`
	StuckRecordingAfter time.Duration `yaml:"stuck_recording_after"`
	OrphanedAfterHours  int           `yaml:"orphaned_after_hours"`
}

// SpeakersConfig holds identity-resolution settings.
type SpeakersConfig struct {
	ListFloor           float64 `yaml:"list_floor"`
	SuggestionThreshold float64 `yaml:"suggestion_threshold"`
	SuppressionMargin   float64 `yaml:"suppression_margin"`
	SuggestionCap       int     `yaml:"suggestion_cap"`
	MinSegmentSeconds   float64 `yaml:"min_segment_seconds"`
	TopSegments         int     `yaml:"top_segments"`
}

// Load reads the optional YAML file named by CONFIG_FILE, then overlays
// environment variables on top of file values and built-in defaults.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	overlayEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Env: "dev", Port: "8000"},
		Data: DataConfig{
			DatabasePath: "./data/voxscribe.db",
			MediaDir:     "./data/media",
			IndexDir:     "./data/indexes",
		},
		Log: LogConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 5},
		Pipeline: PipelineConfig{
			MaxConcurrent:  2,
			ModelName:      "large-v2",
			MinSpeechRatio: 0.01,
		},
		Device: DeviceConfig{Preferred: "auto"},
		Monitor: MonitorConfig{
			Interval:            5 * time.Minute,
			StaleAfter:          30 * time.Minute,
			MaxTranscription:    2 * time.Hour,
			MaxDefault:          30 * time.Minute,
			StuckRecordingAfter: 5 * time.Minute,
			OrphanedAfterHours:  24,
		},
		Speakers: SpeakersConfig{
			ListFloor:           0.5,
			SuggestionThreshold: 0.5,
			SuppressionMargin:   0.3,
			SuggestionCap:       5,
			MinSegmentSeconds:   0.5,
			TopSegments:         5,
		},
	}
}

func overlayEnv(cfg *Config) {
	cfg.Server.Env = getEnv("ENV", cfg.Server.Env)
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Data.DatabasePath = getEnv("DATABASE_PATH", cfg.Data.DatabasePath)
	cfg.Data.MediaDir = getEnv("MEDIA_DIR", cfg.Data.MediaDir)
	cfg.Data.IndexDir = getEnv("INDEX_DIR", cfg.Data.IndexDir)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
	cfg.Pipeline.MaxConcurrent = getEnvInt("PIPELINE_MAX_CONCURRENT", cfg.Pipeline.MaxConcurrent)
	cfg.Pipeline.ModelName = getEnv("PIPELINE_MODEL_NAME", cfg.Pipeline.ModelName)
	cfg.Device.Preferred = getEnv("DEVICE_PREFERRED", cfg.Device.Preferred)
	cfg.Monitor.Interval = getEnvDuration("MONITOR_INTERVAL", cfg.Monitor.Interval)
	cfg.Monitor.StaleAfter = getEnvDuration("MONITOR_STALE_AFTER", cfg.Monitor.StaleAfter)
	cfg.Monitor.StuckRecordingAfter = getEnvDuration("MONITOR_STUCK_RECORDING_AFTER", cfg.Monitor.StuckRecordingAfter)
	cfg.Monitor.OrphanedAfterHours = getEnvInt("MONITOR_ORPHANED_AFTER_HOURS", cfg.Monitor.OrphanedAfterHours)
	cfg.Speakers.ListFloor = getEnvFloat("SPEAKERS_LIST_FLOOR", cfg.Speakers.ListFloor)
	cfg.Speakers.SuggestionThreshold = getEnvFloat("SPEAKERS_SUGGESTION_THRESHOLD", cfg.Speakers.SuggestionThreshold)
	cfg.Speakers.SuppressionMargin = getEnvFloat("SPEAKERS_SUPPRESSION_MARGIN", cfg.Speakers.SuppressionMargin)
}

// Validate checks the configuration for values that would break the server
// at runtime. All problems are reported together.
func Validate(cfg *Config) error {
	var errors []string

	if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid PORT value: %s (must be 1-65535)", cfg.Server.Port))
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Log.Level] {
		errors = append(errors, fmt.Sprintf("invalid LOG_LEVEL: %s (must be: debug, info, warn, error)", cfg.Log.Level))
	}

	validEnvs := map[string]bool{"dev": true, "development": true, "staging": true, "production": true}
	if !validEnvs[cfg.Server.Env] {
		errors = append(errors, fmt.Sprintf("invalid ENV: %s (must be: dev, development, staging, production)", cfg.Server.Env))
	}

	validDevices := map[string]bool{"auto": true, "discrete": true, "integrated": true, "cpu": true}
	if !validDevices[cfg.Device.Preferred] {
		errors = append(errors, fmt.Sprintf("invalid DEVICE_PREFERRED: %s (must be: auto, discrete, integrated, cpu)", cfg.Device.Preferred))
	}

	if cfg.Pipeline.MaxConcurrent < 1 {
		errors = append(errors, "PIPELINE_MAX_CONCURRENT must be at least 1")
	}
	if cfg.Speakers.ListFloor < 0 || cfg.Speakers.ListFloor > 1 {
		errors = append(errors, "SPEAKERS_LIST_FLOOR must be within [0, 1]")
	}
	if cfg.Speakers.SuggestionThreshold < 0 || cfg.Speakers.SuggestionThreshold > 1 {
		errors = append(errors, "SPEAKERS_SUGGESTION_THRESHOLD must be within [0, 1]")
	}
	if cfg.Speakers.SuppressionMargin < 0 || cfg.Speakers.SuppressionMargin > 1 {
		errors = append(errors, "SPEAKERS_SUPPRESSION_MARGIN must be within [0, 1]")
	}
	if cfg.Monitor.Interval <= 0 {
		errors = append(errors, "MONITOR_INTERVAL must be positive")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}
	return nil
}

// IsProduction reports whether the server runs in a production environment.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// ServerAddr returns the HTTP listen address.
func (c *Config) ServerAddr() string {
	return ":" + c.Server.Port
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
