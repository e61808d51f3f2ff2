package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/udisondev/framecap/internal/constants"
)

// CaptureService holds all configuration for the capture service.
type CaptureService struct {
	// Game version selecting the wire schema and opcode tables
	GameVersion string `yaml:"game_version"`
	PolicyPath  string `yaml:"policy_path"`

	Ingest   IngestConfig   `yaml:"ingest"`
	Capture  CaptureConfig  `yaml:"capture"`
	Database DatabaseConfig `yaml:"database"`

	LogLevel string `yaml:"log_level"`
}

// IngestConfig configures the host bridge listener.
type IngestConfig struct {
	BindAddress    string `yaml:"bind_address"`
	Port           int    `yaml:"port"`
	ReadBufferSize int    `yaml:"read_buffer_size"`
}

// CaptureConfig configures the pipeline and the session writer.
type CaptureConfig struct {
	BufferSize      int  `yaml:"buffer_size"`
	WriterQueueSize int  `yaml:"writer_queue_size"`
	DeferZoneIPC    bool `yaml:"defer_zone_ipc"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// DefaultCaptureService returns CaptureService config with sensible defaults.
func DefaultCaptureService() CaptureService {
	return CaptureService{
		PolicyPath: "config/policies.yaml",
		Ingest: IngestConfig{
			BindAddress:    "127.0.0.1",
			Port:           7420,
			ReadBufferSize: constants.DefaultIngestReadBufSize,
		},
		Capture: CaptureConfig{
			BufferSize:      constants.DefaultArenaSize,
			WriterQueueSize: constants.DefaultWriterQueueSize,
			DeferZoneIPC:    true,
		},
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "framecap",
			Password: "framecap",
			DBName:   "framecap",
			SSLMode:  "disable",
		},
		LogLevel: "info",
	}
}

// LoadCaptureService loads capture service config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadCaptureService(path string) (CaptureService, error) {
	cfg := DefaultCaptureService()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at startup.
func (c CaptureService) Validate() error {
	var errs []error
	if c.Ingest.Port < 0 || c.Ingest.Port > 65535 {
		errs = append(errs, fmt.Errorf("ingest.port %d out of range", c.Ingest.Port))
	}
	if c.Ingest.ReadBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("ingest.read_buffer_size must be positive, got %d", c.Ingest.ReadBufferSize))
	}
	if c.Capture.BufferSize < constants.DefaultArenaSize {
		errs = append(errs, fmt.Errorf("capture.buffer_size must be at least %d, got %d",
			constants.DefaultArenaSize, c.Capture.BufferSize))
	}
	if c.Capture.WriterQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("capture.writer_queue_size must be positive, got %d", c.Capture.WriterQueueSize))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLogLevel maps debug/info/warn/error to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
