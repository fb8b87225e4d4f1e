package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/forza-telemetry/internal/units"
)

// Defaults used when a field is omitted from the config file.
const (
	DefaultUDPAddress    = "0.0.0.0:7878"
	DefaultRcvBuf        = 4 << 20
	DefaultLogInterval   = "10s"
	DefaultWorkers       = 4
	DefaultDBPath        = "forza_telemetry.db"
	DefaultHTTPListen    = ":8090"
	DefaultSpeedUnits    = units.KPH
	DefaultReorderWindow = 0
	DefaultFlushInterval = "1s"
	DefaultBatchSize     = 120
)

// Config is the root configuration for the telemetry service. Every field is
// optional; fields left nil fall back to the defaults above via the Get*
// accessors, so partial files are safe.
type Config struct {
	// Ingest
	UDPAddress    *string `json:"udp_address,omitempty" yaml:"udp_address,omitempty"`
	RcvBuf        *int    `json:"rcvbuf,omitempty" yaml:"rcvbuf,omitempty"`
	LogInterval   *string `json:"log_interval,omitempty" yaml:"log_interval,omitempty"` // duration string like "10s"
	Workers       *int    `json:"workers,omitempty" yaml:"workers,omitempty"`
	ForwardAddr   *string `json:"forward_addr,omitempty" yaml:"forward_addr,omitempty"`
	ReorderWindow *int    `json:"reorder_window,omitempty" yaml:"reorder_window,omitempty"`

	// Storage
	DBPath        *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	FlushInterval *string `json:"flush_interval,omitempty" yaml:"flush_interval,omitempty"`
	BatchSize     *int    `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	RecordDir     *string `json:"record_dir,omitempty" yaml:"record_dir,omitempty"`

	// HTTP
	HTTPListen *string `json:"http_listen,omitempty" yaml:"http_listen,omitempty"`
	SpeedUnits *string `json:"speed_units,omitempty" yaml:"speed_units,omitempty"`
}

func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// DefaultConfig returns a Config with every field populated from the defaults.
func DefaultConfig() *Config {
	return &Config{
		UDPAddress:    ptrString(DefaultUDPAddress),
		RcvBuf:        ptrInt(DefaultRcvBuf),
		LogInterval:   ptrString(DefaultLogInterval),
		Workers:       ptrInt(DefaultWorkers),
		ForwardAddr:   ptrString(""),
		ReorderWindow: ptrInt(DefaultReorderWindow),
		DBPath:        ptrString(DefaultDBPath),
		FlushInterval: ptrString(DefaultFlushInterval),
		BatchSize:     ptrInt(DefaultBatchSize),
		RecordDir:     ptrString(""),
		HTTPListen:    ptrString(DefaultHTTPListen),
		SpeedUnits:    ptrString(DefaultSpeedUnits),
	}
}

// LoadConfig loads a Config from a .json, .yaml or .yml file.
// The file must be under 1MB and must pass Validate.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", cleanPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields that are set. Nil fields are always valid.
func (c *Config) Validate() error {
	if c.LogInterval != nil {
		if _, err := time.ParseDuration(*c.LogInterval); err != nil {
			return fmt.Errorf("invalid log_interval %q: %w", *c.LogInterval, err)
		}
	}
	if c.FlushInterval != nil {
		d, err := time.ParseDuration(*c.FlushInterval)
		if err != nil {
			return fmt.Errorf("invalid flush_interval %q: %w", *c.FlushInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("flush_interval must be positive, got %s", d)
		}
	}
	if c.RcvBuf != nil && *c.RcvBuf < 0 {
		return fmt.Errorf("rcvbuf must be non-negative, got %d", *c.RcvBuf)
	}
	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", *c.Workers)
	}
	if c.ReorderWindow != nil && *c.ReorderWindow < 0 {
		return fmt.Errorf("reorder_window must be non-negative, got %d", *c.ReorderWindow)
	}
	if c.BatchSize != nil && *c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1, got %d", *c.BatchSize)
	}
	if c.SpeedUnits != nil && !units.IsValid(*c.SpeedUnits) {
		return fmt.Errorf("speed_units must be one of %s, got %q", units.ValidUnitsString(), *c.SpeedUnits)
	}
	return nil
}

func (c *Config) GetUDPAddress() string {
	if c.UDPAddress == nil || *c.UDPAddress == "" {
		return DefaultUDPAddress
	}
	return *c.UDPAddress
}

func (c *Config) GetRcvBuf() int {
	if c.RcvBuf == nil {
		return DefaultRcvBuf
	}
	return *c.RcvBuf
}

// GetLogInterval returns the stats log interval. Invalid strings fall back to
// the default; Validate reports them.
func (c *Config) GetLogInterval() time.Duration {
	return parseDurationOr(c.LogInterval, DefaultLogInterval)
}

func (c *Config) GetWorkers() int {
	if c.Workers == nil {
		return DefaultWorkers
	}
	return *c.Workers
}

// GetForwardAddr returns "" when forwarding is disabled.
func (c *Config) GetForwardAddr() string {
	if c.ForwardAddr == nil {
		return ""
	}
	return *c.ForwardAddr
}

func (c *Config) GetReorderWindow() int {
	if c.ReorderWindow == nil {
		return DefaultReorderWindow
	}
	return *c.ReorderWindow
}

func (c *Config) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return DefaultDBPath
	}
	return *c.DBPath
}

func (c *Config) GetFlushInterval() time.Duration {
	return parseDurationOr(c.FlushInterval, DefaultFlushInterval)
}

func (c *Config) GetBatchSize() int {
	if c.BatchSize == nil {
		return DefaultBatchSize
	}
	return *c.BatchSize
}

// GetRecordDir returns "" when capture recording is disabled.
func (c *Config) GetRecordDir() string {
	if c.RecordDir == nil {
		return ""
	}
	return *c.RecordDir
}

func (c *Config) GetHTTPListen() string {
	if c.HTTPListen == nil || *c.HTTPListen == "" {
		return DefaultHTTPListen
	}
	return *c.HTTPListen
}

func (c *Config) GetSpeedUnits() string {
	if c.SpeedUnits == nil || *c.SpeedUnits == "" {
		return DefaultSpeedUnits
	}
	return *c.SpeedUnits
}

func parseDurationOr(s *string, fallback string) time.Duration {
	if s != nil {
		if d, err := time.ParseDuration(*s); err == nil {
			return d
		}
	}
	d, _ := time.ParseDuration(fallback)
	return d
}
