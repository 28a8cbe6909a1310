// Package config holds the runtime configuration of the register scanner.
// Defaults mirror the scan profile of the Grant Aerona3 heat-pump controller;
// a YAML file or command line flags override them.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// EndpointConfig describes how to reach a Modbus device.
type EndpointConfig struct {
	Address string   `yaml:"address"`
	UnitID  uint8    `yaml:"unit_id"`
	Timeout Duration `yaml:"timeout,omitempty"`
}

// RangeConfig bounds one object space scan. Both bounds are inclusive, the
// way device documentation usually states them.
type RangeConfig struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// SpacesConfig holds the per-object-space address bounds.
type SpacesConfig struct {
	Holding  RangeConfig `yaml:"holding"`
	Input    RangeConfig `yaml:"input"`
	Coils    RangeConfig `yaml:"coils"`
	Discrete RangeConfig `yaml:"discrete"`
}

// ScanConfig tunes the batch geometry and pacing of a scan pass.
type ScanConfig struct {
	BatchSize int      `yaml:"batch_size"`
	Delay     Duration `yaml:"delay"`
	Retries   int      `yaml:"retries"`
}

// MonitorConfig controls the change-monitoring phase.
type MonitorConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Interval Duration `yaml:"interval"`
	Duration Duration `yaml:"duration"`
}

// ExportConfig controls where scan artifacts are written.
type ExportConfig struct {
	Dir string `yaml:"dir"`
}

// HistoryConfig enables the sqlite scan archive.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// ReportConfig controls the summary printed after a scan. Filter is an
// expression evaluated per reading; only matches are listed and monitored.
type ReportConfig struct {
	Filter string `yaml:"filter"`
}

// LokiConfig configures optional Loki integration for logging.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels"`
}

// LoggingConfig encapsulates runtime logging options.
type LoggingConfig struct {
	Level  string     `yaml:"level"`
	Format string     `yaml:"format"`
	Loki   LokiConfig `yaml:"loki"`
}

// TelemetryConfig enables the Prometheus metrics endpoint.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Config is the root configuration structure for the scanner.
type Config struct {
	Target    EndpointConfig  `yaml:"target"`
	Spaces    SpacesConfig    `yaml:"spaces"`
	Scan      ScanConfig      `yaml:"scan"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Export    ExportConfig    `yaml:"export"`
	History   HistoryConfig   `yaml:"history"`
	Report    ReportConfig    `yaml:"report"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Default returns the configuration used when no file or flags override it.
func Default() *Config {
	return &Config{
		Target: EndpointConfig{
			UnitID:  1,
			Timeout: Duration{5 * time.Second},
		},
		Spaces: SpacesConfig{
			Holding:  RangeConfig{Start: 0, End: 1000},
			Input:    RangeConfig{Start: 0, End: 1000},
			Coils:    RangeConfig{Start: 0, End: 100},
			Discrete: RangeConfig{Start: 0, End: 100},
		},
		Scan: ScanConfig{
			BatchSize: 10,
			Delay:     Duration{100 * time.Millisecond},
			Retries:   1,
		},
		Monitor: MonitorConfig{
			Interval: Duration{2 * time.Second},
			Duration: Duration{2 * time.Minute},
		},
		Export: ExportConfig{Dir: "."},
		Report: ReportConfig{Filter: "raw != 0"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{Listen: ":9090"},
	}
}

// Load reads a configuration file and applies it on top of the defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the scanner must not start with.
func (c *Config) Validate() error {
	if c.Target.Address == "" {
		return fmt.Errorf("target address is required")
	}
	if c.Scan.BatchSize <= 0 {
		return fmt.Errorf("scan batch size must be positive, got %d", c.Scan.BatchSize)
	}
	if c.Scan.Delay.Duration < 0 {
		return fmt.Errorf("scan delay must not be negative")
	}
	if c.Scan.Retries < 0 {
		return fmt.Errorf("scan retries must not be negative")
	}
	for name, r := range map[string]RangeConfig{
		"holding":  c.Spaces.Holding,
		"input":    c.Spaces.Input,
		"coils":    c.Spaces.Coils,
		"discrete": c.Spaces.Discrete,
	} {
		if r.Start < 0 {
			return fmt.Errorf("%s range start %d must not be negative", name, r.Start)
		}
		if r.End < r.Start {
			return fmt.Errorf("%s range end %d before start %d", name, r.End, r.Start)
		}
		if r.End > 65535 {
			return fmt.Errorf("%s range end %d exceeds the 16-bit address space", name, r.End)
		}
	}
	if c.Monitor.Enabled {
		if c.Monitor.Interval.Duration <= 0 {
			return fmt.Errorf("monitor interval must be positive")
		}
		if c.Monitor.Duration.Duration <= 0 {
			return fmt.Errorf("monitor duration must be positive")
		}
	}
	return nil
}
