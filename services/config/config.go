// Package config holds the host boot configuration: how to reach the
// hardware and where to send telemetry. Battery parameters live in the
// persistent store, not here.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      LogConfig       `yaml:"log"`
	CAN      CANConfig       `yaml:"can"`
	Store    StoreConfig     `yaml:"store"`
	FrontEnd FrontEndConfig  `yaml:"frontend"`
	BMS      BMSConfig       `yaml:"bms"`
	Monitor  MonitorConfig   `yaml:"monitor"`
	Mirror   *MirrorConfig   `yaml:"mirror,omitempty"`
	Recorder *RecorderConfig `yaml:"recorder,omitempty"`

	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// ---- CAN ----

type CANConfig struct {
	Driver        string `yaml:"driver"` // "slcan" or "loopback"
	Device        string `yaml:"device"`
	Baud          int    `yaml:"baud"`
	Bitrate       int    `yaml:"bitrate"`
	ReadTimeoutMs int    `yaml:"read_timeout_ms"` // 0 blocks; a timeout ends the receive pump
}

// ---- STORE ----

type StoreConfig struct {
	Backend string `yaml:"backend"` // "file" or "memory"
	Path    string `yaml:"path"`
	Size    int    `yaml:"size"`
}

// ---- FRONT END ----

// FrontEndConfig selects the measurement chain. On a host only the
// simulated chain exists; its inputs are fixed codes.
type FrontEndConfig struct {
	Driver   string `yaml:"driver"` // "sim"
	CellCode uint16 `yaml:"cell_code"`
	GPIOCode uint16 `yaml:"gpio_code"`
	RefCode  uint16 `yaml:"ref_code"`
}

// ---- BMS ----

type BMSConfig struct {
	Box           uint8   `yaml:"box"`
	Sensor        string  `yaml:"sensor"` // "ivt" or "fixed"
	FixedAmps     float64 `yaml:"fixed_amps"`
	FixedVolts    float64 `yaml:"fixed_volts"`
	OpenWireCheck bool    `yaml:"open_wire_check"`
	ChargeVolts   float64 `yaml:"charge_volts"`
	ChargeAmps    float64 `yaml:"charge_amps"`
}

// ---- MONITOR ----

type MonitorConfig struct {
	PeriodMs int `yaml:"period_ms"`
}

func (m MonitorConfig) Period() time.Duration { return time.Duration(m.PeriodMs) * time.Millisecond }

// ---- MIRROR ----

type MirrorConfig struct {
	Endpoint  string `yaml:"endpoint"`
	UnitID    uint8  `yaml:"unit_id"`
	Address   uint16 `yaml:"address"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// ---- RECORDER ----

type RecorderConfig struct {
	URL     string `yaml:"url"`
	Prefix  string `yaml:"prefix"`
	History int    `yaml:"history"`
}

// ---- TELEMETRY ----

// TelemetryConfig enables OTLP export. An empty endpoint disables that signal.
type TelemetryConfig struct {
	Service         string  `yaml:"service"`
	MetricsEndpoint string  `yaml:"metrics_endpoint"` // host:port, OTLP/HTTP
	TracesEndpoint  string  `yaml:"traces_endpoint"`  // host:port, OTLP/gRPC
	IntervalMs      int     `yaml:"interval_ms"`
	SampleRatio     float64 `yaml:"sample_ratio"`
}

func (t TelemetryConfig) Interval() time.Duration {
	return time.Duration(t.IntervalMs) * time.Millisecond
}

// Load reads, defaults and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.CAN.Driver == "" {
		c.CAN.Driver = "loopback"
	}
	if c.CAN.Baud == 0 {
		c.CAN.Baud = 115200
	}
	if c.CAN.Bitrate == 0 {
		c.CAN.Bitrate = 500000
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	if c.Store.Size == 0 {
		c.Store.Size = 4096
	}
	if c.FrontEnd.Driver == "" {
		c.FrontEnd.Driver = "sim"
	}
	if c.FrontEnd.CellCode == 0 {
		c.FrontEnd.CellCode = 36000
	}
	if c.FrontEnd.GPIOCode == 0 {
		c.FrontEnd.GPIOCode = 15000
	}
	if c.FrontEnd.RefCode == 0 {
		c.FrontEnd.RefCode = 30000
	}
	if c.BMS.Sensor == "" {
		c.BMS.Sensor = "ivt"
	}
	if c.Monitor.PeriodMs == 0 {
		c.Monitor.PeriodMs = 1000
	}
	if m := c.Mirror; m != nil && m.TimeoutMs == 0 {
		m.TimeoutMs = 1000
	}
	if r := c.Recorder; r != nil {
		if r.Prefix == "" {
			r.Prefix = "bms"
		}
		if r.History == 0 {
			r.History = 1000
		}
	}
	if t := c.Telemetry; t != nil {
		if t.Service == "" {
			t.Service = "bmsd"
		}
		if t.IntervalMs == 0 {
			t.IntervalMs = 10000
		}
		if t.SampleRatio == 0 {
			t.SampleRatio = 0.05
		}
	}
}

// Validate checks configuration correctness. It does not mutate.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.CAN.Driver {
	case "loopback":
	case "slcan":
		if c.CAN.Device == "" {
			return fmt.Errorf("can.device is required for the slcan driver")
		}
	default:
		return fmt.Errorf("can.driver %q: expected slcan or loopback", c.CAN.Driver)
	}
	switch c.Store.Backend {
	case "memory":
	case "file":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the file backend")
		}
	default:
		return fmt.Errorf("store.backend %q: expected file or memory", c.Store.Backend)
	}
	if c.Store.Size < 32 || c.Store.Size > 65536 {
		return fmt.Errorf("store.size %d out of range", c.Store.Size)
	}
	if c.FrontEnd.Driver != "sim" {
		return fmt.Errorf("frontend.driver %q: only sim is available on this platform", c.FrontEnd.Driver)
	}
	if c.BMS.Box > 7 {
		return fmt.Errorf("bms.box %d: must be 0..7", c.BMS.Box)
	}
	switch c.BMS.Sensor {
	case "ivt", "fixed":
	default:
		return fmt.Errorf("bms.sensor %q: expected ivt or fixed", c.BMS.Sensor)
	}
	if c.Monitor.PeriodMs < 10 {
		return fmt.Errorf("monitor.period_ms %d: must be at least 10", c.Monitor.PeriodMs)
	}
	if m := c.Mirror; m != nil && m.Endpoint == "" {
		return fmt.Errorf("mirror.endpoint is required when mirror is set")
	}
	if r := c.Recorder; r != nil {
		if r.URL == "" {
			return fmt.Errorf("recorder.url is required when recorder is set")
		}
		if r.History < 1 {
			return fmt.Errorf("recorder.history %d: must be positive", r.History)
		}
	}
	if t := c.Telemetry; t != nil {
		if t.MetricsEndpoint == "" && t.TracesEndpoint == "" {
			return fmt.Errorf("telemetry needs metrics_endpoint or traces_endpoint")
		}
		if t.SampleRatio < 0 || t.SampleRatio > 1 {
			return fmt.Errorf("telemetry.sample_ratio %v: must be within 0..1", t.SampleRatio)
		}
		if t.IntervalMs < 100 {
			return fmt.Errorf("telemetry.interval_ms %d: must be at least 100", t.IntervalMs)
		}
	}
	return nil
}

// ParseLevel maps a level name to slog.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log.level %q: expected debug, info, warn or error", s)
}
