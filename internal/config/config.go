// Package config loads the transport's tuning knobs: the things spec.md
// leaves as "reasonable, documented" constants rather than hard values. A
// YAML file (gopkg.in/yaml.v2) supplies overrides; an absent file falls back
// to in-code defaults, the same way cmd/session-service/main.go's
// loadConfig treats a missing config file in the teacher.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds every tunable the protocol exposes beyond its required CLI
// arguments.
type Config struct {
	Window     WindowConfig     `yaml:"Window"`
	Congestion CongestionConfig `yaml:"Congestion"`
	FEC        FECConfig        `yaml:"FEC"`
	Log        LogConfig        `yaml:"Log"`
	Metrics    MetricsConfig    `yaml:"Metrics"`
	Tracing    TracingConfig    `yaml:"Tracing"`
}

// WindowConfig controls the sliding-window and RTO parameters.
type WindowConfig struct {
	InitialSize int           `yaml:"InitialSize"`
	WMax        int           `yaml:"WMax"`
	RTOMin      time.Duration `yaml:"RTOMin"`
	RTOMax      time.Duration `yaml:"RTOMax"`
}

// CongestionConfig toggles §4.5's optional congestion control.
type CongestionConfig struct {
	Enable bool `yaml:"Enable"`
}

// FECConfig toggles and sizes the optional forward-error-correction layer.
type FECConfig struct {
	Enable       bool `yaml:"Enable"`
	GroupSize    int  `yaml:"GroupSize"`
	ParityShards int  `yaml:"ParityShards"`
}

// LogConfig mirrors the teacher's LogConfig{Level, Format}.
type LogConfig struct {
	Level  string `yaml:"Level"`
	Format string `yaml:"Format"`
}

// MetricsConfig controls the optional Prometheus HTTP endpoint.
type MetricsConfig struct {
	Enable bool   `yaml:"Enable"`
	Addr   string `yaml:"Addr"`
	Path   string `yaml:"Path"`
}

// TracingConfig controls the optional OpenTelemetry exporter.
type TracingConfig struct {
	Enable      bool    `yaml:"Enable"`
	ServiceName string  `yaml:"ServiceName"`
	Endpoint    string  `yaml:"Endpoint"`
	Exporter    string  `yaml:"Exporter"` // jaeger, zipkin
	SampleRate  float64 `yaml:"SampleRate"`
}

// Default returns the in-code default configuration.
func Default() *Config {
	return &Config{
		Window: WindowConfig{
			InitialSize: 16,
			WMax:        1000,
			RTOMin:      200 * time.Millisecond,
			RTOMax:      60 * time.Second,
		},
		Congestion: CongestionConfig{Enable: true},
		FEC: FECConfig{
			Enable:       false,
			GroupSize:    10,
			ParityShards: 2,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{
			Enable: false,
			Addr:   ":9401",
			Path:   "/metrics",
		},
		Tracing: TracingConfig{
			Enable:      false,
			ServiceName: "filexfer",
			Endpoint:    "http://localhost:14268/api/traces",
			Exporter:    "jaeger",
			SampleRate:  1.0,
		},
	}
}

// Load reads filename and overlays it onto Default(). A missing file is not
// an error: it simply means the defaults apply, matching the teacher's
// loadConfig behavior for a missing config file.
func Load(filename string) (*Config, error) {
	cfg := Default()
	if filename == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", filename, err)
	}
	return cfg, nil
}
