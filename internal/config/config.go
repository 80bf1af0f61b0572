// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the teststand settings file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/teststand/pkg/controller"
	"github.com/Thermoquad/teststand/pkg/elet"
	"github.com/Thermoquad/teststand/pkg/link"
	"github.com/Thermoquad/teststand/pkg/safety"
	"github.com/Thermoquad/teststand/pkg/sim"
)

// Config holds all teststand configuration
type Config struct {
	Link      LinkConfig      `yaml:"link"`
	Logging   LoggingConfig   `yaml:"logging"`
	Simulator SimulatorConfig `yaml:"simulator"`

	path string
}

// LinkConfig selects and tunes the connection to the controller. URL wins
// over SerialPort, which wins over Addr.
type LinkConfig struct {
	Addr          string `yaml:"addr"`        // host:port of the controller
	SerialPort    string `yaml:"serial_port"` // e.g. /dev/ttyACM0
	Baud          int    `yaml:"baud"`
	URL           string `yaml:"url"` // ws:// or wss:// bridge
	Username      string `yaml:"username"`
	NoSSLVerify   bool   `yaml:"no_ssl_verify"`
	IdleTimeoutMs int    `yaml:"idle_timeout_ms"`
	ReservedBit   string `yaml:"reserved_bit"` // "fatal" or "warn"
	BufferSize    int    `yaml:"buffer_size"`
	WriteAttempts int    `yaml:"write_attempts"`
	WriteBackoff  int    `yaml:"write_backoff_ms"`
}

// LoggingConfig controls diagnostics and the run log
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Path   string `yaml:"path"`   // run log file
	Format string `yaml:"format"` // csv, cbor or none
}

// SimulatorConfig drives the simulate command
type SimulatorConfig struct {
	Listen         string `yaml:"listen"`
	TelemetryMs    int    `yaml:"telemetry_ms"`
	IgniterPresent bool   `yaml:"igniter_present"`
	SenseWire      bool   `yaml:"sense_wire"`
	Ignites        bool   `yaml:"ignites"`
	SettleMs       int    `yaml:"settle_ms"`
	CooldownMs     int    `yaml:"cooldown_ms"`
	SafingMs       int    `yaml:"safing_ms"`
}

// DefaultConfig returns a config with the stand's defaults
func DefaultConfig() *Config {
	return &Config{
		Link: LinkConfig{
			Addr:          "192.168.1.100:420",
			Baud:          115200,
			IdleTimeoutMs: int(link.DefaultIdleTimeout / time.Millisecond),
			ReservedBit:   string(link.ReservedFatal),
			BufferSize:    elet.DefaultBufferSize,
			WriteAttempts: elet.DefaultWriteAttempts,
			WriteBackoff:  int(elet.DefaultWriteBackoff / time.Millisecond),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Path:   "run.log",
			Format: "csv",
		},
		Simulator: SimulatorConfig{
			Listen:         ":420",
			TelemetryMs:    int(controller.DefaultTelemetryInterval / time.Millisecond),
			IgniterPresent: true,
			SenseWire:      true,
			Ignites:        true,
			SettleMs:       3000,
			CooldownMs:     1000,
			SafingMs:       5000,
		},
	}
}

// Load reads config from a YAML file, then applies .env and environment
// overrides. A missing file falls back to defaults; a file that does not
// parse is an error.
func Load(path string, log *logrus.Entry) (*Config, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	cfg := DefaultConfig()
	cfg.path = path

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			log.WithField("path", path).Debug("no config file, using defaults")
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			log.WithField("path", path).Debug("config loaded")
		}
	}

	envPaths := []string{".env"}
	if path != "" {
		envPaths = append([]string{filepath.Join(filepath.Dir(path), ".env")}, envPaths...)
	}
	for _, ep := range envPaths {
		loadEnvFile(ep, log)
	}

	cfg.applyEnvOverrides()
	return cfg, cfg.Validate()
}

// loadEnvFile reads a KEY=VALUE .env file into the environment. Variables
// already set in the real environment win.
func loadEnvFile(path string, log *logrus.Entry) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.WithField("path", path).Debug("loading .env")
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads TESTSTAND_* variables over the file values
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TESTSTAND_ADDR"); v != "" {
		c.Link.Addr = v
	}
	if v := os.Getenv("TESTSTAND_SERIAL_PORT"); v != "" {
		c.Link.SerialPort = v
	}
	if v := os.Getenv("TESTSTAND_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Link.Baud = n
		}
	}
	if v := os.Getenv("TESTSTAND_URL"); v != "" {
		c.Link.URL = v
	}
	if v := os.Getenv("TESTSTAND_IDLE_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Link.IdleTimeoutMs = n
		}
	}
	if v := os.Getenv("TESTSTAND_RESERVED_BIT"); v != "" {
		c.Link.ReservedBit = v
	}
	if v := os.Getenv("TESTSTAND_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TESTSTAND_LOG_PATH"); v != "" {
		c.Logging.Path = v
	}
	if v := os.Getenv("TESTSTAND_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("TESTSTAND_SIM_LISTEN"); v != "" {
		c.Simulator.Listen = v
	}
}

// Validate rejects settings no component can run with
func (c *Config) Validate() error {
	switch link.ReservedPolicy(c.Link.ReservedBit) {
	case link.ReservedFatal, link.ReservedWarn:
	default:
		return fmt.Errorf("reserved_bit must be fatal or warn, got %q", c.Link.ReservedBit)
	}
	switch c.Logging.Format {
	case "csv", "cbor", "none":
	default:
		return fmt.Errorf("logging format must be csv, cbor or none, got %q", c.Logging.Format)
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging level: %w", err)
	}
	if c.Link.BufferSize < elet.MaxPacketSize {
		return fmt.Errorf("buffer_size %d is smaller than the largest packet (%d)", c.Link.BufferSize, elet.MaxPacketSize)
	}
	return nil
}

// Path returns the file the config was loaded from
func (c *Config) Path() string {
	return c.path
}

// Save writes the config back to its YAML file
func (c *Config) Save() error {
	if c.path == "" {
		return fmt.Errorf("config has no path")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// LinkLoop converts the link settings for link.New
func (c *Config) LinkLoop() link.Config {
	cfg := link.DefaultConfig()
	cfg.IdleTimeout = ms(c.Link.IdleTimeoutMs)
	cfg.ReservedPolicy = link.ReservedPolicy(c.Link.ReservedBit)
	cfg.BufferSize = c.Link.BufferSize
	cfg.Writer.Attempts = c.Link.WriteAttempts
	cfg.Writer.Backoff = ms(c.Link.WriteBackoff)
	return cfg
}

// Stand converts the simulator settings for sim.NewStand
func (c *Config) Stand() sim.Config {
	cfg := sim.DefaultConfig()
	cfg.IgniterPresent = c.Simulator.IgniterPresent
	cfg.SenseWire = c.Simulator.SenseWire
	cfg.Ignites = c.Simulator.Ignites
	return cfg
}

// Safety converts the simulator timing for safety.NewMachine
func (c *Config) Safety() safety.Config {
	return safety.Config{
		Settle:       ms(c.Simulator.SettleMs),
		Cooldown:     ms(c.Simulator.CooldownMs),
		SafingWindow: ms(c.Simulator.SafingMs),
	}
}

// Server converts the simulator settings for controller.NewServer
func (c *Config) Server() controller.Config {
	cfg := controller.DefaultConfig()
	cfg.TelemetryInterval = ms(c.Simulator.TelemetryMs)
	return cfg
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
