// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/teststand/pkg/link"
)

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// clearEnv unsets every override for the duration of the test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"TESTSTAND_ADDR", "TESTSTAND_SERIAL_PORT", "TESTSTAND_BAUD", "TESTSTAND_URL",
		"TESTSTAND_IDLE_TIMEOUT_MS", "TESTSTAND_RESERVED_BIT", "TESTSTAND_LOG_LEVEL",
		"TESTSTAND_LOG_PATH", "TESTSTAND_LOG_FORMAT", "TESTSTAND_SIM_LISTEN",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

// ============================================================
// Load Tests
// ============================================================

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "teststand.yaml")

	cfg, err := Load(path, quietLog())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := DefaultConfig()
	want.path = path
	if diff := cmp.Diff(want, cfg, cmp.AllowUnexported(Config{})); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if cfg.Path() != path {
		t.Errorf("Path() = %q", cfg.Path())
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "teststand.yaml", `
link:
  addr: 10.0.0.5:420
  idle_timeout_ms: 2500
  reserved_bit: warn
logging:
  format: cbor
  path: burn.cbor
simulator:
  ignites: false
`)

	cfg, err := Load(path, quietLog())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Link.Addr != "10.0.0.5:420" || cfg.Logging.Format != "cbor" || cfg.Logging.Path != "burn.cbor" {
		t.Errorf("file values not applied: %+v %+v", cfg.Link, cfg.Logging)
	}
	if cfg.Link.Baud != 115200 {
		t.Errorf("unset field lost its default: baud=%d", cfg.Link.Baud)
	}
	if cfg.Simulator.Ignites {
		t.Error("simulator.ignites should be false")
	}

	lc := cfg.LinkLoop()
	if lc.IdleTimeout != 2500*time.Millisecond || lc.ReservedPolicy != link.ReservedWarn {
		t.Errorf("LinkLoop() = %+v", lc)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "teststand.yaml", "link:\n  addr: 10.0.0.5:420\n")
	t.Setenv("TESTSTAND_ADDR", "127.0.0.1:9000")
	t.Setenv("TESTSTAND_IDLE_TIMEOUT_MS", "750")

	cfg, err := Load(path, quietLog())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Link.Addr != "127.0.0.1:9000" {
		t.Errorf("addr = %q", cfg.Link.Addr)
	}
	if cfg.Link.IdleTimeoutMs != 750 {
		t.Errorf("idle = %d", cfg.Link.IdleTimeoutMs)
	}
}

func TestLoad_EnvFileNextToConfig(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "teststand.yaml", "")
	writeFile(t, dir, ".env", "# stand\nTESTSTAND_LOG_PATH=\"night.log\"\nnot a pair\n")

	cfg, err := Load(path, quietLog())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Path != "night.log" {
		t.Errorf("log path = %q", cfg.Logging.Path)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad yaml", "link: [", "parse"},
		{"reserved policy", "link:\n  reserved_bit: ignore\n", "reserved_bit"},
		{"log format", "logging:\n  format: json\n", "logging format"},
		{"log level", "logging:\n  level: loud\n", "logging level"},
		{"small buffer", "link:\n  buffer_size: 64\n", "buffer_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			path := writeFile(t, t.TempDir(), "teststand.yaml", tt.body)
			_, err := Load(path, quietLog())
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

// ============================================================
// Conversion Tests
// ============================================================

func TestConversions(t *testing.T) {
	cfg := DefaultConfig()

	s := cfg.Safety()
	if s.Settle != 3*time.Second || s.Cooldown != time.Second || s.SafingWindow != 5*time.Second {
		t.Errorf("Safety() = %+v", s)
	}
	if got := cfg.Server().TelemetryInterval; got != 100*time.Millisecond {
		t.Errorf("telemetry interval = %v", got)
	}
	st := cfg.Stand()
	if !st.IgniterPresent || !st.SenseWire || !st.Ignites {
		t.Errorf("Stand() = %+v", st)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "teststand.yaml")
	cfg, err := Load(path, quietLog())
	if err != nil {
		t.Fatal(err)
	}
	cfg.Link.SerialPort = "/dev/ttyACM0"
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	again, err := Load(path, quietLog())
	if err != nil {
		t.Fatal(err)
	}
	if again.Link.SerialPort != "/dev/ttyACM0" {
		t.Errorf("serial port = %q after reload", again.Link.SerialPort)
	}
}
