// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/teststand/internal/config"
	"github.com/Thermoquad/teststand/pkg/elet"
	"github.com/Thermoquad/teststand/pkg/sink"
)

// ============================================================
// Formatting Tests
// ============================================================

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		ms   uint64
		want string
	}{
		{0, "0 ms"},
		{999, "999 ms"},
		{1000, "1 second"},
		{61_000, "1 minute and 1 second"},
		{3_600_000, "1 hour"},
		{90_061_000, "1 day, 1 hour, 1 minute and 1 second"},
		{2 * 86_400_000, "2 days"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatUptime(tt.ms); got != tt.want {
				t.Errorf("formatUptime(%d) = %q, want %q", tt.ms, got, tt.want)
			}
		})
	}
}

func TestFormatEntry(t *testing.T) {
	e := logrus.NewEntry(logrus.New()).WithFields(logrus.Fields{
		"seq":       7,
		"component": "link",
		"latency":   "12ms",
	})
	e.Message = "acknowledged"

	if got, want := formatEntry(e), "acknowledged latency=12ms seq=7"; got != want {
		t.Errorf("formatEntry = %q, want %q", got, want)
	}
}

// ============================================================
// Console Model Tests
// ============================================================

func TestConsoleModel_Records(t *testing.T) {
	m := initialConsoleModel("TCP: test", io.Discard)

	p := elet.NewData(3, 100)
	p.Status = elet.NewStatus(elet.IgnitionSuccess, elet.StateFire, false)
	next, _ := m.Update(recordMsg{record: sink.DataRecord(p)})
	next, _ = next.Update(recordMsg{record: sink.EventRecord(200, 0, "controller reset")})
	m = next.(consoleModel)

	if m.last == nil || m.last.State != elet.StateFire || m.dataCount != 1 || m.eventCount != 1 {
		t.Fatalf("model after records: last=%v data=%d events=%d", m.last, m.dataCount, m.eventCount)
	}
	if n := len(m.eventLog); n != 1 || !m.eventLog[0].isError {
		t.Errorf("event log = %+v", m.eventLog)
	}
	if view := m.View(); !strings.Contains(view, elet.StateFire.String()) {
		t.Errorf("view does not show the state:\n%s", view)
	}
}

func TestConsoleModel_HelpStaysLocal(t *testing.T) {
	m := initialConsoleModel("TCP: test", io.Discard)
	m.input.SetValue("help")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil {
		t.Error("help should not be sent to the link")
	}
	if got := len(next.(consoleModel).eventLog); got == 0 {
		t.Error("help printed nothing")
	}
}

func TestConsoleModel_LinkDone(t *testing.T) {
	m := initialConsoleModel("TCP: test", io.Discard)
	next, _ := m.Update(linkDoneMsg{err: io.ErrUnexpectedEOF})
	m = next.(consoleModel)

	m.input.SetValue("stop")
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
		t.Error("lines must not be sent after the link closed")
	}
}

// ============================================================
// Run Log Tests
// ============================================================

func TestOpenRunLog(t *testing.T) {
	dir := t.TempDir()

	for _, format := range []string{"csv", "cbor"} {
		t.Run(format, func(t *testing.T) {
			path := filepath.Join(dir, "run."+format)
			s, err := openRunLog(config.LoggingConfig{Path: path, Format: format})
			if err != nil {
				t.Fatal(err)
			}
			if err := s.Record(sink.EventRecord(1, 2, "hello")); err != nil {
				t.Fatal(err)
			}
			if err := s.Close(); err != nil {
				t.Fatal(err)
			}

			f, err := os.Open(path)
			if err != nil {
				t.Fatal(err)
			}
			defer f.Close()
			records, err := sink.ReadRecords(f)
			if err != nil || len(records) != 1 || records[0].Text != "hello" {
				t.Errorf("read back %+v, %v", records, err)
			}
		})
	}

	t.Run("none", func(t *testing.T) {
		s, err := openRunLog(config.LoggingConfig{Path: filepath.Join(dir, "unused"), Format: "none"})
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := s.(sink.Discard); !ok {
			t.Errorf("got %T, want Discard", s)
		}
		if _, err := os.Stat(filepath.Join(dir, "unused")); !os.IsNotExist(err) {
			t.Error("format none created a file")
		}
	})
}
