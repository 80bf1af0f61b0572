// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sink

import (
	"fmt"
	"io"
	"time"

	"github.com/Thermoquad/teststand/pkg/elet"
)

// TextSink prints one line per record for an operator watching a terminal
type TextSink struct {
	w     io.Writer
	clock func() time.Time
}

func NewTextSink(w io.Writer) *TextSink {
	return &TextSink{w: w, clock: time.Now}
}

func (s *TextSink) Record(r Record) error {
	_, err := fmt.Fprintf(s.w, "[%s] %s\n", s.clock().Format("15:04:05.000"), FormatRecord(r))
	return err
}

func (s *TextSink) Close() error { return nil }

// FormatRecord renders a record on one line
func FormatRecord(r Record) string {
	switch r.Kind {
	case KindData:
		good := ""
		if r.IgniterGood {
			good = " igniter-good"
		}
		return fmt.Sprintf("seq=%d ts=%d %s ign=%q%s valves=%s ox=%d fuel=%d p=%.1f/%.1f t=%.1f/%.1f thrust=%.1f",
			r.Sequence, r.Timestamp, r.State, r.Ignition, good,
			elet.FormatValves(r.Valves), r.PWMOxidizer, r.PWMFuel,
			r.Pressures[elet.PressureOxygen], r.Pressures[elet.PressureFuel],
			r.Temperatures[elet.ThermocoupleOxygen], r.Temperatures[elet.ThermocoupleWater],
			r.Thrust)
	case KindMessage:
		return fmt.Sprintf("seq=%d ts=%d message: %s", r.Sequence, r.Timestamp, r.Text)
	default:
		return fmt.Sprintf("seq=%d ts=%d %s: %s", r.Sequence, r.Timestamp, r.Kind, r.Text)
	}
}
