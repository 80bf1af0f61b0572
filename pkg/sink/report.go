// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sink

import (
	"fmt"
	"io"
	"strings"

	"github.com/Thermoquad/teststand/pkg/elet"
)

// Report writes a post-run summary of a log: every valve opening and
// closing, flow valve level changes, state changes, ignition results, and
// finally the controller's messages and console events. Times are the
// controller timestamps in seconds.
func Report(w io.Writer, records []Record) error {
	var (
		prev  *Record
		notes []Record
		b     strings.Builder
	)

	for i := range records {
		r := &records[i]
		if r.Kind != KindData {
			notes = append(notes, *r)
			continue
		}
		if prev != nil {
			reportChanges(&b, prev, r)
		}
		prev = r
	}

	for _, n := range notes {
		fmt.Fprintf(&b, "%s %s: %s\n", seconds(n.Timestamp), n.Kind, n.Text)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func reportChanges(b *strings.Builder, last, cur *Record) {
	ts := seconds(cur.Timestamp)

	for _, v := range elet.Valves() {
		name := strings.ToUpper(v.String())
		bit := uint8(1) << v
		on := cur.Valves&bit != 0
		level, lastLevel := flowLevel(cur, v), flowLevel(last, v)

		if on != (last.Valves&bit != 0) {
			state := "OFF"
			if on {
				state = "ON"
			}
			if v.IsFlow() {
				fmt.Fprintf(b, "%s %s %s %d\n", ts, name, state, level)
			} else {
				fmt.Fprintf(b, "%s %s %s\n", ts, name, state)
			}
			continue
		}
		if v.IsFlow() && on && level != lastLevel {
			fmt.Fprintf(b, "%s %s pwm %d to %d\n", ts, name, lastLevel, level)
		}
	}

	if cur.State != last.State {
		fmt.Fprintf(b, "%s state changed from %s to %s\n", ts, last.State, cur.State)
	}
	if cur.Ignition != last.Ignition {
		fmt.Fprintf(b, "%s ignition status: %s\n", ts, cur.Ignition)
	}
}

func flowLevel(r *Record, v elet.Valve) uint8 {
	switch v {
	case elet.ValveOxygenFlow:
		return r.PWMOxidizer
	case elet.ValveFuelFlow:
		return r.PWMFuel
	}
	return 0
}

func seconds(ms uint32) string {
	return fmt.Sprintf("%.3f", float64(ms)/1000)
}
