// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package safety

import (
	"time"

	"github.com/Thermoquad/teststand/pkg/elet"
)

// Hardware is the test stand as seen by the state machine. Every call may
// block; none of them fail beyond the sensed values they return.
type Hardware interface {
	OpenValve(v elet.Valve)
	CloseValve(v elet.Valve)
	SetValveLevel(v elet.Valve, level uint8)

	ReadPressure(s elet.PressureSensor) float32
	ReadTemperature(tc elet.Thermocouple) float32
	ReadThrust() float32

	// TestIgniterContinuity reports whether current flows through the
	// igniter. It includes the continuity circuit's own settle time.
	TestIgniterContinuity() bool

	// FireIgniter energizes the firing circuit for one pulse.
	FireIgniter()

	// TestIgnitionSense reports continuity across the ignition sense wire
	// strung over the engine mouth. The wire burns through on ignition.
	TestIgnitionSense() bool
}

// Clock is the machine's only source of time
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SystemClock is the wall clock
type SystemClock struct{}

func (SystemClock) Now() time.Time        { return time.Now() }
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }
