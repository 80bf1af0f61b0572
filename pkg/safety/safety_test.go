// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package safety

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/teststand/pkg/elet"
)

// fakeClock advances only when slept on
type fakeClock struct {
	now   time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
}

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// fakeHardware records actuations and answers sensing calls from fields
type fakeHardware struct {
	continuity bool
	// senseWire is consulted in order on each TestIgnitionSense call; the
	// last value repeats
	senseWire []bool
	senseIdx  int

	fired   int
	actions []string
}

func (h *fakeHardware) OpenValve(v elet.Valve)  { h.actions = append(h.actions, "open "+v.String()) }
func (h *fakeHardware) CloseValve(v elet.Valve) { h.actions = append(h.actions, "close "+v.String()) }
func (h *fakeHardware) SetValveLevel(v elet.Valve, level uint8) {
	h.actions = append(h.actions, "level "+v.String())
}

func (h *fakeHardware) ReadPressure(s elet.PressureSensor) float32   { return 100 + float32(s) }
func (h *fakeHardware) ReadTemperature(tc elet.Thermocouple) float32 { return 20 + float32(tc) }
func (h *fakeHardware) ReadThrust() float32                          { return 42 }
func (h *fakeHardware) TestIgniterContinuity() bool                  { return h.continuity }
func (h *fakeHardware) FireIgniter()                                 { h.fired++ }

func (h *fakeHardware) TestIgnitionSense() bool {
	if len(h.senseWire) == 0 {
		return false
	}
	v := h.senseWire[min(h.senseIdx, len(h.senseWire)-1)]
	h.senseIdx++
	return v
}

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestMachine(hw *fakeHardware) (*Machine, *fakeClock) {
	clock := newFakeClock()
	m := NewMachine(hw, clock, DefaultConfig(), quietLog())
	hw.actions = nil
	return m, clock
}

// ============================================================
// Rule Table Tests
// ============================================================

func allStates() []elet.SystemState {
	return []elet.SystemState{elet.StateReady, elet.StateFire, elet.StateSafing, elet.StateDepress}
}

func validArg(cmd elet.Command) uint32 {
	switch cmd {
	case elet.CommandStart:
		return 10
	case elet.CommandDepress:
		return 30
	case elet.CommandModifyValve:
		return elet.ValveArgument(elet.ValveOxygenFlow, 255)
	}
	return 0
}

// TestCheck_Exhaustive walks every (state, command) pair and requires each
// to be either a listed transition or a policy violation.
func TestCheck_Exhaustive(t *testing.T) {
	type key struct {
		state elet.SystemState
		cmd   elet.Command
	}
	allowed := map[key]elet.SystemState{
		{elet.StateReady, elet.CommandStart}:       elet.StateFire,
		{elet.StateReady, elet.CommandStop}:        elet.StateSafing,
		{elet.StateReady, elet.CommandDepress}:     elet.StateDepress,
		{elet.StateReady, elet.CommandModifyValve}: elet.StateReady,
		{elet.StateFire, elet.CommandStop}:         elet.StateSafing,
	}

	for _, s := range allStates() {
		for c := elet.Command(0); c < 8; c++ {
			next, err := Check(s, c, validArg(c))
			want, ok := allowed[key{s, c}]
			if ok {
				if err != nil {
					t.Errorf("Check(%s, %s) unexpected error: %v", s, c, err)
				} else if next != want {
					t.Errorf("Check(%s, %s) = %s, want %s", s, c, next, want)
				}
				continue
			}

			var pe *PolicyError
			if !errors.As(err, &pe) {
				t.Errorf("Check(%s, %s) = %v, want *PolicyError", s, c, err)
				continue
			}
			if !errors.Is(err, ErrPolicyViolation) {
				t.Errorf("Check(%s, %s) error does not wrap ErrPolicyViolation", s, c)
			}
			if next != s {
				t.Errorf("Check(%s, %s) moved to %s on rejection", s, c, next)
			}
		}
	}
}

func TestCheck_Arguments(t *testing.T) {
	tests := []struct {
		name    string
		cmd     elet.Command
		arg     uint32
		wantErr bool
	}{
		{"burn below minimum", elet.CommandStart, 1, true},
		{"burn minimum", elet.CommandStart, 2, false},
		{"burn maximum", elet.CommandStart, 120, false},
		{"burn above maximum", elet.CommandStart, 121, true},
		{"drain below minimum", elet.CommandDepress, 14, true},
		{"drain maximum", elet.CommandDepress, 120, false},
		{"valve flow partial", elet.CommandModifyValve, elet.ValveArgument(elet.ValveFuelFlow, 77), false},
		{"valve solenoid level 2", elet.CommandModifyValve, elet.ValveArgument(elet.ValveNitrogenPurge, 2), true},
		{"valve unknown", elet.CommandModifyValve, elet.ValveArgument(elet.Valve(7), 1), true},
		{"close all", elet.CommandModifyValve, elet.CloseAllArgument(), false},
		{"close all ignores level", elet.CommandModifyValve, 0x12FF, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Check(elet.StateReady, tt.cmd, tt.arg)
			if (err != nil) != tt.wantErr {
				t.Errorf("error = %v, wantErr %t", err, tt.wantErr)
			}
		})
	}
}

// ============================================================
// Machine Tests
// ============================================================

func TestMachine_Boot(t *testing.T) {
	hw := &fakeHardware{}
	clock := newFakeClock()
	m := NewMachine(hw, clock, Config{}, quietLog())

	if m.State() != elet.StateReady || m.Ignition() != elet.IgnitionUnknown {
		t.Errorf("boot state = %s/%s", m.State(), m.Ignition())
	}
	if len(hw.actions) != elet.NumValves {
		t.Errorf("boot should close every valve, got %v", hw.actions)
	}
}

func TestMachine_ModifyValveOnlyInReady(t *testing.T) {
	hw := &fakeHardware{continuity: true, senseWire: []bool{true, false}}
	m, _ := newTestMachine(hw)

	if err := m.Handle(elet.CommandModifyValve, elet.ValveArgument(elet.ValveOxygenFlow, 255)); err != nil {
		t.Fatalf("ModifyValve in Ready: %v", err)
	}
	if m.Level(elet.ValveOxygenFlow) != 255 {
		t.Errorf("oxfl level = %d", m.Level(elet.ValveOxygenFlow))
	}

	if err := m.Handle(elet.CommandStart, 5); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if m.State() != elet.StateFire {
		t.Fatalf("state = %s, want firing", m.State())
	}

	hw.actions = nil
	err := m.Handle(elet.CommandModifyValve, elet.ValveArgument(elet.ValveNitrogenOnOff, 1))
	if !errors.Is(err, ErrPolicyViolation) {
		t.Errorf("ModifyValve in Fire = %v, want policy violation", err)
	}
	if len(hw.actions) != 0 {
		t.Errorf("rejected command touched hardware: %v", hw.actions)
	}
}

func TestMachine_IgnitionOutcomes(t *testing.T) {
	tests := []struct {
		name         string
		continuity   bool
		senseWire    []bool
		wantIgnition elet.IgnitionStatus
		wantState    elet.SystemState
		wantFired    int
		wantPhases   []Phase
	}{
		{
			name:         "no sense wire",
			continuity:   true,
			senseWire:    []bool{false},
			wantIgnition: elet.IgnitionFailNoSenseWire,
			wantState:    elet.StateReady,
			wantPhases:   []Phase{PhaseSenseCheck},
		},
		{
			name:         "bad igniter",
			continuity:   false,
			senseWire:    []bool{true},
			wantIgnition: elet.IgnitionFailBadIgniter,
			wantState:    elet.StateReady,
			wantPhases:   []Phase{PhaseSenseCheck, PhaseContinuityCheck},
		},
		{
			name:         "no ignition",
			continuity:   true,
			senseWire:    []bool{true, true},
			wantIgnition: elet.IgnitionFailNoIgnition,
			wantState:    elet.StateSafing,
			wantFired:    1,
			wantPhases:   []Phase{PhaseSenseCheck, PhaseContinuityCheck, PhaseSettle, PhaseFire, PhaseCooldown, PhaseSenseResult},
		},
		{
			name:         "success",
			continuity:   true,
			senseWire:    []bool{true, false},
			wantIgnition: elet.IgnitionSuccess,
			wantState:    elet.StateFire,
			wantFired:    1,
			wantPhases:   []Phase{PhaseSenseCheck, PhaseContinuityCheck, PhaseSettle, PhaseFire, PhaseCooldown, PhaseSenseResult},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hw := &fakeHardware{continuity: tt.continuity, senseWire: tt.senseWire}
			m, clock := newTestMachine(hw)
			var phases []Phase
			m.OnPhase = func(p Phase) { phases = append(phases, p) }

			if err := m.Handle(elet.CommandStart, 10); err != nil {
				t.Fatalf("Start: %v", err)
			}
			if m.Ignition() != tt.wantIgnition {
				t.Errorf("ignition = %s, want %s", m.Ignition(), tt.wantIgnition)
			}
			if m.State() != tt.wantState {
				t.Errorf("state = %s, want %s", m.State(), tt.wantState)
			}
			if hw.fired != tt.wantFired {
				t.Errorf("fired %d times, want %d", hw.fired, tt.wantFired)
			}
			if diff := cmp.Diff(tt.wantPhases, phases); diff != "" {
				t.Errorf("phases mismatch (-want +got):\n%s", diff)
			}
			if tt.wantFired > 0 {
				want := []time.Duration{3 * time.Second, time.Second}
				if diff := cmp.Diff(want, clock.slept); diff != "" {
					t.Errorf("sleeps mismatch (-want +got):\n%s", diff)
				}
			}
		})
	}
}

func TestMachine_BurnTimerThenSafingThenReady(t *testing.T) {
	hw := &fakeHardware{continuity: true, senseWire: []bool{true, false}}
	m, clock := newTestMachine(hw)

	if err := m.Handle(elet.CommandStart, 10); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, v := range []elet.Valve{elet.ValveOxygenOnOff, elet.ValveFuelOnOff} {
		if m.Level(v) != 1 {
			t.Errorf("%s level = %d during burn", v, m.Level(v))
		}
	}
	if m.Level(elet.ValveOxygenFlow) != 255 || m.Level(elet.ValveFuelFlow) != 255 {
		t.Error("flow valves should be fully open during burn")
	}

	clock.Advance(9 * time.Second)
	m.Tick()
	if m.State() != elet.StateFire {
		t.Fatalf("state = %s before burn end", m.State())
	}

	clock.Advance(time.Second)
	m.Tick()
	if m.State() != elet.StateSafing {
		t.Fatalf("state = %s after burn end, want safing", m.State())
	}
	if m.Level(elet.ValveOxygenOnOff) != 0 || m.Level(elet.ValveFuelFlow) != 0 {
		t.Error("propellant valves should close on safing")
	}
	if m.Level(elet.ValveNitrogenPurge) != 1 || m.Level(elet.ValveOxygenBleed) != 1 {
		t.Error("purge and bleed should open on safing")
	}

	clock.Advance(5 * time.Second)
	m.Tick()
	if m.State() != elet.StateReady {
		t.Fatalf("state = %s after safing window, want ready", m.State())
	}
	for _, v := range elet.Valves() {
		if m.Level(v) != 0 {
			t.Errorf("%s still open after safing", v)
		}
	}
	if !m.Deadline().IsZero() {
		t.Error("deadline should clear in Ready")
	}
	// ignition outcome persists
	if m.Ignition() != elet.IgnitionSuccess {
		t.Errorf("ignition = %s", m.Ignition())
	}
}

func TestMachine_StopDuringBurn(t *testing.T) {
	hw := &fakeHardware{continuity: true, senseWire: []bool{true, false}}
	m, _ := newTestMachine(hw)

	m.Handle(elet.CommandStart, 60)
	if err := m.Handle(elet.CommandStop, 0); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if m.State() != elet.StateSafing {
		t.Errorf("state = %s, want safing", m.State())
	}
	if err := m.Handle(elet.CommandStop, 0); !errors.Is(err, ErrPolicyViolation) {
		t.Errorf("second Stop = %v, want policy violation", err)
	}
}

func TestMachine_Depress(t *testing.T) {
	hw := &fakeHardware{}
	m, clock := newTestMachine(hw)

	if err := m.Handle(elet.CommandDepress, 20); err != nil {
		t.Fatalf("Depress: %v", err)
	}
	if m.State() != elet.StateDepress {
		t.Fatalf("state = %s", m.State())
	}
	if m.Level(elet.ValveNitrogenOnOff) != 1 || m.Level(elet.ValveFuelOnOff) != 1 || m.Level(elet.ValveFuelFlow) != 255 {
		t.Error("fuel path and nitrogen should be open while draining")
	}
	if m.Level(elet.ValveOxygenOnOff) != 0 {
		t.Error("oxygen should stay closed while draining")
	}

	clock.Advance(19 * time.Second)
	m.Tick()
	if m.State() != elet.StateDepress {
		t.Fatal("drain ended early")
	}
	clock.Advance(time.Second)
	m.Tick()
	if m.State() != elet.StateReady {
		t.Fatalf("state = %s after drain", m.State())
	}
}

func TestMachine_CloseAll(t *testing.T) {
	hw := &fakeHardware{}
	m, _ := newTestMachine(hw)

	m.Handle(elet.CommandModifyValve, elet.ValveArgument(elet.ValveNitrogenPurge, 1))
	m.Handle(elet.CommandModifyValve, elet.ValveArgument(elet.ValveFuelFlow, 90))
	if err := m.Handle(elet.CommandModifyValve, elet.CloseAllArgument()); err != nil {
		t.Fatalf("close all: %v", err)
	}
	for _, v := range elet.Valves() {
		if m.Level(v) != 0 {
			t.Errorf("%s level = %d after close all", v, m.Level(v))
		}
	}
}

// ============================================================
// Snapshot Tests
// ============================================================

func TestMachine_Snapshot(t *testing.T) {
	hw := &fakeHardware{continuity: true}
	m, _ := newTestMachine(hw)
	m.Handle(elet.CommandModifyValve, elet.ValveArgument(elet.ValveOxygenFlow, 255))
	m.Handle(elet.CommandModifyValve, elet.ValveArgument(elet.ValveNitrogenPurge, 1))

	p := m.Snapshot(2, 1000)
	if p.Sequence != 2 || p.Timestamp != 1000 {
		t.Errorf("header = %+v", p.Header)
	}
	if !p.ValveOpen(elet.ValveOxygenFlow) || !p.ValveOpen(elet.ValveNitrogenPurge) || p.ValveOpen(elet.ValveFuelFlow) {
		t.Errorf("valves = %08b", p.Valves)
	}
	if p.PWMOxidizer != 255 || p.PWMFuel != 0 {
		t.Errorf("pwm = %d/%d", p.PWMOxidizer, p.PWMFuel)
	}
	if p.Status.State() != elet.StateReady || !p.Status.IgniterGood() || p.Status.ReservedSet() {
		t.Errorf("status = %08b", p.Status.Byte())
	}
	if p.Pressures[elet.PressureFuel] != 101 || p.Temperatures[elet.ThermocoupleWater] != 21 || p.Thrust != 42 {
		t.Errorf("readings = %v %v %v", p.Pressures, p.Temperatures, p.Thrust)
	}
}

func TestMachine_SnapshotIgniterGoodOnlyInReady(t *testing.T) {
	hw := &fakeHardware{}
	m, _ := newTestMachine(hw)
	m.Handle(elet.CommandDepress, 30)

	hw.continuity = true
	p := m.Snapshot(1, 0)
	if p.Status.IgniterGood() {
		t.Error("igniter-good must not be reported outside Ready")
	}
	if p.Status.State() != elet.StateDepress {
		t.Errorf("state = %s", p.Status.State())
	}
}
