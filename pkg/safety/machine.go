// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package safety implements the controller's safety state machine.
//
// The machine owns the one authoritative SystemState and every valve level.
// Commands are checked against the transition rules before any hardware is
// touched. The ignition sequence runs to completion inside Handle and
// blocks the caller for its whole duration, so no telemetry is produced and
// no command is accepted while the igniter is being fired.
package safety

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/teststand/pkg/elet"
)

// Phase is a step of the ignition sequence
type Phase int

// Ignition phases, in order
const (
	PhaseSenseCheck Phase = iota
	PhaseContinuityCheck
	PhaseSettle
	PhaseFire
	PhaseCooldown
	PhaseSenseResult
)

var phaseNames = map[Phase]string{
	PhaseSenseCheck:      "sense-check",
	PhaseContinuityCheck: "continuity-check",
	PhaseSettle:          "settle",
	PhaseFire:            "fire",
	PhaseCooldown:        "cooldown",
	PhaseSenseResult:     "sense-result",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Config holds the fixed wait windows of the machine
type Config struct {
	// Settle is the pause between a good continuity check and firing
	Settle time.Duration
	// Cooldown is the wait after firing before the sense wire is re-tested
	Cooldown time.Duration
	// SafingWindow is how long purge and bleed stay open after a stop
	SafingWindow time.Duration
}

// DefaultConfig returns the stand's production timings
func DefaultConfig() Config {
	return Config{
		Settle:       3 * time.Second,
		Cooldown:     time.Second,
		SafingWindow: 5 * time.Second,
	}
}

// Machine is the controller's safety state machine. It is not safe for
// concurrent use; the controller drives it from a single goroutine.
type Machine struct {
	hw    Hardware
	clock Clock
	cfg   Config
	log   *logrus.Entry

	state    elet.SystemState
	ignition elet.IgnitionStatus
	levels   [elet.NumValves]uint8
	deadline time.Time

	// OnPhase, when set, is called as each ignition phase begins
	OnPhase func(Phase)
}

// NewMachine boots a machine in Ready with every valve closed. Zero fields
// in cfg take their defaults and a nil clock is the wall clock.
func NewMachine(hw Hardware, clock Clock, cfg Config, log *logrus.Entry) *Machine {
	def := DefaultConfig()
	if cfg.Settle <= 0 {
		cfg.Settle = def.Settle
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.SafingWindow <= 0 {
		cfg.SafingWindow = def.SafingWindow
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	m := &Machine{
		hw:       hw,
		clock:    clock,
		cfg:      cfg,
		log:      log,
		state:    elet.StateReady,
		ignition: elet.IgnitionUnknown,
	}
	m.closeAll()
	return m
}

// State returns the current system state
func (m *Machine) State() elet.SystemState {
	return m.state
}

// Ignition returns the outcome of the most recent ignition attempt
func (m *Machine) Ignition() elet.IgnitionStatus {
	return m.ignition
}

// Level returns the commanded level of v
func (m *Machine) Level(v elet.Valve) uint8 {
	if !v.Valid() {
		return 0
	}
	return m.levels[v]
}

// Deadline returns when the current timed state ends. It is the zero time
// in Ready.
func (m *Machine) Deadline() time.Time {
	return m.deadline
}

// Handle applies one command. A command that is illegal in the current
// state, or whose argument is out of range, returns a *PolicyError and
// leaves the machine and the hardware untouched.
func (m *Machine) Handle(cmd elet.Command, arg uint32) error {
	next, err := Check(m.state, cmd, arg)
	if err != nil {
		m.log.WithError(err).Warn("command rejected")
		return err
	}

	m.log.WithField("command", elet.FormatCommand(cmd, arg)).Info("command accepted")

	switch cmd {
	case elet.CommandStart:
		m.setState(next)
		m.ignite(time.Duration(arg) * time.Second)
	case elet.CommandStop:
		m.enterSafing()
	case elet.CommandDepress:
		m.enterDepress(time.Duration(arg) * time.Second)
	case elet.CommandModifyValve:
		m.modifyValve(arg)
	}
	return nil
}

// Tick ends any timed state whose deadline has passed. The controller
// calls it on every pass of its loop.
func (m *Machine) Tick() {
	if m.state == elet.StateReady || m.deadline.IsZero() {
		return
	}
	if m.clock.Now().Before(m.deadline) {
		return
	}

	switch m.state {
	case elet.StateFire:
		m.log.Info("burn complete")
		m.enterSafing()
	case elet.StateSafing, elet.StateDepress:
		m.log.WithField("state", m.state).Info("sequence complete")
		m.closeAll()
		m.deadline = time.Time{}
		m.setState(elet.StateReady)
	}
}

// Snapshot samples the hardware into a DataPacket. seq is the sequence of
// the last request the controller processed. The igniter-good bit is only
// tested in Ready.
func (m *Machine) Snapshot(seq, timestamp uint32) *elet.DataPacket {
	p := elet.NewData(seq, timestamp)

	for _, v := range elet.Valves() {
		if m.levels[v] > 0 {
			p.Valves |= 1 << v
		}
	}
	p.PWMOxidizer = m.levels[elet.ValveOxygenFlow]
	p.PWMFuel = m.levels[elet.ValveFuelFlow]

	igniterGood := m.state == elet.StateReady && m.hw.TestIgniterContinuity()
	p.Status = elet.NewStatus(m.ignition, m.state, igniterGood)

	for i := range p.Pressures {
		p.Pressures[i] = m.hw.ReadPressure(elet.PressureSensor(i))
	}
	for i := range p.Temperatures {
		p.Temperatures[i] = m.hw.ReadTemperature(elet.Thermocouple(i))
	}
	p.Thrust = m.hw.ReadThrust()
	return p
}

func (m *Machine) setState(s elet.SystemState) {
	if s != m.state {
		m.log.WithField("from", m.state).WithField("to", s).Info("state change")
	}
	m.state = s
}

func (m *Machine) phase(p Phase) {
	m.log.WithField("phase", p).Debug("ignition phase")
	if m.OnPhase != nil {
		m.OnPhase(p)
	}
}

// ignite runs the firing sequence. Nothing is energized unless both the
// sense wire and the igniter show continuity.
func (m *Machine) ignite(burn time.Duration) {
	m.phase(PhaseSenseCheck)
	if !m.hw.TestIgnitionSense() {
		m.abortIgnition(elet.IgnitionFailNoSenseWire)
		return
	}

	m.phase(PhaseContinuityCheck)
	if !m.hw.TestIgniterContinuity() {
		m.abortIgnition(elet.IgnitionFailBadIgniter)
		return
	}

	m.phase(PhaseSettle)
	m.clock.Sleep(m.cfg.Settle)

	m.phase(PhaseFire)
	m.hw.FireIgniter()

	m.phase(PhaseCooldown)
	m.clock.Sleep(m.cfg.Cooldown)

	m.phase(PhaseSenseResult)
	if m.hw.TestIgnitionSense() {
		// wire intact: the engine never lit
		m.ignition = elet.IgnitionFailNoIgnition
		m.log.WithField("ignition", m.ignition).Warn("ignition failed")
		m.enterSafing()
		return
	}

	m.ignition = elet.IgnitionSuccess
	m.log.WithField("burn", burn).Info("ignition detected")
	m.setValve(elet.ValveOxygenOnOff, elet.ValveOxygenOnOff.OpenLevel())
	m.setValve(elet.ValveFuelOnOff, elet.ValveFuelOnOff.OpenLevel())
	m.setValve(elet.ValveOxygenFlow, 255)
	m.setValve(elet.ValveFuelFlow, 255)
	m.deadline = m.clock.Now().Add(burn)
}

func (m *Machine) abortIgnition(status elet.IgnitionStatus) {
	m.ignition = status
	m.log.WithField("ignition", status).Warn("ignition aborted")
	m.deadline = time.Time{}
	m.setState(elet.StateReady)
}

// enterSafing shuts off both propellants and purges the lines
func (m *Machine) enterSafing() {
	m.setValve(elet.ValveOxygenOnOff, 0)
	m.setValve(elet.ValveOxygenFlow, 0)
	m.setValve(elet.ValveFuelOnOff, 0)
	m.setValve(elet.ValveFuelFlow, 0)
	m.setValve(elet.ValveNitrogenPurge, elet.ValveNitrogenPurge.OpenLevel())
	m.setValve(elet.ValveOxygenBleed, elet.ValveOxygenBleed.OpenLevel())
	m.deadline = m.clock.Now().Add(m.cfg.SafingWindow)
	m.setState(elet.StateSafing)
}

// enterDepress pushes the remaining fuel out with nitrogen
func (m *Machine) enterDepress(drain time.Duration) {
	m.setValve(elet.ValveOxygenOnOff, 0)
	m.setValve(elet.ValveOxygenFlow, 0)
	m.setValve(elet.ValveFuelOnOff, elet.ValveFuelOnOff.OpenLevel())
	m.setValve(elet.ValveFuelFlow, 255)
	m.setValve(elet.ValveNitrogenOnOff, elet.ValveNitrogenOnOff.OpenLevel())
	m.deadline = m.clock.Now().Add(drain)
	m.setState(elet.StateDepress)
}

func (m *Machine) modifyValve(arg uint32) {
	v, level, closeAll := elet.SplitValveArgument(arg)
	if closeAll {
		m.closeAll()
		return
	}
	m.setValve(v, level)
}

func (m *Machine) closeAll() {
	for _, v := range elet.Valves() {
		m.setValve(v, 0)
	}
}

func (m *Machine) setValve(v elet.Valve, level uint8) {
	switch {
	case level == 0:
		m.hw.CloseValve(v)
	case v.IsFlow():
		m.hw.SetValveLevel(v, level)
	default:
		m.hw.OpenValve(v)
		level = 1
	}
	m.levels[v] = level
}
