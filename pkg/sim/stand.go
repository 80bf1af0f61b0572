// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sim provides a simulated test stand for development without the
// rig attached.
package sim

import (
	"math/rand"
	"sync"
	"time"

	"github.com/Thermoquad/teststand/pkg/elet"
)

// Config describes how the simulated rig is set up
type Config struct {
	IgniterPresent bool // igniter installed and showing continuity
	SenseWire      bool // sense wire strung across the engine mouth
	Ignites        bool // firing the igniter lights the engine
	// AutoRearm re-rigs a fresh igniter and sense wire once a burn ends
	AutoRearm bool
	Seed      int64
}

// DefaultConfig is a rig ready to fire
func DefaultConfig() Config {
	return Config{
		IgniterPresent: true,
		SenseWire:      true,
		Ignites:        true,
		AutoRearm:      true,
		Seed:           time.Now().UnixNano(),
	}
}

// Nominal readings
const (
	oxygenTankPSI = 750.0
	fuelTankPSI   = 40.0
	nitrogenPSI   = 450.0
	ambientF      = 68.0
	maxThrustLbf  = 250.0
)

// Stand is a simulated rig implementing the safety machine's Hardware
type Stand struct {
	mu  sync.Mutex
	cfg Config
	rng *rand.Rand

	levels  [elet.NumValves]uint8
	igniter bool
	sense   bool
	burning bool
	fired   int
}

func NewStand(cfg Config) *Stand {
	return &Stand{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		igniter: cfg.IgniterPresent,
		sense:   cfg.SenseWire,
	}
}

func (s *Stand) OpenValve(v elet.Valve) {
	s.setLevel(v, v.OpenLevel())
}

func (s *Stand) CloseValve(v elet.Valve) {
	s.setLevel(v, 0)
}

func (s *Stand) SetValveLevel(v elet.Valve, level uint8) {
	if !v.IsFlow() && level > 1 {
		level = 1
	}
	s.setLevel(v, level)
}

func (s *Stand) setLevel(v elet.Valve, level uint8) {
	if !v.Valid() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	wasFlowing := s.propellantFlowing()
	s.levels[v] = level
	if s.burning && wasFlowing && !s.propellantFlowing() {
		s.burning = false
		if s.cfg.AutoRearm {
			s.igniter = true
			s.sense = true
		}
	}
}

// propellantFlowing needs mu held
func (s *Stand) propellantFlowing() bool {
	return s.levels[elet.ValveOxygenOnOff] > 0 && s.levels[elet.ValveFuelOnOff] > 0
}

func (s *Stand) ReadPressure(p elet.PressureSensor) float32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var psi float64
	switch p {
	case elet.PressureOxygen:
		psi = oxygenTankPSI
		if s.levels[elet.ValveOxygenOnOff] > 0 {
			psi -= 300 * float64(s.levels[elet.ValveOxygenFlow]) / 255
		}
		if s.levels[elet.ValveOxygenBleed] > 0 {
			psi = 15
		}
	case elet.PressureFuel:
		psi = fuelTankPSI
		if s.levels[elet.ValveNitrogenOnOff] > 0 {
			psi = nitrogenPSI
		}
	}
	return float32(psi + s.noise(2))
}

func (s *Stand) ReadTemperature(tc elet.Thermocouple) float32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := ambientF
	if tc == elet.ThermocoupleOxygen && s.levels[elet.ValveOxygenOnOff] > 0 {
		f = -120 // expanding oxygen chills the line
	}
	if tc == elet.ThermocoupleWater && s.burning {
		f = 140
	}
	return float32(f + s.noise(0.5))
}

func (s *Stand) ReadThrust() float32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.burning {
		return float32(s.noise(0.2))
	}
	ox := float64(s.levels[elet.ValveOxygenFlow]) / 255
	fuel := float64(s.levels[elet.ValveFuelFlow]) / 255
	return float32(maxThrustLbf*min(ox, fuel) + s.noise(5))
}

func (s *Stand) TestIgniterContinuity() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.igniter
}

// FireIgniter consumes the igniter. When the rig is set to ignite the
// sense wire burns through and the engine burns until a propellant valve
// that was open closes.
func (s *Stand) FireIgniter() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fired++
	s.igniter = false
	if s.cfg.Ignites {
		s.sense = false
		s.burning = true
	}
}

func (s *Stand) TestIgnitionSense() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sense
}

// Burning reports whether the simulated engine is lit
func (s *Stand) Burning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.burning && s.propellantFlowing()
}

// Fired returns how many times the igniter has been fired
func (s *Stand) Fired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}

// Level returns the level last applied to v
func (s *Stand) Level(v elet.Valve) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !v.Valid() {
		return 0
	}
	return s.levels[v]
}

// noise needs mu held
func (s *Stand) noise(amplitude float64) float64 {
	return (s.rng.Float64()*2 - 1) * amplitude
}
