// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package elet

// Valve is a valve ordinal; bit n of the DataPacket valve bitmap is valve n
type Valve uint8

// Valve ordinals
const (
	ValveOxygenOnOff Valve = iota
	ValveOxygenBleed
	ValveOxygenFlow
	ValveNitrogenPurge
	ValveNitrogenOnOff
	ValveFuelFlow
	ValveFuelOnOff

	NumValves = 7
)

// ValveInfo describes one valve
type ValveInfo struct {
	Name  string // display name
	Token string // short name used in operator commands
	Flow  bool   // flow-control valve driven by a 0-255 duty level
}

var valveTable = [NumValves]ValveInfo{
	ValveOxygenOnOff:   {Name: "oxygen on/off", Token: "oxoo"},
	ValveOxygenBleed:   {Name: "oxygen bleed", Token: "oxbl"},
	ValveOxygenFlow:    {Name: "oxygen flow control", Token: "oxfl", Flow: true},
	ValveNitrogenPurge: {Name: "nitrogen purge", Token: "n2pr"},
	ValveNitrogenOnOff: {Name: "nitrogen on/off", Token: "n2oo"},
	ValveFuelFlow:      {Name: "fuel flow control", Token: "fufl", Flow: true},
	ValveFuelOnOff:     {Name: "fuel on/off", Token: "fuoo"},
}

// Valid reports whether v is a known valve ordinal
func (v Valve) Valid() bool {
	return int(v) < NumValves
}

// Info returns the metadata for v. Unknown valves return a zero ValveInfo.
func (v Valve) Info() ValveInfo {
	if !v.Valid() {
		return ValveInfo{}
	}
	return valveTable[v]
}

// IsFlow reports whether v is a flow-control valve
func (v Valve) IsFlow() bool {
	return v.Info().Flow
}

// String returns the valve's command token
func (v Valve) String() string {
	if !v.Valid() {
		return "unknown"
	}
	return valveTable[v].Token
}

// OpenLevel is the level that fully opens v: 255 for flow valves, 1 for
// solenoids.
func (v Valve) OpenLevel() uint8 {
	if v.IsFlow() {
		return 255
	}
	return 1
}

// ValidLevel reports whether level is an acceptable ModifyValve level for v
func (v Valve) ValidLevel(level uint8) bool {
	if !v.Valid() {
		return false
	}
	if v.IsFlow() {
		return true
	}
	return level <= 1
}

// Valves returns every valve in ordinal order
func Valves() []Valve {
	vs := make([]Valve, NumValves)
	for i := range vs {
		vs[i] = Valve(i)
	}
	return vs
}

// LookupValve finds a valve by its exact command token
func LookupValve(token string) (Valve, bool) {
	for i, info := range valveTable {
		if info.Token == token {
			return Valve(i), true
		}
	}
	return 0, false
}

// ValveArgument packs a ModifyValve argument: valve in bits 0-7, level in
// bits 8-15.
func ValveArgument(v Valve, level uint8) uint32 {
	return uint32(v) | uint32(level)<<8
}

// CloseAllArgument is the ModifyValve argument that closes every valve
func CloseAllArgument() uint32 {
	return CloseAllValves
}

// SplitValveArgument unpacks a ModifyValve argument. closeAll is set when
// the low byte is the close-all sentinel, in which case level is ignored.
func SplitValveArgument(arg uint32) (v Valve, level uint8, closeAll bool) {
	low := uint8(arg)
	if low == CloseAllValves {
		return 0, 0, true
	}
	return Valve(low), uint8(arg >> 8), false
}

// PressureSensor indexes DataPacket.Pressures
type PressureSensor uint8

// Pressure sensors
const (
	PressureOxygen PressureSensor = iota
	PressureFuel

	NumPressureSensors = 2
)

var pressureNames = [NumPressureSensors]string{"oxygen", "fuel"}

func (p PressureSensor) String() string {
	if int(p) >= NumPressureSensors {
		return "unknown"
	}
	return pressureNames[p]
}

// Thermocouple indexes DataPacket.Temperatures
type Thermocouple uint8

// Thermocouples
const (
	ThermocoupleOxygen Thermocouple = iota
	ThermocoupleWater

	NumThermocouples = 2
)

var thermocoupleNames = [NumThermocouples]string{"oxygen", "water"}

func (t Thermocouple) String() string {
	if int(t) >= NumThermocouples {
		return "unknown"
	}
	return thermocoupleNames[t]
}
