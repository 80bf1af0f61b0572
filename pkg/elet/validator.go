// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package elet

import (
	"fmt"
	"math"
)

// AnomalyType represents different kinds of suspicious packet contents
type AnomalyType int

const (
	AnomalyReservedBit AnomalyType = iota
	AnomalyInvalidIgnition
	AnomalyInvalidState
	AnomalyIgniterGoodOutsideReady
	AnomalyInvalidPWM
	AnomalyInvalidReading
	AnomalyUnterminatedMessage
	AnomalyInvalidCommand
	AnomalyDecodeError
)

// ValidationError describes one anomaly found in a decoded packet
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidatePacket looks for anomalies a well-formed packet may still carry.
// Returns an empty slice for a clean packet.
func ValidatePacket(p Packet) []ValidationError {
	switch p := p.(type) {
	case *DataPacket:
		return validateData(p)
	case *MessagePacket:
		return validateMessage(p)
	case *RequestPacket:
		return validateRequest(p)
	}
	return []ValidationError{}
}

func validateData(p *DataPacket) []ValidationError {
	errors := []ValidationError{}
	st := p.Status

	if st.ReservedSet() {
		errors = append(errors, ValidationError{
			Type:    AnomalyReservedBit,
			Message: fmt.Sprintf("Reserved status bit set (status=0x%02X)", st.Byte()),
			Details: map[string]interface{}{"status": st.Byte()},
		})
	}

	if !st.Ignition().Valid() {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidIgnition,
			Message: fmt.Sprintf("Invalid ignition status=%d (max %d)", st.Ignition(), IgnitionUnknown),
			Details: map[string]interface{}{"ignition": uint8(st.Ignition()), "max": uint8(IgnitionUnknown)},
		})
	}

	if !st.State().Valid() {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidState,
			Message: fmt.Sprintf("Invalid system state=%d (max %d)", st.State(), StateDepress),
			Details: map[string]interface{}{"state": uint8(st.State()), "max": uint8(StateDepress)},
		})
	}

	if st.IgniterGood() && st.State() != StateReady {
		errors = append(errors, ValidationError{
			Type:    AnomalyIgniterGoodOutsideReady,
			Message: fmt.Sprintf("Igniter-good bit set in state %s", st.State()),
			Details: map[string]interface{}{"state": uint8(st.State())},
		})
	}

	// A flow valve's bitmap bit follows its level
	for _, v := range []Valve{ValveOxygenFlow, ValveFuelFlow} {
		open := p.ValveOpen(v)
		level := p.ValveLevel(v)
		if open != (level > 0) {
			errors = append(errors, ValidationError{
				Type:    AnomalyInvalidPWM,
				Message: fmt.Sprintf("%s bitmap open=%t but level=%d", v, open, level),
				Details: map[string]interface{}{"valve": v.String(), "open": open, "level": level},
			})
		}
	}

	type reading struct {
		name  string
		value float32
	}
	readings := []reading{}
	for i, v := range p.Pressures {
		readings = append(readings, reading{"pressure " + PressureSensor(i).String(), v})
	}
	for i, v := range p.Temperatures {
		readings = append(readings, reading{"temperature " + Thermocouple(i).String(), v})
	}
	readings = append(readings, reading{"thrust", p.Thrust})
	for _, r := range readings {
		f := float64(r.value)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			errors = append(errors, ValidationError{
				Type:    AnomalyInvalidReading,
				Message: fmt.Sprintf("Non-finite %s reading", r.name),
				Details: map[string]interface{}{"sensor": r.name},
			})
		}
	}

	return errors
}

func validateMessage(p *MessagePacket) []ValidationError {
	if p.Terminated() {
		return []ValidationError{}
	}
	return []ValidationError{{
		Type:    AnomalyUnterminatedMessage,
		Message: "MESSAGE text has no terminator",
		Details: map[string]interface{}{"capacity": MessageTextSize},
	}}
}

func validateRequest(p *RequestPacket) []ValidationError {
	if p.Command <= CommandDepress {
		return []ValidationError{}
	}
	return []ValidationError{{
		Type:    AnomalyInvalidCommand,
		Message: fmt.Sprintf("Unknown command=%d", p.Command),
		Details: map[string]interface{}{"command": uint8(p.Command)},
	}}
}
