// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package elet

// Status is the packed DataPacket status byte.
//
// Bits 0-2 hold the last IgnitionStatus, bits 3-5 the SystemState, bit 6 the
// igniter-good flag (only ever set in StateReady) and bit 7 is reserved.
// NewStatus never sets the reserved bit; a Status carrying it can only come
// from decoding a corrupt packet.
type Status struct {
	b byte
}

// NewStatus packs a status byte. Codes wider than three bits are truncated
// and igniterGood is dropped unless state is StateReady.
func NewStatus(ignition IgnitionStatus, state SystemState, igniterGood bool) Status {
	b := byte(ignition) & statusIgnitionMask
	b |= (byte(state) & statusFieldMaxValue) << statusStateShift
	if igniterGood && state == StateReady {
		b |= statusIgniterGood
	}
	return Status{b: b}
}

// StatusFromByte wraps a raw status byte as received on the wire
func StatusFromByte(b byte) Status {
	return Status{b: b}
}

// Byte returns the wire encoding
func (s Status) Byte() byte {
	return s.b
}

// Ignition returns the last ignition outcome
func (s Status) Ignition() IgnitionStatus {
	return IgnitionStatus(s.b & statusIgnitionMask)
}

// State returns the controller's system state
func (s Status) State() SystemState {
	return SystemState((s.b & statusStateMask) >> statusStateShift)
}

// IgniterGood reports igniter continuity; always false outside StateReady
func (s Status) IgniterGood() bool {
	return s.b&statusIgniterGood != 0
}

// ReservedSet reports whether the reserved bit 7 is set
func (s Status) ReservedSet() bool {
	return s.b&statusReserved != 0
}

func (s SystemState) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateFire:
		return "firing"
	case StateSafing:
		return "safing"
	case StateDepress:
		return "fuel depressurization"
	default:
		return "unknown state"
	}
}

// Valid reports whether s is a defined state
func (s SystemState) Valid() bool {
	return s <= StateDepress
}

func (i IgnitionStatus) String() string {
	switch i {
	case IgnitionSuccess:
		return "success"
	case IgnitionFailNoSenseWire:
		return "failed: no ignition sense wire present"
	case IgnitionFailBadIgniter:
		return "failed: no continuity across igniter"
	case IgnitionFailNoIgnition:
		return "failed: no ignition"
	case IgnitionUnknown:
		return "no ignition attempted"
	default:
		return "bad ignition status"
	}
}

// Valid reports whether i is a defined ignition status
func (i IgnitionStatus) Valid() bool {
	return i <= IgnitionUnknown
}
