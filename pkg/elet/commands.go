// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package elet

import "fmt"

// Command builder functions create RequestPackets ready for encoding. They
// check arguments against the protocol ranges but know nothing about the
// controller's current state.

// NewStopRequest creates a Stop request
func NewStopRequest(seq uint32) *RequestPacket {
	return NewRequest(seq, 0, CommandStop, 0)
}

// NewStartRequest creates a Start request for a burn of seconds, which must
// be within [MinBurnSeconds, MaxBurnSeconds].
func NewStartRequest(seq uint32, seconds uint32) (*RequestPacket, error) {
	if seconds < MinBurnSeconds || seconds > MaxBurnSeconds {
		return nil, fmt.Errorf("burn time %ds outside [%d,%d]", seconds, MinBurnSeconds, MaxBurnSeconds)
	}
	return NewRequest(seq, 0, CommandStart, seconds), nil
}

// NewDepressRequest creates a Depress request draining for seconds, which
// must be within [MinDrainSeconds, MaxDrainSeconds].
func NewDepressRequest(seq uint32, seconds uint32) (*RequestPacket, error) {
	if seconds < MinDrainSeconds || seconds > MaxDrainSeconds {
		return nil, fmt.Errorf("drain time %ds outside [%d,%d]", seconds, MinDrainSeconds, MaxDrainSeconds)
	}
	return NewRequest(seq, 0, CommandDepress, seconds), nil
}

// NewValveRequest creates a ModifyValve request setting v to level.
// Solenoids accept 0 or 1; flow valves accept any level.
func NewValveRequest(seq uint32, v Valve, level uint8) (*RequestPacket, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("unknown valve %d", uint8(v))
	}
	if !v.ValidLevel(level) {
		return nil, fmt.Errorf("level %d invalid for solenoid valve %s", level, v)
	}
	return NewRequest(seq, 0, CommandModifyValve, ValveArgument(v, level)), nil
}

// NewCloseAllRequest creates a ModifyValve request closing every valve
func NewCloseAllRequest(seq uint32) *RequestPacket {
	return NewRequest(seq, 0, CommandModifyValve, CloseAllArgument())
}
