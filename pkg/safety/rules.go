// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package safety

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/teststand/pkg/elet"
)

// ErrPolicyViolation is wrapped by every rejected command
var ErrPolicyViolation = errors.New("command rejected by safety policy")

// PolicyError describes why a command may not run in a given state
type PolicyError struct {
	State    elet.SystemState
	Command  elet.Command
	Argument uint32
	Reason   string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s rejected in state %s: %s", e.Command, e.State, e.Reason)
}

func (e *PolicyError) Unwrap() error {
	return ErrPolicyViolation
}

// rule is the legality of one command: the states it may be issued from,
// the state it leads to from each, and an argument check.
type rule struct {
	from     map[elet.SystemState]elet.SystemState
	validate func(arg uint32) string
}

var rules = map[elet.Command]rule{
	elet.CommandStart: {
		from:     map[elet.SystemState]elet.SystemState{elet.StateReady: elet.StateFire},
		validate: rangeCheck("burn", elet.MinBurnSeconds, elet.MaxBurnSeconds),
	},
	elet.CommandStop: {
		from: map[elet.SystemState]elet.SystemState{
			elet.StateReady: elet.StateSafing,
			elet.StateFire:  elet.StateSafing,
		},
	},
	elet.CommandDepress: {
		from:     map[elet.SystemState]elet.SystemState{elet.StateReady: elet.StateDepress},
		validate: rangeCheck("drain", elet.MinDrainSeconds, elet.MaxDrainSeconds),
	},
	elet.CommandModifyValve: {
		from:     map[elet.SystemState]elet.SystemState{elet.StateReady: elet.StateReady},
		validate: validateValveArgument,
	},
}

func rangeCheck(what string, lo, hi uint32) func(uint32) string {
	return func(arg uint32) string {
		if arg < lo || arg > hi {
			return fmt.Sprintf("%s time %ds outside [%d,%d]", what, arg, lo, hi)
		}
		return ""
	}
}

func validateValveArgument(arg uint32) string {
	v, level, closeAll := elet.SplitValveArgument(arg)
	if closeAll {
		return ""
	}
	if !v.Valid() {
		return fmt.Sprintf("unknown valve %d", uint8(v))
	}
	if !v.ValidLevel(level) {
		return fmt.Sprintf("level %d invalid for solenoid %s", level, v)
	}
	return ""
}

// Check decides whether cmd with arg may be issued in state and returns the
// state it leads to. Every (state, command) pair without a transition is a
// *PolicyError, as is any argument outside its range. The console runs the
// same check against its mirror of the controller state before sending.
func Check(state elet.SystemState, cmd elet.Command, arg uint32) (elet.SystemState, error) {
	r, ok := rules[cmd]
	if !ok {
		return state, &PolicyError{State: state, Command: cmd, Argument: arg, Reason: "unknown command"}
	}
	next, ok := r.from[state]
	if !ok {
		return state, &PolicyError{State: state, Command: cmd, Argument: arg, Reason: "not allowed in this state"}
	}
	if r.validate != nil {
		if reason := r.validate(arg); reason != "" {
			return state, &PolicyError{State: state, Command: cmd, Argument: arg, Reason: reason}
		}
	}
	return next, nil
}
