// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package command parses operator command lines into requests.
//
// One line is one command:
//
//	start-the-damn-engine<N>   fire and burn for N seconds (2-120)
//	drain-the-fuel<N>          depressurize the fuel side for N seconds (15-120)
//	stop                       stop and safe the stand
//	v off                      close every valve
//	v <valve> on|off           open or close one valve
//
// Parse never has side effects; a rejected line changes nothing.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Thermoquad/teststand/pkg/elet"
)

const (
	startPrefix = "start-the-damn-engine"
	drainPrefix = "drain-the-fuel"
	stopWord    = "stop"
	valveWord   = "v"
	onWord      = "on"
	offWord     = "off"
)

// ErrInvalidCommand is wrapped by every ParseError
var ErrInvalidCommand = errors.New("invalid command")

// ParseError reports a line that is not a valid command
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%q: %s", e.Line, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return ErrInvalidCommand
}

// Request is a parsed command ready to be numbered and sent
type Request struct {
	Command  elet.Command
	Argument uint32
}

func (r Request) String() string {
	return elet.FormatCommand(r.Command, r.Argument)
}

// Packet builds the wire packet for r with sequence seq
func (r Request) Packet(seq uint32) *elet.RequestPacket {
	return elet.NewRequest(seq, 0, r.Command, r.Argument)
}

// fromPacket keeps the command and argument of a builder's packet
func fromPacket(p *elet.RequestPacket) Request {
	return Request{Command: p.Command, Argument: p.Argument}
}

// Parse turns one operator line into a Request. Surrounding whitespace,
// including a trailing carriage return, is ignored. Arguments are range
// checked by the elet request builders.
func Parse(line string) (Request, error) {
	text := strings.TrimSpace(line)

	switch {
	case text == "":
		return Request{}, &ParseError{Line: line, Reason: "empty command"}
	case text == stopWord:
		return fromPacket(elet.NewStopRequest(0)), nil
	case strings.HasPrefix(text, startPrefix):
		n, err := parseSeconds(text[len(startPrefix):])
		if err != nil {
			return Request{}, &ParseError{Line: line, Reason: "burn time " + err.Error()}
		}
		p, err := elet.NewStartRequest(0, n)
		if err != nil {
			return Request{}, &ParseError{Line: line, Reason: err.Error()}
		}
		return fromPacket(p), nil
	case strings.HasPrefix(text, drainPrefix):
		n, err := parseSeconds(text[len(drainPrefix):])
		if err != nil {
			return Request{}, &ParseError{Line: line, Reason: "drain time " + err.Error()}
		}
		p, err := elet.NewDepressRequest(0, n)
		if err != nil {
			return Request{}, &ParseError{Line: line, Reason: err.Error()}
		}
		return fromPacket(p), nil
	}

	fields := strings.Fields(text)
	if fields[0] == valveWord {
		return parseValve(line, fields[1:])
	}
	return Request{}, &ParseError{Line: line, Reason: "unknown command"}
}

func parseValve(line string, args []string) (Request, error) {
	switch {
	case len(args) == 1 && args[0] == offWord:
		return fromPacket(elet.NewCloseAllRequest(0)), nil
	case len(args) != 2:
		return Request{}, &ParseError{Line: line, Reason: "usage: v off | v <valve> on|off"}
	}

	v, ok := elet.LookupValve(args[0])
	if !ok {
		return Request{}, &ParseError{Line: line, Reason: fmt.Sprintf("unknown valve %q", args[0])}
	}

	var level uint8
	switch args[1] {
	case onWord:
		level = v.OpenLevel()
	case offWord:
		level = 0
	default:
		return Request{}, &ParseError{Line: line, Reason: fmt.Sprintf("expected on or off, got %q", args[1])}
	}
	p, err := elet.NewValveRequest(0, v, level)
	if err != nil {
		return Request{}, &ParseError{Line: line, Reason: err.Error()}
	}
	return fromPacket(p), nil
}

// parseSeconds accepts only ASCII digits: no sign, no spaces, nothing after
func parseSeconds(s string) (uint32, error) {
	if s == "" {
		return 0, errors.New("missing")
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("%q is not a whole number of seconds", s)
		}
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s is too large", s)
	}
	return uint32(n), nil
}

// Usage lists the accepted commands, one per line
func Usage() []string {
	valves := make([]string, 0, elet.NumValves)
	for _, v := range elet.Valves() {
		valves = append(valves, v.String())
	}
	return []string{
		fmt.Sprintf("%s<N>  fire, burn N seconds (%d-%d)", startPrefix, elet.MinBurnSeconds, elet.MaxBurnSeconds),
		fmt.Sprintf("%s<N>  drain fuel for N seconds (%d-%d)", drainPrefix, elet.MinDrainSeconds, elet.MaxDrainSeconds),
		"stop  stop and safe the stand",
		"v off  close every valve",
		"v <valve> on|off  valves: " + strings.Join(valves, " "),
	}
}
