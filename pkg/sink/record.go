// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sink records decoded telemetry.
//
// Every Data and Message packet the console receives becomes one Record,
// written to any number of sinks: a CSV run log readable by the post
// report, a compact CBOR log, or human-readable text.
package sink

import (
	"github.com/Thermoquad/teststand/pkg/elet"
)

// Kind distinguishes record types
type Kind string

// Record kinds
const (
	KindData    Kind = "data"
	KindMessage Kind = "message"
	KindEvent   Kind = "event" // generated by the console, e.g. a controller reset
)

// Record is one logged line. Data fields are zero for messages and
// events; Text is empty for data.
type Record struct {
	Kind      Kind   `cbor:"1,keyasint"`
	Timestamp uint32 `cbor:"2,keyasint"`
	Sequence  uint32 `cbor:"3,keyasint"`

	Valves      uint8               `cbor:"4,keyasint,omitempty"`
	PWMOxidizer uint8               `cbor:"5,keyasint,omitempty"`
	PWMFuel     uint8               `cbor:"6,keyasint,omitempty"`
	Ignition    elet.IgnitionStatus `cbor:"7,keyasint,omitempty"`
	State       elet.SystemState    `cbor:"8,keyasint,omitempty"`
	IgniterGood bool                `cbor:"9,keyasint,omitempty"`

	Pressures    [elet.NumPressureSensors]float32 `cbor:"10,keyasint,omitempty"`
	Temperatures [elet.NumThermocouples]float32   `cbor:"11,keyasint,omitempty"`
	Thrust       float32                          `cbor:"12,keyasint,omitempty"`

	Text string `cbor:"13,keyasint,omitempty"`
}

// DataRecord flattens a DataPacket
func DataRecord(p *elet.DataPacket) Record {
	return Record{
		Kind:         KindData,
		Timestamp:    p.Timestamp,
		Sequence:     p.Sequence,
		Valves:       p.Valves,
		PWMOxidizer:  p.PWMOxidizer,
		PWMFuel:      p.PWMFuel,
		Ignition:     p.Status.Ignition(),
		State:        p.Status.State(),
		IgniterGood:  p.Status.IgniterGood(),
		Pressures:    p.Pressures,
		Temperatures: p.Temperatures,
		Thrust:       p.Thrust,
	}
}

// MessageRecord flattens a MessagePacket
func MessageRecord(p *elet.MessagePacket) Record {
	return Record{
		Kind:      KindMessage,
		Timestamp: p.Timestamp,
		Sequence:  p.Sequence,
		Text:      p.Text(),
	}
}

// EventRecord is a console-side note in the log
func EventRecord(timestamp, seq uint32, text string) Record {
	return Record{
		Kind:      KindEvent,
		Timestamp: timestamp,
		Sequence:  seq,
		Text:      text,
	}
}

// Sink consumes records. Sinks are used from one goroutine.
type Sink interface {
	Record(r Record) error
	Close() error
}

// Multi writes every record to all of its sinks
type Multi []Sink

func (m Multi) Record(r Record) error {
	for _, s := range m {
		if err := s.Record(r); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink and returns the first error
func (m Multi) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Discard drops every record
type Discard struct{}

func (Discard) Record(Record) error { return nil }
func (Discard) Close() error        { return nil }
