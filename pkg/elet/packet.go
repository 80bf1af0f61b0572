// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package elet

import "bytes"

// Header prefixes every packet
type Header struct {
	Length    uint16     // total encoded size including the header
	Type      PacketType // packet type tag
	Sequence  uint32     // request sequence (console) or last processed request (controller)
	Timestamp uint32     // sender-local milliseconds, advisory only
}

// Packet is one of *HelloPacket, *RequestPacket, *DataPacket or
// *MessagePacket.
type Packet interface {
	PacketHeader() Header
	isPacket()
}

// HelloPacket opens a connection and sets the sequence baseline
type HelloPacket struct {
	Header
}

// RequestPacket carries one operator command to the controller
type RequestPacket struct {
	Header
	Command  Command
	Argument uint32
}

// DataPacket is the controller's periodic telemetry frame
type DataPacket struct {
	Header
	Valves       uint8 // open bitmap indexed by Valve
	PWMOxidizer  uint8 // oxygen flow control level
	PWMFuel      uint8 // fuel flow control level
	Status       Status
	Pressures    [NumPressureSensors]float32
	Temperatures [NumThermocouples]float32
	Thrust       float32
}

// MessagePacket carries a NUL-terminated diagnostic string
type MessagePacket struct {
	Header
	Data [MessageTextSize]byte
}

func (p *HelloPacket) PacketHeader() Header   { return p.Header }
func (p *RequestPacket) PacketHeader() Header { return p.Header }
func (p *DataPacket) PacketHeader() Header    { return p.Header }
func (p *MessagePacket) PacketHeader() Header { return p.Header }

func (*HelloPacket) isPacket()   {}
func (*RequestPacket) isPacket() {}
func (*DataPacket) isPacket()    {}
func (*MessagePacket) isPacket() {}

// SizeOf returns the fixed encoded size of a packet type
func SizeOf(t PacketType) (int, bool) {
	switch t {
	case TypeHello:
		return HelloSize, true
	case TypeRequest:
		return RequestSize, true
	case TypeData:
		return DataSize, true
	case TypeMessage:
		return MessageSize, true
	default:
		return 0, false
	}
}

func newHeader(t PacketType, seq, timestamp uint32) Header {
	size, _ := SizeOf(t)
	return Header{Length: uint16(size), Type: t, Sequence: seq, Timestamp: timestamp}
}

// NewHello creates a HelloPacket
func NewHello(seq, timestamp uint32) *HelloPacket {
	return &HelloPacket{Header: newHeader(TypeHello, seq, timestamp)}
}

// NewRequest creates a RequestPacket
func NewRequest(seq, timestamp uint32, cmd Command, arg uint32) *RequestPacket {
	return &RequestPacket{
		Header:   newHeader(TypeRequest, seq, timestamp),
		Command:  cmd,
		Argument: arg,
	}
}

// NewData creates an empty DataPacket with a valid header
func NewData(seq, timestamp uint32) *DataPacket {
	return &DataPacket{Header: newHeader(TypeData, seq, timestamp)}
}

// NewMessage creates a MessagePacket. Text longer than the buffer allows
// is truncated so the terminator always fits.
func NewMessage(seq, timestamp uint32, text string) *MessagePacket {
	p := &MessagePacket{Header: newHeader(TypeMessage, seq, timestamp)}
	copy(p.Data[:MessageTextSize-1], text)
	return p
}

// Text returns the message up to its terminator. A buffer with no
// terminator yields the whole buffer; ValidatePacket flags that case.
func (p *MessagePacket) Text() string {
	if i := bytes.IndexByte(p.Data[:], 0); i >= 0 {
		return string(p.Data[:i])
	}
	return string(p.Data[:])
}

// Terminated reports whether the text buffer holds a NUL terminator
func (p *MessagePacket) Terminated() bool {
	return bytes.IndexByte(p.Data[:], 0) >= 0
}

// ValveOpen reports whether v's bit is set in the valve bitmap
func (p *DataPacket) ValveOpen(v Valve) bool {
	return v.Valid() && p.Valves&(1<<v) != 0
}

// ValveLevel returns the level of v as reported by this frame: the PWM
// byte for flow valves, 0 or 1 for solenoids.
func (p *DataPacket) ValveLevel(v Valve) uint8 {
	switch v {
	case ValveOxygenFlow:
		return p.PWMOxidizer
	case ValveFuelFlow:
		return p.PWMFuel
	}
	if p.ValveOpen(v) {
		return 1
	}
	return 0
}
