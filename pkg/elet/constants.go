// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package elet implements the test stand command and telemetry protocol.
//
// Every packet is a fixed-layout little-endian structure with no padding,
// prefixed by an 11 byte header carrying the total packet length, the
// packet type, a sequence number and a sender-local millisecond timestamp.
// The console sends Hello and Request packets; the controller answers with
// Data and Message packets that echo the sequence number of the last
// request it fully processed.
package elet

// Header field offsets and size
const (
	offLength    = 0
	offType      = 2
	offSequence  = 3
	offTimestamp = 7

	HeaderSize = 11
)

// MessageTextSize is the capacity of the NUL-terminated text buffer in a
// MessagePacket.
const MessageTextSize = 256

// Packet sizes, header included
const (
	HelloSize   = HeaderSize
	RequestSize = HeaderSize + 1 + 4
	DataSize    = HeaderSize + 4 + 4*NumPressureSensors + 4*NumThermocouples + 4
	MessageSize = HeaderSize + MessageTextSize

	MaxPacketSize = MessageSize
)

// PacketType is the type tag carried in every header
type PacketType uint8

// Packet type values
const (
	TypeData    PacketType = 1
	TypeRequest PacketType = 2
	TypeMessage PacketType = 3
	TypeHello   PacketType = 4
)

// Command is the command byte of a RequestPacket
type Command uint8

// Command values
const (
	CommandStop        Command = 0
	CommandStart       Command = 1
	CommandModifyValve Command = 2
	CommandDepress     Command = 3
)

// Argument limits for Start and Depress, inclusive
const (
	MinBurnSeconds  = 2
	MaxBurnSeconds  = 120
	MinDrainSeconds = 15
	MaxDrainSeconds = 120
)

// CloseAllValves is the ModifyValve low-byte sentinel that closes every
// valve and ignores the level byte.
const CloseAllValves = 0xFF

// HelloSequence is the sequence number the console puts in its Hello.
const HelloSequence = 1

// SystemState is the safety state reported in bits 3-5 of the status byte
type SystemState uint8

// System state values
const (
	StateReady   SystemState = 0
	StateFire    SystemState = 1
	StateSafing  SystemState = 2
	StateDepress SystemState = 3
)

// IgnitionStatus is the last ignition outcome reported in bits 0-2 of the
// status byte
type IgnitionStatus uint8

// Ignition status values
const (
	IgnitionSuccess         IgnitionStatus = 0
	IgnitionFailNoSenseWire IgnitionStatus = 1
	IgnitionFailBadIgniter  IgnitionStatus = 2
	IgnitionFailNoIgnition  IgnitionStatus = 3
	IgnitionUnknown         IgnitionStatus = 4 // no ignition attempted
)

// Status byte layout
const (
	statusIgnitionMask  = 0x07
	statusStateShift    = 3
	statusStateMask     = 0x07 << statusStateShift
	statusIgniterGood   = 1 << 6
	statusReserved      = 1 << 7
	statusFieldMaxValue = 0x07
)
