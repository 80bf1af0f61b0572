// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package elet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Decode errors. UnknownType and LengthMismatch are protocol faults;
// ReservedBitSet is returned alongside the decoded packet so the caller can
// choose between rejecting the connection and logging a warning.
var (
	ErrUnknownType      = errors.New("unknown packet type")
	ErrLengthMismatch   = errors.New("packet length mismatch")
	ErrReservedBitSet   = errors.New("reserved status bit set")
	ErrShortBuffer      = errors.New("buffer shorter than packet header")
	ErrUnexpectedPacket = errors.New("unexpected packet for this end of the link")
)

// DecodeHeader reads the header at the start of b. It does not check the
// type or length against each other.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: have %d bytes, need %d", ErrShortBuffer, len(b), HeaderSize)
	}
	return Header{
		Length:    binary.LittleEndian.Uint16(b[offLength:]),
		Type:      PacketType(b[offType]),
		Sequence:  binary.LittleEndian.Uint32(b[offSequence:]),
		Timestamp: binary.LittleEndian.Uint32(b[offTimestamp:]),
	}, nil
}

// CheckHeader validates that a header's declared length is exactly the
// fixed size of its declared type.
func CheckHeader(h Header) (int, error) {
	size, ok := SizeOf(h.Type)
	if !ok {
		return 0, fmt.Errorf("%w: 0x%02X", ErrUnknownType, uint8(h.Type))
	}
	if int(h.Length) != size {
		return 0, fmt.Errorf("%w: %s declares %d bytes, want %d",
			ErrLengthMismatch, FormatPacketType(h.Type), h.Length, size)
	}
	return size, nil
}

// Decode decodes one complete packet of type t from b, which must hold
// exactly that packet. Decode never reads past len(b).
//
// A DataPacket whose reserved status bit is set is returned together with
// an error wrapping ErrReservedBitSet. Every other error returns a nil
// packet.
func Decode(t PacketType, b []byte) (Packet, error) {
	size, ok := SizeOf(t)
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownType, uint8(t))
	}
	if len(b) != size {
		return nil, fmt.Errorf("%w: %s body is %d bytes, want %d",
			ErrLengthMismatch, FormatPacketType(t), len(b), size)
	}

	h, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}
	if h.Type != t {
		return nil, fmt.Errorf("%w: header says 0x%02X, expected %s", ErrUnknownType, uint8(h.Type), FormatPacketType(t))
	}
	if int(h.Length) != size {
		return nil, fmt.Errorf("%w: %s declares %d bytes, want %d",
			ErrLengthMismatch, FormatPacketType(t), h.Length, size)
	}

	body := b[HeaderSize:]
	switch t {
	case TypeHello:
		return &HelloPacket{Header: h}, nil

	case TypeRequest:
		return &RequestPacket{
			Header:   h,
			Command:  Command(body[0]),
			Argument: binary.LittleEndian.Uint32(body[1:]),
		}, nil

	case TypeData:
		p := &DataPacket{
			Header:      h,
			Valves:      body[0],
			PWMOxidizer: body[1],
			PWMFuel:     body[2],
			Status:      StatusFromByte(body[3]),
		}
		off := 4
		for i := range p.Pressures {
			p.Pressures[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[off:]))
			off += 4
		}
		for i := range p.Temperatures {
			p.Temperatures[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[off:]))
			off += 4
		}
		p.Thrust = math.Float32frombits(binary.LittleEndian.Uint32(body[off:]))
		if p.Status.ReservedSet() {
			return p, fmt.Errorf("%w: status byte 0x%02X (seq %d)", ErrReservedBitSet, p.Status.Byte(), h.Sequence)
		}
		return p, nil

	case TypeMessage:
		p := &MessagePacket{Header: h}
		copy(p.Data[:], body)
		return p, nil
	}

	return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownType, uint8(t))
}

// Observer receives decoded packets, one method per packet type
type Observer interface {
	OnHello(p *HelloPacket) error
	OnRequest(p *RequestPacket) error
	OnData(p *DataPacket) error
	OnMessage(p *MessagePacket) error
}

// Dispatch hands p to the matching Observer method
func Dispatch(o Observer, p Packet) error {
	switch p := p.(type) {
	case *HelloPacket:
		return o.OnHello(p)
	case *RequestPacket:
		return o.OnRequest(p)
	case *DataPacket:
		return o.OnData(p)
	case *MessagePacket:
		return o.OnMessage(p)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownType, p)
	}
}
