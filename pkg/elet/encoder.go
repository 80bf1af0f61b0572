// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package elet

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encode serializes a packet into exactly Header.Length bytes.
//
// The header must already be consistent with the concrete packet: a type
// tag that does not match the Go type is ErrUnknownType and a length that
// differs from the type's fixed size is ErrLengthMismatch. Packets built
// with the New* constructors always satisfy both.
func Encode(p Packet) ([]byte, error) {
	h := p.PacketHeader()
	want, ok := typeOf(p)
	if !ok || h.Type != want {
		return nil, fmt.Errorf("%w: header type %d for %T", ErrUnknownType, h.Type, p)
	}
	size, _ := SizeOf(want)
	if int(h.Length) != size {
		return nil, fmt.Errorf("%w: %s header declares %d bytes, want %d",
			ErrLengthMismatch, FormatPacketType(want), h.Length, size)
	}

	buf := make([]byte, size)
	putHeader(buf, h)
	body := buf[HeaderSize:]

	switch p := p.(type) {
	case *HelloPacket:
		// header only
	case *RequestPacket:
		body[0] = byte(p.Command)
		binary.LittleEndian.PutUint32(body[1:], p.Argument)
	case *DataPacket:
		body[0] = p.Valves
		body[1] = p.PWMOxidizer
		body[2] = p.PWMFuel
		body[3] = p.Status.Byte()
		off := 4
		for _, v := range p.Pressures {
			binary.LittleEndian.PutUint32(body[off:], math.Float32bits(v))
			off += 4
		}
		for _, v := range p.Temperatures {
			binary.LittleEndian.PutUint32(body[off:], math.Float32bits(v))
			off += 4
		}
		binary.LittleEndian.PutUint32(body[off:], math.Float32bits(p.Thrust))
	case *MessagePacket:
		copy(body, p.Data[:])
	}

	return buf, nil
}

func putHeader(buf []byte, h Header) {
	binary.LittleEndian.PutUint16(buf[offLength:], h.Length)
	buf[offType] = byte(h.Type)
	binary.LittleEndian.PutUint32(buf[offSequence:], h.Sequence)
	binary.LittleEndian.PutUint32(buf[offTimestamp:], h.Timestamp)
}

func typeOf(p Packet) (PacketType, bool) {
	switch p.(type) {
	case *HelloPacket:
		return TypeHello, true
	case *RequestPacket:
		return TypeRequest, true
	case *DataPacket:
		return TypeData, true
	case *MessagePacket:
		return TypeMessage, true
	default:
		return 0, false
	}
}
