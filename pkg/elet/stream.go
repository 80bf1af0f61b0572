// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package elet

import (
	"errors"
	"fmt"
)

// DefaultBufferSize is the per-direction buffer capacity of a connection
const DefaultBufferSize = 1024

// ErrBufferOverflow means bytes arrived while the reassembly buffer was
// full, which only happens when the stream has lost packet alignment.
var ErrBufferOverflow = errors.New("reassembly buffer full")

// Reassembler turns an arbitrarily chunked byte stream into whole packets.
//
// Bytes are appended to a fixed buffer with Feed and complete packets are
// taken out with Next. After each packet the remaining bytes are moved to
// the front of the buffer and the freed tail is zeroed.
type Reassembler struct {
	buf []byte
	n   int // write cursor: number of buffered bytes
}

// NewReassembler creates a reassembler with a buffer of size bytes. Sizes
// smaller than MaxPacketSize are raised to it.
func NewReassembler(size int) *Reassembler {
	if size < MaxPacketSize {
		size = MaxPacketSize
	}
	return &Reassembler{buf: make([]byte, size)}
}

// Reset discards all buffered bytes
func (r *Reassembler) Reset() {
	clear(r.buf[:r.n])
	r.n = 0
}

// Buffered returns the number of bytes waiting in the buffer
func (r *Reassembler) Buffered() int {
	return r.n
}

// Free returns the remaining capacity
func (r *Reassembler) Free() int {
	return len(r.buf) - r.n
}

// Feed appends as much of p as fits and returns how many bytes it took.
// Feeding a non-empty p into a full buffer is ErrBufferOverflow.
func (r *Reassembler) Feed(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if r.Free() == 0 {
		return 0, fmt.Errorf("%w: %d bytes buffered, %d more arrived", ErrBufferOverflow, r.n, len(p))
	}
	n := copy(r.buf[r.n:], p)
	r.n += n
	return n, nil
}

// Next extracts the next complete packet. It returns (nil, nil) when fewer
// than a whole packet's bytes are buffered.
//
// A header whose type is unknown or whose length is not exactly that
// type's size is a protocol fault; the buffer is left untouched since the
// connection cannot continue. A DataPacket with the reserved bit set is
// consumed and returned with an error wrapping ErrReservedBitSet.
func (r *Reassembler) Next() (Packet, error) {
	if r.n < HeaderSize {
		return nil, nil
	}
	h, err := DecodeHeader(r.buf[:r.n])
	if err != nil {
		return nil, err
	}
	size, err := CheckHeader(h)
	if err != nil {
		return nil, err
	}
	if r.n < size {
		return nil, nil
	}

	p, err := Decode(h.Type, r.buf[:size])
	if p == nil && err != nil {
		return nil, err
	}
	r.consume(size)
	return p, err
}

// consume drops the first size bytes, compacts and zeroes the tail
func (r *Reassembler) consume(size int) {
	rest := copy(r.buf, r.buf[size:r.n])
	clear(r.buf[rest:r.n])
	r.n = rest
}

// Drain extracts every complete packet and dispatches it to o. A
// reserved-bit error is passed to onReserved, which returns nil to keep
// going (the packet is still dispatched) or an error to stop. A nil
// onReserved treats the reserved bit as fatal.
func (r *Reassembler) Drain(o Observer, onReserved func(p *DataPacket, err error) error) (int, error) {
	count := 0
	for {
		p, err := r.Next()
		if err != nil {
			if !errors.Is(err, ErrReservedBitSet) || p == nil {
				return count, err
			}
			if onReserved == nil {
				return count, err
			}
			if herr := onReserved(p.(*DataPacket), err); herr != nil {
				return count, herr
			}
		}
		if p == nil {
			return count, nil
		}
		count++
		if err := Dispatch(o, p); err != nil {
			return count, err
		}
	}
}

// Push feeds every byte of p, draining complete packets to o as the
// buffer fills. It is the usual entry point for bytes read from a link.
func (r *Reassembler) Push(p []byte, o Observer, onReserved func(*DataPacket, error) error) (int, error) {
	total := 0
	for len(p) > 0 {
		n, err := r.Feed(p)
		if err != nil {
			return total, err
		}
		p = p[n:]
		c, err := r.Drain(o, onReserved)
		total += c
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
