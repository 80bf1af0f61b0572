// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sequence correlates console requests with controller
// acknowledgements.
//
// The console numbers every request it sends. The controller echoes, in
// every packet, the number of the last request it fully processed, so a
// request is known to have taken effect once an echo at or past its number
// arrives. Numbers are 32-bit and compared with serial-number arithmetic so
// the counter can wrap.
package sequence

// Less reports whether a comes before b in wrapping sequence order
func Less(a, b uint32) bool {
	return int32(a-b) < 0
}

// AtOrAfter reports whether a is b or comes after it
func AtOrAfter(a, b uint32) bool {
	return int32(a-b) >= 0
}

// Tracker holds the sequence state of one connection
type Tracker struct {
	lastSent  uint32
	lastAcked uint32
	observed  bool
	resets    uint64
}

// NewTracker creates a tracker for a connection whose Hello carried
// helloSeq.
func NewTracker(helloSeq uint32) *Tracker {
	return &Tracker{lastSent: helloSeq}
}

// Begin allocates the sequence number for the next outgoing request
func (t *Tracker) Begin() uint32 {
	t.lastSent++
	return t.lastSent
}

// Observe records the acknowledgement carried by an incoming Data or
// Message packet. It returns true when seq moved backwards, meaning the
// controller restarted; the acknowledgement is still adopted so that the
// same value seen again is not reported twice.
func (t *Tracker) Observe(seq uint32) (reset bool) {
	if t.observed && Less(seq, t.lastAcked) {
		reset = true
		t.resets++
	}
	t.observed = true
	t.lastAcked = seq
	return reset
}

// IsAcknowledged reports whether the controller has processed the request
// numbered seq.
func (t *Tracker) IsAcknowledged(seq uint32) bool {
	return AtOrAfter(t.lastAcked, seq)
}

// LastSent returns the most recently allocated sequence number
func (t *Tracker) LastSent() uint32 {
	return t.lastSent
}

// LastAcknowledged returns the latest acknowledgement observed
func (t *Tracker) LastAcknowledged() uint32 {
	return t.lastAcked
}

// Outstanding returns how many allocated requests are not yet acknowledged
func (t *Tracker) Outstanding() uint32 {
	if AtOrAfter(t.lastAcked, t.lastSent) {
		return 0
	}
	return t.lastSent - t.lastAcked
}

// Resets returns how many controller restarts have been observed
func (t *Tracker) Resets() uint64 {
	return t.resets
}
