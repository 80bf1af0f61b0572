// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/teststand/pkg/elet"
	"github.com/Thermoquad/teststand/pkg/sink"
)

// memSink hands records to the test as they are written
type memSink struct {
	records chan sink.Record
}

func newMemSink() *memSink { return &memSink{records: make(chan sink.Record, 64)} }

func (s *memSink) Record(r sink.Record) error { s.records <- r; return nil }
func (s *memSink) Close() error               { return nil }

func (s *memSink) next(t *testing.T) sink.Record {
	t.Helper()
	select {
	case r := <-s.records:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a record")
		return sink.Record{}
	}
}

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// harness runs a Loop against a scripted controller on the far end of a pipe
type harness struct {
	t      *testing.T
	peer   net.Conn
	input  *io.PipeWriter
	sink   *memSink
	loop   *Loop
	cancel context.CancelFunc
	done   chan error
}

func startLoop(t *testing.T, cfg Config) *harness {
	t.Helper()
	client, peer := net.Pipe()
	inR, inW := io.Pipe()
	ms := newMemSink()
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Second
	}

	h := &harness{
		t:     t,
		peer:  peer,
		input: inW,
		sink:  ms,
		loop:  New(client, inR, ms, cfg, quietLog()),
		done:  make(chan error, 1),
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.loop.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		inW.Close()
		peer.Close()
	})

	hello, ok := h.readPacket().(*elet.HelloPacket)
	if !ok || hello.Sequence != elet.HelloSequence {
		t.Fatalf("first packet = %+v, want hello seq 1", hello)
	}
	return h
}

// readPacket reads one whole packet from the console
func (h *harness) readPacket() elet.Packet {
	h.t.Helper()
	h.peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, elet.MaxPacketSize)
	if _, err := io.ReadFull(h.peer, buf[:elet.HeaderSize]); err != nil {
		h.t.Fatalf("read header: %v", err)
	}
	hdr, err := elet.DecodeHeader(buf)
	if err != nil {
		h.t.Fatalf("decode header: %v", err)
	}
	size, err := elet.CheckHeader(hdr)
	if err != nil {
		h.t.Fatalf("check header: %v", err)
	}
	if _, err := io.ReadFull(h.peer, buf[elet.HeaderSize:size]); err != nil {
		h.t.Fatalf("read body: %v", err)
	}
	p, err := elet.Decode(hdr.Type, buf[:size])
	if err != nil {
		h.t.Fatalf("decode: %v", err)
	}
	return p
}

func (h *harness) readRequest() *elet.RequestPacket {
	h.t.Helper()
	p := h.readPacket()
	req, ok := p.(*elet.RequestPacket)
	if !ok {
		h.t.Fatalf("got %T, want request", p)
	}
	return req
}

func (h *harness) send(p elet.Packet) {
	h.t.Helper()
	buf, err := elet.Encode(p)
	if err != nil {
		h.t.Fatalf("encode: %v", err)
	}
	h.peer.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := h.peer.Write(buf); err != nil {
		h.t.Fatalf("write: %v", err)
	}
}

func (h *harness) sendData(seq uint32, state elet.SystemState) {
	h.t.Helper()
	p := elet.NewData(seq, 0)
	p.Status = elet.NewStatus(elet.IgnitionUnknown, state, false)
	h.send(p)
}

func (h *harness) typeLine(line string) {
	h.t.Helper()
	if _, err := io.WriteString(h.input, line+"\n"); err != nil {
		h.t.Fatalf("type %q: %v", line, err)
	}
}

// stop cancels the loop and returns Run's result
func (h *harness) stop() error {
	h.t.Helper()
	h.cancel()
	return h.wait()
}

func (h *harness) wait() error {
	h.t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(3 * time.Second):
		h.t.Fatal("loop did not exit")
		return nil
	}
}

// ============================================================
// Command Flow Tests
// ============================================================

func TestLoop_ValveCommandAcknowledged(t *testing.T) {
	h := startLoop(t, Config{})

	h.sendData(1, elet.StateReady)
	h.sink.next(t)

	h.typeLine("v oxfl on")
	req := h.readRequest()
	if req.Sequence != 2 || req.Command != elet.CommandModifyValve || req.Argument != 0xFF02 {
		t.Fatalf("request = seq %d %s arg 0x%X", req.Sequence, req.Command, req.Argument)
	}

	d := elet.NewData(2, 150)
	d.Valves = 1 << elet.ValveOxygenFlow
	d.PWMOxidizer = 255
	d.Status = elet.NewStatus(elet.IgnitionUnknown, elet.StateReady, true)
	h.send(d)

	rec := h.sink.next(t)
	if rec.Sequence != 2 || rec.PWMOxidizer != 255 || rec.Valves != 0x04 {
		t.Errorf("record = %+v", rec)
	}

	if err := h.stop(); err != nil {
		t.Fatalf("Run returned %v on cancel", err)
	}
	if !h.loop.Tracker().IsAcknowledged(2) {
		t.Error("seq 2 should be acknowledged")
	}
	if n := h.loop.Tracker().Outstanding(); n != 0 {
		t.Errorf("outstanding = %d after acknowledgement", n)
	}
	stats := h.loop.Statistics()
	if stats.CommandsSent != 1 || stats.CommandsAcked != 1 || stats.DataPackets != 2 {
		t.Errorf("stats sent=%d acked=%d data=%d", stats.CommandsSent, stats.CommandsAcked, stats.DataPackets)
	}
}

func TestLoop_BadLinesSendNothing(t *testing.T) {
	h := startLoop(t, Config{})

	h.typeLine("v bogus on")
	h.typeLine("start-the-damn-engine1")
	h.typeLine("")
	h.typeLine("help")
	h.typeLine("stop")

	req := h.readRequest()
	if req.Command != elet.CommandStop || req.Sequence != 2 {
		t.Errorf("got %s seq %d, want STOP seq 2", req.Command, req.Sequence)
	}

	h.stop()
	if got := h.loop.Statistics().ParseErrors; got != 2 {
		t.Errorf("ParseErrors = %d, want 2", got)
	}
}

func TestLoop_PolicyRejectedAgainstMirror(t *testing.T) {
	h := startLoop(t, Config{})

	h.sendData(1, elet.StateFire)
	h.sink.next(t)

	h.typeLine("v oxoo on")
	h.typeLine("start-the-damn-engine10")
	h.typeLine("stop")

	req := h.readRequest()
	if req.Command != elet.CommandStop || req.Sequence != 2 {
		t.Errorf("got %s seq %d, want STOP seq 2", req.Command, req.Sequence)
	}

	h.stop()
	if h.loop.State() != elet.StateFire {
		t.Errorf("mirror = %s", h.loop.State())
	}
	if got := h.loop.Statistics().PolicyRejections; got != 2 {
		t.Errorf("PolicyRejections = %d, want 2", got)
	}
}

func TestLoop_LongLineDiscarded(t *testing.T) {
	h := startLoop(t, Config{LineBufferSize: 16})

	h.typeLine("v oxfl on v oxfl on v oxfl on v oxfl on")
	h.typeLine("stop")

	req := h.readRequest()
	if req.Command != elet.CommandStop || req.Sequence != 2 {
		t.Errorf("got %s seq %d, want STOP seq 2", req.Command, req.Sequence)
	}
	h.stop()
}

// ============================================================
// Reset Detection Tests
// ============================================================

func TestLoop_ControllerReset(t *testing.T) {
	h := startLoop(t, Config{})

	h.sendData(1, elet.StateReady)
	h.sink.next(t)
	h.typeLine("stop")
	h.readRequest()
	h.sendData(2, elet.StateSafing)
	h.sink.next(t)

	// controller rebooted and starts echoing from zero
	h.sendData(0, elet.StateReady)
	ev := h.sink.next(t)
	if ev.Kind != sink.KindEvent {
		t.Fatalf("got %s record, want event", ev.Kind)
	}
	if rec := h.sink.next(t); rec.Kind != sink.KindData {
		t.Errorf("data record missing after event")
	}

	// same acknowledgement again is not another reset
	h.sendData(0, elet.StateReady)
	if rec := h.sink.next(t); rec.Kind != sink.KindData {
		t.Errorf("got %s record, want data", rec.Kind)
	}

	h.stop()
	if got := h.loop.Statistics().ControllerResets; got != 1 || got != h.loop.Tracker().Resets() {
		t.Errorf("ControllerResets = %d, tracker saw %d, want 1", got, h.loop.Tracker().Resets())
	}
}

// ============================================================
// Fault Tests
// ============================================================

func reservedData(seq uint32) *elet.DataPacket {
	p := elet.NewData(seq, 0)
	p.Status = elet.StatusFromByte(0x80)
	return p
}

func TestLoop_ReservedBitFatal(t *testing.T) {
	h := startLoop(t, Config{})
	h.send(reservedData(1))

	err := h.wait()
	if !errors.Is(err, elet.ErrReservedBitSet) {
		t.Errorf("Run = %v, want reserved bit error", err)
	}
}

func TestLoop_ReservedBitWarn(t *testing.T) {
	h := startLoop(t, Config{ReservedPolicy: ReservedWarn})
	h.send(reservedData(1))

	if rec := h.sink.next(t); rec.Kind != sink.KindData {
		t.Fatalf("got %s record", rec.Kind)
	}
	if err := h.stop(); err != nil {
		t.Fatalf("Run = %v", err)
	}
	if got := h.loop.Statistics().ReservedBits; got != 1 {
		t.Errorf("ReservedBits = %d, want 1", got)
	}
}

func TestLoop_UnexpectedPacket(t *testing.T) {
	h := startLoop(t, Config{})
	h.send(elet.NewRequest(1, 0, elet.CommandStop, 0))

	if err := h.wait(); !errors.Is(err, elet.ErrUnexpectedPacket) {
		t.Errorf("Run = %v, want unexpected packet", err)
	}
}

func TestLoop_IdleTimeout(t *testing.T) {
	h := startLoop(t, Config{IdleTimeout: 50 * time.Millisecond})

	if err := h.wait(); !errors.Is(err, ErrIdleTimeout) {
		t.Errorf("Run = %v, want idle timeout", err)
	}
	h.peer.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := h.peer.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("peer read = %v, want EOF after timeout", err)
	}
}

func TestLoop_CancelClosesLink(t *testing.T) {
	h := startLoop(t, Config{})

	if err := h.stop(); err != nil {
		t.Errorf("Run = %v, want nil on cancel", err)
	}
	h.peer.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := h.peer.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("peer read = %v, want EOF after cancel", err)
	}
}

func TestLoop_PeerClosed(t *testing.T) {
	h := startLoop(t, Config{})
	h.peer.Close()

	if err := h.wait(); !errors.Is(err, ErrLinkClosed) {
		t.Errorf("Run = %v, want link closed", err)
	}
}
