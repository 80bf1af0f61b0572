// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link runs the console side of one controller connection.
//
// A Loop owns the connection, both byte buffers, the sequence tracker and
// the mirror of the controller's system state. Operator lines and link
// bytes are read by helper goroutines and handed to a single select loop,
// so every decode, state update and write happens on one goroutine and
// runs to completion before the next input is looked at.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/Thermoquad/teststand/pkg/command"
	"github.com/Thermoquad/teststand/pkg/elet"
	"github.com/Thermoquad/teststand/pkg/safety"
	"github.com/Thermoquad/teststand/pkg/sequence"
	"github.com/Thermoquad/teststand/pkg/sink"
)

// ReservedPolicy decides what a set reserved status bit does
type ReservedPolicy string

const (
	ReservedFatal ReservedPolicy = "fatal" // end the connection
	ReservedWarn  ReservedPolicy = "warn"  // log, count and keep the packet
)

// Defaults
const (
	DefaultIdleTimeout    = 5 * time.Second
	DefaultLineBufferSize = 1024
	readChunkSize         = 512
)

var (
	// ErrIdleTimeout means nothing arrived from the controller for the
	// configured idle timeout and the link is assumed dead
	ErrIdleTimeout = errors.New("link idle timeout")

	// ErrLinkClosed means the controller closed the connection
	ErrLinkClosed = errors.New("controller closed the link")
)

// Config holds the loop's tunables. Zero fields take their defaults.
type Config struct {
	IdleTimeout    time.Duration
	ReservedPolicy ReservedPolicy
	BufferSize     int
	LineBufferSize int
	HelloSequence  uint32
	Writer         elet.WriterConfig
}

// DefaultConfig returns the production settings
func DefaultConfig() Config {
	return Config{
		IdleTimeout:    DefaultIdleTimeout,
		ReservedPolicy: ReservedFatal,
		BufferSize:     elet.DefaultBufferSize,
		LineBufferSize: DefaultLineBufferSize,
		HelloSequence:  elet.HelloSequence,
		Writer:         elet.DefaultWriterConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.ReservedPolicy == "" {
		c.ReservedPolicy = def.ReservedPolicy
	}
	if c.BufferSize <= 0 {
		c.BufferSize = def.BufferSize
	}
	if c.LineBufferSize <= 0 {
		c.LineBufferSize = def.LineBufferSize
	}
	if c.HelloSequence == 0 {
		c.HelloSequence = def.HelloSequence
	}
	return c
}

// pending is a request sent but not yet acknowledged
type pending struct {
	seq    uint32
	req    command.Request
	sentAt time.Time
}

// Loop is the console's transport loop for one connection
type Loop struct {
	conn  io.ReadWriteCloser
	input io.Reader
	sink  sink.Sink
	cfg   Config
	log   *logrus.Entry

	writer  *elet.Writer
	rx      *elet.Reassembler
	tracker *sequence.Tracker
	stats   *elet.Statistics

	state        elet.SystemState
	reservedErr  error
	reservedWarn *rate.Limiter
	pending      []pending

	line       []byte
	discarding bool

	start time.Time
	now   func() time.Time
}

// New creates a loop over conn. Operator lines are read from input, which
// may be nil for a receive-only link. A nil sink discards records.
func New(conn io.ReadWriteCloser, input io.Reader, s sink.Sink, cfg Config, log *logrus.Entry) *Loop {
	cfg = cfg.withDefaults()
	if s == nil {
		s = sink.Discard{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Loop{
		conn:    conn,
		input:   input,
		sink:    s,
		cfg:     cfg,
		log:     log,
		writer:  elet.NewWriter(conn, cfg.Writer, log.WithField("component", "writer")),
		rx:      elet.NewReassembler(cfg.BufferSize),
		tracker: sequence.NewTracker(cfg.HelloSequence),
		stats:   elet.NewStatistics(),
		state:   elet.StateReady,
		line:    make([]byte, 0, cfg.LineBufferSize),
		now:     time.Now,

		reservedWarn: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// State returns the mirrored controller state
func (l *Loop) State() elet.SystemState { return l.state }

// Tracker returns the connection's sequence tracker
func (l *Loop) Tracker() *sequence.Tracker { return l.tracker }

// Statistics returns the link counters. Only read them once Run returned.
func (l *Loop) Statistics() *elet.Statistics { return l.stats }

// chunk is one read from a source
type chunk struct {
	data []byte
	err  error
}

// readChunks copies reads from r to out until a read fails or ctx ends
func readChunks(ctx context.Context, r io.Reader, out chan<- chunk) {
	for {
		buf := make([]byte, readChunkSize)
		n, err := r.Read(buf)
		if n > 0 {
			select {
			case out <- chunk{data: buf[:n]}:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			select {
			case out <- chunk{err: err}:
			case <-ctx.Done():
			}
			return
		}
	}
}

// Run sends the Hello and serves the connection until ctx is cancelled or
// a fatal fault occurs. The connection is closed on every return path.
// Cancellation is a clean exit and returns nil.
func (l *Loop) Run(ctx context.Context) error {
	defer l.conn.Close()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.start = l.now()
	hello := elet.NewHello(l.cfg.HelloSequence, 0)
	if err := l.writer.WritePacket(hello); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}
	l.log.WithField("seq", hello.Sequence).Info("hello sent")

	linkCh := make(chan chunk)
	go readChunks(ctx, l.conn, linkCh)

	var inputCh chan chunk
	if l.input != nil {
		inputCh = make(chan chunk)
		go readChunks(ctx, l.input, inputCh)
	}

	idle := time.NewTimer(l.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			l.log.Info("interrupted, closing link")
			return nil

		case c := <-linkCh:
			if c.err != nil {
				if errors.Is(c.err, io.EOF) {
					return ErrLinkClosed
				}
				return fmt.Errorf("read link: %w", c.err)
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(l.cfg.IdleTimeout)
			if err := l.handleLink(c.data); err != nil {
				return err
			}

		case c := <-inputCh:
			if c.err != nil {
				if !errors.Is(c.err, io.EOF) {
					l.log.WithError(c.err).Warn("command input failed")
				}
				l.log.Info("command input closed, receiving only")
				inputCh = nil
				continue
			}
			if err := l.handleInput(c.data); err != nil {
				return err
			}

		case <-idle.C:
			return fmt.Errorf("%w: nothing received for %s", ErrIdleTimeout, l.cfg.IdleTimeout)
		}
	}
}

func (l *Loop) timestamp() uint32 {
	return uint32(l.now().Sub(l.start).Milliseconds())
}

// handleLink feeds link bytes through the reassembler. Every error is a
// protocol fault that ends the connection.
func (l *Loop) handleLink(data []byte) error {
	if _, err := l.rx.Push(data, l, l.onReserved); err != nil {
		if !errors.Is(err, elet.ErrUnexpectedPacket) && !errors.Is(err, elet.ErrReservedBitSet) {
			l.stats.Update(nil, err, nil)
		}
		return fmt.Errorf("protocol fault: %w", err)
	}
	return nil
}

func (l *Loop) onReserved(p *elet.DataPacket, err error) error {
	if l.cfg.ReservedPolicy != ReservedWarn {
		l.stats.Update(p, err, nil)
		return err
	}
	if l.reservedWarn.Allow() {
		l.log.WithField("seq", p.Sequence).WithField("status", fmt.Sprintf("0x%02X", p.Status.Byte())).Warn("reserved status bit set")
	}
	l.reservedErr = err
	return nil
}

// handleInput splits operator bytes into lines. A line longer than the
// line buffer is dropped whole.
func (l *Loop) handleInput(data []byte) error {
	for _, b := range data {
		if b == '\n' {
			if l.discarding {
				l.discarding = false
				l.line = l.line[:0]
				continue
			}
			text := string(l.line)
			l.line = l.line[:0]
			if err := l.handleLine(text); err != nil {
				return err
			}
			continue
		}
		if l.discarding {
			continue
		}
		if len(l.line) == cap(l.line) {
			l.log.WithField("limit", cap(l.line)).Warn("command line too long, discarded")
			l.stats.ParseErrors++
			l.discarding = true
			continue
		}
		l.line = append(l.line, b)
	}
	return nil
}

// handleLine parses, checks and sends one operator command. Only a write
// failure is returned; bad input is logged and dropped without using a
// sequence number.
func (l *Loop) handleLine(text string) error {
	switch strings.TrimSpace(text) {
	case "":
		return nil
	case "help":
		for _, u := range command.Usage() {
			l.log.Info(u)
		}
		return nil
	}

	req, err := command.Parse(text)
	if err != nil {
		l.stats.ParseErrors++
		l.log.WithError(err).Warn("bad command")
		return nil
	}

	if _, err := safety.Check(l.state, req.Command, req.Argument); err != nil {
		l.stats.PolicyRejections++
		l.log.WithError(err).Warn("command not sent")
		return nil
	}

	seq := l.tracker.Begin()
	p := req.Packet(seq)
	p.Timestamp = l.timestamp()
	if err := l.writer.WritePacket(p); err != nil {
		return fmt.Errorf("send %s: %w", req, err)
	}
	l.stats.CommandsSent++
	l.stats.WriteRetries = l.writer.Retries
	l.pending = append(l.pending, pending{seq: seq, req: req, sentAt: l.now()})
	l.log.WithFields(logrus.Fields{
		"seq":         seq,
		"command":     req.String(),
		"outstanding": l.tracker.Outstanding(),
	}).Info("command sent")
	return nil
}

// observe applies the acknowledgement carried by a controller packet
func (l *Loop) observe(seq, timestamp uint32) {
	prev := l.tracker.LastAcknowledged()
	if l.tracker.Observe(seq) {
		l.stats.ControllerResets = l.tracker.Resets()
		l.log.WithField("ack", seq).WithField("previous", prev).Error("controller reset detected")
		l.record(sink.EventRecord(timestamp, seq, fmt.Sprintf("controller reset: acknowledgement went from %d to %d", prev, seq)))
		for _, p := range l.pending {
			l.log.WithField("seq", p.seq).WithField("command", p.req.String()).Warn("request lost in controller reset")
		}
		l.pending = l.pending[:0]
		return
	}

	kept := l.pending[:0]
	for _, p := range l.pending {
		if !l.tracker.IsAcknowledged(p.seq) {
			kept = append(kept, p)
			continue
		}
		l.stats.CommandsAcked++
		l.log.WithFields(logrus.Fields{
			"seq":     p.seq,
			"command": p.req.String(),
			"latency": l.now().Sub(p.sentAt).Round(time.Millisecond),
		}).Info("acknowledged")
	}
	l.pending = kept
}

func (l *Loop) record(r sink.Record) {
	if err := l.sink.Record(r); err != nil {
		l.log.WithError(err).Error("sink write failed")
	}
}

// ============================================================
// elet.Observer
// ============================================================

func (l *Loop) OnHello(p *elet.HelloPacket) error {
	return fmt.Errorf("%w: HELLO from controller", elet.ErrUnexpectedPacket)
}

func (l *Loop) OnRequest(p *elet.RequestPacket) error {
	return fmt.Errorf("%w: REQUEST from controller", elet.ErrUnexpectedPacket)
}

func (l *Loop) OnData(p *elet.DataPacket) error {
	anomalies := elet.ValidatePacket(p)
	l.stats.Update(p, l.reservedErr, anomalies)
	l.reservedErr = nil
	for _, a := range anomalies {
		l.log.WithFields(logrus.Fields(a.Details)).Warn(a.Message)
	}

	l.observe(p.Sequence, p.Timestamp)

	if s := p.Status.State(); s != l.state {
		l.log.WithField("from", l.state).WithField("to", s).Info("controller state changed")
		l.state = s
	}
	l.record(sink.DataRecord(p))
	return nil
}

func (l *Loop) OnMessage(p *elet.MessagePacket) error {
	l.stats.Update(p, nil, elet.ValidatePacket(p))
	l.observe(p.Sequence, p.Timestamp)
	l.log.WithField("seq", p.Sequence).Info("controller: " + p.Text())
	l.record(sink.MessageRecord(p))
	return nil
}
