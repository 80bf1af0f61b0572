// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package controller serves the controller side of the link.
//
// The server accepts one console at a time. A console must open with a
// Hello; after that every Request is run through the safety machine in
// arrival order and telemetry is streamed at a fixed interval. Each Data
// and Message packet carries the sequence number of the last request the
// server processed. Sequence state belongs to the connection and is
// dropped when the console goes away; the safety machine keeps running.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/teststand/pkg/elet"
	"github.com/Thermoquad/teststand/pkg/safety"
)

// Defaults
const (
	DefaultTelemetryInterval = 100 * time.Millisecond
	DefaultHelloTimeout      = 5 * time.Second
	readChunkSize            = 256
)

// ErrNoHello is returned when a console connects but never says Hello
var ErrNoHello = errors.New("console sent no hello")

// Config holds the server's tunables. Zero fields take their defaults.
type Config struct {
	TelemetryInterval time.Duration
	HelloTimeout      time.Duration
	Writer            elet.WriterConfig
}

// DefaultConfig returns the production settings
func DefaultConfig() Config {
	return Config{
		TelemetryInterval: DefaultTelemetryInterval,
		HelloTimeout:      DefaultHelloTimeout,
		Writer:            elet.DefaultWriterConfig(),
	}
}

// Server drives a safety machine on behalf of a console
type Server struct {
	machine *safety.Machine
	cfg     Config
	log     *logrus.Entry
	start   time.Time
	now     func() time.Time
}

// NewServer creates a server around m
func NewServer(m *safety.Machine, cfg Config, log *logrus.Entry) *Server {
	def := DefaultConfig()
	if cfg.TelemetryInterval <= 0 {
		cfg.TelemetryInterval = def.TelemetryInterval
	}
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = def.HelloTimeout
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		machine: m,
		cfg:     cfg,
		log:     log,
		start:   time.Now(),
		now:     time.Now,
	}
}

// timestamp is milliseconds since the server started
func (s *Server) timestamp() uint32 {
	return uint32(s.now().Sub(s.start).Milliseconds())
}

// Serve accepts consoles from ln until ctx is cancelled or ln fails. The
// safety machine keeps ticking while no console is connected.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conns := make(chan net.Conn)
	acceptErr := make(chan error, 1)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				acceptErr <- err
				return
			}
			select {
			case conns <- conn:
			case <-ctx.Done():
				conn.Close()
				return
			}
		}
	}()
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.log.WithField("addr", ln.Addr().String()).Info("controller listening")

	ticker := time.NewTicker(s.cfg.TelemetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-acceptErr:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		case <-ticker.C:
			s.machine.Tick()
		case conn := <-conns:
			log := s.log.WithField("console", conn.RemoteAddr().String())
			log.Info("console connected")
			if err := s.serveConn(ctx, conn, conns, log); err != nil {
				log.WithError(err).Warn("console dropped")
			} else {
				log.Info("console disconnected")
			}
		}
	}
}

// ServeConn serves a single console until it disconnects, a fault occurs
// or ctx is cancelled. conn is always closed on return.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) error {
	return s.serveConn(ctx, conn, nil, s.log)
}

type chunk struct {
	data []byte
	err  error
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn, others <-chan net.Conn, log *logrus.Entry) error {
	defer conn.Close()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := &session{
		srv: s,
		w:   elet.NewWriter(conn, s.cfg.Writer, log.WithField("component", "writer")),
		log: log,
	}
	rx := elet.NewReassembler(elet.DefaultBufferSize)

	reads := make(chan chunk)
	go func() {
		for {
			buf := make([]byte, readChunkSize)
			n, err := conn.Read(buf)
			if n > 0 {
				select {
				case reads <- chunk{data: buf[:n]}:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				select {
				case reads <- chunk{err: err}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()

	helloTimer := time.NewTimer(s.cfg.HelloTimeout)
	defer helloTimer.Stop()
	ticker := time.NewTicker(s.cfg.TelemetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case extra := <-others:
			log.WithField("refused", extra.RemoteAddr().String()).Warn("console already connected")
			extra.Close()

		case c := <-reads:
			if c.err != nil {
				if errors.Is(c.err, io.EOF) {
					return nil
				}
				return fmt.Errorf("read: %w", c.err)
			}
			if _, err := rx.Push(c.data, sess, nil); err != nil {
				if sess.hello {
					sess.diag(fmt.Sprintf("protocol fault: %v", err))
				}
				return fmt.Errorf("protocol fault: %w", err)
			}

		case <-helloTimer.C:
			if !sess.hello {
				return ErrNoHello
			}

		case <-ticker.C:
			s.machine.Tick()
			if sess.hello {
				if err := sess.telemetry(); err != nil {
					return err
				}
			}
		}
	}
}

// session is the per-connection packet observer
type session struct {
	srv   *Server
	w     *elet.Writer
	log   *logrus.Entry
	hello bool
	// lastSeq is the sequence of the last request processed, echoed in
	// every packet sent
	lastSeq uint32
}

// telemetry sends a snapshot. Timed states are advanced first so a report
// never shows a burn that has already run out.
func (c *session) telemetry() error {
	c.srv.machine.Tick()
	p := c.srv.machine.Snapshot(c.lastSeq, c.srv.timestamp())
	if err := c.w.WritePacket(p); err != nil {
		return fmt.Errorf("send telemetry: %w", err)
	}
	return nil
}

// diag sends a diagnostic message. A failure here is left for the next
// telemetry write to report.
func (c *session) diag(text string) {
	m := elet.NewMessage(c.lastSeq, c.srv.timestamp(), text)
	if err := c.w.WritePacket(m); err != nil {
		c.log.WithError(err).Warn("diagnostic not sent")
	}
}

func (c *session) OnHello(p *elet.HelloPacket) error {
	c.hello = true
	c.lastSeq = p.Sequence
	c.log.WithField("seq", p.Sequence).Info("hello")
	return c.telemetry()
}

func (c *session) OnRequest(p *elet.RequestPacket) error {
	if !c.hello {
		return fmt.Errorf("%w: request before hello", elet.ErrUnexpectedPacket)
	}

	err := c.srv.machine.Handle(p.Command, p.Argument)
	c.lastSeq = p.Sequence

	var pe *safety.PolicyError
	switch {
	case errors.As(err, &pe):
		c.diag(fmt.Sprintf("rejected %s: %s", elet.FormatCommand(p.Command, p.Argument), pe.Reason))
	case err != nil:
		return err
	}
	return c.telemetry()
}

func (c *session) OnData(p *elet.DataPacket) error {
	return fmt.Errorf("%w: DATA from console", elet.ErrUnexpectedPacket)
}

func (c *session) OnMessage(p *elet.MessagePacket) error {
	return fmt.Errorf("%w: MESSAGE from console", elet.ErrUnexpectedPacket)
}
