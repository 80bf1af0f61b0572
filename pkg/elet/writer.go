// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package elet

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Default write retry policy: one attempt per millisecond, 1000 attempts,
// so a stalled link is given up on after about a second.
const (
	DefaultWriteAttempts = 1000
	DefaultWriteBackoff  = time.Millisecond
	DefaultWriteTimeout  = time.Millisecond
)

// ErrWriteRetriesExhausted means a packet could not be written within the
// attempt ceiling and the link must be considered broken.
var ErrWriteRetriesExhausted = errors.New("write retries exhausted")

// errWouldBlock marks an attempt that made no or partial progress
var errWouldBlock = errors.New("write would block")

// WriterConfig configures the bounded write retry
type WriterConfig struct {
	Attempts int           // maximum write attempts per packet
	Backoff  time.Duration // pause between attempts
	Timeout  time.Duration // per-attempt write deadline on links that support one
}

// Budget is the longest a single packet may spend in WriteFull on a link
// that supports write deadlines.
func (c WriterConfig) Budget() time.Duration {
	return time.Duration(c.Attempts) * c.Backoff
}

// DefaultWriterConfig returns the standard retry policy
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		Attempts: DefaultWriteAttempts,
		Backoff:  DefaultWriteBackoff,
		Timeout:  DefaultWriteTimeout,
	}
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Writer serializes packets and writes each one completely or not at all
// from the caller's point of view. A write that times out or only partly
// succeeds is retried after a short pause; any other write error is
// returned immediately.
type Writer struct {
	w       io.Writer
	cfg     WriterConfig
	log     *logrus.Entry
	limiter *rate.Limiter
	clock   func() time.Time

	// Retries counts attempts beyond the first across all packets
	Retries uint64
}

// NewWriter wraps w. A zero-valued field in cfg takes its default.
func NewWriter(w io.Writer, cfg WriterConfig, log *logrus.Entry) *Writer {
	def := DefaultWriterConfig()
	if cfg.Attempts <= 0 {
		cfg.Attempts = def.Attempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = def.Backoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Writer{
		w:       w,
		cfg:     cfg,
		log:     log,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		clock:   time.Now,
	}
}

// WritePacket encodes p once and writes it with bounded retry
func (w *Writer) WritePacket(p Packet) error {
	buf, err := Encode(p)
	if err != nil {
		return err
	}
	return w.WriteFull(buf)
}

// WriteFull writes all of buf with bounded retry. On links with write
// deadlines the whole call is also capped at the config's Budget, however
// long the individual attempts block.
func (w *Writer) WriteFull(buf []byte) error {
	sent := 0
	attempts := 0
	dl, hasDeadline := w.w.(writeDeadliner)
	giveUp := w.clock().Add(w.cfg.Budget())

	op := func() error {
		attempts++
		if attempts > 1 {
			w.Retries++
		}
		if hasDeadline {
			now := w.clock()
			if attempts > 1 && !now.Before(giveUp) {
				return backoff.Permanent(errWouldBlock)
			}
			deadline := now.Add(w.cfg.Timeout)
			if deadline.After(giveUp) {
				deadline = giveUp
			}
			if err := dl.SetWriteDeadline(deadline); err != nil {
				return backoff.Permanent(err)
			}
		}
		n, err := w.w.Write(buf[sent:])
		sent += n
		if err != nil {
			if isTimeout(err) {
				if w.limiter.Allow() {
					w.log.WithField("sent", sent).WithField("size", len(buf)).Warn("write would block, retrying")
				}
				return errWouldBlock
			}
			return backoff.Permanent(err)
		}
		if sent < len(buf) {
			return errWouldBlock
		}
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(w.cfg.Backoff), uint64(w.cfg.Attempts-1))
	err := backoff.Retry(op, b)
	if hasDeadline {
		dl.SetWriteDeadline(time.Time{})
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, errWouldBlock) {
		return fmt.Errorf("%w: wrote %d of %d bytes in %d attempts", ErrWriteRetriesExhausted, sent, len(buf), attempts)
	}
	return fmt.Errorf("write packet: %w", err)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
