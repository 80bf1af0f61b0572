// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sink

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Thermoquad/teststand/pkg/elet"
)

// Column counts of the run log lines
const (
	csvDataFields = 14
	csvTextFields = 4
)

// CSVSink writes the run log. Each row is flushed as it is written so a
// crash loses at most the record in flight.
//
//	data, <ts>, <seq>, 0x<valves>, <pwm ox>, <pwm fuel>, 0x<ign>, 0x<state>, <igniter good>, <p0>, <p1>, <t0>, <t1>, <thrust>
//	message, <ts>, <seq>, <text>
//	event, <ts>, <seq>, <text>
type CSVSink struct {
	w      *csv.Writer
	closer io.Closer
}

// NewCSVSink writes to w. If w is also an io.Closer it is closed by Close.
func NewCSVSink(w io.Writer) *CSVSink {
	s := &CSVSink{w: csv.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

func (s *CSVSink) Record(r Record) error {
	if err := s.w.Write(csvRow(r)); err != nil {
		return fmt.Errorf("write run log: %w", err)
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *CSVSink) Close() error {
	s.w.Flush()
	err := s.w.Error()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func csvRow(r Record) []string {
	if r.Kind != KindData {
		return []string{string(r.Kind), u32(r.Timestamp), u32(r.Sequence), r.Text}
	}
	good := "0"
	if r.IgniterGood {
		good = "1"
	}
	return []string{
		string(r.Kind),
		u32(r.Timestamp),
		u32(r.Sequence),
		fmt.Sprintf("0x%x", r.Valves),
		u32(uint32(r.PWMOxidizer)),
		u32(uint32(r.PWMFuel)),
		fmt.Sprintf("0x%x", uint8(r.Ignition)),
		fmt.Sprintf("0x%x", uint8(r.State)),
		good,
		f32(r.Pressures[0]),
		f32(r.Pressures[1]),
		f32(r.Temperatures[0]),
		f32(r.Temperatures[1]),
		f32(r.Thrust),
	}
}

func u32(v uint32) string  { return strconv.FormatUint(uint64(v), 10) }
func f32(v float32) string { return strconv.FormatFloat(float64(v), 'f', -1, 32) }

// ErrBadRow is returned for a run log line that cannot be parsed
var ErrBadRow = errors.New("malformed run log row")

// ReadCSV parses a run log. Leading spaces after commas are accepted so
// logs written with ", " separators read the same.
func ReadCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var out []Record
	for line := 1; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("line %d: %w", line, err)
		}
		rec, err := parseRow(row)
		if err != nil {
			return out, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rec)
	}
}

func parseRow(row []string) (Record, error) {
	if len(row) == 0 {
		return Record{}, ErrBadRow
	}
	kind := Kind(row[0])
	switch kind {
	case KindMessage, KindEvent:
		if len(row) < csvTextFields {
			return Record{}, fmt.Errorf("%w: %d fields", ErrBadRow, len(row))
		}
		var p parser
		rec := Record{Kind: kind, Timestamp: p.parseU32(row[1]), Sequence: p.parseU32(row[2])}
		// commas inside unquoted message text split the row
		rec.Text = strings.Join(row[3:], ",")
		return rec, p.err
	case KindData:
		if len(row) != csvDataFields {
			return Record{}, fmt.Errorf("%w: %d fields", ErrBadRow, len(row))
		}
		var p parser
		rec := Record{
			Kind:        kind,
			Timestamp:   p.parseU32(row[1]),
			Sequence:    p.parseU32(row[2]),
			Valves:      p.parseU8(row[3]),
			PWMOxidizer: p.parseU8(row[4]),
			PWMFuel:     p.parseU8(row[5]),
			Ignition:    elet.IgnitionStatus(p.parseU8(row[6])),
			State:       elet.SystemState(p.parseU8(row[7])),
			IgniterGood: p.parseU8(row[8]) != 0,
			Pressures:   [2]float32{p.parseF32(row[9]), p.parseF32(row[10])},
			Temperatures: [2]float32{
				p.parseF32(row[11]),
				p.parseF32(row[12]),
			},
			Thrust: p.parseF32(row[13]),
		}
		return rec, p.err
	}
	return Record{}, fmt.Errorf("%w: unknown kind %q", ErrBadRow, row[0])
}

// parser keeps the first conversion error
type parser struct {
	err error
}

func (p *parser) parseUint(s string, bits int) uint64 {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, bits)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%w: %v", ErrBadRow, err)
	}
	return v
}

func (p *parser) parseU32(s string) uint32 { return uint32(p.parseUint(s, 32)) }
func (p *parser) parseU8(s string) uint8   { return uint8(p.parseUint(s, 8)) }

func (p *parser) parseF32(s string) float32 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 32)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%w: %v", ErrBadRow, err)
	}
	return float32(v)
}
