// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sink

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// CBORSink writes each record as one CBOR map, back to back
type CBORSink struct {
	enc    *cbor.Encoder
	closer io.Closer
}

// NewCBORSink writes to w. If w is also an io.Closer it is closed by Close.
func NewCBORSink(w io.Writer) *CBORSink {
	s := &CBORSink{enc: cbor.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

func (s *CBORSink) Record(r Record) error {
	if err := s.enc.Encode(r); err != nil {
		return fmt.Errorf("write cbor log: %w", err)
	}
	return nil
}

func (s *CBORSink) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// ReadCBOR reads every record from a CBOR log. A record cut short at the
// end of the log is reported as io.ErrUnexpectedEOF along with the records
// read before it.
func ReadCBOR(r io.Reader) ([]Record, error) {
	dec := cbor.NewDecoder(r)
	var out []Record
	for {
		var rec Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("record %d: %w", len(out)+1, err)
		}
		out = append(out, rec)
	}
}

// ReadRecords reads a run log in either format. CBOR logs start with a map
// header byte; a CSV log starts with a letter.
func ReadRecords(r io.Reader) ([]Record, error) {
	br := bufio.NewReader(r)
	first, err := br.Peek(1)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if first[0]>>5 == 5 { // major type 5: map
		return ReadCBOR(br)
	}
	return ReadCSV(br)
}
