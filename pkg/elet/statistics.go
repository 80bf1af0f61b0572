// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package elet

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks link traffic and error counts for one session
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Received packets
	TotalPackets   uint64
	ValidPackets   uint64
	DataPackets    uint64
	MessagePackets uint64
	DecodeErrors   uint64
	UnknownTypes   uint64
	LengthErrors   uint64
	ReservedBits   uint64
	Anomalies      uint64

	// Commands
	CommandsSent     uint64
	CommandsAcked    uint64
	ParseErrors      uint64
	PolicyRejections uint64
	WriteRetries     uint64

	ControllerResets uint64

	// Rates (calculated)
	PacketRate float64 // packets/sec
	ErrorRate  float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update records one received packet, its decode error and any anomalies
func (s *Statistics) Update(p Packet, decodeErr error, anomalies []ValidationError) {
	s.TotalPackets++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		switch {
		case errors.Is(decodeErr, ErrReservedBitSet):
			s.ReservedBits++
		case errors.Is(decodeErr, ErrUnknownType):
			s.UnknownTypes++
			s.DecodeErrors++
		case errors.Is(decodeErr, ErrLengthMismatch):
			s.LengthErrors++
			s.DecodeErrors++
		default:
			s.DecodeErrors++
		}
		if p == nil {
			return
		}
	}

	switch p.(type) {
	case *DataPacket:
		s.DataPackets++
	case *MessagePacket:
		s.MessagePackets++
	}

	if len(anomalies) > 0 {
		s.Anomalies += uint64(len(anomalies))
	} else if decodeErr == nil {
		s.ValidPackets++
	}
}

// CalculateRates calculates packet and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.PacketRate = float64(s.TotalPackets) / elapsed
		s.ErrorRate = float64(s.DecodeErrors+s.ReservedBits+s.Anomalies) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent float64
	if s.TotalPackets > 0 {
		validPercent = float64(s.ValidPackets) * 100.0 / float64(s.TotalPackets)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Packets:   %8d\n", s.TotalPackets)
	result += fmt.Sprintf("Valid Packets:   %8d (%.1f%%)\n", s.ValidPackets, validPercent)
	result += fmt.Sprintf("  Data:            %6d\n", s.DataPackets)
	result += fmt.Sprintf("  Message:         %6d\n", s.MessagePackets)

	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d\n", s.DecodeErrors)
		if s.UnknownTypes > 0 {
			result += fmt.Sprintf("  Unknown Type:     %5d\n", s.UnknownTypes)
		}
		if s.LengthErrors > 0 {
			result += fmt.Sprintf("  Length Mismatch:  %5d\n", s.LengthErrors)
		}
	}
	if s.ReservedBits > 0 {
		result += fmt.Sprintf("Reserved Bit:    %8d\n", s.ReservedBits)
	}
	if s.Anomalies > 0 {
		result += fmt.Sprintf("Anomalies:       %8d\n", s.Anomalies)
	}

	result += fmt.Sprintf("Commands Sent:   %8d (%d acknowledged)\n", s.CommandsSent, s.CommandsAcked)
	if s.ParseErrors > 0 {
		result += fmt.Sprintf("Parse Errors:    %8d\n", s.ParseErrors)
	}
	if s.PolicyRejections > 0 {
		result += fmt.Sprintf("Rejected:        %8d\n", s.PolicyRejections)
	}
	if s.WriteRetries > 0 {
		result += fmt.Sprintf("Write Retries:   %8d\n", s.WriteRetries)
	}
	if s.ControllerResets > 0 {
		result += fmt.Sprintf("Controller Resets:%7d\n", s.ControllerResets)
	}

	result += fmt.Sprintf("Packet Rate:     %8.1f pkts/sec\n", s.PacketRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
