// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package elet

import (
	"fmt"
	"strings"
	"time"
)

// FormatPacket formats a packet into a human-readable block, prefixed with
// the local receive time.
func FormatPacket(at time.Time, p Packet) string {
	h := p.PacketHeader()
	result := fmt.Sprintf("[%s] %s (0x%02X) seq=%d ts=%d len=%d\n",
		at.Format("15:04:05.000"), FormatPacketType(h.Type), uint8(h.Type), h.Sequence, h.Timestamp, h.Length)

	switch p := p.(type) {
	case *RequestPacket:
		result += "  " + FormatCommand(p.Command, p.Argument) + "\n"
	case *DataPacket:
		result += FormatData(p)
	case *MessagePacket:
		result += fmt.Sprintf("  %q\n", p.Text())
	}
	return result
}

// FormatPacketType returns the name of a packet type
func FormatPacketType(t PacketType) string {
	switch t {
	case TypeData:
		return "DATA"
	case TypeRequest:
		return "REQUEST"
	case TypeMessage:
		return "MESSAGE"
	case TypeHello:
		return "HELLO"
	default:
		return fmt.Sprintf("UNKNOWN_0x%02X", uint8(t))
	}
}

func (t PacketType) String() string {
	return FormatPacketType(t)
}

func (c Command) String() string {
	switch c {
	case CommandStop:
		return "STOP"
	case CommandStart:
		return "START"
	case CommandModifyValve:
		return "MODIFY_VALVE"
	case CommandDepress:
		return "DEPRESS"
	default:
		return fmt.Sprintf("UNKNOWN_0x%02X", uint8(c))
	}
}

// FormatCommand describes a command and its decoded argument
func FormatCommand(c Command, arg uint32) string {
	switch c {
	case CommandStop:
		return "STOP"
	case CommandStart:
		return fmt.Sprintf("START burn=%ds", arg)
	case CommandDepress:
		return fmt.Sprintf("DEPRESS drain=%ds", arg)
	case CommandModifyValve:
		v, level, closeAll := SplitValveArgument(arg)
		if closeAll {
			return "MODIFY_VALVE all off"
		}
		return fmt.Sprintf("MODIFY_VALVE %s level=%d", v, level)
	default:
		return fmt.Sprintf("%s arg=0x%08X", c, arg)
	}
}

// FormatValves lists the open valves in a bitmap, or "none"
func FormatValves(bitmap uint8) string {
	open := []string{}
	for _, v := range Valves() {
		if bitmap&(1<<v) != 0 {
			open = append(open, v.String())
		}
	}
	if len(open) == 0 {
		return "none"
	}
	return strings.Join(open, ",")
}

// FormatData renders the body of a DataPacket
func FormatData(p *DataPacket) string {
	var b strings.Builder
	st := p.Status
	fmt.Fprintf(&b, "  State: %s, Ignition: %s, Igniter good: %t\n", st.State(), st.Ignition(), st.IgniterGood())
	fmt.Fprintf(&b, "  Valves: %s (0x%02X), PWM ox=%d fuel=%d\n", FormatValves(p.Valves), p.Valves, p.PWMOxidizer, p.PWMFuel)
	for i, v := range p.Pressures {
		fmt.Fprintf(&b, "  Pressure %s: %.2f\n", PressureSensor(i), v)
	}
	for i, v := range p.Temperatures {
		fmt.Fprintf(&b, "  Temperature %s: %.2f\n", Thermocouple(i), v)
	}
	fmt.Fprintf(&b, "  Thrust: %.2f\n", p.Thrust)
	if st.ReservedSet() {
		b.WriteString("  WARNING: reserved status bit set\n")
	}
	return b.String()
}
