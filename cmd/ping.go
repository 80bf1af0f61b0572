// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/teststand/pkg/elet"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure round trips to the controller with Hello packets",
	Long: `Send Hello packets and time the controller's acknowledgement of each one.

A Hello resets the controller's sequence baseline, so each ping uses the
next sequence number and is answered by the first packet echoing it. The
controller's header timestamp gives its uptime.

This is useful for verifying:
  - the link reaches the controller in both directions
  - WebSocket bridge authentication works
  - round-trip latency is sane before a test

Do not run it against a controller a console is driving.

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cfg.Link)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Teststand - Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	// One reader for the whole run; packets that answer no ping are dropped
	packets := make(chan elet.Packet, 16)
	readErr := make(chan error, 1)
	go func() {
		rx := elet.NewReassembler(cfg.Link.BufferSize)
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				readErr <- err
				return
			}
			if _, err := rx.Push(buf[:n], packetChan(packets), func(*elet.DataPacket, error) error { return nil }); err != nil {
				readErr <- err
				return
			}
		}
	}()

	w := elet.NewWriter(conn, elet.DefaultWriterConfig(), logger.WithField("component", "writer"))
	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount; i++ {
		seq := elet.HelloSequence + uint32(i-1)
		fmt.Printf("Ping %d/%d (seq %d): ", i, pingCount, seq)

		startTime := time.Now()
		if err := w.WritePacket(elet.NewHello(seq, 0)); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			continue
		}

		timeout := time.After(seconds(pingTimeout))
	wait:
		for {
			select {
			case p := <-packets:
				h := p.PacketHeader()
				if h.Sequence != seq {
					continue
				}
				rtt := time.Since(startTime)
				fmt.Printf("%s from controller, uptime=%s, rtt=%v\n",
					elet.FormatPacketType(h.Type), formatUptime(uint64(h.Timestamp)), rtt.Round(time.Millisecond))
				successCount++
				break wait

			case err := <-readErr:
				fmt.Printf("READ FAILED: %v\n", err)
				failCount += pingCount - i + 1
				i = pingCount
				break wait

			case <-timeout:
				fmt.Printf("TIMEOUT (no response in %ds)\n", pingTimeout)
				failCount++
				break wait
			}
		}

		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% packet loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}

// packetChan is an Observer that forwards controller packets to a channel
type packetChan chan<- elet.Packet

func (c packetChan) OnHello(p *elet.HelloPacket) error     { return nil }
func (c packetChan) OnRequest(p *elet.RequestPacket) error { return nil }
func (c packetChan) OnData(p *elet.DataPacket) error       { c.forward(p); return nil }
func (c packetChan) OnMessage(p *elet.MessagePacket) error { c.forward(p); return nil }

func (c packetChan) forward(p elet.Packet) {
	select {
	case c <- p:
	default:
	}
}

// formatUptime formats uptime in milliseconds to a human-friendly string
func formatUptime(ms uint64) string {
	if ms < 1000 {
		return fmt.Sprintf("%d ms", ms)
	}

	secs := ms / 1000
	minutes := secs / 60
	hours := minutes / 60
	days := hours / 24

	secs %= 60
	minutes %= 60
	hours %= 24

	parts := []string{}
	for _, u := range []struct {
		n    uint64
		name string
	}{{days, "day"}, {hours, "hour"}, {minutes, "minute"}, {secs, "second"}} {
		switch {
		case u.n == 1:
			parts = append(parts, "1 "+u.name)
		case u.n > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", u.n, u.name))
		}
	}
	if len(parts) == 0 {
		return "0 seconds"
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
}
