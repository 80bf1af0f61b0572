// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/teststand/pkg/elet"
)

var (
	showAll       bool
	statsInterval int
	monitorHello  bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch telemetry for malformed packets and anomalies",
	Long: `Track packet errors and anomalous telemetry with statistics, without sending commands.

This command validates each packet and detects:
  - Framing faults (unknown type, length mismatch)
  - Reserved status bit set
  - Out-of-range ignition and state codes
  - Igniter-good reported outside Ready
  - Flow valve level disagreeing with the valve bitmap
  - Non-finite sensor readings

By default, only errors and controller messages are displayed. Use --show-all
to display valid packets too. A framing fault drops the buffered bytes and
waits for the stream to line up again, so a noisy line can be watched for a
long time. Statistics are printed every --stats-interval seconds.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all packets (not just errors)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	monitorCmd.Flags().BoolVar(&monitorHello, "hello", true, "Send a Hello on connect")
}

// monitor prints and counts what the controller sends
type monitor struct {
	stats    *elet.Statistics
	reserved error
}

func (m *monitor) OnHello(p *elet.HelloPacket) error     { m.packet(p); return nil }
func (m *monitor) OnRequest(p *elet.RequestPacket) error { m.packet(p); return nil }
func (m *monitor) OnData(p *elet.DataPacket) error       { m.packet(p); return nil }
func (m *monitor) OnMessage(p *elet.MessagePacket) error { m.packet(p); return nil }

func (m *monitor) onReserved(p *elet.DataPacket, err error) error {
	m.reserved = err
	return nil
}

func (m *monitor) packet(p elet.Packet) {
	anomalies := elet.ValidatePacket(p)
	m.stats.Update(p, m.reserved, anomalies)
	m.reserved = nil

	_, isMessage := p.(*elet.MessagePacket)
	switch {
	case len(anomalies) > 0:
		printAnomalies(p, anomalies)
	case isMessage || showAll:
		fmt.Print(elet.FormatPacket(time.Now(), p))
	}
}

// printDecodeError prints a framing fault in highlighted format
func printDecodeError(err error) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", timestamp, err)
	fmt.Printf("  >>> BUFFER DROPPED <<<\n\n")
}

// printAnomalies prints the anomalies found in one packet
func printAnomalies(p elet.Packet, anomalies []elet.ValidationError) {
	h := p.PacketHeader()
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;33mANOMALY:\033[0m %s seq=%d ts=%d\n", timestamp, elet.FormatPacketType(h.Type), h.Sequence, h.Timestamp)

	for i, a := range anomalies {
		color := "\033[1;33m"
		if a.Type == elet.AnomalyReservedBit || a.Type == elet.AnomalyInvalidState {
			color = "\033[1;31m"
		}
		fmt.Printf("  Issue %d: %s%s\033[0m\n", i+1, color, a.Message)

		keys := make([]string, 0, len(a.Details))
		for k := range a.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("    %s=%v\n", k, a.Details[k])
		}
	}

	if d, ok := p.(*elet.DataPacket); ok {
		fmt.Printf("  State: %s, Ignition: %s\n", d.Status.State(), d.Status.Ignition())
	}
	fmt.Println()
}

func runMonitor(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cfg.Link)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Teststand - Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All packets\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if monitorHello {
		w := elet.NewWriter(conn, elet.DefaultWriterConfig(), logger.WithField("component", "writer"))
		if err := w.WritePacket(elet.NewHello(elet.HelloSequence, 0)); err != nil {
			return fmt.Errorf("send hello: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := &monitor{stats: elet.NewStatistics()}
	rx := elet.NewReassembler(cfg.Link.BufferSize)

	statsTicker := time.NewTicker(seconds(statsInterval))
	defer statsTicker.Stop()

	chunks := make(chan []byte, 10)
	readErr := make(chan error, 1)
	go func() {
		for {
			buf := make([]byte, 256)
			n, err := conn.Read(buf)
			if n > 0 {
				chunks <- buf[:n]
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			fmt.Print(m.stats.String())
			return nil

		case err := <-readErr:
			fmt.Println()
			fmt.Print(m.stats.String())
			if errors.Is(err, io.EOF) || errors.Is(err, ErrConnectionClosed) {
				return nil
			}
			return fmt.Errorf("read: %w", err)

		case data := <-chunks:
			if _, err := rx.Push(data, m, m.onReserved); err != nil {
				m.stats.Update(nil, err, nil)
				printDecodeError(err)
				rx.Reset()
			}

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(m.stats.String())
			fmt.Println()
		}
	}
}
