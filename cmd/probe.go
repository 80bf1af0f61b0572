// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/teststand/pkg/elet"
)

var (
	probeTimeout int
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test the link by waiting for a valid packet",
	Long: `Connect, send a Hello and wait for a valid packet from the controller.

Connecting is retried until the timeout, so the probe can be started before
the controller is powered. Bytes that do not form a valid packet are counted
and skipped.

Exit codes:
  0 - Packet received before timeout
  1 - Timeout reached without receiving a valid packet
  2 - Connection error

Useful for checking the link before a test day.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 10, "Timeout in seconds to wait for a packet")
}

func runProbe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), seconds(probeTimeout))
	defer cancel()

	var (
		conn     Connection
		connInfo string
	)
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		var err error
		conn, connInfo, err = OpenConnection(cfg.Link)
		if err != nil {
			logger.WithError(err).WithField("attempt", attempts).Debug("connect failed")
		}
		return err
	}, backoff.WithContext(backoff.NewConstantBackOff(500*time.Millisecond), ctx))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Teststand - Probe\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", probeTimeout)
	fmt.Printf("Waiting for valid packet...\n\n")

	w := elet.NewWriter(conn, elet.DefaultWriterConfig(), logger.WithField("component", "writer"))
	if err := w.WritePacket(elet.NewHello(elet.HelloSequence, 0)); err != nil {
		fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
		os.Exit(2)
	}

	packetChan := make(chan elet.Packet, 1)
	errChan := make(chan error, 1)

	go func() {
		rx := elet.NewReassembler(cfg.Link.BufferSize)
		buf := make([]byte, 128)
		skipped := 0
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}

			data := buf[:n]
			for len(data) > 0 {
				took, err := rx.Feed(data)
				if err != nil {
					rx.Reset()
					skipped += len(data)
					break
				}
				data = data[took:]

				p, err := rx.Next()
				if err != nil && p == nil {
					// not aligned on a header: drop the buffer and resync
					skipped += rx.Buffered()
					rx.Reset()
					continue
				}
				if p != nil {
					if skipped > 0 {
						fmt.Printf("(skipped %d invalid bytes before sync)\n", skipped)
					}
					packetChan <- p
					return
				}
			}
		}
	}()

	select {
	case p := <-packetChan:
		h := p.PacketHeader()
		fmt.Printf("SUCCESS: Received valid packet\n")
		fmt.Printf("  Type: %s (0x%02X)\n", elet.FormatPacketType(h.Type), uint8(h.Type))
		fmt.Printf("  Sequence: %d\n", h.Sequence)
		fmt.Printf("  Timestamp: %d ms\n", h.Timestamp)
		fmt.Printf("  Length: %d bytes\n", h.Length)
		if d, ok := p.(*elet.DataPacket); ok {
			fmt.Printf("  State: %s\n", d.Status.State())
		}
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-ctx.Done():
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid packet received within %d seconds\n", probeTimeout)
		os.Exit(1)
	}

	return nil
}
