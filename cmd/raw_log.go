// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/teststand/pkg/elet"
)

var rawLogHello bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw packet log in human-readable format",
	Long: `Continuously decode and display link packets as they arrive.

Each packet is shown with its receive time, type, header fields and decoded
body. The controller only streams telemetry after a Hello, so one is sent
on connect unless --hello=false is given (for watching a tapped line).

Supports TCP, serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogHello, "hello", true, "Send a Hello on connect")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cfg.Link)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Teststand - Raw Packet Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if rawLogHello {
		w := elet.NewWriter(conn, elet.DefaultWriterConfig(), logger.WithField("component", "writer"))
		if err := w.WritePacket(elet.NewHello(elet.HelloSequence, 0)); err != nil {
			return fmt.Errorf("send hello: %w", err)
		}
	}

	rx := elet.NewReassembler(cfg.Link.BufferSize)
	buf := make([]byte, 128)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrConnectionClosed) {
				logger.Info("connection closed")
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		data := buf[:n]
		for len(data) > 0 {
			took, err := rx.Feed(data)
			if err != nil {
				return err
			}
			data = data[took:]

			for {
				p, err := rx.Next()
				if p != nil {
					fmt.Print(elet.FormatPacket(time.Now(), p))
				}
				if err != nil {
					if p != nil {
						// reserved bit: packet already shown, keep going
						fmt.Printf("[ERROR] %v\n", err)
						continue
					}
					// framing is lost, nothing after this can be trusted
					fmt.Printf("[ERROR] %v\n", err)
					return err
				}
				if p == nil {
					break
				}
			}
		}
	}
}
