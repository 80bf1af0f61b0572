// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Thermoquad/teststand/internal/config"
	"github.com/Thermoquad/teststand/pkg/command"
	"github.com/Thermoquad/teststand/pkg/link"
	"github.com/Thermoquad/teststand/pkg/sink"
)

var (
	consoleTUI         bool
	consoleLogFile     string
	consoleLogFormat   string
	consoleReservedBit string
	consoleIdleTimeout int
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Operate the test stand from the terminal",
	Long: `Connect to the test stand controller and send commands typed by the operator.

Every command is checked against the mirrored controller state before it is
sent, and reported as acknowledged once the controller echoes its sequence
number. Every telemetry packet is written to the run log.

Commands:
  stop                           abort: safe the engine
  start-the-damn-engine<N>       ignite and burn for N seconds (2-120)
  drain-the-fuel<N>              push the fuel line empty for N seconds (15-120)
  v <valve> on|off               set one valve (oxoo oxbl oxfl n2pr n2oo fufl fuoo)
  v off                          close every valve
  help                           list commands

The link is considered dead if the controller is silent for the idle
timeout. Ctrl+C closes the link and flushes the run log.`,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().BoolVar(&consoleTUI, "tui", false, "Use terminal UI (default is line mode)")
	consoleCmd.Flags().StringVar(&consoleLogFile, "log-file", "", "Run log path (overrides config)")
	consoleCmd.Flags().StringVar(&consoleLogFormat, "log-format", "", "Run log format: csv, cbor or none")
	consoleCmd.Flags().StringVar(&consoleReservedBit, "reserved-bit", "", "Reserved status bit policy: fatal or warn")
	consoleCmd.Flags().IntVar(&consoleIdleTimeout, "idle-timeout", 0, "Seconds of controller silence before the link is dropped")
}

func runConsole(cmd *cobra.Command, args []string) error {
	if consoleLogFile != "" {
		cfg.Logging.Path = consoleLogFile
	}
	if consoleLogFormat != "" {
		cfg.Logging.Format = consoleLogFormat
	}
	if consoleReservedBit != "" {
		cfg.Link.ReservedBit = consoleReservedBit
	}
	if consoleIdleTimeout > 0 {
		cfg.Link.IdleTimeoutMs = int(seconds(consoleIdleTimeout) / time.Millisecond)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	runLog, err := openRunLog(cfg.Logging)
	if err != nil {
		return err
	}
	defer runLog.Close()

	conn, connInfo, err := OpenConnection(cfg.Link)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if consoleTUI {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			conn.Close()
			return fmt.Errorf("--tui needs a terminal on stdout")
		}
		return runConsoleTUI(ctx, conn, connInfo, runLog)
	}

	fmt.Printf("Teststand - Console\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Run log: %s\n", describeRunLog(cfg.Logging))
	for _, line := range command.Usage() {
		fmt.Printf("  %s\n", line)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	loop := link.New(conn, os.Stdin, sink.Multi{runLog, sink.NewTextSink(os.Stdout)}, cfg.LinkLoop(),
		logger.WithField("component", "link"))
	runErr := loop.Run(ctx)

	fmt.Println()
	fmt.Print(loop.Statistics().String())
	return runErr
}

// openRunLog creates the run log file in the configured format. Format
// "none" returns a sink that drops everything.
func openRunLog(lc config.LoggingConfig) (sink.Sink, error) {
	if lc.Format == "none" || lc.Path == "" {
		return sink.Discard{}, nil
	}
	f, err := os.Create(lc.Path)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	if lc.Format == "cbor" {
		return sink.NewCBORSink(f), nil
	}
	return sink.NewCSVSink(f), nil
}

func describeRunLog(lc config.LoggingConfig) string {
	if lc.Format == "none" || lc.Path == "" {
		return "disabled"
	}
	return fmt.Sprintf("%s (%s)", lc.Path, lc.Format)
}
