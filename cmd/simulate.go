// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/teststand/pkg/controller"
	"github.com/Thermoquad/teststand/pkg/safety"
	"github.com/Thermoquad/teststand/pkg/sim"
)

var (
	simListen    string
	simNoIgniter bool
	simNoSense   bool
	simDud       bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulated controller and test stand",
	Long: `Serve the controller side of the link over TCP, backed by a simulated stand.

The simulated stand answers valve, igniter and sensor calls with plausible
readings, so the console, raw_log, monitor, probe and ping commands can be
exercised without hardware. One console is served at a time.

Rig faults can be injected:
  --no-igniter     continuity test fails (FailBadIgniter)
  --no-sense-wire  sense wire missing before firing (FailNoSenseWire)
  --dud            igniter fires but the engine does not light (FailNoIgnition)`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simListen, "listen", "", "Listen address (overrides config)")
	simulateCmd.Flags().BoolVar(&simNoIgniter, "no-igniter", false, "Simulate a missing igniter")
	simulateCmd.Flags().BoolVar(&simNoSense, "no-sense-wire", false, "Simulate a missing sense wire")
	simulateCmd.Flags().BoolVar(&simDud, "dud", false, "Simulate an engine that does not light")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if simListen != "" {
		cfg.Simulator.Listen = simListen
	}
	if simNoIgniter {
		cfg.Simulator.IgniterPresent = false
	}
	if simNoSense {
		cfg.Simulator.SenseWire = false
	}
	if simDud {
		cfg.Simulator.Ignites = false
	}

	ln, err := net.Listen("tcp", cfg.Simulator.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	stand := sim.NewStand(cfg.Stand())
	machine := safety.NewMachine(stand, nil, cfg.Safety(), logger.WithField("component", "safety"))
	machine.OnPhase = func(p safety.Phase) {
		logger.WithField("phase", p.String()).Info("ignition sequence")
	}
	srv := controller.NewServer(machine, cfg.Server(), logger.WithField("component", "controller"))

	fmt.Printf("Teststand - Simulator\n")
	fmt.Printf("Listening: %s\n", ln.Addr())
	fmt.Printf("Igniter: %t, sense wire: %t, ignites: %t\n",
		cfg.Simulator.IgniterPresent, cfg.Simulator.SenseWire, cfg.Simulator.Ignites)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Serve(ctx, ln)
}
