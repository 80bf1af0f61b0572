// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/teststand/internal/config"
)

var (
	configPath string
	logLevel   string

	// TCP connection flags
	addr string

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Loaded by PersistentPreRunE before any command runs
	cfg    *config.Config
	logger *logrus.Entry
)

var rootCmd = &cobra.Command{
	Use:   "teststand",
	Short: "Rocket test stand console and tools",
	Long: `Teststand - operator console for a rocket engine test stand controller.

Commands drive the controller over a single binary link, record every
telemetry packet to a run log and post-process run logs after a test.

Connection modes (first one set wins):
  WebSocket: --url ws://host/path [--username user]
  Serial:    --port /dev/ttyACM0 [--baud 115200]
  TCP:       --addr 192.168.1.100:420

Settings are read from --config (YAML) and TESTSTAND_* environment
variables; flags given on the command line override both.

For WebSocket authentication, the password is read from the TESTSTAND_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadSettings,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "teststand.yaml", "Config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Diagnostic level (debug, info, warn, error)")

	rootCmd.PersistentFlags().StringVarP(&addr, "addr", "a", "", "Controller TCP address (host:port)")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// loadSettings reads the config file and lays explicitly set flags over it
func loadSettings(cmd *cobra.Command, args []string) error {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	logger = logrus.NewEntry(base)

	var err error
	cfg, err = config.Load(configPath, logger)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if flags.Changed("addr") {
		cfg.Link.Addr = addr
	}
	if flags.Changed("port") {
		cfg.Link.SerialPort = portName
	}
	if flags.Changed("baud") {
		cfg.Link.Baud = baudRate
	}
	if flags.Changed("url") {
		cfg.Link.URL = wsURL
	}
	if flags.Changed("username") {
		cfg.Link.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		cfg.Link.NoSSLVerify = wsNoSSLVerify
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, _ := logrus.ParseLevel(cfg.Logging.Level)
	base.SetLevel(level)
	return nil
}

// seconds converts an integer flag to a duration
func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
