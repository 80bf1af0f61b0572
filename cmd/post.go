// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/teststand/internal/config"
	"github.com/Thermoquad/teststand/pkg/sink"
)

var postConvert string

var postCmd = &cobra.Command{
	Use:   "post <run.log>",
	Short: "Summarize a run log after a test",
	Long: `Read a run log (CSV or CBOR, detected from its first byte) and print the
valve openings and closings, flow level changes, state changes and ignition
results in time order, followed by the controller messages and link events.

With --convert the records are also rewritten to another file; a ".cbor"
suffix selects CBOR, anything else CSV.`,
	Args: cobra.ExactArgs(1),
	RunE: runPost,
}

func init() {
	rootCmd.AddCommand(postCmd)
	postCmd.Flags().StringVar(&postConvert, "convert", "", "Rewrite the records to this file")
}

func runPost(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	records, err := sink.ReadRecords(f)
	if err != nil {
		if len(records) == 0 {
			return fmt.Errorf("read %s: %w", args[0], err)
		}
		// a log cut short by a crash still has a useful head
		logger.WithError(err).WithField("records", len(records)).Warn("run log truncated")
	}

	if err := sink.Report(os.Stdout, records); err != nil {
		return err
	}

	if postConvert != "" {
		return convertRecords(postConvert, records)
	}
	return nil
}

func convertRecords(path string, records []sink.Record) error {
	format := "csv"
	if filepath.Ext(path) == ".cbor" {
		format = "cbor"
	}
	out, err := openRunLog(config.LoggingConfig{Path: path, Format: format})
	if err != nil {
		return err
	}
	for _, r := range records {
		if err := out.Record(r); err != nil {
			out.Close()
			return err
		}
	}
	return out.Close()
}
