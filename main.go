// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Teststand - rocket test stand console
//
// A CLI tool for commanding a test stand controller over its binary link,
// recording telemetry and post-processing run logs.

package main

import (
	"fmt"
	"os"

	"github.com/Thermoquad/teststand/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
