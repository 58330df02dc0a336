// Kestrel - Worst-cell KPI synthesis for radio networks.
// Copyright (c) 2025 kestrel-noc
// Licensed under the Apache License 2.0

package main

import (
	"fmt"
	"os"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
