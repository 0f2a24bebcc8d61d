// Command testpulse collects test-run reports and serves the test telemetry
// dashboard.
//
//	testpulse serve    run the collector, REST API and push hub
//	testpulse collect  ingest the current reports once and print a summary
//	testpulse report   print the aggregated report for a time range
package main

import (
	"fmt"
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
