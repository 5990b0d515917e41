// Command agent is the Vitalis telemetry agent. It collects system metrics on
// a fixed interval, batches them and delivers the batches to the Vitalis API,
// buffering on disk whatever cannot be delivered.
package main

import (
	"os"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
