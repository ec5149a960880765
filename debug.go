//go:build debug

package main

import (
	"fmt"
	"os"
	"time"
)

// debugLog writes CLI events (connections, staging, telemetry setup) to
// stderr when built with -tags debug. The engine logs to its own file.
func debugLog(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "[DEBUG %s] pgted: "+format, append([]interface{}{time.Now().Format("15:04:05.000")}, args...)...)
}
