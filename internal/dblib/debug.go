//go:build debug

package dblib

import (
	"fmt"
	"os"
	"sync"
	"time"
)

var (
	debugFile *os.File
	debugMu   sync.Mutex
)

func init() {
	path := os.Getenv("PGTED_LOG")
	if path == "" {
		path = "/tmp/pgted.log"
	}
	var err error
	debugFile, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open debug log file: %v\n", err)
		os.Exit(1)
	}
}

// debugLog appends engine events (staged changes, generated DDL, executed
// statements) to $PGTED_LOG, /tmp/pgted.log by default, when built with
// -tags debug.
func debugLog(format string, args ...interface{}) {
	debugMu.Lock()
	defer debugMu.Unlock()

	timestamp := time.Now().Format("15:04:05.000")
	fmt.Fprintf(debugFile, "[%s] dblib: "+format, append([]interface{}{timestamp}, args...)...)
}
