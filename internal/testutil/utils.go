package testutil

import (
	"log"
	"os"
	"testing"
)

// TestLogger returns a logger prefixed with the test name. Output is
// redirected to stderr on cleanup so late goroutine logs never race a
// finished test.
func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, t.Name()+" ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}
