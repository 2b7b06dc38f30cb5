package testutil

import (
	"os"
	"testing"

	"github.com/hashicorp/go-hclog"
)

// TestLogger returns a debug-level logger named after the running test.
// Output goes to stdout rather than t.Log so goroutines that outlive the test
// can still log safely.
func TestLogger(t *testing.T) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   t.Name(),
		Level:  hclog.Debug,
		Output: os.Stdout,
	})
}
