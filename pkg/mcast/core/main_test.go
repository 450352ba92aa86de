package core

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies that every goroutine this package's tests spawn -
// handler read/write loops, engine loops, and grace-period timers - has
// exited by the time the test binary finishes.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
