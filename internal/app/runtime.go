package app

import (
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// TestModeEnv switches the binaries into a no-op mode under go test.
const TestModeEnv = "ODYSSEY_TEST_MODE"

var testMode struct {
	once sync.Once
	on   atomic.Bool
}

// InTestMode reports whether main packages should skip connecting to
// Postgres, Redis and the network.
func InTestMode() bool {
	testMode.once.Do(RefreshTestMode)
	return testMode.on.Load()
}

// RefreshTestMode re-reads TestModeEnv after the environment changed.
func RefreshTestMode() {
	v := strings.TrimSpace(os.Getenv(TestModeEnv))
	testMode.on.Store(v == "1" || strings.EqualFold(v, "true"))
}
