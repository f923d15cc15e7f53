// Package guard switches binaries into test mode when blank-imported from a
// test, so main packages can be exercised without touching Postgres or Redis.
package guard

import "os"

const modeEnv = "ODYSSEY_TEST_MODE"

func init() {
	if os.Getenv(modeEnv) == "" {
		_ = os.Setenv(modeEnv, "1")
	}
}
