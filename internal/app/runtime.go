package app

import (
	"os"
	"strconv"
	"sync"
)

// TestModeEnv makes the binaries return before touching Postgres, Redis or the ERP.
const TestModeEnv = "ODYSSEY_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	enabled, _ := strconv.ParseBool(os.Getenv(TestModeEnv))
	return enabled
})

// InTestMode reports whether the application should skip runtime side effects. The
// environment is read once per process.
func InTestMode() bool {
	return testMode()
}
