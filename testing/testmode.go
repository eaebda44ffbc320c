// Package testing switches the process into test mode when imported for side effects.
package testing

import (
	"os"
	"sync"
)

var once sync.Once

// Setup enables test mode and fills the environment the binaries refuse to start without.
func Setup() {
	once.Do(func() {
		_ = os.Setenv("ODYSSEY_TEST_MODE", "1")
		if os.Getenv("ERP_BASE_URL") == "" {
			_ = os.Setenv("ERP_BASE_URL", "http://127.0.0.1:0")
		}
	})
}

func init() {
	Setup()
}
