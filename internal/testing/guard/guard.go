// Package guard switches the process into test mode when imported.
package guard

import (
	"os"
	"sync"
)

// EnvVar is the variable the binaries check before starting.
const EnvVar = "TETBLOOM_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(EnvVar) == "" {
			_ = os.Setenv(EnvVar, "1")
		}
	})
}
