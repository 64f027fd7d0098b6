package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

// ensureTestMode keeps binaries from starting servers and stops tests from
// reaching a real mail provider.
func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("TETBLOOM_TEST_MODE", "1")
		_ = os.Unsetenv("SENDGRID_API_KEY")
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
