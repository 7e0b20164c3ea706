package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("PULSE_TEST_MODE", "1")
		if os.Getenv("ACCESS_TOKEN_SECRET") == "" {
			_ = os.Setenv("ACCESS_TOKEN_SECRET", "test-access-secret")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
