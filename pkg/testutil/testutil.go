package testutil

import (
	"os"
	"testing"
)

func Must(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("error returned for operation: %v", err)
	}
}

func MustDo(t testing.TB, what string, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s, expected no error, got err=%s", what, err)
	}
}

// WithEnvironmentVariable sets an environment variable for the duration of the test,
// restoring it to a previous value, if any, at teardown.
//
// Environment variables are process-wide, so this is not safe for parallel tests.
func WithEnvironmentVariable(t *testing.T, k, v string) {
	originalV, hasAny := os.LookupEnv(k)
	if err := os.Setenv(k, v); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if hasAny {
			_ = os.Setenv(k, originalV)
		} else {
			_ = os.Unsetenv(k)
		}
	})
}
