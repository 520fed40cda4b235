package federation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rustresort/rustresort/internal/federation"
)

// TestRateLimiter_AdmitsUpToMaxPerWindow checks Testable Property 5: over a
// single window, admissions for one principal never exceed max.
func TestRateLimiter_AdmitsUpToMaxPerWindow(t *testing.T) {
	rl := federation.NewRateLimiter(time.Minute, 3)

	require.True(t, rl.CheckAndIncrement("actor-a"))
	require.True(t, rl.CheckAndIncrement("actor-a"))
	require.True(t, rl.CheckAndIncrement("actor-a"))
	require.False(t, rl.CheckAndIncrement("actor-a"))
	require.False(t, rl.CheckAndIncrement("actor-a"))
}

func TestRateLimiter_PrincipalsAreIndependent(t *testing.T) {
	rl := federation.NewRateLimiter(time.Minute, 1)

	require.True(t, rl.CheckAndIncrement("actor-a"))
	require.False(t, rl.CheckAndIncrement("actor-a"))
	require.True(t, rl.CheckAndIncrement("actor-b"))
}

func TestRateLimiter_ResetsAfterWindowElapses(t *testing.T) {
	rl := federation.NewRateLimiter(20*time.Millisecond, 1)

	require.True(t, rl.CheckAndIncrement("actor-a"))
	require.False(t, rl.CheckAndIncrement("actor-a"))

	time.Sleep(30 * time.Millisecond)
	require.True(t, rl.CheckAndIncrement("actor-a"))
}

func TestRateLimiter_DefaultsOnZeroValues(t *testing.T) {
	rl := federation.NewRateLimiter(0, 0)
	require.True(t, rl.CheckAndIncrement("actor-a"))
}
