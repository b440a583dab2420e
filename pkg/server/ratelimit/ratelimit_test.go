package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAllowsUpToMaxThenBlocks(t *testing.T) {
	l := New(time.Minute, 3)
	now := time.Now()
	require.True(t, l.Allow("a", now))
	require.True(t, l.Allow("a", now))
	require.True(t, l.Allow("a", now))
	require.False(t, l.Allow("a", now))
}

func TestWindowSlidesOut(t *testing.T) {
	l := New(time.Minute, 1)
	now := time.Now()
	require.True(t, l.Allow("a", now))
	require.False(t, l.Allow("a", now))
	require.True(t, l.Allow("a", now.Add(61*time.Second)))
}

func TestAgentsAreIndependent(t *testing.T) {
	l := New(time.Minute, 1)
	now := time.Now()
	require.True(t, l.Allow("a", now))
	require.True(t, l.Allow("b", now))
}

func TestSweepDropsEmptyEntries(t *testing.T) {
	l := New(time.Minute, 5)
	now := time.Now()
	l.Allow("a", now)
	l.Sweep(now.Add(2 * time.Minute))
	require.Empty(t, l.byID)
}
