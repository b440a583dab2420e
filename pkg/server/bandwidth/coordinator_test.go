package bandwidth

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/macwilam/netwatch/pkg/wire"
)

func testConfig() Config {
	return Config{
		TestSizeBytes:           1024,
		TestTimeout:             10 * time.Second,
		MaxDelay:                300 * time.Second,
		BaseDelay:               5 * time.Second,
		PositionMultiplierDelay: 2.0,
	}
}

func TestFirstAgentProceedsImmediately(t *testing.T) {
	c := New(testConfig())
	now := time.Now()
	resp := c.RequestTest("agent-a", now)
	require.Equal(t, wire.BandwidthProceed, resp.Action)
	require.NotNil(t, resp.DataSizeBytes)
	require.Equal(t, int64(1024), *resp.DataSizeBytes)
}

func TestSecondAgentIsQueuedWithDelay(t *testing.T) {
	c := New(testConfig())
	now := time.Now()
	c.RequestTest("agent-a", now)

	resp := c.RequestTest("agent-b", now)
	require.Equal(t, wire.BandwidthDelay, resp.Action)
	require.Nil(t, resp.DataSizeBytes)
	require.NotNil(t, resp.DelaySeconds)
	require.InDelta(t, 7.0, *resp.DelaySeconds, 0.001)
}

func TestSameAgentRepeatingRequestProceedsAgain(t *testing.T) {
	c := New(testConfig())
	now := time.Now()
	c.RequestTest("agent-a", now)
	resp := c.RequestTest("agent-a", now.Add(time.Second))
	require.Equal(t, wire.BandwidthProceed, resp.Action)
}

func TestBeginDownloadPromotesNextWaiter(t *testing.T) {
	c := New(testConfig())
	now := time.Now()
	c.RequestTest("agent-a", now)
	c.RequestTest("agent-b", now)

	require.True(t, c.BeginDownload("agent-a"))

	resp := c.RequestTest("agent-b", now)
	require.Equal(t, wire.BandwidthProceed, resp.Action)
}

func TestBeginDownloadRejectsNonHolder(t *testing.T) {
	c := New(testConfig())
	now := time.Now()
	c.RequestTest("agent-a", now)
	require.False(t, c.BeginDownload("agent-b"))
}

func TestStuckCurrentExpiresAfterTimeout(t *testing.T) {
	c := New(testConfig())
	now := time.Now()
	c.RequestTest("agent-a", now)

	resp := c.RequestTest("agent-c", now.Add(20*time.Second))
	require.Equal(t, wire.BandwidthProceed, resp.Action)
}

func TestStreamZerosWritesExactLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, StreamZeros(&buf, 200*1024+7))
	require.Equal(t, 200*1024+7, buf.Len())
}
