package probe

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/macwilam/netwatch/pkg/wire"
)

// runBandwidth streams downloadURL (the server's /api/v1/bandwidth/download
// endpoint, sized by bandwidth/test negotiation) and measures throughput.
// The transfer size is server-authoritative — the probe trusts
// bytesDownloaded over expectedBytes when computing throughput.
func runBandwidth(downloadURL string, expectedBytes int64, timeout time.Duration) *wire.RawBandwidthMetric {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return bandwidthFailure(err)
	}

	client := &http.Client{Timeout: timeout}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return bandwidthFailure(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return bandwidthFailure(httpStatusError(resp.StatusCode))
	}

	n, err := io.Copy(io.Discard, resp.Body)
	elapsed := time.Since(start)
	if err != nil {
		return bandwidthFailure(err)
	}

	elapsedMs := float64(elapsed.Microseconds()) / 1000.0
	var mbps *float64
	if elapsed > 0 {
		v := (float64(n) * 8 / 1_000_000) / elapsed.Seconds()
		mbps = &v
	}

	return &wire.RawBandwidthMetric{
		DownloadTimingMs: &elapsedMs,
		BytesDownloaded:  n,
		ThroughputMbps:   mbps,
		Success:          true,
	}
}

func bandwidthFailure(err error) *wire.RawBandwidthMetric {
	return &wire.RawBandwidthMetric{Success: false, Error: strPtr(err.Error())}
}

type httpStatusErr int

func (e httpStatusErr) Error() string { return "unexpected http status" }

func httpStatusError(code int) error { return httpStatusErr(code) }
