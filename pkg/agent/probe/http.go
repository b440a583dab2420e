package probe

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"

	"github.com/macwilam/netwatch/pkg/wire"
)

// runHTTP is pkg/health's HTTPChecker generalized with httptrace timing
// breakdown (TCP/TLS/TTFB/content-download) and, for http_content tasks,
// a substring content match against the response body.
func runHTTP(p wire.HTTPParams, timeout time.Duration, checkContent bool) *wire.RawHTTPMetric {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var dnsDone, connectDone, tlsDone, firstByte time.Time
	start := time.Now()

	trace := &httptrace.ClientTrace{
		ConnectDone: func(network, addr string, err error) { connectDone = time.Now() },
		TLSHandshakeDone: func(cs tls.ConnectionState, err error) { tlsDone = time.Now() },
		GotFirstResponseByte: func() { firstByte = time.Now() },
	}
	_ = dnsDone
	ctx = httptrace.WithClientTrace(ctx, trace)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return &wire.RawHTTPMetric{Success: false, Error: strPtr(err.Error())}
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return &wire.RawHTTPMetric{Success: false, Error: strPtr(err.Error())}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	downloadDone := time.Now()

	m := &wire.RawHTTPMetric{
		StatusCode: intPtr(resp.StatusCode),
		TotalTimeMs: floatPtr(msDiff(start, downloadDone)),
	}
	if !connectDone.IsZero() {
		m.TCPTimingMs = floatPtr(msDiff(start, connectDone))
	}
	if !tlsDone.IsZero() {
		m.TLSTimingMs = floatPtr(msDiff(connectDone, tlsDone))
	}
	if !firstByte.IsZero() {
		m.TTFBTimingMs = floatPtr(msDiff(start, firstByte))
		m.ContentDownloadTimingMs = floatPtr(msDiff(firstByte, downloadDone))
	}

	if resp.TLS != nil {
		valid := resp.TLS.PeerCertificates != nil && len(resp.TLS.PeerCertificates) > 0
		m.SSLValid = boolPtr(valid)
		if valid {
			days := int(time.Until(resp.TLS.PeerCertificates[0].NotAfter).Hours() / 24)
			m.SSLCertDaysUntilExpiry = intPtr(days)
		}
	}

	expectedStatus := p.ExpectedStatus
	if expectedStatus == 0 {
		expectedStatus = http.StatusOK
	}
	statusOK := resp.StatusCode == expectedStatus

	if !checkContent {
		m.Success = statusOK && readErr == nil
		if !m.Success && readErr != nil {
			m.Error = strPtr(readErr.Error())
		}
		return m
	}

	matched := readErr == nil && strings.Contains(string(body), p.ContentMatch)
	m.ContentMatched = boolPtr(matched)
	m.Success = statusOK && matched
	if readErr != nil {
		m.Error = strPtr(readErr.Error())
	} else if !matched {
		m.Error = strPtr("content_match string not found in response body")
	}
	return m
}

func msDiff(a, b time.Time) float64 {
	return float64(b.Sub(a).Microseconds()) / 1000.0
}
