package probe

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/macwilam/netwatch/pkg/wire"
)

// runTLS dials and completes a TLS handshake directly, timing just the
// handshake the way pkg/health's checkers time just their own operation.
func runTLS(p wire.TLSParams, timeout time.Duration) *wire.RawTLSMetric {
	addr := fmt.Sprintf("%s:%d", p.Target, p.Port)

	start := time.Now()
	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: timeout}, "tcp", addr, &tls.Config{ServerName: p.Target})
	if err != nil {
		return &wire.RawTLSMetric{Success: false, Error: strPtr(err.Error())}
	}
	defer conn.Close()

	elapsed := msSince(start)
	state := conn.ConnectionState()

	m := &wire.RawTLSMetric{HandshakeTimingMs: &elapsed, Success: true}
	if len(state.PeerCertificates) > 0 {
		cert := state.PeerCertificates[0]
		valid := time.Now().Before(cert.NotAfter) && time.Now().After(cert.NotBefore)
		m.SSLValid = boolPtr(valid)
		days := int(time.Until(cert.NotAfter).Hours() / 24)
		m.SSLCertDaysUntilExpiry = intPtr(days)
	}
	return m
}
