package probe

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/macwilam/netwatch/pkg/wire"
)

// runTCP is pkg/health's TCPChecker generalized to return a metric instead
// of a pass/fail health Result.
func runTCP(p wire.TCPParams, timeout time.Duration) *wire.RawTCPMetric {
	addr := fmt.Sprintf("%s:%d", p.Target, p.Port)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	dialer := &net.Dialer{}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &wire.RawTCPMetric{Success: false, Error: strPtr(err.Error())}
	}
	defer conn.Close()

	elapsed := msSince(start)
	return &wire.RawTCPMetric{ConnectTimeMs: &elapsed, Success: true}
}
