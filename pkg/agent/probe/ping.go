package probe

import (
	"context"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"time"

	"github.com/macwilam/netwatch/pkg/wire"
)

// runPing shells out to the system ping binary, the way pkg/health's
// ExecChecker runs an external command rather than re-implementing ICMP
// over a raw socket — raw ICMP sockets need CAP_NET_RAW the agent process
// may not have, while the system ping binary is already privileged.
func runPing(p wire.PingParams, timeout time.Duration) *wire.RawPingMetric {
	count := p.Count
	if count <= 0 {
		count = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	args := pingArgs(p.Target, count)
	cmd := exec.CommandContext(ctx, "ping", args...)
	out, err := cmd.Output()
	if err != nil {
		return &wire.RawPingMetric{Success: false, Error: strPtr(err.Error()), IPAddress: p.Target}
	}

	rtt, ok := parsePingRTT(string(out))
	if !ok {
		return &wire.RawPingMetric{Success: false, Error: strPtr("could not parse ping output"), IPAddress: p.Target}
	}
	return &wire.RawPingMetric{RTTMs: &rtt, Success: true, IPAddress: p.Target}
}

func pingArgs(target string, count int) []string {
	if runtime.GOOS == "darwin" {
		return []string{"-c", strconv.Itoa(count), target}
	}
	return []string{"-c", strconv.Itoa(count), "-w", "10", target}
}

var avgRTTPattern = regexp.MustCompile(`=\s*[\d.]+/([\d.]+)/`)

func parsePingRTT(output string) (float64, bool) {
	m := avgRTTPattern.FindStringSubmatch(output)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
