package probe

import (
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/miekg/dns"

	"github.com/macwilam/netwatch/pkg/wire"
)

// withDefaultPort appends ":53" if server has no port of its own.
func withDefaultPort(server string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	return net.JoinHostPort(server, "53")
}

var recordTypes = map[string]uint16{
	"A":     dns.TypeA,
	"AAAA":  dns.TypeAAAA,
	"CNAME": dns.TypeCNAME,
	"MX":    dns.TypeMX,
	"TXT":   dns.TypeTXT,
	"NS":    dns.TypeNS,
}

// runDNS queries a resolver directly over UDP/TCP using miekg/dns, the
// same DNS library the teacher uses for its cluster-internal resolver
// (pkg/dns), generalized here from "serve DNS" to "query DNS as a client".
func runDNS(p wire.DNSParams, timeout time.Duration) *wire.RawDNSMetric {
	qtype, ok := recordTypes[p.RecordType]
	if !ok {
		qtype = dns.TypeA
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(p.Domain), qtype)
	msg.RecursionDesired = true

	client := &dns.Client{Timeout: timeout}
	server := p.Server
	if server == "" {
		server = "8.8.8.8:53"
	}

	start := time.Now()
	resp, _, err := client.Exchange(msg, withDefaultPort(server))
	elapsed := msSince(start)

	if err != nil {
		return &wire.RawDNSMetric{QueryTimingMs: &elapsed, Success: false, Error: strPtr(err.Error())}
	}
	if resp.Rcode != dns.RcodeSuccess {
		return &wire.RawDNSMetric{QueryTimingMs: &elapsed, Success: false,
			Error: strPtr(fmt.Sprintf("dns rcode %s", dns.RcodeToString[resp.Rcode]))}
	}

	var addrs []string
	for _, rr := range resp.Answer {
		switch v := rr.(type) {
		case *dns.A:
			addrs = append(addrs, v.A.String())
		case *dns.AAAA:
			addrs = append(addrs, v.AAAA.String())
		case *dns.CNAME:
			addrs = append(addrs, v.Target)
		}
	}

	return &wire.RawDNSMetric{QueryTimingMs: &elapsed, Success: true, ResolvedAddresses: addrs}
}

// runDNSDoH performs the same query over DNS-over-HTTPS (RFC 8484 GET
// form), for servers that only expose a DoH endpoint.
func runDNSDoH(p wire.DNSDoHParams, timeout time.Duration) *wire.RawDNSMetric {
	qtype, ok := recordTypes[p.RecordType]
	if !ok {
		qtype = dns.TypeA
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(p.Domain), qtype)
	msg.RecursionDesired = true
	msg.Id = dns.Id()

	packed, err := msg.Pack()
	if err != nil {
		return &wire.RawDNSMetric{Success: false, Error: strPtr(fmt.Sprintf("pack query: %v", err))}
	}
	encoded := base64.RawURLEncoding.EncodeToString(packed)

	client := &http.Client{Timeout: timeout}
	req, err := http.NewRequest(http.MethodGet, p.DoHURL+"?dns="+encoded, nil)
	if err != nil {
		return &wire.RawDNSMetric{Success: false, Error: strPtr(err.Error())}
	}
	req.Header.Set("Accept", "application/dns-message")

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := msSince(start)
	if err != nil {
		return &wire.RawDNSMetric{QueryTimingMs: &elapsed, Success: false, Error: strPtr(err.Error())}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &wire.RawDNSMetric{QueryTimingMs: &elapsed, Success: false,
			Error: strPtr(fmt.Sprintf("doh http status %d", resp.StatusCode))}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &wire.RawDNSMetric{QueryTimingMs: &elapsed, Success: false, Error: strPtr(err.Error())}
	}

	reply := new(dns.Msg)
	if err := reply.Unpack(body); err != nil {
		return &wire.RawDNSMetric{QueryTimingMs: &elapsed, Success: false, Error: strPtr(fmt.Sprintf("unpack reply: %v", err))}
	}

	var addrs []string
	for _, rr := range reply.Answer {
		switch v := rr.(type) {
		case *dns.A:
			addrs = append(addrs, v.A.String())
		case *dns.AAAA:
			addrs = append(addrs, v.AAAA.String())
		case *dns.CNAME:
			addrs = append(addrs, v.Target)
		}
	}

	return &wire.RawDNSMetric{QueryTimingMs: &elapsed, Success: true, ResolvedAddresses: addrs}
}
