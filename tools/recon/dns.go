package recon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/joncooperworks/toolhost/plugin"
)

const (
	dnsTimeout = 10 * time.Second
	resolvConf = "/etc/resolv.conf"
)

// Record is one answer record of a lookup.
type Record struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	TTL   uint32 `json:"ttl"`
	Value string `json:"value"`
}

// Lookup is the outcome of a single DNS query.
type Lookup struct {
	Domain     string        `json:"domain"`
	RecordType string        `json:"record_type"`
	Server     string        `json:"server"`
	Rcode      string        `json:"rcode"`
	Records    []Record      `json:"records"`
	RTT        time.Duration `json:"-"`
}

func nslookup(ctx context.Context, args plugin.Args) (any, error) {
	domain := strings.TrimSpace(args.GetString("domain", ""))
	if domain == "" {
		return nil, errors.New("domain cannot be empty")
	}
	server := args.GetString("server", "")
	if server == "" {
		var err error
		if server, err = systemResolver(resolvConf); err != nil {
			return nil, err
		}
	}

	res, err := Resolve(ctx, server, domain, args.GetString("record_type", "A"))
	if err != nil {
		return nil, err
	}

	out := map[string]any{
		"status":      "success",
		"domain":      res.Domain,
		"record_type": res.RecordType,
		"server":      res.Server,
		"rcode":       res.Rcode,
		"records":     res.Records,
		"rtt_ms":      float64(res.RTT.Microseconds()) / 1000,
	}
	if res.Rcode != dns.RcodeToString[dns.RcodeSuccess] {
		out["status"] = "error"
		out["message"] = fmt.Sprintf("lookup of %s failed: %s", res.Domain, res.Rcode)
	}
	return out, nil
}

// Resolve sends a recursive query for domain to server. A truncated UDP
// answer is retried over TCP.
func Resolve(ctx context.Context, server, domain, recordType string) (*Lookup, error) {
	qtype, ok := dns.StringToType[strings.ToUpper(recordType)]
	if !ok {
		return nil, fmt.Errorf("unsupported record type %q", recordType)
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), qtype)
	msg.RecursionDesired = true

	client := &dns.Client{Timeout: dnsTimeout}
	reply, rtt, err := client.ExchangeContext(ctx, msg, server)
	if err == nil && reply.Truncated {
		client.Net = "tcp"
		reply, rtt, err = client.ExchangeContext(ctx, msg, server)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query %s for %s: %w", server, domain, err)
	}

	res := &Lookup{
		Domain:     domain,
		RecordType: dns.TypeToString[qtype],
		Server:     server,
		Rcode:      dns.RcodeToString[reply.Rcode],
		Records:    []Record{},
		RTT:        rtt,
	}
	for _, rr := range reply.Answer {
		hdr := rr.Header()
		res.Records = append(res.Records, Record{
			Name:  hdr.Name,
			Type:  dns.TypeToString[hdr.Rrtype],
			TTL:   hdr.Ttl,
			Value: strings.TrimSpace(strings.TrimPrefix(rr.String(), hdr.String())),
		})
	}
	return res, nil
}

func systemResolver(path string) (string, error) {
	cfg, err := dns.ClientConfigFromFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read resolver configuration: %w", err)
	}
	if len(cfg.Servers) == 0 {
		return "", fmt.Errorf("no nameservers in %s", path)
	}
	return net.JoinHostPort(cfg.Servers[0], cfg.Port), nil
}
