package recon

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/joncooperworks/toolhost/plugin"
)

func toolByName(t *testing.T, name string) *plugin.Tool {
	t.Helper()
	for _, tool := range Tools() {
		if tool.Name == name {
			return tool
		}
	}
	t.Fatalf("tool %q not found", name)
	return nil
}

func TestRegisteredAsBuiltin(t *testing.T) {
	found := false
	for _, name := range plugin.ListBuiltins() {
		if name == UnitName {
			found = true
		}
	}
	if !found {
		t.Fatalf("ListBuiltins() = %v, want %q", plugin.ListBuiltins(), UnitName)
	}

	var names []string
	for _, tool := range Tools() {
		names = append(names, tool.Name)
	}
	want := []string{"ping_host", "nslookup", "example_ping_check", "example_async_tool"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("Tools() = %v, want %v", names, want)
	}
}

func TestToolsQualify(t *testing.T) {
	strict := plugin.NewClassifier(plugin.Strict)
	for _, tool := range Tools() {
		if !strict.Qualifies(tool) {
			t.Errorf("%s does not qualify under the strict policy", tool.Name)
		}
	}
}

func TestExamplePingCheck(t *testing.T) {
	got, err := examplePingCheck(context.Background(), plugin.Args{"host": "10.0.0.1"})
	if err != nil {
		t.Fatalf("examplePingCheck() error = %v", err)
	}
	res := got.(map[string]any)
	if res["status"] != "success" || res["host"] != "10.0.0.1" || res["count"] != DefaultPingCount {
		t.Errorf("result = %v", res)
	}
	if _, err := examplePingCheck(context.Background(), plugin.Args{}); err == nil {
		t.Error("examplePingCheck() without host error = nil")
	}
}

func TestExampleAsync(t *testing.T) {
	tool := toolByName(t, "example_async_tool")
	if tool.Mode != plugin.Async || tool.Start == nil {
		t.Fatalf("example_async_tool mode = %v", tool.Mode)
	}
	c := <-tool.Start(context.Background(), plugin.Args{"query": "open ports"})
	if c.Err != nil {
		t.Fatalf("completion error = %v", c.Err)
	}
	res := c.Value.(map[string]any)
	if res["result"] != "Processed: open ports" || res["query"] != "open ports" {
		t.Errorf("result = %v", res)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if c := <-tool.Start(ctx, plugin.Args{"query": "x"}); c.Err == nil {
		t.Error("cancelled example_async_tool error = nil")
	}
}

func TestPingHost_InvalidArgs(t *testing.T) {
	tests := []struct {
		name string
		args plugin.Args
		want string
	}{
		{"no host", plugin.Args{}, "host cannot be empty"},
		{"zero count", plugin.Args{"host": "127.0.0.1", "count": 0}, "count must be between"},
		{"huge count", plugin.Args{"host": "127.0.0.1", "count": 1000}, "count must be between"},
		{"bad count", plugin.Args{"host": "127.0.0.1", "count": "many"}, "must be an integer"},
		{"zero timeout", plugin.Args{"host": "127.0.0.1", "timeout": 0}, "timeout must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pingHost(context.Background(), tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("pingHost() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestPing_Loopback(t *testing.T) {
	conn, _, err := listenICMP()
	if err != nil {
		t.Skipf("ICMP sockets unavailable: %v", err)
	}
	conn.Close()

	stats, err := Ping(context.Background(), "127.0.0.1", 1, 2*time.Second)
	if err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if stats.Sent != 1 || stats.Received != 1 || len(stats.RTTs) != 1 {
		t.Errorf("stats = %+v, want one echo answered", stats)
	}
}

func TestPingStats_Result(t *testing.T) {
	res := (&PingStats{Host: "h", Addr: "192.0.2.1", Sent: 4, Received: 2,
		RTTs: []time.Duration{time.Millisecond, 3 * time.Millisecond}}).Result()
	if res["status"] != "success" || res["packet_loss"] != 50.0 {
		t.Errorf("result = %v", res)
	}
	if res["min_ms"] != 1.0 || res["max_ms"] != 3.0 || res["avg_ms"] != 2.0 {
		t.Errorf("rtt summary = %v %v %v", res["min_ms"], res["max_ms"], res["avg_ms"])
	}

	res = (&PingStats{Host: "h", Sent: 3}).Result()
	if res["status"] != "error" || res["packet_loss"] != 100.0 || res["message"] == nil {
		t.Errorf("unanswered result = %v", res)
	}
}

// startDNS serves a fixed zone on a loopback UDP port.
func startDNS(t *testing.T) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	zone := map[uint16][]string{
		dns.TypeA:  {"scanme.test. 300 IN A 192.0.2.10", "scanme.test. 300 IN A 192.0.2.11"},
		dns.TypeMX: {"scanme.test. 600 IN MX 10 mail.scanme.test."},
	}
	mux := dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		q := r.Question[0]
		if q.Name != "scanme.test." {
			m.SetRcode(r, dns.RcodeNameError)
		}
		for _, s := range zone[q.Qtype] {
			if q.Name != "scanme.test." {
				break
			}
			rr, err := dns.NewRR(s)
			if err != nil {
				t.Errorf("NewRR(%q): %v", s, err)
				continue
			}
			m.Answer = append(m.Answer, rr)
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestNslookup(t *testing.T) {
	addr := startDNS(t)
	ctx := context.Background()

	got, err := nslookup(ctx, plugin.Args{"domain": "scanme.test", "server": addr})
	if err != nil {
		t.Fatalf("nslookup() error = %v", err)
	}
	res := got.(map[string]any)
	if res["status"] != "success" || res["record_type"] != "A" || res["rcode"] != "NOERROR" {
		t.Fatalf("result = %v", res)
	}
	records := res["records"].([]Record)
	if len(records) != 2 || records[0].Value != "192.0.2.10" || records[0].TTL != 300 || records[0].Type != "A" {
		t.Errorf("records = %+v", records)
	}

	got, err = nslookup(ctx, plugin.Args{"domain": "scanme.test", "record_type": "mx", "server": addr})
	if err != nil {
		t.Fatalf("nslookup(MX) error = %v", err)
	}
	records = got.(map[string]any)["records"].([]Record)
	if len(records) != 1 || records[0].Value != "10 mail.scanme.test." {
		t.Errorf("MX records = %+v", records)
	}

	got, err = nslookup(ctx, plugin.Args{"domain": "missing.test", "server": addr})
	if err != nil {
		t.Fatalf("nslookup(missing) error = %v", err)
	}
	res = got.(map[string]any)
	if res["status"] != "error" || res["rcode"] != "NXDOMAIN" {
		t.Errorf("missing result = %v", res)
	}
}

func TestNslookup_InvalidArgs(t *testing.T) {
	if _, err := nslookup(context.Background(), plugin.Args{"domain": " "}); err == nil {
		t.Error("nslookup() with empty domain error = nil")
	}
	_, err := Resolve(context.Background(), "127.0.0.1", "example.com", "BOGUS")
	if err == nil || !strings.Contains(err.Error(), "unsupported record type") {
		t.Errorf("Resolve(BOGUS) error = %v", err)
	}
}

func TestSystemResolver(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(dir, "resolv.conf")
	if err := os.WriteFile(conf, []byte("nameserver 192.0.2.53\nnameserver 192.0.2.54\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := systemResolver(conf)
	if err != nil || got != "192.0.2.53:53" {
		t.Errorf("systemResolver() = %q, %v", got, err)
	}
	if _, err := systemResolver(filepath.Join(dir, "missing")); err == nil {
		t.Error("systemResolver(missing) error = nil")
	}
}
