package recon

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/joncooperworks/toolhost/plugin"
)

const (
	DefaultPingCount   = 4
	DefaultPingTimeout = 5

	maxPingCount = 100
)

// pingInterval is the pause between echo requests.
var pingInterval = time.Second

// PingStats summarizes one ping run.
type PingStats struct {
	Host     string
	Addr     string
	Sent     int
	Received int
	RTTs     []time.Duration
}

func pingHost(ctx context.Context, args plugin.Args) (any, error) {
	host := args.GetString("host", "")
	if host == "" {
		return nil, errors.New("host cannot be empty")
	}
	count, err := args.GetInt("count", DefaultPingCount)
	if err != nil {
		return nil, err
	}
	if count < 1 || count > maxPingCount {
		return nil, fmt.Errorf("count must be between 1 and %d, got %d", maxPingCount, count)
	}
	timeout, err := args.GetInt("timeout", DefaultPingTimeout)
	if err != nil {
		return nil, err
	}
	if timeout < 1 {
		return nil, fmt.Errorf("timeout must be positive, got %d", timeout)
	}

	stats, err := Ping(ctx, host, count, time.Duration(timeout)*time.Second)
	if err != nil {
		return nil, err
	}
	return stats.Result(), nil
}

// Ping sends count ICMP echo requests to host, waiting up to timeout for
// each reply.
//
// An unprivileged datagram ICMP socket is tried first and a raw socket is
// used when the kernel does not allow it.
func Ping(ctx context.Context, host string, count int, timeout time.Duration) (*PingStats, error) {
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no IPv4 address for %s", host)
	}
	ip := ips[0]

	conn, privileged, err := listenICMP()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var dst net.Addr = &net.UDPAddr{IP: ip}
	if privileged {
		dst = &net.IPAddr{IP: ip}
	}

	stats := &PingStats{Host: host, Addr: ip.String()}
	id := os.Getpid() & 0xffff
	buf := make([]byte, 1500)

	for seq := 1; seq <= count; seq++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msg := icmp.Message{
			Type: ipv4.ICMPTypeEcho,
			Body: &icmp.Echo{ID: id, Seq: seq, Data: []byte("toolhost-ping")},
		}
		wire, err := msg.Marshal(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal ICMP message: %w", err)
		}

		start := time.Now()
		if _, err := conn.WriteTo(wire, dst); err != nil {
			return nil, fmt.Errorf("failed to send ICMP echo to %s: %w", ip, err)
		}
		stats.Sent++

		deadline := start.Add(timeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		rtt, ok, err := awaitReply(conn, buf, start, deadline, seq, id, privileged)
		if err != nil {
			return nil, err
		}
		if ok {
			stats.Received++
			stats.RTTs = append(stats.RTTs, rtt)
		}

		if seq < count {
			select {
			case <-time.After(pingInterval):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return stats, nil
}

func listenICMP() (*icmp.PacketConn, bool, error) {
	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err == nil {
		return conn, false, nil
	}
	raw, rawErr := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if rawErr != nil {
		return nil, false, fmt.Errorf("failed to open ICMP socket: %w", errors.Join(err, rawErr))
	}
	return raw, true, nil
}

// awaitReply reads until the echo reply for seq arrives or the deadline
// passes. The kernel rewrites the echo ID on datagram sockets, so the ID is
// only checked on raw sockets.
func awaitReply(conn *icmp.PacketConn, buf []byte, start, deadline time.Time, seq, id int, privileged bool) (time.Duration, bool, error) {
	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, false, fmt.Errorf("failed to set read deadline: %w", err)
	}
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return 0, false, nil
			}
			return 0, false, fmt.Errorf("failed to read ICMP reply: %w", err)
		}
		msg, err := icmp.ParseMessage(ipv4.ICMPTypeEcho.Protocol(), buf[:n])
		if err != nil || msg.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		echo, ok := msg.Body.(*icmp.Echo)
		if !ok || echo.Seq != seq || (privileged && echo.ID != id) {
			continue
		}
		return time.Since(start), true, nil
	}
}

// Result renders the stats as a tool result.
func (s *PingStats) Result() map[string]any {
	res := map[string]any{
		"status":      "success",
		"host":        s.Host,
		"address":     s.Addr,
		"transmitted": s.Sent,
		"received":    s.Received,
		"packet_loss": 0.0,
	}
	if s.Sent > 0 {
		res["packet_loss"] = math.Round(float64(s.Sent-s.Received)/float64(s.Sent)*1000) / 10
	}
	if s.Received == 0 {
		res["status"] = "error"
		res["message"] = fmt.Sprintf("no reply from %s", s.Host)
		return res
	}

	rtts := make([]float64, len(s.RTTs))
	var sum, lo, hi float64
	for i, rtt := range s.RTTs {
		ms := float64(rtt.Microseconds()) / 1000
		rtts[i] = ms
		sum += ms
		if i == 0 || ms < lo {
			lo = ms
		}
		if ms > hi {
			hi = ms
		}
	}
	res["rtt_ms"] = rtts
	res["min_ms"] = lo
	res["max_ms"] = hi
	res["avg_ms"] = sum / float64(len(rtts))
	return res
}
