package plugin

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	extism "github.com/extism/go-sdk"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

const (
	hostIOTimeout   = 5 * time.Second
	hostHTTPTimeout = 10 * time.Second
	// maxHTTPBody bounds the response body copied into guest memory.
	maxHTTPBody = 16 << 20
)

// hostNet backs the networking host functions of one Extism module.
// Connections are private to the module and closed with it.
type hostNet struct {
	mu    sync.Mutex
	conns map[uint32]net.Conn
	next  uint32
}

func newHostNet() *hostNet {
	return &hostNet{conns: make(map[uint32]net.Conn)}
}

func (h *hostNet) store(conn net.Conn) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	// 0 is reserved for errors.
	if h.next == math.MaxUint32 {
		h.next = 0
	}
	h.next++
	h.conns[h.next] = conn
	return h.next
}

func (h *hostNet) lookup(id uint32, network string) (net.Conn, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn, ok := h.conns[id]
	if !ok || conn.LocalAddr().Network() != network {
		return nil, false
	}
	return conn, true
}

func (h *hostNet) remove(id uint32) net.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn := h.conns[id]
	delete(h.conns, id)
	return conn
}

func (h *hostNet) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.conns {
		_ = conn.Close()
		delete(h.conns, id)
	}
}

// functions returns the host functions imported from the "env" namespace.
// Their signatures are part of the guest ABI and must not change.
func (h *hostNet) functions() []extism.HostFunction {
	var fns []extism.HostFunction
	for _, network := range []string{"tcp", "udp"} {
		fns = append(fns,
			h.connectFunc(network),
			h.sendFunc(network),
			h.recvFunc(network),
			h.closeFunc(network),
		)
	}
	return append(fns, icmpSendFunc(), icmpRecvFunc(), httpRequestFunc())
}

func hostFunc(name string, params, results []extism.ValueType, fn extism.HostFunctionStackCallback) extism.HostFunction {
	f := extism.NewHostFunctionWithStack(name, fn, params, results)
	f.SetNamespace("env")
	return f
}

func hostLogf(p *extism.CurrentPlugin, level extism.LogLevel, format string, args ...any) {
	p.Log(level, fmt.Sprintf(format, args...))
}

// connectFunc: (addr_offset i64) -> conn_id i32
func (h *hostNet) connectFunc(network string) extism.HostFunction {
	name := network + "_connect"
	return hostFunc(name,
		[]extism.ValueType{extism.ValueTypeI64},
		[]extism.ValueType{extism.ValueTypeI32},
		func(ctx context.Context, p *extism.CurrentPlugin, stack []uint64) {
			addr, err := p.ReadString(stack[0])
			stack[0] = 0
			if err != nil {
				hostLogf(p, extism.LogLevelError, "%s: failed to read address: %v", name, err)
				return
			}
			dialer := net.Dialer{Timeout: hostIOTimeout}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				hostLogf(p, extism.LogLevelError, "%s: failed to connect to %s: %v", name, addr, err)
				return
			}
			id := h.store(conn)
			stack[0] = uint64(id)
			hostLogf(p, extism.LogLevelDebug, "%s: connected to %s (conn_id=%d)", name, addr, id)
		},
	)
}

// sendFunc: (conn_id i32, data_offset i64, data_len i64) -> bytes_sent i32
func (h *hostNet) sendFunc(network string) extism.HostFunction {
	name := network + "_send"
	return hostFunc(name,
		[]extism.ValueType{extism.ValueTypeI32, extism.ValueTypeI64, extism.ValueTypeI64},
		[]extism.ValueType{extism.ValueTypeI32},
		func(_ context.Context, p *extism.CurrentPlugin, stack []uint64) {
			id, offset, length := uint32(stack[0]), stack[1], stack[2]
			stack[0] = 0
			conn, ok := h.lookup(id, network)
			if !ok {
				hostLogf(p, extism.LogLevelError, "%s: invalid connection ID %d", name, id)
				return
			}
			data, err := p.ReadBytes(offset)
			if err != nil {
				hostLogf(p, extism.LogLevelError, "%s: failed to read data: %v", name, err)
				return
			}
			if uint64(len(data)) > length {
				data = data[:length]
			}
			_ = conn.SetWriteDeadline(time.Now().Add(hostIOTimeout))
			n, err := conn.Write(data)
			if err != nil {
				hostLogf(p, extism.LogLevelError, "%s: failed to send data: %v", name, err)
				return
			}
			stack[0] = uint64(n)
		},
	)
}

// recvFunc: (conn_id i32, max_len i32) -> data_offset i64. A read timeout
// returns 0 without logging.
func (h *hostNet) recvFunc(network string) extism.HostFunction {
	name := network + "_recv"
	return hostFunc(name,
		[]extism.ValueType{extism.ValueTypeI32, extism.ValueTypeI32},
		[]extism.ValueType{extism.ValueTypeI64},
		func(_ context.Context, p *extism.CurrentPlugin, stack []uint64) {
			id, maxLen := uint32(stack[0]), uint32(stack[1])
			stack[0] = 0
			conn, ok := h.lookup(id, network)
			if !ok {
				hostLogf(p, extism.LogLevelError, "%s: invalid connection ID %d", name, id)
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(hostIOTimeout))
			buf := make([]byte, maxLen)
			n, err := conn.Read(buf)
			if err != nil {
				var netErr net.Error
				if !errors.As(err, &netErr) || !netErr.Timeout() {
					hostLogf(p, extism.LogLevelError, "%s: failed to receive data: %v", name, err)
				}
				return
			}
			offset, err := p.WriteBytes(buf[:n])
			if err != nil {
				hostLogf(p, extism.LogLevelError, "%s: failed to write to plugin memory: %v", name, err)
				return
			}
			stack[0] = offset
		},
	)
}

// closeFunc: (conn_id i32) -> ()
func (h *hostNet) closeFunc(network string) extism.HostFunction {
	name := network + "_close"
	return hostFunc(name,
		[]extism.ValueType{extism.ValueTypeI32},
		[]extism.ValueType{},
		func(_ context.Context, p *extism.CurrentPlugin, stack []uint64) {
			id := uint32(stack[0])
			if _, ok := h.lookup(id, network); !ok {
				hostLogf(p, extism.LogLevelWarn, "%s: invalid connection ID %d", name, id)
				return
			}
			_ = h.remove(id).Close()
		},
	)
}

// icmpSendFunc: (target_offset i64, payload_offset i64, payload_len i64, seq i32) -> ok i32
func icmpSendFunc() extism.HostFunction {
	return hostFunc("icmp_send",
		[]extism.ValueType{extism.ValueTypeI64, extism.ValueTypeI64, extism.ValueTypeI64, extism.ValueTypeI32},
		[]extism.ValueType{extism.ValueTypeI32},
		func(_ context.Context, p *extism.CurrentPlugin, stack []uint64) {
			targetOffset, payloadOffset, payloadLen, seq := stack[0], stack[1], stack[2], int(uint16(stack[3]))
			stack[0] = 0
			target, err := p.ReadString(targetOffset)
			if err != nil {
				hostLogf(p, extism.LogLevelError, "icmp_send: failed to read target: %v", err)
				return
			}
			payload, err := p.ReadBytes(payloadOffset)
			if err != nil {
				hostLogf(p, extism.LogLevelError, "icmp_send: failed to read payload: %v", err)
				return
			}
			if uint64(len(payload)) > payloadLen {
				payload = payload[:payloadLen]
			}
			if err := sendEcho(target, seq, payload); err != nil {
				hostLogf(p, extism.LogLevelError, "icmp_send: %v", err)
				return
			}
			stack[0] = 1
		},
	)
}

func sendEcho(target string, seq int, payload []byte) error {
	addr, err := net.ResolveIPAddr("ip4", target)
	if err != nil {
		return fmt.Errorf("failed to resolve target %s: %w", target, err)
	}
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Body: &icmp.Echo{ID: 1, Seq: seq, Data: payload},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return fmt.Errorf("failed to marshal ICMP message: %w", err)
	}
	conn, err := net.DialIP("ip4:icmp", nil, addr)
	if err != nil {
		return fmt.Errorf("failed to dial ICMP: %w", err)
	}
	defer conn.Close()
	_ = conn.SetWriteDeadline(time.Now().Add(hostIOTimeout))
	if _, err := conn.Write(wire); err != nil {
		return fmt.Errorf("failed to send ICMP packet: %w", err)
	}
	return nil
}

// icmpRecvFunc: (timeout_ms i32) -> json_offset i64
func icmpRecvFunc() extism.HostFunction {
	return hostFunc("icmp_recv",
		[]extism.ValueType{extism.ValueTypeI32},
		[]extism.ValueType{extism.ValueTypeI64},
		func(_ context.Context, p *extism.CurrentPlugin, stack []uint64) {
			timeout := time.Duration(uint32(stack[0])) * time.Millisecond
			stack[0] = 0
			reply, err := recvICMP(timeout)
			if err != nil {
				var netErr net.Error
				if !errors.As(err, &netErr) || !netErr.Timeout() {
					hostLogf(p, extism.LogLevelError, "icmp_recv: %v", err)
				}
				return
			}
			offset, err := p.WriteBytes(reply)
			if err != nil {
				hostLogf(p, extism.LogLevelError, "icmp_recv: failed to write to plugin memory: %v", err)
				return
			}
			stack[0] = offset
		},
	)
}

func recvICMP(timeout time.Duration) ([]byte, error) {
	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))

	buf := make([]byte, 1500)
	n, peer, err := conn.ReadFrom(buf)
	if err != nil {
		return nil, err
	}
	msg, err := icmp.ParseMessage(ipv4.ICMPTypeEcho.Protocol(), buf[:n])
	if err != nil {
		return nil, fmt.Errorf("failed to parse ICMP message: %w", err)
	}

	reply := map[string]any{
		"source": peer.String(),
		"code":   msg.Code,
		"type":   0,
		"data":   []byte{},
	}
	if t, ok := msg.Type.(ipv4.ICMPType); ok {
		reply["type"] = int(t)
	}
	if echo, ok := msg.Body.(*icmp.Echo); ok {
		reply["id"] = echo.ID
		reply["seq"] = echo.Seq
		reply["data"] = echo.Data
	}
	return json.Marshal(reply)
}

// httpRequestFunc: (method i64, url i64, headers i64, body i64) -> json_offset i64.
// Headers are a JSON array of "Name: value" strings; the reply carries
// status, headers and a base64 body.
func httpRequestFunc() extism.HostFunction {
	return hostFunc("http_request",
		[]extism.ValueType{extism.ValueTypeI64, extism.ValueTypeI64, extism.ValueTypeI64, extism.ValueTypeI64},
		[]extism.ValueType{extism.ValueTypeI64},
		func(ctx context.Context, p *extism.CurrentPlugin, stack []uint64) {
			offsets := [4]uint64{stack[0], stack[1], stack[2], stack[3]}
			stack[0] = 0

			var fields [4][]byte
			for i, off := range offsets {
				if off == 0 {
					continue
				}
				b, err := p.ReadBytes(off)
				if err != nil {
					hostLogf(p, extism.LogLevelError, "http_request: failed to read argument %d: %v", i, err)
					return
				}
				fields[i] = b
			}

			reply, err := doHostRequest(ctx, string(fields[0]), string(fields[1]), fields[2], fields[3])
			if err != nil {
				hostLogf(p, extism.LogLevelError, "http_request: %v", err)
				return
			}
			offset, err := p.WriteBytes(reply)
			if err != nil {
				hostLogf(p, extism.LogLevelError, "http_request: failed to write to plugin memory: %v", err)
				return
			}
			stack[0] = offset
		},
	)
}

func doHostRequest(ctx context.Context, method, url string, headersJSON, body []byte) ([]byte, error) {
	var headers []string
	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &headers); err != nil {
			return nil, fmt.Errorf("failed to parse headers JSON: %w", err)
		}
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = strings.NewReader(string(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for _, h := range headers {
		if name, value, ok := strings.Cut(h, ":"); ok && name != "" {
			req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
		}
	}

	client := &http.Client{Timeout: hostHTTPTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return json.Marshal(map[string]any{
		"status":  resp.StatusCode,
		"headers": resp.Header,
		"body":    base64.StdEncoding.EncodeToString(respBody),
	})
}
