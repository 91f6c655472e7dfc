// Package server binds loaded tools onto an MCP server.
//
// Every registry entry is adapted through the executor and registered with
// github.com/mark3labs/mcp-go under its exact name, with one input-schema
// property per declared parameter. The server keeps its own table of bound
// operations, which also backs in-process calls.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/joncooperworks/toolhost/executor"
	"github.com/joncooperworks/toolhost/plugin"
)

// Transports.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// ErrUnknownTool is returned by Call for names that were never bound.
var ErrUnknownTool = errors.New("unknown tool")

// Config describes the MCP server identity and transport.
type Config struct {
	Name      string
	Version   string
	Transport string
	// Addr is the listen address of the SSE transport.
	Addr string
	// BaseURL is the externally visible SSE URL. Defaults to http://<Addr>.
	BaseURL string
}

// Outcome summarizes a load-and-register cycle. It is informational only.
type Outcome struct {
	Units      int `json:"units"`
	Failed     int `json:"failed"`
	Empty      int `json:"empty"`
	Found      int `json:"found"`
	Bound      int `json:"bound"`
	BindFailed int `json:"bind_failed"`
}

type binding struct {
	op   *executor.Operation
	tool mcp.Tool
}

// Server owns the MCP server instance and the table of bound tools.
type Server struct {
	cfg    Config
	mcp    *mcpserver.MCPServer
	logger *slog.Logger
	execOp []executor.Option

	mu    sync.RWMutex
	bound map[string]*binding
	order []string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for registration and invocation records.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithObserver records every invocation of every bound tool.
func WithObserver(o executor.Observer) Option {
	return func(s *Server) { s.execOp = append(s.execOp, executor.WithObserver(o)) }
}

// New creates a server with no tools bound.
func New(cfg Config, opts ...Option) *Server {
	if cfg.Name == "" {
		cfg.Name = "toolhost"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Transport == "" {
		cfg.Transport = TransportStdio
	}
	s := &Server{
		cfg:    cfg,
		logger: slog.Default(),
		bound:  make(map[string]*binding),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mcp = mcpserver.NewMCPServer(cfg.Name, cfg.Version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)
	return s
}

// MCP returns the underlying mcp-go server.
func (s *Server) MCP() *mcpserver.MCPServer { return s.mcp }

// LoadAndRegister runs a load cycle over dir and binds the result.
func (s *Server) LoadAndRegister(ctx context.Context, loader *plugin.PluginLoader, dir string) Outcome {
	reg, report := loader.LoadAll(ctx, dir)
	out := s.RegisterAll(reg)
	out.Units = report.Discovered
	out.Failed = report.Failed
	out.Empty = report.Empty
	out.Found = report.Found
	return out
}

// RegisterAll adapts and binds every registry entry, in registry order.
//
// A tool that cannot be adapted or bound is logged and skipped. Binding a
// name that is already bound replaces it, so calling RegisterAll twice with
// the same registry leaves the same tool set.
func (s *Server) RegisterAll(reg *plugin.Registry) Outcome {
	var out Outcome
	if reg == nil {
		s.logger.Warn("no tool registry to register")
		return out
	}
	out.Found = reg.Len()

	for _, tool := range reg.Tools() {
		if err := s.register(tool); err != nil {
			out.BindFailed++
			s.logger.Error("failed to register tool", "tool", tool.Name, "unit", tool.Unit, "error", err)
			continue
		}
		out.Bound++
		s.logger.Info("registered tool", "tool", tool.Name)
	}

	s.logger.Info("tool registration complete", "bound", out.Bound, "total", out.Found, "failed", out.BindFailed)
	return out
}

func (s *Server) register(tool *plugin.Tool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while registering: %v", r)
			s.logger.Error("panic while registering tool", "tool", tool.Name, "trace", string(debug.Stack()))
		}
	}()

	op, err := executor.Adapt(tool, append([]executor.Option{executor.WithLogger(s.logger)}, s.execOp...)...)
	if err != nil {
		return err
	}
	def, err := Definition(op)
	if err != nil {
		return err
	}

	s.mcp.AddTool(def, s.handler(op))

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bound[def.Name]; !exists {
		s.order = append(s.order, def.Name)
	}
	s.bound[def.Name] = &binding{op: op, tool: def}
	return nil
}

func (s *Server) handler(op *executor.Operation) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return ToolResult(op.Invoke(ctx, req.GetArguments())), nil
	}
}

// Call invokes a bound tool in-process, exactly as an MCP client would.
func (s *Server) Call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	s.mu.RLock()
	b, ok := s.bound[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return ToolResult(b.op.Invoke(ctx, args)), nil
}

// Tools returns the bound tool definitions in registration order.
func (s *Server) Tools() []mcp.Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tools := make([]mcp.Tool, 0, len(s.order))
	for _, name := range s.order {
		tools = append(tools, s.bound[name].tool)
	}
	return tools
}

// ToolResult converts an invocation result to MCP content. Failures are the
// JSON failure object with IsError set; values are JSON text, except strings,
// which are passed through as-is.
func ToolResult(res executor.Result) *mcp.CallToolResult {
	if !res.OK() {
		return failureResult(res.Failure)
	}
	if s, ok := res.Value.(string); ok {
		return mcp.NewToolResultText(s)
	}
	data, err := json.Marshal(res.Value)
	if err != nil {
		return failureResult(&executor.Failure{
			Status:  executor.StatusError,
			Message: "failed to encode result: " + err.Error(),
		})
	}
	return mcp.NewToolResultText(string(data))
}

func failureResult(f *executor.Failure) *mcp.CallToolResult {
	data, _ := json.Marshal(f)
	return mcp.NewToolResultError(string(data))
}

// Serve runs the configured transport until ctx is done or the transport fails.
func (s *Server) Serve(ctx context.Context) error {
	switch s.cfg.Transport {
	case TransportStdio:
		stdio := mcpserver.NewStdioServer(s.mcp)
		stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
		s.logger.Info("serving MCP over stdio", "tools", len(s.Tools()))
		err := stdio.Listen(ctx, os.Stdin, os.Stdout)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("stdio transport failed: %w", err)
		}
		return nil

	case TransportSSE:
		if s.cfg.Addr == "" {
			return errors.New("sse transport requires an address")
		}
		baseURL := s.cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://" + s.cfg.Addr
		}
		sse := mcpserver.NewSSEServer(s.mcp, mcpserver.WithBaseURL(baseURL))
		go func() {
			<-ctx.Done()
			_ = sse.Shutdown(context.Background())
		}()
		s.logger.Info("serving MCP over SSE", "addr", s.cfg.Addr, "tools", len(s.Tools()))
		if err := sse.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("sse transport failed: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unsupported transport %q", s.cfg.Transport)
	}
}
