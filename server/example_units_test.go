package server_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/joncooperworks/toolhost/plugin"
	"github.com/joncooperworks/toolhost/server"
	"github.com/joncooperworks/toolhost/tools/netscan"
	"github.com/joncooperworks/toolhost/tools/recon"
)

// TestExampleUnits loads the shipped example units together with the
// builtin units under the strict policy, the way toolhost runs them.
func TestExampleUnits(t *testing.T) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	loader := plugin.NewPluginLoader(
		plugin.WithLogger(quiet),
		plugin.WithClassifier(plugin.NewClassifier(plugin.Strict)),
	)
	defer loader.Close()

	s := server.New(server.Config{}, server.WithLogger(quiet))
	out := s.LoadAndRegister(context.Background(), loader, "../examples/plugins")
	if out.Failed != 0 || out.BindFailed != 0 {
		t.Fatalf("Outcome = %+v, want no failures", out)
	}

	bound := make(map[string]mcp.Tool)
	for _, tool := range s.Tools() {
		bound[tool.Name] = tool
	}
	for _, name := range []string{
		"ping_host", "nslookup", "example_ping_check", "example_async_tool", "port_scan",
		"trivy_scan_container", "grype_scan_container", "semgrep_scan_repository",
		"trufflehog_scan_repository", "nikto_scan_website", "zap_baseline_scan",
	} {
		if _, ok := bound[name]; !ok {
			t.Errorf("tool %q not bound", name)
		}
	}
	if len(recon.Tools())+len(netscan.Tools()) > out.Bound {
		t.Errorf("Bound = %d, fewer than the builtin tools", out.Bound)
	}

	nikto := bound["nikto_scan_website"]
	if got := nikto.InputSchema.Required; len(got) != 1 || got[0] != "target_url" {
		t.Errorf("nikto required = %v, want [target_url]", got)
	}

	res, err := s.Call(context.Background(), "example_ping_check", map[string]any{"host": "192.0.2.1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("example_ping_check returned an error result: %+v", res.Content)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(res.Content[0].(mcp.TextContent).Text), &got); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if got["host"] != "192.0.2.1" || got["status"] != "success" {
		t.Errorf("example_ping_check = %v", got)
	}
}
