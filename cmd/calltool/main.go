// Command calltool runs one load cycle and invokes a single tool in-process,
// printing the MCP result. It is the quickest way to try a new unit without
// an MCP client.
//
//	calltool -plugins ./plugins -tool ping_host -args '{"host":"127.0.0.1","count":1}'
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joncooperworks/toolhost/plugin"
	"github.com/joncooperworks/toolhost/server"

	_ "github.com/joncooperworks/toolhost/tools/netscan"
	_ "github.com/joncooperworks/toolhost/tools/recon"
)

func main() {
	var (
		pluginDir = flag.String("plugins", "./plugins", "Plugin directory")
		toolName  = flag.String("tool", "", "Tool to invoke (required)")
		argsJSON  = flag.String("args", "{}", "JSON object of tool arguments")
		verbose   = flag.Bool("v", false, "Log load progress to stderr")
	)
	flag.Parse()

	if *toolName == "" {
		fmt.Fprintf(os.Stderr, "Error: -tool is required\n")
		os.Exit(1)
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(*argsJSON), &args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid JSON in -args: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	plugin.SetSecretSource(plugin.EnvSecrets{})

	ctx := context.Background()
	loader := plugin.NewPluginLoader(plugin.WithLogger(logger))
	defer loader.Close()

	srv := server.New(server.Config{}, server.WithLogger(logger))
	srv.LoadAndRegister(ctx, loader, *pluginDir)

	result, err := srv.Call(ctx, *toolName, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	resultJSON, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal result: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(resultJSON))
	if result.IsError {
		os.Exit(1)
	}
}
