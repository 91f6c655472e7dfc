// Command toolhost loads tool units from a plugin directory and serves them
// to MCP clients over stdio or SSE.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joncooperworks/toolhost/config"
	"github.com/joncooperworks/toolhost/crypto"
	"github.com/joncooperworks/toolhost/crypto/keystore"
	"github.com/joncooperworks/toolhost/history"
	"github.com/joncooperworks/toolhost/plugin"
	"github.com/joncooperworks/toolhost/server"

	_ "github.com/joncooperworks/toolhost/tools/netscan"
	_ "github.com/joncooperworks/toolhost/tools/recon"
)

var version = "dev"

func main() {
	var (
		configPath = flag.String("config", "", "Path to config file (defaults to the standard search locations)")
		pluginDir  = flag.String("plugins", "", "Plugin directory (overrides config)")
		transport  = flag.String("transport", "", "MCP transport: stdio or sse (overrides config)")
		addr       = flag.String("addr", "", "Listen address for the sse transport (overrides config)")
		policy     = flag.String("policy", "", "Classification policy: permissive or strict (overrides config)")
		historyDB  = flag.String("history", "", "Path to invocation history database (overrides config)")
		list       = flag.Bool("list", false, "Print the loaded tool definitions as JSON and exit")
	)
	flag.Parse()

	cfg, path, err := config.LoadExplicit(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	override(&cfg.Plugins.Dir, *pluginDir)
	override(&cfg.Server.Transport, *transport)
	override(&cfg.Server.Addr, *addr)
	override(&cfg.Plugins.Policy, *policy)
	override(&cfg.History.Path, *historyDB)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.Log.Logger(os.Stderr)
	slog.SetDefault(logger)
	if path != "" {
		logger.Info("loaded config", "path", path)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *list); err != nil {
		logger.Error("toolhost failed", "error", err)
		os.Exit(1)
	}
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, list bool) error {
	exportToolsPath(cfg, logger)
	installSecrets(cfg, logger)

	opts := []plugin.Option{
		plugin.WithLogger(logger),
		plugin.WithBuiltins(cfg.BuiltinsEnabled()),
		plugin.WithClassifier(classifier(cfg.Plugins)),
	}
	if len(cfg.Plugins.TrustedKeys) > 0 {
		verifier, err := crypto.LoadVerifier(cfg.Plugins.TrustedKeys...)
		if err != nil {
			return fmt.Errorf("failed to load trusted keys: %w", err)
		}
		opts = append(opts, plugin.WithVerifier(verifier))
	}
	loader := plugin.NewPluginLoader(opts...)
	defer loader.Close()

	srvOpts := []server.Option{server.WithLogger(logger)}
	if cfg.History.Path != "" && !list {
		store, err := history.Open(cfg.History.Path, history.WithLogger(logger))
		if err != nil {
			return err
		}
		defer store.Close()
		if retention := time.Duration(cfg.History.Retention); retention > 0 {
			n, err := store.Prune(ctx, time.Now().Add(-retention))
			if err != nil {
				logger.Warn("failed to prune history", "error", err)
			} else if n > 0 {
				logger.Info("pruned history", "records", n, "retention", retention.String())
			}
		}
		srvOpts = append(srvOpts, server.WithObserver(store))
	}

	srv := server.New(server.Config{
		Name:      cfg.Server.Name,
		Version:   version,
		Transport: cfg.Server.Transport,
		Addr:      cfg.Server.Addr,
		BaseURL:   cfg.Server.BaseURL,
	}, srvOpts...)

	outcome := srv.LoadAndRegister(ctx, loader, cfg.Plugins.Dir)
	logger.Info("load cycle complete",
		"units", outcome.Units,
		"failed", outcome.Failed,
		"empty", outcome.Empty,
		"bound", outcome.Bound,
		"bind_failed", outcome.BindFailed,
	)

	if list {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(srv.Tools())
	}
	return srv.Serve(ctx)
}

func classifier(pc config.PluginsConfig) plugin.Classifier {
	c := plugin.NewClassifier(plugin.ParsePolicy(pc.Policy))
	if len(pc.Keywords) > 0 {
		c.Keywords = pc.Keywords
	}
	return c
}

// exportToolsPath publishes the scanner tool tree to command units. Units
// that do not reference it still load when it cannot be found.
func exportToolsPath(cfg *config.Config, logger *slog.Logger) {
	var probes []string
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		probes = append(probes,
			filepath.Join(dir, "application_security_tools"),
			filepath.Join(dir, "..", "application_security_tools"),
		)
	}
	probes = append(probes, "application_security_tools")

	toolsPath, err := config.ResolveToolsPath(cfg.ToolsPath, probes...)
	if err != nil {
		logger.Warn("scanner tools not found", "error", err)
		return
	}
	if err := os.Setenv(config.EnvToolsPath, toolsPath); err != nil {
		logger.Warn("failed to export tools path", "error", err)
		return
	}
	logger.Info("using scanner tools", "path", toolsPath)
}

// installSecrets resolves "secret:" references in command units from the
// keystore, falling back to the environment.
func installSecrets(cfg *config.Config, logger *slog.Logger) {
	ks, err := cfg.OpenKeystore()
	if err != nil {
		logger.Warn("keystore unavailable, secrets resolve from the environment only",
			"backend", cfg.Keystore.Backend, "error", err)
		plugin.SetSecretSource(plugin.EnvSecrets{})
		return
	}
	secrets := keystore.NewSecrets(ks)
	secrets.Fallback = plugin.EnvSecrets{}
	plugin.SetSecretSource(secrets)
}
