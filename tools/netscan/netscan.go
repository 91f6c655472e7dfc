// Package netscan provides the port_scan builtin tool, an nmap wrapper.
package netscan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"

	"github.com/joncooperworks/toolhost/plugin"
)

// UnitName is the builtin unit name.
const UnitName = "netscan"

const (
	// DefaultPorts are the ports scanned when none are given.
	DefaultPorts = "22,25,53,80,443,445,3389,5432,5900,6443,8080,8443,9090,9100"
	// DefaultTimeout bounds one scan, in seconds.
	DefaultTimeout = 300
)

func init() {
	plugin.RegisterBuiltin(UnitName, Tools)
}

// Tools returns the netscan tools.
func Tools() []*plugin.Tool {
	return []*plugin.Tool{{
		Name:        "port_scan",
		Description: "Scan a host or network range for open ports with nmap (recon).",
		Params: []plugin.Param{
			{Name: "target", Type: plugin.TypeString, Required: true, Description: "Host, IP address or CIDR range to scan"},
			{Name: "ports", Type: plugin.TypeString, Default: DefaultPorts, Description: "Port list or ranges, e.g. 22,80,8000-8100"},
			{Name: "service_detection", Type: plugin.TypeBoolean, Default: true, Description: "Probe open ports for service and version"},
			{Name: "skip_host_discovery", Type: plugin.TypeBoolean, Default: false, Description: "Treat every target as up"},
			{Name: "timeout", Type: plugin.TypeInteger, Default: DefaultTimeout, Description: "Scan timeout in seconds"},
		},
		Mode:   plugin.Async,
		Marked: true,
		Start: func(ctx context.Context, args plugin.Args) plugin.Future {
			return plugin.Go(ctx, args, portScan)
		},
	}}
}

// Options configures one scan.
type Options struct {
	Target            string
	Ports             string
	ServiceDetection  bool
	SkipHostDiscovery bool
	Timeout           time.Duration
}

func optionsFromArgs(args plugin.Args) (Options, error) {
	opts := Options{
		Target: strings.TrimSpace(args.GetString("target", "")),
		Ports:  strings.TrimSpace(args.GetString("ports", DefaultPorts)),
	}
	if opts.Target == "" {
		return opts, errors.New("target cannot be empty")
	}
	for _, field := range strings.Fields(opts.Target) {
		if strings.HasPrefix(field, "-") {
			return opts, fmt.Errorf("invalid target %q", field)
		}
	}
	if strings.HasPrefix(opts.Ports, "-") || strings.ContainsAny(opts.Ports, " \t") {
		return opts, fmt.Errorf("invalid port specification %q", opts.Ports)
	}

	var err error
	if opts.ServiceDetection, err = args.GetBool("service_detection", true); err != nil {
		return opts, err
	}
	if opts.SkipHostDiscovery, err = args.GetBool("skip_host_discovery", false); err != nil {
		return opts, err
	}
	timeout, err := args.GetInt("timeout", DefaultTimeout)
	if err != nil {
		return opts, err
	}
	if timeout < 1 {
		return opts, fmt.Errorf("timeout must be positive, got %d", timeout)
	}
	opts.Timeout = time.Duration(timeout) * time.Second
	return opts, nil
}

func portScan(ctx context.Context, args plugin.Args) (any, error) {
	opts, err := optionsFromArgs(args)
	if err != nil {
		return nil, err
	}
	return Scan(ctx, opts)
}

// Scan runs nmap against opts.Target and converts the report.
func Scan(ctx context.Context, opts Options) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	nmapOpts := []nmap.Option{
		nmap.WithTargets(strings.Fields(opts.Target)...),
		nmap.WithPorts(opts.Ports),
	}
	if opts.ServiceDetection {
		nmapOpts = append(nmapOpts, nmap.WithServiceInfo())
	}
	if opts.SkipHostDiscovery {
		nmapOpts = append(nmapOpts, nmap.WithSkipHostDiscovery())
	}

	scanner, err := nmap.NewScanner(ctx, nmapOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scanner: %w", err)
	}
	result, warnings, err := scanner.Run()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("scan of %s timed out after %s: %w", opts.Target, opts.Timeout, ctx.Err())
		}
		return nil, fmt.Errorf("scan of %s failed: %w", opts.Target, err)
	}

	report, err := convert(opts.Target, result)
	if err != nil {
		return nil, err
	}
	if warnings != nil {
		report.Warnings = append(report.Warnings, *warnings...)
	}
	return report, nil
}
