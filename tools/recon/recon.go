// Package recon provides the builtin network reconnaissance tools:
// ping_host, nslookup and the two example tools.
//
// The package registers itself as the "recon" builtin unit, so importing it
// for side effects is enough to expose its tools:
//
//	import _ "github.com/joncooperworks/toolhost/tools/recon"
package recon

import (
	"context"

	"github.com/joncooperworks/toolhost/plugin"
)

// UnitName is the builtin unit name.
const UnitName = "recon"

func init() {
	plugin.RegisterBuiltin(UnitName, Tools)
}

// Tools returns the recon tools.
func Tools() []*plugin.Tool {
	return []*plugin.Tool{
		{
			Name:        "ping_host",
			Description: "Ping a host to check network connectivity using ICMP echo requests.",
			Params: []plugin.Param{
				{Name: "host", Type: plugin.TypeString, Required: true, Description: "Hostname or IP address to ping"},
				{Name: "count", Type: plugin.TypeInteger, Default: DefaultPingCount, Description: "Number of echo requests to send"},
				{Name: "timeout", Type: plugin.TypeInteger, Default: DefaultPingTimeout, Description: "Seconds to wait for each reply"},
			},
			Marked: true,
			Func:   pingHost,
		},
		{
			Name:        "nslookup",
			Description: "Perform a DNS lookup for a domain.",
			Params: []plugin.Param{
				{Name: "domain", Type: plugin.TypeString, Required: true, Description: "Domain name to look up"},
				{Name: "record_type", Type: plugin.TypeString, Default: "A", Description: "DNS record type (A, AAAA, MX, NS, TXT, ...)"},
				{Name: "server", Type: plugin.TypeString, Description: "Resolver address (host or host:port); defaults to the system resolver"},
			},
			Marked: true,
			Func:   nslookup,
		},
		{
			Name:        "example_ping_check",
			Description: "Example tool that checks if a host is reachable.",
			Params: []plugin.Param{
				{Name: "host", Type: plugin.TypeString, Required: true, Description: "Hostname or IP address"},
				{Name: "count", Type: plugin.TypeInteger, Default: DefaultPingCount, Description: "Number of pings"},
			},
			Func: examplePingCheck,
		},
		{
			Name:        "example_async_tool",
			Description: "Example async tool.",
			Params: []plugin.Param{
				{Name: "query", Type: plugin.TypeString, Required: true, Description: "Query string"},
			},
			Mode: plugin.Async,
			Start: func(ctx context.Context, args plugin.Args) plugin.Future {
				return plugin.Go(ctx, args, exampleAsync)
			},
		},
	}
}
