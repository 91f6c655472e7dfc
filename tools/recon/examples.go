package recon

import (
	"context"
	"errors"
	"time"

	"github.com/joncooperworks/toolhost/plugin"
)

// exampleDelay is how long example_async_tool pretends to work.
var exampleDelay = 100 * time.Millisecond

func examplePingCheck(_ context.Context, args plugin.Args) (any, error) {
	host := args.GetString("host", "")
	if host == "" {
		return nil, errors.New("host cannot be empty")
	}
	count, err := args.GetInt("count", DefaultPingCount)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"status":  "success",
		"host":    host,
		"message": "This is an example tool. Use ping_host for an actual ping.",
		"count":   count,
	}, nil
}

func exampleAsync(ctx context.Context, args plugin.Args) (any, error) {
	query := args.GetString("query", "")
	select {
	case <-time.After(exampleDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return map[string]any{
		"status": "success",
		"query":  query,
		"result": "Processed: " + query,
	}, nil
}
