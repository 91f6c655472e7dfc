package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/joncooperworks/toolhost/executor"
	"github.com/joncooperworks/toolhost/plugin"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_AddAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	id, err := store.Add(ctx, executor.Invocation{
		ID:       "inv-1",
		Tool:     "ping_host",
		Args:     plugin.Args{"host": "10.0.0.1", "count": 4},
		Started:  started,
		Duration: 1500 * time.Millisecond,
		Status:   executor.StatusSuccess,
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if id != "inv-1" {
		t.Errorf("id = %q, want inv-1", id)
	}

	r, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if r.Tool != "ping_host" || r.Status != "success" || r.Duration != 1500*time.Millisecond {
		t.Errorf("record = %+v", r)
	}
	if !r.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", r.StartedAt, started)
	}
	if r.Args["host"] != "10.0.0.1" || r.Args["count"] != float64(4) {
		t.Errorf("Args = %v", r.Args)
	}

	if _, err := store.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(nope) error = %v, want ErrNotFound", err)
	}
}

func TestStore_AddGeneratesID(t *testing.T) {
	store := newTestStore(t)
	id, err := store.Add(context.Background(), executor.Invocation{Tool: "t", Status: "success", Started: time.Now()})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(id) != 36 {
		t.Errorf("generated id = %q, want a UUID", id)
	}
	if _, err := store.Add(context.Background(), executor.Invocation{ID: id, Tool: "t", Status: "success"}); err == nil {
		t.Error("duplicate id error = nil")
	}
}

func TestStore_ListStatsPrune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	invocations := []executor.Invocation{
		{Tool: "nslookup", Status: "success", Duration: 10 * time.Millisecond, Started: base},
		{Tool: "nslookup", Status: "error", Message: "timeout", Duration: 30 * time.Millisecond, Started: base.Add(time.Hour)},
		{Tool: "port_scan", Status: "success", Duration: time.Second, Started: base.Add(2 * time.Hour)},
	}
	for _, inv := range invocations {
		if _, err := store.Add(ctx, inv); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.List(ctx, Query{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[0].Tool != "port_scan" {
		t.Errorf("List() = %d records, first %v; want newest first", len(all), all[0].Tool)
	}

	tests := []struct {
		name string
		q    Query
		want int
	}{
		{"by tool", Query{Tool: "nslookup"}, 2},
		{"by status", Query{Status: "error"}, 1},
		{"since", Query{Since: base.Add(30 * time.Minute)}, 2},
		{"limit", Query{Limit: 1}, 1},
	}
	for _, tt := range tests {
		got, err := store.List(ctx, tt.q)
		if err != nil || len(got) != tt.want {
			t.Errorf("%s: List() = %d, %v; want %d", tt.name, len(got), err, tt.want)
		}
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) != 2 || stats[0].Tool != "nslookup" || stats[0].Calls != 2 || stats[0].Failures != 1 {
		t.Fatalf("Stats() = %+v", stats)
	}
	if stats[0].AvgDuration != 20*time.Millisecond {
		t.Errorf("AvgDuration = %v, want 20ms", stats[0].AvgDuration)
	}

	n, err := store.Prune(ctx, base.Add(90*time.Minute))
	if err != nil || n != 2 {
		t.Errorf("Prune() = %d, %v; want 2", n, err)
	}
	if rest, _ := store.List(ctx, Query{}); len(rest) != 1 {
		t.Errorf("after Prune %d records remain, want 1", len(rest))
	}
}

func TestStore_ObservesOperations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	op, err := executor.Adapt(&plugin.Tool{
		Name:   "nikto_scan",
		Params: []plugin.Param{{Name: "target", Type: plugin.TypeString, Required: true}},
		Func: func(_ context.Context, args plugin.Args) (any, error) {
			return "scanned " + args.GetString("target", ""), nil
		},
	}, executor.WithObserver(store), executor.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatal(err)
	}

	op.Invoke(ctx, plugin.Args{"target": "https://example.test"})
	op.Invoke(ctx, plugin.Args{})

	records, err := store.List(ctx, Query{Tool: "nikto_scan"})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("recorded %d invocations, want 2", len(records))
	}
	statuses := map[string]int{}
	for _, r := range records {
		statuses[r.Status]++
		if r.ID == "" {
			t.Error("record without id")
		}
	}
	if statuses["success"] != 1 || statuses["error"] != 1 {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestStore_ObserveAfterCloseDoesNotPanic(t *testing.T) {
	store := newTestStore(t)
	store.Close()
	store.Observe(context.Background(), executor.Invocation{Tool: "t", Status: "success"})
}
