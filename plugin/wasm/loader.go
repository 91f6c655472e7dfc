// Package wasm runs WASM units built against the bare malloc/free ABI on
// wazero, and sniffs which ABI a module was compiled for.
package wasm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// ABI identifies the calling convention a module was compiled against.
type ABI int

const (
	// ABIUnknown modules export neither convention.
	ABIUnknown ABI = iota
	// ABIExtism modules import the Extism kernel and use its input/output calls.
	ABIExtism
	// ABIRaw modules export malloc, free and execute(ptr, len) -> (ptr, len).
	ABIRaw
)

func (a ABI) String() string {
	switch a {
	case ABIExtism:
		return "extism"
	case ABIRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// Sniff compiles data without instantiating it and reports its ABI.
func Sniff(ctx context.Context, data []byte) (ABI, error) {
	runtime := wazero.NewRuntime(ctx)
	defer runtime.Close(ctx)

	compiled, err := runtime.CompileModule(ctx, data)
	if err != nil {
		return ABIUnknown, fmt.Errorf("failed to compile WASM module: %w", err)
	}
	defer compiled.Close(ctx)

	for _, def := range compiled.ImportedFunctions() {
		module, _, _ := def.Import()
		if strings.HasPrefix(module, "extism:") {
			return ABIExtism, nil
		}
	}

	exports := compiled.ExportedFunctions()
	_, hasMalloc := exports["malloc"]
	_, hasFree := exports["free"]
	_, hasExecute := exports["execute"]
	if hasMalloc && hasFree && hasExecute {
		return ABIRaw, nil
	}
	return ABIExtism, nil
}

// Module is an instantiated raw-ABI module. Calls are serialized.
type Module struct {
	name         string
	runtime      wazero.Runtime
	instance     api.Module
	malloc       api.Function
	free         api.Function
	freeTakesLen bool

	mu sync.Mutex
}

// Load compiles and instantiates a raw-ABI module in its own WASI runtime.
func Load(ctx context.Context, data []byte, name string) (*Module, error) {
	runtime := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, data)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("failed to compile WASM module: %w", err)
	}

	instance, err := runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate module: %w", err)
	}

	m := &Module{
		name:     name,
		runtime:  runtime,
		instance: instance,
		malloc:   instance.ExportedFunction("malloc"),
		free:     instance.ExportedFunction("free"),
	}
	if m.malloc == nil || m.free == nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("WASM module %q must export malloc and free", name)
	}

	switch n := len(m.free.Definition().ParamTypes()); n {
	case 1:
	case 2:
		m.freeTakesLen = true
	default:
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("free function must accept 1 (ptr) or 2 (ptr,len) parameters, got %d", n)
	}
	return m, nil
}

// Close releases the module and its runtime.
func (m *Module) Close(ctx context.Context) error {
	return m.runtime.Close(ctx)
}

// Metadata returns the string exported by a no-argument (ptr, len) function,
// or fallback when the function is missing or fails.
func (m *Module) Metadata(ctx context.Context, export, fallback string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	fn := m.instance.ExportedFunction(export)
	if fn == nil {
		return fallback
	}
	results, err := fn.Call(ctx)
	if err != nil || len(results) < 2 {
		return fallback
	}
	out, err := m.read(uint32(results[0]), uint32(results[1]))
	if err != nil || len(out) == 0 {
		return fallback
	}
	return string(out)
}

// Execute passes input to execute(ptr, len) and returns the bytes it produced.
func (m *Module) Execute(ctx context.Context, input []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fn := m.instance.ExportedFunction("execute")
	if fn == nil {
		return nil, fmt.Errorf("execute function not found in WASM module %q", m.name)
	}

	ptr, size, err := m.write(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate memory for args: %w", err)
	}
	defer m.release(ctx, ptr, size)

	results, err := fn.Call(ctx, uint64(ptr), uint64(size))
	if err != nil {
		return nil, fmt.Errorf("failed to execute WASM function: %w", err)
	}
	if len(results) < 2 {
		return nil, fmt.Errorf("execute function returned %d results, expected (ptr, len)", len(results))
	}
	if results[0] == 0 && results[1] == 0 {
		return nil, fmt.Errorf("execute function returned null result")
	}
	return m.read(uint32(results[0]), uint32(results[1]))
}

func (m *Module) read(ptr, size uint32) ([]byte, error) {
	if ptr == 0 && size == 0 {
		return nil, nil
	}
	mem := m.instance.Memory()
	if mem == nil {
		return nil, fmt.Errorf("WASM module has no memory")
	}
	buf, ok := mem.Read(ptr, size)
	if !ok {
		return nil, fmt.Errorf("failed to read WASM memory at ptr=%d, len=%d", ptr, size)
	}
	// Read returns a view of guest memory; copy before the guest reuses it.
	return append([]byte(nil), buf...), nil
}

func (m *Module) write(ctx context.Context, data []byte) (uint32, uint32, error) {
	if len(data) == 0 {
		return 0, 0, nil
	}
	results, err := m.malloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, 0, fmt.Errorf("malloc failed: %w", err)
	}
	if len(results) == 0 || results[0] == 0 {
		return 0, 0, fmt.Errorf("malloc returned null pointer")
	}
	ptr := uint32(results[0])

	mem := m.instance.Memory()
	if mem == nil || !mem.Write(ptr, data) {
		m.release(ctx, ptr, uint32(len(data)))
		return 0, 0, fmt.Errorf("failed to write args to WASM memory")
	}
	return ptr, uint32(len(data)), nil
}

func (m *Module) release(ctx context.Context, ptr, size uint32) {
	if ptr == 0 {
		return
	}
	params := []uint64{uint64(ptr)}
	if m.freeTakesLen {
		params = append(params, uint64(size))
	}
	_, _ = m.free.Call(ctx, params...)
}
