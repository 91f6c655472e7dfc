package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	extism "github.com/extism/go-sdk"

	"github.com/joncooperworks/toolhost/plugin/wasm"
)

// KindWASM is the unit kind of WebAssembly units.
const KindWASM = "wasm"

func init() {
	RegisterLoader(KindWASM, func() (Loader, error) {
		return NewWASMLoader()
	}, ".wasm")
}

// wasmDescriptor is one entry of the JSON list returned by a unit's
// describe export. Each entry names an export called with JSON arguments.
type wasmDescriptor struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"params"`
	Async       bool    `json:"async"`
	Tool        bool    `json:"tool"`
	Variadic    bool    `json:"variadic"`
}

// WASMLoader loads WASM units.
//
// Extism modules may export describe, returning a JSON list of tools, or the
// single-tool name/description/json_schema/execute set. Modules compiled for
// the bare malloc/free ABI are run directly on wazero.
type WASMLoader struct{}

// NewWASMLoader creates a new WASM loader.
func NewWASMLoader() (*WASMLoader, error) {
	return &WASMLoader{}, nil
}

// Load reads, sniffs and instantiates the unit at unit.Path.
func (wl *WASMLoader) Load(ctx context.Context, unit Unit) (Module, error) {
	data, err := os.ReadFile(unit.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read WASM unit: %w", err)
	}

	abi, err := wasm.Sniff(ctx, data)
	if err != nil {
		return nil, err
	}
	if abi == wasm.ABIRaw {
		return loadRawModule(ctx, data, unit)
	}
	return loadExtismModule(ctx, data, unit)
}

// extismModule is a loaded Extism unit. Calls into the instance are
// serialized; the instance is not safe for concurrent use.
type extismModule struct {
	unit   Unit
	plugin *extism.Plugin
	host   *hostNet
	tools  []*Tool

	mu sync.Mutex
}

func loadExtismModule(ctx context.Context, data []byte, unit Unit) (*extismModule, error) {
	manifest := extism.Manifest{
		Wasm: []extism.Wasm{
			extism.WasmData{Data: data, Name: unit.Name},
		},
		AllowedHosts: []string{"*"},
	}
	config := extism.PluginConfig{
		EnableWasi: true,
	}

	host := newHostNet()
	p, err := extism.NewPlugin(ctx, manifest, config, host.functions())
	if err != nil {
		return nil, fmt.Errorf("failed to create Extism plugin: %w", err)
	}

	m := &extismModule{unit: unit, plugin: p, host: host}
	if err := m.describe(ctx); err != nil {
		_ = m.Close()
		return nil, err
	}
	return m, nil
}

func (m *extismModule) describe(ctx context.Context) error {
	if m.plugin.FunctionExists("describe") {
		out, err := m.call(ctx, "describe", nil)
		if err != nil {
			return err
		}
		var descriptors []wasmDescriptor
		if err := json.Unmarshal(out, &descriptors); err != nil {
			return fmt.Errorf("invalid describe output: %w", err)
		}
		for _, d := range descriptors {
			if !m.plugin.FunctionExists(d.Name) {
				return fmt.Errorf("described tool %q has no matching export", d.Name)
			}
			m.tools = append(m.tools, m.tool(d, d.Name))
		}
		return nil
	}

	if !m.plugin.FunctionExists("execute") {
		return fmt.Errorf("WASM unit %q exports neither describe nor execute", m.unit.Name)
	}
	d := wasmDescriptor{
		Name:        m.metadata(ctx, "name", m.unit.Name),
		Description: m.metadata(ctx, "description", "WASM plugin"),
		Tool:        true,
	}
	params, err := ParamsFromSchema([]byte(m.metadata(ctx, "json_schema", "{}")))
	if err != nil {
		return err
	}
	d.Params = params
	m.tools = append(m.tools, m.tool(d, "execute"))
	return nil
}

func (m *extismModule) tool(d wasmDescriptor, export string) *Tool {
	fn := func(ctx context.Context, args Args) (any, error) {
		input, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("failed to encode arguments: %w", err)
		}
		out, err := m.call(ctx, export, input)
		if err != nil {
			return nil, err
		}
		return decodeOutput(out), nil
	}
	t := &Tool{
		Name:        d.Name,
		Description: d.Description,
		Params:      d.Params,
		Marked:      d.Tool,
		Variadic:    d.Variadic,
	}
	if d.Async {
		t.Mode = Async
		t.Start = func(ctx context.Context, args Args) Future { return Go(ctx, args, fn) }
	} else {
		t.Func = fn
	}
	return t
}

func (m *extismModule) call(ctx context.Context, export string, input []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exitCode, out, err := m.plugin.CallWithContext(ctx, export, input)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", export, err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("%s returned non-zero exit code: %d", export, exitCode)
	}
	return out, nil
}

func (m *extismModule) metadata(ctx context.Context, export, fallback string) string {
	if !m.plugin.FunctionExists(export) {
		return fallback
	}
	out, err := m.call(ctx, export, nil)
	if err != nil || len(out) == 0 {
		return fallback
	}
	return string(out)
}

func (m *extismModule) Exports() []*Tool { return m.tools }

// Close shuts down the instance and any connections it left open.
func (m *extismModule) Close() error {
	m.host.closeAll()
	return m.plugin.Close(context.Background())
}

// rawModule adapts a bare-ABI wazero module. It always exposes one tool.
type rawModule struct {
	mod  *wasm.Module
	tool *Tool
}

func loadRawModule(ctx context.Context, data []byte, unit Unit) (*rawModule, error) {
	mod, err := wasm.Load(ctx, data, unit.Name)
	if err != nil {
		return nil, err
	}
	params, err := ParamsFromSchema([]byte(mod.Metadata(ctx, "json_schema", "{}")))
	if err != nil {
		_ = mod.Close(ctx)
		return nil, err
	}
	return &rawModule{
		mod: mod,
		tool: &Tool{
			Name:        mod.Metadata(ctx, "name", unit.Name),
			Description: mod.Metadata(ctx, "description", "WASM plugin"),
			Params:      params,
			Marked:      true,
			Func: func(ctx context.Context, args Args) (any, error) {
				input, err := json.Marshal(args)
				if err != nil {
					return nil, fmt.Errorf("failed to encode arguments: %w", err)
				}
				out, err := mod.Execute(ctx, input)
				if err != nil {
					return nil, err
				}
				return decodeOutput(out), nil
			},
		},
	}, nil
}

func (r *rawModule) Exports() []*Tool { return []*Tool{r.tool} }

func (r *rawModule) Close() error { return r.mod.Close(context.Background()) }

// decodeOutput returns out as decoded JSON, or as a string if it is not JSON.
func decodeOutput(out []byte) any {
	if len(out) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(out, &v); err != nil {
		return string(out)
	}
	return v
}
