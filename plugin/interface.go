// Package plugin discovers, loads and classifies tool plugins.
// It supports multiple unit formats (WASM, command manifests, compiled-in
// builtins) through a registry-based loader system, and aggregates the tools
// every unit exports into a single name-keyed Registry.
package plugin

import (
	"context"
	"fmt"
	"runtime/debug"
)

// Mode tags how a tool's underlying operation completes.
type Mode int

const (
	// Sync operations return their result directly.
	Sync Mode = iota
	// Async operations return a Future that completes later.
	Async
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case Sync:
		return "sync"
	case Async:
		return "async"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParamType is the JSON type of a declared tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// Param describes one declared tool parameter.
//
// Params replace runtime signature introspection: every unit declares its
// parameter list explicitly, in order, and that list is what MCP clients see.
type Param struct {
	Name        string    `json:"name" yaml:"name"`
	Type        ParamType `json:"type" yaml:"type"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool      `json:"required,omitempty" yaml:"required,omitempty"`
	Default     any       `json:"default,omitempty" yaml:"default,omitempty"`
}

// Args are the named arguments of one invocation.
type Args map[string]any

// Func is a synchronous tool operation.
type Func func(ctx context.Context, args Args) (any, error)

// Completion is the final outcome of an asynchronous operation.
type Completion struct {
	Value any
	Err   error
}

// Future delivers exactly one Completion.
type Future <-chan Completion

// StartFunc begins an asynchronous tool operation.
type StartFunc func(ctx context.Context, args Args) Future

// Tool is a candidate callable exported by a loaded unit.
type Tool struct {
	// Name is the tool name exposed to MCP clients.
	Name string
	// Description is the free-text documentation shown to clients.
	Description string
	// Params is the ordered parameter list.
	Params []Param
	// Mode selects which of Func or Start is used.
	Mode Mode
	// Marked is explicit tool-marker metadata set by the unit author.
	Marked bool
	// Variadic tools accept arguments beyond the declared Params.
	Variadic bool

	Func  Func
	Start StartFunc

	// Unit is the handle of the unit that exported this tool.
	Unit int
}

// PanicError is a recovered panic. Stack is the goroutine stack at the
// point of recovery.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Go runs fn on its own goroutine and returns a Future for its result.
// A panic inside fn is delivered as a *PanicError instead of crashing the
// process.
func Go(ctx context.Context, args Args, fn Func) Future {
	ch := make(chan Completion, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- Completion{Err: &PanicError{Value: r, Stack: debug.Stack()}}
			}
			close(ch)
		}()
		v, err := fn(ctx, args)
		ch <- Completion{Value: v, Err: err}
	}()
	return ch
}

// Module is a loaded unit.
type Module interface {
	// Exports returns every callable the unit exposes, qualifying or not.
	Exports() []*Tool
	// Close releases the unit's resources.
	Close() error
}

// Loader loads units of a single kind.
type Loader interface {
	Load(ctx context.Context, unit Unit) (Module, error)
}

// StaticModule is a Module backed by an in-memory tool list.
type StaticModule []*Tool

// Exports returns the tool list.
func (m StaticModule) Exports() []*Tool { return m }

// Close is a no-op.
func (m StaticModule) Close() error { return nil }
