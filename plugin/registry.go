package plugin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// LoaderFactory is a function that creates a new Loader instance.
//
// Factory functions are registered with RegisterLoader and are called once
// per unit, so every unit is loaded by a fresh Loader.
type LoaderFactory func() (Loader, error)

// BuiltinFunc returns the tools of a compiled-in unit.
type BuiltinFunc func() []*Tool

var (
	// loaderRegistry stores loader factories by unit kind
	loaderRegistry = make(map[string]LoaderFactory)
	// extensionKinds maps a lower-case file extension to a unit kind
	extensionKinds = make(map[string]string)
	// builtinRegistry stores compiled-in units by name
	builtinRegistry = make(map[string]BuiltinFunc)
	// registryMu protects all three maps
	registryMu sync.RWMutex
)

// RegisterLoader registers a loader factory for a unit kind and associates
// the given file extensions (".wasm", ".yaml", ...) with that kind.
//
// This should be called from init() functions in loader implementations.
// Registering a kind again replaces the previous factory.
//
// Example:
//
//	func init() {
//	    RegisterLoader("wasm", func() (Loader, error) {
//	        return NewWASMLoader()
//	    }, ".wasm")
//	}
func RegisterLoader(kind string, factory LoaderFactory, extensions ...string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	loaderRegistry[kind] = factory
	for _, ext := range extensions {
		extensionKinds[strings.ToLower(ext)] = kind
	}
}

// GetLoaderFactory retrieves the loader factory for a unit kind.
func GetLoaderFactory(kind string) (LoaderFactory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	factory, ok := loaderRegistry[kind]
	if !ok {
		return nil, fmt.Errorf("no loader factory registered for unit kind: %s", kind)
	}
	return factory, nil
}

// KindForExtension returns the unit kind registered for a file extension.
func KindForExtension(ext string) (string, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kind, ok := extensionKinds[strings.ToLower(ext)]
	return kind, ok
}

// ListRegisteredPluginTypes returns all registered unit kinds, sorted.
func ListRegisteredPluginTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]string, 0, len(loaderRegistry))
	for kind := range loaderRegistry {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// RegisterBuiltin adds a compiled-in unit. Tool packages call it from init().
func RegisterBuiltin(name string, fn BuiltinFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	builtinRegistry[name] = fn
}

// ListBuiltins returns the names of all compiled-in units, sorted.
func ListBuiltins() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(builtinRegistry))
	for name := range builtinRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func getBuiltin(name string) (BuiltinFunc, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := builtinRegistry[name]
	return fn, ok
}

// KindBuiltin is the unit kind of compiled-in units.
const KindBuiltin = "builtin"

func init() {
	RegisterLoader(KindBuiltin, func() (Loader, error) {
		return builtinLoader{}, nil
	})
}

type builtinLoader struct{}

func (builtinLoader) Load(_ context.Context, unit Unit) (Module, error) {
	fn, ok := getBuiltin(unit.Name)
	if !ok {
		return nil, fmt.Errorf("no builtin unit named %q", unit.Name)
	}
	return StaticModule(fn()), nil
}
