package plugin

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// TestLoader is a loader that never succeeds.
type TestLoader struct {
	name string
}

func (tl *TestLoader) Load(context.Context, Unit) (Module, error) {
	return nil, errors.New("test loader not implemented")
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func TestRegisterLoader(t *testing.T) {
	testType := "test-plugin-type"
	RegisterLoader(testType, func() (Loader, error) {
		return &TestLoader{name: "test"}, nil
	}, ".testplugin")

	factory, err := GetLoaderFactory(testType)
	if err != nil {
		t.Fatalf("GetLoaderFactory() error = %v", err)
	}
	loader, err := factory()
	if err != nil {
		t.Fatalf("factory() error = %v", err)
	}
	if loader == nil {
		t.Fatal("factory() returned nil loader")
	}

	if types := ListRegisteredPluginTypes(); !contains(types, testType) {
		t.Errorf("test type %q not found in registered types: %v", testType, types)
	}

	kind, ok := KindForExtension(".TESTPLUGIN")
	if !ok || kind != testType {
		t.Errorf("KindForExtension(.TESTPLUGIN) = %q, %v; want %q, true", kind, ok, testType)
	}
}

func TestGetLoaderFactory_Unknown(t *testing.T) {
	if _, err := GetLoaderFactory("non-existent-type-xyz123"); err == nil {
		t.Error("GetLoaderFactory() with non-existent type error = nil, want error")
	}
}

func TestGetLoaderFactory_Concurrent(t *testing.T) {
	testType := "concurrent-test-type"
	RegisterLoader(testType, func() (Loader, error) {
		return &TestLoader{name: "test"}, nil
	})

	const numGoroutines = 100
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			factory, err := GetLoaderFactory(testType)
			if err != nil {
				t.Errorf("GetLoaderFactory() error = %v", err)
				return
			}
			if factory == nil {
				t.Error("GetLoaderFactory() returned nil factory")
			}
		}()
	}
	wg.Wait()
}

func TestListRegisteredPluginTypes_Builtins(t *testing.T) {
	types := ListRegisteredPluginTypes()
	for _, want := range []string{KindBuiltin, KindCommand, KindWASM} {
		if !contains(types, want) {
			t.Errorf("ListRegisteredPluginTypes() = %v, missing %q", types, want)
		}
	}
	for ext, want := range map[string]string{".wasm": KindWASM, ".yaml": KindCommand, ".yml": KindCommand} {
		if kind, ok := KindForExtension(ext); !ok || kind != want {
			t.Errorf("KindForExtension(%q) = %q, %v; want %q", ext, kind, ok, want)
		}
	}
	if _, ok := KindForExtension(".txt"); ok {
		t.Error("KindForExtension(.txt) reported a kind")
	}
}

func TestListRegisteredPluginTypes_Sorted(t *testing.T) {
	for _, name := range []string{"zebra-type", "alpha-type", "middle-type"} {
		RegisterLoader(name, func() (Loader, error) {
			return &TestLoader{name: "test"}, nil
		})
	}
	types := ListRegisteredPluginTypes()
	for i := 1; i < len(types); i++ {
		if types[i-1] > types[i] {
			t.Fatalf("ListRegisteredPluginTypes() not sorted: %v", types)
		}
	}
}

func TestRegisterLoader_Overwrite(t *testing.T) {
	testType := "overwrite-test-type"
	RegisterLoader(testType, func() (Loader, error) {
		return &TestLoader{name: "first"}, nil
	})
	RegisterLoader(testType, func() (Loader, error) {
		return &TestLoader{name: "second"}, nil
	})

	factory, err := GetLoaderFactory(testType)
	if err != nil {
		t.Fatalf("GetLoaderFactory() error = %v", err)
	}
	loader, err := factory()
	if err != nil {
		t.Fatalf("factory() error = %v", err)
	}
	if got := loader.(*TestLoader).name; got != "second" {
		t.Errorf("factory() returned loader %q, want %q", got, "second")
	}
}

func TestRegisterBuiltin(t *testing.T) {
	RegisterBuiltin("registry-test-builtin", func() []*Tool {
		return []*Tool{{Name: "builtin_echo", Func: func(_ context.Context, args Args) (any, error) {
			return args, nil
		}}}
	})

	if names := ListBuiltins(); !contains(names, "registry-test-builtin") {
		t.Fatalf("ListBuiltins() = %v, missing registry-test-builtin", names)
	}

	factory, err := GetLoaderFactory(KindBuiltin)
	if err != nil {
		t.Fatalf("GetLoaderFactory(builtin) error = %v", err)
	}
	loader, _ := factory()
	mod, err := loader.Load(context.Background(), Unit{Name: "registry-test-builtin", Kind: KindBuiltin})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if exports := mod.Exports(); len(exports) != 1 || exports[0].Name != "builtin_echo" {
		t.Fatalf("Exports() = %v, want builtin_echo", exports)
	}

	if _, err := loader.Load(context.Background(), Unit{Name: "missing-builtin", Kind: KindBuiltin}); err == nil {
		t.Error("Load() of unknown builtin error = nil, want error")
	}
}
