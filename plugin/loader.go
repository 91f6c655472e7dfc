package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
)

// PackageMarker is the directory index file. It is never loaded as a unit.
const PackageMarker = "index.yaml"

// ErrNoTools is returned by LoadOne when a unit loads but exports nothing
// that qualifies. It is not a load failure.
var ErrNoTools = errors.New("no tools found")

// Unit is a loadable unit discovered for one load cycle.
type Unit struct {
	// Handle is stable for the load cycle and starts at 1.
	Handle int
	Name   string
	Path   string
	Kind   string
}

func (u Unit) String() string {
	if u.Path == "" {
		return fmt.Sprintf("%s:%s", u.Kind, u.Name)
	}
	return u.Path
}

// Verifier checks a unit file before it is loaded.
type Verifier interface {
	Verify(path string) error
}

// UnitError records why a unit was skipped.
type UnitError struct {
	Unit Unit
	Err  error
}

func (e UnitError) Error() string {
	return fmt.Sprintf("%s: %v", e.Unit, e.Err)
}

// Report summarizes one load cycle.
type Report struct {
	// Discovered counts every unit considered, builtin units included.
	Discovered int
	// Loaded counts units that contributed at least one tool.
	Loaded int
	// Empty counts units that loaded but had no qualifying tools.
	Empty int
	// Failed counts units skipped because they could not be loaded.
	Failed int
	// Found counts qualifying callables across all units, before merging.
	Found int
	// Overwritten counts tool names replaced by a later unit.
	Overwritten int
	Failures    []UnitError
}

// Registry maps tool names to tools. Iteration follows first insertion;
// a later Add under an existing name replaces the tool in place.
type Registry struct {
	tools map[string]*Tool
	order []string
}

// NewRegistry returns a registry holding tools, later entries winning.
func NewRegistry(tools ...*Tool) *Registry {
	r := &Registry{tools: make(map[string]*Tool)}
	for _, t := range tools {
		r.Add(t)
	}
	return r
}

// Add stores t and returns the tool it replaced, if any.
func (r *Registry) Add(t *Tool) *Tool {
	prev, exists := r.tools[t.Name]
	if !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
	return prev
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Len returns the number of tools.
func (r *Registry) Len() int { return len(r.order) }

// Names returns tool names in registry order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Tools returns tools in registry order.
func (r *Registry) Tools() []*Tool {
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// PluginLoader discovers units and loads the tools they export.
type PluginLoader struct {
	classifier Classifier
	verifier   Verifier
	builtins   bool
	logger     *slog.Logger

	mu      sync.Mutex
	modules []Module
}

// Option configures a PluginLoader.
type Option func(*PluginLoader)

// WithClassifier replaces the default permissive classifier.
func WithClassifier(c Classifier) Option {
	return func(l *PluginLoader) { l.classifier = c }
}

// WithVerifier requires every file unit to pass v before loading.
func WithVerifier(v Verifier) Option {
	return func(l *PluginLoader) { l.verifier = v }
}

// WithBuiltins includes compiled-in units in LoadAll.
func WithBuiltins(enabled bool) Option {
	return func(l *PluginLoader) { l.builtins = enabled }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *PluginLoader) { l.logger = logger }
}

// NewPluginLoader creates a loader. Builtin units are included by default.
func NewPluginLoader(opts ...Option) *PluginLoader {
	l := &PluginLoader{
		classifier: NewClassifier(Permissive),
		builtins:   true,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Discover lists the loadable units directly inside dir.
//
// A missing dir is created and yields no units. Files whose names start with
// ReservedPrefix, the PackageMarker and files without a registered loader
// are skipped. Handles are assigned from firstHandle upwards.
func (l *PluginLoader) Discover(dir string) ([]Unit, error) {
	return l.discover(dir, 1)
}

func (l *PluginLoader) discover(dir string, firstHandle int) ([]Unit, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create plugin directory: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin directory: %w", err)
	}

	var units []Unit
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ReservedPrefix) || name == PackageMarker {
			continue
		}
		ext := filepath.Ext(name)
		kind, ok := KindForExtension(ext)
		if !ok {
			continue
		}
		unit := Unit{
			Handle: firstHandle + len(units),
			Name:   strings.TrimSuffix(name, ext),
			Path:   filepath.Join(dir, name),
			Kind:   kind,
		}
		units = append(units, unit)
		l.logger.Debug("discovered plugin", "unit", unit.Name, "kind", kind, "path", unit.Path)
	}

	l.logger.Info("plugin discovery complete", "dir", dir, "count", len(units))
	return units, nil
}

// LoadOne loads a single unit in isolation and returns its qualifying tools.
//
// Any error or panic raised while loading is returned; the caller decides
// whether to continue. A unit without qualifying tools yields ErrNoTools.
func (l *PluginLoader) LoadOne(ctx context.Context, unit Unit) (tools map[string]*Tool, err error) {
	defer func() {
		if r := recover(); r != nil {
			tools = nil
			err = fmt.Errorf("panic while loading %s: %v\n%s", unit, r, debug.Stack())
		}
	}()

	if l.verifier != nil && unit.Path != "" {
		if err := l.verifier.Verify(unit.Path); err != nil {
			return nil, fmt.Errorf("failed to verify unit: %w", err)
		}
	}

	factory, err := GetLoaderFactory(unit.Kind)
	if err != nil {
		return nil, err
	}
	loader, err := factory()
	if err != nil {
		return nil, fmt.Errorf("failed to create %s loader: %w", unit.Kind, err)
	}
	mod, err := loader.Load(ctx, unit)
	if err != nil {
		return nil, err
	}
	if mod == nil {
		return nil, fmt.Errorf("%s loader returned no module", unit.Kind)
	}

	tools = make(map[string]*Tool)
	for _, t := range mod.Exports() {
		if !l.classifier.Qualifies(t) {
			if t != nil {
				l.logger.Debug("skipping callable", "unit", unit.Name, "name", t.Name)
			}
			continue
		}
		t.Unit = unit.Handle
		tools[t.Name] = t
		l.logger.Info("found tool", "unit", unit.Name, "tool", t.Name, "mode", t.Mode.String())
	}

	if len(tools) == 0 {
		_ = mod.Close()
		return nil, ErrNoTools
	}

	l.mu.Lock()
	l.modules = append(l.modules, mod)
	l.mu.Unlock()
	return tools, nil
}

// LoadAll runs a full load cycle over the builtin units and dir.
//
// It never fails: broken units are logged, counted in the Report and
// skipped. Tools from later units replace same-named tools from earlier ones.
func (l *PluginLoader) LoadAll(ctx context.Context, dir string) (*Registry, Report) {
	var units []Unit
	if l.builtins {
		for _, name := range ListBuiltins() {
			units = append(units, Unit{Handle: len(units) + 1, Name: name, Kind: KindBuiltin})
		}
	}
	fileUnits, err := l.discover(dir, len(units)+1)
	if err != nil {
		l.logger.Error("plugin discovery failed", "dir", dir, "error", err)
	}
	units = append(units, fileUnits...)

	reg := NewRegistry()
	report := Report{Discovered: len(units)}

	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			l.logger.Warn("load cycle cancelled", "error", err)
			break
		}

		tools, err := l.LoadOne(ctx, unit)
		switch {
		case errors.Is(err, ErrNoTools):
			report.Empty++
			l.logger.Warn("no tools found in plugin", "unit", unit.Name, "path", unit.Path)
			continue
		case err != nil:
			report.Failed++
			report.Failures = append(report.Failures, UnitError{Unit: unit, Err: err})
			l.logger.Error("failed to load plugin", "unit", unit.Name, "path", unit.Path, "kind", unit.Kind, "error", err)
			continue
		}

		report.Loaded++
		report.Found += len(tools)

		names := make([]string, 0, len(tools))
		for name := range tools {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if prev := reg.Add(tools[name]); prev != nil {
				report.Overwritten++
				l.logger.Warn("tool overwritten by later plugin",
					"tool", name, "previous_unit", prev.Unit, "unit", unit.Handle)
			}
		}
		l.logger.Info("loaded plugin", "unit", unit.Name, "tools", len(tools))
	}

	l.logger.Info("plugin load complete",
		"tools", reg.Len(), "units", report.Discovered, "failed", report.Failed, "empty", report.Empty)
	return reg, report
}

// Close releases every module loaded by this loader.
func (l *PluginLoader) Close() error {
	l.mu.Lock()
	mods := l.modules
	l.modules = nil
	l.mu.Unlock()

	var errs []error
	for _, m := range mods {
		if err := m.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
