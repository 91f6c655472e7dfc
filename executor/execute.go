// Package executor adapts loaded tools into a single invocation contract.
// It binds named or positional arguments onto a tool's declared parameters,
// runs synchronous and asynchronous tools the same way, and converts every
// error, panic and cancellation into a structured Failure.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joncooperworks/toolhost/plugin"
)

// Invocation statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// VariadicArgs is the argument name that collects surplus positional values
// of a variadic tool.
const VariadicArgs = "args"

// Failure is the structured result of an invocation that did not succeed.
type Failure struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Tool    string `json:"tool"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Tool, f.Message)
}

// Result is the outcome of one invocation: the tool's raw value, or a Failure.
type Result struct {
	Value   any
	Failure *Failure
}

// OK reports whether the invocation succeeded.
func (r Result) OK() bool { return r.Failure == nil }

// Invocation describes a completed call for observers.
type Invocation struct {
	ID       string
	Tool     string
	Args     plugin.Args
	Started  time.Time
	Duration time.Duration
	Status   string
	Message  string
}

// Observer is notified after every invocation. Observe must not block for long;
// it runs on the invoking goroutine.
type Observer interface {
	Observe(ctx context.Context, inv Invocation)
}

// Option configures an Operation.
type Option func(*Operation)

// WithLogger sets the logger used for invocation records.
func WithLogger(logger *slog.Logger) Option {
	return func(op *Operation) { op.logger = logger }
}

// WithObserver registers an observer for completed invocations.
func WithObserver(o Observer) Option {
	return func(op *Operation) { op.observer = o }
}

// Operation is an adapted tool. It is safe for concurrent use when the
// underlying tool is.
type Operation struct {
	tool     *plugin.Tool
	call     func(ctx context.Context, args plugin.Args) (any, error)
	declared map[string]bool
	logger   *slog.Logger
	observer Observer
}

// Adapt validates t and wraps it in the uniform invocation contract.
//
// The tool's mode is inspected once, here. Asynchronous tools are awaited
// inside Invoke, so callers never see a pending handle.
func Adapt(t *plugin.Tool, opts ...Option) (*Operation, error) {
	if t == nil {
		return nil, errors.New("tool cannot be nil")
	}
	if !plugin.Exported(t.Name) {
		return nil, fmt.Errorf("invalid tool name %q", t.Name)
	}

	op := &Operation{
		tool:     t,
		declared: make(map[string]bool, len(t.Params)),
		logger:   slog.Default(),
	}
	for _, p := range t.Params {
		if p.Name == "" {
			return nil, fmt.Errorf("tool %q declares an unnamed parameter", t.Name)
		}
		if op.declared[p.Name] {
			return nil, fmt.Errorf("tool %q declares parameter %q twice", t.Name, p.Name)
		}
		op.declared[p.Name] = true
	}

	switch t.Mode {
	case plugin.Sync:
		if t.Func == nil {
			return nil, fmt.Errorf("sync tool %q has no function", t.Name)
		}
		op.call = t.Func
	case plugin.Async:
		if t.Start == nil {
			return nil, fmt.Errorf("async tool %q has no start function", t.Name)
		}
		op.call = awaitStart(t.Start)
	default:
		return nil, fmt.Errorf("tool %q has unknown mode %s", t.Name, t.Mode)
	}

	for _, opt := range opts {
		opt(op)
	}
	return op, nil
}

func awaitStart(start plugin.StartFunc) func(context.Context, plugin.Args) (any, error) {
	return func(ctx context.Context, args plugin.Args) (any, error) {
		fut := start(ctx, args)
		if fut == nil {
			return nil, errors.New("async tool returned no future")
		}
		select {
		case c, ok := <-fut:
			if !ok {
				return nil, errors.New("async tool completed without a result")
			}
			return c.Value, c.Err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Name returns the tool name.
func (op *Operation) Name() string { return op.tool.Name }

// Description returns the tool documentation unchanged.
func (op *Operation) Description() string { return op.tool.Description }

// Params returns the declared parameter list unchanged.
func (op *Operation) Params() []plugin.Param { return op.tool.Params }

// Mode returns the mode of the wrapped tool.
func (op *Operation) Mode() plugin.Mode { return op.tool.Mode }

// Invoke calls the tool with named arguments. It always returns exactly one
// Result; nothing the tool does escapes as an error or panic.
func (op *Operation) Invoke(ctx context.Context, args plugin.Args) Result {
	return op.invoke(ctx, args, nil)
}

func (op *Operation) invoke(ctx context.Context, args plugin.Args, bindErr error) Result {
	inv := Invocation{
		ID:      uuid.NewString(),
		Tool:    op.tool.Name,
		Args:    args,
		Started: time.Now(),
	}
	logger := op.logger.With("tool", op.tool.Name, "invocation", inv.ID)
	logger.Debug("invoking tool", "args", args, "mode", op.tool.Mode.String())

	value, trace, err := op.run(ctx, args, bindErr)
	inv.Duration = time.Since(inv.Started)

	var res Result
	if err != nil {
		res.Failure = &Failure{Status: StatusError, Message: message(err), Tool: op.tool.Name}
		attrs := []any{"error", err, "error_type", fmt.Sprintf("%T", err), "duration", inv.Duration}
		if trace != "" {
			attrs = append(attrs, "trace", trace)
		}
		logger.Error("tool invocation failed", attrs...)
		inv.Status, inv.Message = StatusError, res.Failure.Message
	} else {
		res.Value = value
		logger.Info("tool invocation succeeded", "duration", inv.Duration)
		inv.Status = StatusSuccess
	}

	if op.observer != nil {
		op.observer.Observe(context.WithoutCancel(ctx), inv)
	}
	return res
}

// InvokePositional binds values onto the declared parameters in order and
// invokes the tool. Surplus values of a variadic tool are passed as a list
// under VariadicArgs.
func (op *Operation) InvokePositional(ctx context.Context, values ...any) Result {
	args := make(plugin.Args, len(values))
	params := op.tool.Params
	for i, v := range values {
		if i < len(params) {
			args[params[i].Name] = v
			continue
		}
		if !op.tool.Variadic {
			err := fmt.Errorf("%s takes %d positional arguments but %d were given", op.tool.Name, len(params), len(values))
			return op.invoke(ctx, args, err)
		}
		args[VariadicArgs] = append([]any(nil), values[i:]...)
		break
	}
	return op.Invoke(ctx, args)
}

// run binds args and calls the tool. trace is set when the tool panicked.
func (op *Operation) run(ctx context.Context, args plugin.Args, bindErr error) (value any, trace string, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = &plugin.PanicError{Value: r, Stack: debug.Stack()}
		}
		var pe *plugin.PanicError
		if errors.As(err, &pe) {
			trace = string(pe.Stack)
		}
	}()

	if bindErr != nil {
		return nil, "", bindErr
	}
	bound, err := op.bind(args)
	if err != nil {
		return nil, "", err
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	value, err = op.call(ctx, bound)
	return value, "", err
}

// bind checks args against the declared parameters and fills in defaults.
func (op *Operation) bind(args plugin.Args) (plugin.Args, error) {
	bound := make(plugin.Args, len(op.tool.Params)+len(args))

	var unexpected []string
	for name, v := range args {
		if !op.declared[name] && !op.tool.Variadic {
			unexpected = append(unexpected, name)
			continue
		}
		bound[name] = v
	}
	if len(unexpected) > 0 {
		sort.Strings(unexpected)
		return nil, fmt.Errorf("unexpected argument(s): %s", strings.Join(unexpected, ", "))
	}

	var missing []string
	for _, p := range op.tool.Params {
		if _, ok := bound[p.Name]; ok {
			continue
		}
		if p.Required {
			missing = append(missing, p.Name)
			continue
		}
		if p.Default != nil {
			bound[p.Name] = p.Default
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required argument(s): %s", strings.Join(missing, ", "))
	}
	return bound, nil
}

// message returns a non-empty description of err.
func message(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fmt.Sprintf("%T", err)
}
