package plugin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// KindCommand is the unit kind of declarative command-adapter units.
const KindCommand = "command"

// DefaultCommandTimeout bounds a command tool that declares no timeout.
const DefaultCommandTimeout = 300 * time.Second

// secretPrefix marks an env value resolved through the SecretSource.
const secretPrefix = "secret:"

func init() {
	RegisterLoader(KindCommand, func() (Loader, error) {
		return &CommandLoader{}, nil
	}, ".yaml", ".yml")
}

// SecretSource resolves credentials referenced by command units.
type SecretSource interface {
	Secret(name string) (string, error)
}

// EnvSecrets resolves secrets from environment variables.
type EnvSecrets struct{}

// Secret returns the value of the environment variable name.
func (EnvSecrets) Secret(name string) (string, error) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("secret %q is not set", name)
	}
	return v, nil
}

var (
	secretsMu sync.RWMutex
	secrets   SecretSource = EnvSecrets{}
)

// SetSecretSource replaces the source used to resolve "secret:" env values.
func SetSecretSource(s SecretSource) {
	secretsMu.Lock()
	defer secretsMu.Unlock()
	if s == nil {
		s = EnvSecrets{}
	}
	secrets = s
}

func currentSecrets() SecretSource {
	secretsMu.RLock()
	defer secretsMu.RUnlock()
	return secrets
}

// CommandManifest is the YAML document of a command unit.
//
//	description: Trivy vulnerability scanner
//	tools:
//	  - name: trivy_image
//	    description: Scan a container image
//	    command: [trivy, image, --format, json]
//	    timeout: 10m
//	    params:
//	      - {name: image, type: string, required: true, positional: true}
//	      - {name: severity, type: string, default: "HIGH,CRITICAL"}
type CommandManifest struct {
	Description string        `yaml:"description"`
	Tools       []CommandTool `yaml:"tools"`
}

// CommandTool declares one tool backed by an external command.
type CommandTool struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Command     []string          `yaml:"command"`
	Params      []CommandParam    `yaml:"params"`
	Env         map[string]string `yaml:"env"`
	Dir         string            `yaml:"dir"`
	Timeout     time.Duration     `yaml:"timeout"`
	Tool        bool              `yaml:"tool"`
	Variadic    bool              `yaml:"variadic"`
}

// CommandParam is a declared parameter plus how it maps onto argv.
// Positional values are appended in declaration order; every other value
// becomes Flag (default "--<name>") followed by the value.
type CommandParam struct {
	Param      `yaml:",inline"`
	Positional bool   `yaml:"positional"`
	Flag       string `yaml:"flag"`
}

// CommandLoader loads command-adapter units.
type CommandLoader struct{}

// Load parses the manifest at unit.Path.
func (cl *CommandLoader) Load(_ context.Context, unit Unit) (Module, error) {
	data, err := os.ReadFile(unit.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read command unit: %w", err)
	}
	var manifest CommandManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse command unit: %w", err)
	}

	tools := make(StaticModule, 0, len(manifest.Tools))
	for i := range manifest.Tools {
		ct := manifest.Tools[i]
		if ct.Name == "" {
			return nil, fmt.Errorf("tool %d has no name", i)
		}
		if len(ct.Command) == 0 {
			return nil, fmt.Errorf("tool %q has no command", ct.Name)
		}
		tools = append(tools, ct.tool())
	}
	return tools, nil
}

func (ct CommandTool) tool() *Tool {
	params := make([]Param, len(ct.Params))
	for i, p := range ct.Params {
		params[i] = p.Param
		if params[i].Type == "" {
			params[i].Type = TypeString
		}
	}
	return &Tool{
		Name:        ct.Name,
		Description: ct.Description,
		Params:      params,
		Mode:        Async,
		Marked:      ct.Tool,
		Variadic:    ct.Variadic,
		Start: func(ctx context.Context, args Args) Future {
			return Go(ctx, args, ct.run)
		},
	}
}

// Argv builds the command line for args. Environment references in the
// command template ("${APPSEC_TOOLS_PATH}/nikto") are expanded; argument
// values never are.
func (ct CommandTool) Argv(args Args) []string {
	argv := make([]string, len(ct.Command))
	for i, s := range ct.Command {
		argv[i] = os.ExpandEnv(s)
	}
	declared := make(map[string]bool, len(ct.Params))

	var flags []string
	for _, p := range ct.Params {
		declared[p.Name] = true
		v, ok := args[p.Name]
		if !ok {
			continue
		}
		if p.Positional {
			argv = append(argv, values(v)...)
			continue
		}
		flag := p.Flag
		if flag == "" {
			flag = "--" + p.Name
		}
		flags = append(flags, flagArgs(flag, v)...)
	}

	var extra []string
	for name := range args {
		if !declared[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		flags = append(flags, flagArgs("--"+name, args[name])...)
	}
	return append(argv, flags...)
}

func flagArgs(flag string, v any) []string {
	switch v := v.(type) {
	case nil:
		return nil
	case bool:
		if v {
			return []string{flag}
		}
		return nil
	case string:
		if v == "" {
			return []string{flag}
		}
	}
	var out []string
	for _, s := range values(v) {
		out = append(out, flag, s)
	}
	return out
}

func values(v any) []string {
	switch v := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case []string:
		return v
	default:
		return []string{fmt.Sprint(v)}
	}
}

func (ct CommandTool) environ() ([]string, error) {
	env := os.Environ()
	names := make([]string, 0, len(ct.Env))
	for name := range ct.Env {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value := ct.Env[name]
		if ref, ok := strings.CutPrefix(value, secretPrefix); ok {
			secret, err := currentSecrets().Secret(ref)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve %s: %w", name, err)
			}
			value = secret
		}
		env = append(env, name+"="+value)
	}
	return env, nil
}

func (ct CommandTool) run(ctx context.Context, args Args) (any, error) {
	timeout := ct.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	env, err := ct.environ()
	if err != nil {
		return nil, err
	}

	argv := ct.Argv(args)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = env
	cmd.Dir = os.ExpandEnv(ct.Dir)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
		return nil, fmt.Errorf("command execution timed out after %s", timeout)
	} else if ctxErr != nil {
		return nil, ctxErr
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return nil, fmt.Errorf("failed to run %s: %w", argv[0], err)
	}

	code := cmd.ProcessState.ExitCode()
	status := "success"
	if code != 0 {
		status = "error"
	}
	return map[string]any{
		"status":     status,
		"returncode": code,
		"stdout":     stdout.String(),
		"stderr":     stderr.String(),
		"command":    strings.Join(argv, " "),
		"tool":       ct.Name,
	}, nil
}
