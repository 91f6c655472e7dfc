package plugin

import (
	"context"
	"errors"
	"os/exec"
	"reflect"
	"strings"
	"testing"
	"time"
)

const trivyUnit = `description: Trivy vulnerability scanner
tools:
  - name: trivy_image
    description: Scan a container image
    tool: true
    command: [trivy, image, --format, json]
    timeout: 10m
    params:
      - {name: image, type: string, required: true, positional: true, description: Image reference}
      - {name: severity, type: string, default: "HIGH,CRITICAL"}
      - {name: ignore_unfixed, type: boolean, flag: --ignore-unfixed}
`

func loadCommandUnit(t *testing.T, content string) Module {
	t.Helper()
	path := writeUnit(t, t.TempDir(), "unit.yaml", content)
	mod, err := (&CommandLoader{}).Load(context.Background(), Unit{Handle: 1, Name: "unit", Path: path, Kind: KindCommand})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return mod
}

func TestCommandLoader_Load(t *testing.T) {
	mod := loadCommandUnit(t, trivyUnit)
	tools := mod.Exports()
	if len(tools) != 1 {
		t.Fatalf("Exports() = %d tools, want 1", len(tools))
	}
	tool := tools[0]
	if tool.Name != "trivy_image" || !tool.Marked || tool.Mode != Async || tool.Start == nil {
		t.Errorf("tool = %+v", tool)
	}
	want := []Param{
		{Name: "image", Type: TypeString, Required: true, Description: "Image reference"},
		{Name: "severity", Type: TypeString, Default: "HIGH,CRITICAL"},
		{Name: "ignore_unfixed", Type: TypeBoolean},
	}
	if !reflect.DeepEqual(tool.Params, want) {
		t.Errorf("Params = %+v\nwant %+v", tool.Params, want)
	}
}

func TestCommandLoader_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":   "tools: [",
		"no name":    "tools:\n  - command: [echo]\n",
		"no command": "tools:\n  - name: x\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := writeUnit(t, t.TempDir(), "unit.yaml", content)
			if _, err := (&CommandLoader{}).Load(context.Background(), Unit{Path: path}); err == nil {
				t.Error("Load() error = nil, want error")
			}
		})
	}
}

func TestCommandTool_Argv(t *testing.T) {
	ct := CommandTool{
		Command: []string{"nikto"},
		Params: []CommandParam{
			{Param: Param{Name: "host"}, Positional: true},
			{Param: Param{Name: "port"}},
			{Param: Param{Name: "ssl"}, Flag: "-ssl"},
			{Param: Param{Name: "plugins"}},
		},
	}
	tests := []struct {
		name string
		args Args
		want []string
	}{
		{"positional only", Args{"host": "example.com"}, []string{"nikto", "example.com"}},
		{"flag with value", Args{"host": "h", "port": 8443}, []string{"nikto", "h", "--port", "8443"}},
		{"true bool is bare flag", Args{"host": "h", "ssl": true}, []string{"nikto", "h", "-ssl"}},
		{"false bool omitted", Args{"host": "h", "ssl": false}, []string{"nikto", "h"}},
		{"empty string is bare flag", Args{"port": ""}, []string{"nikto", "--port"}},
		{"nil omitted", Args{"port": nil}, []string{"nikto"}},
		{"list repeats flag", Args{"plugins": []any{"a", "b"}}, []string{"nikto", "--plugins", "a", "--plugins", "b"}},
		{"undeclared sorted", Args{"z": "1", "a": "2"}, []string{"nikto", "--a", "2", "--z", "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ct.Argv(tt.args); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Argv() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandTool_ArgvExpandsTemplateOnly(t *testing.T) {
	t.Setenv("APPSEC_TOOLS_PATH", "/opt/appsec")
	ct := CommandTool{
		Command: []string{"python3", "${APPSEC_TOOLS_PATH}/nikto/nikto_scan.py"},
		Params:  []CommandParam{{Param: Param{Name: "target"}, Positional: true}},
	}
	got := ct.Argv(Args{"target": "$HOME"})
	want := []string{"python3", "/opt/appsec/nikto/nikto_scan.py", "$HOME"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Argv() = %q, want %q", got, want)
	}
}

func await(t *testing.T, tool *Tool, args Args) Completion {
	t.Helper()
	select {
	case c := <-tool.Start(context.Background(), args):
		return c
	case <-time.After(10 * time.Second):
		t.Fatal("command did not complete")
		return Completion{}
	}
}

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
}

func TestCommandTool_Run(t *testing.T) {
	requireBinary(t, "sh")
	mod := loadCommandUnit(t, `tools:
  - name: greet
    command: [sh, -c, 'echo "hello $1"; echo warn >&2', sh]
    params:
      - {name: who, positional: true}
  - name: fail
    command: [sh, -c, 'exit 3']
`)
	tools := mod.Exports()

	c := await(t, tools[0], Args{"who": "world"})
	if c.Err != nil {
		t.Fatalf("greet error = %v", c.Err)
	}
	res := c.Value.(map[string]any)
	if res["status"] != "success" || res["returncode"] != 0 {
		t.Errorf("greet result = %v", res)
	}
	if res["stdout"] != "hello world\n" || res["stderr"] != "warn\n" {
		t.Errorf("greet output = %q / %q", res["stdout"], res["stderr"])
	}
	if res["tool"] != "greet" || !strings.HasPrefix(res["command"].(string), "sh -c") {
		t.Errorf("greet metadata = %v", res)
	}

	c = await(t, tools[1], nil)
	if c.Err != nil {
		t.Fatalf("fail error = %v", c.Err)
	}
	res = c.Value.(map[string]any)
	if res["status"] != "error" || res["returncode"] != 3 {
		t.Errorf("fail result = %v, want status error, returncode 3", res)
	}
}

func TestCommandTool_Timeout(t *testing.T) {
	requireBinary(t, "sleep")
	mod := loadCommandUnit(t, `tools:
  - name: slow
    command: [sleep, "5"]
    timeout: 50ms
`)
	c := await(t, mod.Exports()[0], nil)
	if c.Err == nil || !strings.Contains(c.Err.Error(), "timed out") {
		t.Fatalf("error = %v, want timeout", c.Err)
	}
}

func TestCommandTool_MissingBinary(t *testing.T) {
	mod := loadCommandUnit(t, `tools:
  - name: ghost
    command: [toolhost-no-such-binary-xyz]
`)
	if c := await(t, mod.Exports()[0], nil); c.Err == nil {
		t.Fatal("error = nil, want error for missing binary")
	}
}

type mapSecrets map[string]string

func (m mapSecrets) Secret(name string) (string, error) {
	v, ok := m[name]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func TestCommandTool_Secrets(t *testing.T) {
	requireBinary(t, "sh")
	SetSecretSource(mapSecrets{"shodan": "s3cret"})
	defer SetSecretSource(nil)

	mod := loadCommandUnit(t, `tools:
  - name: show_key
    command: [sh, -c, 'printf %s "$API_KEY"']
    env:
      API_KEY: secret:shodan
  - name: missing_key
    command: [sh, -c, 'true']
    env:
      API_KEY: secret:censys
`)
	tools := mod.Exports()

	c := await(t, tools[0], nil)
	if c.Err != nil {
		t.Fatalf("show_key error = %v", c.Err)
	}
	if got := c.Value.(map[string]any)["stdout"]; got != "s3cret" {
		t.Errorf("stdout = %q, want resolved secret", got)
	}

	if c := await(t, tools[1], nil); c.Err == nil {
		t.Error("missing_key error = nil, want unresolved secret error")
	}
}

func TestEnvSecrets(t *testing.T) {
	t.Setenv("TOOLHOST_TEST_SECRET", "value")
	if got, err := (EnvSecrets{}).Secret("TOOLHOST_TEST_SECRET"); err != nil || got != "value" {
		t.Errorf("Secret() = %q, %v", got, err)
	}
	if _, err := (EnvSecrets{}).Secret("TOOLHOST_TEST_SECRET_MISSING"); err == nil {
		t.Error("Secret() of unset variable error = nil")
	}
}
