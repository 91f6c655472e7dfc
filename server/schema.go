package server

import (
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/joncooperworks/toolhost/executor"
	"github.com/joncooperworks/toolhost/plugin"
)

// Definition builds the MCP tool definition of op from its declared
// parameters and description.
func Definition(op *executor.Operation) (mcp.Tool, error) {
	opts := []mcp.ToolOption{mcp.WithDescription(op.Description())}
	for _, p := range op.Params() {
		opt, err := paramOption(p)
		if err != nil {
			return mcp.Tool{}, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		opts = append(opts, opt)
	}
	return mcp.NewTool(op.Name(), opts...), nil
}

func paramOption(p plugin.Param) (mcp.ToolOption, error) {
	var props []mcp.PropertyOption
	if p.Description != "" {
		props = append(props, mcp.Description(p.Description))
	}
	if p.Required {
		props = append(props, mcp.Required())
	}
	if p.Default != nil {
		props = append(props, defaultValue(p.Default))
	}

	switch p.Type {
	case plugin.TypeString, "":
		return mcp.WithString(p.Name, props...), nil
	case plugin.TypeInteger:
		return mcp.WithNumber(p.Name, append(props, schemaType("integer"))...), nil
	case plugin.TypeNumber:
		return mcp.WithNumber(p.Name, props...), nil
	case plugin.TypeBoolean:
		return mcp.WithBoolean(p.Name, props...), nil
	case plugin.TypeArray:
		return mcp.WithArray(p.Name, props...), nil
	case plugin.TypeObject:
		return mcp.WithObject(p.Name, props...), nil
	default:
		return nil, fmt.Errorf("unsupported type %q", p.Type)
	}
}

func defaultValue(v any) mcp.PropertyOption {
	return func(schema map[string]any) { schema["default"] = v }
}

func schemaType(t string) mcp.PropertyOption {
	return func(schema map[string]any) { schema["type"] = t }
}
