package plugin

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ParamsFromSchema converts a JSON Schema object ({"type":"object",
// "properties":{...},"required":[...]}) into an ordered parameter list.
//
// The schema is decoded as a YAML node tree so properties keep the order
// they were written in.
func ParamsFromSchema(schema []byte) ([]Param, error) {
	if len(schema) == 0 {
		return nil, nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(schema, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON schema: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("JSON schema must be an object")
	}

	var required []string
	if node := mappingValue(root, "required"); node != nil {
		if err := node.Decode(&required); err != nil {
			return nil, fmt.Errorf("invalid required list: %w", err)
		}
	}
	isRequired := make(map[string]bool, len(required))
	for _, name := range required {
		isRequired[name] = true
	}

	props := mappingValue(root, "properties")
	if props == nil {
		return nil, nil
	}
	if props.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("schema properties must be an object")
	}

	params := make([]Param, 0, len(props.Content)/2)
	for i := 0; i+1 < len(props.Content); i += 2 {
		var prop struct {
			Type        ParamType `yaml:"type"`
			Description string    `yaml:"description"`
			Default     any       `yaml:"default"`
		}
		if err := props.Content[i+1].Decode(&prop); err != nil {
			return nil, fmt.Errorf("invalid property %q: %w", props.Content[i].Value, err)
		}
		if prop.Type == "" {
			prop.Type = TypeString
		}
		name := props.Content[i].Value
		params = append(params, Param{
			Name:        name,
			Type:        prop.Type,
			Description: prop.Description,
			Required:    isRequired[name],
			Default:     prop.Default,
		})
	}
	return params, nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}
