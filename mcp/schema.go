package mcp

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var jsonSchemaTypes = map[ParamKind]map[string]interface{}{
	ParamString:     {"type": "string"},
	ParamNumber:     {"type": "number"},
	ParamInteger:    {"type": "integer"},
	ParamBoolean:    {"type": "boolean"},
	ParamStringList: {"type": "array", "items": map[string]interface{}{"type": "string"}},
	ParamNumberList: {"type": "array", "items": map[string]interface{}{"type": "number"}},
}

// inputSchema renders params as a JSON schema object and compiles it for
// validating call arguments.
func inputSchema(params []ParamSpec) (json.RawMessage, *gojsonschema.Schema, error) {
	properties := make(map[string]interface{}, len(params))
	var required []string
	for _, p := range params {
		prop := make(map[string]interface{}, 4)
		for k, v := range jsonSchemaTypes[p.Kind] {
			prop[k] = v
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Required {
			required = append(required, p.Name)
		} else {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal input schema: %w", err)
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid input schema: %w", err)
	}
	return raw, compiled, nil
}

type schemaProblem struct {
	kind  ErrorKind
	name  string
	msg   string
	order int
}

// validateArguments checks raw tool arguments against the tool's compiled
// schema. Null values count as absent so defaults still apply. Problems are
// ordered like Bind's: declared parameters first, then unknown names.
func (e *ToolEntry) validateArguments(raw map[string]interface{}) error {
	if e.schema == nil {
		return nil
	}

	doc := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		if v != nil {
			doc[k] = v
		}
	}

	result, err := e.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return Errorf(TypeMismatch, "arguments of %s cannot be validated: %v", e.Name, err)
	}
	if result.Valid() {
		return nil
	}

	position := make(map[string]int, len(e.Params))
	for i, p := range e.Params {
		position[p.Name] = i
	}

	problems := make([]schemaProblem, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		p := schemaProblem{kind: TypeMismatch}
		switch re.Type() {
		case "required":
			p.kind, p.name = MissingArgument, fmt.Sprint(re.Details()["property"])
			p.msg = fmt.Sprintf("missing required argument %q", p.name)
		case "additional_property_not_allowed":
			p.kind, p.name = UnknownArgument, fmt.Sprint(re.Details()["property"])
			p.msg = fmt.Sprintf("unknown argument %q", p.name)
		default:
			p.name = strings.SplitN(re.Field(), ".", 2)[0]
			p.msg = fmt.Sprintf("argument %q: %s", re.Field(), re.Description())
		}

		idx, ok := position[p.name]
		if !ok {
			idx = len(e.Params)
		}
		p.order = idx
		problems = append(problems, p)
	}

	sort.SliceStable(problems, func(i, j int) bool {
		if problems[i].order != problems[j].order {
			return problems[i].order < problems[j].order
		}
		return problems[i].name < problems[j].name
	})

	msgs := make([]string, 0, len(problems))
	data := map[string][]string{}
	for _, p := range problems {
		msgs = append(msgs, p.msg)
		data[string(p.kind)] = append(data[string(p.kind)], p.name)
	}
	return Errorf(problems[0].kind, "%s", strings.Join(msgs, "; ")).WithData(data)
}
