package mcp

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// ParamKind is the declared type of a tool or prompt parameter.
type ParamKind string

const (
	ParamString     ParamKind = "string"
	ParamNumber     ParamKind = "number"
	ParamInteger    ParamKind = "integer"
	ParamBoolean    ParamKind = "boolean"
	ParamStringList ParamKind = "string_list"
	ParamNumberList ParamKind = "number_list"
)

// ParamSpec declares one parameter. A parameter is either Required or
// carries a Default.
type ParamSpec struct {
	Name        string
	Kind        ParamKind
	Description string
	Required    bool
	Default     interface{}
}

// RequiredParam declares a parameter the caller must supply.
func RequiredParam(name string, kind ParamKind, description string) ParamSpec {
	return ParamSpec{Name: name, Kind: kind, Description: description, Required: true}
}

// OptionalParam declares a parameter that falls back to def.
func OptionalParam(name string, kind ParamKind, def interface{}, description string) ParamSpec {
	return ParamSpec{Name: name, Kind: kind, Description: description, Default: def}
}

// Arguments holds bound values: string, float64, int64, bool, []string or
// []float64 depending on the declared kind.
type Arguments map[string]interface{}

func (a Arguments) String(name string) string {
	v, _ := a[name].(string)
	return v
}

func (a Arguments) Float(name string) float64 {
	v, _ := a[name].(float64)
	return v
}

func (a Arguments) Int(name string) int64 {
	v, _ := a[name].(int64)
	return v
}

func (a Arguments) Bool(name string) bool {
	v, _ := a[name].(bool)
	return v
}

func (a Arguments) Strings(name string) []string {
	v, _ := a[name].([]string)
	return v
}

func (a Arguments) Floats(name string) []float64 {
	v, _ := a[name].([]float64)
	return v
}

// validateParams checks a parameter list at registration time.
func validateParams(owner string, params []ParamSpec) error {
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if p.Name == "" {
			return Errorf(InvalidRegistration, "%s: parameter with empty name", owner)
		}
		if seen[p.Name] {
			return Errorf(InvalidRegistration, "%s: parameter %q declared twice", owner, p.Name)
		}
		seen[p.Name] = true

		if _, ok := jsonSchemaTypes[p.Kind]; !ok {
			return Errorf(InvalidRegistration, "%s: parameter %q has unknown kind %q", owner, p.Name, p.Kind)
		}
		if p.Required && p.Default != nil {
			return Errorf(InvalidRegistration, "%s: required parameter %q cannot have a default", owner, p.Name)
		}
		if !p.Required {
			if p.Default == nil {
				return Errorf(InvalidRegistration, "%s: optional parameter %q needs a default", owner, p.Name)
			}
			if _, err := coerce(p.Kind, p.Default); err != nil {
				return Errorf(InvalidRegistration, "%s: default for %q is not a %s: %v", owner, p.Name, p.Kind, err)
			}
		}
	}
	return nil
}

// Bind validates raw against params and returns a fresh Arguments value.
// It has no side effects; binding the same input twice gives equal output.
// Every problem is reported; the first one decides the error kind.
func Bind(params []ParamSpec, raw map[string]interface{}) (Arguments, error) {
	out := make(Arguments, len(params))

	var (
		kind     ErrorKind
		problems []string
		data     = map[string][]string{}
	)
	report := func(k ErrorKind, name, msg string) {
		if kind == "" {
			kind = k
		}
		problems = append(problems, msg)
		data[string(k)] = append(data[string(k)], name)
	}

	declared := make(map[string]bool, len(params))
	for _, p := range params {
		declared[p.Name] = true

		v, present := raw[p.Name]
		if !present || v == nil {
			if p.Required {
				report(MissingArgument, p.Name, fmt.Sprintf("missing required argument %q", p.Name))
				continue
			}
			v = p.Default
		}

		c, err := coerce(p.Kind, v)
		if err != nil {
			report(TypeMismatch, p.Name, fmt.Sprintf("argument %q: expected %s, got %v", p.Name, p.Kind, v))
			continue
		}
		out[p.Name] = c
	}

	var unknown []string
	for name := range raw {
		if !declared[name] {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		report(UnknownArgument, name, fmt.Sprintf("unknown argument %q", name))
	}

	if kind != "" {
		return nil, Errorf(kind, "%s", strings.Join(problems, "; ")).WithData(data)
	}
	return out, nil
}

// int64 bounds as float64; maxInt64Float itself is out of range.
const (
	minInt64Float = -9223372036854775808.0
	maxInt64Float = 9223372036854775808.0
)

// coerce converts v to the Go type of kind. Strings are accepted for
// numbers and booleans only when they parse cleanly, and a scalar is lifted
// into a one-element list. Anything else of the wrong type fails.
func coerce(kind ParamKind, v interface{}) (interface{}, error) {
	switch kind {
	case ParamString:
		var s string
		err := strictDecode(v, &s)
		return s, err
	case ParamNumber:
		return coerceFloat(v)
	case ParamInteger:
		if f, ok := v.(float64); ok {
			if f != math.Trunc(f) {
				return nil, fmt.Errorf("%v is not an integer", v)
			}
			if f < minInt64Float || f >= maxInt64Float {
				return nil, fmt.Errorf("%v does not fit in a 64-bit integer", v)
			}
		}
		var i int64
		err := strictDecode(v, &i)
		return i, err
	case ParamBoolean:
		var b bool
		err := strictDecode(v, &b)
		return b, err
	case ParamStringList:
		items, err := listItems(v)
		if err != nil {
			return nil, err
		}
		ss := []string{}
		err = strictDecode(items, &ss)
		return ss, err
	case ParamNumberList:
		items, err := listItems(v)
		if err != nil {
			return nil, err
		}
		fs := make([]float64, 0, len(items))
		for i, item := range items {
			f, err := coerceFloat(item)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			fs = append(fs, f)
		}
		return fs, nil
	}
	return nil, fmt.Errorf("unknown parameter kind %q", kind)
}

func coerceFloat(v interface{}) (float64, error) {
	var f float64
	if err := strictDecode(v, &f); err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%v is not a finite number", v)
	}
	return f, nil
}

// listItems lifts a scalar into a one-element list and rejects null
// elements.
func listItems(v interface{}) ([]interface{}, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []interface{}{v}, nil
	}
	items := make([]interface{}, rv.Len())
	for i := range items {
		item := rv.Index(i).Interface()
		if item == nil {
			return nil, fmt.Errorf("element %d is null", i)
		}
		items[i] = item
	}
	return items, nil
}

// parseScalarString turns non-empty numeric and boolean strings into the
// target type. Other inputs pass through for mapstructure to check.
func parseScalarString(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String {
		return data, nil
	}
	s := strings.TrimSpace(data.(string))

	switch to.Kind() {
	case reflect.Float32, reflect.Float64:
		if s == "" {
			return nil, fmt.Errorf("empty string is not a number")
		}
		return strconv.ParseFloat(s, 64)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if s == "" {
			return nil, fmt.Errorf("empty string is not an integer")
		}
		return strconv.ParseInt(s, 10, 64)
	case reflect.Bool:
		return strconv.ParseBool(s)
	}
	return data, nil
}

func strictDecode(input, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: parseScalarString,
		Result:     out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}
