package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/kaptinlin/jsonschema"
	"github.com/mohae/deepcopy"
)

// -----------------------------------------------------------------------------
// Schema
// -----------------------------------------------------------------------------

// Schema is a JSON-Schema fragment in its raw map form. Fragments arrive from
// independently authored sources, so any field may be absent or malformed;
// accessors return zero values instead of failing.
type Schema map[string]any

func (s Schema) String() string {
	bytes, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(bytes)
}

func (s Schema) Compile() (*jsonschema.Schema, error) {
	if s == nil {
		return nil, nil
	}
	bytes, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	compiled, err := compiler.Compile(bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return compiled, nil
}

// Validate evaluates value against the schema and returns the reported
// errors, sorted by keyword for stable ordering. A nil slice means valid.
// A compile failure is returned as an error, not as a validation outcome.
func (s Schema) Validate(_ context.Context, value any) ([]ValidationError, error) {
	compiled, err := s.Compile()
	if err != nil {
		return nil, err
	}
	if compiled == nil {
		return nil, nil
	}
	result := compiled.Validate(value)
	if result.Valid {
		return nil, nil
	}
	errs := make([]ValidationError, 0, len(result.Errors))
	for keyword, evalErr := range result.Errors {
		errs = append(errs, ValidationError{Keyword: keyword, Message: evalErr.Error()})
	}
	sort.Slice(errs, func(i, j int) bool { return errs[i].Keyword < errs[j].Keyword })
	return errs, nil
}

// DeepCopy returns an independent copy of the schema. Fragments supplied by
// external catalogs must never be mutated in place, so every transformation
// starts from a copy.
func (s Schema) DeepCopy() Schema {
	if s == nil {
		return nil
	}
	copied, ok := deepcopy.Copy(map[string]any(s)).(map[string]any)
	if !ok {
		return Schema{}
	}
	return Schema(copied)
}

// Properties returns the "properties" map, or nil when absent or not a map.
func (s Schema) Properties() map[string]any {
	return s.childMap("properties")
}

// Definitions returns the local "definitions" map, or nil when absent.
func (s Schema) Definitions() map[string]any {
	return s.childMap("definitions")
}

// Property returns the named entry of the "properties" map as a Schema.
func (s Schema) Property(name string) (Schema, bool) {
	props := s.Properties()
	if props == nil {
		return nil, false
	}
	return AsSchema(props[name])
}

func (s Schema) childMap(key string) map[string]any {
	if s == nil {
		return nil
	}
	child, ok := s[key].(map[string]any)
	if !ok {
		return nil
	}
	return child
}

// AsSchema coerces a raw value into a Schema when it is a JSON object.
func AsSchema(v any) (Schema, bool) {
	switch t := v.(type) {
	case Schema:
		return t, true
	case map[string]any:
		return Schema(t), true
	default:
		return nil, false
	}
}

// -----------------------------------------------------------------------------
// ValidationError
// -----------------------------------------------------------------------------

// ValidationError is a single validator-reported failure.
type ValidationError struct {
	Keyword string `json:"keyword"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Keyword, e.Message)
}
