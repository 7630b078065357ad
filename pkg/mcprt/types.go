package mcprt

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/hazyhaar/pkg/kit"
)

// ParamType is the JSON Schema type of a tool parameter.
type ParamType string

const (
	String  ParamType = "string"
	Integer ParamType = "integer"
	Number  ParamType = "number"
	Boolean ParamType = "boolean"
	Array   ParamType = "array"
)

func (t ParamType) valid() bool {
	switch t {
	case String, Integer, Number, Boolean, Array:
		return true
	}
	return false
}

// Param declares one named tool argument.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	// Default fills the argument when the caller omits it.
	Default any
	// Items restricts array elements to these types. Empty means any.
	Items []ParamType
}

// Args are the validated arguments of one call.
type Args map[string]any

// String returns the named string argument, or "".
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Slice returns the named array argument, or nil.
func (a Args) Slice(name string) []any {
	s, _ := a[name].([]any)
	return s
}

// Handler runs one tool call and returns its text result.
type Handler func(ctx context.Context, args Args) (string, error)

// Descriptor is a tool's name, description, parameters and handler.
type Descriptor struct {
	Name        string
	Description string
	Params      []Param
	Handler     Handler
}

// MiddlewareFunc builds the middleware applied to calls of one tool.
type MiddlewareFunc func(tool string) kit.Middleware

// Registry is the explicit set of tools the server exposes. It is filled
// at startup and read-only afterwards.
type Registry struct {
	mu         sync.RWMutex
	tools      map[string]*registeredTool
	order      []string
	middleware []MiddlewareFunc
}

type registeredTool struct {
	desc   Descriptor
	raw    json.RawMessage
	schema *gojsonschema.Schema
}
