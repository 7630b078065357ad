package mcprt

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"

	"github.com/hazyhaar/dbmcp/internal/errs"
	"github.com/hazyhaar/pkg/kit"
)

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*registeredTool)}
}

// Use appends middleware. The first one added is outermost.
func (r *Registry) Use(mw ...MiddlewareFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw...)
}

// Register adds a tool and compiles its input schema.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return errors.New("tool name is empty")
	}
	if d.Handler == nil {
		return errors.Newf("tool %s has no handler", d.Name)
	}

	raw, err := inputSchema(d)
	if err != nil {
		return errors.Wrapf(err, "tool %s", d.Name)
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return errors.Wrapf(err, "compiling schema for %s", d.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[d.Name]; dup {
		return errors.Newf("tool %s already registered", d.Name)
	}
	r.tools[d.Name] = &registeredTool{desc: d, raw: raw, schema: compiled}
	r.order = append(r.order, d.Name)
	return nil
}

// Descriptors returns the tools in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].desc)
	}
	return out
}

// InputSchema returns the JSON Schema of a registered tool.
func (r *Registry) InputSchema(name string) (json.RawMessage, bool) {
	t, ok := r.lookup(name)
	if !ok {
		return nil, false
	}
	return t.raw, true
}

func (r *Registry) lookup(name string) (*registeredTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Execute validates args against the tool's schema, fills defaults and runs
// the handler through the middleware chain. Unknown parameters are ignored.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (result string, err error) {
	t, ok := r.lookup(name)
	if !ok {
		return "", errs.Validation("unknown tool: %s", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := t.validate(args); err != nil {
		return "", err
	}

	ep := func(ctx context.Context, req any) (any, error) {
		return t.desc.Handler(ctx, req.(Args))
	}
	if mw := r.chain(name); mw != nil {
		ep = mw(ep)
	}

	defer func() {
		if p := recover(); p != nil {
			slog.Error("tool panicked", "tool", name, "panic", p)
			result, err = "", errors.Newf("tool %s failed: %v", name, p)
		}
	}()

	out, err := ep(ctx, t.withDefaults(args))
	if err != nil {
		return "", err
	}
	s, _ := out.(string)
	return s, nil
}

func (t *registeredTool) validate(args map[string]any) error {
	res, err := t.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return errs.Validation("arguments for %s: %v", t.desc.Name, err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		if e.Field() == "(root)" {
			msgs = append(msgs, e.Description())
		} else {
			msgs = append(msgs, e.Field()+": "+e.Description())
		}
	}
	sort.Strings(msgs)
	return errs.Validation("invalid arguments for %s: %s", t.desc.Name, strings.Join(msgs, "; "))
}

func (t *registeredTool) withDefaults(args map[string]any) Args {
	out := make(Args, len(args)+len(t.desc.Params))
	for k, v := range args {
		out[k] = v
	}
	for _, p := range t.desc.Params {
		if _, set := out[p.Name]; !set && p.Default != nil {
			out[p.Name] = p.Default
		}
	}
	return out
}

// inputSchema builds the tool's object schema with properties in
// declaration order.
func inputSchema(d Descriptor) (json.RawMessage, error) {
	s := &jsonschema.Schema{
		Type:       "object",
		Properties: jsonschema.NewProperties(),
	}
	for _, p := range d.Params {
		if p.Name == "" {
			return nil, errors.New("parameter with empty name")
		}
		if !p.Type.valid() {
			return nil, errors.Newf("parameter %s: unsupported type %q", p.Name, p.Type)
		}
		if _, dup := s.Properties.Get(p.Name); dup {
			return nil, errors.Newf("parameter %s declared twice", p.Name)
		}
		ps := &jsonschema.Schema{Type: string(p.Type), Description: p.Description, Default: p.Default}
		if p.Type == Array && len(p.Items) > 0 {
			items := &jsonschema.Schema{}
			for _, it := range p.Items {
				if !it.valid() || it == Array {
					return nil, errors.Newf("parameter %s: unsupported item type %q", p.Name, it)
				}
				items.AnyOf = append(items.AnyOf, &jsonschema.Schema{Type: string(it)})
			}
			ps.Items = items
		}
		s.Properties.Set(p.Name, ps)
		if p.Required {
			s.Required = append(s.Required, p.Name)
		}
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, "marshal schema")
	}
	return raw, nil
}

// chain composes the middleware for one tool, or returns nil when none is
// installed.
func (r *Registry) chain(tool string) kit.Middleware {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.middleware) == 0 {
		return nil
	}
	mws := make([]kit.Middleware, len(r.middleware))
	for i, mw := range r.middleware {
		mws[i] = mw(tool)
	}
	return kit.Chain(mws[0], mws[1:]...)
}
