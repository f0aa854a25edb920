package mcp

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

const defaultPageSize = 50

// ResourceHandler renders a resource. captures holds the placeholder
// values matched from the requested URI.
type ResourceHandler func(rc *RequestContext, captures map[string]string) (string, error)

// ToolHandler runs a tool against bound arguments.
type ToolHandler func(rc *RequestContext, args Arguments) (string, error)

// PromptHandler renders a prompt template.
type PromptHandler func(args Arguments) (string, error)

type ResourceEntry struct {
	Pattern     *URIPattern
	Name        string
	Description string
	MimeType    string
	Handler     ResourceHandler
}

type ToolEntry struct {
	Name        string
	Description string
	Params      []ParamSpec
	InputSchema json.RawMessage
	Handler     ToolHandler

	schema *gojsonschema.Schema
}

type PromptEntry struct {
	Name        string
	Description string
	Params      []ParamSpec
	Handler     PromptHandler
}

type entryOptions struct {
	name        string
	description string
	mimeType    string
}

// EntryOption sets descriptive metadata on a registration.
type EntryOption func(*entryOptions)

func WithName(name string) EntryOption {
	return func(o *entryOptions) { o.name = name }
}

func WithDescription(description string) EntryOption {
	return func(o *entryOptions) { o.description = description }
}

func WithMimeType(mimeType string) EntryOption {
	return func(o *entryOptions) { o.mimeType = mimeType }
}

// Registry holds the three endpoint namespaces. Registration happens before
// serving; lookups are safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	resources map[string]*ResourceEntry
	tools     map[string]*ToolEntry
	prompts   map[string]*PromptEntry
}

func NewRegistry() *Registry {
	return &Registry{
		resources: make(map[string]*ResourceEntry),
		tools:     make(map[string]*ToolEntry),
		prompts:   make(map[string]*PromptEntry),
	}
}

// RegisterResource adds a resource under pattern. It fails when the pattern
// is already registered, or when some URI would match it and an existing
// pattern with the same number of placeholders.
func (r *Registry) RegisterResource(pattern string, handler ResourceHandler, opts ...EntryOption) error {
	if handler == nil {
		return Errorf(InvalidRegistration, "resource %q: nil handler", pattern)
	}
	compiled, err := ParseURIPattern(pattern)
	if err != nil {
		return Errorf(InvalidRegistration, "resource %q: %w", pattern, err)
	}

	o := applyOptions(pattern, opts)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.resources[pattern]; exists {
		return Errorf(DuplicateRegistration, "duplicate resource: %s", pattern)
	}
	for raw, existing := range r.resources {
		if existing.Pattern.Arity() == compiled.Arity() && existing.Pattern.Overlaps(compiled) {
			return Errorf(AmbiguousRegistration, "resource %s is ambiguous with %s", pattern, raw)
		}
	}

	r.resources[pattern] = &ResourceEntry{
		Pattern:     compiled,
		Name:        o.name,
		Description: o.description,
		MimeType:    o.mimeType,
		Handler:     handler,
	}
	return nil
}

// RegisterTool adds a tool. Its JSON input schema is derived from params.
func (r *Registry) RegisterTool(name string, params []ParamSpec, handler ToolHandler, opts ...EntryOption) error {
	if name == "" || handler == nil {
		return Errorf(InvalidRegistration, "tool %q: name and handler are required", name)
	}
	if err := validateParams("tool "+name, params); err != nil {
		return err
	}
	raw, compiled, err := inputSchema(params)
	if err != nil {
		return Errorf(InvalidRegistration, "tool %s: %w", name, err)
	}

	o := applyOptions(name, opts)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return Errorf(DuplicateRegistration, "duplicate tool: %s", name)
	}
	r.tools[name] = &ToolEntry{
		Name:        name,
		Description: o.description,
		Params:      append([]ParamSpec(nil), params...),
		InputSchema: raw,
		Handler:     handler,
		schema:      compiled,
	}
	return nil
}

// RegisterPrompt adds a prompt. Prompt parameters are always optional.
func (r *Registry) RegisterPrompt(name string, params []ParamSpec, handler PromptHandler, opts ...EntryOption) error {
	if name == "" || handler == nil {
		return Errorf(InvalidRegistration, "prompt %q: name and handler are required", name)
	}
	for _, p := range params {
		if p.Required {
			return Errorf(InvalidRegistration, "prompt %s: parameter %q must be optional", name, p.Name)
		}
	}
	if err := validateParams("prompt "+name, params); err != nil {
		return err
	}

	o := applyOptions(name, opts)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.prompts[name]; exists {
		return Errorf(DuplicateRegistration, "duplicate prompt: %s", name)
	}
	r.prompts[name] = &PromptEntry{
		Name:        name,
		Description: o.description,
		Params:      append([]ParamSpec(nil), params...),
		Handler:     handler,
	}
	return nil
}

// FindResource returns the entry matching uri with the fewest placeholders.
func (r *Registry) FindResource(uri string) (*ResourceEntry, map[string]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best     *ResourceEntry
		captures map[string]string
	)
	for _, entry := range r.resources {
		c, ok := entry.Pattern.Match(uri)
		if !ok {
			continue
		}
		if best == nil || entry.Pattern.Arity() < best.Pattern.Arity() {
			best, captures = entry, c
		}
	}
	if best == nil {
		return nil, nil, Errorf(ResourceNotFound, "resource not found: %s", uri).
			WithData(map[string]string{"uri": uri})
	}
	return best, captures, nil
}

func (r *Registry) FindTool(name string) (*ToolEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.tools[name]
	if !ok {
		return nil, Errorf(ToolNotFound, "tool not found: %s", name).
			WithData(map[string]string{"tool": name})
	}
	return entry, nil
}

func (r *Registry) FindPrompt(name string) (*PromptEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.prompts[name]
	if !ok {
		return nil, Errorf(PromptNotFound, "prompt not found: %s", name).
			WithData(map[string]string{"prompt": name})
	}
	return entry, nil
}

// ListResources pages through placeholder-free resources sorted by URI.
func (r *Registry) ListResources(cursor string, limit int) ListResourcesResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var uris []string
	for raw, entry := range r.resources {
		if entry.Pattern.Arity() == 0 {
			uris = append(uris, raw)
		}
	}

	page, next := paginate(uris, cursor, limit)
	result := ListResourcesResult{Resources: make([]Resource, 0, len(page)), NextCursor: next}
	for _, uri := range page {
		e := r.resources[uri]
		result.Resources = append(result.Resources, Resource{
			URI:         uri,
			Name:        e.Name,
			Description: e.Description,
			MimeType:    e.MimeType,
		})
	}
	return result
}

// ListResourceTemplates pages through templated resources sorted by pattern.
func (r *Registry) ListResourceTemplates(cursor string, limit int) ListResourceTemplatesResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var patterns []string
	for raw, entry := range r.resources {
		if entry.Pattern.Arity() > 0 {
			patterns = append(patterns, raw)
		}
	}

	page, next := paginate(patterns, cursor, limit)
	result := ListResourceTemplatesResult{ResourceTemplates: make([]ResourceTemplate, 0, len(page)), NextCursor: next}
	for _, raw := range page {
		e := r.resources[raw]
		result.ResourceTemplates = append(result.ResourceTemplates, ResourceTemplate{
			URITemplate: raw,
			Name:        e.Name,
			Description: e.Description,
			MimeType:    e.MimeType,
		})
	}
	return result
}

func (r *Registry) ListTools(cursor string, limit int) ListToolsResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}

	page, next := paginate(names, cursor, limit)
	result := ListToolsResult{Tools: make([]Tool, 0, len(page)), NextCursor: next}
	for _, name := range page {
		e := r.tools[name]
		result.Tools = append(result.Tools, Tool{
			Name:        e.Name,
			Description: e.Description,
			InputSchema: e.InputSchema,
		})
	}
	return result
}

func (r *Registry) ListPrompts(cursor string, limit int) ListPromptsResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.prompts))
	for name := range r.prompts {
		names = append(names, name)
	}

	page, next := paginate(names, cursor, limit)
	result := ListPromptsResult{Prompts: make([]Prompt, 0, len(page)), NextCursor: next}
	for _, name := range page {
		e := r.prompts[name]
		prompt := Prompt{Name: e.Name, Description: e.Description}
		for _, p := range e.Params {
			prompt.Arguments = append(prompt.Arguments, PromptArgument{
				Name:        p.Name,
				Description: p.Description,
			})
		}
		result.Prompts = append(result.Prompts, prompt)
	}
	return result
}

// paginate sorts keys and returns the page following cursor. The next
// cursor is the last key of the page when more keys remain; an unknown
// cursor yields an empty page.
func paginate(keys []string, cursor string, limit int) ([]string, string) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	sort.Strings(keys)

	start := 0
	if cursor != "" {
		idx := sort.SearchStrings(keys, cursor)
		if idx >= len(keys) || keys[idx] != cursor {
			return nil, ""
		}
		start = idx + 1
	}
	if start >= len(keys) {
		return nil, ""
	}

	end := start + limit
	if end > len(keys) {
		end = len(keys)
	}

	next := ""
	if end < len(keys) {
		next = keys[end-1]
	}
	return keys[start:end], next
}

func applyOptions(defaultName string, opts []EntryOption) entryOptions {
	o := entryOptions{name: defaultName}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
