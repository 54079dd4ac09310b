package tool

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/haasonsaas/agentrt/internal/llm"
)

// maxNameLength and maxParamsBytes mirror the reference registry's
// defensive bounds on tool name length and argument payload size.
const (
	maxNameLength  = 256
	maxParamsBytes = 10 * 1024 * 1024
)

// Registry is the process-wide tool catalog, RWMutex-protected like the
// reference implementation's map-backed registry.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t to the registry, rejecting names over maxNameLength.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if len(name) == 0 || len(name) > maxNameLength {
		return fmt.Errorf("tool: invalid name length for %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = t
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the tool registered under name, if any.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns every registered tool name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// AsLLMTools returns the function-definition list for every tool whose name
// is in allow (or every tool, if allow is nil), for use in an LLM request.
func (r *Registry) AsLLMTools(allow map[string]bool) []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if allow != nil && !allow[n] {
			continue
		}
		defs = append(defs, FunctionDefinition(r.tools[n]))
	}
	return defs
}

// UsageGuidance concatenates every registered tool's usage guidance for the
// system prompt assembly step (§4.5), in stable (name-sorted) order.
func (r *Registry) UsageGuidance() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, n := range names {
		g := r.tools[n].UsageGuidance()
		if g == "" {
			continue
		}
		b.WriteString(g)
		b.WriteString("\n")
	}
	return b.String()
}
