package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"repairbot/internal/logging"
)

// Registry is the set of tools the model may call during a tool-calling
// turn. Declaration order is preserved so the model always sees the same
// tool list.
type Registry struct {
	mu      sync.RWMutex
	entries []*Tool
	index   map[string]int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: map[string]int{}}
}

// Register validates and adds t. Names must be unique.
func (r *Registry) Register(t *Tool) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.index[t.Name]; dup {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, t.Name)
	}
	r.index[t.Name] = len(r.entries)
	r.entries = append(r.entries, t)

	logging.ToolsDebug("registered %s (%s)", t.Name, t.Category)
	return nil
}

// Lookup finds a tool by name.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.entries[i], true
}

// All returns the tools in registration order.
func (r *Registry) All() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Tool(nil), r.entries...)
}

// Len reports how many tools are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Execute runs the named tool. The returned result is never nil; on failure
// it carries the same error so callers can hand Text() back to the model.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	t, ok := r.Lookup(name)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrToolNotFound, name)
		return &ToolResult{ToolName: name, Error: err}, err
	}

	began := time.Now()
	res := &ToolResult{ToolName: name}
	if res.Error = checkArgs(t.Schema, args); res.Error == nil {
		res.Result, res.Error = t.Execute(ctx, args)
	}
	res.DurationMs = time.Since(began).Milliseconds()

	logging.Get(logging.CategoryTools).Debugw("tool call",
		"tool", name, "ok", res.Error == nil, "ms", res.DurationMs)
	return res, res.Error
}

// checkArgs enforces required keys and the coarse JSON types the schema
// declares. Numbers are accepted where strings are expected since the model
// often sends guide ids unquoted.
func checkArgs(schema ToolSchema, args map[string]any) error {
	for _, key := range schema.Required {
		if _, ok := args[key]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingRequiredArg, key)
		}
	}
	for key, v := range args {
		prop, declared := schema.Properties[key]
		if !declared {
			continue
		}
		var err error
		switch prop.Type {
		case "string", "integer":
			_, err = StringArg(args, key)
		case "boolean":
			if _, ok := v.(bool); !ok {
				err = fmt.Errorf("%w: %s is %T", ErrInvalidArgType, key, v)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}
