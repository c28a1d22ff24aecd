// Package tools holds the function-calling tools offered to the model in the
// tool-calling pipeline, and the registry that validates and runs them.
package tools

import (
	"context"
	"fmt"
	"strconv"
)

// ToolCategory says which kind of source a tool consults.
type ToolCategory string

const (
	CategoryDirectory ToolCategory = "directory" // official repair guides
	CategoryWeb       ToolCategory = "web"       // unofficial web results
)

// Property is one argument in a tool's parameter schema. Items is the
// element type of an "array" property and defaults to "string".
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Items       string `json:"items,omitempty"`
}

// ToolSchema is the object schema of a tool's arguments.
type ToolSchema struct {
	Required   []string            `json:"required"`
	Properties map[string]Property `json:"properties"`
}

// Tool is a function the model may call. Description tells the model when
// to call it.
type Tool struct {
	Name        string
	Description string
	Category    ToolCategory
	Schema      ToolSchema
	Execute     func(ctx context.Context, args map[string]any) (string, error)
}

// Validate rejects tools that could never be called.
func (t *Tool) Validate() error {
	switch {
	case t.Name == "":
		return ErrToolNameEmpty
	case t.Execute == nil:
		return ErrToolExecuteNil
	}
	return nil
}

// ToolResult is the outcome of one call.
type ToolResult struct {
	ToolName   string
	Result     string
	Error      error
	DurationMs int64
}

// IsSuccess reports whether the call returned without error.
func (r *ToolResult) IsSuccess() bool { return r.Error == nil }

// Text is what the model sees: the result, or the error message.
func (r *ToolResult) Text() string {
	if r.Error != nil {
		return "Error: " + r.Error.Error()
	}
	return r.Result
}

// StringArg reads a string argument. Models often send numeric ids as JSON
// numbers, so whole numbers are accepted and formatted without a fraction.
func StringArg(args map[string]any, key string) (string, error) {
	switch v := args[key].(type) {
	case nil:
		return "", fmt.Errorf("%w: %s", ErrMissingRequiredArg, key)
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		if whole := int64(v); float64(whole) == v {
			return strconv.FormatInt(whole, 10), nil
		}
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("%w: %s is %T", ErrInvalidArgType, key, v)
	}
}
