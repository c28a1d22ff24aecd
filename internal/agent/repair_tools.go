package agent

import (
	"context"

	"repairbot/internal/logging"
	"repairbot/internal/tools"
)

// Tool names offered to the model.
const (
	ToolFindDevice = "find_device"
	ToolListGuides = "list_guides"
	ToolGetGuide   = "get_guide"
	ToolWebSearch  = "web_search"
)

// NewRepairTools registers the directory and web lookups as model tools.
func NewRepairTools(dir Directory, web WebSearcher) (*tools.Registry, error) {
	reg := tools.NewRegistry()
	defs := []*tools.Tool{
		{
			Name:        ToolFindDevice,
			Description: "Search the iFixit directory for a device by name. Returns matching devices with their URLs.",
			Category:    tools.CategoryDirectory,
			Schema: tools.ToolSchema{
				Required: []string{"query"},
				Properties: map[string]tools.Property{
					"query": {Type: "string", Description: "Device name or problem description, e.g. \"iPhone 13\""},
				},
			},
			Execute: func(ctx context.Context, args map[string]any) (string, error) {
				q, err := tools.StringArg(args, "query")
				if err != nil {
					return "", err
				}
				return dir.SearchDevice(ctx, q)
			},
		},
		{
			Name:        ToolListGuides,
			Description: "List the iFixit repair guides for a device. Use the exact device title from find_device.",
			Category:    tools.CategoryDirectory,
			Schema: tools.ToolSchema{
				Required: []string{"device_title"},
				Properties: map[string]tools.Property{
					"device_title": {Type: "string", Description: "Exact device title, e.g. \"iPhone 13\""},
				},
			},
			Execute: func(ctx context.Context, args map[string]any) (string, error) {
				title, err := tools.StringArg(args, "device_title")
				if err != nil {
					return "", err
				}
				return dir.ListGuides(ctx, title)
			},
		},
		{
			Name:        ToolGetGuide,
			Description: "Fetch the step-by-step instructions, tools and images of one iFixit guide.",
			Category:    tools.CategoryDirectory,
			Schema: tools.ToolSchema{
				Required: []string{"guide_id"},
				Properties: map[string]tools.Property{
					"guide_id": {Type: "integer", Description: "Guide id from list_guides, the number in [brackets]"},
				},
			},
			Execute: func(ctx context.Context, args map[string]any) (string, error) {
				id, err := tools.StringArg(args, "guide_id")
				if err != nil {
					return "", err
				}
				return dir.GetGuide(ctx, id)
			},
		},
		{
			Name:        ToolWebSearch,
			Description: "Search the web for unofficial repair advice. Only use when iFixit has nothing relevant.",
			Category:    tools.CategoryWeb,
			Schema: tools.ToolSchema{
				Required: []string{"query"},
				Properties: map[string]tools.Property{
					"query": {Type: "string", Description: "Search query"},
				},
			},
			Execute: func(ctx context.Context, args map[string]any) (string, error) {
				q, err := tools.StringArg(args, "query")
				if err != nil {
					return "", err
				}
				return web.Search(ctx, q)
			},
		},
	}
	for _, t := range defs {
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	logging.Get(logging.CategoryTools).Debugw("repair tools ready", "count", reg.Len())
	return reg, nil
}
