package llm

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"repairbot/internal/logging"
	"repairbot/internal/tools"
	"repairbot/internal/turn"

	"google.golang.org/genai"
)

// GeminiConfig configures a GeminiClient.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	BaseURL     string // optional endpoint override
}

// GeminiClient implements Client and ToolCaller on the Gemini API.
type GeminiClient struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewGeminiClient creates a Gemini client.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiClient{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}, nil
}

// Model returns the configured model name.
func (c *GeminiClient) Model() string { return c.model }

func (c *GeminiClient) config() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{Temperature: genai.Ptr(c.temperature)}
}

// Generate returns the whole completion for prompt.
func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	timer := logging.StartTimer(logging.CategoryLLM, "generate")
	defer timer.Stop()

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, c.config())
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return resp.Text(), nil
}

// StreamGenerate yields chunks from the streaming endpoint. Nothing is
// buffered; each chunk is handed over as soon as it is decoded.
func (c *GeminiClient) StreamGenerate(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
		chunks := 0
		for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, c.config()) {
			if err != nil {
				yield("", fmt.Errorf("stream: %w", err))
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			chunks++
			if !yield(text, nil) {
				return
			}
		}
		logging.LLMDebug("stream finished: %d chunks", chunks)
	}
}

// Converse runs one step of the tool-calling loop.
func (c *GeminiClient) Converse(ctx context.Context, req ConverseRequest) (*ConverseResponse, error) {
	timer := logging.StartTimer(logging.CategoryLLM, "converse")
	defer timer.Stop()

	cfg := c.config()
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if decls := functionDeclarations(req.Tools); len(decls) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, buildContents(req), cfg)
	if err != nil {
		return nil, fmt.Errorf("converse: %w", err)
	}

	out := &ConverseResponse{Text: resp.Text()}
	for _, fc := range resp.FunctionCalls() {
		out.Calls = append(out.Calls, turn.ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
	}
	if um := resp.UsageMetadata; um != nil {
		out.PromptTokens = int(um.PromptTokenCount)
		out.CompletionTokens = int(um.CandidatesTokenCount)
	}
	logging.LLMDebug("converse: %d chars, %d tool calls", len(out.Text), len(out.Calls))
	return out, nil
}

// buildContents replays the transcript followed by every tool round trip.
func buildContents(req ConverseRequest) []*genai.Content {
	var contents []*genai.Content
	for _, m := range req.Transcript {
		switch m.Role {
		case turn.RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case turn.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		}
	}
	for _, ex := range req.Exchanges {
		call := genai.NewPartFromFunctionCall(ex.Call.Name, ex.Call.Args)
		call.FunctionCall.ID = ex.Call.ID
		contents = append(contents, genai.NewContentFromParts([]*genai.Part{call}, genai.RoleModel))

		result := genai.NewPartFromFunctionResponse(ex.Call.Name, map[string]any{"result": ex.Result})
		result.FunctionResponse.ID = ex.Call.ID
		contents = append(contents, genai.NewContentFromParts([]*genai.Part{result}, genai.RoleUser))
	}
	return contents
}

// functionDeclarations converts registry tools into Gemini declarations.
func functionDeclarations(ts []*tools.Tool) []*genai.FunctionDeclaration {
	var decls []*genai.FunctionDeclaration
	for _, t := range ts {
		params := &genai.Schema{
			Type:       genai.TypeObject,
			Properties: make(map[string]*genai.Schema, len(t.Schema.Properties)),
			Required:   t.Schema.Required,
		}
		for name, p := range t.Schema.Properties {
			prop := &genai.Schema{
				Type:        schemaType(p.Type),
				Description: p.Description,
			}
			// Gemini rejects array parameters without an element schema.
			if prop.Type == genai.TypeArray {
				prop.Items = &genai.Schema{Type: schemaType(p.Items)}
			}
			params.Properties[name] = prop
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return decls
}

func schemaType(t string) genai.Type {
	switch strings.ToLower(t) {
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}
