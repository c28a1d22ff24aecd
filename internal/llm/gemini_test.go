package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"repairbot/internal/tools"
	"repairbot/internal/turn"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func textResponse(text string) string {
	return fmt.Sprintf(`{"candidates":[{"content":{"role":"model","parts":[{"text":%q}]}}],
		"usageMetadata":{"promptTokenCount":12,"candidatesTokenCount":5}}`, text)
}

// fakeGemini serves generateContent and streamGenerateContent.
func fakeGemini(t *testing.T, handle func(w http.ResponseWriter, r *http.Request, body map[string]any)) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		handle(w, r, body)
	}))
	t.Cleanup(srv.Close)

	c, err := NewGeminiClient(context.Background(), GeminiConfig{APIKey: "test", Model: "gemini-test", BaseURL: srv.URL})
	require.NoError(t, err)
	return c
}

func TestNewGeminiClient_RequiresKey(t *testing.T) {
	t.Parallel()
	_, err := NewGeminiClient(context.Background(), GeminiConfig{})
	assert.Error(t, err)
}

func TestGeminiClient_Generate(t *testing.T) {
	t.Parallel()
	c := fakeGemini(t, func(w http.ResponseWriter, r *http.Request, _ map[string]any) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/gemini-test:generateContent"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(textResponse("Hello!")))
	})
	assert.Equal(t, "gemini-test", c.Model())

	out, err := c.Generate(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello!", out)
}

func TestGeminiClient_StreamGenerate(t *testing.T) {
	t.Parallel()
	c := fakeGemini(t, func(w http.ResponseWriter, r *http.Request, _ map[string]any) {
		assert.Contains(t, r.URL.Path, ":streamGenerateContent")
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range []string{"Step one. ", "Step two."} {
			fmt.Fprintf(w, "data: %s\n\n", strings.ReplaceAll(textResponse(chunk), "\n", ""))
		}
	})

	var got []string
	for chunk, err := range c.StreamGenerate(context.Background(), "prompt") {
		require.NoError(t, err)
		got = append(got, chunk)
	}
	assert.Equal(t, []string{"Step one. ", "Step two."}, got)
}

func TestGeminiClient_StreamRateLimited(t *testing.T) {
	t.Parallel()
	c := fakeGemini(t, func(w http.ResponseWriter, _ *http.Request, _ map[string]any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`))
	})

	var lastErr error
	for _, err := range c.StreamGenerate(context.Background(), "prompt") {
		lastErr = err
	}
	require.Error(t, lastErr)
	assert.True(t, IsRateLimited(lastErr))
}

func TestGeminiClient_Converse(t *testing.T) {
	t.Parallel()
	c := fakeGemini(t, func(w http.ResponseWriter, _ *http.Request, body map[string]any) {
		contents, _ := body["contents"].([]any)
		assert.Len(t, contents, 3, "user message, function call, function response")
		toolsField, _ := body["tools"].([]any)
		assert.Len(t, toolsField, 1)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[
			{"functionCall":{"name":"get_guide","args":{"guide_id":"145812"}}}]}}],
			"usageMetadata":{"promptTokenCount":40,"candidatesTokenCount":7}}`))
	})

	find := &tools.Tool{
		Name:        "find_device",
		Description: "find a device",
		Execute:     func(context.Context, map[string]any) (string, error) { return "", nil },
		Schema: tools.ToolSchema{
			Required:   []string{"query"},
			Properties: map[string]tools.Property{"query": {Type: "string"}},
		},
	}
	resp, err := c.Converse(context.Background(), ConverseRequest{
		System:     "be helpful",
		Transcript: []turn.Message{{Role: turn.RoleUser, Content: "iphone 13 screen"}},
		Exchanges: []turn.ToolExchange{{
			Call:   turn.ToolCall{Name: "find_device", Args: map[string]any{"query": "iphone 13"}},
			Result: "Found devices:\n- iPhone 13 (URL: u)",
		}},
		Tools: []*tools.Tool{find},
	})
	require.NoError(t, err)
	require.Len(t, resp.Calls, 1)
	assert.Equal(t, "get_guide", resp.Calls[0].Name)
	assert.Equal(t, "145812", resp.Calls[0].Args["guide_id"])
	assert.Equal(t, 40, resp.PromptTokens)
	assert.Equal(t, 7, resp.CompletionTokens)
}

func TestFunctionDeclarations(t *testing.T) {
	t.Parallel()
	decls := functionDeclarations([]*tools.Tool{{
		Name:        "get_guide",
		Description: "fetch a guide",
		Schema: tools.ToolSchema{
			Required: []string{"guide_id"},
			Properties: map[string]tools.Property{
				"guide_id": {Type: "integer", Description: "guide id"},
				"verbose":  {Type: "boolean"},
				"steps":    {Type: "array", Items: "integer"},
				"tags":     {Type: "array"},
			},
		},
	}})
	require.Len(t, decls, 1)
	assert.Equal(t, "get_guide", decls[0].Name)
	assert.Equal(t, []string{"guide_id"}, decls[0].Parameters.Required)
	assert.Equal(t, "INTEGER", string(decls[0].Parameters.Properties["guide_id"].Type))
	assert.Equal(t, "BOOLEAN", string(decls[0].Parameters.Properties["verbose"].Type))
	assert.Nil(t, decls[0].Parameters.Properties["verbose"].Items)

	steps := decls[0].Parameters.Properties["steps"]
	assert.Equal(t, genai.TypeArray, steps.Type)
	require.NotNil(t, steps.Items)
	assert.Equal(t, genai.TypeInteger, steps.Items.Type)
	require.NotNil(t, decls[0].Parameters.Properties["tags"].Items)
	assert.Equal(t, genai.TypeString, decls[0].Parameters.Properties["tags"].Items.Type)
}

func TestBuildContents_SkipsSystemMessages(t *testing.T) {
	t.Parallel()
	contents := buildContents(ConverseRequest{Transcript: []turn.Message{
		{Role: turn.RoleSystem, Content: "ignored"},
		{Role: turn.RoleUser, Content: "q"},
		{Role: turn.RoleAssistant, Content: "a"},
	}})
	require.Len(t, contents, 2)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
}
