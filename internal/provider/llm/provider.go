package llm

import (
	"context"
	"fmt"
	"strconv"

	"genflow/internal/generation"
	"genflow/internal/provider"
	"genflow/internal/services"
)

// Name is the registry name of the llm provider.
const Name = "llm"

// Provider adapts Client to provider.Provider for text generations.
type Provider struct {
	client *Client
	name   string
}

// NewProvider wraps client. An empty name registers as "llm".
func NewProvider(client *Client, name string) *Provider {
	if name == "" {
		name = Name
	}
	return &Provider{client: client, name: name}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Supports(kind generation.Kind) bool { return kind == generation.KindText }

// Prepare resolves the model and sampling parameters the request will use.
func (p *Provider) Prepare(call provider.Call) (map[string]any, error) {
	params := make(map[string]any, len(call.Parameters)+1)
	for key, value := range call.Parameters {
		params[key] = value
	}
	params["model"] = p.client.model(call.Model)
	if raw, ok := params["temperature"]; ok {
		temp, err := toFloat(raw)
		if err != nil || temp < 0 || temp > 2 {
			return nil, services.Wrap(services.ErrValidation, "llm", "prepare", fmt.Sprintf("temperature %v out of range", raw), nil)
		}
		params["temperature"] = temp
	}
	if raw, ok := params["max_tokens"]; ok {
		n, err := toFloat(raw)
		if err != nil || n <= 0 {
			return nil, services.Wrap(services.ErrValidation, "llm", "prepare", fmt.Sprintf("max_tokens %v invalid", raw), nil)
		}
		params["max_tokens"] = int(n)
	}
	return params, nil
}

// Generate streams a chat completion into stream.
func (p *Provider) Generate(ctx context.Context, call provider.Call, stream provider.Stream) (provider.Output, error) {
	payload := chatCompletionRequest{
		Model: p.client.model(call.Model),
		Usage: map[string]any{"include": true},
	}
	if model, ok := call.Parameters["model"].(string); ok && model != "" {
		payload.Model = model
	}
	if temp, ok := call.Parameters["temperature"].(float64); ok {
		payload.Temperature = &temp
	}
	if n, ok := call.Parameters["max_tokens"].(int); ok {
		payload.MaxTokens = n
	}
	if call.SystemPrompt != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: call.SystemPrompt})
	}
	payload.Messages = append(payload.Messages, chatMessage{Role: "user", Content: call.Prompt})

	result, err := p.client.streamChat(ctx, payload, streamSink{stream})
	if err != nil {
		return provider.Output{}, services.Wrap(services.ErrProvider, "llm", "generate", "chat completion failed", err)
	}
	return provider.Output{
		Result: generation.Result{Text: result.Text, MIMEType: "text/plain"},
		Cost:   result.Cost,
	}, nil
}

type streamSink struct {
	stream provider.Stream
}

func (s streamSink) token(id string) { s.stream.Token(id) }

func (s streamSink) chunk(text string) { s.stream.Chunk(text) }

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("unsupported numeric value %T", value)
	}
}
