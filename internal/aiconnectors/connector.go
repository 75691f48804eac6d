package aiconnectors

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/cohere"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/replyradar/internal/llm"
)

// Provider represents an AI provider type
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderClaude Provider = "claude"
	ProviderCohere Provider = "cohere"
	ProviderOllama Provider = "ollama"
)

// ConnectorOptions contains options for creating a connector
type ConnectorOptions struct {
	Provider Provider `json:"provider" koanf:"provider"`
	APIKey   string   `json:"api_key" koanf:"api_key"`
	BaseURL  string   `json:"base_url,omitempty" koanf:"base_url"`
	// Model is the default model; a CompletionRequest may override it.
	Model string `json:"model,omitempty" koanf:"model"`
}

// Connector adapts a langchaingo model to the llm.Completer contract
type Connector struct {
	provider Provider
	model    llms.Model
	options  ConnectorOptions
}

// NewConnector creates a new connector for the specified provider
func NewConnector(ctx context.Context, options ConnectorOptions) (*Connector, error) {
	var model llms.Model
	var err error

	log.Debug().
		Str("provider", string(options.Provider)).
		Str("model", options.Model).
		Msg("Creating new connector")

	switch options.Provider {
	case ProviderOpenAI:
		model, err = createOpenAIModel(options)
	case ProviderGemini:
		model, err = createGeminiModel(ctx, options)
	case ProviderClaude:
		model, err = createAnthropicModel(options)
	case ProviderCohere:
		model, err = createCohereModel(options)
	case ProviderOllama:
		model, err = createOllamaModel(options)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", options.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", options.Provider, err)
	}

	return NewConnectorFromModel(options, model), nil
}

// NewConnectorFromModel wraps an already constructed langchaingo model.
func NewConnectorFromModel(options ConnectorOptions, model llms.Model) *Connector {
	return &Connector{provider: options.Provider, model: model, options: options}
}

func createOpenAIModel(options ConnectorOptions) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithModel(options.Model),
		openai.WithToken(options.APIKey),
	}
	if options.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(options.BaseURL))
	}
	return openai.New(opts...)
}

func createGeminiModel(ctx context.Context, options ConnectorOptions) (llms.Model, error) {
	opts := []googleai.Option{
		googleai.WithAPIKey(options.APIKey),
	}
	if options.Model != "" {
		opts = append(opts, googleai.WithDefaultModel(options.Model))
	}
	model, err := googleai.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini model: %w", err)
	}
	return model, nil
}

func createAnthropicModel(options ConnectorOptions) (llms.Model, error) {
	return anthropic.New(
		anthropic.WithToken(options.APIKey),
		anthropic.WithModel(options.Model),
	)
}

func createCohereModel(options ConnectorOptions) (llms.Model, error) {
	opts := []cohere.Option{
		cohere.WithToken(options.APIKey),
		cohere.WithModel(options.Model),
	}
	if options.BaseURL != "" {
		opts = append(opts, cohere.WithBaseURL(options.BaseURL))
	}
	return cohere.New(opts...)
}

func createOllamaModel(options ConnectorOptions) (llms.Model, error) {
	if options.BaseURL == "" {
		options.BaseURL = "http://localhost:11434"
	}
	return ollama.New(
		ollama.WithServerURL(options.BaseURL),
		ollama.WithModel(options.Model),
	)
}

// Complete implements llm.Completer.
func (c *Connector) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	modelName := req.Model
	if modelName == "" {
		modelName = c.options.Model
	}

	messages := make([]llms.MessageContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, llms.TextParts(messageType(m.Role), m.Content))
	}

	callOptions := []llms.CallOption{
		llms.WithModel(modelName),
		llms.WithTemperature(req.Temperature),
	}
	if req.MaxTokens > 0 {
		callOptions = append(callOptions, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.JSONMode {
		callOptions = append(callOptions, llms.WithJSONMode())
	}

	resp, err := c.model.GenerateContent(ctx, messages, callOptions...)
	if err != nil {
		return nil, classifyError(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return &llm.Completion{Model: modelName}, nil
	}

	choice := resp.Choices[0]
	in, out := tokenUsage(choice.GenerationInfo)
	return &llm.Completion{
		Text:         choice.Content,
		Model:        modelName,
		InputTokens:  in,
		OutputTokens: out,
	}, nil
}

// Provider returns the provider of this connector
func (c *Connector) Provider() Provider {
	return c.provider
}

// Model returns the default model name
func (c *Connector) Model() string {
	return c.options.Model
}

func messageType(r llm.Role) llms.ChatMessageType {
	switch r {
	case llm.RoleSystem:
		return llms.ChatMessageTypeSystem
	case llm.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

// Providers report usage under different keys in GenerationInfo.
var (
	inputTokenKeys  = []string{"PromptTokens", "InputTokens", "input_tokens", "prompt_tokens"}
	outputTokenKeys = []string{"CompletionTokens", "OutputTokens", "output_tokens", "completion_tokens"}
)

func tokenUsage(info map[string]any) (int, int) {
	return firstInt(info, inputTokenKeys), firstInt(info, outputTokenKeys)
}

func firstInt(info map[string]any, keys []string) int {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}

// classifyError maps provider SDK errors onto an HTTP-like status so retry and callers can
// tell transient failures from permanent ones.
func classifyError(err error) error {
	msg := strings.ToLower(err.Error())
	status := http.StatusBadGateway
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota"):
		status = http.StatusTooManyRequests
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "api key"):
		status = http.StatusUnauthorized
	case strings.Contains(msg, "400") || strings.Contains(msg, "invalid request"):
		status = http.StatusBadRequest
	case strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timeout"):
		status = http.StatusGatewayTimeout
	case strings.Contains(msg, "503") || strings.Contains(msg, "overloaded"):
		status = http.StatusServiceUnavailable
	}
	return &llm.StatusError{Status: status, Message: "provider error", Err: err}
}
