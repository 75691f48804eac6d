package aiconnectors

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/replyradar/internal/llm"
)

type fakeModel struct {
	gotMessages []llms.MessageContent
	gotOptions  llms.CallOptions
	resp        *llms.ContentResponse
	err         error
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.gotMessages = messages
	for _, o := range options {
		o(&f.gotOptions)
	}
	return f.resp, f.err
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return "", errors.New("not used")
}

func TestConnectorCompleteMapsMessagesAndUsage(t *testing.T) {
	fm := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        `{"ok":true}`,
		GenerationInfo: map[string]any{"PromptTokens": 120, "CompletionTokens": 15},
	}}}}
	c := NewConnectorFromModel(ConnectorOptions{Provider: ProviderOpenAI, Model: "gpt-4o-mini"}, fm)

	resp, err := c.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "sys"},
			{Role: llm.RoleUser, Content: "hi"},
		},
		Temperature: 0.3,
		MaxTokens:   200,
		JSONMode:    true,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"ok":true}`, resp.Text)
	assert.Equal(t, "gpt-4o-mini", resp.Model)
	assert.Equal(t, 120, resp.InputTokens)
	assert.Equal(t, 15, resp.OutputTokens)

	require.Len(t, fm.gotMessages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, fm.gotMessages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, fm.gotMessages[1].Role)
	assert.True(t, fm.gotOptions.JSONMode)
	assert.Equal(t, 200, fm.gotOptions.MaxTokens)
	assert.Equal(t, "gpt-4o-mini", fm.gotOptions.Model)
}

func TestConnectorAnthropicUsageKeys(t *testing.T) {
	fm := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        "draft",
		GenerationInfo: map[string]any{"InputTokens": 900, "OutputTokens": 80},
	}}}}
	c := NewConnectorFromModel(ConnectorOptions{Provider: ProviderClaude, Model: "claude-3-5-haiku"}, fm)

	resp, err := c.Complete(context.Background(), llm.CompletionRequest{Model: "claude-3-5-sonnet"})
	require.NoError(t, err)
	assert.Equal(t, "claude-3-5-sonnet", resp.Model)
	assert.Equal(t, 900, resp.InputTokens)
	assert.Equal(t, 80, resp.OutputTokens)
}

func TestConnectorClassifiesErrors(t *testing.T) {
	fm := &fakeModel{err: errors.New("API returned unexpected status code: 429: rate limit reached")}
	c := NewConnectorFromModel(ConnectorOptions{Provider: ProviderOpenAI, Model: "m"}, fm)

	_, err := c.Complete(context.Background(), llm.CompletionRequest{})

	var se *llm.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.Status)
}

func TestNewConnectorRejectsUnknownProvider(t *testing.T) {
	_, err := NewConnector(context.Background(), ConnectorOptions{Provider: "mystery"})
	assert.Error(t, err)
}
