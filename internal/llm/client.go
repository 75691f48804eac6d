package llm

import (
	"context"
	"fmt"
)

// Role is the author of one message in a completion request
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one ordered role/content pair
type Message struct {
	Role    Role
	Content string
}

// CompletionRequest describes a single paid completion call
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	// JSONMode asks the provider to respond with a single JSON object.
	JSONMode bool
}

// Completion is the provider's answer plus token usage for cost attribution
type Completion struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Completer is the LLM completion collaborator.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// StatusError is a provider failure with an HTTP-like status code.
type StatusError struct {
	Status  int
	Message string
	Err     error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm request failed (status %d): %s: %v", e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("llm request failed (status %d): %s", e.Status, e.Message)
}

func (e *StatusError) Unwrap() error { return e.Err }

// StatusCode implements retry.StatusCoder.
func (e *StatusError) StatusCode() int { return e.Status }

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, req CompletionRequest) (*Completion, error)

func (f CompleterFunc) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	return f(ctx, req)
}
