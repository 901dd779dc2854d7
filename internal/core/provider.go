package core

import (
	"context"
	"errors"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is a provider-agnostic conversation message. ImageURL is either a remote URL or a
// base64 data URL.
type ChatMessage struct {
	Role     string
	Text     string
	ImageURL string
}

type CompletionRequest struct {
	SystemPrompt string
	Messages     []ChatMessage
	Temperature  float64
	MaxTokens    int64
}

// Provider is one LLM chat-completion endpoint. Implementations must be interchangeable: same
// request shape, different endpoint and credentials.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

var ErrEmptyCompletion = errors.New("provider returned an empty completion")
