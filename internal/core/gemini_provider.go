package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/josephai/jai-chat/internal/config"
	"github.com/josephai/jai-chat/internal/utils"
)

const defaultGeminiModelName = "gemini-1.5-flash"

type GeminiProvider struct {
	client    *genai.Client
	modelName string
}

func NewGeminiProvider(ctx context.Context, cfg config.ProviderConfig) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultGeminiModelName
	}
	return &GeminiProvider{client: client, modelName: modelName}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

func (p *GeminiProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	history, err := toGeminiContents(req.Messages)
	if err != nil {
		return "", err
	}
	if len(history) == 0 {
		return "", fmt.Errorf("prompt history is empty for chat completion")
	}
	last := history[len(history)-1]
	if last.Role != "user" {
		return "", fmt.Errorf("last message in history is not from 'user', cannot proceed with chat completion")
	}

	model := p.client.GenerativeModel(p.modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(req.SystemPrompt)},
	}
	model.SetTemperature(float32(req.Temperature))
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	chatSession := model.StartChat()
	chatSession.History = history[:len(history)-1]

	resp, err := chatSession.SendMessage(ctx, last.Parts...)
	if err != nil {
		return "", fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini: %w", ErrEmptyCompletion)
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			responseText.WriteString(string(txt))
		}
	}
	if strings.TrimSpace(responseText.String()) == "" {
		return "", fmt.Errorf("gemini: %w", ErrEmptyCompletion)
	}
	return responseText.String(), nil
}

// toGeminiContents maps messages onto Gemini roles ("user" and "model"). Images must be inline
// data URLs; Gemini cannot fetch arbitrary remote URLs, so such a turn fails the call and the
// orchestrator moves on to the next provider.
func toGeminiContents(messages []ChatMessage) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		parts := []genai.Part{genai.Text(m.Text)}
		if m.ImageURL != "" && role == "user" {
			mimeType, data, err := utils.ParseDataURL(m.ImageURL)
			if err != nil {
				return nil, fmt.Errorf("gemini: unsupported image reference: %w", err)
			}
			parts = append(parts, genai.Blob{MIMEType: mimeType, Data: data})
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents, nil
}
