package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/josephai/jai-chat/internal/logger"
	"github.com/josephai/jai-chat/internal/metrics"
	"github.com/josephai/jai-chat/internal/modes"
	"github.com/josephai/jai-chat/internal/store"
)

const (
	DegradedResponse    = "Sorry, the assistant is currently unavailable. Please try again later."
	ImageFallbackPrompt = "What's in this image?"
)

type Outcome string

const (
	OutcomeCanned   Outcome = "canned"
	OutcomeSuccess  Outcome = "success"
	OutcomeDegraded Outcome = "degraded"
)

type GenerationSettings struct {
	Temperature     float64
	MaxTokens       int64
	ProviderTimeout time.Duration
}

type Attempt struct {
	Provider string
	Duration time.Duration
	Err      error
}

type Result struct {
	Text     string
	Outcome  Outcome
	Provider string
	Decision Decision
	Attempts []Attempt
}

// Orchestrator composes a completion request for a chat turn and walks an ordered provider chain
// until one answers. It never returns an error: when every provider fails the turn gets
// DegradedResponse.
type Orchestrator struct {
	providers []Provider
	overrides *OverrideEngine
	settings  GenerationSettings
	log       *logger.Logger
}

func NewOrchestrator(providers []Provider, overrides *OverrideEngine, settings GenerationSettings, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.Nop()
	}
	if overrides == nil {
		overrides = NewOverrideEngine(nil, 0, nil, log)
	}
	if settings.ProviderTimeout <= 0 {
		settings.ProviderTimeout = 45 * time.Second
	}
	return &Orchestrator{providers: providers, overrides: overrides, settings: settings, log: log}
}

// ProviderNames lists the chain in fallback order.
func (o *Orchestrator) ProviderNames() []string {
	names := make([]string, 0, len(o.providers))
	for _, p := range o.providers {
		names = append(names, p.Name())
	}
	return names
}

// Generate produces the assistant text for history, whose last element is the turn being answered.
func (o *Orchestrator) Generate(ctx context.Context, history []store.Message, mode modes.Config) Result {
	decision := o.overrides.Decide(ctx, mode, latestUserText(history))
	if decision.Kind == CannedResponse {
		metrics.IncGeneration(string(OutcomeCanned))
		return Result{Text: decision.Text, Outcome: OutcomeCanned, Decision: decision}
	}

	systemPrompt := mode.SystemPrompt
	if decision.BasePrompt != "" {
		systemPrompt = decision.BasePrompt
	}
	req := CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     ComposeMessages(history),
		Temperature:  o.settings.Temperature,
		MaxTokens:    o.settings.MaxTokens,
	}

	result := Result{Decision: decision}
	for _, p := range o.providers {
		if ctx.Err() != nil {
			break
		}
		text, attempt := o.attempt(ctx, p, req)
		result.Attempts = append(result.Attempts, attempt)
		if attempt.Err != nil {
			o.log.Warn("Provider failed, trying next", "provider", p.Name(), "mode", mode.ID, "took", attempt.Duration, "error", attempt.Err)
			continue
		}
		if decision.InjectedPrefix != "" {
			text = decision.InjectedPrefix + "\n\n" + text
		}
		result.Text = text
		result.Outcome = OutcomeSuccess
		result.Provider = p.Name()
		metrics.IncGeneration(string(OutcomeSuccess))
		return result
	}

	if len(o.providers) == 0 {
		o.log.Warn("No LLM providers configured, returning degraded response", "mode", mode.ID)
	} else {
		o.log.Error("All LLM providers failed, returning degraded response", "mode", mode.ID, "attempts", len(result.Attempts))
	}
	result.Text = DegradedResponse
	result.Outcome = OutcomeDegraded
	metrics.IncGeneration(string(OutcomeDegraded))
	return result
}

func (o *Orchestrator) attempt(ctx context.Context, p Provider, req CompletionRequest) (string, Attempt) {
	callCtx, cancel := context.WithTimeout(ctx, o.settings.ProviderTimeout)
	defer cancel()

	start := time.Now()
	text, err := p.Complete(callCtx, req)
	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrEmptyCompletion
	}
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = errors.Join(err, errProviderTimeout)
	}
	took := time.Since(start)
	metrics.ObserveProviderAttempt(p.Name(), took, err)
	return text, Attempt{Provider: p.Name(), Duration: took, Err: err}
}

var errProviderTimeout = errors.New("provider call timed out")

// ComposeMessages maps stored turns onto provider roles. A turn with an image always carries a
// text part, using ImageFallbackPrompt when the user typed nothing.
func ComposeMessages(history []store.Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(history))
	for _, m := range history {
		if m.IsAI {
			out = append(out, ChatMessage{Role: RoleAssistant, Text: m.Content})
			continue
		}
		msg := ChatMessage{Role: RoleUser, Text: m.Content}
		if m.HasImage() {
			msg.ImageURL = *m.ImageURL
			if strings.TrimSpace(msg.Text) == "" {
				msg.Text = ImageFallbackPrompt
			}
		}
		out = append(out, msg)
	}
	return out
}

func latestUserText(history []store.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if !history[i].IsAI {
			return history[i].Content
		}
	}
	return ""
}
