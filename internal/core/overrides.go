package core

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/josephai/jai-chat/internal/logger"
	"github.com/josephai/jai-chat/internal/metrics"
	"github.com/josephai/jai-chat/internal/modes"
	"github.com/josephai/jai-chat/internal/store"
)

// ConfigSource reads admin-edited overrides. *store.SQLStore and *store.CachedConfigStore both
// satisfy it.
type ConfigSource interface {
	GetCustomModelConfig(ctx context.Context, modeKey string) (*store.CustomModelConfig, error)
}

// RandomSource is the subset of *rand.Rand the engine draws from.
type RandomSource interface {
	Float64() float64
	IntN(n int) int
}

type DecisionKind int

const (
	NoOverride DecisionKind = iota
	CannedResponse
	PromptOverride
)

func (k DecisionKind) String() string {
	switch k {
	case CannedResponse:
		return "canned"
	case PromptOverride:
		return "prompt"
	default:
		return "none"
	}
}

// Decision is what the engine wants done with one chat turn. Text is set for CannedResponse.
// BasePrompt and InjectedPrefix are each optional for PromptOverride.
type Decision struct {
	Kind           DecisionKind
	Text           string
	BasePrompt     string
	InjectedPrefix string
}

type OverrideEngine struct {
	configs     ConfigSource
	probability float64
	log         *logger.Logger

	mu  sync.Mutex
	rng RandomSource
}

// NewOverrideEngine builds an engine that injects with the given probability. A nil rng falls
// back to the process-wide generator.
func NewOverrideEngine(configs ConfigSource, probability float64, rng RandomSource, log *logger.Logger) *OverrideEngine {
	if rng == nil {
		rng = globalRandom{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &OverrideEngine{configs: configs, probability: probability, rng: rng, log: log}
}

type globalRandom struct{}

func (globalRandom) Float64() float64 { return rand.Float64() }
func (globalRandom) IntN(n int) int   { return rand.IntN(n) }

// Decide never fails: a missing or unreadable config means NoOverride.
func (e *OverrideEngine) Decide(ctx context.Context, mode modes.Config, latestUserText string) Decision {
	d := e.decide(ctx, mode, latestUserText)
	if mode.Customizable {
		metrics.IncOverrideDecision(string(mode.ID), d.Kind.String())
	}
	return d
}

func (e *OverrideEngine) decide(ctx context.Context, mode modes.Config, latestUserText string) Decision {
	if !mode.Customizable || e.configs == nil {
		return Decision{Kind: NoOverride}
	}

	cfg, err := e.configs.GetCustomModelConfig(ctx, string(mode.ID))
	if err != nil {
		e.log.Warn("Custom model config unavailable, using default prompt", "mode", mode.ID, "error", err)
		return Decision{Kind: NoOverride}
	}
	if cfg == nil {
		return Decision{Kind: NoOverride}
	}

	triggers, err := parseTriggers(cfg.EventTriggers)
	if err != nil {
		e.log.Warn("Malformed event triggers, using default prompt", "mode", mode.ID, "error", err)
		return Decision{Kind: NoOverride}
	}
	injections, err := parseInjections(cfg.RandomInjections)
	if err != nil {
		e.log.Warn("Malformed random injections, using default prompt", "mode", mode.ID, "error", err)
		return Decision{Kind: NoOverride}
	}

	message := normalize(latestUserText)
	for _, t := range triggers {
		if !strings.Contains(message, normalize(t.Trigger)) {
			continue
		}
		// A matched trigger without a response ends the scan without a canned reply.
		if strings.TrimSpace(t.Response) == "" {
			break
		}
		return Decision{Kind: CannedResponse, Text: t.Response}
	}

	d := Decision{BasePrompt: strings.TrimSpace(cfg.BasePrompt)}
	if len(injections) > 0 {
		e.mu.Lock()
		if e.rng.Float64() < e.probability {
			d.InjectedPrefix = injections[e.rng.IntN(len(injections))]
		}
		e.mu.Unlock()
	}
	if d.BasePrompt != "" || d.InjectedPrefix != "" {
		d.Kind = PromptOverride
	}
	return d
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// parseTriggers keeps well-formed {trigger, response} objects in order. A blank response is
// well-formed; a blank trigger is not. Only a non-array document is an error.
func parseTriggers(raw json.RawMessage) ([]store.EventTrigger, error) {
	items, err := rawArray(raw)
	if err != nil {
		return nil, err
	}
	out := make([]store.EventTrigger, 0, len(items))
	for _, item := range items {
		var entry struct {
			Trigger  *string `json:"trigger"`
			Response *string `json:"response"`
		}
		if json.Unmarshal(item, &entry) != nil || entry.Trigger == nil || entry.Response == nil {
			continue
		}
		if normalize(*entry.Trigger) == "" {
			continue
		}
		out = append(out, store.EventTrigger{Trigger: *entry.Trigger, Response: *entry.Response})
	}
	return out, nil
}

func parseInjections(raw json.RawMessage) ([]string, error) {
	items, err := rawArray(raw)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if json.Unmarshal(item, &s) != nil || strings.TrimSpace(s) == "" {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func rawArray(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
		return nil, fmt.Errorf("expected a JSON array: %w", err)
	}
	return items, nil
}
