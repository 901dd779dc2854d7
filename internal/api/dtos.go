package api

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/josephai/jai-chat/internal/core"
	"github.com/josephai/jai-chat/internal/store"
)

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

// fieldErrors runs struct validation and returns a field -> failed rule map.
func fieldErrors(dto any) (map[string]string, bool) {
	errs := validate.Struct(dto)
	if errs == nil {
		return nil, true
	}
	out := map[string]string{}
	verrs, ok := errs.(validator.ValidationErrors)
	if !ok {
		out["_"] = errs.Error()
		return out, false
	}
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		out[fe.Field()] = rule
	}
	return out, false
}

type SignupRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Name     string `json:"name" validate:"max=100"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}

func (dto *SignupRequest) Ok() (map[string]string, bool) {
	dto.Username = strings.TrimSpace(dto.Username)
	return fieldErrors(dto)
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (dto *LoginRequest) Ok() (map[string]string, bool) { return fieldErrors(dto) }

type AuthResponse struct {
	User  *store.User `json:"user"`
	Token string      `json:"token"`
}

type CreateChatRequest struct {
	Title string `json:"title" validate:"max=200"`
}

func (dto *CreateChatRequest) Ok() (map[string]string, bool) { return fieldErrors(dto) }

type ChatRequest struct {
	ChatID   string `json:"chatId" validate:"required"`
	Message  string `json:"message" validate:"max=32000"`
	ImageURL string `json:"imageUrl" validate:"omitempty,max=20000000"`
	Mode     string `json:"mode"`
}

func (dto *ChatRequest) Ok() (map[string]string, bool) { return fieldErrors(dto) }

type ChatResponse struct {
	Chat        *store.Chat    `json:"chat"`
	UserMessage *store.Message `json:"userMessage"`
	AIMessage   *store.Message `json:"aiMessage"`
	Outcome     core.Outcome   `json:"outcome"`
}

type TriggerDTO struct {
	Trigger  string `json:"trigger" validate:"max=500"`
	Response string `json:"response" validate:"max=5000"`
}

type ModelConfigRequest struct {
	ModeKey          string       `json:"modeKey" validate:"required"`
	BasePrompt       string       `json:"basePrompt" validate:"max=20000"`
	EventTriggers    []TriggerDTO `json:"eventTriggers" validate:"max=200,dive"`
	RandomInjections []string     `json:"randomInjections" validate:"max=200,dive,max=2000"`
}

func (dto *ModelConfigRequest) Ok() (map[string]string, bool) { return fieldErrors(dto) }

func (dto *ModelConfigRequest) ToModelConfig() core.ModelConfig {
	triggers := make([]store.EventTrigger, 0, len(dto.EventTriggers))
	for _, t := range dto.EventTriggers {
		triggers = append(triggers, store.EventTrigger{Trigger: t.Trigger, Response: t.Response})
	}
	return core.ModelConfig{
		ModeKey:          dto.ModeKey,
		BasePrompt:       dto.BasePrompt,
		EventTriggers:    triggers,
		RandomInjections: dto.RandomInjections,
	}
}
