package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/josephai/jai-chat/internal/auth"
	"github.com/josephai/jai-chat/internal/logger"
	"github.com/josephai/jai-chat/internal/modes"
	"github.com/josephai/jai-chat/internal/store"
)

type AdminStore interface {
	CreateAdminUser(ctx context.Context, username, passwordHash string) (*store.AdminUser, error)
	GetAdminByUsername(ctx context.Context, username string) (*store.AdminUser, error)
	GetAdminByID(ctx context.Context, id string) (*store.AdminUser, error)
}

type AdminService struct {
	admins  AdminStore
	configs store.ModelConfigStore
	log     *logger.Logger
}

func NewAdminService(admins AdminStore, configs store.ModelConfigStore, log *logger.Logger) *AdminService {
	if log == nil {
		log = logger.Nop()
	}
	return &AdminService{admins: admins, configs: configs, log: log}
}

// EnsureBootstrapAdmin creates the configured admin account if it does not exist yet. Blank
// credentials disable it.
func (s *AdminService) EnsureBootstrapAdmin(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil
	}
	existing, err := s.admins.GetAdminByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("failed to look up admin: %w", err)
	}
	if existing != nil {
		return nil
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}
	if _, err := s.admins.CreateAdminUser(ctx, username, hash); err != nil {
		return err
	}
	s.log.Info("Bootstrap admin created", "admin", username)
	return nil
}

func (s *AdminService) Login(ctx context.Context, username, password string) (*store.AdminUser, error) {
	admin, err := s.admins.GetAdminByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, fmt.Errorf("failed to look up admin: %w", err)
	}
	if admin == nil || !auth.CheckPasswordHash(password, admin.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return admin, nil
}

func (s *AdminService) GetAdmin(ctx context.Context, id string) (*store.AdminUser, error) {
	return s.admins.GetAdminByID(ctx, id)
}

// ModelConfig is the admin view of one mode's overrides.
type ModelConfig struct {
	ModeKey          string               `json:"modeKey" yaml:"mode"`
	BasePrompt       string               `json:"basePrompt" yaml:"basePrompt"`
	EventTriggers    []store.EventTrigger `json:"eventTriggers" yaml:"eventTriggers"`
	RandomInjections []string             `json:"randomInjections" yaml:"randomInjections"`
}

func customizableMode(key string) (modes.Config, error) {
	mode, err := modes.Resolve(key)
	if err != nil {
		return modes.Config{}, fmt.Errorf("%w: %q", ErrInvalidMode, key)
	}
	if !mode.Customizable {
		return modes.Config{}, fmt.Errorf("%w: %q", ErrNotCustomizable, key)
	}
	return mode, nil
}

// GetModelConfig returns the stored overrides for a customizable mode. A mode with nothing stored
// gets an empty config. Malformed stored entries are left out, as the chat path does.
func (s *AdminService) GetModelConfig(ctx context.Context, modeKey string) (*ModelConfig, error) {
	mode, err := customizableMode(modeKey)
	if err != nil {
		return nil, err
	}
	view := &ModelConfig{ModeKey: string(mode.ID), EventTriggers: []store.EventTrigger{}, RandomInjections: []string{}}

	stored, err := s.configs.GetCustomModelConfig(ctx, string(mode.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to load model config: %w", err)
	}
	if stored == nil {
		return view, nil
	}
	view.BasePrompt = stored.BasePrompt
	if triggers, err := parseTriggers(stored.EventTriggers); err == nil {
		view.EventTriggers = triggers
	}
	if injections, err := parseInjections(stored.RandomInjections); err == nil {
		view.RandomInjections = injections
	}
	return view, nil
}

// SaveModelConfig drops blank triggers and injections before writing, so the stored lists only
// hold usable entries.
func (s *AdminService) SaveModelConfig(ctx context.Context, in ModelConfig) (*ModelConfig, error) {
	mode, err := customizableMode(in.ModeKey)
	if err != nil {
		return nil, err
	}

	triggers := make([]store.EventTrigger, 0, len(in.EventTriggers))
	for _, t := range in.EventTriggers {
		if normalize(t.Trigger) == "" || strings.TrimSpace(t.Response) == "" {
			continue
		}
		triggers = append(triggers, store.EventTrigger{Trigger: strings.TrimSpace(t.Trigger), Response: t.Response})
	}
	injections := make([]string, 0, len(in.RandomInjections))
	for _, inj := range in.RandomInjections {
		if strings.TrimSpace(inj) == "" {
			continue
		}
		injections = append(injections, inj)
	}

	basePrompt := strings.TrimSpace(in.BasePrompt)
	if _, err := s.configs.UpsertCustomModelConfig(ctx, string(mode.ID), basePrompt, triggers, injections); err != nil {
		return nil, fmt.Errorf("failed to save model config: %w", err)
	}
	s.log.Info("Model config saved", "mode", mode.ID, "triggers", len(triggers), "injections", len(injections))
	return &ModelConfig{
		ModeKey:          string(mode.ID),
		BasePrompt:       basePrompt,
		EventTriggers:    triggers,
		RandomInjections: injections,
	}, nil
}

type seedFile struct {
	Configs []ModelConfig `yaml:"configs"`
}

// SeedModelConfigs reads a YAML document of the form
//
//	configs:
//	  - mode: unprofessional
//	    basePrompt: "..."
//	    eventTriggers:
//	      - {trigger: hello, response: "Hi there!"}
//	    randomInjections: ["Well,"]
//
// and saves every entry. It stops at the first invalid entry.
func (s *AdminService) SeedModelConfigs(ctx context.Context, r io.Reader) (int, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc seedFile
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("failed to parse seed file: %w", err)
	}
	for i, cfg := range doc.Configs {
		if _, err := s.SaveModelConfig(ctx, cfg); err != nil {
			return i, fmt.Errorf("seed entry %d (%s): %w", i, cfg.ModeKey, err)
		}
	}
	return len(doc.Configs), nil
}
