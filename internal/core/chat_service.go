package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/josephai/jai-chat/internal/auth"
	"github.com/josephai/jai-chat/internal/logger"
	"github.com/josephai/jai-chat/internal/modes"
	"github.com/josephai/jai-chat/internal/store"
	"github.com/josephai/jai-chat/internal/utils"
)

const maxTitleRunes = 40

// ChatStore is the slice of the conversation store the chat service depends on.
type ChatStore interface {
	CreateChat(ctx context.Context, owner auth.Identity, title string) (*store.Chat, error)
	GetChat(ctx context.Context, chatID string) (*store.Chat, error)
	GetChatsByOwner(ctx context.Context, owner auth.Identity) ([]store.Chat, error)
	UpdateChatTitle(ctx context.Context, chatID, title string) error
	DeleteChat(ctx context.Context, chatID string) error
	CreateMessage(ctx context.Context, chatID, content string, imageURL *string, isAI bool) (*store.Message, error)
	GetMessages(ctx context.Context, chatID string) ([]store.Message, error)
}

type Generator interface {
	Generate(ctx context.Context, history []store.Message, mode modes.Config) Result
}

type ChatService struct {
	dbStore   ChatStore
	generator Generator
	locks     *ChatLocks // nil disables per-chat serialization
	log       *logger.Logger
}

func NewChatService(db ChatStore, generator Generator, locks *ChatLocks, log *logger.Logger) *ChatService {
	if log == nil {
		log = logger.Nop()
	}
	return &ChatService{
		dbStore:   db,
		generator: generator,
		locks:     locks,
		log:       log,
	}
}

func (s *ChatService) CreateChat(ctx context.Context, owner auth.Identity, title string) (*store.Chat, error) {
	chat, err := s.dbStore.CreateChat(ctx, owner, strings.TrimSpace(title))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat in DB: %w", err)
	}
	return chat, nil
}

func (s *ChatService) GetChats(ctx context.Context, owner auth.Identity) ([]store.Chat, error) {
	return s.dbStore.GetChatsByOwner(ctx, owner)
}

// GetOwnedChat returns ErrChatNotFound both for missing chats and for chats owned by someone
// else, so callers cannot probe for foreign chat ids.
func (s *ChatService) GetOwnedChat(ctx context.Context, owner auth.Identity, chatID string) (*store.Chat, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, ErrMissingChatID
	}
	chat, err := s.dbStore.GetChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to verify chat: %w", err)
	}
	if !chat.OwnedBy(owner) {
		return nil, ErrChatNotFound
	}
	return chat, nil
}

func (s *ChatService) GetMessages(ctx context.Context, owner auth.Identity, chatID string) ([]store.Message, error) {
	if _, err := s.GetOwnedChat(ctx, owner, chatID); err != nil {
		return nil, err
	}
	messages, err := s.dbStore.GetMessages(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages for chat: %w", err)
	}
	return messages, nil
}

func (s *ChatService) DeleteChat(ctx context.Context, owner auth.Identity, chatID string) error {
	if _, err := s.GetOwnedChat(ctx, owner, chatID); err != nil {
		return err
	}
	if err := s.dbStore.DeleteChat(ctx, chatID); err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	return nil
}

type SendMessageInput struct {
	ChatID   string
	Message  string
	ImageURL string
	Mode     string
}

type Turn struct {
	Chat        *store.Chat
	UserMessage *store.Message
	AIMessage   *store.Message
	Outcome     Outcome
	Provider    string
}

// SendMessage runs one chat turn: validate, check ownership, append the user turn, generate, and
// append the assistant turn. Provider failures never surface here; store failures always do.
func (s *ChatService) SendMessage(ctx context.Context, owner auth.Identity, in SendMessageInput) (*Turn, error) {
	if strings.TrimSpace(in.ChatID) == "" {
		return nil, ErrMissingChatID
	}
	mode, err := modes.ResolveOrDefault(in.Mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, in.Mode)
	}
	imageURL := strings.TrimSpace(in.ImageURL)
	if strings.TrimSpace(in.Message) == "" && imageURL == "" {
		return nil, ErrEmptyMessage
	}
	if imageURL != "" && !validImageURL(imageURL) {
		return nil, ErrInvalidImage
	}

	chat, err := s.GetOwnedChat(ctx, owner, in.ChatID)
	if err != nil {
		return nil, err
	}

	if s.locks != nil {
		unlock, err := s.locks.Lock(ctx, chat.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire chat lock: %w", err)
		}
		defer unlock()
	}

	var image *string
	if imageURL != "" {
		image = &imageURL
	}
	userMsg, err := s.dbStore.CreateMessage(ctx, chat.ID, in.Message, image, false)
	if err != nil {
		return nil, fmt.Errorf("failed to store user message: %w", err)
	}

	history, err := s.dbStore.GetMessages(ctx, chat.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}

	// Generation outlives a disconnected client; each provider call keeps its own timeout.
	result := s.generator.Generate(context.WithoutCancel(ctx), history, mode)

	// The assistant turn is written even if the client went away mid-generation.
	aiMsg, err := s.dbStore.CreateMessage(context.WithoutCancel(ctx), chat.ID, result.Text, nil, true)
	if err != nil {
		return nil, fmt.Errorf("failed to store model message: %w", err)
	}

	s.log.Info("Chat turn completed",
		"chat_id", chat.ID,
		"identity", owner.Key(),
		"mode", mode.ID,
		"outcome", result.Outcome,
		"provider", result.Provider,
		"attempts", len(result.Attempts),
	)

	if chat.Title == store.DefaultChatTitle {
		if title := strings.TrimSpace(in.Message); title != "" {
			title = utils.TruncateRunes(title, maxTitleRunes)
			if err := s.dbStore.UpdateChatTitle(context.WithoutCancel(ctx), chat.ID, title); err != nil {
				s.log.Warn("Failed to save chat title", "chat_id", chat.ID, "error", err)
			} else {
				chat.Title = title
			}
		}
	}

	return &Turn{
		Chat:        chat,
		UserMessage: userMsg,
		AIMessage:   aiMsg,
		Outcome:     result.Outcome,
		Provider:    result.Provider,
	}, nil
}

// validImageURL accepts absolute http(s) URLs and base64 image data URLs.
func validImageURL(raw string) bool {
	if utils.IsRemoteURL(raw) {
		return true
	}
	mimeType, data, err := utils.ParseDataURL(raw)
	return err == nil && strings.HasPrefix(mimeType, "image/") && len(data) > 0
}
