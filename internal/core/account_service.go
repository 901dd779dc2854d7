package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/josephai/jai-chat/internal/auth"
	"github.com/josephai/jai-chat/internal/logger"
	"github.com/josephai/jai-chat/internal/store"
)

type AccountStore interface {
	CreateUser(ctx context.Context, username, name, passwordHash string) (*store.User, error)
	GetUserByUsername(ctx context.Context, username string) (*store.User, error)
	GetUserByID(ctx context.Context, id string) (*store.User, error)
	ClaimGuestChats(ctx context.Context, fingerprint, userID string) (int64, error)
}

type AccountService struct {
	dbStore AccountStore
	log     *logger.Logger
}

func NewAccountService(db AccountStore, log *logger.Logger) *AccountService {
	if log == nil {
		log = logger.Nop()
	}
	return &AccountService{dbStore: db, log: log}
}

// Signup creates an account and adopts the caller's guest chats.
func (s *AccountService) Signup(ctx context.Context, username, name, password string, caller auth.Identity) (*store.User, error) {
	username = strings.TrimSpace(username)
	existing, err := s.dbStore.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	if strings.TrimSpace(name) == "" {
		name = username
	}
	user, err := s.dbStore.CreateUser(ctx, username, strings.TrimSpace(name), hash)
	if errors.Is(err, store.ErrDuplicate) {
		// Lost a race with a concurrent signup for the same name.
		return nil, ErrUsernameTaken
	}
	if err != nil {
		return nil, err
	}
	s.claimGuestChats(ctx, caller, user.ID)
	return user, nil
}

// Login verifies credentials and adopts the caller's guest chats.
func (s *AccountService) Login(ctx context.Context, username, password string, caller auth.Identity) (*store.User, error) {
	user, err := s.dbStore.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil || !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	s.claimGuestChats(ctx, caller, user.ID)
	return user, nil
}

func (s *AccountService) GetUser(ctx context.Context, id string) (*store.User, error) {
	return s.dbStore.GetUserByID(ctx, id)
}

// claimGuestChats is best effort: a failed migration leaves the guest chats where they are and
// the next login retries it.
func (s *AccountService) claimGuestChats(ctx context.Context, caller auth.Identity, userID string) {
	if caller.IsAuthenticated() || caller.Fingerprint == "" {
		return
	}
	n, err := s.dbStore.ClaimGuestChats(ctx, caller.Fingerprint, userID)
	if err != nil {
		s.log.Error("Failed to migrate guest chats", "user_id", userID, "fingerprint", caller.Fingerprint, "error", err)
		return
	}
	if n > 0 {
		s.log.Info("Migrated guest chats", "user_id", userID, "fingerprint", caller.Fingerprint, "count", n)
	}
}
