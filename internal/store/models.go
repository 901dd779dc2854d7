package store

import (
	"encoding/json"
	"time"

	"github.com/josephai/jai-chat/internal/auth"
)

const DefaultChatTitle = "New Chat"

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"` // Do not expose this in JSON responses
	CreatedAt    time.Time `json:"created_at"`
}

type AdminUser struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Chat is owned by a user or by a guest fingerprint. Once UserID is set GuestID stays nil.
type Chat struct {
	ID        string    `json:"id"`
	UserID    *string   `json:"userId"`
	GuestID   *string   `json:"guestId,omitempty"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

func (c *Chat) OwnedBy(id auth.Identity) bool {
	if c == nil {
		return false
	}
	if id.IsAuthenticated() {
		return c.UserID != nil && *c.UserID == id.UserID
	}
	return c.UserID == nil && c.GuestID != nil && id.Fingerprint != "" && *c.GuestID == id.Fingerprint
}

type Message struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"-"`
	ChatID    string    `json:"chatId"`
	Content   string    `json:"content"`
	ImageURL  *string   `json:"imageUrl"`
	IsAI      bool      `json:"isAi"`
	CreatedAt time.Time `json:"createdAt"`
}

func (m Message) HasImage() bool {
	return m.ImageURL != nil && *m.ImageURL != ""
}

// CustomModelConfig keeps the trigger and injection lists as raw JSON so that a reader can drop
// malformed entries one by one instead of rejecting the whole row.
type CustomModelConfig struct {
	ModeKey          string          `json:"modeKey"`
	BasePrompt       string          `json:"basePrompt"`
	EventTriggers    json.RawMessage `json:"eventTriggers"`
	RandomInjections json.RawMessage `json:"randomInjections"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

type EventTrigger struct {
	Trigger  string `json:"trigger" yaml:"trigger"`
	Response string `json:"response" yaml:"response"`
}
