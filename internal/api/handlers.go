package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/josephai/jai-chat/internal/auth"
	"github.com/josephai/jai-chat/internal/core"
	"github.com/josephai/jai-chat/internal/logger"
	"github.com/josephai/jai-chat/internal/modes"
)

type APIHandler struct {
	chatService    *core.ChatService
	accountService *core.AccountService
	adminService   *core.AdminService
	tokens         *auth.TokenIssuer
	log            *logger.Logger

	providers     []string
	maxBodyBytes  int64
	secureCookies bool
}

type Options struct {
	// Providers is reported by the health endpoint.
	Providers     []string
	MaxBodyBytes  int64
	SecureCookies bool
}

func NewAPIHandler(cs *core.ChatService, as *core.AccountService, admins *core.AdminService, tokens *auth.TokenIssuer, log *logger.Logger, opts Options) *APIHandler {
	if log == nil {
		log = logger.Nop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 50 << 20
	}
	return &APIHandler{
		chatService:    cs,
		accountService: as,
		adminService:   admins,
		tokens:         tokens,
		log:            log,
		providers:      opts.Providers,
		maxBodyBytes:   opts.MaxBodyBytes,
		secureCookies:  opts.SecureCookies,
	}
}

// serviceError maps core errors onto HTTP statuses. Anything unrecognised is logged and
// reported as a 500 with fallbackMsg.
func (h *APIHandler) serviceError(w http.ResponseWriter, r *http.Request, err error, fallbackMsg string) {
	switch {
	case errors.Is(err, core.ErrInvalidMode),
		errors.Is(err, core.ErrMissingChatID),
		errors.Is(err, core.ErrEmptyMessage),
		errors.Is(err, core.ErrInvalidImage),
		errors.Is(err, core.ErrNotCustomizable):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrChatNotFound):
		writeError(w, http.StatusNotFound, "Chat not found")
	case errors.Is(err, core.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, core.ErrUsernameTaken):
		writeError(w, http.StatusConflict, "Username already exists")
	default:
		h.log.Error(fallbackMsg, "path", r.URL.Path, "identity", identityFrom(r.Context()).Key(), "error", err)
		writeError(w, http.StatusInternalServerError, fallbackMsg)
	}
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	providers := h.providers
	if providers == nil {
		providers = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "providers": providers})
}

func (h *APIHandler) ListModesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, modes.All())
}

func (h *APIHandler) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateChatRequest
	if !h.decodeJSON(w, r, &req, true) {
		return
	}
	if fields, ok := req.Ok(); !ok {
		writeValidationError(w, fields)
		return
	}

	chat, err := h.chatService.CreateChat(r.Context(), identityFrom(r.Context()), req.Title)
	if err != nil {
		h.serviceError(w, r, err, "Failed to create chat")
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (h *APIHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	chats, err := h.chatService.GetChats(r.Context(), identityFrom(r.Context()))
	if err != nil {
		h.serviceError(w, r, err, "Failed to list chats")
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (h *APIHandler) GetMessagesHandler(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chatService.GetMessages(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "chatID"))
	if err != nil {
		h.serviceError(w, r, err, "Failed to get messages")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *APIHandler) DeleteChatHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.chatService.DeleteChat(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "chatID")); err != nil {
		h.serviceError(w, r, err, "Failed to delete chat")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !h.decodeJSON(w, r, &req, false) {
		return
	}
	if fields, ok := req.Ok(); !ok {
		writeValidationError(w, fields)
		return
	}

	turn, err := h.chatService.SendMessage(r.Context(), identityFrom(r.Context()), core.SendMessageInput{
		ChatID:   req.ChatID,
		Message:  req.Message,
		ImageURL: req.ImageURL,
		Mode:     req.Mode,
	})
	if err != nil {
		h.serviceError(w, r, err, "Failed to process message")
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{
		Chat:        turn.Chat,
		UserMessage: turn.UserMessage,
		AIMessage:   turn.AIMessage,
		Outcome:     turn.Outcome,
	})
}
