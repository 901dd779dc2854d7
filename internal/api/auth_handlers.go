package api

import (
	"net/http"

	"github.com/josephai/jai-chat/internal/auth"
	"github.com/josephai/jai-chat/internal/store"
)

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !h.decodeJSON(w, r, &req, false) {
		return
	}
	if fields, ok := req.Ok(); !ok {
		writeValidationError(w, fields)
		return
	}

	user, err := h.accountService.Signup(r.Context(), req.Username, req.Name, req.Password, identityFrom(r.Context()))
	if err != nil {
		h.serviceError(w, r, err, "Failed to create user")
		return
	}
	h.issueUserSession(w, r, http.StatusCreated, user)
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decodeJSON(w, r, &req, false) {
		return
	}
	if fields, ok := req.Ok(); !ok {
		writeValidationError(w, fields)
		return
	}

	user, err := h.accountService.Login(r.Context(), req.Username, req.Password, identityFrom(r.Context()))
	if err != nil {
		h.serviceError(w, r, err, "Failed to log in")
		return
	}
	h.issueUserSession(w, r, http.StatusOK, user)
}

func (h *APIHandler) issueUserSession(w http.ResponseWriter, r *http.Request, status int, user *store.User) {
	token, err := h.tokens.GenerateJWT(user.ID, auth.RoleUser)
	if err != nil {
		h.log.Error("Error generating JWT", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}
	h.setSessionCookie(w, sessionCookie, token)
	writeJSON(w, status, AuthResponse{User: user, Token: token})
}

func (h *APIHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	h.clearSessionCookie(w, sessionCookie)
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) CurrentUserHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if !id.IsAuthenticated() {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	user, err := h.accountService.GetUser(r.Context(), id.UserID)
	if err != nil {
		h.serviceError(w, r, err, "Failed to load user")
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}
