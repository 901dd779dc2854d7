package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/josephai/jai-chat/internal/auth"
)

func (h *APIHandler) AdminLoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decodeJSON(w, r, &req, false) {
		return
	}
	if fields, ok := req.Ok(); !ok {
		writeValidationError(w, fields)
		return
	}

	admin, err := h.adminService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.serviceError(w, r, err, "Failed to log in")
		return
	}
	token, err := h.tokens.GenerateJWT(admin.ID, auth.RoleAdmin)
	if err != nil {
		h.log.Error("Error generating admin JWT", "admin", admin.Username, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}
	h.setSessionCookie(w, adminSessionCookie, token)
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "username": admin.Username})
}

func (h *APIHandler) AdminLogoutHandler(w http.ResponseWriter, r *http.Request) {
	h.clearSessionCookie(w, adminSessionCookie)
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) AdminStatusHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := adminFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"isAdmin": false})
		return
	}
	admin, err := h.adminService.GetAdmin(r.Context(), session.Subject)
	if err != nil {
		h.serviceError(w, r, err, "Failed to load admin")
		return
	}
	if admin == nil {
		writeJSON(w, http.StatusOK, map[string]any{"isAdmin": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"isAdmin": true, "username": admin.Username})
}

func (h *APIHandler) GetModelConfigHandler(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.adminService.GetModelConfig(r.Context(), chi.URLParam(r, "modeKey"))
	if err != nil {
		h.serviceError(w, r, err, "Failed to load model config")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *APIHandler) SaveModelConfigHandler(w http.ResponseWriter, r *http.Request) {
	var req ModelConfigRequest
	if !h.decodeJSON(w, r, &req, false) {
		return
	}
	if fields, ok := req.Ok(); !ok {
		writeValidationError(w, fields)
		return
	}

	cfg, err := h.adminService.SaveModelConfig(r.Context(), req.ToModelConfig())
	if err != nil {
		h.serviceError(w, r, err, "Failed to save model config")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
