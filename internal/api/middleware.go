package api

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/josephai/jai-chat/internal/auth"
)

const (
	DeviceIDHeader     = "X-Device-Id"
	sessionCookie      = "jai_session"
	adminSessionCookie = "jai_admin_session"
)

type ctxKey int

const (
	identityKey ctxKey = iota
	adminKey
)

func identityFrom(ctx context.Context) auth.Identity {
	id, _ := ctx.Value(identityKey).(auth.Identity)
	return id
}

func adminFrom(ctx context.Context) (auth.Session, bool) {
	s, ok := ctx.Value(adminKey).(auth.Session)
	return s, ok
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// IdentityMiddleware attaches the caller's identity to every request: the user session if one is
// presented, otherwise a guest fingerprint. An invalid bearer token is rejected; a stale cookie
// just falls back to guest.
func (h *APIHandler) IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var userSession, adminSession *auth.Session

		if token := bearerToken(r); token != "" {
			session, err := h.tokens.ValidateJWT(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}
			if session.Role == auth.RoleAdmin {
				adminSession = &session
			} else {
				userSession = &session
			}
		}
		if userSession == nil {
			userSession = h.cookieSession(r, sessionCookie, auth.RoleUser)
		}
		if adminSession == nil {
			adminSession = h.cookieSession(r, adminSessionCookie, auth.RoleAdmin)
		}

		meta := auth.RequestMeta{DeviceID: r.Header.Get(DeviceIDHeader), IP: clientIP(r)}
		if userSession != nil {
			meta.UserID = userSession.Subject
		}
		ctx := context.WithValue(r.Context(), identityKey, auth.ResolveIdentity(meta))
		if adminSession != nil {
			ctx = context.WithValue(ctx, adminKey, *adminSession)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *APIHandler) cookieSession(r *http.Request, name, role string) *auth.Session {
	c, err := r.Cookie(name)
	if err != nil || c.Value == "" {
		return nil
	}
	session, err := h.tokens.ValidateJWT(c.Value)
	if err != nil || session.Role != role {
		return nil
	}
	return &session
}

func (h *APIHandler) AdminOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := adminFrom(r.Context()); !ok {
			writeError(w, http.StatusUnauthorized, "Admin authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *APIHandler) setSessionCookie(w http.ResponseWriter, name, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(h.tokens.TTL().Seconds()),
	})
}

func (h *APIHandler) clearSessionCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
