package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josephai/jai-chat/internal/auth"
	"github.com/josephai/jai-chat/internal/core"
	"github.com/josephai/jai-chat/internal/store"
)

type staticProvider struct{ text string }

func (p staticProvider) Name() string { return "static" }
func (p staticProvider) Complete(ctx context.Context, req core.CompletionRequest) (string, error) {
	return p.text, nil
}

type testServer struct {
	handler http.Handler
	db      *store.SQLStore
	tokens  *auth.TokenIssuer
}

func newTestServer(t *testing.T, tweaks ...func(*RouterOptions)) *testServer {
	t.Helper()
	db, err := store.Open(store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	overrides := core.NewOverrideEngine(db, 0, nil, nil)
	orchestrator := core.NewOrchestrator([]core.Provider{staticProvider{text: "model reply"}}, overrides, core.GenerationSettings{}, nil)
	admins := core.NewAdminService(db, db, nil)
	require.NoError(t, admins.EnsureBootstrapAdmin(context.Background(), "root", "rootpass"))

	tokens := auth.NewTokenIssuer("test-secret", time.Hour)
	h := NewAPIHandler(
		core.NewChatService(db, orchestrator, core.NewChatLocks(), nil),
		core.NewAccountService(db, nil),
		admins,
		tokens,
		nil,
		Options{Providers: orchestrator.ProviderNames()},
	)
	opts := RouterOptions{AllowedOrigins: []string{"http://localhost:5173"}}
	for _, tweak := range tweaks {
		tweak(&opts)
	}
	return &testServer{
		handler: NewRouter(h, opts),
		db:      db,
		tokens:  tokens,
	}
}

type client struct {
	deviceID string
	ip       string
	token    string
}

func (s *testServer) do(t *testing.T, c client, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return s.doWithHeaders(t, c, method, path, body, nil)
}

func (s *testServer) doWithHeaders(t *testing.T, c client, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.deviceID != "" {
		req.Header.Set(DeviceIDHeader, c.deviceID)
	}
	if c.ip != "" {
		req.RemoteAddr = c.ip + ":5555"
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndModes(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, client{}, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","providers":["static"]}`, rec.Body.String())

	rec = s.do(t, client{}, http.MethodGet, "/api/modes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]map[string]any](t, rec)
	assert.Len(t, list, 7)
	assert.NotContains(t, rec.Body.String(), "You are Joseph AI", "system prompts stay server side")
}

func TestGuestChatFlow(t *testing.T) {
	s := newTestServer(t)
	guest := client{deviceID: "device-1", ip: "10.0.0.1"}

	rec := s.do(t, guest, http.MethodPost, "/api/chats", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	chat := decode[store.Chat](t, rec)
	assert.Equal(t, store.DefaultChatTitle, chat.Title)

	rec = s.do(t, guest, http.MethodPost, "/api/chat", map[string]string{"chatId": chat.ID, "message": "hello there"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ChatResponse](t, rec)
	assert.Equal(t, "model reply", resp.AIMessage.Content)
	assert.True(t, resp.AIMessage.IsAI)
	assert.Equal(t, "hello there", resp.Chat.Title)
	assert.Equal(t, core.OutcomeSuccess, resp.Outcome)

	rec = s.do(t, guest, http.MethodGet, "/api/chats/"+chat.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]store.Message](t, rec), 2)

	// Same IP, different device: a different guest.
	stranger := client{deviceID: "device-2", ip: "10.0.0.1"}
	rec = s.do(t, stranger, http.MethodGet, "/api/chats/"+chat.ID+"/messages", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, stranger, http.MethodPost, "/api/chat", map[string]string{"chatId": chat.ID, "message": "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, stranger, http.MethodDelete, "/api/chats/"+chat.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, stranger, http.MethodGet, "/api/chats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]store.Chat](t, rec))

	rec = s.do(t, guest, http.MethodDelete, "/api/chats/"+chat.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestChatValidation(t *testing.T) {
	s := newTestServer(t)
	guest := client{deviceID: "d", ip: "10.0.0.9"}

	rec := s.do(t, guest, http.MethodPost, "/api/chats", map[string]string{"title": "Mine"})
	require.Equal(t, http.StatusCreated, rec.Code)
	chat := decode[store.Chat](t, rec)

	rec = s.do(t, guest, http.MethodPost, "/api/chat", map[string]string{"chatId": chat.ID, "message": "hi", "mode": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, guest, http.MethodPost, "/api/chat", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "required", decode[errorResponse](t, rec).Fields["chatId"])

	rec = s.do(t, guest, http.MethodPost, "/api/chat", map[string]string{"chatId": chat.ID, "message": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, guest, http.MethodPost, "/api/chat", map[string]string{"chatId": chat.ID, "message": "look", "imageUrl": "file:///etc/passwd"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, core.ErrInvalidImage.Error(), decode[errorResponse](t, rec).Error)

	rec = s.do(t, guest, http.MethodGet, "/api/chats/"+chat.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]store.Message](t, rec), "rejected requests write nothing")
}

func TestSignupMigratesGuestChats(t *testing.T) {
	s := newTestServer(t)
	guest := client{deviceID: "laptop", ip: "10.0.0.2"}

	for i := 0; i < 2; i++ {
		rec := s.do(t, guest, http.MethodPost, "/api/chats", nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := s.do(t, guest, http.MethodPost, "/api/signup", map[string]string{"username": "ab", "password": "secret1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "min=3", decode[errorResponse](t, rec).Fields["username"])

	rec = s.do(t, guest, http.MethodPost, "/api/signup", map[string]string{"username": "leia", "password": "secret1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	session := decode[AuthResponse](t, rec)
	require.NotEmpty(t, session.Token)
	assert.NotContains(t, rec.Body.String(), "password")
	assert.NotEmpty(t, rec.Result().Cookies())

	user := client{token: session.Token}
	rec = s.do(t, user, http.MethodGet, "/api/chats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]store.Chat](t, rec), 2)

	rec = s.do(t, guest, http.MethodGet, "/api/chats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]store.Chat](t, rec))

	rec = s.do(t, user, http.MethodGet, "/api/auth/user", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "leia", decode[store.User](t, rec).Username)

	rec = s.do(t, guest, http.MethodGet, "/api/auth/user", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, guest, http.MethodPost, "/api/signup", map[string]string{"username": "leia", "password": "secret2"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, guest, http.MethodPost, "/api/login", map[string]string{"username": "leia", "password": "wrong!"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = s.do(t, guest, http.MethodPost, "/api/login", map[string]string{"username": "leia", "password": "secret1"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInvalidBearerTokenIsRejected(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, client{token: "not-a-jwt"}, http.MethodGet, "/api/chats", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminModelConfig(t *testing.T) {
	s := newTestServer(t)

	cfg := map[string]any{
		"modeKey":          "unprofessional",
		"basePrompt":       "Be terse.",
		"eventTriggers":    []map[string]string{{"trigger": "ping", "response": "pong"}, {"trigger": " ", "response": "x"}},
		"randomInjections": []string{"Well,", ""},
	}

	rec := s.do(t, client{}, http.MethodPost, "/api/admin/model-config", cfg)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	userToken, err := s.tokens.GenerateJWT("u-1", auth.RoleUser)
	require.NoError(t, err)
	rec = s.do(t, client{token: userToken}, http.MethodPost, "/api/admin/model-config", cfg)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "user sessions are not admin sessions")

	rec = s.do(t, client{}, http.MethodGet, "/api/admin/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"isAdmin":false}`, rec.Body.String())

	rec = s.do(t, client{}, http.MethodPost, "/api/admin/login", map[string]string{"username": "root", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = s.do(t, client{}, http.MethodPost, "/api/admin/login", map[string]string{"username": "root", "password": "rootpass"})
	require.Equal(t, http.StatusOK, rec.Code)
	admin := client{token: decode[map[string]string](t, rec)["token"]}

	rec = s.do(t, admin, http.MethodGet, "/api/admin/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"isAdmin":true,"username":"root"}`, rec.Body.String())

	rec = s.do(t, admin, http.MethodPost, "/api/admin/model-config", cfg)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	saved := decode[core.ModelConfig](t, rec)
	assert.Len(t, saved.EventTriggers, 1)
	assert.Equal(t, []string{"Well,"}, saved.RandomInjections)

	rec = s.do(t, admin, http.MethodGet, "/api/admin/model-config/unprofessional", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, saved, decode[core.ModelConfig](t, rec))

	rec = s.do(t, admin, http.MethodGet, "/api/admin/model-config/standard", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// The saved trigger now short-circuits generation for that mode.
	guest := client{deviceID: "d", ip: "10.0.0.3"}
	rec = s.do(t, guest, http.MethodPost, "/api/chats", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	chat := decode[store.Chat](t, rec)

	rec = s.do(t, guest, http.MethodPost, "/api/chat", map[string]string{"chatId": chat.ID, "message": "PING", "mode": "unprofessional"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ChatResponse](t, rec)
	assert.Equal(t, "pong", resp.AIMessage.Content)
	assert.Equal(t, core.OutcomeCanned, resp.Outcome)
}

func TestCORSAllowsDeviceHeader(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", DeviceIDHeader)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), DeviceIDHeader)
}

func TestIdentityMiddleware_Cookies(t *testing.T) {
	s := newTestServer(t)
	var seen auth.Identity
	probe := NewAPIHandler(nil, nil, nil, s.tokens, nil, Options{}).IdentityMiddleware(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { seen = identityFrom(r.Context()) }),
	)

	userToken, err := s.tokens.GenerateJWT("u-7", auth.RoleUser)
	require.NoError(t, err)
	adminToken, err := s.tokens.GenerateJWT("a-1", auth.RoleAdmin)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: userToken})
	probe.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, auth.UserIdentity("u-7"), seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.1.1:4000"
	req.Header.Set(DeviceIDHeader, "dev")
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: "stale"})
	probe.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, auth.GuestIdentity(auth.GuestFingerprint("10.1.1.1", "dev")), seen)

	// An admin token in the user cookie does not make the caller a user.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.1.1:4000"
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: adminToken})
	probe.ServeHTTP(httptest.NewRecorder(), req)
	assert.False(t, seen.IsAuthenticated())
}

func TestForwardedForIgnoredUnlessTrusted(t *testing.T) {
	spoofed := map[string]string{"X-Forwarded-For": "203.0.113.7"}

	s := newTestServer(t)
	rec := s.doWithHeaders(t, client{ip: "10.0.0.5"}, http.MethodPost, "/api/chats", nil, spoofed)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, client{ip: "10.0.0.5"}, http.MethodGet, "/api/chats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]store.Chat](t, rec), 1, "the header did not change the fingerprint")

	trusted := newTestServer(t, func(o *RouterOptions) { o.TrustProxyHeaders = true })
	rec = trusted.doWithHeaders(t, client{ip: "10.0.0.5"}, http.MethodPost, "/api/chats", nil, spoofed)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = trusted.do(t, client{ip: "10.0.0.5"}, http.MethodGet, "/api/chats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]store.Chat](t, rec))

	rec = trusted.doWithHeaders(t, client{ip: "10.0.0.9"}, http.MethodGet, "/api/chats", nil, spoofed)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]store.Chat](t, rec), 1)
}
