package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterOptions struct {
	AllowedOrigins []string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// TrustProxyHeaders takes the client address from X-Forwarded-For / X-Real-IP. Clients can
	// set those headers freely, so without a proxy that overwrites them a guest could pick any
	// IP for its fingerprint.
	TrustProxyHeaders bool
}

func NewRouter(apiHandler *APIHandler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if opts.TrustProxyHeaders {
		r.Use(middleware.RealIP) // Guest fingerprints use the client address
	}
	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", DeviceIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", apiHandler.HealthHandler)

		r.Group(func(r chi.Router) {
			r.Use(apiHandler.IdentityMiddleware)

			r.Get("/modes", apiHandler.ListModesHandler)

			// Accounts
			r.Post("/signup", apiHandler.SignupHandler)
			r.Post("/login", apiHandler.LoginHandler)
			r.Post("/logout", apiHandler.LogoutHandler)
			r.Get("/auth/user", apiHandler.CurrentUserHandler)

			// Chats, for users and guests alike
			r.Get("/chats", apiHandler.ListChatsHandler)
			r.Post("/chats", apiHandler.CreateChatHandler)
			r.Delete("/chats/{chatID}", apiHandler.DeleteChatHandler)
			r.Get("/chats/{chatID}/messages", apiHandler.GetMessagesHandler)
			r.Post("/chat", apiHandler.ChatHandler)

			r.Route("/admin", func(r chi.Router) {
				r.Post("/login", apiHandler.AdminLoginHandler)
				r.Post("/logout", apiHandler.AdminLogoutHandler)
				r.Get("/status", apiHandler.AdminStatusHandler)

				r.Group(func(r chi.Router) {
					r.Use(apiHandler.AdminOnlyMiddleware)
					r.Get("/model-config/{modeKey}", apiHandler.GetModelConfigHandler)
					r.Post("/model-config", apiHandler.SaveModelConfigHandler)
				})
			})
		})
	})

	return r
}
