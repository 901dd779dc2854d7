package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/josephai/jai-chat/internal/api"
	"github.com/josephai/jai-chat/internal/auth"
	"github.com/josephai/jai-chat/internal/config"
	"github.com/josephai/jai-chat/internal/core"
	"github.com/josephai/jai-chat/internal/logger"
	"github.com/josephai/jai-chat/internal/metrics"
	"github.com/josephai/jai-chat/internal/store"
)

func main() {
	// Command line flag for seeding custom model configs
	seedFlag := flag.String("seed-overrides", "", "Upsert custom model configs from a YAML file and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLog, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLog.Sync()

	if err := run(cfg, appLog, *seedFlag); err != nil {
		appLog.Fatal("Service stopped", "error", err)
	}
}

func run(cfg *config.Config, appLog *logger.Logger, seedPath string) error {
	ctx := context.Background()

	// Initialize database store
	dbStore, err := store.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbStore.Close()

	var configStore store.ModelConfigStore = dbStore
	if cfg.RedisURL != "" {
		redisClient, err := store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			appLog.Warn("Redis unavailable, reading model configs from the database", "error", err)
		} else {
			defer redisClient.Close()
			configStore = store.NewCachedConfigStore(dbStore, redisClient, cfg.ConfigCacheTTL, appLog)
		}
	}

	adminService := core.NewAdminService(dbStore, configStore, appLog)
	if err := adminService.EnsureBootstrapAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		return fmt.Errorf("failed to create bootstrap admin: %w", err)
	}

	// Handle seeding if flag is set
	if seedPath != "" {
		return seedOverrides(ctx, adminService, appLog, seedPath)
	}

	providers, closers := buildProviders(ctx, cfg, appLog)
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	overrides := core.NewOverrideEngine(configStore, cfg.InjectionProbability, nil, appLog)
	orchestrator := core.NewOrchestrator(providers, overrides, core.GenerationSettings{
		Temperature:     cfg.Temperature,
		MaxTokens:       cfg.MaxTokens,
		ProviderTimeout: cfg.ProviderTimeout,
	}, appLog)
	if len(providers) == 0 {
		appLog.Warn("No LLM provider credentials configured; every chat turn will get the degraded response")
	}

	var locks *core.ChatLocks
	if cfg.SerializeChatTurns {
		locks = core.NewChatLocks()
	}
	chatService := core.NewChatService(dbStore, orchestrator, locks, appLog)
	accountService := core.NewAccountService(dbStore, appLog)
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.SessionTTL)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(chatService, accountService, adminService, tokens, appLog, api.Options{
		Providers:     orchestrator.ProviderNames(),
		MaxBodyBytes:  cfg.MaxBodyBytes,
		SecureCookies: cfg.CookieSecure,
	})
	router := api.NewRouter(apiHandler, api.RouterOptions{
		AllowedOrigins:    cfg.CORSAllowedOrigins,
		Metrics:           metrics.Handler(),
		TrustProxyHeaders: cfg.TrustProxyHeaders,
	})

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)

	// A chat turn may wait on every provider in turn.
	writeTimeout := time.Duration(len(providers)+1)*cfg.ProviderTimeout + 15*time.Second

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second, // Image uploads arrive as data URLs
		WriteTimeout: writeTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	serverErr := make(chan error, 1)
	go func() {
		appLog.Info("Starting server", "addr", serverAddr, "providers", orchestrator.ProviderNames())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- fmt.Errorf("could not listen on %s: %w", serverAddr, err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}
	appLog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	appLog.Info("Server exiting gracefully")
	return nil
}

// buildProviders turns configured credentials into the fallback chain, in PROVIDER_ORDER.
func buildProviders(ctx context.Context, cfg *config.Config, appLog *logger.Logger) ([]core.Provider, []io.Closer) {
	var (
		providers []core.Provider
		closers   []io.Closer
	)
	for _, p := range cfg.Providers() {
		switch p.Name {
		case "gemini":
			gemini, err := core.NewGeminiProvider(ctx, p.ProviderConfig)
			if err != nil {
				appLog.Warn("Skipping provider", "provider", p.Name, "error", err)
				continue
			}
			providers = append(providers, gemini)
			closers = append(closers, gemini)
		default:
			providers = append(providers, core.NewOpenAIProvider(p.Name, p.ProviderConfig))
		}
	}
	return providers, closers
}

func seedOverrides(ctx context.Context, admins *core.AdminService, appLog *logger.Logger, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()

	n, err := admins.SeedModelConfigs(ctx, f)
	if err != nil {
		return err
	}
	appLog.Info("Seeded custom model configs. Exiting.", "count", n, "file", path)
	return nil
}
