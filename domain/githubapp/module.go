package githubapp

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/djinnbot/core/internal/config"
	"github.com/djinnbot/core/pkg/auth"
)

// Module provides the GitHub App connection flow plus the C6 webhook router:
// delivery persistence, PR-lifecycle side effects, and agent-assignment
// matching.
var Module = fx.Module("githubapp",
	fx.Provide(newStore),
	fx.Provide(newCrypto),
	fx.Provide(newTokenService),
	fx.Provide(newService),
	fx.Provide(NewEventStore),
	fx.Provide(NewAssignmentStore),
	fx.Provide(newRateLimiter),
	fx.Provide(NewRouter),
	fx.Provide(NewHandler),
	fx.Invoke(registerRoutes),
	fx.Invoke(replayUnprocessedOnStart),
)

func newRateLimiter() *RateLimiter {
	return NewRateLimiter()
}

// replayUnprocessedOnStart re-routes any delivery that committed to storage
// but never finished routing before the previous process exited.
func replayUnprocessedOnStart(lc fx.Lifecycle, router *Router, log *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := router.ReplayUnprocessed(context.Background()); err != nil {
					log.Warn("webhook replay-unprocessed scan failed", "error", err)
				}
			}()
			return nil
		},
	})
}

// newStore creates a GitHub App store from the bun DB.
func newStore(db *bun.DB) *Store {
	return NewStore(db)
}

// newCrypto creates the encryption service from centralized config.
func newCrypto(cfg *config.Config, log *slog.Logger) *Crypto {
	key := cfg.GitHubApp.EncryptionKeyHex
	crypto, err := NewCrypto(key)
	if err != nil {
		log.Warn("GitHub App encryption key not configured or invalid",
			"error", err,
			"hint", "Set GITHUB_APP_ENCRYPTION_KEY to a 64-character hex string (32 bytes) to enable GitHub App integration",
		)
		// Return unconfigured crypto — will error on encrypt/decrypt operations
		crypto, _ = NewCrypto("")
	}
	if !crypto.IsConfigured() {
		log.Info("GitHub App encryption not configured — GitHub integration disabled until GITHUB_APP_ENCRYPTION_KEY is set")
	}
	return crypto
}

// newTokenService creates the token generation service.
func newTokenService(store *Store, crypto *Crypto, log *slog.Logger) *TokenService {
	return NewTokenService(store, crypto, log)
}

// newService creates the GitHub App service.
func newService(store *Store, crypto *Crypto, tokenService *TokenService, log *slog.Logger) *Service {
	return NewService(store, crypto, tokenService, log)
}

// registerRoutes registers GitHub App HTTP routes.
func registerRoutes(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	RegisterRoutes(e, h, authMiddleware)
}
