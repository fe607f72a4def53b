package githubapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/djinnbot/core/domain/runs"
	"github.com/djinnbot/core/pkg/apperror"
	"github.com/djinnbot/core/pkg/auth"
)

// Handler handles GitHub App HTTP requests.
type Handler struct {
	svc    *Service
	router *Router
	store  *EventStore
	runs   *runs.Service
	log    *slog.Logger
}

// NewHandler creates a new GitHub App handler.
func NewHandler(svc *Service, router *Router, store *EventStore, runsSvc *runs.Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, router: router, store: store, runs: runsSvc, log: log.With("component", "githubapp-handler")}
}

// GetStatus handles GET /api/v1/settings/github
// Returns the current GitHub App connection status.
//
// @Summary      Get GitHub App connection status
// @Tags         github
// @Produce      json
// @Success      200
// @Router       /api/v1/settings/github [get]
func (h *Handler) GetStatus(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	status, err := h.svc.GetStatus(c.Request().Context())
	if err != nil {
		return apperror.NewInternal("failed to get GitHub status", err)
	}

	return c.JSON(http.StatusOK, status)
}

// Connect handles POST /api/v1/settings/github/connect
// Generates a GitHub App manifest and returns the redirect URL.
//
// @Summary      Start GitHub App connection flow
// @Tags         github
// @Accept       json
// @Produce      json
// @Success      200
// @Router       /api/v1/settings/github/connect [post]
func (h *Handler) Connect(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	var req ConnectRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid request body")
	}

	redirectURL := req.RedirectURL
	if redirectURL == "" {
		// Derive from request host
		scheme := "https"
		if c.Request().TLS == nil {
			scheme = c.Scheme()
		}
		redirectURL = fmt.Sprintf("%s://%s/api/v1/settings/github/callback", scheme, c.Request().Host)
	}

	manifestURL, err := h.svc.GenerateManifestURL(redirectURL)
	if err != nil {
		return apperror.NewInternal("failed to generate manifest URL", err)
	}

	return c.JSON(http.StatusOK, &ConnectResponse{
		ManifestURL: manifestURL,
	})
}

// Callback handles GET /api/v1/settings/github/callback
// Exchanges the temporary code for GitHub App credentials.
//
// @Summary      Handle GitHub App manifest callback
// @Tags         github
// @Produce      json
// @Param        code  query  string  true  "Temporary code from GitHub"
// @Success      200
// @Router       /api/v1/settings/github/callback [get]
func (h *Handler) Callback(c echo.Context) error {
	code := c.QueryParam("code")
	if code == "" {
		return apperror.NewBadRequest("code parameter is required")
	}

	ownerID := ""
	if user := auth.GetUser(c); user != nil {
		ownerID = user.ID
	}

	err := h.svc.HandleCallback(c.Request().Context(), code, ownerID)
	if err != nil {
		h.log.Error("GitHub callback failed", "error", err)
		return apperror.NewInternal("GitHub App setup failed", err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "GitHub App connected successfully. Install the app on your organization to enable repository access.",
	})
}

// Disconnect handles DELETE /api/v1/settings/github
// Removes all GitHub App credentials.
//
// @Summary      Disconnect GitHub App
// @Tags         github
// @Produce      json
// @Success      200
// @Router       /api/v1/settings/github [delete]
func (h *Handler) Disconnect(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	err := h.svc.Disconnect(c.Request().Context())
	if err != nil {
		return apperror.NewInternal("failed to disconnect GitHub", err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "GitHub App disconnected",
	})
}

// CLISetup handles POST /api/v1/settings/github/cli
// Accepts app_id, PEM, and installation_id from CLI setup.
//
// @Summary      Configure GitHub App via CLI
// @Tags         github
// @Accept       json
// @Produce      json
// @Success      200
// @Router       /api/v1/settings/github/cli [post]
func (h *Handler) CLISetup(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	var req CLISetupRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid request body")
	}

	if req.AppID <= 0 {
		return apperror.NewBadRequest("app_id is required and must be positive")
	}
	if req.PrivateKeyPEM == "" {
		return apperror.NewBadRequest("private_key_pem is required")
	}
	if req.InstallationID <= 0 {
		return apperror.NewBadRequest("installation_id is required and must be positive")
	}

	ownerID := user.ID
	err := h.svc.CLISetup(c.Request().Context(), &req, ownerID)
	if err != nil {
		return apperror.NewInternal("CLI setup failed", err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "GitHub App configured via CLI",
	})
}

// Webhook handles POST /api/v1/settings/github/webhook
// Ingests every GitHub delivery: installation bookkeeping stays inline here,
// everything else (PR lifecycle, assignment matching) is handed to Router.
//
// @Summary      Handle GitHub webhook events
// @Tags         github
// @Accept       json
// @Produce      json
// @Success      200
// @Router       /api/v1/settings/github/webhook [post]
func (h *Handler) Webhook(c echo.Context) error {
	eventType := c.Request().Header.Get("X-GitHub-Event")
	deliveryID := c.Request().Header.Get("X-GitHub-Delivery")
	if eventType == "" {
		return apperror.NewBadRequest("missing X-GitHub-Event header")
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return apperror.NewBadRequest("failed to read request body")
	}

	signature := c.Request().Header.Get("X-Hub-Signature-256")
	if signature == "" {
		h.log.Warn("webhook request missing X-Hub-Signature-256 header")
		return c.JSON(http.StatusForbidden, map[string]string{"error": "missing signature"})
	}

	if eventType == "installation" {
		if err := h.handleInstallationEvent(c, body); err != nil {
			h.log.Error("failed to handle installation webhook", "error", err)
		}
	}

	if err := h.router.Ingest(c.Request().Context(), deliveryID, eventType, signature, body); err != nil {
		if errors.Is(err, apperror.ErrSignatureInvalid) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		}
		var appErr *apperror.Error
		if errors.As(err, &appErr) && appErr.Code == apperror.ErrRateLimited.Code {
			return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
		}
		h.log.Warn("webhook ingest failed", "error", err, "event_type", eventType)
		// Still return 200 — the delivery is persisted and replayable; GitHub
		// must not see a routing failure as a delivery failure.
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleInstallationEvent(c echo.Context, body []byte) error {
	var event struct {
		Action       string `json:"action"`
		Installation *struct {
			ID      int64 `json:"id"`
			AppID   int64 `json:"app_id"`
			Account *struct {
				Login string `json:"login"`
			} `json:"account"`
		} `json:"installation"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return err
	}
	if event.Action != "created" || event.Installation == nil {
		return nil
	}
	org := ""
	if event.Installation.Account != nil {
		org = event.Installation.Account.Login
	}
	return h.svc.HandleInstallation(c.Request().Context(), event.Installation.AppID, event.Installation.ID, org)
}

// ListWebhookEvents handles GET /v1/webhooks/events — the delivery audit
// log ported from the original service's list_webhook_events endpoint.
func (h *Handler) ListWebhookEvents(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	events, err := h.store.List(c.Request().Context(), limit, offset)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err).ToEchoError()
	}
	return c.JSON(http.StatusOK, map[string]any{"data": events})
}

// ReplayWebhookEvent handles POST /v1/webhooks/events/{id}/replay — re-runs
// routing for one delivery, ported from replay_webhook_event.
func (h *Handler) ReplayWebhookEvent(c echo.Context) error {
	evt, err := h.store.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperror.ErrNotFound.ToEchoError()
	}
	if err := h.router.RouteForReplay(c.Request().Context(), evt); err != nil {
		return apperror.ErrInternal.WithInternal(err).ToEchoError()
	}
	return c.NoContent(http.StatusNoContent)
}
