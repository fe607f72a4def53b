package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"

	"github.com/djinnbot/core/domain/agents"
	"github.com/djinnbot/core/domain/githubapp"
	"github.com/djinnbot/core/domain/health"
	"github.com/djinnbot/core/domain/inbox"
	"github.com/djinnbot/core/domain/runs"
	"github.com/djinnbot/core/domain/sessions"
	"github.com/djinnbot/core/domain/tasks"
	"github.com/djinnbot/core/internal/config"
	"github.com/djinnbot/core/internal/layout"
	"github.com/djinnbot/core/pkg/apperror"
	"github.com/djinnbot/core/pkg/auth"
	"github.com/djinnbot/core/pkg/bus/bustest"
)

// TestServer wraps an Echo instance for testing
type TestServer struct {
	Echo           *echo.Echo
	TestDB         *TestDB
	DB             bun.IDB
	Config         *config.Config
	Log            *slog.Logger
	AuthMiddleware *auth.Middleware
}

// NewTestServer creates a test server with all routes registered.
func NewTestServer(testDB *TestDB) *TestServer {
	return newTestServerWithDB(testDB, testDB.GetDB())
}

// newTestServerWithDB creates a test server with a specific DB connection
func newTestServerWithDB(testDB *TestDB, db bun.IDB) *TestServer {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Use custom error handler to properly handle apperror.Error types
	e.HTTPErrorHandler = apperror.HTTPErrorHandler(log)

	// Create auth components
	userSvc := auth.NewUserProfileService(db, log)
	authMiddleware := auth.NewMiddleware(db, testDB.Config, log, userSvc)

	// Register health routes (public)
	healthHandler := health.NewHandler(testDB.Pool, testDB.Config)
	e.GET("/health", healthHandler.Health)
	e.GET("/healthz", healthHandler.Healthz)
	e.GET("/ready", healthHandler.Ready)
	e.GET("/debug", healthHandler.Debug)

	// Register protected test routes for auth testing
	protected := e.Group("/api/test")
	protected.Use(authMiddleware.RequireAuth())

	// Simple endpoint that returns user info (for testing auth)
	protected.GET("/me", func(c echo.Context) error {
		user := auth.GetUser(c)
		if user == nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "No user in context")
		}
		return c.JSON(http.StatusOK, map[string]any{
			"id":        user.ID,
			"sub":       user.Sub,
			"email":     user.Email,
			"scopes":    user.Scopes,
			"projectId": user.ProjectID,
			"orgId":     user.OrgID,
		})
	})

	// Endpoint requiring specific scopes
	scopedGroup := e.Group("/api/test/scoped")
	scopedGroup.Use(authMiddleware.RequireAuth())
	scopedGroup.Use(authMiddleware.RequireScopes("runs:read"))
	scopedGroup.GET("", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"message": "You have runs:read scope"})
	})

	// Endpoint requiring project ID
	projectGroup := e.Group("/api/test/project")
	projectGroup.Use(authMiddleware.RequireAuth())
	projectGroup.Use(authMiddleware.RequireProjectID())
	projectGroup.GET("", func(c echo.Context) error {
		user := auth.GetUser(c)
		return c.JSON(http.StatusOK, map[string]any{
			"message":   "Project ID required endpoint",
			"projectId": user.ProjectID,
		})
	})

	// In-memory bus fake stands in for Redis in tests.
	fakeBus := bustest.New()

	// Register tasks routes
	tasksRepo := tasks.NewRepository(db, log)
	tasksSvc := tasks.NewService(tasksRepo, log)
	tasksHandler := tasks.NewHandler(tasksSvc)
	tasks.RegisterRoutes(e, tasksHandler, authMiddleware)

	// Register agents routes
	agentsRepo := agents.NewRepository(db)
	worklockSvc := agents.NewWorkLockService(fakeBus, log)
	guardrailSvc := agents.NewGuardrailService(fakeBus, testDB.Config, log)
	lifecycleSvc := agents.NewLifecycleService(fakeBus, worklockSvc, log)
	containerSvc := agents.NewContainerService(fakeBus, log)
	watcherSvc := agents.NewSessionWatcher(fakeBus, lifecycleSvc, guardrailSvc, testDB.Config, log)
	agentsHandler := agents.NewHandler(agentsRepo, lifecycleSvc, worklockSvc, guardrailSvc, containerSvc, watcherSvc)
	agents.RegisterRoutes(e, agentsHandler, authMiddleware)

	// Register session event router routes
	sessionsRepo := sessions.NewRepository(db)
	sessionsSvc := sessions.NewService(fakeBus, sessionsRepo, testDB.Config.Bus.SessionQueueSize, testDB.Config.Bus.StreamMaxLen, log)
	sessionsHandler := sessions.NewHandler(sessionsSvc, sessionsRepo, log)
	sessions.RegisterRoutes(e, sessionsHandler, authMiddleware)

	// Register inter-agent inbox routes
	inboxSvc := inbox.NewService(fakeBus, log)
	inboxHandler := inbox.NewHandler(inboxSvc)
	inbox.RegisterRoutes(e, inboxHandler, authMiddleware)

	// Register run dispatcher routes
	runsRepo := runs.NewRepository(db, log)
	runsLayout := layout.NewLayout(testDB.Config)
	runsSvc := runs.NewService(fakeBus, runsRepo, runsLayout, testDB.Config.Bus.SessionQueueSize, log)
	runsHandler := runs.NewHandler(runsSvc, log)
	runs.RegisterRoutes(e, runsHandler, authMiddleware)

	// Register GitHub App + webhook router routes
	ghStore := githubapp.NewStore(testDB.DB)
	ghCrypto, _ := githubapp.NewCrypto("")
	ghTokenSvc := githubapp.NewTokenService(ghStore, ghCrypto, log)
	ghSvc := githubapp.NewService(ghStore, ghCrypto, ghTokenSvc, log)
	ghEventStore := githubapp.NewEventStore(db)
	ghAssignments := githubapp.NewAssignmentStore(db)
	ghRateLimiter := githubapp.NewRateLimiter()
	ghRouter := githubapp.NewRouter(fakeBus, ghEventStore, ghAssignments, tasksRepo, ghRateLimiter, ghSvc, log)
	ghHandler := githubapp.NewHandler(ghSvc, ghRouter, ghEventStore, runsSvc, log)
	githubapp.RegisterRoutes(e, ghHandler, authMiddleware)

	return &TestServer{
		Echo:           e,
		TestDB:         testDB,
		DB:             db,
		Config:         testDB.Config,
		Log:            log,
		AuthMiddleware: authMiddleware,
	}
}

// Request performs an HTTP request against the test server
func (s *TestServer) Request(method, path string, opts ...RequestOption) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)

	// Apply options
	for _, opt := range opts {
		opt(req)
	}

	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

// GET performs a GET request
func (s *TestServer) GET(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodGet, path, opts...)
}

// POST performs a POST request
func (s *TestServer) POST(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodPost, path, opts...)
}

// PUT performs a PUT request
func (s *TestServer) PUT(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodPut, path, opts...)
}

// DELETE performs a DELETE request
func (s *TestServer) DELETE(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodDelete, path, opts...)
}

// PATCH performs a PATCH request
func (s *TestServer) PATCH(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodPatch, path, opts...)
}

// RequestOption modifies an HTTP request
type RequestOption func(*http.Request)

// WithHeader adds a header to the request
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

// WithAuth adds an Authorization header
func WithAuth(token string) RequestOption {
	return WithHeader("Authorization", "Bearer "+token)
}

// WithProjectID adds an X-Project-ID header
func WithProjectID(projectID string) RequestOption {
	return WithHeader("X-Project-ID", projectID)
}

// WithOrgID adds an X-Org-ID header
func WithOrgID(orgID string) RequestOption {
	return WithHeader("X-Org-ID", orgID)
}

// WithJSON adds Content-Type: application/json header
func WithJSON() RequestOption {
	return WithHeader("Content-Type", "application/json")
}

// WithBody adds a request body
func WithBody(body string) RequestOption {
	return func(r *http.Request) {
		r.Body = io.NopCloser(strings.NewReader(body))
		r.ContentLength = int64(len(body))
	}
}

// WithAPIToken adds an Authorization header with a Bearer prefix (for API tokens)
func WithAPIToken(token string) RequestOption {
	return WithHeader("Authorization", "Bearer "+token)
}

// WithRawAuth adds a raw Authorization header value
func WithRawAuth(value string) RequestOption {
	return WithHeader("Authorization", value)
}

// WithJSONBody sets Content-Type to application/json and marshals the body to JSON
func WithJSONBody(body any) RequestOption {
	return func(r *http.Request) {
		data, err := json.Marshal(body)
		if err != nil {
			panic(err)
		}
		r.Header.Set("Content-Type", "application/json")
		r.Body = io.NopCloser(strings.NewReader(string(data)))
		r.ContentLength = int64(len(data))
	}
}

// MultipartForm represents a multipart form for testing file uploads
type MultipartForm struct {
	body        *bytes.Buffer
	writer      *multipart.Writer
	contentType string
}

// NewMultipartForm creates a new multipart form builder
func NewMultipartForm() *MultipartForm {
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	return &MultipartForm{
		body:   body,
		writer: writer,
	}
}

// AddFile adds a file to the multipart form
func (m *MultipartForm) AddFile(fieldName, filename string, content []byte) error {
	part, err := m.writer.CreateFormFile(fieldName, filename)
	if err != nil {
		return err
	}
	_, err = part.Write(content)
	return err
}

// AddField adds a regular field to the multipart form
func (m *MultipartForm) AddField(fieldName, value string) error {
	return m.writer.WriteField(fieldName, value)
}

// Close finalizes the multipart form and returns the content type
func (m *MultipartForm) Close() string {
	m.writer.Close()
	m.contentType = m.writer.FormDataContentType()
	return m.contentType
}

// WithMultipartForm adds a multipart form body to the request
func WithMultipartForm(form *MultipartForm) RequestOption {
	return func(r *http.Request) {
		r.Header.Set("Content-Type", form.contentType)
		r.Body = io.NopCloser(bytes.NewReader(form.body.Bytes()))
		r.ContentLength = int64(form.body.Len())
	}
}
