// Package api is the HTTP surface: an echo server exposing the request
// lifecycle, the response registry, and the user update workflow. Handlers
// orchestrate across the domain packages; business rules live below.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/foilportal/internal/api/auth"
	"github.com/foilportal/internal/events"
	"github.com/foilportal/internal/notify"
	"github.com/foilportal/internal/requests"
	"github.com/foilportal/internal/responses"
	"github.com/foilportal/internal/storage"
	"github.com/foilportal/internal/users"
)

// Server represents the API server
type Server struct {
	echo       *echo.Echo
	port       int
	db         *sql.DB
	requests   *requests.Service
	responses  *responses.Registry
	users      *users.Service
	events     *events.Repo
	tokens     *auth.TokenService
	dispatcher notify.Dispatcher
	files      *storage.Store
	log        zerolog.Logger
}

// NewServer creates a new API server
func NewServer(port int, db *sql.DB, requestsSvc *requests.Service, registry *responses.Registry, usersSvc *users.Service, eventsRepo *events.Repo, tokens *auth.TokenService, dispatcher notify.Dispatcher, files *storage.Store, log zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:       e,
		port:       port,
		db:         db,
		requests:   requestsSvc,
		responses:  registry,
		users:      usersSvc,
		events:     eventsRepo,
		tokens:     tokens,
		dispatcher: dispatcher,
		files:      files,
		log:        log,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	v1 := s.echo.Group("/api/v1")

	v1.POST("/auth/login", s.login)

	// Submission is open to anonymous requesters but rate limited per IP.
	submitLimiter := middleware.RateLimiter(
		middleware.NewRateLimiterMemoryStore(rate.Limit(1)))
	v1.POST("/requests", s.createRequest, auth.OptionalAuth(s.tokens), submitLimiter)
	v1.GET("/requests/:id", s.getRequest, auth.OptionalAuth(s.tokens))
	v1.GET("/requests/:id/responses", s.listResponses, auth.OptionalAuth(s.tokens))

	// Everything below requires an authenticated identity.
	authed := v1.Group("", auth.RequireAuth(s.tokens))

	authed.POST("/requests/:id/close", s.closeRequest)
	authed.POST("/requests/:id/reopen", s.reopenRequest)
	authed.POST("/requests/:id/extend", s.extendRequest)
	authed.PATCH("/requests/:id/agency-description", s.editAgencyDescription)
	authed.PATCH("/requests/:id/privacy", s.setRequestPrivacy)
	authed.GET("/requests/:id/events", s.listEvents)

	authed.POST("/requests/:id/responses/files", s.addFileResponse)
	authed.POST("/requests/:id/responses/notes", s.addNoteResponse)
	authed.POST("/requests/:id/responses/links", s.addLinkResponse)
	authed.POST("/requests/:id/responses/instructions", s.addInstructionResponse)
	authed.POST("/requests/:id/responses/emails", s.addEmailResponse)
	authed.POST("/requests/:id/responses/determinations", s.addDeterminationResponse)
	authed.PATCH("/responses/:id", s.editResponse)
	authed.DELETE("/responses/:id", s.deleteResponse)

	authed.PATCH("/users/:id", s.updateUser)
}

// Start begins the API server and blocks until interrupted.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			s.log.Fatal().Err(err).Msg("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}
