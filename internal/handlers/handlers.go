// Package handlers serves the web front end and the JSON API. Every
// request works on the App of the caller's session.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/ytakahashi/firetodo/internal/auth"
	"github.com/ytakahashi/firetodo/internal/herr"
	"github.com/ytakahashi/firetodo/internal/middleware"
	"github.com/ytakahashi/firetodo/internal/session"
)

const operationTimeout = 30 * time.Second

type Handler struct {
	sessions *session.Manager
	schemas  *Schemas
	google   *auth.GoogleOAuth
	log      *slog.Logger
	secure   bool
}

// Config wires a Handler. Google may be nil when Google sign-in is not
// configured.
type Config struct {
	Sessions *session.Manager
	Schemas  *Schemas
	Google   *auth.GoogleOAuth
	Logger   *slog.Logger
	Secure   bool
}

func NewHandler(cfg Config) *Handler {
	return &Handler{
		sessions: cfg.Sessions,
		schemas:  cfg.Schemas,
		google:   cfg.Google,
		log:      cfg.Logger,
		secure:   cfg.Secure,
	}
}

// Register mounts every session-backed route on g. limit guards the
// credential endpoints.
func (h *Handler) Register(g *echo.Group, limit echo.MiddlewareFunc) {
	g.GET("/", h.Index)
	g.POST("/auth/register", h.WebRegister, limit)
	g.POST("/auth/login", h.WebLogin, limit)
	g.POST("/auth/logout", h.WebLogout)
	g.POST("/auth/mode", h.WebAuthMode)
	g.GET("/auth/google", h.GoogleStart, limit)
	g.GET("/auth/google/callback", h.GoogleCallback)
	g.POST("/todos", h.WebAddTodo)
	g.POST("/todos/:id/toggle", h.WebToggleTodo)
	g.POST("/todos/:id/edit", h.WebEditTodo)
	g.POST("/todos/:id/delete", h.WebDeleteTodo)
	g.POST("/theme", h.WebTheme)
	g.POST("/errors/clear", h.WebClearErrors)

	api := g.Group("/api")
	api.GET("/state", h.APIState)
	api.POST("/auth/register", h.APIRegister, limit)
	api.POST("/auth/login", h.APILogin, limit)
	api.POST("/auth/logout", h.APILogout)
	api.POST("/theme", h.APITheme)
	api.POST("/errors/clear", h.APIClearErrors)

	todos := api.Group("/todos", middleware.RequireUser())
	todos.POST("", h.APIAddTodo)
	todos.PATCH("/:id", h.APIUpdateTodo)
	todos.DELETE("/:id", h.APIDeleteTodo)
}

func current(c echo.Context) (*session.Session, error) {
	s, ok := session.FromContext(c)
	if !ok {
		return nil, herr.Internal(errors.New("no session"), "No session data on context")
	}
	return s, nil
}

// opContext detaches backend calls from the client connection so a closed
// tab does not abort a write halfway.
func opContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(c.Request().Context()), operationTimeout)
}

// signedIn renews the session token after a successful sign-in.
func (h *Handler) signedIn(c echo.Context, s *session.Session) error {
	if err := h.sessions.Renew(c.Response(), s); err != nil {
		return herr.Internal(err, "Error renewing session")
	}
	return nil
}
