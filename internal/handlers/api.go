package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/ytakahashi/firetodo/internal/herr"
	"github.com/ytakahashi/firetodo/internal/models"
)

type credentialsRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type newTodoRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	DueDate     *time.Time `json:"dueDate"`
}

type todoUpdateRequest struct {
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Completed   *bool           `json:"completed"`
	DueDate     json.RawMessage `json:"dueDate"`
}

// update converts the request; an explicit null due date clears it.
func (r todoUpdateRequest) update() (models.TodoUpdate, error) {
	u := models.TodoUpdate{
		Title:       r.Title,
		Description: r.Description,
		Completed:   r.Completed,
	}
	switch {
	case len(r.DueDate) == 0:
	case string(r.DueDate) == "null":
		u.ClearDueDate = true
	default:
		var due time.Time
		if err := json.Unmarshal(r.DueDate, &due); err != nil {
			return u, herr.Invalid(err, "dueDate: must be an RFC 3339 date-time")
		}
		u.DueDate = &due
	}
	return u, nil
}

type themeRequest struct {
	DarkMode *bool `json:"darkMode"`
}

func (h *Handler) APIState(c echo.Context) error {
	s, err := current(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.App().State())
}

func (h *Handler) APIRegister(c echo.Context) error {
	s, err := current(c)
	if err != nil {
		return err
	}
	var req credentialsRequest
	if err := decode(h.schemas.credentials, c.Request().Body, &req); err != nil {
		return err
	}

	ctx, cancel := opContext(c)
	defer cancel()

	if err := s.App().Register(ctx, req.Email, req.Password, req.DisplayName); err != nil {
		return err
	}
	if err := h.signedIn(c, s); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, s.App().State())
}

func (h *Handler) APILogin(c echo.Context) error {
	s, err := current(c)
	if err != nil {
		return err
	}
	var req credentialsRequest
	if err := decode(h.schemas.credentials, c.Request().Body, &req); err != nil {
		return err
	}

	ctx, cancel := opContext(c)
	defer cancel()

	if err := s.App().Login(ctx, req.Email, req.Password); err != nil {
		return err
	}
	if err := h.signedIn(c, s); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.App().State())
}

func (h *Handler) APILogout(c echo.Context) error {
	s, err := current(c)
	if err != nil {
		return err
	}
	if err := s.App().SignOut(c.Request().Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.App().State())
}

func (h *Handler) APIAddTodo(c echo.Context) error {
	s, err := current(c)
	if err != nil {
		return err
	}
	var req newTodoRequest
	if err := decode(h.schemas.newTodo, c.Request().Body, &req); err != nil {
		return err
	}

	ctx, cancel := opContext(c)
	defer cancel()

	todo, err := s.App().AddTodo(ctx, models.NewTodo{
		Title:       req.Title,
		Description: req.Description,
		DueDate:     req.DueDate,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, todo)
}

func (h *Handler) APIUpdateTodo(c echo.Context) error {
	s, err := current(c)
	if err != nil {
		return err
	}
	var req todoUpdateRequest
	if err := decode(h.schemas.todoUpdate, c.Request().Body, &req); err != nil {
		return err
	}
	update, err := req.update()
	if err != nil {
		return err
	}

	ctx, cancel := opContext(c)
	defer cancel()

	if err := s.App().UpdateTodo(ctx, c.Param("id"), update); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.App().State())
}

func (h *Handler) APIDeleteTodo(c echo.Context) error {
	s, err := current(c)
	if err != nil {
		return err
	}

	ctx, cancel := opContext(c)
	defer cancel()

	if err := s.App().DeleteTodo(ctx, c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// APITheme sets the theme when darkMode is given and toggles it otherwise.
func (h *Handler) APITheme(c echo.Context) error {
	s, err := current(c)
	if err != nil {
		return err
	}
	var req themeRequest
	if c.Request().ContentLength != 0 {
		if err := decode(h.schemas.theme, c.Request().Body, &req); err != nil {
			return err
		}
	}

	app := s.App()
	if req.DarkMode == nil || *req.DarkMode != app.State().Todos.DarkMode {
		app.ToggleDarkMode()
	}
	return c.JSON(http.StatusOK, app.State())
}

func (h *Handler) APIClearErrors(c echo.Context) error {
	s, err := current(c)
	if err != nil {
		return err
	}
	s.App().ClearError()
	return c.JSON(http.StatusOK, s.App().State())
}
