package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/ytakahashi/firetodo/internal/models"
	"github.com/ytakahashi/firetodo/internal/view"
)

func (h *Handler) Index(c echo.Context) error {
	s, err := current(c)
	if err != nil {
		return err
	}

	return c.Render(http.StatusOK, "page", view.Page{
		State:         s.App().State(),
		Registering:   c.QueryParam("mode") == "register",
		EditID:        c.QueryParam("edit"),
		GoogleEnabled: h.google != nil,
	})
}

// back ends a form post. Failures are already in the session's state, so
// they are only logged here.
func (h *Handler) back(c echo.Context, err error, target string) error {
	if err != nil {
		h.log.Debug("form action failed", "path", c.Path(), "error", err)
	}
	return c.Redirect(http.StatusSeeOther, target)
}

func (h *Handler) WebRegister(c echo.Context) error {
	s, err := current(c)
	if err != nil {
		return err
	}

	ctx, cancel := opContext(c)
	defer cancel()

	err = s.App().Register(ctx,
		strings.TrimSpace(c.FormValue("email")),
		c.FormValue("password"),
		strings.TrimSpace(c.FormValue("displayName")),
	)
	if err != nil {
		return h.back(c, err, "/?mode=register")
	}
	if err := h.signedIn(c, s); err != nil {
		return err
	}
	return h.back(c, nil, "/")
}

func (h *Handler) WebLogin(c echo.Context) error {
	s, err := current(c)
	if err != nil {
		return err
	}

	ctx, cancel := opContext(c)
	defer cancel()

	err = s.App().Login(ctx, strings.TrimSpace(c.FormValue("email")), c.FormValue("password"))
	if err != nil {
		return h.back(c, err, "/")
	}
	if err := h.signedIn(c, s); err != nil {
		return err
	}
	return h.back(c, nil, "/")
}

func (h *Handler) WebLogout(c echo.Context) error {
	s, err := current(c)
	if err != nil {
		return err
	}
	return h.back(c, s.App().SignOut(c.Request().Context()), "/")
}

// WebAuthMode switches between the sign-in and the registration form. The
// previous form's error does not carry over.
func (h *Handler) WebAuthMode(c echo.Context) error {
	s, err := current(c)
	if err != nil {
		return err
	}
	s.App().ClearError()
	if c.FormValue("mode") == "register" {
		return h.back(c, nil, "/?mode=register")
	}
	return h.back(c, nil, "/")
}

const invalidDueDate = "Invalid due date"

// parseDue reads a datetime-local form value. Empty means no due date.
func parseDue(v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(view.DateInputLayout, v, time.Local)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (h *Handler) WebAddTodo(c echo.Context) error {
	s, err := current(c)
	if err != nil {
		return err
	}

	due, err := parseDue(c.FormValue("dueDate"))
	if err != nil {
		s.App().RejectInput(invalidDueDate)
		return h.back(c, err, "/")
	}

	ctx, cancel := opContext(c)
	defer cancel()

	_, err = s.App().AddTodo(ctx, models.NewTodo{
		Title:       c.FormValue("title"),
		Description: c.FormValue("description"),
		DueDate:     due,
	})
	if errors.Is(err, models.ErrEmptyTitle) {
		s.App().RejectInput(err.Error())
	}
	return h.back(c, err, "/")
}

func (h *Handler) WebToggleTodo(c echo.Context) error {
	s, err := current(c)
	if err != nil {
		return err
	}

	ctx, cancel := opContext(c)
	defer cancel()

	return h.back(c, s.App().ToggleComplete(ctx, c.Param("id")), "/")
}

func (h *Handler) WebEditTodo(c echo.Context) error {
	s, err := current(c)
	if err != nil {
		return err
	}
	id := c.Param("id")

	due, err := parseDue(c.FormValue("dueDate"))
	if err != nil {
		s.App().RejectInput(invalidDueDate)
		return h.back(c, err, "/?edit="+url.QueryEscape(id))
	}

	title := c.FormValue("title")
	description := c.FormValue("description")
	update := models.TodoUpdate{
		Title:        &title,
		Description:  &description,
		DueDate:      due,
		ClearDueDate: due == nil,
	}

	ctx, cancel := opContext(c)
	defer cancel()

	if err := s.App().UpdateTodo(ctx, id, update); err != nil {
		return h.back(c, err, "/?edit="+url.QueryEscape(id))
	}
	return h.back(c, nil, "/")
}

func (h *Handler) WebDeleteTodo(c echo.Context) error {
	s, err := current(c)
	if err != nil {
		return err
	}

	ctx, cancel := opContext(c)
	defer cancel()

	return h.back(c, s.App().DeleteTodo(ctx, c.Param("id")), "/")
}

func (h *Handler) WebTheme(c echo.Context) error {
	s, err := current(c)
	if err != nil {
		return err
	}
	s.App().ToggleDarkMode()
	return h.back(c, nil, "/")
}

func (h *Handler) WebClearErrors(c echo.Context) error {
	s, err := current(c)
	if err != nil {
		return err
	}
	s.App().ClearError()
	return h.back(c, nil, "/")
}
