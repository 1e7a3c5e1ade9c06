// Package herr turns failures into HTTP and websocket responses.
package herr

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/ytakahashi/firetodo/internal/auth"
	"github.com/ytakahashi/firetodo/internal/models"
	"github.com/ytakahashi/firetodo/internal/services"
	"github.com/ytakahashi/firetodo/internal/todoapp"
)

type Error struct {
	Err         error
	HTTPMessage string
	Desc        string
	Code        int
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Desc
	}
	return e.Desc + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) StatusCode() int { return e.Code }

func Internal(err error, desc string) *Error {
	return &Error{
		HTTPMessage: "Internal server error",
		Desc:        desc,
		Code:        http.StatusInternalServerError,
		Err:         err,
	}
}

func BadRequest(err error, desc string) *Error {
	return &Error{
		HTTPMessage: "Bad request",
		Desc:        desc,
		Code:        http.StatusBadRequest,
		Err:         err,
	}
}

func Unauthorized(err error, desc string) *Error {
	return &Error{
		HTTPMessage: "Unauthorized",
		Desc:        desc,
		Code:        http.StatusUnauthorized,
		Err:         err,
	}
}

// Invalid is a 400 whose message is shown to the user as is.
func Invalid(err error, msg string) *Error {
	return &Error{
		HTTPMessage: msg,
		Desc:        "invalid request",
		Code:        http.StatusBadRequest,
		Err:         err,
	}
}

// From classifies err by the domain sentinel it wraps.
func From(err error) *Error {
	var he *Error
	if errors.As(err, &he) {
		return he
	}
	var ae *auth.Error
	if errors.As(err, &ae) {
		return &Error{Err: err, HTTPMessage: auth.Message(ae.Code), Desc: "authentication failed", Code: authStatus(ae.Code)}
	}

	switch {
	case errors.Is(err, models.ErrEmptyTitle), errors.Is(err, models.ErrEmptyUpdate):
		return Invalid(err, err.Error())
	case errors.Is(err, todoapp.ErrNotSignedIn):
		return Unauthorized(err, "not signed in")
	case errors.Is(err, todoapp.ErrRequestInFlight):
		return &Error{Err: err, HTTPMessage: "A request is already in progress", Desc: "request in flight", Code: http.StatusConflict}
	case errors.Is(err, services.ErrTodoNotFound), errors.Is(err, todoapp.ErrUnknownTodo):
		return &Error{Err: err, HTTPMessage: "Todo not found", Desc: "todo not found", Code: http.StatusNotFound}
	case errors.Is(err, services.ErrNotOwner):
		return &Error{Err: err, HTTPMessage: "Forbidden", Desc: "todo belongs to another user", Code: http.StatusForbidden}
	case errors.Is(err, context.Canceled):
		return &Error{Err: err, HTTPMessage: "Request cancelled", Desc: "request cancelled", Code: 499}
	}
	return Internal(err, "unhandled error")
}

// authStatus is 401 for rejected credentials and 502 when the provider failed.
func authStatus(code string) int {
	switch code {
	case auth.CodeInternal:
		return http.StatusBadGateway
	case auth.CodeTooManyRequests:
		return http.StatusTooManyRequests
	}
	return http.StatusUnauthorized
}

type body struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// Handler is the echo error handler: every error is logged once and
// rendered as JSON under /api and /ws, plain text elsewhere.
func Handler(log *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var e *Error
		var he *echo.HTTPError
		if errors.As(err, &he) {
			msg, ok := he.Message.(string)
			if !ok {
				msg = http.StatusText(he.Code)
			}
			e = &Error{Err: err, HTTPMessage: msg, Desc: "http error", Code: he.Code}
		} else {
			e = From(err)
		}

		if e.Code >= http.StatusInternalServerError {
			log.Error("Error in handler", "desc", e.Desc, "httpMessage", e.HTTPMessage, "code", e.Code, "error", e.Err)
		} else {
			log.Debug("Request failed", "desc", e.Desc, "code", e.Code, "error", e.Err)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(e.Code)
		} else if wantsJSON(c) {
			err = c.JSON(e.Code, body{Error: e.HTTPMessage, Code: e.Code})
		} else {
			err = c.String(e.Code, e.HTTPMessage)
		}
		if err != nil {
			log.Error("Error writing error response", "error", err)
		}
	}
}

func wantsJSON(c echo.Context) bool {
	path := c.Request().URL.Path
	return strings.HasPrefix(path, "/api/") || strings.HasPrefix(path, "/ws") ||
		strings.Contains(c.Request().Header.Get(echo.HeaderAccept), echo.MIMEApplicationJSON)
}

func WS(log *slog.Logger, conn *websocket.Conn, err error, desc string) {
	code := websocket.CloseInternalServerErr
	if errors.Is(err, context.Canceled) {
		code = websocket.CloseGoingAway
	}

	log.Error("WebSocket error", "desc", desc, "error", err)
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, desc))
}

func WSClose(log *slog.Logger, conn *websocket.Conn, desc string) {
	log.Debug("WebSocket closing", "desc", desc)
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, desc))
}
