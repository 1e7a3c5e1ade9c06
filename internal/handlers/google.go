package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/ytakahashi/firetodo/internal/auth"
)

const (
	oauthCookie     = "oauth_state"
	oauthCookiePath = "/auth/google"
	oauthCookieAge  = 600
)

// GoogleStart sends the browser to Google's consent screen. The state and
// the PKCE verifier ride along in a short-lived cookie.
func (h *Handler) GoogleStart(c echo.Context) error {
	if h.google == nil {
		return echo.ErrNotFound
	}
	state, err := auth.NewState()
	if err != nil {
		return err
	}
	verifier := auth.NewVerifier()

	c.SetCookie(&http.Cookie{
		Name:     oauthCookie,
		Value:    state + "." + verifier,
		Path:     oauthCookiePath,
		MaxAge:   oauthCookieAge,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return c.Redirect(http.StatusFound, h.google.AuthCodeURL(state, verifier))
}

func (h *Handler) GoogleCallback(c echo.Context) error {
	if h.google == nil {
		return echo.ErrNotFound
	}
	s, err := current(c)
	if err != nil {
		return err
	}
	app := s.App()

	var state, verifier string
	if cookie, err := c.Cookie(oauthCookie); err == nil {
		state, verifier, _ = strings.Cut(cookie.Value, ".")
	}
	c.SetCookie(&http.Cookie{
		Name:     oauthCookie,
		Path:     oauthCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
	})

	if err := auth.CallbackError(c.QueryParam("error")); err != nil {
		app.FailAuth(err)
		return h.back(c, err, "/")
	}

	got := c.QueryParam("state")
	if state == "" || verifier == "" || subtle.ConstantTimeCompare([]byte(got), []byte(state)) != 1 {
		err := auth.NewError(auth.CodeInternal, errors.New("oauth state mismatch"))
		app.FailAuth(err)
		return h.back(c, err, "/")
	}

	ctx, cancel := opContext(c)
	defer cancel()

	ident, err := h.google.Exchange(ctx, c.QueryParam("code"), verifier)
	if err != nil {
		app.FailAuth(err)
		return h.back(c, err, "/")
	}
	if err := app.SignInWithGoogle(ctx, ident.IDToken, h.google.RedirectURL()); err != nil {
		return h.back(c, err, "/")
	}
	if err := h.signedIn(c, s); err != nil {
		return err
	}
	return h.back(c, nil, "/")
}
