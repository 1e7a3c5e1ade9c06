// Package apiclient talks to the firetodo server's JSON API and live
// channel. Requests share one cookie jar, so they act on one server
// session.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ytakahashi/firetodo/internal/live"
	"github.com/ytakahashi/firetodo/internal/models"
	"github.com/ytakahashi/firetodo/internal/store"
)

const requestTimeout = 30 * time.Second

// Error is a non-2xx API response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

type Client struct {
	base *url.URL
	http *http.Client
	log  *slog.Logger
}

func New(serverURL string, log *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(serverURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", serverURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		base: base,
		http: &http.Client{Jar: jar, Timeout: requestTimeout},
		log:  log,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &Error{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) State(ctx context.Context) (store.State, error) {
	var st store.State
	err := c.do(ctx, http.MethodGet, "/api/state", nil, &st)
	return st, err
}

type credentials struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName,omitempty"`
}

func (c *Client) Register(ctx context.Context, email, password, displayName string) (store.State, error) {
	var st store.State
	err := c.do(ctx, http.MethodPost, "/api/auth/register", credentials{email, password, displayName}, &st)
	return st, err
}

func (c *Client) Login(ctx context.Context, email, password string) (store.State, error) {
	var st store.State
	err := c.do(ctx, http.MethodPost, "/api/auth/login", credentials{Email: email, Password: password}, &st)
	return st, err
}

func (c *Client) Logout(ctx context.Context) (store.State, error) {
	var st store.State
	err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, &st)
	return st, err
}

func (c *Client) AddTodo(ctx context.Context, in models.NewTodo) (*models.Todo, error) {
	var todo models.Todo
	if err := c.do(ctx, http.MethodPost, "/api/todos", in, &todo); err != nil {
		return nil, err
	}
	return &todo, nil
}

// UpdateTodo sends the fields set on u. ClearDueDate is sent as a null due
// date.
func (c *Client) UpdateTodo(ctx context.Context, id string, u models.TodoUpdate) (store.State, error) {
	body := map[string]any{}
	if u.Title != nil {
		body["title"] = *u.Title
	}
	if u.Description != nil {
		body["description"] = *u.Description
	}
	if u.Completed != nil {
		body["completed"] = *u.Completed
	}
	switch {
	case u.ClearDueDate:
		body["dueDate"] = nil
	case u.DueDate != nil:
		body["dueDate"] = u.DueDate.Format(time.RFC3339)
	}

	var st store.State
	err := c.do(ctx, http.MethodPatch, "/api/todos/"+url.PathEscape(id), body, &st)
	return st, err
}

func (c *Client) DeleteTodo(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/todos/"+url.PathEscape(id), nil, nil)
}

func (c *Client) SetDarkMode(ctx context.Context, enabled bool) (store.State, error) {
	var st store.State
	err := c.do(ctx, http.MethodPost, "/api/theme", map[string]bool{"darkMode": enabled}, &st)
	return st, err
}

func (c *Client) ClearErrors(ctx context.Context) (store.State, error) {
	var st store.State
	err := c.do(ctx, http.MethodPost, "/api/errors/clear", nil, &st)
	return st, err
}

// Watch connects to the live channel and streams every pushed state until
// ctx ends or the connection drops. The returned channel is closed then.
func (c *Client) Watch(ctx context.Context) (<-chan store.State, error) {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += "/ws"

	dialer := websocket.Dialer{
		Jar:              c.http.Jar,
		HandshakeTimeout: requestTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial live channel: %w", err)
	}

	out := make(chan store.State, 1)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()
	go func() {
		defer close(out)
		defer close(done)
		for {
			var msg live.Message
			if err := conn.ReadJSON(&msg); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.log.Warn("live channel closed", "error", err)
				}
				return
			}
			// Only the newest state matters.
			select {
			case <-out:
			default:
			}
			out <- msg.State
		}
	}()
	return out, nil
}
