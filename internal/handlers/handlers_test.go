package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/ytakahashi/firetodo/internal/auth"
	"github.com/ytakahashi/firetodo/internal/herr"
	"github.com/ytakahashi/firetodo/internal/logging"
	"github.com/ytakahashi/firetodo/internal/middleware"
	"github.com/ytakahashi/firetodo/internal/models"
	"github.com/ytakahashi/firetodo/internal/session"
	"github.com/ytakahashi/firetodo/internal/store"
	"github.com/ytakahashi/firetodo/internal/testutil"
	"github.com/ytakahashi/firetodo/internal/view"
	"golang.org/x/oauth2"
)

type testEnv struct {
	srv      *httptest.Server
	client   *http.Client
	todos    *testutil.FakeTodos
	identity *testutil.FakeIdentity
}

func setupTest(t *testing.T, google *auth.GoogleOAuth) *testEnv {
	t.Helper()
	log := logging.Discard()

	st, err := session.NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	env := &testEnv{
		todos:    testutil.NewFakeTodos(),
		identity: testutil.NewFakeIdentity(),
	}
	m := session.NewManager(st, env.todos, env.identity, log, session.Options{})
	t.Cleanup(m.Close)

	renderer, err := view.New()
	if err != nil {
		t.Fatal(err)
	}
	schemas, err := NewSchemas()
	if err != nil {
		t.Fatal(err)
	}

	e := echo.New()
	e.Renderer = renderer
	e.HTTPErrorHandler = herr.Handler(log)
	g := e.Group("", m.Middleware())
	h := NewHandler(Config{Sessions: m, Schemas: schemas, Google: google, Logger: log})
	h.Register(g, middleware.NewRateLimiter(1000, 1000, log).Middleware())

	env.srv = httptest.NewServer(e)
	t.Cleanup(env.srv.Close)

	jar, _ := cookiejar.New(nil)
	env.client = &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) form(t *testing.T, path string, values url.Values) *http.Response {
	t.Helper()
	resp, err := e.client.PostForm(e.srv.URL+path, values)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp
}

func (e *testEnv) state(t *testing.T) store.State {
	t.Helper()
	resp := e.do(t, http.MethodGet, "/api/state", "")
	var st store.State
	decodeBody(t, resp, &st)
	return st
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("error decoding response: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, code int) {
	t.Helper()
	if resp.StatusCode != code {
		data, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d: %s", code, resp.StatusCode, data)
	}
}

func errorMessage(t *testing.T, resp *http.Response) string {
	t.Helper()
	var b struct {
		Error string `json:"error"`
	}
	decodeBody(t, resp, &b)
	return b.Error
}

func TestIndexShowsSignIn(t *testing.T) {
	env := setupTest(t, nil)

	resp := env.do(t, http.MethodGet, "/", "")
	expectStatus(t, resp, http.StatusOK)
	data, _ := io.ReadAll(resp.Body)
	page := string(data)
	if !strings.Contains(page, "Sign In") {
		t.Error("expected the sign-in form")
	}
	if strings.Contains(page, "Sign in with Google") {
		t.Error("Google sign-in must be hidden when not configured")
	}

	resp = env.do(t, http.MethodGet, "/?mode=register", "")
	data, _ = io.ReadAll(resp.Body)
	if !strings.Contains(string(data), "Register") {
		t.Error("expected the registration form")
	}
}

func TestWebLoginAndAddTodo(t *testing.T) {
	env := setupTest(t, nil)
	env.identity.AddAccount("ann@example.com", "secret1", "Ann")

	env.do(t, http.MethodGet, "/", "")
	resp := env.form(t, "/auth/login", url.Values{"email": {" ann@example.com "}, "password": {"secret1"}})
	expectStatus(t, resp, http.StatusSeeOther)
	if loc := resp.Header.Get("Location"); loc != "/" {
		t.Errorf("expected redirect to /, got %q", loc)
	}

	resp = env.form(t, "/todos", url.Values{"title": {"Buy milk"}, "dueDate": {"2026-03-01T10:30"}})
	expectStatus(t, resp, http.StatusSeeOther)

	st := env.state(t)
	if st.Auth.User == nil || st.Auth.User.Email != "ann@example.com" {
		t.Fatalf("expected signed-in user, got %+v", st.Auth.User)
	}
	if len(st.Todos.Todos) != 1 {
		t.Fatalf("expected one todo, got %v", st.Todos.Todos)
	}
	todo := st.Todos.Todos[0]
	if todo.Title != "Buy milk" || todo.DueDate == nil || todo.DueDate.Hour() != 10 {
		t.Errorf("unexpected todo %+v", todo)
	}

	resp = env.form(t, "/todos/"+todo.ID+"/toggle", nil)
	expectStatus(t, resp, http.StatusSeeOther)
	if got, _ := env.todos.Get(todo.ID); !got.Completed {
		t.Error("expected todo completed")
	}

	resp = env.form(t, "/todos/"+todo.ID+"/edit", url.Values{"title": {"Buy oat milk"}, "description": {"2L"}})
	expectStatus(t, resp, http.StatusSeeOther)
	got, _ := env.todos.Get(todo.ID)
	if got.Title != "Buy oat milk" || got.Description != "2L" || got.DueDate != nil {
		t.Errorf("unexpected edit result %+v", got)
	}

	resp = env.form(t, "/todos/"+todo.ID+"/delete", nil)
	expectStatus(t, resp, http.StatusSeeOther)
	if _, ok := env.todos.Get(todo.ID); ok {
		t.Error("expected todo deleted")
	}
}

func TestWebLoginFailureShowsMessage(t *testing.T) {
	env := setupTest(t, nil)
	env.identity.AddAccount("ann@example.com", "secret1", "")

	env.form(t, "/auth/login", url.Values{"email": {"ann@example.com"}, "password": {"nope"}})
	resp := env.do(t, http.MethodGet, "/", "")
	data, _ := io.ReadAll(resp.Body)
	want := auth.Message(auth.CodeWrongPassword)
	if !strings.Contains(string(data), strings.ReplaceAll(want, "'", "&#39;")) {
		t.Errorf("expected %q on the page", want)
	}

	env.form(t, "/auth/mode", url.Values{"mode": {"register"}})
	if st := env.state(t); st.Auth.Error != "" {
		t.Errorf("expected error cleared on mode switch, got %q", st.Auth.Error)
	}
}

func TestWebEditBadDateKeepsEditing(t *testing.T) {
	env := setupTest(t, nil)
	env.identity.AddAccount("ann@example.com", "secret1", "")
	env.form(t, "/auth/login", url.Values{"email": {"ann@example.com"}, "password": {"secret1"}})

	resp := env.form(t, "/todos/t1/edit", url.Values{"title": {"x"}, "dueDate": {"tomorrow"}})
	if loc := resp.Header.Get("Location"); loc != "/?edit=t1" {
		t.Errorf("expected redirect back to the edit form, got %q", loc)
	}
	if st := env.state(t); st.Todos.Error != "Invalid due date" {
		t.Errorf("expected a due date error, got %q", st.Todos.Error)
	}
}

func TestWebAddRejectsBadInput(t *testing.T) {
	env := setupTest(t, nil)
	env.identity.AddAccount("ann@example.com", "secret1", "")
	env.form(t, "/auth/login", url.Values{"email": {"ann@example.com"}, "password": {"secret1"}})

	resp := env.form(t, "/todos", url.Values{"title": {"Buy milk"}, "dueDate": {"next week"}})
	if loc := resp.Header.Get("Location"); loc != "/" {
		t.Errorf("expected redirect home, got %q", loc)
	}
	st := env.state(t)
	if st.Todos.Error != "Invalid due date" {
		t.Errorf("expected a due date error, got %q", st.Todos.Error)
	}
	if len(st.Todos.Todos) != 0 || st.Todos.IsLoading {
		t.Errorf("nothing should have been added: %+v", st.Todos)
	}

	env.form(t, "/errors/clear", nil)
	env.form(t, "/todos", url.Values{"title": {"   "}})
	if st := env.state(t); st.Todos.Error != models.ErrEmptyTitle.Error() {
		t.Errorf("expected the empty title error, got %q", st.Todos.Error)
	}
}

func TestAPIAuth(t *testing.T) {
	env := setupTest(t, nil)

	resp := env.do(t, http.MethodPost, "/api/auth/register", `{"email":"bob@example.com","password":"secret1","displayName":"Bob"}`)
	expectStatus(t, resp, http.StatusCreated)
	var st store.State
	decodeBody(t, resp, &st)
	if st.Auth.User == nil || st.Auth.User.DisplayName != "Bob" {
		t.Fatalf("expected registered user, got %+v", st.Auth.User)
	}

	resp = env.do(t, http.MethodPost, "/api/auth/logout", "")
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &st)
	if st.Auth.User != nil {
		t.Error("expected signed out")
	}

	resp = env.do(t, http.MethodPost, "/api/auth/login", `{"email":"bob@example.com","password":"wrong1"}`)
	expectStatus(t, resp, http.StatusUnauthorized)
	if msg := errorMessage(t, resp); msg != auth.Message(auth.CodeWrongPassword) {
		t.Errorf("unexpected message %q", msg)
	}

	resp = env.do(t, http.MethodPost, "/api/auth/register", `{"email":"bob@example.com","password":"secret1"}`)
	expectStatus(t, resp, http.StatusUnauthorized)
	if msg := errorMessage(t, resp); msg != auth.Message(auth.CodeEmailAlreadyInUse) {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestAPIValidation(t *testing.T) {
	env := setupTest(t, nil)

	tests := []struct {
		name string
		path string
		body string
		want string
	}{
		{"not json", "/api/auth/login", `{`, "Request body is not valid JSON"},
		{"missing password", "/api/auth/login", `{"email":"a@example.com"}`, "missing properties"},
		{"bad email", "/api/auth/login", `{"email":"nope","password":"x"}`, "email: "},
		{"unknown field", "/api/auth/register", `{"email":"a@example.com","password":"x","admin":true}`, "additionalProperties"},
		{"bad theme", "/api/theme", `{"darkMode":"yes"}`, "darkMode: "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, tt.path, tt.body)
			expectStatus(t, resp, http.StatusBadRequest)
			if msg := errorMessage(t, resp); !strings.Contains(msg, tt.want) {
				t.Errorf("expected %q in %q", tt.want, msg)
			}
		})
	}
}

func TestAPITodos(t *testing.T) {
	env := setupTest(t, nil)
	env.identity.AddAccount("ann@example.com", "secret1", "")

	resp := env.do(t, http.MethodPost, "/api/todos", `{"title":"Write report"}`)
	expectStatus(t, resp, http.StatusUnauthorized)

	resp = env.do(t, http.MethodPost, "/api/auth/login", `{"email":"ann@example.com","password":"secret1"}`)
	expectStatus(t, resp, http.StatusOK)

	resp = env.do(t, http.MethodPost, "/api/todos", `{"title":"Write report","dueDate":"2026-02-01T12:00:00Z"}`)
	expectStatus(t, resp, http.StatusCreated)
	var todo models.Todo
	decodeBody(t, resp, &todo)
	if todo.ID == "" || todo.DueDate == nil {
		t.Fatalf("unexpected todo %+v", todo)
	}

	resp = env.do(t, http.MethodPost, "/api/todos", `{"title":"   "}`)
	expectStatus(t, resp, http.StatusBadRequest)

	resp = env.do(t, http.MethodPatch, "/api/todos/"+todo.ID, `{"completed":true,"dueDate":null}`)
	expectStatus(t, resp, http.StatusOK)
	got, _ := env.todos.Get(todo.ID)
	if !got.Completed || got.DueDate != nil {
		t.Errorf("unexpected update result %+v", got)
	}

	resp = env.do(t, http.MethodPatch, "/api/todos/"+todo.ID, `{}`)
	expectStatus(t, resp, http.StatusBadRequest)

	resp = env.do(t, http.MethodPatch, "/api/todos/missing", `{"completed":true}`)
	expectStatus(t, resp, http.StatusNotFound)

	env.todos.Seed(models.Todo{ID: "foreign", UserID: "someone-else", Title: "not yours"})
	resp = env.do(t, http.MethodDelete, "/api/todos/foreign", "")
	expectStatus(t, resp, http.StatusForbidden)

	resp = env.do(t, http.MethodDelete, "/api/todos/"+todo.ID, "")
	expectStatus(t, resp, http.StatusNoContent)
	if st := env.state(t); len(st.Todos.Todos) != 0 {
		t.Errorf("expected no todos, got %v", st.Todos.Todos)
	}
}

func TestAPITheme(t *testing.T) {
	env := setupTest(t, nil)

	resp := env.do(t, http.MethodPost, "/api/theme", "")
	var st store.State
	decodeBody(t, resp, &st)
	if !st.Todos.DarkMode {
		t.Error("expected an empty body to toggle dark mode on")
	}

	resp = env.do(t, http.MethodPost, "/api/theme", `{"darkMode":true}`)
	decodeBody(t, resp, &st)
	if !st.Todos.DarkMode {
		t.Error("expected dark mode to stay on")
	}

	resp = env.do(t, http.MethodPost, "/api/theme", `{"darkMode":false}`)
	decodeBody(t, resp, &st)
	if st.Todos.DarkMode {
		t.Error("expected dark mode off")
	}
}

func TestGoogleNotConfigured(t *testing.T) {
	env := setupTest(t, nil)
	resp := env.do(t, http.MethodGet, "/auth/google", "")
	expectStatus(t, resp, http.StatusNotFound)
}

func googleProvider(t *testing.T, idToken string) *auth.GoogleOAuth {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("code_verifier") == "" {
			http.Error(w, "missing verifier", http.StatusBadRequest)
			return
		}
		w.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     idToken,
		})
	}))
	t.Cleanup(srv.Close)

	return auth.NewGoogleOAuth(auth.GoogleConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost/auth/google/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   srv.URL + "/auth",
			TokenURL:  srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	})
}

func TestGoogleSignIn(t *testing.T) {
	idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.IDTokenClaims{
		Email:         "cat@example.com",
		EmailVerified: true,
		Name:          "Cat",
	}).SignedString([]byte("test"))
	if err != nil {
		t.Fatal(err)
	}

	env := setupTest(t, googleProvider(t, idToken))
	env.identity.GoogleUsers[idToken] = models.User{UID: "g1", Email: "cat@example.com", DisplayName: "Cat"}

	resp := env.do(t, http.MethodGet, "/auth/google", "")
	expectStatus(t, resp, http.StatusFound)
	consent, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	q := consent.Query()
	if q.Get("code_challenge") == "" || q.Get("prompt") != "select_account" {
		t.Errorf("unexpected consent URL %s", consent)
	}

	resp = env.do(t, http.MethodGet, "/auth/google/callback?code=abc&state="+url.QueryEscape(q.Get("state")), "")
	expectStatus(t, resp, http.StatusSeeOther)

	st := env.state(t)
	if st.Auth.User == nil || st.Auth.User.UID != "g1" {
		t.Fatalf("expected Google user, got %+v (error %q)", st.Auth.User, st.Auth.Error)
	}
}

func TestGoogleCallbackErrors(t *testing.T) {
	env := setupTest(t, googleProvider(t, "unused"))

	env.do(t, http.MethodGet, "/auth/google", "")
	env.do(t, http.MethodGet, "/auth/google/callback?error=access_denied", "")
	if st := env.state(t); st.Auth.Error != auth.Message(auth.CodePopupClosedByUser) {
		t.Errorf("unexpected error %q", st.Auth.Error)
	}

	env.do(t, http.MethodGet, "/auth/google/callback?code=abc&state=forged", "")
	st := env.state(t)
	if st.Auth.User != nil || st.Auth.Error != auth.Message(auth.CodeInternal) {
		t.Errorf("expected state mismatch rejected, got %+v", st.Auth)
	}
}
