package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ytakahashi/firetodo/internal/logging"
	"github.com/ytakahashi/firetodo/internal/models"
	"github.com/ytakahashi/firetodo/internal/testutil"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) add(d time.Duration) { c.t = c.t.Add(d) }

type env struct {
	dbPath   string
	store    Store
	todos    *testutil.FakeTodos
	identity *testutil.FakeIdentity
	clock    *clock
}

func setupTest(t *testing.T) *env {
	t.Helper()
	e := &env{
		dbPath:   filepath.Join(t.TempDir(), "sessions.db"),
		todos:    testutil.NewFakeTodos(),
		identity: testutil.NewFakeIdentity(),
		clock:    &clock{t: time.Unix(1767225600, 0)},
	}
	e.store = e.openStore(t)
	return e
}

func (e *env) openStore(t *testing.T) Store {
	t.Helper()
	st, err := NewSQLiteStore(e.dbPath)
	if err != nil {
		t.Fatalf("error creating store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func (e *env) manager(t *testing.T, st Store) *Manager {
	t.Helper()
	m := NewManager(st, e.todos, e.identity, logging.Discard(), Options{
		Expiration:       30 * 24 * time.Hour,
		RefreshThreshold: 15 * 24 * time.Hour,
		IdleTimeout:      time.Hour,
	})
	m.now = e.clock.now
	t.Cleanup(m.Close)
	return m
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			return c
		}
	}
	return nil
}

func load(t *testing.T, m *Manager, cookie *http.Cookie) (*Session, *httptest.ResponseRecorder) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	s, err := m.Load(rec, req)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return s, rec
}

func TestSessionCreation(t *testing.T) {
	e := setupTest(t)
	m := e.manager(t, e.store)

	s, rec := load(t, m, nil)
	cookie := sessionCookie(t, rec)
	if cookie == nil {
		t.Fatal("expected a session cookie")
	}
	if !cookie.HttpOnly || cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("unexpected cookie attributes %+v", cookie)
	}
	if s.ID() == cookie.Value {
		t.Error("the stored id must not be the token itself")
	}

	again, rec := load(t, m, cookie)
	if again != s {
		t.Error("expected the same session for the same cookie")
	}
	if sessionCookie(t, rec) != nil {
		t.Error("a valid session should not be re-issued")
	}
}

func TestUnknownTokenGetsNewSession(t *testing.T) {
	e := setupTest(t)
	m := e.manager(t, e.store)

	_, rec := load(t, m, &http.Cookie{Name: CookieName, Value: "forged"})
	if sessionCookie(t, rec) == nil {
		t.Error("expected a new session cookie")
	}
	if m.Len() != 1 {
		t.Errorf("expected one session, got %d", m.Len())
	}
}

func TestUserAndThemeSurviveRestart(t *testing.T) {
	e := setupTest(t)
	e.identity.AddAccount("ann@example.com", "secret1", "Ann")
	m := e.manager(t, e.store)

	s, rec := load(t, m, nil)
	cookie := sessionCookie(t, rec)
	if err := s.App().Login(context.Background(), "ann@example.com", "secret1"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	s.App().ToggleDarkMode()
	uid := s.App().State().Auth.User.UID
	e.todos.Seed(models.Todo{ID: "t1", UserID: uid, Title: "persisted"})

	m.Close()
	if e.todos.Subscribers() != 0 {
		t.Fatalf("expected subscriptions released on close, got %d", e.todos.Subscribers())
	}

	restarted := e.manager(t, e.openStore(t))
	s2, _ := load(t, restarted, cookie)
	st := s2.App().State()
	if st.Auth.User == nil || st.Auth.User.UID != uid {
		t.Fatalf("expected restored user, got %+v", st.Auth.User)
	}
	if !st.Todos.DarkMode {
		t.Error("expected dark mode restored")
	}
	if len(st.Todos.Todos) != 1 || st.Todos.Todos[0].Title != "persisted" {
		t.Errorf("expected restored subscription, got %v", st.Todos.Todos)
	}
}

func TestSignOutIsPersisted(t *testing.T) {
	e := setupTest(t)
	e.identity.AddAccount("ann@example.com", "secret1", "")
	m := e.manager(t, e.store)

	s, _ := load(t, m, nil)
	if err := s.App().Login(context.Background(), "ann@example.com", "secret1"); err != nil {
		t.Fatal(err)
	}
	if err := s.App().SignOut(context.Background()); err != nil {
		t.Fatal(err)
	}

	rec, err := e.store.SessionByID(s.ID())
	if err != nil {
		t.Fatal(err)
	}
	if rec.User != nil {
		t.Errorf("expected no stored user, got %+v", rec.User)
	}
}

func TestExpiredSessionIsReplaced(t *testing.T) {
	e := setupTest(t)
	m := e.manager(t, e.store)

	old, rec := load(t, m, nil)
	cookie := sessionCookie(t, rec)
	oldID := old.ID()

	e.clock.add(31 * 24 * time.Hour)
	s, rec := load(t, m, cookie)
	if s == old {
		t.Error("expected a new session after expiry")
	}
	if sessionCookie(t, rec) == nil {
		t.Error("expected a new cookie")
	}
	if _, err := e.store.SessionByID(oldID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected expired row deleted, got %v", err)
	}
}

func TestSessionRefresh(t *testing.T) {
	e := setupTest(t)
	m := e.manager(t, e.store)

	s, rec := load(t, m, nil)
	cookie := sessionCookie(t, rec)

	e.clock.add(20 * 24 * time.Hour)
	again, rec := load(t, m, cookie)
	if again != s {
		t.Fatal("expected the same session")
	}
	refreshed := sessionCookie(t, rec)
	if refreshed == nil {
		t.Fatal("expected a refreshed cookie")
	}
	if refreshed.Value != cookie.Value {
		t.Error("refresh keeps the token")
	}

	stored, err := e.store.SessionByID(s.ID())
	if err != nil {
		t.Fatal(err)
	}
	want := e.clock.now().Add(30 * 24 * time.Hour).Unix()
	if stored.ExpiresAt != want {
		t.Errorf("expected expiry %d, got %d", want, stored.ExpiresAt)
	}
}

func TestRenew(t *testing.T) {
	e := setupTest(t)
	m := e.manager(t, e.store)

	s, rec := load(t, m, nil)
	oldCookie := sessionCookie(t, rec)
	s.App().ToggleDarkMode()

	rec = httptest.NewRecorder()
	if err := m.Renew(rec, s); err != nil {
		t.Fatalf("Renew failed: %v", err)
	}
	newCookie := sessionCookie(t, rec)
	if newCookie == nil || newCookie.Value == oldCookie.Value {
		t.Fatal("expected a new token")
	}

	again, _ := load(t, m, newCookie)
	if again != s {
		t.Error("new token must resolve to the same session")
	}
	other, _ := load(t, m, oldCookie)
	if other == s {
		t.Error("old token must no longer resolve")
	}

	stored, err := e.store.SessionByID(s.ID())
	if err != nil {
		t.Fatal(err)
	}
	if !stored.DarkMode {
		t.Error("expected data carried to the new id")
	}
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	e := setupTest(t)
	m := e.manager(t, e.store)

	idle, rec := load(t, m, nil)
	idleCookie := sessionCookie(t, rec)
	if err := idle.App().Restore(models.User{UID: "u1"}); err != nil {
		t.Fatal(err)
	}

	busy, _ := load(t, m, nil)
	release := busy.Attach()

	e.clock.add(2 * time.Hour)
	if n := m.Sweep(); n != 1 {
		t.Fatalf("expected one eviction, got %d", n)
	}
	if e.todos.Subscribers() != 0 {
		t.Error("expected the evicted app's subscription released")
	}
	if m.Len() != 1 {
		t.Errorf("expected the attached session to stay, got %d sessions", m.Len())
	}

	// The evicted session is rebuilt from storage on the next request.
	back, _ := load(t, m, idleCookie)
	if u, ok := back.App().User(); !ok || u.UID != "u1" {
		t.Errorf("expected restored user, got %+v", u)
	}

	release()
	release()
	e.clock.add(2 * time.Hour)
	m.Sweep()
	if m.Len() != 0 {
		t.Errorf("expected all sessions evicted, got %d", m.Len())
	}
}
