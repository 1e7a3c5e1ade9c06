// Package session keeps one application instance per browser session and
// persists what must survive a restart: the signed-in user and the theme.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/ytakahashi/firetodo/internal/metrics"
	"github.com/ytakahashi/firetodo/internal/models"
	"github.com/ytakahashi/firetodo/internal/store"
	"github.com/ytakahashi/firetodo/internal/todoapp"
)

const (
	ContextKey = "session"
	CookieName = "session"
)

// Options configures a Manager.
type Options struct {
	Expiration       time.Duration
	RefreshThreshold time.Duration
	IdleTimeout      time.Duration
	SweepInterval    time.Duration
	Secure           bool
}

// Manager issues session cookies and owns the App behind each one.
type Manager struct {
	store    Store
	todos    todoapp.TodoBackend
	identity todoapp.Identity
	log      *slog.Logger
	opts     Options
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// Session is a live browser session.
type Session struct {
	app *todoapp.App
	now func() time.Time

	mu        sync.Mutex
	id        string
	uid       string
	expiresAt int64
	lastSeen  time.Time
	conns     int
}

// App returns the session's application instance.
func (s *Session) App() *todoapp.App { return s.app }

// ID returns the stored session id (never the cookie token).
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Attach marks a live connection as open until the returned func is called.
func (s *Session) Attach() func() {
	s.mu.Lock()
	s.conns++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.conns--
			s.lastSeen = s.now()
			s.mu.Unlock()
		})
	}
}

func NewManager(st Store, todos todoapp.TodoBackend, identity todoapp.Identity, log *slog.Logger, opts Options) *Manager {
	if opts.Expiration == 0 {
		opts.Expiration = 30 * 24 * time.Hour
	}
	if opts.RefreshThreshold == 0 {
		opts.RefreshThreshold = opts.Expiration / 2
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = 30 * time.Minute
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		store:    st,
		todos:    todos,
		identity: identity,
		log:      log,
		opts:     opts,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Load returns the request's session, creating one (and its cookie) when
// the request carries no valid token.
func (m *Manager) Load(w http.ResponseWriter, r *http.Request) (*Session, error) {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		s, err := m.validate(w, cookie.Value)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
	}
	return m.create(w)
}

func (m *Manager) newExpiresAt() int64 {
	return m.now().Add(m.opts.Expiration).Unix()
}

func (m *Manager) create(w http.ResponseWriter) (*Session, error) {
	token, err := randomToken()
	if err != nil {
		return nil, err
	}

	rec, err := m.store.CreateSession(tokenID(token), m.newExpiresAt())
	if err != nil {
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	s, _ := m.adopt(rec)
	m.setCookie(w, token, rec.ExpiresAt)
	return s, nil
}

func (m *Manager) validate(w http.ResponseWriter, token string) (*Session, error) {
	id := tokenID(token)
	now := m.now()

	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()

	var expiresAt int64
	if ok {
		s.mu.Lock()
		expiresAt = s.expiresAt
		s.mu.Unlock()
	} else {
		rec, err := m.store.SessionByID(id)
		if err != nil {
			return nil, err
		}
		expiresAt = rec.ExpiresAt
		if !now.After(time.Unix(expiresAt, 0)) {
			var created bool
			s, created = m.adopt(rec)
			if created && rec.User != nil {
				if err := s.app.Restore(*rec.User); err != nil {
					m.log.Error("failed to restore session user", "session", short(id), "error", err)
				}
			}
		}
	}

	if now.After(time.Unix(expiresAt, 0)) {
		if s != nil {
			m.evict(s)
		}
		if err := m.store.DeleteSession(id); err != nil {
			return nil, fmt.Errorf("error deleting expired session: %w", err)
		}
		return nil, ErrSessionNotFound
	}

	threshold := time.Unix(expiresAt, 0).Add(-m.opts.RefreshThreshold)
	if now.After(threshold) {
		newExpiresAt := m.newExpiresAt()
		if err := m.store.RefreshSession(id, newExpiresAt); err != nil {
			return nil, fmt.Errorf("error refreshing session: %w", err)
		}
		s.mu.Lock()
		s.expiresAt = newExpiresAt
		s.mu.Unlock()
		m.setCookie(w, token, newExpiresAt)
	}

	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
	return s, nil
}

// adopt builds the in-memory session for rec. If another request already
// did, that session is returned and created is false.
func (m *Manager) adopt(rec *Record) (s *Session, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[rec.ID]; ok {
		return existing, false
	}

	s = &Session{
		now:       m.now,
		id:        rec.ID,
		expiresAt: rec.ExpiresAt,
		lastSeen:  m.now(),
	}
	if rec.User != nil {
		s.uid = rec.User.UID
	}
	s.app = todoapp.New(todoapp.Config{
		Todos:    m.todos,
		Identity: m.identity,
		Prefs:    prefs{m: m, s: s},
		Logger:   m.log.With("session", short(rec.ID)),
		Initial:  store.State{Todos: store.TodosState{DarkMode: rec.DarkMode}},
	})
	s.app.Store().Subscribe(func(st store.State) { m.persistUser(s, st.Auth.User) })

	m.sessions[rec.ID] = s
	metrics.SessionOpened()
	return s, true
}

// persistUser writes the signed-in user whenever it changes.
func (m *Manager) persistUser(s *Session, user *models.User) {
	uid := ""
	if user != nil {
		uid = user.UID
	}

	s.mu.Lock()
	changed := uid != s.uid
	s.uid = uid
	id := s.id
	s.mu.Unlock()

	if !changed {
		return
	}
	if err := m.store.SetUser(id, user); err != nil {
		m.log.Error("failed to persist session user", "session", short(id), "error", err)
	}
}

type prefs struct {
	m *Manager
	s *Session
}

func (p prefs) SaveDarkMode(enabled bool) error {
	return p.m.store.SetDarkMode(p.s.ID(), enabled)
}

// Renew moves the session to a fresh token. Call it after sign-in.
func (m *Manager) Renew(w http.ResponseWriter, s *Session) error {
	token, err := randomToken()
	if err != nil {
		return err
	}
	newID := tokenID(token)
	expiresAt := m.newExpiresAt()

	m.mu.Lock()
	defer m.mu.Unlock()

	s.mu.Lock()
	oldID := s.id
	s.mu.Unlock()

	if err := m.store.RenameSession(oldID, newID, expiresAt); err != nil {
		return fmt.Errorf("error renewing session: %w", err)
	}

	s.mu.Lock()
	s.id = newID
	s.expiresAt = expiresAt
	s.mu.Unlock()

	delete(m.sessions, oldID)
	m.sessions[newID] = s
	m.setCookie(w, token, expiresAt)
	return nil
}

func (m *Manager) setCookie(w http.ResponseWriter, token string, expiresAt int64) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		HttpOnly: true,
		Path:     "/",
		Secure:   m.opts.Secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(expiresAt, 0),
	})
}

// evict drops s from memory and releases its App.
func (m *Manager) evict(s *Session) {
	id := s.ID()

	m.mu.Lock()
	current, ok := m.sessions[id]
	if ok && current == s {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if ok && current == s {
		s.app.Close()
		metrics.SessionClosed()
	}
}

// Len returns the number of sessions in memory.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep evicts idle sessions without live connections and deletes expired
// rows. It returns the number of evicted sessions.
func (m *Manager) Sweep() int {
	now := m.now()

	m.mu.Lock()
	var idle []*Session
	for _, s := range m.sessions {
		s.mu.Lock()
		expired := now.After(time.Unix(s.expiresAt, 0))
		stale := s.conns == 0 && now.Sub(s.lastSeen) > m.opts.IdleTimeout
		s.mu.Unlock()
		if expired || stale {
			idle = append(idle, s)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		m.evict(s)
	}

	if n, err := m.store.DeleteExpired(now.Unix()); err != nil {
		m.log.Error("failed to delete expired sessions", "error", err)
	} else if n > 0 {
		m.log.Info("deleted expired sessions", "count", n)
	}
	return len(idle)
}

// Run sweeps on an interval until ctx ends.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.log.Debug("evicted idle sessions", "count", n)
			}
		}
	}
}

// Close releases every App. Persisted sessions are kept.
func (m *Manager) Close() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	for _, s := range all {
		m.evict(s)
	}
}

// Middleware loads the session for every request and stores it on the
// echo context.
func (m *Manager) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			s, err := m.Load(c.Response(), c.Request())
			if err != nil {
				return fmt.Errorf("load session: %w", err)
			}
			c.Set(ContextKey, s)
			return next(c)
		}
	}
}

// FromContext returns the session stored by Middleware.
func FromContext(c echo.Context) (*Session, bool) {
	s, ok := c.Get(ContextKey).(*Session)
	return s, ok
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
