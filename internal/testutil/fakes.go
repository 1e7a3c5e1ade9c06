// Package testutil provides in-memory backends for tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ytakahashi/firetodo/internal/auth"
	"github.com/ytakahashi/firetodo/internal/models"
	"github.com/ytakahashi/firetodo/internal/services"
)

// FakeTodos is an in-memory document store with live queries.
type FakeTodos struct {
	mu      sync.Mutex
	todos   map[string]models.Todo
	subs    map[int]fakeSub
	nextID  int
	nextSub int
	clock   time.Time

	// Error injection for testing
	AddErr       error
	UpdateErr    error
	DeleteErr    error
	SubscribeErr error

	// Block, when set, is received from before every mutation returns.
	Block chan struct{}
}

type fakeSub struct {
	userID string
	fn     func([]models.Todo)
}

func NewFakeTodos() *FakeTodos {
	return &FakeTodos{
		todos: make(map[string]models.Todo),
		subs:  make(map[int]fakeSub),
		clock: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

// Seed stores a todo directly, bypassing validation and error injection.
func (f *FakeTodos) Seed(todo models.Todo) {
	f.mu.Lock()
	if todo.CreatedAt.IsZero() {
		f.clock = f.clock.Add(time.Second)
		todo.CreatedAt = f.clock
	}
	f.todos[todo.ID] = todo
	f.mu.Unlock()
	f.publish(todo.UserID)
}

// Get returns a stored todo.
func (f *FakeTodos) Get(id string) (models.Todo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.todos[id]
	return t, ok
}

// Subscribers returns the number of open live queries.
func (f *FakeTodos) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *FakeTodos) wait(ctx context.Context) error {
	if f.Block == nil {
		return nil
	}
	select {
	case <-f.Block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *FakeTodos) AddTodo(ctx context.Context, userID string, in models.NewTodo) (*models.Todo, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.AddErr != nil {
		return nil, f.AddErr
	}
	in, err := in.Normalize()
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.nextID++
	f.clock = f.clock.Add(time.Second)
	todo := models.Todo{
		ID:          fmt.Sprintf("todo-%d", f.nextID),
		UserID:      userID,
		Title:       in.Title,
		Description: in.Description,
		DueDate:     in.DueDate,
		CreatedAt:   f.clock,
	}
	f.todos[todo.ID] = todo
	f.mu.Unlock()

	f.publish(userID)
	return &todo, nil
}

func (f *FakeTodos) owned(userID, todoID string) (models.Todo, error) {
	t, ok := f.todos[todoID]
	if !ok {
		return t, services.ErrTodoNotFound
	}
	if t.UserID != userID {
		return t, services.ErrNotOwner
	}
	return t, nil
}

func (f *FakeTodos) UpdateTodo(ctx context.Context, userID, todoID string, u models.TodoUpdate) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	if f.UpdateErr != nil {
		return f.UpdateErr
	}

	f.mu.Lock()
	t, err := f.owned(userID, todoID)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	t = u.Apply(t)
	f.clock = f.clock.Add(time.Second)
	updated := f.clock
	t.UpdatedAt = &updated
	f.todos[todoID] = t
	f.mu.Unlock()

	f.publish(userID)
	return nil
}

func (f *FakeTodos) DeleteTodo(ctx context.Context, userID, todoID string) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	if f.DeleteErr != nil {
		return f.DeleteErr
	}

	f.mu.Lock()
	if _, err := f.owned(userID, todoID); err != nil {
		f.mu.Unlock()
		return err
	}
	delete(f.todos, todoID)
	f.mu.Unlock()

	f.publish(userID)
	return nil
}

// SubscribeTodos delivers snapshots synchronously from the mutating call.
func (f *FakeTodos) SubscribeTodos(ctx context.Context, userID string, onSnapshot func([]models.Todo)) (func(), error) {
	if f.SubscribeErr != nil {
		return nil, f.SubscribeErr
	}

	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fakeSub{userID: userID, fn: onSnapshot}
	snapshot := f.snapshot(userID)
	f.mu.Unlock()

	onSnapshot(snapshot)

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}, nil
}

// snapshot returns userID's todos, newest first. Caller holds f.mu.
func (f *FakeTodos) snapshot(userID string) []models.Todo {
	out := []models.Todo{}
	for _, t := range f.todos {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (f *FakeTodos) publish(userID string) {
	f.mu.Lock()
	var fns []func([]models.Todo)
	for _, s := range f.subs {
		if s.userID == userID {
			fns = append(fns, s.fn)
		}
	}
	snapshot := f.snapshot(userID)
	f.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}

// FakeIdentity is an in-memory identity provider.
type FakeIdentity struct {
	mu       sync.Mutex
	accounts map[string]fakeAccount
	nextID   int

	// GoogleUsers maps accepted Google ID tokens to users.
	GoogleUsers map[string]models.User
	// Err, when set, is returned by every call.
	Err error
}

type fakeAccount struct {
	user     models.User
	password string
}

func NewFakeIdentity() *FakeIdentity {
	return &FakeIdentity{
		accounts:    make(map[string]fakeAccount),
		GoogleUsers: make(map[string]models.User),
	}
}

// AddAccount registers an email/password account.
func (f *FakeIdentity) AddAccount(email, password, displayName string) models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	u := models.User{UID: fmt.Sprintf("uid-%d", f.nextID), Email: email, DisplayName: displayName}
	f.accounts[email] = fakeAccount{user: u, password: password}
	return u
}

func (f *FakeIdentity) Register(ctx context.Context, email, password, displayName string) (*models.User, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	_, exists := f.accounts[email]
	f.mu.Unlock()
	if exists {
		return nil, auth.NewError(auth.CodeEmailAlreadyInUse, fmt.Errorf("EMAIL_EXISTS"))
	}
	if len(password) < 6 {
		return nil, auth.NewError(auth.CodeWeakPassword, fmt.Errorf("WEAK_PASSWORD"))
	}
	u := f.AddAccount(email, password, displayName)
	return &u, nil
}

func (f *FakeIdentity) Login(ctx context.Context, email, password string) (*models.User, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[email]
	if !ok {
		return nil, auth.NewError(auth.CodeUserNotFound, fmt.Errorf("EMAIL_NOT_FOUND"))
	}
	if acct.password != password {
		return nil, auth.NewError(auth.CodeWrongPassword, fmt.Errorf("INVALID_PASSWORD"))
	}
	u := acct.user
	return &u, nil
}

func (f *FakeIdentity) SignInWithGoogle(ctx context.Context, googleIDToken, requestURI string) (*models.User, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.GoogleUsers[googleIDToken]
	if !ok {
		return nil, auth.NewError(auth.CodeInvalidCredential, fmt.Errorf("INVALID_IDP_RESPONSE"))
	}
	return &u, nil
}

// FakePrefs records saved preferences.
type FakePrefs struct {
	mu       sync.Mutex
	DarkMode []bool
	Err      error
}

func (p *FakePrefs) SaveDarkMode(enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DarkMode = append(p.DarkMode, enabled)
	return p.Err
}
