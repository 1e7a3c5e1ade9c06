// Package todoapp runs the asynchronous operations behind every user intent:
// it calls the backend adapters, dispatches pending/fulfilled/rejected
// actions to the store, and owns the live todo subscription.
package todoapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ytakahashi/firetodo/internal/auth"
	"github.com/ytakahashi/firetodo/internal/metrics"
	"github.com/ytakahashi/firetodo/internal/models"
	"github.com/ytakahashi/firetodo/internal/store"
)

var (
	ErrRequestInFlight = errors.New("a request is already in progress")
	ErrNotSignedIn     = errors.New("not signed in")
	ErrUnknownTodo     = errors.New("todo is not in the current list")
)

// TodoBackend is the document store adapter.
type TodoBackend interface {
	AddTodo(ctx context.Context, userID string, in models.NewTodo) (*models.Todo, error)
	UpdateTodo(ctx context.Context, userID, todoID string, u models.TodoUpdate) error
	DeleteTodo(ctx context.Context, userID, todoID string) error
	SubscribeTodos(ctx context.Context, userID string, onSnapshot func([]models.Todo)) (func(), error)
}

// Identity is the identity provider adapter.
type Identity interface {
	Register(ctx context.Context, email, password, displayName string) (*models.User, error)
	Login(ctx context.Context, email, password string) (*models.User, error)
	SignInWithGoogle(ctx context.Context, googleIDToken, requestURI string) (*models.User, error)
}

// Preferences persists device-level settings.
type Preferences interface {
	SaveDarkMode(enabled bool) error
}

// Config wires an App.
type Config struct {
	Todos    TodoBackend
	Identity Identity
	Prefs    Preferences
	Logger   *slog.Logger
	Initial  store.State
}

// App is one view instance's state plus the operations that change it.
type App struct {
	store    *store.Store
	todos    TodoBackend
	identity Identity
	prefs    Preferences
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	uid         string
	unsubscribe func()
	authBusy    bool
	todoBusy    bool
	closed      bool
}

func New(cfg Config) *App {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		store:    store.New(cfg.Initial, store.WithObserver(metrics.ObserveAction)),
		todos:    cfg.Todos,
		identity: cfg.Identity,
		prefs:    cfg.Prefs,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (a *App) Store() *store.Store { return a.store }

func (a *App) State() store.State { return a.store.State() }

// User returns the signed-in user, if any.
func (a *App) User() (models.User, bool) {
	st := a.store.State()
	if st.Auth.User == nil {
		return models.User{}, false
	}
	return *st.Auth.User, true
}

func (a *App) Register(ctx context.Context, email, password, displayName string) error {
	return a.authenticate("register", func() (*models.User, error) {
		return a.identity.Register(ctx, email, password, displayName)
	})
}

func (a *App) Login(ctx context.Context, email, password string) error {
	return a.authenticate("password", func() (*models.User, error) {
		return a.identity.Login(ctx, email, password)
	})
}

func (a *App) SignInWithGoogle(ctx context.Context, googleIDToken, requestURI string) error {
	return a.authenticate("google", func() (*models.User, error) {
		return a.identity.SignInWithGoogle(ctx, googleIDToken, requestURI)
	})
}

// FailAuth surfaces an auth failure that happened before the provider was
// reached, such as a cancelled Google consent screen.
func (a *App) FailAuth(err error) {
	a.log.Warn("sign-in failed", "error", err)
	a.store.Dispatch(store.SetAuthError{Message: auth.UserMessage(err)})
}

func (a *App) authenticate(method string, call func() (*models.User, error)) error {
	a.mu.Lock()
	if a.authBusy {
		a.mu.Unlock()
		return ErrRequestInFlight
	}
	a.authBusy = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.authBusy = false
		a.mu.Unlock()
		a.store.Dispatch(store.SetAuthLoading{Loading: false})
	}()

	a.store.Dispatch(store.SetAuthLoading{Loading: true})

	user, err := call()
	if err != nil {
		code := auth.CodeOf(err)
		metrics.AuthAttempt(method, code)
		a.log.Warn("authentication failed", "method", method, "code", code, "error", err)
		a.store.Dispatch(store.SetAuthError{Message: auth.Message(code)})
		return err
	}

	metrics.AuthAttempt(method, "ok")
	a.log.Info("signed in", "method", method, "uid", user.UID)
	return a.Restore(*user)
}

// Restore marks user as signed in and starts their live todo list.
func (a *App) Restore(user models.User) error {
	if user.UID == "" {
		return errors.New("restore requires a user id")
	}

	prev := a.swapSubscription(user.UID, nil)
	if prev != nil {
		prev()
	}

	a.store.Dispatch(store.SetUser{User: user})

	uid := user.UID
	unsubscribe, err := a.todos.SubscribeTodos(a.ctx, uid, func(todos []models.Todo) {
		if a.currentUID() != uid {
			return
		}
		a.store.Dispatch(store.SetTodos{Todos: todos})
	})
	if err != nil {
		a.log.Error("failed to subscribe to todos", "uid", uid, "error", err)
		a.store.Dispatch(store.SetTodos{Todos: []models.Todo{}})
		return fmt.Errorf("subscribe todos: %w", err)
	}
	metrics.SubscriptionOpened()

	release := func() {
		unsubscribe()
		metrics.SubscriptionClosed()
	}

	a.mu.Lock()
	if a.uid != uid || a.closed || a.unsubscribe != nil {
		// Signed out, closed or re-signed-in while subscribing.
		a.mu.Unlock()
		release()
		return nil
	}
	a.unsubscribe = release
	a.mu.Unlock()
	return nil
}

// swapSubscription sets the current uid and returns the previous
// subscription's release func, which must be called without holding a.mu.
func (a *App) swapSubscription(uid string, next func()) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev := a.unsubscribe
	a.uid = uid
	a.unsubscribe = next
	return prev
}

func (a *App) currentUID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.uid
}

// SignOut releases the subscription and clears the user and their todos.
func (a *App) SignOut(ctx context.Context) error {
	if prev := a.swapSubscription("", nil); prev != nil {
		prev()
	}
	a.store.Dispatch(store.ClearUser{})
	a.log.Info("signed out")
	return nil
}

func (a *App) beginTodo() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.uid == "" {
		return "", ErrNotSignedIn
	}
	if a.todoBusy {
		return "", ErrRequestInFlight
	}
	a.todoBusy = true
	return a.uid, nil
}

func (a *App) endTodo() {
	a.mu.Lock()
	a.todoBusy = false
	a.mu.Unlock()
}

func (a *App) AddTodo(ctx context.Context, in models.NewTodo) (*models.Todo, error) {
	in, err := in.Normalize()
	if err != nil {
		return nil, err
	}

	uid, err := a.beginTodo()
	if err != nil {
		return nil, err
	}
	defer a.endTodo()

	a.store.Dispatch(store.AddTodoPending{})
	todo, err := a.todos.AddTodo(ctx, uid, in)
	if err != nil {
		a.log.Error("failed to add todo", "uid", uid, "error", err)
		a.store.Dispatch(store.AddTodoRejected{})
		return nil, err
	}

	a.store.Dispatch(store.AddTodoFulfilled{Todo: *todo})
	return todo, nil
}

func (a *App) UpdateTodo(ctx context.Context, todoID string, u models.TodoUpdate) error {
	u, err := u.Normalize()
	if err != nil {
		return err
	}

	uid, err := a.beginTodo()
	if err != nil {
		return err
	}
	defer a.endTodo()

	a.store.Dispatch(store.UpdateTodoPending{})
	if err := a.todos.UpdateTodo(ctx, uid, todoID, u); err != nil {
		a.log.Error("failed to update todo", "uid", uid, "todo", todoID, "error", err)
		a.store.Dispatch(store.UpdateTodoRejected{})
		return err
	}

	a.store.Dispatch(store.UpdateTodoFulfilled{ID: todoID, Update: u})
	return nil
}

// ToggleComplete flips the completion flag of a todo in the current list.
func (a *App) ToggleComplete(ctx context.Context, todoID string) error {
	for _, t := range a.store.State().Todos.Todos {
		if t.ID == todoID {
			return a.UpdateTodo(ctx, todoID, models.Complete(!t.Completed))
		}
	}
	return ErrUnknownTodo
}

func (a *App) DeleteTodo(ctx context.Context, todoID string) error {
	uid, err := a.beginTodo()
	if err != nil {
		return err
	}
	defer a.endTodo()

	a.store.Dispatch(store.DeleteTodoPending{})
	if err := a.todos.DeleteTodo(ctx, uid, todoID); err != nil {
		a.log.Error("failed to delete todo", "uid", uid, "todo", todoID, "error", err)
		a.store.Dispatch(store.DeleteTodoRejected{})
		return err
	}

	a.store.Dispatch(store.DeleteTodoFulfilled{ID: todoID})
	return nil
}

// ToggleDarkMode flips the theme and persists the choice.
func (a *App) ToggleDarkMode() bool {
	enabled := a.store.Dispatch(store.ToggleDarkMode{}).Todos.DarkMode
	if a.prefs != nil {
		if err := a.prefs.SaveDarkMode(enabled); err != nil {
			a.log.Error("failed to save dark mode preference", "error", err)
		}
	}
	return enabled
}

// ClearError dismisses both the auth and the todos error.
// RejectInput shows msg as the todos error without touching loading state.
func (a *App) RejectInput(msg string) {
	a.store.Dispatch(store.SetTodosError{Message: msg})
}

func (a *App) ClearError() {
	a.store.Dispatch(store.ClearError{})
	a.store.Dispatch(store.SetAuthError{})
}

// Close releases the subscription. The App is unusable afterwards.
func (a *App) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	if prev := a.swapSubscription("", nil); prev != nil {
		prev()
	}
	a.cancel()
}
