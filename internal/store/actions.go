package store

import "github.com/ytakahashi/firetodo/internal/models"

// Action is a state transition request handled by Reduce.
type Action interface {
	Type() string
}

type (
	// SetUser caches the signed-in user.
	SetUser struct{ User models.User }
	// ClearUser forgets the user and everything scoped to them.
	ClearUser struct{}
	SetAuthLoading struct{ Loading bool }
	// SetAuthError sets the user-facing auth message; empty clears it.
	SetAuthError struct{ Message string }

	// SetTodos replaces the list with a live-query snapshot.
	SetTodos struct{ Todos []models.Todo }
	ToggleDarkMode struct{}
	SetDarkMode struct{ Enabled bool }
	// ClearError clears the todos error.
	ClearError struct{}
	// SetTodosError reports input rejected before any request was made.
	SetTodosError struct{ Message string }

	AddTodoPending   struct{}
	AddTodoFulfilled struct{ Todo models.Todo }
	AddTodoRejected  struct{ Message string }

	UpdateTodoPending   struct{}
	UpdateTodoFulfilled struct {
		ID     string
		Update models.TodoUpdate
	}
	UpdateTodoRejected struct{ Message string }

	DeleteTodoPending   struct{}
	DeleteTodoFulfilled struct{ ID string }
	DeleteTodoRejected  struct{ Message string }

	// Replace swaps in a whole state pushed by the server.
	Replace struct{ State State }
)

func (SetUser) Type() string        { return "auth/setUser" }
func (ClearUser) Type() string      { return "auth/clearUser" }
func (SetAuthLoading) Type() string { return "auth/setLoading" }
func (SetAuthError) Type() string   { return "auth/setError" }

func (SetTodos) Type() string       { return "todos/setTodos" }
func (ToggleDarkMode) Type() string { return "todos/toggleDarkMode" }
func (SetDarkMode) Type() string    { return "todos/setDarkMode" }
func (ClearError) Type() string     { return "todos/clearError" }
func (SetTodosError) Type() string  { return "todos/setError" }

func (AddTodoPending) Type() string   { return "todos/addTodo/pending" }
func (AddTodoFulfilled) Type() string { return "todos/addTodo/fulfilled" }
func (AddTodoRejected) Type() string  { return "todos/addTodo/rejected" }

func (UpdateTodoPending) Type() string   { return "todos/updateTodo/pending" }
func (UpdateTodoFulfilled) Type() string { return "todos/updateTodo/fulfilled" }
func (UpdateTodoRejected) Type() string  { return "todos/updateTodo/rejected" }

func (DeleteTodoPending) Type() string   { return "todos/deleteTodo/pending" }
func (DeleteTodoFulfilled) Type() string { return "todos/deleteTodo/fulfilled" }
func (DeleteTodoRejected) Type() string  { return "todos/deleteTodo/rejected" }

func (Replace) Type() string { return "sync/replace" }
