package store

import "github.com/ytakahashi/firetodo/internal/models"

const (
	defaultAddError    = "Failed to add todo"
	defaultUpdateError = "Failed to update todo"
	defaultDeleteError = "Failed to delete todo"
)

type AuthState struct {
	User      *models.User `json:"user"`
	Error     string       `json:"error,omitempty"`
	IsLoading bool         `json:"isLoading"`
}

type TodosState struct {
	Todos     []models.Todo `json:"todos"`
	IsLoading bool          `json:"isLoading"`
	Error     string        `json:"error,omitempty"`
	DarkMode  bool          `json:"darkMode"`
}

// State is everything the views render from.
type State struct {
	Auth  AuthState  `json:"auth"`
	Todos TodosState `json:"todos"`
}

// Clone returns a copy sharing no memory with s.
func (s State) Clone() State {
	if s.Auth.User != nil {
		u := *s.Auth.User
		s.Auth.User = &u
	}
	s.Todos.Todos = cloneTodos(s.Todos.Todos)
	return s
}

func cloneTodos(todos []models.Todo) []models.Todo {
	out := make([]models.Todo, len(todos))
	for i, t := range todos {
		out[i] = cloneTodo(t)
	}
	return out
}

func cloneTodo(t models.Todo) models.Todo {
	if t.DueDate != nil {
		d := *t.DueDate
		t.DueDate = &d
	}
	if t.UpdatedAt != nil {
		u := *t.UpdatedAt
		t.UpdatedAt = &u
	}
	return t
}

func contains(todos []models.Todo, id string) bool {
	for _, t := range todos {
		if t.ID == id {
			return true
		}
	}
	return false
}

func rejected(msg, fallback string) string {
	if msg == "" {
		return fallback
	}
	return msg
}

// Reduce returns the state after applying a. It never mutates s.
func Reduce(s State, a Action) State {
	s = s.Clone()

	switch a := a.(type) {
	case Replace:
		s = a.State.Clone()
		if s.Todos.Todos == nil {
			s.Todos.Todos = []models.Todo{}
		}

	case SetUser:
		u := a.User
		s.Auth.User = &u
		s.Auth.Error = ""
	case ClearUser:
		s.Auth.User = nil
		s.Auth.Error = ""
		s.Todos.Todos = []models.Todo{}
		s.Todos.Error = ""
		s.Todos.IsLoading = false
	case SetAuthLoading:
		s.Auth.IsLoading = a.Loading
	case SetAuthError:
		s.Auth.Error = a.Message

	case SetTodos:
		s.Todos.Todos = cloneTodos(a.Todos)
		s.Todos.IsLoading = false
		s.Todos.Error = ""
	case ToggleDarkMode:
		s.Todos.DarkMode = !s.Todos.DarkMode
	case SetDarkMode:
		s.Todos.DarkMode = a.Enabled
	case ClearError:
		s.Todos.Error = ""

	case SetTodosError:
		s.Todos.Error = a.Message

	case AddTodoPending, UpdateTodoPending, DeleteTodoPending:
		s.Todos.IsLoading = true
		s.Todos.Error = ""

	case AddTodoFulfilled:
		s.Todos.IsLoading = false
		// The live snapshot may already carry the new todo.
		if !contains(s.Todos.Todos, a.Todo.ID) {
			s.Todos.Todos = append([]models.Todo{cloneTodo(a.Todo)}, s.Todos.Todos...)
		}
	case UpdateTodoFulfilled:
		s.Todos.IsLoading = false
		for i, t := range s.Todos.Todos {
			if t.ID == a.ID {
				s.Todos.Todos[i] = a.Update.Apply(t)
				break
			}
		}
	case DeleteTodoFulfilled:
		s.Todos.IsLoading = false
		kept := s.Todos.Todos[:0]
		for _, t := range s.Todos.Todos {
			if t.ID != a.ID {
				kept = append(kept, t)
			}
		}
		s.Todos.Todos = kept

	case AddTodoRejected:
		s.Todos.IsLoading = false
		s.Todos.Error = rejected(a.Message, defaultAddError)
	case UpdateTodoRejected:
		s.Todos.IsLoading = false
		s.Todos.Error = rejected(a.Message, defaultUpdateError)
	case DeleteTodoRejected:
		s.Todos.IsLoading = false
		s.Todos.Error = rejected(a.Message, defaultDeleteError)
	}

	return s
}
