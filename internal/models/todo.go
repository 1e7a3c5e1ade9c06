package models

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrEmptyTitle  = errors.New("title is required")
	ErrEmptyUpdate = errors.New("update has no fields")
)

// Todo represents a todo item
type Todo struct {
	ID          string     `firestore:"-" json:"id"`
	UserID      string     `firestore:"userId" json:"userId"`
	Title       string     `firestore:"title" json:"title"`
	Description string     `firestore:"description,omitempty" json:"description,omitempty"`
	Completed   bool       `firestore:"completed" json:"completed"`
	DueDate     *time.Time `firestore:"dueDate,omitempty" json:"dueDate,omitempty"`
	CreatedAt   time.Time  `firestore:"createdAt,serverTimestamp" json:"createdAt"`
	UpdatedAt   *time.Time `firestore:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}

// NewTodo is the user input for a todo about to be created.
type NewTodo struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
}

// Normalize trims the text fields and rejects an empty title.
func (n NewTodo) Normalize() (NewTodo, error) {
	n.Title = strings.TrimSpace(n.Title)
	n.Description = strings.TrimSpace(n.Description)
	if n.Title == "" {
		return n, ErrEmptyTitle
	}
	return n, nil
}

// TodoUpdate is a partial update. Nil fields are left untouched.
type TodoUpdate struct {
	Title        *string    `json:"title,omitempty"`
	Description  *string    `json:"description,omitempty"`
	Completed    *bool      `json:"completed,omitempty"`
	DueDate      *time.Time `json:"dueDate,omitempty"`
	ClearDueDate bool       `json:"clearDueDate,omitempty"`
}

// Normalize trims text fields and checks the update changes something.
func (u TodoUpdate) Normalize() (TodoUpdate, error) {
	if u.Title == nil && u.Description == nil && u.Completed == nil && u.DueDate == nil && !u.ClearDueDate {
		return u, ErrEmptyUpdate
	}
	if u.Title != nil {
		title := strings.TrimSpace(*u.Title)
		if title == "" {
			return u, ErrEmptyTitle
		}
		u.Title = &title
	}
	if u.Description != nil {
		desc := strings.TrimSpace(*u.Description)
		u.Description = &desc
	}
	return u, nil
}

// Apply merges the update into t, the way a fulfilled update is folded into
// the local list.
func (u TodoUpdate) Apply(t Todo) Todo {
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.Completed != nil {
		t.Completed = *u.Completed
	}
	if u.ClearDueDate {
		t.DueDate = nil
	} else if u.DueDate != nil {
		due := *u.DueDate
		t.DueDate = &due
	}
	return t
}

// Complete returns an update that sets the completion flag.
func Complete(done bool) TodoUpdate {
	return TodoUpdate{Completed: &done}
}
