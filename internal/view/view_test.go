package view

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/ytakahashi/firetodo/internal/models"
	"github.com/ytakahashi/firetodo/internal/store"
)

func render(t *testing.T, p Page) string {
	t.Helper()
	r, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	var buf bytes.Buffer
	if err := r.Render(&buf, "page", p, nil); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	return buf.String()
}

func TestSignedOutPage(t *testing.T) {
	out := render(t, Page{
		State:         store.State{Auth: store.AuthState{Error: "Incorrect password. Please try again."}},
		GoogleEnabled: true,
	})

	for _, want := range []string{`action="/auth/login"`, "Incorrect password. Please try again.", "Sign in with Google", "have an account? Register"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in page", want)
		}
	}
	if strings.Contains(out, "Your Tasks") {
		t.Error("signed-out page must not show todos")
	}
}

func TestRegisterMode(t *testing.T) {
	out := render(t, Page{Registering: true})
	if !strings.Contains(out, `action="/auth/register"`) || !strings.Contains(out, `name="displayName"`) {
		t.Error("expected the registration form")
	}
	if strings.Contains(out, "Sign in with Google") {
		t.Error("google button hidden when not configured")
	}
}

func TestSignedInPage(t *testing.T) {
	due := time.Date(2026, 3, 1, 9, 30, 0, 0, time.Local)
	st := store.State{
		Auth: store.AuthState{User: &models.User{UID: "u1", Email: "ann@example.com"}},
		Todos: store.TodosState{
			DarkMode: true,
			Todos: []models.Todo{
				{ID: "a", Title: "<b>escaped</b>", Description: "details", DueDate: &due},
				{ID: "b", Title: "done", Completed: true},
			},
		},
	}
	out := render(t, Page{State: st, EditID: "b"})

	for _, want := range []string{
		`class="dark"`,
		"ann@example.com",
		"&lt;b&gt;escaped&lt;/b&gt;",
		"Due: Mar 1, 2026 9:30 AM",
		`action="/todos/b/edit"`,
		`action="/todos/a/toggle"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in page", want)
		}
	}
}

func TestFragment(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatal(err)
	}

	html, err := r.Fragment(store.State{Todos: store.TodosState{Todos: []models.Todo{}}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(html, "No tasks yet. Add one above!") {
		t.Errorf("unexpected empty fragment %q", html)
	}

	html, err = r.Fragment(store.State{Todos: store.TodosState{
		Error: "Failed to add todo",
		Todos: []models.Todo{{ID: "a", Title: "one"}},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(html, "Failed to add todo") || !strings.Contains(html, "one") {
		t.Errorf("unexpected fragment %q", html)
	}
	if strings.Contains(html, "<html") {
		t.Error("fragment must not contain the page shell")
	}
}
