// Package view renders the web front end from store state.
package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/ytakahashi/firetodo/internal/store"
)

//go:embed templates/*.html
var files embed.FS

// DateInputLayout is the value format of a datetime-local input.
const DateInputLayout = "2006-01-02T15:04"

// Page is what the page template renders.
type Page struct {
	State         store.State
	Registering   bool
	EditID        string
	GoogleEnabled bool
}

// Renderer implements echo.Renderer over the embedded templates.
type Renderer struct {
	tmpl *template.Template
}

var funcs = template.FuncMap{
	"due": func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.Local().Format("Jan 2, 2006 3:04 PM")
	},
	"dateInput": func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.Local().Format(DateInputLayout)
	},
}

func New() (*Renderer, error) {
	tmpl, err := template.New("").Funcs(funcs).ParseFS(files, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

func (r *Renderer) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	return r.tmpl.ExecuteTemplate(w, name, data)
}

// Fragment renders the todo list section pushed to live connections.
func (r *Renderer) Fragment(st store.State) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "todos", Page{State: st}); err != nil {
		return "", fmt.Errorf("render todos: %w", err)
	}
	return buf.String(), nil
}
