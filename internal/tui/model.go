// Package tui is the terminal front end. It drives the server's JSON API and
// mirrors the server-side state pushed over the live channel.
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/ytakahashi/firetodo/internal/apiclient"
	"github.com/ytakahashi/firetodo/internal/models"
	"github.com/ytakahashi/firetodo/internal/store"
)

// DueLayout is how due dates are typed in the form.
const DueLayout = "2006-01-02 15:04"

// Backend is the server API the terminal view drives.
type Backend interface {
	State(ctx context.Context) (store.State, error)
	Register(ctx context.Context, email, password, displayName string) (store.State, error)
	Login(ctx context.Context, email, password string) (store.State, error)
	Logout(ctx context.Context) (store.State, error)
	AddTodo(ctx context.Context, in models.NewTodo) (*models.Todo, error)
	UpdateTodo(ctx context.Context, id string, u models.TodoUpdate) (store.State, error)
	DeleteTodo(ctx context.Context, id string) error
	SetDarkMode(ctx context.Context, enabled bool) (store.State, error)
	ClearErrors(ctx context.Context) (store.State, error)
	Watch(ctx context.Context) (<-chan store.State, error)
}

// Prefs stores local choices between runs.
type Prefs interface {
	SaveDarkMode(enabled bool) error
	SaveEmail(email string) error
}

type Config struct {
	Backend  Backend
	Prefs    Prefs
	DarkMode bool
	Email    string
	Logger   *slog.Logger
}

type screen int

const (
	screenAuth screen = iota
	screenList
	screenForm
)

// Auth form fields.
const (
	fieldEmail = iota
	fieldPassword
	fieldDisplayName
)

// Todo form fields.
const (
	fieldTitle = iota
	fieldDescription
	fieldDue
)

type (
	// stateMsg is the result of an API call.
	stateMsg struct{ state store.State }
	// liveMsg is a state pushed by the server; ok is false once the
	// channel is closed.
	liveMsg struct {
		state store.State
		ok    bool
	}
	watchMsg    struct{ states <-chan store.State }
	watchErrMsg struct{ err error }
	errMsg      struct{ err error }
)

type Model struct {
	ctx     context.Context
	backend Backend
	prefs   Prefs
	log     *slog.Logger
	store   *store.Store
	styles  *styles

	darkPref    bool
	screen      screen
	registering bool
	authInputs  []textinput.Model
	formInputs  []textinput.Model
	focus       int
	editID      string

	list     list.Model
	status   string
	busy     bool
	watching bool
	states   <-chan store.State
	width    int
	height   int
}

func newInput(placeholder string, limit int) textinput.Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = placeholder
	ti.CharLimit = limit
	return ti
}

func New(ctx context.Context, cfg Config) Model {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	st := newStyles(cfg.DarkMode)

	email := newInput("you@example.com", 256)
	email.SetValue(cfg.Email)
	password := newInput("Password", 128)
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '•'
	displayName := newInput("Display name (optional)", 256)

	l := list.New(nil, itemDelegate{styles: &st}, 76, 16)
	l.SetShowHelp(true)
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.SetStatusBarItemName("task", "tasks")
	l.FilterInput.Prompt = "/ "
	bindings := []key.Binding{
		key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add")),
		key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "edit")),
		key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "toggle")),
		key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete")),
		key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "theme")),
		key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "sign out")),
	}
	l.AdditionalShortHelpKeys = func() []key.Binding { return bindings }
	l.AdditionalFullHelpKeys = func() []key.Binding { return bindings }

	m := Model{
		ctx:        ctx,
		backend:    cfg.Backend,
		prefs:      cfg.Prefs,
		log:        log,
		store:      store.New(store.State{Todos: store.TodosState{IsLoading: true, DarkMode: cfg.DarkMode}}),
		styles:     &st,
		darkPref:   cfg.DarkMode,
		authInputs: []textinput.Model{email, password, displayName},
		formInputs: []textinput.Model{
			newInput("What needs to be done?", 500),
			newInput("Description (optional)", 5000),
			newInput("Due "+DueLayout+" (optional)", len(DueLayout)),
		},
		list: l,
	}
	m.restyle()
	if cfg.Email != "" {
		m.focus = fieldPassword
	}
	m.authInputs[m.focus].Focus()
	return m
}

// State returns the mirrored server state.
func (m Model) State() store.State { return m.store.State() }

// Init pushes the local theme choice, which also opens the server session.
func (m Model) Init() tea.Cmd {
	dark := m.darkPref
	return m.call(func(ctx context.Context) (store.State, error) {
		return m.backend.SetDarkMode(ctx, dark)
	})
}

func (m Model) call(fn func(ctx context.Context) (store.State, error)) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		st, err := fn(ctx)
		if err != nil {
			return errMsg{err}
		}
		return stateMsg{st}
	}
}

func (m Model) watch() tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		states, err := m.backend.Watch(ctx)
		if err != nil {
			return watchErrMsg{err}
		}
		return watchMsg{states}
	}
}

func waitFor(states <-chan store.State) tea.Cmd {
	return func() tea.Msg {
		st, ok := <-states
		return liveMsg{state: st, ok: ok}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.list.SetSize(max(msg.Width-4, 20), max(msg.Height-8, 5))
		return m, nil

	case stateMsg:
		m.busy = false
		m.status = ""
		cmd := m.apply(msg.state)
		if !m.watching {
			m.watching = true
			cmd = tea.Batch(cmd, m.watch())
		}
		return m, cmd

	case watchMsg:
		m.states = msg.states
		return m, waitFor(msg.states)

	case liveMsg:
		if !msg.ok {
			m.watching = false
			m.states = nil
			m.status = "Live updates disconnected"
			return m, nil
		}
		return m, tea.Batch(m.apply(msg.state), waitFor(m.states))

	case watchErrMsg:
		m.watching = false
		m.status = "Live updates unavailable"
		m.log.Warn("failed to open live channel", "error", msg.err)
		return m, nil

	case errMsg:
		m.busy = false
		m.status = errorText(msg.err)
		m.log.Debug("request failed", "error", msg.err)
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.screen {
		case screenAuth:
			return m.updateAuth(msg)
		case screenForm:
			return m.updateForm(msg)
		default:
			return m.updateList(msg)
		}
	}

	var cmd tea.Cmd
	switch m.screen {
	case screenList:
		m.list, cmd = m.list.Update(msg)
	case screenAuth:
		m.authInputs[m.focus], cmd = m.authInputs[m.focus].Update(msg)
	case screenForm:
		m.formInputs[m.focus], cmd = m.formInputs[m.focus].Update(msg)
	}
	return m, cmd
}

func errorText(err error) string {
	var apiErr *apiclient.Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

// apply mirrors a server state into the local store and moves between the
// signed-out and signed-in screens.
func (m *Model) apply(st store.State) tea.Cmd {
	st = m.store.Dispatch(store.Replace{State: st})
	m.restyle()

	switch {
	case st.Auth.User == nil && m.screen != screenAuth:
		m.screen = screenAuth
		m.registering = false
		for i := range m.authInputs {
			if i != fieldEmail {
				m.authInputs[i].SetValue("")
			}
		}
		m.focusField(m.authInputs, fieldPassword)
	case st.Auth.User != nil && m.screen == screenAuth:
		m.screen = screenList
		if m.prefs != nil {
			if err := m.prefs.SaveEmail(st.Auth.User.Email); err != nil {
				m.log.Warn("failed to save email", "error", err)
			}
		}
		m.authInputs[fieldPassword].SetValue("")
		m.blurAll(m.authInputs)
	}
	return m.list.SetItems(todoItems(st.Todos.Todos))
}

func (m *Model) restyle() {
	*m.styles = newStyles(m.store.State().Todos.DarkMode)
	m.list.Styles.Title = m.styles.title
	m.list.Styles.HelpStyle = m.styles.help
	m.list.Styles.PaginationStyle = m.styles.help
	m.list.Title = "Your Tasks"
}

func (m *Model) blurAll(inputs []textinput.Model) {
	for i := range inputs {
		inputs[i].Blur()
	}
}

func (m *Model) focusField(inputs []textinput.Model, i int) tea.Cmd {
	m.blurAll(inputs)
	m.focus = i
	return inputs[i].Focus()
}

func (m *Model) authFields() int {
	if m.registering {
		return 3
	}
	return 2
}

func (m Model) updateAuth(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		return m, tea.Quit
	case "tab", "down":
		return m, m.focusField(m.authInputs, (m.focus+1)%m.authFields())
	case "shift+tab", "up":
		n := m.authFields()
		return m, m.focusField(m.authInputs, (m.focus+n-1)%n)
	case "ctrl+r":
		m.registering = !m.registering
		m.status = ""
		m.authInputs[fieldDisplayName].SetValue("")
		focus := m.focusField(m.authInputs, fieldEmail)
		return m, tea.Batch(focus, m.call(m.backend.ClearErrors))
	case "enter":
		if m.busy {
			return m, nil
		}
		email := strings.TrimSpace(m.authInputs[fieldEmail].Value())
		password := m.authInputs[fieldPassword].Value()
		if email == "" || password == "" {
			m.status = "Email and password are required"
			return m, nil
		}
		m.busy = true
		m.status = ""
		if m.registering {
			name := strings.TrimSpace(m.authInputs[fieldDisplayName].Value())
			return m, m.call(func(ctx context.Context) (store.State, error) {
				return m.backend.Register(ctx, email, password, name)
			})
		}
		return m, m.call(func(ctx context.Context) (store.State, error) {
			return m.backend.Login(ctx, email, password)
		})
	}

	var cmd tea.Cmd
	m.authInputs[m.focus], cmd = m.authInputs[m.focus].Update(msg)
	return m, cmd
}

func (m Model) selected() (models.Todo, bool) {
	it, ok := m.list.SelectedItem().(todoItem)
	return it.todo, ok
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.list.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "a":
		return m, m.openForm(nil)
	case "e", "enter":
		if t, ok := m.selected(); ok {
			return m, m.openForm(&t)
		}
		return m, nil
	case "t":
		enabled := !m.store.State().Todos.DarkMode
		if m.prefs != nil {
			if err := m.prefs.SaveDarkMode(enabled); err != nil {
				m.log.Warn("failed to save theme", "error", err)
			}
		}
		m.darkPref = enabled
		return m, m.call(func(ctx context.Context) (store.State, error) {
			return m.backend.SetDarkMode(ctx, enabled)
		})
	case "c":
		m.status = ""
		return m, m.call(m.backend.ClearErrors)
	}

	if m.busy {
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case " ", "x":
		t, ok := m.selected()
		if !ok {
			return m, nil
		}
		m.busy = true
		return m, m.call(func(ctx context.Context) (store.State, error) {
			return m.backend.UpdateTodo(ctx, t.ID, models.Complete(!t.Completed))
		})
	case "d":
		t, ok := m.selected()
		if !ok {
			return m, nil
		}
		m.busy = true
		return m, m.call(func(ctx context.Context) (store.State, error) {
			if err := m.backend.DeleteTodo(ctx, t.ID); err != nil {
				return store.State{}, err
			}
			return m.backend.State(ctx)
		})
	case "o":
		m.busy = true
		return m, m.call(m.backend.Logout)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// openForm shows the todo form, empty for a new todo or filled from t.
func (m *Model) openForm(t *models.Todo) tea.Cmd {
	m.screen = screenForm
	m.status = ""
	m.editID = ""
	for i := range m.formInputs {
		m.formInputs[i].SetValue("")
	}
	if t != nil {
		m.editID = t.ID
		m.formInputs[fieldTitle].SetValue(t.Title)
		m.formInputs[fieldDescription].SetValue(t.Description)
		if t.DueDate != nil {
			m.formInputs[fieldDue].SetValue(t.DueDate.Local().Format(DueLayout))
		}
		m.formInputs[fieldTitle].CursorEnd()
	}
	return m.focusField(m.formInputs, fieldTitle)
}

func parseDue(v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(DueLayout, v, time.Local)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (m Model) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.screen = screenList
		m.status = ""
		m.blurAll(m.formInputs)
		return m, nil
	case "tab", "down":
		return m, m.focusField(m.formInputs, (m.focus+1)%len(m.formInputs))
	case "shift+tab", "up":
		n := len(m.formInputs)
		return m, m.focusField(m.formInputs, (m.focus+n-1)%n)
	case "enter":
		if m.busy {
			return m, nil
		}
		title := strings.TrimSpace(m.formInputs[fieldTitle].Value())
		if title == "" {
			m.status = models.ErrEmptyTitle.Error()
			return m, nil
		}
		description := strings.TrimSpace(m.formInputs[fieldDescription].Value())
		due, err := parseDue(m.formInputs[fieldDue].Value())
		if err != nil {
			m.status = "Due date must look like " + DueLayout
			return m, nil
		}

		id := m.editID
		m.busy = true
		m.screen = screenList
		m.blurAll(m.formInputs)
		if id == "" {
			in := models.NewTodo{Title: title, Description: description, DueDate: due}
			return m, m.call(func(ctx context.Context) (store.State, error) {
				if _, err := m.backend.AddTodo(ctx, in); err != nil {
					return store.State{}, err
				}
				return m.backend.State(ctx)
			})
		}
		u := models.TodoUpdate{
			Title:        &title,
			Description:  &description,
			DueDate:      due,
			ClearDueDate: due == nil,
		}
		return m, m.call(func(ctx context.Context) (store.State, error) {
			return m.backend.UpdateTodo(ctx, id, u)
		})
	}

	var cmd tea.Cmd
	m.formInputs[m.focus], cmd = m.formInputs[m.focus].Update(msg)
	return m, cmd
}

type todoItem struct{ todo models.Todo }

func (i todoItem) Title() string       { return i.todo.Title }
func (i todoItem) Description() string { return i.todo.Description }
func (i todoItem) FilterValue() string { return i.todo.Title + " " + i.todo.Description }

func todoItems(todos []models.Todo) []list.Item {
	items := make([]list.Item, 0, len(todos))
	for _, t := range todos {
		items = append(items, todoItem{todo: t})
	}
	return items
}

type itemDelegate struct{ styles *styles }

func (d itemDelegate) Height() int                           { return 1 }
func (d itemDelegate) Spacing() int                          { return 0 }
func (d itemDelegate) Update(tea.Msg, *list.Model) tea.Cmd { return nil }
func (d itemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(todoItem)
	if !ok {
		return
	}
	s := d.styles

	box := s.muted.Render(boxUnchecked)
	title := it.todo.Title
	if it.todo.Completed {
		box = s.success.Render(boxChecked)
		title = s.done.Render(title)
	}
	line := box + " " + title
	if it.todo.Description != "" {
		line += s.muted.Render("  " + it.todo.Description)
	}
	if it.todo.DueDate != nil {
		line += "  " + s.pending.Render("Due: "+it.todo.DueDate.Local().Format("Jan 2, 2006 3:04 PM"))
	}

	prefix := "  "
	if index == m.Index() {
		prefix = s.selected.Render("> ")
	}
	fmt.Fprintln(w, prefix+line)
}

func (m Model) View() string {
	st := m.store.State()
	s := m.styles

	var b strings.Builder
	header := s.title.Render("Todo List")
	if u := st.Auth.User; u != nil {
		header += "  " + s.muted.Render(u.Name())
	}
	b.WriteString(header + "\n\n")

	switch m.screen {
	case screenAuth:
		b.WriteString(m.viewAuth(st))
	case screenForm:
		b.WriteString(m.viewForm())
	default:
		b.WriteString(m.viewList(st))
	}

	if m.status != "" {
		b.WriteString("\n" + s.err.Render(m.status))
	}
	return s.panel.Render(b.String())
}

func (m Model) viewAuth(st store.State) string {
	s := m.styles
	var b strings.Builder

	heading, other := "Sign In", "Don't have an account? Register"
	if m.registering {
		heading, other = "Register", "Already have an account? Sign in"
	}
	b.WriteString(s.accent.Render(heading) + "\n")

	labels := []string{"Email", "Password", "Display name"}
	for i := 0; i < m.authFields(); i++ {
		b.WriteString(s.muted.Render(labels[i]) + "\n" + m.authInputs[i].View() + "\n")
	}
	if st.Auth.IsLoading || m.busy {
		b.WriteString(s.muted.Render("Please wait...") + "\n")
	}
	if st.Auth.Error != "" {
		b.WriteString(s.err.Render(st.Auth.Error) + "\n")
	}
	b.WriteString("\n" + s.help.Render("enter submit • tab next field • ctrl+r "+other+" • esc quit"))
	return b.String()
}

func (m Model) viewForm() string {
	s := m.styles
	heading := "Add Task"
	if m.editID != "" {
		heading = "Edit Task"
	}
	labels := []string{"Task Title", "Description", "Due date"}

	var b strings.Builder
	b.WriteString(s.accent.Render(heading) + "\n")
	for i, in := range m.formInputs {
		b.WriteString(s.muted.Render(labels[i]) + "\n" + in.View() + "\n")
	}
	b.WriteString("\n" + s.help.Render("enter save • tab next field • esc cancel"))
	return s.input.Render(b.String())
}

func (m Model) viewList(st store.State) string {
	s := m.styles
	var b strings.Builder

	done := 0
	for _, t := range st.Todos.Todos {
		if t.Completed {
			done++
		}
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		s.success.Render(fmt.Sprintf("✔ %d", done)), "  ",
		s.pending.Render(fmt.Sprintf("• %d", len(st.Todos.Todos)-done)),
	) + "\n")

	switch {
	case st.Todos.IsLoading && len(st.Todos.Todos) == 0:
		b.WriteString(s.muted.Render("Loading todos...") + "\n")
	case len(st.Todos.Todos) == 0:
		b.WriteString(s.muted.Render("No tasks yet. Add one above!") + "\n")
		b.WriteString("\n" + s.help.Render("a add • t theme • o sign out • q quit"))
	default:
		b.WriteString(m.list.View())
	}
	if st.Todos.Error != "" {
		b.WriteString("\n" + s.err.Render(st.Todos.Error) + s.muted.Render("  (c to dismiss)"))
	}
	return b.String()
}
