// Package login asks who is using the terminal client and in which role.
package login

import (
	"errors"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/jobchat/internal/model"
	"github.com/nhle/jobchat/internal/theme"
)

// LoginMsg is dispatched once an identity has been chosen.
type LoginMsg struct {
	UserID string
	Role   model.Role
}

// CancelMsg is dispatched when the user aborts the form.
type CancelMsg struct{}

// bindings holds form field values on the heap so that huh's Value()
// pointers remain valid across Bubble Tea model copies.
type bindings struct {
	userID string
	role   string
}

// Model is the sign-in form.
type Model struct {
	form   *huh.Form
	b      *bindings
	width  int
	height int
}

// New creates the form prefilled with the last identity used.
func New(userID string, role model.Role, width, height int) Model {
	if !role.Valid() {
		role = model.RoleEmployer
	}
	m := Model{
		b:      &bindings{userID: userID, role: string(role)},
		width:  width,
		height: height,
	}
	m.form = m.build()
	return m
}

// Init starts the form.
func (m Model) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the form.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		in := LoginMsg{UserID: strings.TrimSpace(m.b.userID), Role: model.Role(m.b.role)}
		return m, func() tea.Msg { return in }
	case huh.StateAborted:
		return m, func() tea.Msg { return CancelMsg{} }
	}
	return m, cmd
}

// View renders the form.
func (m Model) View() string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1).
		Render("Sign in")

	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(title + "\n" + m.form.View())
}

// SetSize updates the form dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.form = m.form.WithWidth(min(width-4, 60))
}

func (m *Model) build() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("User ID").
				Placeholder("who are you?").
				Value(&m.b.userID).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("user id is required")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Role").
				Options(
					huh.NewOption("Employer (job owner)", string(model.RoleEmployer)),
					huh.NewOption("Worker", string(model.RoleWorker)),
				).
				Value(&m.b.role),
		),
	).WithWidth(min(max(m.width-4, 20), 60)).WithShowHelp(true)
}
