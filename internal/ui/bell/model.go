// Package bell is the notification list with its unread badge.
package bell

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/jobchat/internal/keys"
	"github.com/nhle/jobchat/internal/model"
	"github.com/nhle/jobchat/internal/sync"
	"github.com/nhle/jobchat/internal/theme"
	"github.com/nhle/jobchat/internal/ui"
)

// Service is the slice of the notification dispatcher the bell needs.
type Service interface {
	List(ctx context.Context, userID string, category model.Category) ([]model.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, id string) (bool, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

// Data is one poll of the bell.
type Data struct {
	Items  []model.Notification
	Unread int
}

// Snapshot is the loop result type handled by this view.
type Snapshot = sync.Snapshot[Data]

// OpenMsg asks the parent to follow a notification's deep link.
type OpenMsg struct {
	Notification model.Notification
}

type markedMsg struct {
	err error
}

// Model is the notification view. It keeps polling while hidden so the
// header badge stays current.
type Model struct {
	list     list.Model
	svc      Service
	events   sync.Subscriber
	keys     *keys.KeyMap
	interval time.Duration

	parent   context.Context
	ctx      context.Context
	cancel   context.CancelFunc
	userID   string
	category model.Category
	unread   int
	loop     *sync.Loop[Data]
	unsub    func()
	err      error

	width  int
	height int
}

// New creates a stopped bell.
func New(svc Service, events sync.Subscriber, k *keys.KeyMap, interval time.Duration, width, height int) Model {
	l := list.New([]list.Item{}, delegate{}, width, height)
	l.Title = "Notifications"
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = theme.HeaderStyle

	return Model{
		list:     l,
		svc:      svc,
		events:   events,
		keys:     k,
		interval: interval,
		width:    width,
		height:   height,
	}
}

// Start (re)starts polling for userID with the current category filter.
func (m *Model) Start(ctx context.Context, userID string) tea.Cmd {
	m.Stop()
	m.parent, m.userID = ctx, userID
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.err = nil

	svc, category := m.svc, m.category
	name := fmt.Sprintf("bell:%s:%s", userID, category)
	m.loop = sync.NewLoop(name, m.interval, func(ctx context.Context) (Data, error) {
		items, err := svc.List(ctx, userID, category)
		if err != nil {
			return Data{}, err
		}
		unread, err := svc.UnreadCount(ctx, userID)
		if err != nil {
			return Data{}, err
		}
		return Data{Items: items, Unread: unread}, nil
	}, Equal)
	m.loop.Start(m.ctx)

	if m.events != nil {
		ch, cancel := m.events.Subscribe(userID)
		m.unsub = cancel
		m.loop.Follow(ch, func(e sync.Event) bool {
			return e.Kind == sync.EventNotificationCreated || e.Kind == sync.EventNotificationRead
		})
	}
	return m.loop.WaitForNext()
}

// Stop halts polling, aborts in-flight acknowledgements and drops the event
// subscription.
func (m *Model) Stop() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.loop != nil {
		m.loop.Stop()
		m.loop = nil
	}
	if m.unsub != nil {
		m.unsub()
		m.unsub = nil
	}
}

// Refresh asks for an immediate re-read.
func (m *Model) Refresh() {
	if m.loop != nil {
		m.loop.Refresh()
	}
}

// Unread is the badge count across all categories.
func (m Model) Unread() int { return m.unread }

// Category returns the active filter; empty means all.
func (m Model) Category() model.Category { return m.category }

// Err returns the last fetch or acknowledge error.
func (m Model) Err() error { return m.err }

// SetCategory switches the filter and restarts polling.
func (m *Model) SetCategory(c model.Category) tea.Cmd {
	if c == m.category || m.parent == nil {
		m.category = c
		return nil
	}
	m.category = c
	m.list.Title = "Notifications"
	if c != "" {
		m.list.Title = "Notifications · " + string(c)
	}
	return m.Start(m.parent, m.userID)
}

// MarkAllRead acknowledges every notification of the user.
func (m Model) MarkAllRead() tea.Cmd {
	if m.ctx == nil {
		return nil
	}
	ctx, svc, user := m.ctx, m.svc, m.userID
	return func() tea.Msg {
		_, err := svc.MarkAllRead(ctx, user)
		return markedMsg{err: err}
	}
}

// Update handles messages for the bell.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case Snapshot:
		if m.loop == nil || msg.Loop != m.loop.Name() {
			return m, nil
		}
		m.err = msg.Err
		if msg.Err != nil {
			return m, m.loop.WaitForNext()
		}
		m.unread = msg.Value.Unread
		items := make([]list.Item, len(msg.Value.Items))
		for i, n := range msg.Value.Items {
			items[i] = item{n: n}
		}
		cmd := m.list.SetItems(items)
		return m, tea.Batch(cmd, m.loop.WaitForNext())

	case markedMsg:
		if msg.err != nil {
			m.err = msg.err
		}
		m.Refresh()
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Select):
			it, ok := m.list.SelectedItem().(item)
			if !ok {
				return m, nil
			}
			ctx, svc, n := m.ctx, m.svc, it.n
			mark := func() tea.Msg {
				_, err := svc.MarkRead(ctx, n.ID)
				return markedMsg{err: err}
			}
			open := func() tea.Msg { return OpenMsg{Notification: n} }
			return m, tea.Sequence(mark, open)

		case key.Matches(msg, m.keys.ReadAll):
			cmd := m.MarkAllRead()
			return m, cmd

		case key.Matches(msg, m.keys.FilterAll):
			cmd := m.SetCategory("")
			return m, cmd
		case key.Matches(msg, m.keys.FilterMessages):
			cmd := m.SetCategory(model.CategoryMessages)
			return m, cmd
		case key.Matches(msg, m.keys.FilterOffers):
			cmd := m.SetCategory(model.CategoryOffers)
			return m, cmd
		case key.Matches(msg, m.keys.FilterJobs):
			cmd := m.SetCategory(model.CategoryJobs)
			return m, cmd
		case key.Matches(msg, m.keys.FilterSystem):
			cmd := m.SetCategory(model.CategorySystem)
			return m, cmd

		case key.Matches(msg, m.keys.Refresh):
			m.Refresh()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the notification list.
func (m Model) View() string {
	if len(m.list.Items()) == 0 {
		return lipgloss.NewStyle().
			Width(m.width).
			Height(m.height).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(theme.ColorGray).
			Render("You're all caught up.")
	}
	return m.list.View()
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height)
}

// Equal reports whether two polls render the same.
func Equal(a, b Data) bool {
	if a.Unread != b.Unread || len(a.Items) != len(b.Items) {
		return false
	}
	for i := range a.Items {
		if a.Items[i].ID != b.Items[i].ID || a.Items[i].IsRead != b.Items[i].IsRead {
			return false
		}
	}
	return true
}

// Describe renders the one-line summary of a notification.
func Describe(n model.Notification) string {
	p := n.Payload
	switch n.Type {
	case model.NotificationNewMessage:
		return fmt.Sprintf("%s: %s", p["sender_id"], p["preview"])
	case model.NotificationNewOffer:
		return fmt.Sprintf("New offer on job %s", n.JobID)
	case model.NotificationOfferAccepted:
		return fmt.Sprintf("Your offer on job %s was accepted", n.JobID)
	case model.NotificationOfferRejected:
		return fmt.Sprintf("Your offer on job %s was declined", n.JobID)
	case model.NotificationJobReminder:
		if note := p["note"]; note != "" {
			return "Reminder: " + note
		}
		return fmt.Sprintf("Reminder for job %s", n.JobID)
	case model.NotificationJobUpdated:
		return fmt.Sprintf("Job %s was updated", n.JobID)
	case model.NotificationInvitation:
		return "You have a new invitation"
	default:
		return string(n.Type)
	}
}

type item struct {
	n model.Notification
}

func (i item) FilterValue() string { return Describe(i.n) }

type delegate struct{}

func (delegate) Height() int                             { return 1 }
func (delegate) Spacing() int                            { return 0 }
func (delegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }

func (delegate) Render(w io.Writer, m list.Model, index int, li list.Item) {
	it, ok := li.(item)
	if !ok {
		return
	}
	n := it.n

	dot := "•"
	if n.IsRead {
		dot = " "
	}
	cat := theme.CategoryStyle(n.Category).Width(10).Render(string(n.Category))
	text := ui.Truncate(Describe(n), max(m.Width()-30, 10))
	age := theme.DimmedStyle.Render(ui.RelativeTime(n.CreatedAt))

	line := fmt.Sprintf("%s %s %s  %s", dot, cat, text, age)
	switch {
	case index == m.Index():
		line = theme.SelectedItemStyle.Render(line)
	case n.IsRead:
		line = theme.ListItemStyle.Render(theme.DimmedStyle.Render(line))
	default:
		line = theme.ListItemStyle.Render(line)
	}
	fmt.Fprint(w, line)
}
