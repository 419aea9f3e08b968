// Package inbox lists the signed-in user's conversations for one role.
package inbox

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

// Lister reads conversation summaries.
type Lister interface {
	ListConversations(ctx context.Context, userID string, role model.Role) ([]model.Conversation, error)
}

// OpenThreadMsg asks the parent to open a conversation.
type OpenThreadMsg struct {
	Key   model.ConversationKey
	Role  model.Role
	Title string
}

// Snapshot is the loop result type handled by this view.
type Snapshot = sync.Snapshot[[]model.Conversation]

// Model is the inbox view.
type Model struct {
	list     list.Model
	svc      Lister
	events   sync.Subscriber
	keys     *keys.KeyMap
	interval time.Duration

	ctx    context.Context
	userID string
	role   model.Role
	loop   *sync.Loop[[]model.Conversation]
	unsub  func()
	err    error

	width  int
	height int
}

// New creates a stopped inbox. events may be nil, in which case only the
// interval drives refreshes.
func New(svc Lister, events sync.Subscriber, k *keys.KeyMap, interval time.Duration, width, height int) Model {
	l := list.New([]list.Item{}, delegate{}, width, height)
	l.Title = "Inbox"
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

// Start (re)starts polling for userID in role. Any previous loop is stopped.
func (m *Model) Start(ctx context.Context, userID string, role model.Role) tea.Cmd {
	m.Stop()
	m.ctx, m.userID, m.role = ctx, userID, role
	m.err = nil
	m.list.Title = fmt.Sprintf("Inbox · %s", role)
	m.list.SetItems(nil)

	svc := m.svc
	name := fmt.Sprintf("inbox:%s:%s", userID, role)
	m.loop = sync.NewLoop(name, m.interval,
		func(ctx context.Context) ([]model.Conversation, error) {
			return svc.ListConversations(ctx, userID, role)
		},
		Equal,
	)
	m.loop.Start(ctx)

	if m.events != nil {
		ch, cancel := m.events.Subscribe(userID)
		m.unsub = cancel
		m.loop.Follow(ch, func(e sync.Event) bool {
			return e.Kind == sync.EventMessageSent || e.Kind == sync.EventConversationRead
		})
	}
	return m.loop.WaitForNext()
}

// Stop halts polling and drops the event subscription.
func (m *Model) Stop() {
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

// Role returns the role the inbox is listing.
func (m Model) Role() model.Role { return m.role }

// Err returns the last fetch error, cleared by the next successful fetch.
func (m Model) Err() error { return m.err }

// Unread sums the unread counters shown in the inbox.
func (m Model) Unread() int {
	n := 0
	for _, it := range m.list.Items() {
		if ci, ok := it.(item); ok {
			n += ci.conv.UnreadFor(ci.role)
		}
	}
	return n
}

// ClearUnread zeroes the listed counter of one conversation for the inbox's
// role. The next poll brings the stored value back.
func (m *Model) ClearUnread(key model.ConversationKey) {
	for i, it := range m.list.Items() {
		ci, ok := it.(item)
		if !ok || ci.conv.ConversationKey != key {
			continue
		}
		ci.conv.SetUnread(ci.role, 0)
		m.list.SetItem(i, ci)
		return
	}
}

// Update handles messages for the inbox.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case Snapshot:
		if m.loop == nil || msg.Loop != m.loop.Name() {
			// From a loop that has since been replaced.
			return m, nil
		}
		m.err = msg.Err
		if msg.Err == nil {
			items := make([]list.Item, len(msg.Value))
			for i, c := range msg.Value {
				items[i] = item{conv: c, role: m.role}
			}
			cmd := m.list.SetItems(items)
			return m, tea.Batch(cmd, m.loop.WaitForNext())
		}
		return m, m.loop.WaitForNext()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Select):
			it, ok := m.list.SelectedItem().(item)
			if !ok {
				return m, nil
			}
			open := OpenThreadMsg{Key: it.conv.ConversationKey, Role: m.role, Title: it.conv.JobTitle}
			return m, func() tea.Msg { return open }

		case key.Matches(msg, m.keys.SwitchRole):
			if m.ctx == nil {
				return m, nil
			}
			cmd := m.Start(m.ctx, m.userID, m.role.Counterpart())
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

// View renders the inbox.
func (m Model) View() string {
	if len(m.list.Items()) == 0 {
		style := lipgloss.NewStyle().
			Width(m.width).
			Height(m.height).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(theme.ColorGray)
		return style.Render(fmt.Sprintf(
			"No conversations as %s yet.\n\nPress tab to switch role, or : then 'message <job>' to start one.", m.role))
	}
	return m.list.View()
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height)
}

// Equal reports whether two listings render the same.
func Equal(a, b []model.Conversation) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ConversationKey != b[i].ConversationKey ||
			!a[i].UpdatedAt.Equal(b[i].UpdatedAt) ||
			a[i].UnreadForEmployer != b[i].UnreadForEmployer ||
			a[i].UnreadForWorker != b[i].UnreadForWorker ||
			a[i].JobStatus != b[i].JobStatus {
			return false
		}
	}
	return true
}

// item adapts a conversation to bubbles/list.
type item struct {
	conv model.Conversation
	role model.Role
}

func (i item) FilterValue() string { return i.conv.JobTitle }

func (i item) counterpart() string {
	return i.conv.ParticipantID(i.role.Counterpart())
}

type delegate struct{}

func (delegate) Height() int                             { return 2 }
func (delegate) Spacing() int                            { return 1 }
func (delegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }

func (delegate) Render(w io.Writer, m list.Model, index int, li list.Item) {
	it, ok := li.(item)
	if !ok {
		return
	}
	c := it.conv

	title := c.JobTitle
	if title == "" {
		title = c.JobID
	}
	unread := c.UnreadFor(it.role)
	line1 := lipgloss.JoinHorizontal(lipgloss.Top,
		title, " ",
		theme.JobStatusStyle(c.JobStatus).Render(c.JobStatus),
		theme.Badge(unread),
	)

	width := m.Width() - 4
	line2 := theme.DimmedStyle.Render(fmt.Sprintf("%s · %s · %s",
		it.counterpart(),
		ui.Truncate(c.LastMessage.Text, max(width-30, 10)),
		ui.RelativeTime(c.UpdatedAt),
	))

	style := theme.ListItemStyle
	if index == m.Index() {
		style = theme.SelectedItemStyle
	} else if unread == 0 {
		line1 = theme.DimmedStyle.Render(line1)
	}
	fmt.Fprint(w, style.Render(line1+"\n"+line2))
}
