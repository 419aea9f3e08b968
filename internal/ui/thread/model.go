// Package thread is the conversation view: the message log of one
// conversation plus a composer.
package thread

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/jobchat/internal/chat"
	"github.com/nhle/jobchat/internal/keys"
	"github.com/nhle/jobchat/internal/model"
	"github.com/nhle/jobchat/internal/sync"
	"github.com/nhle/jobchat/internal/theme"
	"github.com/nhle/jobchat/internal/ui"
)

// Service is the slice of the messaging core the view needs.
type Service interface {
	Send(ctx context.Context, in chat.SendInput) (*chat.SendResult, error)
	MarkRead(ctx context.Context, in chat.MarkReadInput) (*model.Conversation, bool, error)
	GetConversation(ctx context.Context, key model.ConversationKey) (*model.Conversation, error)
	ListConversationMessages(ctx context.Context, key model.ConversationKey) ([]model.Message, error)
}

// Data is one poll of the conversation. Conv is nil until the first
// message creates the conversation.
type Data struct {
	Conv     *model.Conversation
	Messages []model.Message
}

// Snapshot is the loop result type handled by this view.
type Snapshot = sync.Snapshot[Data]

// BackMsg asks the parent to close the thread.
type BackMsg struct{}

// sentMsg and readMsg carry the loop name so results of a thread that has
// since been closed or replaced are dropped.
type sentMsg struct {
	loop string
	text string
	err  error
}

type readMsg struct {
	loop string
	err  error
}

// Model is the conversation view.
type Model struct {
	svc      Service
	events   sync.Subscriber
	keys     *keys.KeyMap
	interval time.Duration

	viewport viewport.Model
	input    textinput.Model

	key     model.ConversationKey
	role    model.Role
	userID  string
	title   string
	data    Data
	tracker *sync.ThreadTracker
	focused bool
	sending bool
	err     error

	loop   *sync.Loop[Data]
	unsub  func()
	ctx    context.Context
	cancel context.CancelFunc

	width  int
	height int
}

// New creates a closed thread view. maxLength caps the composer and should
// match the limit the core enforces; non-positive means the default.
func New(svc Service, events sync.Subscriber, k *keys.KeyMap, interval time.Duration, maxLength, width, height int) Model {
	if maxLength <= 0 {
		maxLength = chat.DefaultMaxMessageLength
	}
	ti := textinput.New()
	ti.Placeholder = "write a message..."
	ti.Prompt = "› "
	ti.CharLimit = maxLength

	m := Model{
		svc:      svc,
		events:   events,
		keys:     k,
		interval: interval,
		viewport: viewport.New(width, max(height-3, 1)),
		input:    ti,
		tracker:  &sync.ThreadTracker{},
		focused:  true,
	}
	m.SetSize(width, height)
	return m
}

// Open starts following the conversation key as role. A focused view is
// marked read right away, before the first poll returns.
func (m *Model) Open(ctx context.Context, key model.ConversationKey, role model.Role, title string) tea.Cmd {
	m.Close()
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.key, m.role, m.title = key, role, title
	m.userID = key.ParticipantID(role)
	m.data = Data{}
	m.err = nil
	m.sending = false
	m.input.Reset()
	m.viewport.SetContent("")

	svc := m.svc
	name := fmt.Sprintf("thread:%s:%s:%s:%s", key.JobID, key.EmployerID, key.WorkerID, role)
	m.loop = sync.NewLoop(name, m.interval, func(ctx context.Context) (Data, error) {
		return fetch(ctx, svc, key)
	}, Equal)
	m.loop.Start(m.ctx)

	if m.events != nil {
		ch, cancel := m.events.Subscribe(m.userID)
		m.unsub = cancel
		m.loop.Follow(ch, func(e sync.Event) bool {
			return e.Key != nil && *e.Key == key
		})
	}
	var ack tea.Cmd
	if m.focused {
		ack = m.acknowledge()
	}
	return tea.Batch(m.input.Focus(), m.loop.WaitForNext(), ack)
}

// Close stops polling, aborts in-flight calls and returns the view to the
// closed state.
func (m *Model) Close() {
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
	m.tracker.Close()
}

// IsOpen reports whether a conversation is shown.
func (m Model) IsOpen() bool { return m.loop != nil }

// State returns the read state of the open conversation.
func (m Model) State() sync.ViewState { return m.tracker.State() }

// Err returns the last poll or send error.
func (m Model) Err() error { return m.err }

// Input returns the composer's current text.
func (m Model) Input() string { return m.input.Value() }

// Update handles messages for the thread.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case Snapshot:
		if m.loop == nil || msg.Loop != m.loop.Name() {
			return m, nil
		}
		cmd := m.applySnapshot(msg)
		return m, tea.Batch(cmd, m.loop.WaitForNext())

	case sentMsg:
		if m.loop == nil || msg.loop != m.loop.Name() {
			return m, nil
		}
		m.sending = false
		if msg.err != nil {
			// The composer keeps the text so the user can retry.
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		if m.input.Value() == msg.text {
			m.input.Reset()
		}
		if m.loop != nil {
			m.loop.Refresh()
		}
		return m, nil

	case readMsg:
		if m.loop == nil || msg.loop != m.loop.Name() {
			return m, nil
		}
		if msg.err != nil {
			m.err = msg.err
		}
		if m.loop != nil {
			m.loop.Refresh()
		}
		return m, nil

	case tea.FocusMsg:
		m.focused = true
		if m.tracker.State() == sync.ViewUnread {
			cmd := m.acknowledge()
			return m, cmd
		}
		return m, nil

	case tea.BlurMsg:
		m.focused = false
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Back):
			return m, func() tea.Msg { return BackMsg{} }
		case key.Matches(msg, m.keys.Send):
			cmd := m.send()
			return m, cmd
		case msg.Type == tea.KeyPgUp, msg.Type == tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// applySnapshot renders a poll and drives the read state. Opening a thread
// with unread messages, or seeing new ones arrive while focused, marks the
// conversation read right away.
func (m *Model) applySnapshot(s Snapshot) tea.Cmd {
	if s.Err != nil {
		m.err = s.Err
		return nil
	}
	if m.err != nil && !m.sending {
		m.err = nil
	}

	atBottom := m.viewport.AtBottom() || len(m.data.Messages) == 0
	m.data = s.Value
	m.viewport.SetContent(m.render())
	if atBottom {
		m.viewport.GotoBottom()
	}

	unread := 0
	if m.data.Conv != nil {
		unread = m.data.Conv.UnreadFor(m.role)
	}

	if m.tracker.State() == sync.ViewClosed {
		if m.tracker.Open(unread) == sync.ViewUnread && m.focused {
			return m.acknowledge()
		}
		return nil
	}
	if _, ack := m.tracker.Observe(unread, m.focused); ack {
		return m.acknowledge()
	}
	return nil
}

// acknowledge flips the local state to read and asks the core to persist it.
func (m *Model) acknowledge() tea.Cmd {
	m.tracker.MarkRead()
	ctx, loop := m.ctx, m.loop.Name()
	svc, in := m.svc, chat.MarkReadInput{
		JobID:         m.key.JobID,
		Role:          m.role,
		UserID:        m.userID,
		CounterpartID: m.key.ParticipantID(m.role.Counterpart()),
	}
	return func() tea.Msg {
		_, _, err := svc.MarkRead(ctx, in)
		return readMsg{loop: loop, err: err}
	}
}

func (m *Model) send() tea.Cmd {
	text := m.input.Value()
	if strings.TrimSpace(text) == "" || m.sending || m.loop == nil {
		return nil
	}
	m.sending = true
	ctx, loop := m.ctx, m.loop.Name()
	svc, in := m.svc, chat.SendInput{
		JobID:         m.key.JobID,
		FromRole:      m.role,
		SenderID:      m.userID,
		Text:          text,
		CounterpartID: m.key.ParticipantID(m.role.Counterpart()),
	}
	return func() tea.Msg {
		_, err := svc.Send(ctx, in)
		return sentMsg{loop: loop, text: text, err: err}
	}
}

// View renders the thread.
func (m Model) View() string {
	title := m.title
	if title == "" {
		title = m.key.JobID
	}
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		theme.HeaderStyle.Render(title),
		theme.DimmedStyle.Render(fmt.Sprintf("  with %s · %s",
			m.key.ParticipantID(m.role.Counterpart()), m.tracker.State())),
	)

	footer := m.input.View()
	switch {
	case m.sending:
		footer += theme.DimmedStyle.Render("  sending…")
	case m.err != nil:
		footer += "  " + theme.ErrorStyle.Render(errorText(m.err))
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, m.viewport.View(), footer)
}

// SetSize updates the view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = max(height-3, 1)
	m.input.Width = max(width-6, 10)
	if m.loop != nil {
		m.viewport.SetContent(m.render())
	}
}

func (m Model) render() string {
	if len(m.data.Messages) == 0 {
		return theme.DimmedStyle.Render("No messages yet. Say hello.")
	}

	var b strings.Builder
	for i, msg := range m.data.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		style := theme.TheirMessageStyle
		who := msg.SenderID
		if msg.FromRole == m.role {
			style = theme.OwnMessageStyle
			who = "you"
		}
		meta := theme.DimmedStyle.Render(fmt.Sprintf("%s · %s", who, ui.RelativeTime(msg.CreatedAt)))
		if msg.FromRole == m.role && msg.ReadBy(m.role.Counterpart()) {
			meta += theme.DimmedStyle.Render(" · seen")
		}
		b.WriteString(meta + "\n")
		b.WriteString(style.Width(max(m.width-2, 10)).Render(msg.Text) + "\n")
	}
	return b.String()
}

func fetch(ctx context.Context, svc Service, key model.ConversationKey) (Data, error) {
	var d Data
	conv, err := svc.GetConversation(ctx, key)
	switch {
	case chat.IsNotFound(err):
	case err != nil:
		return d, err
	default:
		d.Conv = conv
	}

	msgs, err := svc.ListConversationMessages(ctx, key)
	if err != nil {
		return d, err
	}
	d.Messages = msgs
	return d, nil
}

// Equal reports whether two polls render the same.
func Equal(a, b Data) bool {
	if (a.Conv == nil) != (b.Conv == nil) || len(a.Messages) != len(b.Messages) {
		return false
	}
	if a.Conv != nil && (a.Conv.UnreadForEmployer != b.Conv.UnreadForEmployer ||
		a.Conv.UnreadForWorker != b.Conv.UnreadForWorker) {
		return false
	}
	for i := range a.Messages {
		x, y := a.Messages[i], b.Messages[i]
		if x.ID != y.ID || x.ReadByEmployer != y.ReadByEmployer || x.ReadByWorker != y.ReadByWorker {
			return false
		}
	}
	return true
}

func errorText(err error) string {
	var ve *chat.ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return err.Error()
}
