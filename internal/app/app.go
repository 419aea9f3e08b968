package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/jobchat/internal/chat"
	"github.com/nhle/jobchat/internal/keys"
	"github.com/nhle/jobchat/internal/model"
	"github.com/nhle/jobchat/internal/notify"
	"github.com/nhle/jobchat/internal/sync"
	"github.com/nhle/jobchat/internal/theme"
	"github.com/nhle/jobchat/internal/ui"
	"github.com/nhle/jobchat/internal/ui/bell"
	"github.com/nhle/jobchat/internal/ui/command"
	helpview "github.com/nhle/jobchat/internal/ui/help"
	"github.com/nhle/jobchat/internal/ui/inbox"
	"github.com/nhle/jobchat/internal/ui/login"
	"github.com/nhle/jobchat/internal/ui/thread"
)

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewLogin ViewState = iota
	ViewInbox
	ViewThread
	ViewBell
	ViewHelp
	ViewCommand
)

// Options are the collaborators of the terminal client.
type Options struct {
	Chat   *chat.Service
	Notify *notify.Dispatcher
	// Events is optional; without it views rely on their refresh interval.
	Events     sync.Subscriber
	Config     *model.AppConfig
	ConfigPath string
}

// openThreadMsg carries a resolved conversation to open, or why it could
// not be resolved.
type openThreadMsg struct {
	key   model.ConversationKey
	role  model.Role
	title string
	err   error
}

type configSavedMsg struct {
	err error
}

// Model is the root Bubble Tea model that manages view routing and layout.
type Model struct {
	ctx    context.Context
	cancel context.CancelFunc

	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	keys         *keys.KeyMap

	chat       *chat.Service
	cfg        *model.AppConfig
	configPath string

	loginView   login.Model
	inboxView   inbox.Model
	threadView  thread.Model
	bellView    bell.Model
	helpView    helpview.Model
	commandView command.Model

	userID string
	role   model.Role
	ready  bool
	alert  string
}

// New creates the root model. The sign-in form is prefilled with the
// identity remembered in the configuration.
func New(opts Options) Model {
	cfg := opts.Config
	if cfg == nil {
		cfg = model.DefaultAppConfig()
	}
	k := keys.DefaultKeyMap()
	ctx, cancel := context.WithCancel(context.Background())

	return Model{
		ctx:         ctx,
		cancel:      cancel,
		currentView: ViewLogin,
		keys:        k,
		chat:        opts.Chat,
		cfg:         cfg,
		configPath:  opts.ConfigPath,
		loginView:   login.New(cfg.Identity.UserID, model.Role(cfg.Identity.Role), 80, 24),
		inboxView:   inbox.New(opts.Chat, opts.Events, k, cfg.Sync.InboxInterval(), 80, 24),
		threadView:  thread.New(opts.Chat, opts.Events, k, cfg.Sync.ThreadInterval(), cfg.Messaging.MaxMessageLength, 80, 24),
		bellView:    bell.New(opts.Notify, opts.Events, k, cfg.Sync.BellInterval(), 80, 24),
		helpView:    helpview.New(k, 80, 24),
		commandView: command.New(80, 24),
	}
}

// Init starts the sign-in form.
func (m Model) Init() tea.Cmd {
	return m.loginView.Init()
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		w, h := m.layout.ContentWidth(), m.layout.ContentHeight()
		m.loginView.SetSize(w, h)
		m.inboxView.SetSize(w, h)
		m.threadView.SetSize(w, h)
		m.bellView.SetSize(w, h)
		m.helpView.SetSize(w, h)
		m.commandView.SetSize(w, h)
		// Forward so huh forms can calculate their layout.
		return m.updateActiveView(msg)

	case login.LoginMsg:
		cmd := m.signIn(msg.UserID, msg.Role)
		return m, cmd

	case login.CancelMsg:
		cmd := m.quit()
		return m, cmd

	case configSavedMsg:
		if msg.err != nil {
			m.alert = "could not remember identity: " + msg.err.Error()
		}
		return m, nil

	case inbox.OpenThreadMsg:
		cmd := m.openThread(msg.Key, msg.Role, msg.Title)
		return m, cmd

	case openThreadMsg:
		if msg.err != nil {
			m.alert = msg.err.Error()
			return m, nil
		}
		cmd := m.openThread(msg.key, msg.role, msg.title)
		return m, cmd

	case thread.BackMsg:
		m.threadView.Close()
		m.currentView = ViewInbox
		m.inboxView.Refresh()
		return m, nil

	case bell.OpenMsg:
		if key, role, ok := notificationKey(msg.Notification, m.userID); ok {
			cmd := m.openThread(key, role, msg.Notification.Payload["job_title"])
			return m, cmd
		}
		return m, nil

	case command.CommandMsg:
		m.currentView = m.previousView
		cmd := tea.Batch(m.focusThread(), m.executeCommand(string(msg)))
		return m, cmd

	case command.CancelMsg:
		m.currentView = m.previousView
		cmd := m.focusThread()
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			cmd := m.quit()
			return m, cmd
		}
		if m.currentView == ViewLogin || m.currentView == ViewCommand || m.currentView == ViewThread {
			// Text entry views get every other key.
			if m.currentView == ViewThread && key.Matches(msg, m.keys.Help) && m.threadView.Input() == "" {
				cmd := m.overlay(ViewHelp)
				return m, cmd
			}
			return m.updateActiveView(msg)
		}

		m.alert = ""
		switch {
		case key.Matches(msg, m.keys.Quit):
			cmd := m.quit()
			return m, cmd

		case key.Matches(msg, m.keys.Help):
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				cmd := m.focusThread()
				return m, cmd
			}
			cmd := m.overlay(ViewHelp)
			return m, cmd

		case key.Matches(msg, m.keys.Command):
			cmd := m.overlay(ViewCommand)
			return m, tea.Batch(cmd, m.commandView.Focus())

		case key.Matches(msg, m.keys.Inbox):
			m.currentView = ViewInbox
			return m, nil

		case key.Matches(msg, m.keys.Notifications):
			m.currentView = ViewBell
			return m, nil

		case key.Matches(msg, m.keys.Back):
			switch m.currentView {
			case ViewHelp:
				m.currentView = m.previousView
				cmd := m.focusThread()
				return m, cmd
			case ViewBell:
				m.currentView = ViewInbox
				return m, nil
			}
		}
		return m.updateActiveView(msg)
	}

	return m.broadcast(msg)
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewLogin:
		m.loginView, cmd = m.loginView.Update(msg)
	case ViewInbox:
		m.inboxView, cmd = m.inboxView.Update(msg)
	case ViewThread:
		m.threadView, cmd = m.threadView.Update(msg)
	case ViewBell:
		m.bellView, cmd = m.bellView.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	case ViewCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	}

	return m, cmd
}

// broadcast hands non-key messages to every live view. Loop snapshots and
// request results must reach their view even while another one is shown.
func (m Model) broadcast(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	if m.currentView == ViewLogin {
		m.loginView, cmd = m.loginView.Update(msg)
		return m, cmd
	}
	if m.currentView == ViewCommand {
		m.commandView, cmd = m.commandView.Update(msg)
		cmds = append(cmds, cmd)
	}

	m.inboxView, cmd = m.inboxView.Update(msg)
	cmds = append(cmds, cmd)
	m.bellView, cmd = m.bellView.Update(msg)
	cmds = append(cmds, cmd)
	if m.threadView.IsOpen() {
		m.threadView, cmd = m.threadView.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// signIn remembers the identity and starts the always-on views.
func (m *Model) signIn(userID string, role model.Role) tea.Cmd {
	m.userID, m.role = userID, role
	m.currentView = ViewInbox
	m.alert = ""

	m.cfg.Identity = model.IdentityConfig{UserID: userID, Role: string(role)}
	cfg, path := *m.cfg, m.configPath
	save := func() tea.Msg {
		if path == "" {
			return configSavedMsg{}
		}
		return configSavedMsg{err: model.SaveConfig(path, &cfg)}
	}

	return tea.Batch(
		save,
		m.inboxView.Start(m.ctx, userID, role),
		m.bellView.Start(m.ctx, userID),
	)
}

func (m *Model) signOut() tea.Cmd {
	m.threadView.Close()
	m.inboxView.Stop()
	m.bellView.Stop()
	m.userID, m.role = "", ""
	m.currentView = ViewLogin
	m.loginView = login.New(m.cfg.Identity.UserID, model.Role(m.cfg.Identity.Role),
		m.layout.ContentWidth(), m.layout.ContentHeight())
	return m.loginView.Init()
}

// openThread shows a conversation. Its inbox badge clears at once, ahead of
// the mark-read the thread issues.
func (m *Model) openThread(key model.ConversationKey, role model.Role, title string) tea.Cmd {
	m.currentView = ViewThread
	m.alert = ""
	if role == m.inboxView.Role() {
		m.inboxView.ClearUnread(key)
	}
	return m.threadView.Open(m.ctx, key, role, title)
}

// overlay shows help or the command palette on top of the current view.
// An open thread counts as backgrounded while covered.
func (m *Model) overlay(v ViewState) tea.Cmd {
	m.previousView = m.currentView
	m.currentView = v
	if m.previousView == ViewThread {
		m.threadView, _ = m.threadView.Update(tea.BlurMsg{})
	}
	return nil
}

// focusThread tells a thread that is visible again that it has focus.
func (m *Model) focusThread() tea.Cmd {
	if m.currentView != ViewThread {
		return nil
	}
	var cmd tea.Cmd
	m.threadView, cmd = m.threadView.Update(tea.FocusMsg{})
	return cmd
}

func (m *Model) quit() tea.Cmd {
	m.threadView.Close()
	m.inboxView.Stop()
	m.bellView.Stop()
	m.cancel()
	return tea.Quit
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	var identity, inboxBadge, bellBadge string
	if m.userID != "" {
		identity = fmt.Sprintf("%s (%s)", m.userID, m.inboxView.Role())
		if n := m.inboxView.Unread(); n > 0 {
			inboxBadge = "inbox " + theme.Badge(n)
		}
		if n := m.bellView.Unread(); n > 0 {
			bellBadge = "bell " + theme.Badge(n)
		}
	}
	header := m.layout.RenderHeader("jobchat", inboxBadge, bellBadge, identity)
	statusBar := m.layout.RenderStatusBar(m.keyHints(), m.statusAlert())

	return m.layout.RenderWithFrame(header, m.renderContent(), statusBar)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewLogin:
		return m.loginView.View()
	case ViewInbox:
		return m.inboxView.View()
	case ViewThread:
		return m.threadView.View()
	case ViewBell:
		return m.bellView.View()
	case ViewHelp:
		return m.helpView.View()
	case ViewCommand:
		return m.commandView.View()
	default:
		return ""
	}
}

// statusAlert surfaces the most relevant error for the current view.
func (m Model) statusAlert() string {
	if m.alert != "" {
		return m.alert
	}
	var err error
	switch m.currentView {
	case ViewInbox:
		err = m.inboxView.Err()
	case ViewBell:
		err = m.bellView.Err()
	}
	if err != nil {
		return "⚠ " + err.Error()
	}
	return ""
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	switch m.currentView {
	case ViewLogin:
		return "enter continue | ctrl+c quit"
	case ViewHelp:
		return "? close help | esc back"
	case ViewCommand:
		return "enter execute | tab complete | esc back"
	case ViewThread:
		return "enter send | esc back | pgup/pgdn scroll"
	case ViewBell:
		return "enter open | A read all | 0-4 filter | i inbox | esc back"
	default:
		return "enter open | tab switch role | b notifications | : command | ? help | q quit"
	}
}

// executeCommand handles a command string from the command palette.
func (m *Model) executeCommand(cmd string) tea.Cmd {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "inbox":
		m.currentView = ViewInbox
	case "notifications", "bell":
		m.currentView = ViewBell
	case "role":
		if len(fields) == 2 && model.Role(fields[1]).Valid() {
			m.currentView = ViewInbox
			return m.inboxView.Start(m.ctx, m.userID, model.Role(fields[1]))
		}
		m.alert = "usage: role employer|worker"
	case "read":
		return m.bellView.MarkAllRead()
	case "refresh", "sync":
		m.inboxView.Refresh()
		m.bellView.Refresh()
	case "message", "msg":
		if len(fields) < 2 {
			m.alert = "usage: message <job> [counterpart]"
			return nil
		}
		counterpart := ""
		if len(fields) > 2 {
			counterpart = fields[2]
		}
		return m.resolveThread(fields[1], counterpart)
	case "logout":
		return m.signOut()
	case "quit", "q":
		return m.quit()
	default:
		m.alert = fmt.Sprintf("unknown command %q", cmd)
	}
	return nil
}

// resolveThread works out the conversation the signed-in user would have
// on jobID, so a first message can be written before any exists.
func (m Model) resolveThread(jobID, counterpartID string) tea.Cmd {
	svc, ctx := m.chat, m.ctx
	user, role := m.userID, m.inboxView.Role()
	return func() tea.Msg {
		key, err := svc.ResolveKey(ctx, jobID, role, user, counterpartID)
		return openThreadMsg{key: key, role: role, err: err}
	}
}

// notificationKey finds the conversation a message notification points at.
func notificationKey(n model.Notification, userID string) (model.ConversationKey, model.Role, bool) {
	if n.Type != model.NotificationNewMessage || n.JobID == "" {
		return model.ConversationKey{}, "", false
	}
	sender := n.Payload["sender_id"]
	senderRole := model.Role(n.Payload["sender_role"])
	if sender == "" || !senderRole.Valid() {
		return model.ConversationKey{}, "", false
	}
	role := senderRole.Counterpart()
	return model.KeyFor(n.JobID, role, userID, sender), role, true
}
