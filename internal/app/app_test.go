package app

import (
	"context"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/jobchat/internal/chat"
	"github.com/nhle/jobchat/internal/model"
	"github.com/nhle/jobchat/internal/notify"
	"github.com/nhle/jobchat/internal/sync"
	"github.com/nhle/jobchat/internal/ui/command"
	"github.com/nhle/jobchat/internal/ui/inbox"
	"github.com/nhle/jobchat/internal/ui/login"
	"github.com/nhle/jobchat/tests/testutil"
)

func TestNotificationKey(t *testing.T) {
	n := model.Notification{
		Type:  model.NotificationNewMessage,
		JobID: "job-1",
		Payload: map[string]string{
			"sender_id":   "wrk-1",
			"sender_role": "worker",
		},
	}
	key, role, ok := notificationKey(n, "emp-1")
	require.True(t, ok)
	assert.Equal(t, model.RoleEmployer, role)
	assert.Equal(t, model.ConversationKey{JobID: "job-1", EmployerID: "emp-1", WorkerID: "wrk-1"}, key)

	n.Type = model.NotificationNewOffer
	_, _, ok = notificationKey(n, "emp-1")
	assert.False(t, ok)

	n.Type = model.NotificationNewMessage
	n.Payload["sender_role"] = "boss"
	_, _, ok = notificationKey(n, "emp-1")
	assert.False(t, ok)
}

func newApp(t *testing.T) Model {
	t.Helper()
	m, _ := newAppWithService(t)
	return m
}

func newAppWithService(t *testing.T) (Model, *chat.Service) {
	t.Helper()
	st := testutil.NewTestStore(t)
	require.NoError(t, st.UpsertJob(context.Background(), model.Job{
		ID: "job-1", Title: "Paint fence", EmployerID: "emp-1",
	}))
	broker := sync.NewBroker(nil)
	d := notify.NewDispatcher(st, broker, nil)
	svc := chat.NewService(st, d, chat.WithPublisher(broker))
	m := New(Options{
		Chat:       svc,
		Notify:     d,
		Events:     broker,
		Config:     model.DefaultAppConfig(),
		ConfigPath: filepath.Join(t.TempDir(), "config.yaml"),
	})
	t.Cleanup(func() { m.quit() })
	return m, svc
}

func TestSignInRemembersIdentity(t *testing.T) {
	m := newApp(t)
	out, _ := m.Update(login.LoginMsg{UserID: "wrk-1", Role: model.RoleWorker})
	m = out.(Model)

	assert.Equal(t, ViewInbox, m.currentView)
	assert.Equal(t, "wrk-1", m.userID)
	assert.Equal(t, model.RoleWorker, m.inboxView.Role())

	// Persisting runs as a command; the in-memory copy changes right away.
	assert.Equal(t, "wrk-1", m.cfg.Identity.UserID)
	assert.Equal(t, "worker", m.cfg.Identity.Role)
}

func TestCommandPalette(t *testing.T) {
	m := newApp(t)
	out, _ := m.Update(login.LoginMsg{UserID: "emp-1", Role: model.RoleEmployer})
	m = out.(Model)

	out, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(":")})
	m = out.(Model)
	assert.Equal(t, ViewCommand, m.currentView)

	out, _ = m.Update(command.CommandMsg("notifications"))
	m = out.(Model)
	assert.Equal(t, ViewBell, m.currentView)

	out, _ = m.Update(command.CommandMsg("bogus"))
	m = out.(Model)
	assert.Contains(t, m.alert, "unknown command")

	out, _ = m.Update(command.CommandMsg("role worker"))
	m = out.(Model)
	assert.Equal(t, model.RoleWorker, m.inboxView.Role())
}

func TestMessageCommandResolvesThread(t *testing.T) {
	m := newApp(t)
	out, _ := m.Update(login.LoginMsg{UserID: "wrk-7", Role: model.RoleWorker})
	m = out.(Model)

	cmd := m.executeCommand("message job-1")
	require.NotNil(t, cmd)
	msg, ok := cmd().(openThreadMsg)
	require.True(t, ok)
	require.NoError(t, msg.err)
	assert.Equal(t, model.ConversationKey{JobID: "job-1", EmployerID: "emp-1", WorkerID: "wrk-7"}, msg.key)

	out, _ = m.Update(msg)
	m = out.(Model)
	assert.Equal(t, ViewThread, m.currentView)
	assert.True(t, m.threadView.IsOpen())

	cmd = m.executeCommand("message missing-job")
	msg = cmd().(openThreadMsg)
	assert.Error(t, msg.err)
}

func TestOpeningThreadClearsUnreadAtOnce(t *testing.T) {
	ctx := context.Background()
	m, svc := newAppWithService(t)
	out, _ := m.Update(login.LoginMsg{UserID: "emp-1", Role: model.RoleEmployer})
	m = out.(Model)

	_, err := svc.Send(ctx, chat.SendInput{
		JobID: "job-1", FromRole: model.RoleWorker, SenderID: "wrk-1", Text: "Hello",
	})
	require.NoError(t, err)

	convs, err := svc.ListConversations(ctx, "emp-1", model.RoleEmployer)
	require.NoError(t, err)
	out, _ = m.Update(inbox.Snapshot{Loop: "inbox:emp-1:employer", Value: convs})
	m = out.(Model)
	require.Equal(t, 1, m.inboxView.Unread())

	out, cmd := m.Update(inbox.OpenThreadMsg{Key: convs[0].ConversationKey, Role: model.RoleEmployer, Title: "Paint fence"})
	m = out.(Model)
	require.NotNil(t, cmd)

	assert.Equal(t, ViewThread, m.currentView)
	assert.Zero(t, m.inboxView.Unread(), "badge clears before any poll")
	assert.Equal(t, sync.ViewRead, m.threadView.State())
}
