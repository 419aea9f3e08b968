package thread

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/jobchat/internal/chat"
	"github.com/nhle/jobchat/internal/keys"
	"github.com/nhle/jobchat/internal/model"
	"github.com/nhle/jobchat/internal/sync"
)

var testKey = model.ConversationKey{JobID: "job-1", EmployerID: "emp-1", WorkerID: "wrk-1"}

type fakeService struct {
	mu      gosync.Mutex
	sendErr error
	sent    []chat.SendInput
	reads   []chat.MarkReadInput
}

func (f *fakeService) Send(_ context.Context, in chat.SendInput) (*chat.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, in)
	return &chat.SendResult{}, nil
}

func (f *fakeService) MarkRead(_ context.Context, in chat.MarkReadInput) (*model.Conversation, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, in)
	return nil, true, nil
}

func (f *fakeService) GetConversation(context.Context, model.ConversationKey) (*model.Conversation, error) {
	return nil, &chat.NotFoundError{Resource: "conversation"}
}

func (f *fakeService) ListConversationMessages(context.Context, model.ConversationKey) ([]model.Message, error) {
	return nil, nil
}

func (f *fakeService) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reads)
}

// openThread opens a focused thread and discards the open command, so the
// mark-read issued on open never reaches svc.
func openThread(t *testing.T, svc *fakeService, role model.Role) Model {
	t.Helper()
	m := New(svc, nil, keys.DefaultKeyMap(), time.Hour, 0, 80, 24)
	m.Open(context.Background(), testKey, role, "Paint fence")
	t.Cleanup(m.Close)
	return m
}

// openBlurred opens a thread while the terminal has no focus.
func openBlurred(t *testing.T, svc *fakeService, role model.Role) Model {
	t.Helper()
	m := New(svc, nil, keys.DefaultKeyMap(), time.Hour, 0, 80, 24)
	m, _ = m.Update(tea.BlurMsg{})
	m.Open(context.Background(), testKey, role, "Paint fence")
	t.Cleanup(m.Close)
	return m
}

// awaitRead runs cmd, expanding batches, until one of its commands yields a
// readMsg.
func awaitRead(t *testing.T, cmd tea.Cmd) readMsg {
	t.Helper()
	msgs := make(chan tea.Msg, 16)
	var exec func(tea.Cmd)
	exec = func(c tea.Cmd) {
		go func() {
			msg := c()
			if batch, ok := msg.(tea.BatchMsg); ok {
				for _, sub := range batch {
					if sub != nil {
						exec(sub)
					}
				}
				return
			}
			msgs <- msg
		}()
	}
	exec(cmd)

	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg := <-msgs:
			if rm, ok := msg.(readMsg); ok {
				return rm
			}
		case <-timeout:
			t.Fatal("no mark-read was issued")
			return readMsg{}
		}
	}
}

func snapshot(m Model, unreadForEmployer int) Snapshot {
	return Snapshot{
		Loop: m.loop.Name(),
		Value: Data{
			Conv: &model.Conversation{ConversationKey: testKey, UnreadForEmployer: unreadForEmployer},
			Messages: []model.Message{{
				ID: "m1", JobID: testKey.JobID, EmployerID: testKey.EmployerID, WorkerID: testKey.WorkerID,
				FromRole: model.RoleWorker, SenderID: "wrk-1", Text: "hi",
			}},
		},
		At: time.Now(),
	}
}

func run(t *testing.T, cmd tea.Cmd) tea.Msg {
	t.Helper()
	require.NotNil(t, cmd)
	return cmd()
}

func TestFailedSendKeepsText(t *testing.T) {
	svc := &fakeService{sendErr: &chat.ValidationError{Field: "text", Reason: "too long"}}
	m := openThread(t, svc, model.RoleEmployer)

	m.input.SetValue("hello there")
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.True(t, m.sending)

	m, _ = m.Update(run(t, cmd))
	assert.Equal(t, "hello there", m.Input())
	require.Error(t, m.Err())
	assert.Contains(t, m.View(), "too long")

	svc.mu.Lock()
	svc.sendErr = nil
	svc.mu.Unlock()

	m, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m, _ = m.Update(run(t, cmd))
	assert.Empty(t, m.Input())
	assert.NoError(t, m.Err())
	require.Len(t, svc.sent, 1)
	assert.Equal(t, "hello there", svc.sent[0].Text)
	assert.Equal(t, "wrk-1", svc.sent[0].CounterpartID)
	assert.Equal(t, "emp-1", svc.sent[0].SenderID)
}

func TestBlankInputDoesNotSend(t *testing.T) {
	m := openThread(t, &fakeService{}, model.RoleEmployer)
	m.input.SetValue("   ")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
}

func TestOpeningFocusedThreadMarksReadBeforeFirstPoll(t *testing.T) {
	svc := &fakeService{}
	m := New(svc, nil, keys.DefaultKeyMap(), time.Hour, 0, 80, 24)
	cmd := m.Open(context.Background(), testKey, model.RoleEmployer, "Paint fence")
	t.Cleanup(m.Close)
	assert.Equal(t, sync.ViewRead, m.State(), "read locally before the store confirms")

	msg := awaitRead(t, cmd)
	assert.NoError(t, msg.err)
	assert.Equal(t, m.loop.Name(), msg.loop)
	require.Equal(t, 1, svc.readCount())
	assert.Equal(t, chat.MarkReadInput{
		JobID: "job-1", Role: model.RoleEmployer, UserID: "emp-1", CounterpartID: "wrk-1",
	}, svc.reads[0])

	// A poll taken before the mark-read committed is acknowledged again.
	cmd = m.applySnapshot(snapshot(m, 2))
	assert.Equal(t, sync.ViewRead, m.State())
	run(t, cmd)
	assert.Equal(t, 2, svc.readCount())
}

func TestOpeningBlurredThreadWithUnread(t *testing.T) {
	svc := &fakeService{}
	m := openBlurred(t, svc, model.RoleEmployer)
	assert.Equal(t, sync.ViewClosed, m.State())

	assert.Nil(t, m.applySnapshot(snapshot(m, 2)))
	assert.Equal(t, sync.ViewUnread, m.State())
	assert.Zero(t, svc.readCount())

	m, cmd := m.Update(tea.FocusMsg{})
	assert.Equal(t, sync.ViewRead, m.State())
	run(t, cmd)
	assert.Equal(t, 1, svc.readCount())
}

func TestOpeningBlurredThreadWithNothingUnread(t *testing.T) {
	svc := &fakeService{}
	m := openBlurred(t, svc, model.RoleEmployer)

	assert.Nil(t, m.applySnapshot(snapshot(m, 0)))
	assert.Equal(t, sync.ViewRead, m.State())
	assert.Zero(t, svc.readCount())
}

func TestBackgroundedThreadFallsBackToUnread(t *testing.T) {
	svc := &fakeService{}
	m := openThread(t, svc, model.RoleEmployer)
	require.Nil(t, m.applySnapshot(snapshot(m, 0)))

	m, _ = m.Update(tea.BlurMsg{})
	assert.Nil(t, m.applySnapshot(snapshot(m, 1)))
	assert.Equal(t, sync.ViewUnread, m.State())

	m, cmd := m.Update(tea.FocusMsg{})
	assert.Equal(t, sync.ViewRead, m.State())
	run(t, cmd)
	assert.Equal(t, 1, svc.readCount())
}

func TestFocusedThreadAcknowledgesNewMessages(t *testing.T) {
	svc := &fakeService{}
	m := openThread(t, svc, model.RoleEmployer)
	require.Nil(t, m.applySnapshot(snapshot(m, 0)))

	cmd := m.applySnapshot(snapshot(m, 1))
	assert.Equal(t, sync.ViewRead, m.State())
	run(t, cmd)
	assert.Equal(t, 1, svc.readCount())
}

func TestStaleSnapshotIgnored(t *testing.T) {
	m := openBlurred(t, &fakeService{}, model.RoleEmployer)
	snap := snapshot(m, 3)
	snap.Loop = "thread:other"

	m, cmd := m.Update(snap)
	assert.Nil(t, cmd)
	assert.Equal(t, sync.ViewClosed, m.State())
}

func TestResultsOfAClosedThreadAreDropped(t *testing.T) {
	m := openThread(t, &fakeService{}, model.RoleEmployer)
	m.input.SetValue("draft")

	m, _ = m.Update(sentMsg{loop: "thread:other", text: "draft", err: errors.New("boom")})
	assert.NoError(t, m.Err())
	assert.Equal(t, "draft", m.Input())
}

func TestCloseCancelsInFlightCalls(t *testing.T) {
	svc := &blockingService{started: make(chan struct{})}
	m := New(svc, nil, keys.DefaultKeyMap(), time.Hour, 0, 80, 24)
	m.Open(context.Background(), testKey, model.RoleEmployer, "Paint fence")

	m.input.SetValue("hello")
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)

	done := make(chan tea.Msg, 1)
	go func() { done <- cmd() }()
	<-svc.started
	m.Close()

	select {
	case msg := <-done:
		sent, ok := msg.(sentMsg)
		require.True(t, ok)
		assert.ErrorIs(t, sent.err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("send was not aborted by Close")
	}
}

func TestComposerUsesConfiguredLimit(t *testing.T) {
	m := New(&fakeService{}, nil, keys.DefaultKeyMap(), time.Hour, 5000, 80, 24)
	assert.Equal(t, 5000, m.input.CharLimit)

	m = New(&fakeService{}, nil, keys.DefaultKeyMap(), time.Hour, 0, 80, 24)
	assert.Equal(t, chat.DefaultMaxMessageLength, m.input.CharLimit)
}

func TestCloseResetsState(t *testing.T) {
	m := openThread(t, &fakeService{}, model.RoleWorker)
	m.applySnapshot(snapshot(m, 0))
	m.Close()
	assert.False(t, m.IsOpen())
	assert.Equal(t, sync.ViewClosed, m.State())
}

func TestEqual(t *testing.T) {
	a := Data{Messages: []model.Message{{ID: "1"}}}
	b := Data{Messages: []model.Message{{ID: "1", ReadByWorker: true}}}
	assert.True(t, Equal(a, a))
	assert.False(t, Equal(a, b))
	assert.False(t, Equal(a, Data{}))
	assert.False(t, Equal(Data{Conv: &model.Conversation{}}, Data{}))
}

func TestFetchToleratesMissingConversation(t *testing.T) {
	d, err := fetch(context.Background(), &fakeService{}, testKey)
	require.NoError(t, err)
	assert.Nil(t, d.Conv)

	_, err = fetch(context.Background(), &errService{}, testKey)
	assert.Error(t, err)
}

type errService struct{ fakeService }

func (*errService) GetConversation(context.Context, model.ConversationKey) (*model.Conversation, error) {
	return nil, errors.New("db closed")
}

// blockingService holds Send until its context is cancelled.
type blockingService struct {
	fakeService
	started chan struct{}
}

func (b *blockingService) Send(ctx context.Context, _ chat.SendInput) (*chat.SendResult, error) {
	close(b.started)
	<-ctx.Done()
	return nil, ctx.Err()
}
