package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/jobchat/internal/model"
	"github.com/nhle/jobchat/internal/store"
	"github.com/nhle/jobchat/tests/testutil"
)

var testKey = model.ConversationKey{JobID: "job-1", EmployerID: "emp", WorkerID: "wrk"}

func appendMsg(t *testing.T, s store.Store, key model.ConversationKey, from model.Role, text string, at time.Time) model.Message {
	t.Helper()
	m := model.Message{
		JobID:      key.JobID,
		EmployerID: key.EmployerID,
		WorkerID:   key.WorkerID,
		FromRole:   from,
		SenderID:   key.ParticipantID(from),
		Text:       text,
		CreatedAt:  at,
	}
	if from == model.RoleEmployer {
		m.ReadByEmployer = true
	} else {
		m.ReadByWorker = true
	}
	require.NoError(t, s.AppendMessage(context.Background(), &m))
	return m
}

func TestNewSQLiteStoreOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "jobchat.db")

	s, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.UpsertJob(context.Background(), model.Job{ID: "j", EmployerID: "e"}))
	require.NoError(t, s.Close())

	// Reopening must not re-apply migrations.
	s, err = store.NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	job, err := s.GetJob(context.Background(), "j")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusOpen, job.Status)
}

func TestAppendAndListMessagesOrdersByTimeThenSeq(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	first := appendMsg(t, s, testKey, model.RoleWorker, "first", base)
	second := appendMsg(t, s, testKey, model.RoleEmployer, "second", base)
	other := model.ConversationKey{JobID: "job-1", EmployerID: "emp", WorkerID: "wrk-2"}
	appendMsg(t, s, other, model.RoleWorker, "elsewhere", base.Add(-time.Minute))

	assert.NotEmpty(t, first.ID)
	assert.Greater(t, second.Seq, first.Seq)

	all, err := s.ListMessages(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "elsewhere", all[0].Text)
	assert.Equal(t, "first", all[1].Text)
	assert.Equal(t, "second", all[2].Text)
	assert.True(t, all[1].CreatedAt.Equal(base))

	conv, err := s.ListConversationMessages(ctx, testKey)
	require.NoError(t, err)
	require.Len(t, conv, 2)
	assert.Equal(t, model.RoleWorker, conv[0].FromRole)
	assert.True(t, conv[0].ReadByWorker)
	assert.False(t, conv[0].ReadByEmployer)

	empty, err := s.ListMessages(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMarkMessagesReadOnlyTouchesCounterpartMessages(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	appendMsg(t, s, testKey, model.RoleWorker, "w1", now)
	appendMsg(t, s, testKey, model.RoleWorker, "w2", now.Add(time.Millisecond))
	appendMsg(t, s, testKey, model.RoleEmployer, "e1", now.Add(2*time.Millisecond))

	n, err := s.CountUnread(ctx, testKey, model.RoleEmployer)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	changed, err := s.MarkMessagesRead(ctx, testKey, model.RoleEmployer)
	require.NoError(t, err)
	assert.Equal(t, int64(2), changed)

	changed, err = s.MarkMessagesRead(ctx, testKey, model.RoleEmployer)
	require.NoError(t, err)
	assert.Zero(t, changed)

	n, err = s.CountUnread(ctx, testKey, model.RoleEmployer)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.CountUnread(ctx, testKey, model.RoleWorker)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.MarkMessagesRead(ctx, testKey, model.Role("admin"))
	assert.Error(t, err)
}

func TestConversationCRUD(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	_, err := s.GetConversation(ctx, testKey)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	conv := model.Conversation{
		ConversationKey:   testKey,
		LastMessage:       model.MessageSnapshot{Text: "hi", CreatedAt: created, SenderID: "wrk"},
		UnreadForEmployer: 1,
		JobTitle:          "Paint fence",
		JobStatus:         model.JobStatusOpen,
		CreatedAt:         created,
		UpdatedAt:         created,
	}
	require.NoError(t, s.CreateConversation(ctx, conv))
	assert.Error(t, s.CreateConversation(ctx, conv), "duplicate key must be rejected")

	got, err := s.GetConversation(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, "hi", got.LastMessage.Text)
	assert.Equal(t, 1, got.UnreadForEmployer)
	assert.True(t, got.UpdatedAt.Equal(created))

	got.LastMessage.Text = "reply"
	got.UnreadForWorker = 1
	got.UpdatedAt = created.Add(time.Hour)
	require.NoError(t, s.UpdateConversation(ctx, *got))

	require.NoError(t, s.UpdateUnreadCounts(ctx, testKey, 0, 3))
	got, err = s.GetConversation(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, "reply", got.LastMessage.Text)
	assert.Equal(t, 0, got.UnreadForEmployer)
	assert.Equal(t, 3, got.UnreadForWorker)
	assert.True(t, got.UpdatedAt.Equal(created.Add(time.Hour)))

	missing := model.ConversationKey{JobID: "nope", EmployerID: "a", WorkerID: "b"}
	assert.True(t, errors.Is(s.UpdateUnreadCounts(ctx, missing, 0, 0), store.ErrNotFound))
	assert.Error(t, s.UpdateUnreadCounts(ctx, testKey, -1, 0), "negative counters violate the CHECK constraint")
}

func TestListConversationsByRole(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, key := range []model.ConversationKey{
		{JobID: "j1", EmployerID: "emp", WorkerID: "w1"},
		{JobID: "j2", EmployerID: "emp", WorkerID: "w2"},
		{JobID: "j3", EmployerID: "other", WorkerID: "w1"},
	} {
		at := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.CreateConversation(ctx, model.Conversation{
			ConversationKey: key, CreatedAt: at, UpdatedAt: at,
		}))
	}

	convs, err := s.ListConversations(ctx, "emp", model.RoleEmployer)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "j2", convs[0].JobID, "most recently updated first")
	assert.Equal(t, "j1", convs[1].JobID)

	convs, err = s.ListConversations(ctx, "w1", model.RoleWorker)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "j3", convs[0].JobID)

	convs, err = s.ListConversations(ctx, "w1", model.RoleEmployer)
	require.NoError(t, err)
	assert.Empty(t, convs)

	keys, err := s.ListConversationKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 3)
	assert.Equal(t, model.ConversationKey{JobID: "j1", EmployerID: "emp", WorkerID: "w1"}, keys[0])
}

func TestNotifications(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	older := &model.Notification{
		RecipientID: "u1",
		Type:        model.NotificationNewOffer,
		Category:    model.CategoryOffers,
		JobID:       "j1",
		Payload:     map[string]string{"amount": "40"},
		CreatedAt:   base,
	}
	newer := &model.Notification{
		RecipientID: "u1",
		Type:        model.NotificationNewMessage,
		Category:    model.CategoryMessages,
		JobID:       "j1",
		Section:     "messages",
		CreatedAt:   base.Add(time.Second),
	}
	foreign := &model.Notification{RecipientID: "u2", Type: model.NotificationJobUpdated, Category: model.CategoryJobs}
	for _, n := range []*model.Notification{older, newer, foreign} {
		require.NoError(t, s.CreateNotification(ctx, n))
		assert.NotEmpty(t, n.ID)
	}

	list, err := s.ListNotifications(ctx, store.NotificationFilter{RecipientID: "u1"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, "40", list[1].Payload["amount"])
	assert.Nil(t, list[0].Payload)

	list, err = s.ListNotifications(ctx, store.NotificationFilter{RecipientID: "u1", Category: model.CategoryOffers})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, older.ID, list[0].ID)

	list, err = s.ListNotifications(ctx, store.NotificationFilter{RecipientID: "u1", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	count, err := s.CountUnreadNotifications(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	changed, err := s.MarkNotificationRead(ctx, older.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.MarkNotificationRead(ctx, older.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = s.MarkNotificationRead(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	list, err = s.ListNotifications(ctx, store.NotificationFilter{RecipientID: "u1", UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, newer.ID, list[0].ID)

	n, err := s.MarkAllNotificationsRead(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	count, err = s.CountUnreadNotifications(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "other recipients are untouched")
}

func TestUpsertJob(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	_, err := s.GetJob(ctx, "j1")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	require.NoError(t, s.UpsertJob(ctx, model.Job{ID: "j1", Title: "Fix sink", EmployerID: "emp"}))
	require.NoError(t, s.UpsertJob(ctx, model.Job{
		ID: "j1", Title: "Fix sink", EmployerID: "emp",
		Status: model.JobStatusAssigned, AssignedWorkerID: "wrk",
	}))

	job, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusAssigned, job.Status)
	assert.Equal(t, "wrk", job.AssignedWorkerID)
	assert.False(t, job.UpdatedAt.IsZero())
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(r store.Repos) error {
		m := model.Message{
			JobID: "j1", EmployerID: "emp", WorkerID: "wrk",
			FromRole: model.RoleWorker, SenderID: "wrk", Text: "lost",
		}
		if err := r.AppendMessage(ctx, &m); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	msgs, err := s.ListMessages(ctx, "j1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	err = s.InTx(ctx, func(r store.Repos) error {
		return r.UpsertJob(ctx, model.Job{ID: "j1", EmployerID: "emp"})
	})
	require.NoError(t, err)
	_, err = s.GetJob(ctx, "j1")
	assert.NoError(t, err)
}
