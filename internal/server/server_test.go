package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/jobchat/internal/chat"
	"github.com/nhle/jobchat/internal/model"
	"github.com/nhle/jobchat/internal/notify"
	"github.com/nhle/jobchat/internal/reminder"
	"github.com/nhle/jobchat/internal/sync"
	"github.com/nhle/jobchat/tests/testutil"
)

var testSecret = []byte("test-secret")

type fakeScheduler struct {
	got []reminder.Payload
}

func (f *fakeScheduler) Schedule(_ context.Context, p reminder.Payload, _ time.Time) (string, error) {
	f.got = append(f.got, p)
	return "task-1", nil
}

type fixture struct {
	srv    *Server
	broker *sync.Broker
	sched  *fakeScheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := testutil.NewTestStore(t)
	broker := sync.NewBroker(nil)
	d := notify.NewDispatcher(st, broker, nil)
	svc := chat.NewService(st, d, chat.WithPublisher(broker))
	require.NoError(t, st.UpsertJob(context.Background(), model.Job{
		ID: "job-1", Title: "Paint fence", EmployerID: "emp-1", AssignedWorkerID: "wrk-1",
	}))

	sched := &fakeScheduler{}
	srv := New(Deps{
		Chat: svc, Notify: d, Jobs: st, Events: broker, Reminders: sched, Secret: testSecret,
	})
	return &fixture{srv: srv, broker: broker, sched: sched}
}

func token(t *testing.T, user, scope string) string {
	t.Helper()
	tok, err := GenerateToken(testSecret, user, scope, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return f.doScoped(t, method, path, user, "", body)
}

func (f *fixture) doScoped(t *testing.T, method, path, user, scope string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, user, scope))
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthIsPublic(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other, err := GenerateToken([]byte("other"), "emp-1", "", time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+other)
	rec = httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSendReadFlow(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/jobs/job-1/messages", "emp-1",
		map[string]string{"role": "employer", "text": "  hello  "})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sent := decode[struct {
		Message      model.Message      `json:"message"`
		Conversation model.Conversation `json:"conversation"`
	}](t, rec)
	assert.Equal(t, "hello", sent.Message.Text)
	assert.Equal(t, 1, sent.Conversation.UnreadForWorker)

	rec = f.do(t, http.MethodGet, "/api/v1/notifications/unread-count", "wrk-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[map[string]int](t, rec)["count"])

	rec = f.do(t, http.MethodGet, "/api/v1/conversations?role=worker", "wrk-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Conversations []model.Conversation `json:"conversations"`
	}](t, rec)
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, "Paint fence", list.Conversations[0].JobTitle)

	rec = f.do(t, http.MethodPost, "/api/v1/jobs/job-1/read", "wrk-1", map[string]string{"role": "worker"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	read := decode[struct {
		Conversation model.Conversation `json:"conversation"`
		Changed      bool               `json:"changed"`
	}](t, rec)
	assert.True(t, read.Changed)
	assert.Zero(t, read.Conversation.UnreadForWorker)

	rec = f.do(t, http.MethodGet, "/api/v1/conversations/job-1/emp-1/wrk-1", "wrk-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	conv := decode[model.Conversation](t, rec)
	assert.Equal(t, "hello", conv.LastMessage.Text)
}

func TestSendErrorsMapToStatus(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/jobs/job-1/messages", "emp-1",
		map[string]string{"role": "employer", "text": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/jobs/job-1/messages", "stranger",
		map[string]string{"role": "employer", "text": "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/jobs/nope/messages", "emp-1",
		map[string]string{"role": "employer", "text": "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/conversations/job-1/emp-1/wrk-1", "emp-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetConversationRequiresParticipant(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/conversations/job-1/emp-1/wrk-1", "stranger", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListMessagesScopedToCaller(t *testing.T) {
	f := newFixture(t)

	for _, w := range []string{"wrk-1", "wrk-2"} {
		rec := f.do(t, http.MethodPost, "/api/v1/jobs/job-1/messages", w,
			map[string]string{"role": "worker", "text": "bid from " + w})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	type msgs struct {
		Messages []model.Message `json:"messages"`
	}
	rec := f.do(t, http.MethodGet, "/api/v1/jobs/job-1/messages", "emp-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[msgs](t, rec).Messages, 2)

	rec = f.do(t, http.MethodGet, "/api/v1/jobs/job-1/messages", "wrk-2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[msgs](t, rec).Messages
	require.Len(t, got, 1)
	assert.Equal(t, "bid from wrk-2", got[0].Text)

	rec = f.do(t, http.MethodGet, "/api/v1/jobs/missing/messages", "emp-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListConversationsMergesRoles(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.srv.jobs.UpsertJob(context.Background(), model.Job{
		ID: "job-2", Title: "Mow lawn", EmployerID: "wrk-1",
	}))

	rec := f.do(t, http.MethodPost, "/api/v1/jobs/job-1/messages", "emp-1",
		map[string]string{"role": "employer", "text": "first"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/v1/jobs/job-2/messages", "wrk-1",
		map[string]string{"role": "employer", "text": "second", "counterpart_id": "wrk-9"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/conversations", "wrk-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Conversations []model.Conversation `json:"conversations"`
	}](t, rec)
	require.Len(t, list.Conversations, 2)
	assert.Equal(t, "job-2", list.Conversations[0].JobID)
	assert.Equal(t, "job-1", list.Conversations[1].JobID)
}

func TestNotificationRoutes(t *testing.T) {
	f := newFixture(t)

	rec := f.doScoped(t, http.MethodPost, "/api/v1/internal/notifications", "job-service", ScopeInternal,
		map[string]any{"recipient_id": "emp-1", "type": "newOffer", "job_id": "job-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	n := decode[model.Notification](t, rec)
	assert.Equal(t, model.CategoryOffers, n.Category)

	rec = f.do(t, http.MethodGet, "/api/v1/notifications?category=offers", "emp-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[struct {
		Notifications []model.Notification `json:"notifications"`
	}](t, rec).Notifications, 1)

	rec = f.do(t, http.MethodGet, "/api/v1/notifications?category=bogus", "emp-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v1/notifications/"+n.ID+"/read", "wrk-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "not the recipient")

	rec = f.do(t, http.MethodPut, "/api/v1/notifications/"+n.ID+"/read", "emp-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[map[string]bool](t, rec)["changed"])

	rec = f.do(t, http.MethodPut, "/api/v1/notifications/"+n.ID+"/read", "emp-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[map[string]bool](t, rec)["changed"])

	rec = f.do(t, http.MethodPut, "/api/v1/notifications/read-all", "emp-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), decode[map[string]int64](t, rec)["updated"])
}

func TestInternalRoutesRequireScope(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/internal/reconcile", "emp-1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.doScoped(t, http.MethodPost, "/api/v1/internal/reconcile", "ops", ScopeInternal, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[map[string]int](t, rec)["repaired"])

	rec = f.doScoped(t, http.MethodPost, "/api/v1/internal/jobs", "ops", ScopeInternal,
		map[string]any{"id": "job-3", "title": "Fix tap", "employer_id": "emp-3"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	job, err := f.srv.jobs.GetJob(context.Background(), "job-3")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusOpen, job.Status)

	rec = f.doScoped(t, http.MethodPost, "/api/v1/internal/jobs", "ops", ScopeInternal,
		map[string]any{"title": "no id"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduleReminder(t *testing.T) {
	f := newFixture(t)

	rec := f.doScoped(t, http.MethodPost, "/api/v1/internal/reminders", "ops", ScopeInternal,
		map[string]any{"recipient_id": "wrk-1", "job_id": "job-1", "note": "bring ladder",
			"at": time.Now().Add(time.Hour)})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "task-1", decode[map[string]string](t, rec)["task_id"])
	require.Len(t, f.sched.got, 1)
	assert.Equal(t, "bring ladder", f.sched.got[0].Note)

	rec = f.doScoped(t, http.MethodPost, "/api/v1/internal/reminders", "ops", ScopeInternal,
		map[string]any{"recipient_id": "wrk-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.srv.reminders = nil
	rec = f.doScoped(t, http.MethodPost, "/api/v1/internal/reminders", "ops", ScopeInternal,
		map[string]any{"recipient_id": "wrk-1", "at": time.Now()})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebsocketStreamsEvents(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?token=" + token(t, "wrk-1", "")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool { return f.broker.Subscribers("wrk-1") == 1 },
		time.Second, 10*time.Millisecond)

	rec := f.do(t, http.MethodPost, "/api/v1/jobs/job-1/messages", "emp-1",
		map[string]string{"role": "employer", "text": "ping"})
	require.Equal(t, http.StatusCreated, rec.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kinds := map[sync.EventKind]bool{}
	for len(kinds) < 2 {
		var e sync.Event
		require.NoError(t, conn.ReadJSON(&e))
		assert.Equal(t, "wrk-1", e.UserID)
		kinds[e.Kind] = true
	}
	assert.True(t, kinds[sync.EventMessageSent])
	assert.True(t, kinds[sync.EventNotificationCreated])
}

func TestWebsocketRejectsMissingToken(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
