package digest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/jobchat/internal/model"
	"github.com/nhle/jobchat/internal/notify"
	"github.com/nhle/jobchat/tests/testutil"
)

// readParts parses raw and returns the body of each inline part by content type.
func readParts(t *testing.T, raw []byte) (*mail.Reader, map[string]string) {
	t.Helper()
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)

	parts := map[string]string{}
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if h, ok := p.Header.(*mail.InlineHeader); ok {
			ct, _, _ := h.ContentType()
			body, err := io.ReadAll(p.Body)
			require.NoError(t, err)
			parts[ct] = string(body)
		}
	}
	return mr, parts
}

func TestComposeGroupsByCategory(t *testing.T) {
	at := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	raw, err := Compose(Digest{
		From:   "jobchat <noreply@example.com>",
		To:     "emp@example.com",
		UserID: "emp",
		Notifications: []model.Notification{
			{Type: model.NotificationNewMessage, Category: model.CategoryMessages, JobID: "j1",
				Payload: map[string]string{"sender_id": "wrk", "preview": "<hello>", "job_title": "Fence"}, CreatedAt: at},
			{Type: model.NotificationOfferAccepted, Category: model.CategoryOffers, JobID: "j2", CreatedAt: at},
			{Type: model.NotificationInvitation, Category: model.CategorySystem, CreatedAt: at},
		},
		GeneratedAt: at,
	})
	require.NoError(t, err)

	mr, parts := readParts(t, raw)
	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "jobchat: 3 unread notifications", subject)

	to, err := mr.Header.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 1)
	assert.Equal(t, "emp@example.com", to[0].Address)

	plain := parts["text/plain"]
	assert.Contains(t, plain, "MESSAGES")
	assert.Contains(t, plain, `New message from wrk: "<hello>" (job j1: Fence)`)
	assert.Less(t, strings.Index(plain, "MESSAGES"), strings.Index(plain, "OFFERS"))
	assert.Less(t, strings.Index(plain, "OFFERS"), strings.Index(plain, "SYSTEM"))

	htmlPart := parts["text/html"]
	assert.Contains(t, htmlPart, "&lt;hello&gt;")
	assert.NotContains(t, htmlPart, "<hello>")
}

func TestComposeRejectsBadAddress(t *testing.T) {
	_, err := Compose(Digest{From: "not an address", To: "a@example.com"})
	assert.Error(t, err)
}

type captureDeliverer struct {
	raw [][]byte
	err error
}

func (c *captureDeliverer) Deliver(_ context.Context, raw []byte) error {
	if c.err != nil {
		return c.err
	}
	c.raw = append(c.raw, raw)
	return nil
}

func TestBuilderRun(t *testing.T) {
	s := testutil.NewTestStore(t)
	d := notify.NewDispatcher(s, nil, nil)
	ctx := context.Background()
	out := &captureDeliverer{}
	b := NewBuilder(d, out, "noreply@example.com")

	_, err := b.Run(ctx, "emp", "emp@example.com")
	assert.ErrorIs(t, err, ErrEmpty)
	assert.Empty(t, out.raw)

	_, err = d.Dispatch(ctx, notify.Input{RecipientID: "emp", Type: model.NotificationJobReminder, JobID: "j1",
		Payload: map[string]string{"note": "tomorrow 9am"}})
	require.NoError(t, err)
	read, err := d.Dispatch(ctx, notify.Input{RecipientID: "emp", Type: model.NotificationJobUpdated, JobID: "j1"})
	require.NoError(t, err)
	_, err = d.MarkRead(ctx, read.ID)
	require.NoError(t, err)

	n, err := b.Run(ctx, "emp", "emp@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only unread notifications are included")
	require.Len(t, out.raw, 1)

	_, parts := readParts(t, out.raw[0])
	assert.Contains(t, parts["text/plain"], "Reminder: tomorrow 9am (job j1)")
	assert.NotContains(t, parts["text/plain"], "was updated")

	out.err = errors.New("imap down")
	_, err = b.Run(ctx, "emp", "emp@example.com")
	assert.Error(t, err)
}

func TestSubjectSingular(t *testing.T) {
	d := Digest{Notifications: make([]model.Notification, 1)}
	assert.Equal(t, "jobchat: 1 unread notification", d.Subject())
}

func TestNewIMAPDelivererDefaultsMailbox(t *testing.T) {
	d := NewIMAPDeliverer("imap.example.com", "993", "u", "p", true, "")
	assert.Equal(t, "INBOX", d.mailbox)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Deliver(ctx, []byte("x")), context.Canceled)
}
