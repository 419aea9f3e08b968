// Package digest renders a user's unread notifications as an e-mail and
// delivers it to an IMAP mailbox.
package digest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/nhle/jobchat/internal/model"
)

// ErrEmpty is returned by Builder.Run when there is nothing to send.
var ErrEmpty = errors.New("digest: no unread notifications")

// Digest is the content of one digest mail.
type Digest struct {
	From          string
	To            string
	UserID        string
	Notifications []model.Notification
	GeneratedAt   time.Time
}

// Subject summarises the digest in one line.
func (d Digest) Subject() string {
	if len(d.Notifications) == 1 {
		return "jobchat: 1 unread notification"
	}
	return fmt.Sprintf("jobchat: %d unread notifications", len(d.Notifications))
}

// Compose renders d as an RFC 5322 message with plain-text and HTML parts.
func Compose(d Digest) ([]byte, error) {
	from, err := mail.ParseAddress(d.From)
	if err != nil {
		return nil, fmt.Errorf("parsing from address %q: %w", d.From, err)
	}
	to, err := mail.ParseAddress(d.To)
	if err != nil {
		return nil, fmt.Errorf("parsing to address %q: %w", d.To, err)
	}

	var h mail.Header
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", []*mail.Address{to})
	h.SetSubject(d.Subject())
	h.SetDate(d.GeneratedAt)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generating message id: %w", err)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating mail writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("creating inline part: %w", err)
	}
	if err := writePart(tw, "text/plain", plainBody(d)); err != nil {
		return nil, err
	}
	if err := writePart(tw, "text/html", htmlBody(d)); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing inline part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing mail writer: %w", err)
	}
	return buf.Bytes(), nil
}

func writePart(tw *mail.InlineWriter, contentType, body string) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := tw.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("creating %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("writing %s part: %w", contentType, err)
	}
	return w.Close()
}

// grouped returns the notifications bucketed by category in a stable order.
func grouped(ns []model.Notification) ([]model.Category, map[model.Category][]model.Notification) {
	groups := make(map[model.Category][]model.Notification)
	for _, n := range ns {
		groups[n.Category] = append(groups[n.Category], n)
	}
	order := []model.Category{
		model.CategoryMessages, model.CategoryOffers, model.CategoryJobs, model.CategorySystem,
	}
	var cats []model.Category
	for _, c := range order {
		if len(groups[c]) > 0 {
			cats = append(cats, c)
		}
	}
	// Unknown categories go last, alphabetically.
	var extra []model.Category
	for c := range groups {
		if !model.ValidCategory(c) {
			extra = append(extra, c)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(cats, extra...), groups
}

// Line renders one notification as a single human-readable line.
func Line(n model.Notification) string {
	var b strings.Builder
	switch n.Type {
	case model.NotificationNewMessage:
		fmt.Fprintf(&b, "New message from %s", fallback(n.Payload["sender_id"], "someone"))
		if p := n.Payload["preview"]; p != "" {
			fmt.Fprintf(&b, ": %q", p)
		}
	case model.NotificationNewOffer:
		b.WriteString("New offer received")
	case model.NotificationOfferAccepted:
		b.WriteString("Your offer was accepted")
	case model.NotificationOfferRejected:
		b.WriteString("Your offer was declined")
	case model.NotificationJobReminder:
		b.WriteString("Reminder")
		if note := n.Payload["note"]; note != "" {
			b.WriteString(": " + note)
		}
	case model.NotificationJobUpdated:
		b.WriteString("A job you follow was updated")
	case model.NotificationInvitation:
		b.WriteString("You were invited to a job")
	default:
		b.WriteString(string(n.Type))
	}
	if n.JobID != "" {
		title := n.Payload["job_title"]
		if title != "" {
			fmt.Fprintf(&b, " (job %s: %s)", n.JobID, title)
		} else {
			fmt.Fprintf(&b, " (job %s)", n.JobID)
		}
	}
	return b.String()
}

func plainBody(d Digest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You have %d unread notifications.\n", len(d.Notifications))
	cats, groups := grouped(d.Notifications)
	for _, c := range cats {
		fmt.Fprintf(&b, "\n%s\n", strings.ToUpper(string(c)))
		for _, n := range groups[c] {
			fmt.Fprintf(&b, "  - %s  [%s]\n", Line(n), n.CreatedAt.Format(time.RFC822))
		}
	}
	return b.String()
}

func htmlBody(d Digest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p>You have %d unread notifications.</p>\n", len(d.Notifications))
	cats, groups := grouped(d.Notifications)
	for _, c := range cats {
		fmt.Fprintf(&b, "<h3>%s</h3>\n<ul>\n", html.EscapeString(string(c)))
		for _, n := range groups[c] {
			fmt.Fprintf(&b, "<li>%s <small>%s</small></li>\n",
				html.EscapeString(Line(n)), n.CreatedAt.Format(time.RFC822))
		}
		b.WriteString("</ul>\n")
	}
	return b.String()
}

func fallback(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Source lists a user's unread notifications.
type Source interface {
	ListUnread(ctx context.Context, userID string, limit int) ([]model.Notification, error)
}

// Deliverer stores or sends a composed message.
type Deliverer interface {
	Deliver(ctx context.Context, raw []byte) error
}

// Builder assembles and delivers digests.
type Builder struct {
	source    Source
	deliverer Deliverer
	from      string
	limit     int
	now       func() time.Time
}

// NewBuilder creates a Builder that sends from the given address.
func NewBuilder(src Source, d Deliverer, from string) *Builder {
	return &Builder{source: src, deliverer: d, from: from, limit: 100, now: time.Now}
}

// Run composes the digest for userID addressed to `to` and delivers it.
// It returns the number of notifications included, or ErrEmpty.
func (b *Builder) Run(ctx context.Context, userID, to string) (int, error) {
	ns, err := b.source.ListUnread(ctx, userID, b.limit)
	if err != nil {
		return 0, fmt.Errorf("listing unread notifications for %s: %w", userID, err)
	}
	if len(ns) == 0 {
		return 0, ErrEmpty
	}

	raw, err := Compose(Digest{
		From:          b.from,
		To:            to,
		UserID:        userID,
		Notifications: ns,
		GeneratedAt:   b.now(),
	})
	if err != nil {
		return 0, err
	}
	if err := b.deliverer.Deliver(ctx, raw); err != nil {
		return 0, err
	}
	return len(ns), nil
}
