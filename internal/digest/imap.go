package digest

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// IMAPDeliverer appends digests to a mailbox over IMAP.
type IMAPDeliverer struct {
	host     string
	port     string
	username string
	password string
	tls      bool
	mailbox  string
}

// NewIMAPDeliverer creates a deliverer for the given account. An empty
// mailbox means INBOX.
func NewIMAPDeliverer(host, port, username, password string, tls bool, mailbox string) *IMAPDeliverer {
	if mailbox == "" {
		mailbox = "INBOX"
	}
	return &IMAPDeliverer{
		host:     host,
		port:     port,
		username: username,
		password: password,
		tls:      tls,
		mailbox:  mailbox,
	}
}

// connect dials and authenticates. The caller must log out.
func (d *IMAPDeliverer) connect() (*imapclient.Client, error) {
	addr := d.host + ":" + d.port

	var client *imapclient.Client
	var err error

	if d.tls {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(d.username, d.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("authentication failed for %s: %w", d.username, err)
	}

	return client, nil
}

// Deliver appends raw to the configured mailbox, unflagged so it shows
// as new.
func (d *IMAPDeliverer) Deliver(ctx context.Context, raw []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	client, err := d.connect()
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	cmd := client.Append(d.mailbox, int64(len(raw)), &imap.AppendOptions{
		Time: time.Now(),
	})
	if _, err := cmd.Write(raw); err != nil {
		_ = cmd.Close()
		return fmt.Errorf("writing digest to %s: %w", d.mailbox, err)
	}
	if err := cmd.Close(); err != nil {
		return fmt.Errorf("closing append to %s: %w", d.mailbox, err)
	}
	if _, err := cmd.Wait(); err != nil {
		return fmt.Errorf("appending digest to %s: %w", d.mailbox, err)
	}
	return nil
}
