package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/inboxpilot/internal/source"
)

// dialTimeout bounds the SMTP connection setup.
const dialTimeout = 30 * time.Second

// Adapter implements source.MailSource and source.Sender for IMAP/SMTP.
type Adapter struct {
	imapClient   *IMAPClient
	smtpConfig   SMTPConfig
	username     string
	lookbackDays int
	log          *slog.Logger
}

// NewAdapter creates a new email source adapter.
func NewAdapter(
	imapClient *IMAPClient,
	smtpConfig SMTPConfig,
	lookbackDays int,
	log *slog.Logger,
) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	if lookbackDays <= 0 {
		lookbackDays = 7
	}

	return &Adapter{
		imapClient:   imapClient,
		smtpConfig:   smtpConfig,
		username:     imapClient.username,
		lookbackDays: lookbackDays,
		log:          log.With("component", "imap"),
	}
}

// Type returns the source type identifier for IMAP.
func (a *Adapter) Type() source.SourceType {
	return source.SourceTypeIMAP
}

// ValidateConnection verifies IMAP credentials by connecting,
// authenticating, and selecting the mailbox. Returns the username on
// success.
func (a *Adapter) ValidateConnection(
	ctx context.Context,
) (string, error) {
	client, stop, err := a.imapClient.Connect(ctx)
	if err != nil {
		return "", fmt.Errorf("validating email connection: %w", err)
	}
	defer stop()
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(a.imapClient.mailbox, nil).Wait(); err != nil {
		return "", fmt.Errorf("selecting %s: %w", a.imapClient.mailbox, err)
	}

	return a.username, nil
}

// FetchSince returns up to limit messages newer than cursor.
func (a *Adapter) FetchSince(
	ctx context.Context,
	cursor source.Cursor,
	limit int,
) (*source.Batch, error) {
	validity, lastUID, err := parseCursor(cursor)
	if err != nil {
		a.log.Warn("Ignoring unreadable cursor", "cursor", cursor, "err", err)
	}

	since := time.Now().AddDate(0, 0, -a.lookbackDays)
	page, err := a.imapClient.FetchSince(ctx, validity, lastUID, since, limit)
	if err != nil {
		return nil, err
	}

	batch := &source.Batch{
		Next:    formatCursor(page.UIDValidity, page.LastUID),
		HasMore: page.HasMore,
	}
	for _, msg := range page.Messages {
		batch.Messages = append(batch.Messages, toRawMessage(page.UIDValidity, msg))
	}

	return batch, nil
}

// Send composes the reply and delivers it over SMTP, then flags the
// original message as answered. A failure to set the flag is logged and
// not reported, since the reply has already gone out.
func (a *Adapter) Send(ctx context.Context, reply source.Reply) error {
	raw, err := source.ComposeReply(a.smtpConfig.Username, reply, time.Now())
	if err != nil {
		return fmt.Errorf("composing reply to %s: %w", reply.MessageID, err)
	}

	if err := sendSMTP(ctx, a.smtpConfig, reply.To, raw); err != nil {
		return err
	}

	if strings.Contains(reply.MessageID, "@") {
		if err := a.imapClient.MarkAnswered(ctx, reply.MessageID); err != nil {
			a.log.Warn("Unable to flag message as answered",
				"message_id", reply.MessageID, "err", err)
		}
	}

	return nil
}

// toRawMessage maps a parsed IMAP message onto the adapter-neutral payload.
func toRawMessage(validity uint32, msg ParsedMessage) source.RawMessage {
	id := strings.Trim(msg.Envelope.MessageID, "<> ")
	if id == "" {
		id = fmt.Sprintf("uid-%d-%d", validity, msg.Envelope.UID)
	}

	threadID := id
	if len(msg.References) > 0 {
		threadID = msg.References[0]
	}

	return source.RawMessage{
		ID:            id,
		ThreadID:      threadID,
		SenderAddress: msg.Envelope.FromAddr,
		SenderName:    msg.Envelope.FromName,
		Subject:       msg.Envelope.Subject,
		BodyPlain:     msg.TextBody,
		BodyHTML:      msg.HTMLBody,
		ReceivedAt:    msg.Envelope.Date,
	}
}

// formatCursor encodes the mailbox position as "<uidvalidity>:<uid>".
func formatCursor(validity, uid uint32) source.Cursor {
	return source.Cursor(fmt.Sprintf("%d:%d", validity, uid))
}

// parseCursor decodes a cursor produced by formatCursor. The empty cursor
// decodes to zero values.
func parseCursor(cursor source.Cursor) (validity, uid uint32, err error) {
	if cursor == "" {
		return 0, 0, nil
	}

	v, u, ok := strings.Cut(string(cursor), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid imap cursor %q", cursor)
	}

	validity64, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid uidvalidity in %q: %w", cursor, err)
	}
	uid64, err := strconv.ParseUint(u, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid uid in %q: %w", cursor, err)
	}

	return uint32(validity64), uint32(uid64), nil
}

// sendSMTP delivers raw to the recipient over implicit TLS or STARTTLS.
func sendSMTP(ctx context.Context, cfg SMTPConfig, to string, raw []byte) error {
	addr := net.JoinHostPort(cfg.Host, cfg.Port)
	tlsConfig := &tls.Config{ServerName: cfg.Host}

	var conn net.Conn
	var err error
	if cfg.TLS {
		dialer := &tls.Dialer{
			NetDialer: &net.Dialer{Timeout: dialTimeout},
			Config:    tlsConfig,
		}
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		dialer := &net.Dialer{Timeout: dialTimeout}
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial to %s: %w", addr, err)
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	if !cfg.TLS {
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("SMTP STARTTLS: %w", err)
		}
	}

	auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP auth: %w", err)
	}

	return sendMailViaSMTPClient(client, cfg.Username, to, raw)
}

// sendMailViaSMTPClient sends a message using an already-authenticated
// SMTP client.
func sendMailViaSMTPClient(
	client *smtp.Client, from, to string, body []byte,
) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("SMTP MAIL FROM: %w", err)
	}

	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("SMTP RCPT TO: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA: %w", err)
	}

	if _, err := writer.Write(body); err != nil {
		return fmt.Errorf("writing email body: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing email body: %w", err)
	}

	return client.Quit()
}
