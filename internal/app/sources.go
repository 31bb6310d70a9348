package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nhle/inboxpilot/internal/credential"
	"github.com/nhle/inboxpilot/internal/model"
	"github.com/nhle/inboxpilot/internal/source"
	"github.com/nhle/inboxpilot/internal/source/email"
	"github.com/nhle/inboxpilot/internal/source/gmail"
)

// Mailbox is a mail source that can also deliver replies.
type Mailbox interface {
	source.MailSource
	source.Sender
}

// NewMailbox builds the adapter selected by cfg.Type. IMAP passwords are
// loaded from the environment or the system keyring.
func NewMailbox(
	ctx context.Context,
	cfg model.SourceConfig,
	log *slog.Logger,
) (Mailbox, error) {
	switch cfg.Type {
	case "", string(source.SourceTypeIMAP):
		return newIMAPMailbox(cfg, log)

	case string(source.SourceTypeGmail):
		adapter, err := gmail.NewAdapter(
			ctx,
			cfg.Gmail.CredentialsFile,
			cfg.Gmail.TokenFile,
			cfg.LookbackDays,
			log,
		)
		if err != nil {
			return nil, fmt.Errorf("creating gmail source: %w", err)
		}
		return adapter, nil

	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Type)
	}
}

// newIMAPMailbox builds an IMAP/SMTP adapter from a source configuration,
// loading the password from the system keyring.
func newIMAPMailbox(cfg model.SourceConfig, log *slog.Logger) (Mailbox, error) {
	if cfg.IMAP.Host == "" || cfg.IMAP.Username == "" {
		return nil, fmt.Errorf("source.imap.host and source.imap.username are required")
	}

	password, err := credential.MailPassword(cfg.IMAP.Username)
	if err != nil {
		return nil, &source.AuthError{
			SourceType: source.SourceTypeIMAP,
			Message: fmt.Sprintf(
				"no password for %s; run `inboxpilot credentials set` or set %s",
				cfg.IMAP.Username, credential.MailPasswordEnv,
			),
		}
	}

	imapClient := email.NewIMAPClient(
		cfg.IMAP.Host,
		cfg.IMAP.Port,
		cfg.IMAP.Username,
		password,
		cfg.IMAP.TLS,
		cfg.IMAP.Mailbox,
	)

	smtpHost := cfg.SMTP.Host
	if smtpHost == "" {
		smtpHost = cfg.IMAP.Host
	}

	return email.NewAdapter(imapClient, email.SMTPConfig{
		Host:     smtpHost,
		Port:     cfg.SMTP.Port,
		Username: cfg.IMAP.Username,
		Password: password,
		TLS:      cfg.SMTP.TLS,
	}, cfg.LookbackDays, log), nil
}
