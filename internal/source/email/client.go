package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/inboxpilot/internal/source"
)

// IMAPClient wraps go-imap v2 for connecting to and querying IMAP servers.
type IMAPClient struct {
	host     string
	port     string
	username string
	password string
	tls      bool
	mailbox  string
}

// NewIMAPClient creates a new IMAP client configuration.
func NewIMAPClient(
	host, port, username, password string, tls bool, mailbox string,
) *IMAPClient {
	if mailbox == "" {
		mailbox = "INBOX"
	}

	return &IMAPClient{
		host:     host,
		port:     port,
		username: username,
		password: password,
		tls:      tls,
		mailbox:  mailbox,
	}
}

// Connect establishes a connection to the IMAP server, authenticates,
// and returns the connected client. The connection is closed when ctx is
// done. The caller is responsible for calling Logout on the returned
// client and for calling the returned stop function.
func (c *IMAPClient) Connect(
	ctx context.Context,
) (*imapclient.Client, func() bool, error) {
	addr := c.host + ":" + c.port

	var client *imapclient.Client
	var err error

	if c.tls {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, nil, fmt.Errorf(
			"%w: connecting to IMAP %s: %w",
			source.ErrSourceUnavailable, addr, err,
		)
	}

	stop := context.AfterFunc(ctx, func() { _ = client.Close() })

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		stop()
		_ = client.Logout().Wait()
		return nil, nil, &source.AuthError{
			SourceType: source.SourceTypeIMAP,
			Message: fmt.Sprintf(
				"authentication failed for %s: %v",
				c.username, err,
			),
		}
	}

	return client, stop, nil
}

// FetchSince selects the mailbox and returns up to limit messages with a
// UID above lastUID, oldest first. When validity no longer matches the
// mailbox's UIDVALIDITY, or lastUID is zero, the search falls back to
// messages received after since.
func (c *IMAPClient) FetchSince(
	ctx context.Context,
	validity, lastUID uint32,
	since time.Time,
	limit int,
) (*FetchedPage, error) {
	client, stop, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer stop()
	defer func() { _ = client.Logout().Wait() }()

	selected, err := client.Select(c.mailbox, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf(
			"%w: selecting %s: %w",
			source.ErrSourceUnavailable, c.mailbox, err,
		)
	}

	page := &FetchedPage{
		UIDValidity: selected.UIDValidity,
		LastUID:     lastUID,
	}

	criteria := &imap.SearchCriteria{}
	if validity != selected.UIDValidity || lastUID == 0 {
		lastUID = 0
		page.LastUID = 0
		criteria.Since = since
	} else {
		criteria.UID = []imap.UIDSet{{
			imap.UIDRange{Start: imap.UID(lastUID + 1), Stop: 0},
		}}
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf(
			"%w: searching messages: %w", source.ErrSourceUnavailable, err,
		)
	}

	// "N:*" always matches the highest UID, even when it is below N.
	var uids []imap.UID
	for _, uid := range searchData.AllUIDs() {
		if uint32(uid) > lastUID {
			uids = append(uids, uid)
		}
	}
	if len(uids) == 0 {
		return page, nil
	}
	slices.Sort(uids)

	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
		page.HasMore = true
	}

	bodySection := &imap.FetchItemBodySection{
		Peek: true,
	}

	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		Flags:       true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), fetchOpts)
	defer fetchCmd.Close()

	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			continue
		}

		parsed := ParsedMessage{
			Envelope: envelopeFromBuffer(buf),
		}
		if raw := buf.FindBodySection(bodySection); raw != nil {
			parsed.TextBody, parsed.HTMLBody, parsed.References =
				parseMIMEBody(raw)
		}

		page.Messages = append(page.Messages, parsed)
		if parsed.Envelope.UID > page.LastUID {
			page.LastUID = parsed.Envelope.UID
		}
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf(
			"%w: fetching messages: %w", source.ErrSourceUnavailable, err,
		)
	}

	return page, nil
}

// MarkAnswered sets the \Answered flag on the message with the given
// Message-ID header.
func (c *IMAPClient) MarkAnswered(ctx context.Context, messageID string) error {
	client, stop, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	defer stop()
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(c.mailbox, nil).Wait(); err != nil {
		return fmt.Errorf("selecting %s: %w", c.mailbox, err)
	}

	searchData, err := client.UIDSearch(&imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{{
			Key:   "Message-ID",
			Value: messageID,
		}},
	}, nil).Wait()
	if err != nil {
		return fmt.Errorf("searching for %s: %w", messageID, err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil
	}

	storeCmd := client.Store(imap.UIDSetNum(uids...), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagAnswered},
	}, nil)

	return storeCmd.Close()
}

// envelopeFromBuffer extracts an Envelope from a FetchMessageBuffer.
func envelopeFromBuffer(buf *imapclient.FetchMessageBuffer) Envelope {
	env := Envelope{
		UID: uint32(buf.UID),
	}

	if buf.Envelope != nil {
		env.MessageID = buf.Envelope.MessageID
		env.Subject = buf.Envelope.Subject
		env.Date = buf.Envelope.Date

		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			env.FromName = from.Name
			env.FromAddr = from.Addr()
		}
	}

	for _, flag := range buf.Flags {
		env.Flags = append(env.Flags, string(flag))
	}

	return env
}

// parseMIMEBody parses a raw RFC 5322 message using go-message and
// extracts the text/plain body, the text/html body and the thread
// reference chain.
func parseMIMEBody(raw []byte) (
	textBody string, htmlBody string, refs []string,
) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// If parsing fails, try treating the whole thing as plain text
		return string(raw), "", nil
	}
	defer mr.Close()

	refs, _ = mr.Header.MsgIDList("References")
	if inReplyTo, _ := mr.Header.MsgIDList("In-Reply-To"); len(inReplyTo) > 0 {
		refs = append(refs, inReplyTo...)
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, _ := h.ContentType()
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain") && textBody == "":
			textBody = string(body)
		case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
			htmlBody = string(body)
		}
	}

	return textBody, htmlBody, refs
}
