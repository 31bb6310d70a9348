package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/nhle/inboxpilot/internal/source"
)

const (
	user = "me"

	// inboxQuery restricts fetches to received mail.
	inboxQuery = "in:inbox -in:draft"
)

// Adapter implements source.MailSource and source.Sender on top of the
// Gmail API.
type Adapter struct {
	srv          *gmail.Service
	lookbackDays int
	log          *slog.Logger
}

// NewAdapter builds an adapter from an OAuth client secret file and a
// previously saved token. The token is refreshed automatically; obtaining
// the first token is left to the user.
func NewAdapter(
	ctx context.Context,
	credentialsFile, tokenFile string,
	lookbackDays int,
	log *slog.Logger,
) (*Adapter, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	oauthConfig, err := google.ConfigFromJSON(
		b, gmail.GmailReadonlyScope, gmail.GmailSendScope,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file: %w", err)
	}

	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, &source.AuthError{
			SourceType: source.SourceTypeGmail,
			Message:    fmt.Sprintf("reading token %s: %v", tokenFile, err),
		}
	}

	return NewAdapterWithClient(
		ctx, oauthConfig.Client(ctx, tok), lookbackDays, log,
	)
}

// NewAdapterWithClient builds an adapter that issues requests through
// httpClient. Extra client options, such as a custom endpoint, are passed
// through to the Gmail service.
func NewAdapterWithClient(
	ctx context.Context,
	httpClient *http.Client,
	lookbackDays int,
	log *slog.Logger,
	opts ...option.ClientOption,
) (*Adapter, error) {
	if log == nil {
		log = slog.Default()
	}
	if lookbackDays <= 0 {
		lookbackDays = 7
	}

	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	srv, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}

	return &Adapter{
		srv:          srv,
		lookbackDays: lookbackDays,
		log:          log.With("component", "gmail"),
	}, nil
}

// tokenFromFile loads a saved OAuth token.
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// Type returns the source type identifier for Gmail.
func (a *Adapter) Type() source.SourceType {
	return source.SourceTypeGmail
}

// ValidateConnection fetches the account profile and returns its address.
func (a *Adapter) ValidateConnection(ctx context.Context) (string, error) {
	profile, err := a.srv.Users.GetProfile(user).Context(ctx).Do()
	if err != nil {
		return "", classify(err, "fetching profile")
	}
	return profile.EmailAddress, nil
}

// cursor is the decoded form of a Gmail source.Cursor. Gmail lists newest
// first, so a window "after:After" is paged with PageToken and only once
// the last page is consumed does the window move forward to MaxSeen.
type cursor struct {
	After     int64
	PageToken string
	MaxSeen   int64
}

func (c cursor) encode() source.Cursor {
	return source.Cursor(fmt.Sprintf("%d|%s|%d", c.After, c.PageToken, c.MaxSeen))
}

func decodeCursor(s source.Cursor) (cursor, error) {
	if s == "" {
		return cursor{}, nil
	}

	parts := strings.Split(string(s), "|")
	if len(parts) != 3 {
		return cursor{}, fmt.Errorf("invalid gmail cursor %q", s)
	}

	after, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return cursor{}, fmt.Errorf("invalid gmail cursor %q: %w", s, err)
	}
	maxSeen, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return cursor{}, fmt.Errorf("invalid gmail cursor %q: %w", s, err)
	}

	return cursor{After: after, PageToken: parts[1], MaxSeen: maxSeen}, nil
}

// query builds the Gmail search expression for c.
func (a *Adapter) query(c cursor) string {
	if c.After > 0 {
		return fmt.Sprintf("%s after:%d", inboxQuery, c.After)
	}
	return fmt.Sprintf("%s newer_than:%dd", inboxQuery, a.lookbackDays)
}

// FetchSince returns up to limit messages newer than the cursor.
func (a *Adapter) FetchSince(
	ctx context.Context,
	cur source.Cursor,
	limit int,
) (*source.Batch, error) {
	c, err := decodeCursor(cur)
	if err != nil {
		a.log.Warn("Ignoring unreadable cursor", "cursor", cur, "err", err)
		c = cursor{}
	}

	call := a.srv.Users.Messages.List(user).Q(a.query(c)).Context(ctx)
	if limit > 0 {
		call = call.MaxResults(int64(limit))
	}
	if c.PageToken != "" {
		call = call.PageToken(c.PageToken)
	}

	list, err := call.Do()
	if err != nil {
		return nil, classify(err, "listing messages")
	}

	batch := &source.Batch{}
	for _, ref := range list.Messages {
		msg, err := a.srv.Users.Messages.Get(user, ref.Id).
			Format("full").Context(ctx).Do()
		if err != nil {
			return nil, classify(err, "getting message "+ref.Id)
		}

		batch.Messages = append(batch.Messages, toRawMessage(msg))
		if sec := msg.InternalDate / 1000; sec > c.MaxSeen {
			c.MaxSeen = sec
		}
	}

	if list.NextPageToken != "" {
		c.PageToken = list.NextPageToken
		batch.HasMore = true
	} else {
		c.PageToken = ""
		if c.MaxSeen > c.After {
			c.After = c.MaxSeen
		}
	}
	batch.Next = c.encode()

	return batch, nil
}

// Send delivers the reply inside the original Gmail thread.
func (a *Adapter) Send(ctx context.Context, reply source.Reply) error {
	orig, err := a.srv.Users.Messages.Get(user, reply.MessageID).
		Format("metadata").MetadataHeaders("Message-ID").
		Context(ctx).Do()
	if err != nil {
		return classify(err, "looking up "+reply.MessageID)
	}

	profile, err := a.srv.Users.GetProfile(user).Context(ctx).Do()
	if err != nil {
		return classify(err, "fetching profile")
	}

	// Threading headers need the RFC 5322 id, not the Gmail id.
	rfcReply := reply
	rfcReply.MessageID = header(orig.Payload, "Message-ID")

	raw, err := source.ComposeReply(profile.EmailAddress, rfcReply, time.Now())
	if err != nil {
		return fmt.Errorf("composing reply to %s: %w", reply.MessageID, err)
	}

	_, err = a.srv.Users.Messages.Send(user, &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: reply.ThreadID,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sending reply to %s: %w", reply.MessageID, err)
	}

	return nil
}

// classify maps Gmail API failures onto source errors.
func classify(err error, what string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) &&
		(apiErr.Code == http.StatusUnauthorized ||
			apiErr.Code == http.StatusForbidden) {

		return &source.AuthError{
			SourceType: source.SourceTypeGmail,
			Message:    fmt.Sprintf("%s: %s", what, apiErr.Message),
		}
	}

	return fmt.Errorf("%w: %s: %w", source.ErrSourceUnavailable, what, err)
}

// toRawMessage maps a full-format Gmail message onto the adapter-neutral
// payload.
func toRawMessage(msg *gmail.Message) source.RawMessage {
	raw := source.RawMessage{
		ID:         msg.Id,
		ThreadID:   msg.ThreadId,
		ReceivedAt: time.UnixMilli(msg.InternalDate).UTC(),
	}
	if msg.Payload == nil {
		return raw
	}

	raw.Subject = header(msg.Payload, "Subject")
	if from := header(msg.Payload, "From"); from != "" {
		if addr, err := mail.ParseAddress(from); err == nil {
			raw.SenderAddress = addr.Address
			raw.SenderName = addr.Name
		} else {
			raw.SenderAddress = from
		}
	}

	raw.BodyPlain = findBody(msg.Payload, "text/plain")
	raw.BodyHTML = findBody(msg.Payload, "text/html")

	return raw
}

// header returns the first value of the named header.
func header(part *gmail.MessagePart, name string) string {
	if part == nil {
		return ""
	}
	for _, h := range part.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// findBody walks the MIME tree depth first and returns the first decoded
// part of the given type.
func findBody(part *gmail.MessagePart, mimeType string) string {
	if strings.EqualFold(part.MimeType, mimeType) &&
		part.Body != nil && part.Body.Data != "" {

		if data, err := decodeData(part.Body.Data); err == nil {
			return string(data)
		}
	}

	for _, child := range part.Parts {
		if body := findBody(child, mimeType); body != "" {
			return body
		}
	}

	return ""
}

// decodeData decodes Gmail's base64url body data, which may or may not be
// padded.
func decodeData(s string) ([]byte, error) {
	if data, err := base64.URLEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}
