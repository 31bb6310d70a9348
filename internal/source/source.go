package source

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable is returned when the mail provider cannot be
	// reached. A sync run that sees it is aborted as a whole.
	ErrSourceUnavailable = errors.New("mail source unavailable")

	// ErrMalformedPayload is returned when a fetched payload cannot be
	// turned into a valid message.
	ErrMalformedPayload = errors.New("malformed message payload")
)

// AuthError indicates that authentication has failed or expired for a source.
type AuthError struct {
	SourceType SourceType
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.SourceType, e.Message)
}

// Is lets errors.Is(err, ErrSourceUnavailable) match auth failures, which
// abort a sync run the same way.
func (e *AuthError) Is(target error) bool {
	return target == ErrSourceUnavailable
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// SourceType identifies the kind of mail provider.
type SourceType string

const (
	SourceTypeIMAP  SourceType = "imap"
	SourceTypeGmail SourceType = "gmail"
)

// Cursor is an opaque, adapter-defined position in the mailbox. The empty
// cursor means "from the beginning of the lookback window".
type Cursor string

// Batch is one page of fetched payloads.
type Batch struct {
	// Messages are in provider order, which is not guaranteed to be
	// chronological.
	Messages []RawMessage

	// Next is the cursor to pass to the following FetchSince call.
	Next Cursor

	// HasMore reports whether another page is immediately available.
	HasMore bool
}

// MailSource fetches messages from a provider.
type MailSource interface {
	// Type returns the source type identifier.
	Type() SourceType

	// ValidateConnection verifies credentials and connectivity and
	// returns the authenticated account name.
	ValidateConnection(ctx context.Context) (string, error)

	// FetchSince returns the page of messages newer than cursor.
	FetchSince(ctx context.Context, cursor Cursor, limit int) (*Batch, error)
}

// Reply is an outgoing answer to a stored message.
type Reply struct {
	// MessageID is the id of the message being answered.
	MessageID string
	ThreadID  string
	To        string
	ToName    string
	Subject   string
	Content   string
}

// Sender delivers replies.
type Sender interface {
	Send(ctx context.Context, reply Reply) error
}
