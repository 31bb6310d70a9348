package email

import "time"

// Envelope holds the parsed envelope data from an IMAP message.
type Envelope struct {
	MessageID string
	Subject   string
	FromName  string
	FromAddr  string
	Date      time.Time
	Flags     []string // \Seen, \Flagged, \Answered, \Deleted
	UID       uint32
}

// ParsedMessage holds the full parsed content of an email message.
type ParsedMessage struct {
	Envelope Envelope
	TextBody string
	HTMLBody string

	// References is the References header followed by In-Reply-To, used
	// to derive the thread root.
	References []string
}

// FetchedPage is a page of parsed messages along with the mailbox state
// needed to build the next cursor.
type FetchedPage struct {
	UIDValidity uint32
	Messages    []ParsedMessage
	LastUID     uint32
	HasMore     bool
}

// SMTPConfig holds the SMTP server settings for sending replies.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	TLS      bool
}
