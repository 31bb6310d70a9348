package model

import "errors"

var (
	// ErrNotFound is returned when a message id is unknown.
	ErrNotFound = errors.New("message not found")

	// ErrAlreadyReplied is returned when a draft operation targets a
	// message whose reply has already been sent.
	ErrAlreadyReplied = errors.New("message already replied")

	// ErrNotRelevant is returned when a draft operation targets a message
	// that was not classified as relevant.
	ErrNotRelevant = errors.New("message is not relevant")

	// ErrEmptyReply is returned when a reply with no content is sent.
	ErrEmptyReply = errors.New("reply content is empty")
)

// IsClientError reports whether err is caused by caller misuse rather than
// a system fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyReplied) ||
		errors.Is(err, ErrNotRelevant) ||
		errors.Is(err, ErrEmptyReply)
}
